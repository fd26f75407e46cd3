// Package gqlerrors defines the typed error taxonomy for the request
// pipeline and the wire-level formatting of GraphQL errors.
//
// Every failure surfaced anywhere in the pipeline is classified with a
// machine-readable code carried in the error's extensions, then
// uniformly wrapped into a list before formatting so clients and
// listeners always see a consistent shape.
package gqlerrors

import (
	"errors"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Code identifies a class of request failure. It is exposed to clients
// as the "code" entry of the error's extensions map.
type Code string

const (
	CodeBadRequest                 Code = "BAD_REQUEST"
	CodePersistedQueryNotFound     Code = "PERSISTED_QUERY_NOT_FOUND"
	CodePersistedQueryNotSupported Code = "PERSISTED_QUERY_NOT_SUPPORTED"
	CodeProtocolError              Code = "PROTOCOL_ERROR"
	CodeParseFailed                Code = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed           Code = "GRAPHQL_VALIDATION_FAILED"
	CodeMethodNotAllowed           Code = "METHOD_NOT_ALLOWED"
	CodeBadUserInput               Code = "BAD_USER_INPUT"
	CodePluginAborted              Code = "PLUGIN_ABORTED"
	CodeInternal                   Code = "INTERNAL_SERVER_ERROR"
)

// New builds a classified GraphQL error.
func New(code Code, message string) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    message,
		Extensions: map[string]any{"code": string(code)},
	}
}

// CodeOf extracts the classification already attached to err, or ""
// when the error carries none.
func CodeOf(err *gqlerror.Error) Code {
	if err == nil || err.Extensions == nil {
		return ""
	}
	if c, ok := err.Extensions["code"].(string); ok {
		return Code(c)
	}
	return ""
}

// WithCode attaches code to err unless a classification is already
// present. Explicit classification wins.
func WithCode(err *gqlerror.Error, code Code) *gqlerror.Error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	err.Extensions["code"] = string(code)
	return err
}

// AsList normalizes any error into a gqlerror.List. A gqlerror.List
// passes through, a single *gqlerror.Error is wrapped, and anything
// else becomes a one-element list preserving the original via Err.
func AsList(err error) gqlerror.List {
	if err == nil {
		return nil
	}
	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}
	var single *gqlerror.Error
	if errors.As(err, &single) {
		return gqlerror.List{single}
	}
	return gqlerror.List{{Message: err.Error(), Err: err}}
}

// ClassifyList attaches code to every unclassified error in errs.
func ClassifyList(errs gqlerror.List, code Code) gqlerror.List {
	for _, e := range errs {
		WithCode(e, code)
	}
	return errs
}
