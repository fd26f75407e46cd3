package pipeline

import (
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Request is the transport-level GraphQL request handed to the
// pipeline. The transport fills it and never touches it again.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Extensions    map[string]any

	// HTTP carries transport details when the request arrived over
	// HTTP; nil for other transports. The pipeline uses the method to
	// reject state-changing operations on read-only methods.
	HTTP *HTTPRequestInfo
}

// HTTPRequestInfo is the slice of the HTTP request the pipeline needs.
type HTTPRequestInfo struct {
	Method  string
	Headers http.Header
}

// Metrics collects per-request flags consumed by telemetry plugins.
type Metrics struct {
	PersistedQueryHit      bool
	PersistedQueryRegister bool
}

// RequestContext is the single mutable object threaded through every
// phase of one request. The pipeline owns it; plugins share read/write
// access for the request's lifetime.
//
// Field write permissions by phase:
//   - QueryHash, Source: identity resolution only.
//   - Document: parse phase (or document cache); never replaced once set.
//   - Operation, OperationName: operation resolution only.
//   - Errors: appended wherever failures surface.
//   - ContextValue: free for plugins at any point.
//   - Response: set once at response assembly; after WillSendResponse
//     has fired the core performs no further mutation.
type RequestContext struct {
	Request *Request

	// QueryHash is the hex sha256 digest of Source.
	QueryHash string

	// Source is the canonical query text, from the request or the
	// persisted-query store.
	Source string

	// Document is the parsed, validated form of Source.
	Document *ast.QueryDocument

	// Operation is the executable unit selected from Document.
	Operation *ast.OperationDefinition

	// OperationName is the resolved operation's name ("" if anonymous).
	OperationName string

	// Errors collects every error attached to this request.
	Errors gqlerror.List

	// Metrics carries persisted-query bookkeeping flags.
	Metrics Metrics

	// ContextValue is an opaque user value passed to the executor.
	ContextValue any

	// Response is the final response, available from the
	// WillSendResponse hook onward.
	Response *Response
}

// Response is the HTTP-shaped outcome of a request.
type Response struct {
	// StatusCode defaults to 200 when left zero.
	StatusCode int
	Headers    http.Header

	Data       any
	Errors     gqlerror.List
	Extensions map[string]any

	// IncludeData forces the data key into the serialized body even
	// when Data is nil: execution ran and legitimately produced null.
	// Pre-execution failures leave it false so the body omits data.
	IncludeData bool
}

// Body assembles the wire-level {data?, errors?, extensions?} object.
func (r *Response) Body() map[string]any {
	body := map[string]any{}
	if r.Data != nil || r.IncludeData {
		body["data"] = r.Data
	}
	if len(r.Errors) > 0 {
		body["errors"] = r.Errors
	}
	if len(r.Extensions) > 0 {
		body["extensions"] = r.Extensions
	}
	return body
}

// header returns the response header map, allocating on first use.
func (r *Response) header() http.Header {
	if r.Headers == nil {
		r.Headers = http.Header{}
	}
	return r.Headers
}
