package gqlerrors

import "github.com/vektah/gqlparser/v2/gqlerror"

// FormatFunc is a user-supplied transformation run last over each
// formatted error. Returning nil keeps the default formatting.
type FormatFunc func(err *gqlerror.Error) *gqlerror.Error

// FormatOptions controls wire-level error formatting.
type FormatOptions struct {
	// Debug keeps internal diagnostic detail (the underlying error
	// chain) in the formatted output. Off by default.
	Debug bool

	// Formatter, when set, runs after default formatting.
	Formatter FormatFunc
}

// Format produces the wire representation of errs. Every formatted
// error carries a classification code; unclassified errors default to
// INTERNAL_SERVER_ERROR. Internal diagnostic detail is stripped unless
// debug is enabled.
func Format(errs gqlerror.List, opts FormatOptions) gqlerror.List {
	out := make(gqlerror.List, 0, len(errs))
	for _, e := range errs {
		out = append(out, formatOne(e, opts))
	}
	return out
}

func formatOne(e *gqlerror.Error, opts FormatOptions) *gqlerror.Error {
	f := &gqlerror.Error{
		Message:   e.Message,
		Path:      e.Path,
		Locations: e.Locations,
	}
	f.Extensions = make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		f.Extensions[k] = v
	}
	if CodeOf(f) == "" {
		f.Extensions["code"] = string(CodeInternal)
	}
	if opts.Debug {
		if e.Err != nil && e.Err.Error() != e.Message {
			f.Extensions["originalError"] = e.Err.Error()
		}
	} else {
		delete(f.Extensions, "originalError")
		delete(f.Extensions, "exception")
	}
	if opts.Formatter != nil {
		if r := opts.Formatter(f); r != nil {
			f = r
		}
	}
	return f
}
