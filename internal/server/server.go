// Package server is the HTTP transport for the request pipeline. It
// parses GET/POST GraphQL requests (including the persistedQuery
// extension), hands them to the pipeline, and writes the HTTP-shaped
// response the pipeline produced.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/kevin-foreman/apollo-server/internal/eventbus"
	events "github.com/kevin-foreman/apollo-server/internal/events"
	gqlerrors "github.com/kevin-foreman/apollo-server/internal/gqlerrors"
	pipeline "github.com/kevin-foreman/apollo-server/internal/pipeline"
	reqid "github.com/kevin-foreman/apollo-server/internal/reqid"
)

// Handler is an http.Handler serving a GraphQL endpoint backed by the
// request pipeline.
type Handler struct {
	pipe *pipeline.Pipeline
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context
	// has none. 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means
	// unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler driving the given pipeline.
func New(pipe *pipeline.Pipeline, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{pipe: pipe, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, status, errorBody(gqlerrors.CodeMethodNotAllowed, "method not allowed"), h.opt.Pretty)
		return
	}

	req, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status = http.StatusBadRequest
		if perr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody(gqlerrors.CodeBadRequest, perr.Message), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	res := h.pipe.Handle(ctx, req)
	status = res.StatusCode
	for key, values := range res.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	writeJSON(w, status, res.Body(), h.opt.Pretty)
}

// ------------------ Request parsing ------------------

type transportError struct {
	Message string
}

type rawRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (*pipeline.Request, *transportError) {
	httpInfo := &pipeline.HTTPRequestInfo{Method: r.Method, Headers: r.Header}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := &pipeline.Request{
			Query:         q.Get("query"),
			OperationName: q.Get("operationName"),
			HTTP:          httpInfo,
		}
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return nil, &transportError{Message: "invalid 'variables' JSON"}
			}
		}
		if e := q.Get("extensions"); e != "" {
			if err := json.Unmarshal([]byte(e), &req.Extensions); err != nil {
				return nil, &transportError{Message: "invalid 'extensions' JSON"}
			}
		}
		return req, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, &transportError{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &transportError{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &transportError{Message: errBodyTooLargeMessage}
	}

	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &transportError{Message: "invalid JSON"}
	}
	return &pipeline.Request{
		Query:         raw.Query,
		OperationName: raw.OperationName,
		Variables:     raw.Variables,
		Extensions:    raw.Extensions,
		HTTP:          httpInfo,
	}, nil
}

// ------------------ Response writing ------------------

func errorBody(code gqlerrors.Code, message string) map[string]any {
	return map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]any{"code": string(code)},
		}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowed = true
			wildcard = true
		} else if o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
