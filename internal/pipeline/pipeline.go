// Package pipeline implements the request-lifecycle orchestration
// engine: a cache-aware, plugin-extensible, at-most-once-execution
// state machine driving a GraphQL request from raw text to an
// HTTP-shaped response.
//
// Phases run strictly in sequence: identity resolution, parse/validate
// (skipped on a document cache hit), operation resolution, optional
// plugin short-circuit, execution, response assembly. Plugins hook into
// every phase boundary through the dispatcher in hooks.go and may abort
// the pipeline or supply a terminal response. The terminal
// WillSendResponse hook fires exactly once on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	cache "github.com/kevin-foreman/apollo-server/internal/cache"
	eventbus "github.com/kevin-foreman/apollo-server/internal/eventbus"
	events "github.com/kevin-foreman/apollo-server/internal/events"
	execution "github.com/kevin-foreman/apollo-server/internal/execution"
	gqlerrors "github.com/kevin-foreman/apollo-server/internal/gqlerrors"
	language "github.com/kevin-foreman/apollo-server/internal/language"
)

const (
	phaseParsing    = "parsing"
	phaseValidation = "validation"
	phaseExecution  = "execution"
)

type options struct {
	plugins                   []Plugin
	persistedQueries          cache.KeyValue[string]
	persistedQueryTTL         time.Duration
	persistedQueryErrorStatus int
	documentCache             cache.KeyValue[*ast.QueryDocument]
	defaultFieldResolver      execution.FieldResolver
	rootValue                 any
	debug                     bool
	logger                    *slog.Logger
	formatError               gqlerrors.FormatFunc
	formatResponse            func(ctx context.Context, rc *RequestContext, resp *Response) *Response
}

// Option configures a Pipeline.
type Option func(*options)

// WithPlugins registers lifecycle plugins. Registration order is hook
// dispatch order.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugins...) }
}

// WithPersistedQueries enables the persisted-query protocol backed by
// store. Registered entries live for ttl (0 means the store default).
func WithPersistedQueries(store cache.KeyValue[string], ttl time.Duration) Option {
	return func(o *options) {
		o.persistedQueries = store
		o.persistedQueryTTL = ttl
	}
}

// WithDocumentCache caches parsed-and-validated documents by query
// hash, skipping parse and validation on a hit.
func WithDocumentCache(store cache.KeyValue[*ast.QueryDocument]) Option {
	return func(o *options) { o.documentCache = store }
}

// WithDefaultFieldResolver sets the default resolver handed to the
// execution engine for fields without an explicit one.
func WithDefaultFieldResolver(r execution.FieldResolver) Option {
	return func(o *options) { o.defaultFieldResolver = r }
}

// WithRootValue sets the root value handed to the execution engine.
func WithRootValue(v any) Option {
	return func(o *options) { o.rootValue = v }
}

// WithDebug keeps internal diagnostic detail in formatted errors.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithLogger sets the logger for absorbed failures (cache errors,
// terminal-hook errors). Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFormatError installs a user error formatter, run last over each
// formatted error. Returning nil keeps the default formatting.
func WithFormatError(f gqlerrors.FormatFunc) Option {
	return func(o *options) { o.formatError = f }
}

// WithFormatResponse installs a response post-processor run before
// send on non-error paths. Returning nil leaves the response unchanged.
func WithFormatResponse(f func(ctx context.Context, rc *RequestContext, resp *Response) *Response) Option {
	return func(o *options) { o.formatResponse = f }
}

// WithPersistedQueryErrorStatus overrides the HTTP status for protocol
// errors (hash mismatch, unsupported version). Default 400.
func WithPersistedQueryErrorStatus(status int) Option {
	return func(o *options) { o.persistedQueryErrorStatus = status }
}

// Pipeline drives requests through the lifecycle. Safe for concurrent
// use; per-request state lives in RequestContext.
type Pipeline struct {
	schema   *ast.Schema
	executor execution.Func
	opt      options
}

// New creates a Pipeline for schema, executing operations with exec.
func New(schema *ast.Schema, exec execution.Func, opts ...Option) (*Pipeline, error) {
	if schema == nil {
		return nil, fmt.Errorf("pipeline: schema is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("pipeline: executor is required")
	}
	o := options{
		logger:                    slog.Default(),
		persistedQueryErrorStatus: http.StatusBadRequest,
	}
	for _, f := range opts {
		f(&o)
	}
	return &Pipeline{schema: schema, executor: exec, opt: o}, nil
}

// Handle drives one request through the full lifecycle and returns the
// HTTP-shaped response. It never returns nil.
func (p *Pipeline) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()
	rc := &RequestContext{Request: req}
	_, persisted := parsePersistedQuery(req.Extensions)
	eventbus.Publish(ctx, events.RequestStart{
		OperationName:  req.OperationName,
		PersistedQuery: persisted,
	})

	d := &dispatcher{}
	var resp *Response
	if err := p.collectListeners(ctx, rc, d); err != nil {
		resp = p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	} else {
		resp = p.process(ctx, d, rc)
	}

	opType := ""
	if rc.Operation != nil {
		opType = string(rc.Operation.Operation)
	}
	errs := make([]error, len(rc.Errors))
	for i := range rc.Errors {
		errs[i] = rc.Errors[i]
	}
	eventbus.Publish(ctx, events.RequestFinish{
		OperationName:          rc.OperationName,
		OperationType:          opType,
		PersistedQueryHit:      rc.Metrics.PersistedQueryHit,
		PersistedQueryRegister: rc.Metrics.PersistedQueryRegister,
		StatusCode:             resp.StatusCode,
		Errors:                 errs,
		Duration:               time.Since(start),
	})
	return resp
}

// collectListeners invokes each plugin's per-request factory in
// registration order. Plugins yielding no listener are absent from
// later dispatch.
func (p *Pipeline) collectListeners(ctx context.Context, rc *RequestContext, d *dispatcher) error {
	for _, plugin := range p.opt.plugins {
		l, err := plugin.RequestDidStart(ctx, rc)
		if err != nil {
			return err
		}
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, d *dispatcher, rc *RequestContext) *Response {
	// Identity resolution: on failure only the error/response hooks
	// fire.
	if gErr := p.resolveIdentity(ctx, rc); gErr != nil {
		return p.sendErrors(ctx, d, rc, gqlerror.List{gErr})
	}

	if err := d.notifyAll(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) error {
		return l.DidResolveSource
	}); err != nil {
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}

	// Cache-aware parse and validate. A cache hit skips both phases
	// and their hooks entirely.
	if doc := p.documentGet(ctx, rc.QueryHash); doc != nil {
		rc.Document = doc
	} else {
		if resp := p.parseAndValidate(ctx, d, rc); resp != nil {
			return resp
		}
		p.documentPut(ctx, rc.QueryHash, rc.Document)
	}

	// Operation resolution.
	op, gErr := resolveOperation(rc.Document, rc.Request.OperationName)
	if gErr != nil {
		return p.sendErrors(ctx, d, rc, gqlerror.List{gErr})
	}
	rc.Operation = op
	rc.OperationName = op.Name

	// State-changing operations must not ride on caching-friendly,
	// CSRF-exposed read-only methods.
	if rc.Request.HTTP != nil && isReadOnlyMethod(rc.Request.HTTP.Method) && op.Operation != ast.Query {
		return p.sendErrors(ctx, d, rc, gqlerror.List{gqlerrors.New(gqlerrors.CodeMethodNotAllowed,
			fmt.Sprintf("%s operations are not allowed over %s requests.", op.Operation, rc.Request.HTTP.Method))})
	}

	if err := d.notifyAll(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) error {
		return l.DidResolveOperation
	}); err != nil {
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}

	// Deferred persisted-query write: only now, after the operation
	// resolved without plugin objection, so a rejected request never
	// pollutes the store.
	if rc.Metrics.PersistedQueryRegister && p.opt.persistedQueries != nil {
		p.persistedQueryRegister(ctx, rc)
	}

	// A plugin may supply a terminal response and skip execution.
	resp, err := d.responseForOperation(ctx, rc)
	if err != nil {
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}
	if resp == nil {
		var abort gqlerror.List
		resp, abort = p.execute(ctx, d, rc)
		if abort != nil {
			return p.sendErrors(ctx, d, rc, abort)
		}
	}

	if p.opt.formatResponse != nil {
		if r := p.opt.formatResponse(ctx, rc, resp); r != nil {
			resp = r
		}
	}
	return p.send(ctx, d, rc, resp)
}

// parseAndValidate runs the parse and validation phases with their
// start/end hooks. It returns a terminal response on failure, nil on
// success (with rc.Document set).
func (p *Pipeline) parseAndValidate(ctx context.Context, d *dispatcher, rc *RequestContext) *Response {
	endParse, err := d.startPhase(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) (EndFunc, error) {
		return l.ParsingDidStart
	})
	if err != nil {
		p.closePhase(ctx, endParse, err)
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}
	phaseStart := time.Now()
	eventbus.Publish(ctx, events.PhaseStart{Phase: phaseParsing})
	doc, perr := language.ParseQuery(rc.Source)
	eventbus.Publish(ctx, events.PhaseFinish{Phase: phaseParsing, Err: perr, Duration: time.Since(phaseStart)})
	if perr != nil {
		p.closePhase(ctx, endParse, perr)
		return p.sendErrors(ctx, d, rc,
			gqlerrors.ClassifyList(gqlerrors.AsList(perr), gqlerrors.CodeParseFailed))
	}
	if err := endParse(ctx, nil); err != nil {
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}
	rc.Document = doc

	endValidation, err := d.startPhase(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) (EndFunc, error) {
		return l.ValidationDidStart
	})
	if err != nil {
		p.closePhase(ctx, endValidation, err)
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}
	phaseStart = time.Now()
	eventbus.Publish(ctx, events.PhaseStart{Phase: phaseValidation})
	verrs := language.Validate(p.schema, rc.Document)
	var verr error
	if len(verrs) > 0 {
		verr = verrs
	}
	eventbus.Publish(ctx, events.PhaseFinish{Phase: phaseValidation, Err: verr, Duration: time.Since(phaseStart)})
	if len(verrs) > 0 {
		p.closePhase(ctx, endValidation, verrs)
		return p.sendErrors(ctx, d, rc,
			gqlerrors.ClassifyList(verrs, gqlerrors.CodeValidationFailed))
	}
	if err := endValidation(ctx, nil); err != nil {
		return p.sendErrors(ctx, d, rc, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted))
	}
	return nil
}

// execute runs the execution phase. On an engine-raised error it
// returns (nil, abort) with the classified error list; engine-returned
// field errors do not abort — data may be partial.
func (p *Pipeline) execute(ctx context.Context, d *dispatcher, rc *RequestContext) (*Response, gqlerror.List) {
	endExec, fieldHooks, err := d.startExecution(ctx, rc)
	if err != nil {
		p.closePhase(ctx, endExec, err)
		return nil, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted)
	}

	args := execution.Args{
		Schema:        p.schema,
		Document:      rc.Document,
		OperationName: rc.Request.OperationName,
		RootValue:     p.opt.rootValue,
		ContextValue:  rc.ContextValue,
		Variables:     rc.Request.Variables,
		FieldResolver: p.opt.defaultFieldResolver,
		FieldObserver: buildFieldDispatch(fieldHooks),
	}

	phaseStart := time.Now()
	eventbus.Publish(ctx, events.PhaseStart{Phase: phaseExecution})
	result, execErr := p.executor(ctx, args)
	eventbus.Publish(ctx, events.PhaseFinish{Phase: phaseExecution, Err: execErr, Duration: time.Since(phaseStart)})

	if execErr != nil {
		p.closePhase(ctx, endExec, execErr)
		return nil, gqlerror.List{classifyExecutionError(execErr)}
	}
	if err := endExec(ctx, nil); err != nil {
		return nil, gqlerrors.ClassifyList(gqlerrors.AsList(err), gqlerrors.CodePluginAborted)
	}

	resp := &Response{
		StatusCode:  http.StatusOK,
		Data:        result.Data,
		Extensions:  result.Extensions,
		IncludeData: true,
	}
	if len(result.Errors) > 0 {
		list := make(gqlerror.List, 0, len(result.Errors))
		for _, e := range result.Errors {
			list = append(list, classifyExecutionError(e))
		}
		rc.Errors = append(rc.Errors, list...)
		p.notifyErrors(ctx, d, rc)
		resp.Errors = gqlerrors.Format(list, p.formatOptions())
	}
	return resp, nil
}

// classifyExecutionError maps an engine error to its wire form with a
// classification attached: explicit code first, then the bad-user-input
// heuristic, then internal.
func classifyExecutionError(err error) *gqlerror.Error {
	if ee, ok := err.(*execution.Error); ok {
		gql := ee.GQLError()
		code := gqlerrors.ClassifyExecution(gqlerrors.CodeOf(gql), gqlerrors.ErrorShape{
			Message:   ee.Message,
			NodeKinds: ee.NodeKinds,
		})
		return gqlerrors.WithCode(gql, code)
	}
	list := gqlerrors.AsList(err)
	return gqlerrors.WithCode(list[0], gqlerrors.CodeInternal)
}

// sendErrors is the single error exit: it attaches errs to the
// request, notifies listeners, formats the list, shapes the HTTP
// response, and routes through send.
func (p *Pipeline) sendErrors(ctx context.Context, d *dispatcher, rc *RequestContext, errs gqlerror.List) *Response {
	rc.Errors = append(rc.Errors, errs...)
	p.notifyErrors(ctx, d, rc)
	resp := &Response{Errors: gqlerrors.Format(errs, p.formatOptions())}
	p.applyHTTPShape(resp, errs)
	return p.send(ctx, d, rc, resp)
}

// send assembles the final response and fires the terminal
// WillSendResponse hook. Every exit path routes through here exactly
// once; after it returns the core performs no further mutation.
func (p *Pipeline) send(ctx context.Context, d *dispatcher, rc *RequestContext, resp *Response) *Response {
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	resp.header()
	rc.Response = resp
	if err := d.notifyAll(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) error {
		return l.WillSendResponse
	}); err != nil {
		// The response is already final; a failing terminal hook can
		// only be logged.
		p.opt.logger.ErrorContext(ctx, "willSendResponse hook failed", "error", err)
	}
	return rc.Response
}

// notifyErrors runs the error-notification hook, absorbing its own
// failures: the request outcome is already decided.
func (p *Pipeline) notifyErrors(ctx context.Context, d *dispatcher, rc *RequestContext) {
	if err := d.notifyAll(ctx, rc, func(l *RequestListener) func(context.Context, *RequestContext) error {
		return l.DidEncounterErrors
	}); err != nil {
		p.opt.logger.ErrorContext(ctx, "didEncounterErrors hook failed", "error", err)
	}
}

// closePhase replays end hooks for a failed phase. An end hook's own
// error cannot displace the phase error; it is logged.
func (p *Pipeline) closePhase(ctx context.Context, end phaseEnd, phaseErr error) {
	if err := end(ctx, phaseErr); err != nil {
		p.opt.logger.ErrorContext(ctx, "phase end hook failed", "error", err)
	}
}

func (p *Pipeline) formatOptions() gqlerrors.FormatOptions {
	return gqlerrors.FormatOptions{Debug: p.opt.debug, Formatter: p.opt.formatError}
}

// applyHTTPShape sets status code and headers from the error
// classification. Persisted-query misses deliberately answer 200 with
// no-cache headers so clients retry cleanly with full text.
func (p *Pipeline) applyHTTPShape(resp *Response, errs gqlerror.List) {
	persistedOnly := len(errs) > 0
	for _, e := range errs {
		switch gqlerrors.CodeOf(e) {
		case gqlerrors.CodePersistedQueryNotFound, gqlerrors.CodePersistedQueryNotSupported:
			continue
		}
		persistedOnly = false
		break
	}
	if persistedOnly {
		resp.StatusCode = http.StatusOK
		resp.header().Set("Cache-Control", "private, no-cache, must-revalidate")
		return
	}
	for _, e := range errs {
		switch gqlerrors.CodeOf(e) {
		case gqlerrors.CodeMethodNotAllowed:
			resp.StatusCode = http.StatusMethodNotAllowed
			resp.header().Set("Allow", http.MethodPost)
			return
		case gqlerrors.CodeProtocolError:
			resp.StatusCode = p.opt.persistedQueryErrorStatus
			return
		case gqlerrors.CodeBadRequest, gqlerrors.CodeParseFailed,
			gqlerrors.CodeValidationFailed, gqlerrors.CodeBadUserInput:
			resp.StatusCode = http.StatusBadRequest
			return
		}
	}
	resp.StatusCode = http.StatusInternalServerError
}

// resolveOperation selects the executable unit matching the requested
// operation name.
func resolveOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, *gqlerror.Error) {
	op := doc.Operations.ForName(name)
	if op == nil {
		if name == "" {
			return nil, gqlerrors.New(gqlerrors.CodeBadRequest,
				"Must provide operation name if query contains multiple operations.")
		}
		return nil, gqlerrors.New(gqlerrors.CodeBadRequest,
			fmt.Sprintf("Unknown operation named %q.", name))
	}
	return op, nil
}

func isReadOnlyMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
