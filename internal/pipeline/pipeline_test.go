package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	execution "github.com/kevin-foreman/apollo-server/internal/execution"
	gqlerrors "github.com/kevin-foreman/apollo-server/internal/gqlerrors"
	language "github.com/kevin-foreman/apollo-server/internal/language"
)

const testSDL = `
type Query {
  ping: String!
  echo(message: String!): String!
  fail: String
}

type Mutation {
  bump: Int!
}
`

func testExecutor() execution.Func {
	rm := execution.NewResolverMap()
	rm.Set("Query", "ping", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return "pong", nil
	})
	rm.Set("Query", "echo", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return info.Args["message"], nil
	})
	rm.Set("Query", "fail", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return nil, errors.New("boom")
	})
	rm.Set("Mutation", "bump", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return 1, nil
	})
	return rm.Execute
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(language.MustLoadSchema(testSDL), testExecutor(), opts...)
	require.NoError(t, err)
	return p
}

func errorCodes(resp *Response) []string {
	codes := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		codes = append(codes, string(gqlerrors.CodeOf(e)))
	}
	return codes
}

func TestHandleSuccess(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Errors)
	require.True(t, resp.IncludeData)
	if diff := cmp.Diff(map[string]any{"ping": "pong"}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleVariables(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query:     `query Echo($x: String!) { echo(message: $x) }`,
		Variables: map[string]any{"x": "hello"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	if diff := cmp.Diff(map[string]any{"echo": "hello"}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestHookOrderSuccessPath(t *testing.T) {
	rec := &RecorderPlugin{Name: "r", ObserveFields: true}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	want := []string{
		"r.requestDidStart",
		"r.didResolveSource",
		"r.parsingDidStart",
		"r.parsingDidEnd",
		"r.validationDidStart",
		"r.validationDidEnd",
		"r.didResolveOperation",
		"r.responseForOperation",
		"r.executionDidStart",
		"r.willResolveField:ping",
		"r.didResolveField:ping",
		"r.executionDidEnd",
		"r.willSendResponse",
	}
	if diff := cmp.Diff(want, rec.Calls()); diff != "" {
		t.Fatalf("hook order mismatch (-want +got):\n%s", diff)
	}
}

// willSendResponse must fire exactly once no matter how the request
// leaves the pipeline.
func TestWillSendResponseFiresOnceOnEveryExit(t *testing.T) {
	cases := []struct {
		name       string
		req        *Request
		fail       map[string]error
		wantStatus int
	}{
		{
			name:       "success",
			req:        &Request{Query: "{ ping }"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty query",
			req:        &Request{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "parse failure",
			req:        &Request{Query: "{"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "validation failure",
			req:        &Request{Query: "{ nope }"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown operation",
			req:        &Request{Query: "query A { ping } query B { ping }"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "plugin abort before execution",
			req:        &Request{Query: "{ ping }"},
			fail:       map[string]error{"didResolveOperation": errors.New("rejected")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "plugin abort at parsing start",
			req:        &Request{Query: "{ ping }"},
			fail:       map[string]error{"parsingDidStart": errors.New("rejected")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "variable coercion failure",
			req:        &Request{Query: `query Echo($x: String!) { echo(message: $x) }`},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &RecorderPlugin{Name: "r", Fail: tc.fail}
			p := newTestPipeline(t, WithPlugins(rec))

			resp := p.Handle(context.Background(), tc.req)
			require.Equal(t, tc.wantStatus, resp.StatusCode)
			require.Equal(t, 1, rec.CallCount("willSendResponse"))
		})
	}
}

func TestParseFailureClassification(t *testing.T) {
	rec := &RecorderPlugin{Name: "r"}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, []string{"GRAPHQL_PARSE_FAILED"}, errorCodes(resp))
	require.False(t, resp.IncludeData)

	// Parsing ended with the phase error; validation never started.
	require.Equal(t, 1, rec.CallCount("parsingDidStart"))
	require.Equal(t, 1, rec.CallCount("parsingDidEnd"))
	require.Equal(t, 0, rec.CallCount("validationDidStart"))
	require.Equal(t, 0, rec.CallCount("executionDidStart"))
	require.Equal(t, 1, rec.CallCount("didEncounterErrors"))
}

func TestValidationFailureClassification(t *testing.T) {
	rec := &RecorderPlugin{Name: "r"}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ nope }"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotEmpty(t, resp.Errors)
	for _, code := range errorCodes(resp) {
		require.Equal(t, "GRAPHQL_VALIDATION_FAILED", code)
	}
	require.Equal(t, 1, rec.CallCount("validationDidStart"))
	require.Equal(t, 1, rec.CallCount("validationDidEnd"))
	require.Equal(t, 0, rec.CallCount("executionDidStart"))
}

func TestMutationOverGetRejected(t *testing.T) {
	rec := &RecorderPlugin{Name: "r"}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{
		Query: "mutation { bump }",
		HTTP:  &HTTPRequestInfo{Method: http.MethodGet},
	})
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.MethodPost, resp.Headers.Get("Allow"))
	require.Equal(t, []string{"METHOD_NOT_ALLOWED"}, errorCodes(resp))

	// Rejected before the operation was offered to plugins.
	require.Equal(t, 0, rec.CallCount("didResolveOperation"))
	require.Equal(t, 0, rec.CallCount("executionDidStart"))
	require.Equal(t, 1, rec.CallCount("willSendResponse"))
}

func TestQueryOverGetAllowed(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query: "{ ping }",
		HTTP:  &HTTPRequestInfo{Method: http.MethodGet},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Errors)
}

func TestUnknownOperationName(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query:         "query A { ping }",
		OperationName: "B",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, `Unknown operation named "B".`, resp.Errors[0].Message)
	require.Equal(t, []string{"BAD_REQUEST"}, errorCodes(resp))
}

func TestAnonymousOperationAmbiguity(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query: "query A { ping } query B { ping }",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Must provide operation name if query contains multiple operations.", resp.Errors[0].Message)
}

func TestResponseForOperationShortCircuit(t *testing.T) {
	cached := &Response{
		StatusCode:  http.StatusOK,
		Data:        map[string]any{"ping": "cached"},
		IncludeData: true,
	}
	rec := &RecorderPlugin{Name: "r", Respond: cached}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	if diff := cmp.Diff(map[string]any{"ping": "cached"}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 1, rec.CallCount("responseForOperation"))
	require.Equal(t, 0, rec.CallCount("executionDidStart"))
	require.Equal(t, 1, rec.CallCount("willSendResponse"))
}

func TestFirstNonNullResponseWins(t *testing.T) {
	first := &RecorderPlugin{Name: "a", Respond: &Response{
		Data: map[string]any{"from": "a"}, IncludeData: true,
	}}
	second := &RecorderPlugin{Name: "b", Respond: &Response{
		Data: map[string]any{"from": "b"}, IncludeData: true,
	}}
	p := newTestPipeline(t, WithPlugins(first, second))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	if diff := cmp.Diff(map[string]any{"from": "a"}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, first.CallCount("responseForOperation"))
	require.Equal(t, 0, second.CallCount("responseForOperation"))
}

// Field errors reported by the engine complete the request normally
// with partial data; they never abort.
func TestFieldErrorsDoNotAbort(t *testing.T) {
	rec := &RecorderPlugin{Name: "r"}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping fail }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, resp.IncludeData)
	if diff := cmp.Diff(map[string]any{"ping": "pong", "fail": nil}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"INTERNAL_SERVER_ERROR"}, errorCodes(resp))
	require.Equal(t, 1, rec.CallCount("didEncounterErrors"))
	require.Equal(t, 1, rec.CallCount("executionDidEnd"))
	require.Equal(t, 1, rec.CallCount("willSendResponse"))
}

// An error raised by the engine (as opposed to returned in the result)
// aborts with no data key at all.
func TestEngineRaisedErrorAborts(t *testing.T) {
	abort := func(ctx context.Context, args execution.Args) (*execution.Result, error) {
		return nil, errors.New("engine exploded")
	}
	p, err := New(language.MustLoadSchema(testSDL), abort)
	require.NoError(t, err)

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.False(t, resp.IncludeData)
	require.Nil(t, resp.Data)
	require.Equal(t, []string{"INTERNAL_SERVER_ERROR"}, errorCodes(resp))
}

func TestVariableCoercionClassifiedAsBadUserInput(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query: `query Echo($x: String!) { echo(message: $x) }`,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, []string{"BAD_USER_INPUT"}, errorCodes(resp))
	require.Equal(t, `Variable "$x" of required type "String!" was not provided.`, resp.Errors[0].Message)
	require.False(t, resp.IncludeData)
}

func TestNullForNonNullVariableClassifiedAsBadUserInput(t *testing.T) {
	p := newTestPipeline(t)
	resp := p.Handle(context.Background(), &Request{
		Query:     `query Echo($x: String!) { echo(message: $x) }`,
		Variables: map[string]any{"x": nil},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, []string{"BAD_USER_INPUT"}, errorCodes(resp))
}

func TestPluginAbortClassification(t *testing.T) {
	rec := &RecorderPlugin{Name: "r", Fail: map[string]error{
		"didResolveOperation": errors.New("quota exceeded"),
	}}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, []string{"PLUGIN_ABORTED"}, errorCodes(resp))
	require.Equal(t, 0, rec.CallCount("executionDidStart"))
}

// A plugin abort may carry its own classified error; the explicit code
// survives instead of PLUGIN_ABORTED.
func TestPluginAbortKeepsExplicitCode(t *testing.T) {
	rec := &RecorderPlugin{Name: "r", Fail: map[string]error{
		"didResolveOperation": gqlerrors.New(gqlerrors.CodeBadRequest, "operation not allowlisted"),
	}}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, []string{"BAD_REQUEST"}, errorCodes(resp))
	require.Equal(t, "operation not allowlisted", resp.Errors[0].Message)
}

func TestRequestDidStartErrorAbortsBeforeIdentity(t *testing.T) {
	boom := PluginFunc(func(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
		return nil, errors.New("factory failed")
	})
	p := newTestPipeline(t, WithPlugins(boom))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, []string{"PLUGIN_ABORTED"}, errorCodes(resp))
}

func TestNilListenerIsSkipped(t *testing.T) {
	optOut := PluginFunc(func(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
		return nil, nil
	})
	p := newTestPipeline(t, WithPlugins(optOut))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// callLog collects entries from several cooperating plugins so tests
// can assert cross-plugin interleaving.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func phasePlugin(name string, log *callLog) Plugin {
	return PluginFunc(func(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
		return &RequestListener{
			ParsingDidStart: func(ctx context.Context, rc *RequestContext) (EndFunc, error) {
				log.add(name + ".parsing.start")
				return func(ctx context.Context, err error) error {
					log.add(name + ".parsing.end")
					return nil
				}, nil
			},
			ExecutionDidStart: func(ctx context.Context, rc *RequestContext) (*ExecutionListener, error) {
				log.add(name + ".execution.start")
				return &ExecutionListener{
					ExecutionDidEnd: func(ctx context.Context, err error) error {
						log.add(name + ".execution.end")
						return nil
					},
				}, nil
			},
		}, nil
	})
}

// Start hooks run in registration order; the ends they return replay in
// reverse, like deferred cleanups.
func TestEndHooksRunInReverseOrder(t *testing.T) {
	log := &callLog{}
	p := newTestPipeline(t, WithPlugins(phasePlugin("a", log), phasePlugin("b", log)))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	want := []string{
		"a.parsing.start", "b.parsing.start",
		"b.parsing.end", "a.parsing.end",
		"a.execution.start", "b.execution.start",
		"b.execution.end", "a.execution.end",
	}
	if diff := cmp.Diff(want, log.snapshot()); diff != "" {
		t.Fatalf("interleaving mismatch (-want +got):\n%s", diff)
	}
}

// End hooks of a failed phase receive the phase error.
func TestEndHooksReceivePhaseError(t *testing.T) {
	var seen error
	probe := PluginFunc(func(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
		return &RequestListener{
			ParsingDidStart: func(ctx context.Context, rc *RequestContext) (EndFunc, error) {
				return func(ctx context.Context, err error) error {
					seen = err
					return nil
				}, nil
			},
		}, nil
	})
	p := newTestPipeline(t, WithPlugins(probe))

	resp := p.Handle(context.Background(), &Request{Query: "{"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Error(t, seen)
}

func TestWillSendResponseSeesFinalResponse(t *testing.T) {
	var gotStatus int
	var gotData any
	probe := PluginFunc(func(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
		return &RequestListener{
			WillSendResponse: func(ctx context.Context, rc *RequestContext) error {
				gotStatus = rc.Response.StatusCode
				gotData = rc.Response.Data
				return nil
			},
		}, nil
	})
	p := newTestPipeline(t, WithPlugins(probe))

	p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, gotStatus)
	if diff := cmp.Diff(map[string]any{"ping": "pong"}, gotData); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

// A failing terminal hook cannot change the outcome.
func TestWillSendResponseErrorIsAbsorbed(t *testing.T) {
	rec := &RecorderPlugin{Name: "r", Fail: map[string]error{
		"willSendResponse": errors.New("terminal hook failed"),
	}}
	p := newTestPipeline(t, WithPlugins(rec))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Errors)
}

func TestFormatResponseHook(t *testing.T) {
	format := func(ctx context.Context, rc *RequestContext, resp *Response) *Response {
		if resp.Extensions == nil {
			resp.Extensions = map[string]any{}
		}
		resp.Extensions["traceId"] = "abc123"
		return resp
	}
	p := newTestPipeline(t, WithFormatResponse(format))

	resp := p.Handle(context.Background(), &Request{Query: "{ ping }"})
	require.Equal(t, "abc123", resp.Extensions["traceId"])
}

func TestFormatErrorHook(t *testing.T) {
	redact := func(err *gqlerror.Error) *gqlerror.Error {
		err.Message = "redacted"
		return err
	}
	p := newTestPipeline(t, WithFormatError(redact))

	resp := p.Handle(context.Background(), &Request{Query: "{"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "redacted", resp.Errors[0].Message)
	// Classification survives the user formatter.
	require.Equal(t, []string{"GRAPHQL_PARSE_FAILED"}, errorCodes(resp))
}

func TestNewRequiresSchemaAndExecutor(t *testing.T) {
	_, err := New(nil, testExecutor())
	require.Error(t, err)
	_, err = New(language.MustLoadSchema(testSDL), nil)
	require.Error(t, err)
}

func TestResponseBodyShape(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
		want map[string]any
	}{
		{
			name: "pre-execution failure omits data",
			resp: &Response{Errors: gqlerror.List{{Message: "bad"}}},
			want: map[string]any{"errors": gqlerror.List{{Message: "bad"}}},
		},
		{
			name: "executed null data keeps the key",
			resp: &Response{IncludeData: true},
			want: map[string]any{"data": nil},
		},
		{
			name: "extensions included when present",
			resp: &Response{Data: map[string]any{"a": 1}, Extensions: map[string]any{"x": 1}, IncludeData: true},
			want: map[string]any{"data": map[string]any{"a": 1}, "extensions": map[string]any{"x": 1}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.resp.Body()); diff != "" {
				t.Fatalf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
