package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/kevin-foreman/apollo-server/internal/cache"
	"github.com/kevin-foreman/apollo-server/internal/eventbus"
	"github.com/kevin-foreman/apollo-server/internal/execution"
	"github.com/kevin-foreman/apollo-server/internal/language"
	"github.com/kevin-foreman/apollo-server/internal/otel"
	"github.com/kevin-foreman/apollo-server/internal/pipeline"
	"github.com/kevin-foreman/apollo-server/internal/plugins/logging"
	"github.com/kevin-foreman/apollo-server/internal/plugins/metrics"
	"github.com/kevin-foreman/apollo-server/internal/plugins/respcache"
	"github.com/kevin-foreman/apollo-server/internal/server"
)

const rootUsage = `apollo-server — GraphQL request pipeline server & tools

USAGE:
  apollo-server <command> [flags]

COMMANDS:
  serve            Run the demo GraphQL server
  hash             Print the persisted-query sha256 hash of a query
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>           HTTP listen address (default: :8080)
  -server.pretty                Pretty-print JSON responses
  -server.timeout <duration>    Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body <bytes>      Request body size limit (default: 1048576)
  -server.cors-origin <origin>  Allowed CORS origin. Repeatable
  -schema <path>                SDL schema file (default: built-in demo schema)
  -apq.ttl <duration>           Persisted query TTL (default: 24h; 0 disables APQ)
  -apq.size <n>                 Persisted query cache entries (default: 1000)
  -doccache.size <n>            Parsed document cache entries (default: 1000; 0 disables)
  -respcache.ttl <duration>     Full response cache TTL (default: 0, disabled)
  -metrics                      Expose Prometheus metrics on /metrics
  -debug                        Keep internal detail in error responses
  -otel.endpoint <addr>         OTLP collector endpoint
  -otel.service <name>          OpenTelemetry service name (default: apollo-server)
`

const hashUsage = `hash FLAGS:
  -query <text>    Query text to hash (default: read from stdin)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "hash":
		return cmdHash(args[1:])
	case "help":
		return cmdHelp(args[1:])
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "hash":
		fmt.Print(hashUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdHash(args []string) error {
	query := ""
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&query, "query", query, "Query text to hash")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, hashUsage)
		return err
	}
	if query == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		query = string(data)
	}
	fmt.Println(pipeline.ComputeQueryHash(query))
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

const demoSDL = `
type Query {
  ping: String!
  serverTime: String!
  echo(message: String!): String!
  counter: Int!
}

type Mutation {
  increment(amount: Int): Int!
}
`

// demoExecutor wires the reference executor with a handful of
// resolvers so the pipeline can be exercised end to end.
func demoExecutor() execution.Func {
	var mu sync.Mutex
	counter := 0

	rm := execution.NewResolverMap()
	rm.Set("Query", "ping", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return "pong", nil
	})
	rm.Set("Query", "serverTime", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
	rm.Set("Query", "echo", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		return info.Args["message"], nil
	})
	rm.Set("Query", "counter", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		return counter, nil
	})
	rm.Set("Mutation", "increment", func(ctx context.Context, info execution.FieldInfo) (any, error) {
		amount := 1
		if a, ok := info.Args["amount"].(int64); ok {
			amount = int(a)
		}
		mu.Lock()
		defer mu.Unlock()
		counter += amount
		return counter, nil
	})
	return rm.Execute
}

func cmdServe(args []string) error {
	addr := ":8080"
	schemaPath := ""
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	apqTTL := 24 * time.Hour
	apqSize := 1000
	docCacheSize := 1000
	respCacheTTL := time.Duration(0)
	enableMetrics := false
	debug := false
	otelEndpoint := ""
	otelService := "apollo-server"
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.StringVar(&schemaPath, "schema", schemaPath, "SDL schema file")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body", maxBody, "Request body size limit")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.DurationVar(&apqTTL, "apq.ttl", apqTTL, "Persisted query TTL")
	fs.IntVar(&apqSize, "apq.size", apqSize, "Persisted query cache entries")
	fs.IntVar(&docCacheSize, "doccache.size", docCacheSize, "Parsed document cache entries")
	fs.DurationVar(&respCacheTTL, "respcache.ttl", respCacheTTL, "Full response cache TTL")
	fs.BoolVar(&enableMetrics, "metrics", enableMetrics, "Expose Prometheus metrics")
	fs.BoolVar(&debug, "debug", debug, "Keep internal detail in error responses")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	sdl, schemaName := demoSDL, "demo.graphql"
	if schemaPath != "" {
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		sdl, schemaName = string(data), schemaPath
	}
	schema, err := language.LoadSchema(&language.Source{Name: schemaName, Input: sdl})
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	logger := slog.Default()
	registry := prometheus.NewRegistry()

	popts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithPlugins(logging.New(logger)),
	}
	if debug {
		popts = append(popts, pipeline.WithDebug())
	}
	if enableMetrics {
		popts = append(popts, pipeline.WithPlugins(metrics.New(registry, "apollo")))
	}
	var cacheOpts []cache.Option
	if enableMetrics {
		cacheOpts = []cache.Option{cache.WithMetrics(registry, "apq")}
	}
	if apqTTL > 0 {
		store, err := cache.NewLRU[string](apqSize, cacheOpts...)
		if err != nil {
			return fmt.Errorf("apq cache: %w", err)
		}
		popts = append(popts, pipeline.WithPersistedQueries(store, apqTTL))
	}
	if docCacheSize > 0 {
		store, err := cache.NewLRU[*ast.QueryDocument](docCacheSize)
		if err != nil {
			return fmt.Errorf("document cache: %w", err)
		}
		popts = append(popts, pipeline.WithDocumentCache(store))
	}
	if respCacheTTL > 0 {
		store, err := cache.NewTTL[respcache.Entry](context.Background(), respCacheTTL, time.Minute)
		if err != nil {
			return fmt.Errorf("response cache: %w", err)
		}
		popts = append(popts, pipeline.WithPlugins(respcache.New(store, respCacheTTL, logger)))
	}

	pipe, err := pipeline.New(schema, demoExecutor(), popts...)
	if err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if maxBody > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(maxBody))
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	h := server.New(pipe, sopts...)

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	if enableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	log.Printf("GraphQL server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
