// Package trace builds the OpenTelemetry tracer provider the VUs create
// their iteration, group and request spans with.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/liuxd6825/loadrun/lib/consts"
)

const (
	serviceName = "loadrun"
	// TracerName is the instrumentation name of the VU spans.
	TracerName = "github.com/liuxd6825/loadrun/runner"
)

var (
	// ErrInvalidTracesOutput is returned for a --traces-output that isn't otel or none.
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidProto is returned for exporter protocols other than http and grpc.
	ErrInvalidProto = errors.New("invalid protocol")
	// ErrInvalidURLScheme is returned for exporter URLs that aren't http or https.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
	// ErrInvalidGRPCWithURLPath is returned when a URL path is given with the grpc protocol.
	ErrInvalidGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// TracerProvider is a trace.TracerProvider that can be shut down, flushing
// the spans that are still buffered.
type TracerProvider struct {
	trace.TracerProvider
	shutdown func(ctx context.Context) error
}

// Shutdown flushes and stops the exporter. The provider must not be used
// afterwards.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

// Enabled reports whether spans are actually exported.
func (tp *TracerProvider) Enabled() bool {
	_, isNoop := tp.TracerProvider.(noop.TracerProvider)
	return !isNoop
}

type tracerProviderParams struct {
	proto    string
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultTracerProviderParams() tracerProviderParams {
	return tracerProviderParams{
		proto:    "grpc",
		endpoint: "127.0.0.1:4317",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// NewNoopTracerProvider returns a provider whose spans go nowhere.
func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

func newTracerProvider(ctx context.Context, params tracerProviderParams) (*TracerProvider, error) {
	var client otlptrace.Client
	switch params.proto {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(params.endpoint),
			otlptracehttp.WithHeaders(params.headers),
		}
		if params.urlPath != "" {
			opts = append(opts, otlptracehttp.WithURLPath(params.urlPath))
		}
		if params.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		client = otlptracehttp.NewClient(opts...)
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(params.endpoint),
			otlptracegrpc.WithHeaders(params.headers),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(serviceName + "/" + consts.Version)),
		}
		if params.insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		client = otlptracegrpc.NewClient(opts...)
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidProto, params.proto)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating the traces exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(consts.Version),
		)),
	)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

// TracerProviderFromConfigLine builds the provider described by the
// --traces-output value:
//
//	none (or empty)
//	otel[=<endpoint>][,proto=http|grpc][,header.<name>=<value>...]
//
// The endpoint is either host:port, with grpc as the default protocol, or
// an http(s) URL, which implies the http protocol. It defaults to
// 127.0.0.1:4317.
func TracerProviderFromConfigLine(ctx context.Context, line string) (*TracerProvider, error) {
	if line == "" || line == "none" {
		return NewNoopTracerProvider(), nil
	}
	params, err := tracerProviderParamsFromConfigLine(line)
	if err != nil {
		return nil, err
	}
	return newTracerProvider(ctx, params)
}

func tracerProviderParamsFromConfigLine(line string) (tracerProviderParams, error) {
	params := defaultTracerProviderParams()

	tokens := strings.Split(line, ",")
	output, endpoint, hasEndpoint := strings.Cut(tokens[0], "=")
	if output != "otel" {
		return params, fmt.Errorf("%w %q", ErrInvalidTracesOutput, output)
	}
	if hasEndpoint {
		if err := params.parseEndpoint(endpoint); err != nil {
			return params, fmt.Errorf("couldn't parse the otel endpoint: %w", err)
		}
	}

	for _, token := range tokens[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(token), "=")
		switch {
		case key == "proto":
			if value != "http" && value != "grpc" {
				return params, fmt.Errorf("%w %q", ErrInvalidProto, value)
			}
			params.proto = value
		case strings.HasPrefix(key, "header."):
			params.headers[strings.TrimPrefix(key, "header.")] = value
		default:
			return params, fmt.Errorf("unknown otel config key %q", key)
		}
	}

	if params.proto == "grpc" && params.urlPath != "" {
		return params, ErrInvalidGRPCWithURLPath
	}
	return params, nil
}

func (p *tracerProviderParams) parseEndpoint(s string) error {
	if !strings.Contains(s, "://") {
		p.endpoint = s
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}
	p.proto = "http"
	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"
	return nil
}
