// Package observer wires OTEL metrics and traces for the gateway.
// Exporters are configured through the standard OTEL env vars; the
// whole package is inert unless observer.enabled is set.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	otellog "go.opentelemetry.io/otel/log"
)

const scopeName = "github.com/nevindra/mcbridge/internal/observer"

// Instruments holds the gateway's OTEL instruments.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	ChatRequests    metric.Int64Counter
	ChatDuration    metric.Float64Histogram
	TokenUsage      metric.Int64Counter
	ToolExecutions  metric.Int64Counter
	CommandTimeouts metric.Int64Counter

	QueueDepth        metric.Int64ObservableGauge
	ActiveConnections metric.Int64ObservableGauge
}

// Init sets up OTLP HTTP exporters for traces, metrics, and logs. The
// queueDepth and connections callbacks feed the observable gauges.
// Returns a shutdown function to flush on exit.
func Init(ctx context.Context, queueDepth, connections func() int) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("mcbridge")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(queueDepth, connections)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments(queueDepth, connections func() int) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	chatRequests, err := meter.Int64Counter("chat.requests",
		metric.WithDescription("Chat request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	chatDuration, err := meter.Float64Histogram("chat.duration",
		metric.WithDescription("End-to-end chat turn duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	commandTimeouts, err := meter.Int64Counter("command.timeouts",
		metric.WithDescription("Minecraft command RPC timeouts"),
		metric.WithUnit("{timeout}"))
	if err != nil {
		return nil, err
	}

	depthGauge, err := meter.Int64ObservableGauge("broker.queue.depth",
		metric.WithDescription("Pending requests in the priority queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if queueDepth != nil {
				o.Observe(int64(queueDepth()))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	connGauge, err := meter.Int64ObservableGauge("gateway.connections.active",
		metric.WithDescription("Active WebSocket sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if connections != nil {
				o.Observe(int64(connections()))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		Logger:            logger,
		ChatRequests:      chatRequests,
		ChatDuration:      chatDuration,
		TokenUsage:        tokenUsage,
		ToolExecutions:    toolExecutions,
		CommandTimeouts:   commandTimeouts,
		QueueDepth:        depthGauge,
		ActiveConnections: connGauge,
	}, nil
}

// ProviderAttrs labels a measurement with its provider and model.
func ProviderAttrs(provider, model string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
}

// TokenAttrs labels token usage by direction ("input" or "output").
func TokenAttrs(provider, model, direction string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.String("token.direction", direction),
	)
}

// ToolAttrs labels a tool execution.
func ToolAttrs(name string, ok bool) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tool.name", name),
		attribute.Bool("tool.ok", ok),
	)
}
