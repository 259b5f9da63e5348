package otel

import (
	"context"
	"errors"
	"fmt"

	runtimeotel "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/imtaco/audio-rooms/internal/log"
)

type ShutdownFunc func(context.Context) error

// Init installs the global tracer and meter providers. Disabled signals get
// an SDK provider without exporters so instruments stay cheap no-ops.
func Init(ctx context.Context, config *Config, logger *log.Logger) (ShutdownFunc, error) {
	logger.Info("OTEL configuration",
		log.Bool("tracing", config.Tracing.Enabled),
		log.Bool("metrics", config.Metrics.Enabled),
		log.Bool("runtime_metrics", config.Metrics.Runtime),
		log.String("endpoint", config.Exporter.Endpoint),
		log.String("service_name", config.ServiceName))

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider()
	if config.Tracing.Enabled {
		if tp, err = newTracerProvider(ctx, config, res); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	mp := sdkmetric.NewMeterProvider()
	if config.Metrics.Enabled {
		if mp, err = newMeterProvider(ctx, config, res); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		// instruments created in package init() delegate to this provider
		otel.SetMeterProvider(mp)

		if config.Metrics.Runtime {
			if err := runtimeotel.Start(runtimeotel.WithMeterProvider(mp)); err != nil {
				return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
			}
		}
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func grpcOptions(config *Config) []grpc.DialOption {
	if !config.Exporter.Insecure {
		return nil
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

func newTracerProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Exporter.Endpoint),
		otlptracegrpc.WithTimeout(config.Exporter.Timeout),
	}
	if config.Exporter.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	for _, o := range grpcOptions(config) {
		opts = append(opts, otlptracegrpc.WithDialOption(o))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.Tracing.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.Tracing.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.Tracing.SamplingRate)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.Exporter.Endpoint),
		otlpmetricgrpc.WithTimeout(config.Exporter.Timeout),
	}
	if config.Exporter.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	for _, o := range grpcOptions(config) {
		opts = append(opts, otlpmetricgrpc.WithDialOption(o))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(config.Metrics.ExportInterval),
		)),
	), nil
}
