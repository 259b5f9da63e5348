package otel

import (
	"time"

	"github.com/spf13/viper"
)

type ExporterConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Insecure bool          `mapstructure:"insecure"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	Runtime        bool          `mapstructure:"runtime"`
}

// Config is the otel section; both signals share one OTLP gRPC exporter.
type Config struct {
	ServiceName string         `mapstructure:"service_name"`
	Exporter    ExporterConfig `mapstructure:"exporter"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("service_name"), "audio-rooms")

	v.SetDefault(p("exporter.endpoint"), "localhost:4317")
	v.SetDefault(p("exporter.insecure"), true)
	v.SetDefault(p("exporter.timeout"), "10s")

	v.SetDefault(p("tracing.enabled"), false)
	v.SetDefault(p("tracing.sampling_rate"), 1.0)

	v.SetDefault(p("metrics.enabled"), false)
	v.SetDefault(p("metrics.export_interval"), "30s")
	v.SetDefault(p("metrics.runtime"), false)
}
