package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName identifies the transport in exported telemetry.
	DefaultServiceName = "tasktally-ssh"

	// DefaultEndpoint is the default OTLP/HTTP collector endpoint.
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling samples every trace; clone and push are low-volume operations.
	DefaultSampling = 1.0

	// DefaultMetricsInterval is how often metrics are exported.
	DefaultMetricsInterval = 30 * time.Second
)

// Config is the telemetry section of the tasktally-ssh configuration.
type Config struct {
	// Enabled turns on exporting. When false no exporter is created.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName defaults to "tasktally-ssh".
	ServiceName string `yaml:"serviceName,omitempty" mapstructure:"serviceName"`

	// ServiceVersion defaults to the build version.
	ServiceVersion string `yaml:"serviceVersion,omitempty" mapstructure:"serviceVersion"`

	// Endpoint is the OTLP/HTTP collector as "host:port".
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// Insecure sends telemetry over plain HTTP.
	Insecure bool `yaml:"insecure,omitempty" mapstructure:"insecure"`

	Tracing *TracingConfig `yaml:"tracing,omitempty" mapstructure:"tracing"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Sampling is the ratio of traces kept, between 0 and 1. Zero means DefaultSampling.
	Sampling float64 `yaml:"sampling,omitempty" mapstructure:"sampling"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Interval between exports. Zero means DefaultMetricsInterval.
	Interval time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio, treating zero as unset.
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == 0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetInterval returns the export interval, treating zero as unset.
func (c *MetricsConfig) GetInterval() time.Duration {
	if c == nil || c.Interval <= 0 {
		return DefaultMetricsInterval
	}
	return c.Interval
}

func (c *Config) tracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// Validate checks the configuration. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled {
		if s := c.Tracing.Sampling; s < 0 || s > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", s))
		}
	}
	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.Interval < 0 {
		errs = append(errs, fmt.Errorf("metrics: interval must not be negative, got %s", c.Metrics.Interval))
	}
	return errors.Join(errs...)
}
