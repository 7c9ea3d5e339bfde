package ldfeed

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feed"
	"github.com/zero-day-ai/ldfeed/sink"
)

// Option configures a Pipeline.
type Option func(*pipelineConfig)

// pipelineConfig holds configuration for a Pipeline.
type pipelineConfig struct {
	desc        *descriptor.Descriptor
	constraints constraint.Source
	checker     constraint.Checker

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	gen    document.IDGenerator
	now    func() time.Time

	feedType    feed.Type
	sink        sink.Sink
	keepInvalid bool
}

// WithDescriptor sets the descriptor used to encode nodes. Required.
func WithDescriptor(desc *descriptor.Descriptor) Option {
	return func(c *pipelineConfig) {
		c.desc = desc
	}
}

// WithConstraints sets the source the constraint set is loaded from.
// Without it, and without WithChecker, the pipeline encodes but does not
// validate.
func WithConstraints(src constraint.Source) Option {
	return func(c *pipelineConfig) {
		c.constraints = src
	}
}

// WithChecker sets an already loaded checker. It takes precedence over
// WithConstraints.
func WithChecker(checker constraint.Checker) Option {
	return func(c *pipelineConfig) {
		c.checker = checker
	}
}

// WithLogger sets a custom logger for the pipeline and everything it creates.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *pipelineConfig) {
		c.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer used by validators.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *pipelineConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets the OpenTelemetry meter used by validators.
func WithMeter(meter metric.Meter) Option {
	return func(c *pipelineConfig) {
		c.meter = meter
	}
}

// WithIDGenerator sets the generator for identities of nested objects.
func WithIDGenerator(gen document.IDGenerator) Option {
	return func(c *pipelineConfig) {
		c.gen = gen
	}
}

// WithClock sets the time source for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *pipelineConfig) {
		c.now = now
	}
}

// WithFeedType sets the container type of feeds. Default: feed.ItemList
func WithFeedType(t feed.Type) Option {
	return func(c *pipelineConfig) {
		c.feedType = t
	}
}

// WithSink sets where feeds publish their report on close.
func WithSink(s sink.Sink) Option {
	return func(c *pipelineConfig) {
		c.sink = s
	}
}

// WithKeepInvalid makes feeds write items that fail validation.
func WithKeepInvalid() Option {
	return func(c *pipelineConfig) {
		c.keepInvalid = true
	}
}
