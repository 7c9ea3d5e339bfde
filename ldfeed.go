package ldfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/encoder"
	"github.com/zero-day-ai/ldfeed/feed"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/validator"
)

// Pipeline bundles an encoder with a loaded constraint checker and creates
// validators and feed writers sharing them. A Pipeline is safe for concurrent
// use; the validators and writers it creates are not.
type Pipeline struct {
	cfg     pipelineConfig
	enc     *encoder.Encoder
	checker constraint.Checker
}

// New builds a pipeline. When a constraint source is configured it is loaded
// before New returns.
func New(ctx context.Context, opts ...Option) (*Pipeline, error) {
	cfg := pipelineConfig{
		logger:   slog.Default(),
		feedType: feed.ItemList,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.desc == nil {
		return nil, feederr.InvalidConfig("ldfeed.New", "descriptor is required")
	}
	if _, err := feed.ParseType(string(cfg.feedType)); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, enc: encoder.New(cfg.desc), checker: cfg.checker}
	if p.checker == nil && cfg.constraints != nil {
		checker, err := constraint.NewChecker(constraint.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
		if err := checker.Load(ctx, cfg.constraints); err != nil {
			return nil, err
		}
		p.checker = checker
	}
	return p, nil
}

// Descriptor returns the pipeline's descriptor.
func (p *Pipeline) Descriptor() *descriptor.Descriptor {
	return p.cfg.desc
}

// Encoder returns the pipeline's encoder.
func (p *Pipeline) Encoder() *encoder.Encoder {
	return p.enc
}

// Validates reports whether the pipeline has a constraint checker.
func (p *Pipeline) Validates() bool {
	return p.checker != nil
}

// NewValidator opens a validation session.
func (p *Pipeline) NewValidator() (*validator.Validator, error) {
	if p.checker == nil {
		return nil, feederr.InvalidConfig("ldfeed.NewValidator", "no constraint set configured")
	}

	opts := []validator.Option{validator.WithLogger(p.cfg.logger)}
	if p.cfg.tracer != nil {
		opts = append(opts, validator.WithTracer(p.cfg.tracer))
	}
	if p.cfg.meter != nil {
		opts = append(opts, validator.WithMeter(p.cfg.meter))
	}
	if p.cfg.gen != nil {
		opts = append(opts, validator.WithIDGenerator(p.cfg.gen))
	}
	if p.cfg.now != nil {
		opts = append(opts, validator.WithClock(p.cfg.now))
	}
	return validator.New(p.checker, opts...)
}

// NewFeed writes a feed header to out and returns the writer. Items are
// validated when the pipeline has a checker.
func (p *Pipeline) NewFeed(out io.Writer) (*feed.Writer, error) {
	opts := []feed.Option{
		feed.WithType(p.cfg.feedType),
		feed.WithLogger(p.cfg.logger),
	}
	if p.cfg.keepInvalid {
		opts = append(opts, feed.WithKeepInvalid())
	}
	if p.checker != nil {
		v, err := p.NewValidator()
		if err != nil {
			return nil, err
		}
		opts = append(opts, feed.WithValidator(v))
		if p.cfg.sink != nil {
			opts = append(opts, feed.WithSink(p.cfg.sink))
		}
	}
	return feed.New(out, p.enc, opts...)
}

// Validate checks docs in one session and returns the report. Documents
// that cannot be validated are skipped and their errors joined into the
// returned error, which accompanies a complete report.
func (p *Pipeline) Validate(ctx context.Context, docs ...document.Object) (*report.Report, error) {
	v, err := p.NewValidator()
	if err != nil {
		return nil, err
	}

	var errs []error
	for i, doc := range docs {
		if _, err := v.AddEntity(ctx, doc); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
		}
	}

	r, err := v.Close()
	if err != nil {
		return nil, err
	}
	if p.cfg.sink != nil {
		if err := p.cfg.sink.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish report: %w", err))
		}
	}
	return r, errors.Join(errs...)
}
