// Package sink publishes finished validation reports.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zero-day-ai/ldfeed/report"
)

// Sink receives the report produced when a validator is closed.
type Sink interface {
	Publish(ctx context.Context, r *report.Report) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, r *report.Report) error

// Publish implements Sink.
func (f Func) Publish(ctx context.Context, r *report.Report) error {
	return f(ctx, r)
}

// FileSink renders reports to a file, replacing its previous content.
type FileSink struct {
	Path   string
	Format report.Format
}

// Publish implements Sink. The report is rendered to a temporary file in the
// same directory and renamed into place.
func (s FileSink) Publish(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := report.Render(tmp, r, s.Format); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

// Multi publishes to every sink in order and stops at the first error.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, r *report.Report) error {
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
