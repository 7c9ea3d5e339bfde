// Package feed streams encoded entities into a single JSON-LD ItemList or
// DataFeed document.
//
// Items are written as they arrive, so a feed of any size is produced in
// constant memory. When a validator is attached, items that do not conform
// are left out of the feed and still appear in the validation report.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/encoder"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/sink"
	"github.com/zero-day-ai/ldfeed/validator"
)

// Context is the "@context" of the feed document.
const Context = "https://schema.org"

// Type is the kind of feed document.
type Type string

const (
	ItemList Type = validator.TypeItemList
	DataFeed Type = validator.TypeDataFeed
)

// ParseType maps a name to a Type. An empty name means ItemList.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case ItemList, "":
		return ItemList, nil
	case DataFeed:
		return DataFeed, nil
	default:
		return "", fmt.Errorf("feed type must be %q or %q, got %q", ItemList, DataFeed, s)
	}
}

func (t Type) elementKey() string {
	if t == DataFeed {
		return validator.KeyDataFeedElement
	}
	return validator.KeyItemListElement
}

// Option configures a Writer.
type Option func(*Writer)

// WithType sets the feed type. Defaults to ItemList.
func WithType(t Type) Option {
	return func(w *Writer) {
		w.typ = t
	}
}

// WithValidator validates every item before it is written. The validator is
// closed when the writer is closed.
func WithValidator(v *validator.Validator) Option {
	return func(w *Writer) {
		w.validator = v
	}
}

// WithSink sets where the validation report goes on Close.
func WithSink(s sink.Sink) Option {
	return func(w *Writer) {
		w.sink = s
	}
}

// WithKeepInvalid writes items that fail validation instead of skipping them.
func WithKeepInvalid() Option {
	return func(w *Writer) {
		w.keepInvalid = true
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer writes a feed document item by item. It is not safe for concurrent
// use.
type Writer struct {
	out         io.Writer
	enc         *encoder.Encoder
	typ         Type
	validator   *validator.Validator
	sink        sink.Sink
	keepInvalid bool
	logger      *slog.Logger

	count   int
	skipped int
	closed  bool
}

// New writes the feed header to out and returns the writer.
func New(out io.Writer, enc *encoder.Encoder, opts ...Option) (*Writer, error) {
	w := &Writer{
		out:    out,
		enc:    enc,
		typ:    ItemList,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := ParseType(string(w.typ)); err != nil {
		return nil, err
	}

	header := fmt.Sprintf("{\n\t\"@context\":%q,\n\t\"@type\":%q,\n\t%q:[", Context, w.typ, w.typ.elementKey())
	if _, err := io.WriteString(out, header); err != nil {
		return nil, fmt.Errorf("failed to write feed header: %w", err)
	}
	return w, nil
}

// AddItem encodes n as typeName and adds it to the feed. It reports whether
// the item was written.
func (w *Writer) AddItem(ctx context.Context, n node.Node, typeName string) (bool, error) {
	if w.closed {
		return false, feederr.Sequence("feed.AddItem", "feed writer has already been closed")
	}
	if w.enc == nil {
		return false, fmt.Errorf("feed writer has no encoder")
	}

	doc, err := w.enc.EncodeObject(n, typeName)
	if err != nil {
		return false, err
	}
	return w.AddDocument(ctx, doc)
}

// AddDocument adds an already encoded entity to the feed. It reports whether
// the document was written: a non-conforming document is skipped when a
// validator is attached, unless WithKeepInvalid was given.
func (w *Writer) AddDocument(ctx context.Context, doc document.Object) (bool, error) {
	if w.closed {
		return false, feederr.Sequence("feed.AddDocument", "feed writer has already been closed")
	}

	if w.validator != nil {
		conforms, err := w.validator.AddEntity(ctx, doc)
		if err != nil {
			return false, err
		}
		if !conforms && !w.keepInvalid {
			w.skipped++
			w.logger.Debug("skipping non-conforming item",
				"component", "feed",
				"type", document.TypeOf(doc))
			return false, nil
		}
	}

	var item any = doc
	if w.typ == ItemList {
		item = document.Object{
			document.KeyType:  validator.TypeListItem,
			validator.KeyItem: doc,
			"position":        w.count + 1,
		}
	}

	b, err := document.Marshal(item, "", "    ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal feed item: %w", err)
	}

	var buf bytes.Buffer
	if w.count > 0 {
		buf.WriteByte(',')
	}
	buf.WriteString("\n\t\t")
	buf.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\n\t\t")))
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return false, fmt.Errorf("failed to write feed item: %w", err)
	}

	w.count++
	return true, nil
}

// Count returns the number of items written.
func (w *Writer) Count() int {
	return w.count
}

// Skipped returns the number of items left out for failing validation.
func (w *Writer) Skipped() int {
	return w.skipped
}

// Close terminates the feed document. With a validator attached it also
// closes the validator, publishes the report to the sink and returns it;
// otherwise the report is nil. The underlying writer is not closed.
func (w *Writer) Close(ctx context.Context) (*report.Report, error) {
	if w.closed {
		return nil, feederr.Sequence("feed.Close", "feed writer has already been closed")
	}
	w.closed = true

	if _, err := io.WriteString(w.out, "\n\t]\n}\n"); err != nil {
		return nil, fmt.Errorf("failed to terminate feed: %w", err)
	}
	w.logger.Info("feed written",
		"component", "feed",
		"type", string(w.typ),
		"items", w.count,
		"skipped", w.skipped)

	if w.validator == nil {
		return nil, nil
	}
	r, err := w.validator.Close()
	if err != nil {
		return nil, err
	}
	if w.sink != nil {
		if err := w.sink.Publish(ctx, r); err != nil {
			return r, fmt.Errorf("failed to publish report: %w", err)
		}
	}
	return r, nil
}
