package encoder

import (
	"fmt"
	"io"

	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/node"
)

// SchemaContext is the "@context" written on standalone documents.
const SchemaContext = "http://schema.org"

// WriteDocument writes obj to w as a standalone JSON-LD document with
// "@context" set to SchemaContext, indented by four spaces. obj is not
// modified.
func WriteDocument(w io.Writer, obj document.Object) error {
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out[document.KeyContext] = SchemaContext

	b, err := document.Marshal(out, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// Write encodes n as typeName and writes it to w with WriteDocument.
func (e *Encoder) Write(w io.Writer, n node.Node, typeName string) error {
	obj, err := e.EncodeObject(n, typeName)
	if err != nil {
		return err
	}
	return WriteDocument(w, obj)
}
