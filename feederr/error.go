package feederr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for the error kinds raised by the encoder, the descriptor
// loader, the constraint checker and the validator lifecycle.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrMalformedNode indicates a node does not match the shape its declared
	// type requires.
	ErrMalformedNode = errors.New("malformed node")

	// ErrIncompleteDatatype indicates a structured datatype is missing required
	// sub-fields.
	ErrIncompleteDatatype = errors.New("incomplete datatype")

	// ErrUnresolvedTimezone indicates a timezone suffix that does not parse as an
	// ISO-8601 offset.
	ErrUnresolvedTimezone = errors.New("unresolved timezone")

	// ErrSchemaLoad indicates a descriptor or constraint set failed to load.
	ErrSchemaLoad = errors.New("schema load failed")

	// ErrSequence indicates an operation invoked out of its required order, such
	// as validating before constraints are loaded or adding an item after close.
	// Sequence errors are programming errors.
	ErrSequence = errors.New("operation out of sequence")

	// ErrInvalidConfig indicates the provided configuration is invalid or
	// incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds categorize errors by their type.
const (
	// KindMalformedNode represents node shape mismatches.
	KindMalformedNode = "malformed_node"

	// KindIncompleteDatatype represents datatypes with unset required sub-fields.
	KindIncompleteDatatype = "incomplete_datatype"

	// KindUnresolvedTimezone represents timezone offsets that fail to parse.
	KindUnresolvedTimezone = "unresolved_timezone"

	// KindSchemaLoad represents descriptor and constraint loading failures.
	KindSchemaLoad = "schema_load"

	// KindSequence represents lifecycle ordering violations.
	KindSequence = "sequence"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &feederr.Error{
//		Op:   "encoder.Encode",
//		Kind: feederr.KindIncompleteDatatype,
//		Err:  feederr.ErrIncompleteDatatype,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "encoder.Encode", "validator.AddEntity").
	Op string

	// Kind categorizes the error (e.g., KindMalformedNode, KindSequence).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	// IncompleteDatatype errors carry the datatype kind under "datatype".
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ldfeed: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("ldfeed: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("ldfeed: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and errors.As()
// to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching, allowing comparison based on the kind of the
// target Error or on the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// Datatype returns the datatype kind carried by an IncompleteDatatype error,
// or the empty string.
func (e *Error) Datatype() string {
	if e == nil || e.Context == nil {
		return ""
	}
	s, _ := e.Context["datatype"].(string)
	return s
}

// wrap attaches a sentinel to a detail error so both match with errors.Is.
func wrap(sentinel error, detail error) error {
	if detail == nil {
		return sentinel
	}
	if errors.Is(detail, sentinel) {
		return detail
	}
	return fmt.Errorf("%w: %w", sentinel, detail)
}

// MalformedNode creates an Error with KindMalformedNode.
func MalformedNode(op string, format string, args ...any) *Error {
	return &Error{
		Op:   op,
		Kind: KindMalformedNode,
		Err:  wrap(ErrMalformedNode, fmt.Errorf(format, args...)),
	}
}

// IncompleteDatatype creates an Error with KindIncompleteDatatype carrying the
// datatype kind (e.g. "Date", "Duration").
func IncompleteDatatype(op string, datatype string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindIncompleteDatatype,
		Err:     ErrIncompleteDatatype,
		Context: map[string]any{"datatype": datatype},
	}
}

// UnresolvedTimezone creates an Error with KindUnresolvedTimezone.
func UnresolvedTimezone(op string, offset string, err error) *Error {
	return &Error{
		Op:      op,
		Kind:    KindUnresolvedTimezone,
		Err:     wrap(ErrUnresolvedTimezone, err),
		Context: map[string]any{"offset": offset},
	}
}

// SchemaLoad creates an Error with KindSchemaLoad.
func SchemaLoad(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindSchemaLoad,
		Err:  wrap(ErrSchemaLoad, err),
	}
}

// Sequence creates an Error with KindSequence.
func Sequence(op string, msg string) *Error {
	return &Error{
		Op:   op,
		Kind: KindSequence,
		Err:  wrap(ErrSequence, errors.New(msg)),
	}
}

// InvalidConfig creates an Error with KindConfiguration.
func InvalidConfig(op string, msg string) *Error {
	return &Error{
		Op:   op,
		Kind: KindConfiguration,
		Err:  wrap(ErrInvalidConfig, errors.New(msg)),
	}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
