// Package apperr defines the error kinds shared by the ingestion and query
// pipelines. Retry decisions are made on the kind, never on message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindUnknown              Kind = "unknown"
	KindDocumentRead         Kind = "document_read"
	KindEmbeddingProvider    Kind = "embedding_provider"
	KindSynthesisProvider    Kind = "synthesis_provider"
	KindVectorStore          Kind = "vector_store"
	KindSchemaMismatch       Kind = "schema_mismatch"
	KindInvalidArgument      Kind = "invalid_argument"
	KindInvalidConfiguration Kind = "invalid_configuration"
)

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with kind and op. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a step that failed with err may be attempted again.
// Unclassified errors are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindDocumentRead, KindSchemaMismatch, KindInvalidArgument, KindInvalidConfiguration:
		return false
	default:
		return true
	}
}
