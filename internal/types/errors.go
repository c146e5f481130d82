package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// The pipeline distinguishes four failure classes: transient (retried where
// detected), permanent per chunk (chunk skipped, document proceeds),
// permanent per document (document Failed, cursor preserved) and fatal
// configuration (surfaced before any document node exists).

// TransientError marks a failure worth retrying with backoff: rate limits,
// network timeouts, store deadlocks.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ChunkError is permanent for a single chunk window (malformed LLM output,
// content filter rejection). The chunk is skipped with a warning; it never
// aborts the document on its own.
type ChunkError struct {
	Position int
	Err      error
}

func (e *ChunkError) Error() string { return fmt.Sprintf("chunk %d: %v", e.Position, e.Err) }
func (e *ChunkError) Unwrap() error { return e.Err }

// DocumentError is permanent for the whole document. The resume cursor is
// preserved at the last successfully merged position.
type DocumentError struct {
	DocumentID uuid.UUID
	Position   int
	RetryMode  RetryMode
	Err        error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s (chunk %d, mode %s): %v", e.DocumentID, e.Position, e.RetryMode, e.Err)
}
func (e *DocumentError) Unwrap() error { return e.Err }

// StoreWriteError surfaces a graph write that failed after the adapter's
// internal retries were exhausted.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string { return fmt.Sprintf("store write %s: %v", e.Op, e.Err) }
func (e *StoreWriteError) Unwrap() error { return e.Err }

// DuplicateDocumentError is returned when a source identifier already has a
// document node that is not in a retryable state.
type DuplicateDocumentError struct {
	FileName string
	Status   DocumentStatus
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("document %q already exists with status %s", e.FileName, e.Status)
}

// SchemaValidationError names the dangling reference or malformed input that
// prevented schema normalization.
type SchemaValidationError struct {
	Ref    string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("schema validation: %s (ref %q)", e.Reason, e.Ref)
	}
	return fmt.Sprintf("schema validation: %s", e.Reason)
}

// Loader errors that must stay distinguishable from generic I/O failure.
var (
	ErrSourceNotFound     = errors.New("source not found")
	ErrSourceAccessDenied = errors.New("source access denied")
	ErrNoContent          = errors.New("no content extracted")
)
