package memengine

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable means the Store could not be reached or returned a
// transient failure. Callers may retry; no partial state is left behind
// because every write is idempotent on memory_id.
type ErrStoreUnavailable struct {
	Op  string
	Err error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrStoreUnavailable) Unwrap() error { return e.Err }

// ErrModelUnavailable means an embedding or extraction model endpoint could
// not be reached. The caller is expected to degrade: extraction returns an
// empty candidate list, retrieval omits the vector path.
type ErrModelUnavailable struct {
	Model string
	Err   error
}

func (e *ErrModelUnavailable) Error() string {
	return fmt.Sprintf("%s: %v", e.Model, e.Err)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Err }

// ErrDeadlineExceeded is returned when a caller-supplied deadline elapsed
// before an operation finished. The operation's best-effort partial result,
// if any, is still valid and is returned alongside this error by the
// non-erroring callers (Retrieve never surfaces this to its own caller; it
// returns a possibly-empty result set instead).
var ErrDeadlineExceeded = errors.New("memengine: deadline exceeded")

// ErrInvariantViolation marks a data invariant violation found on read
// (e.g. an orphan superseding pointer). These are logged at error level and
// the offending pointer is ignored; the engine never self-repairs on the
// hot path.
type ErrInvariantViolation struct {
	MemoryID string
	Detail   string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.MemoryID, e.Detail)
}

// ErrMalformedCandidate marks a candidate memory rejected at the boundary
// (empty content, invalid type, out-of-range confidence). It is only ever
// logged, never propagated to a caller of IngestConversation.
type ErrMalformedCandidate struct {
	Reason string
}

func (e *ErrMalformedCandidate) Error() string {
	return fmt.Sprintf("malformed candidate: %s", e.Reason)
}

// ErrHTTP is a non-2xx response from an external extraction/embedding
// endpoint, used by the HTTP model providers (provider/extract,
// provider/embed).
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
