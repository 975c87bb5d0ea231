package types

import "fmt"

// Sentinel errors forming the taxonomy in spec §7. Callers use errors.Is
// against these; wrapDBError-style helpers in each package attach
// operation context the way internal/storage/sqlite/errors.go does for the
// teacher's storage layer.
var (
	// C1 / C3
	ErrDuplicateID   = fmt.Errorf("duplicate id")
	ErrUnknownPrefix = fmt.Errorf("unknown id prefix")
	ErrIDExhausted   = fmt.Errorf("id counter exhausted for this millisecond")

	// C8
	ErrNotFound       = fmt.Errorf("not found")
	ErrAlreadyExists  = fmt.Errorf("already exists")
	ErrParentNotFound = fmt.Errorf("parent not found")
	ErrArchived       = fmt.Errorf("entry is archived")
	ErrCircularParent = fmt.Errorf("circular parent reference")
	ErrTextNotFound   = fmt.Errorf("text not found in body")
	ErrAmbiguousEdit  = fmt.Errorf("text occurs more than once in body")

	// C7
	ErrInvalidRange   = fmt.Errorf("start_id > end_id")
	ErrUnknownID      = fmt.Errorf("id not in valid_ids")
	ErrCancelled      = fmt.Errorf("worker cancelled")
	ErrSummarizer     = fmt.Errorf("summarizer error")
	ErrPromptTooLong  = fmt.Errorf("prompt too long")

	// C2
	ErrStoreBusy = fmt.Errorf("store busy")
)

// ConflictError is the CAS failure reported by C8 mutations (§7). It is a
// concrete struct rather than a sentinel because it carries data, per the
// "closed sum types, not inheritance hierarchies" guidance in §9.
type ConflictError struct {
	Slug     string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %q: expected version %d, actual %d", e.Slug, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrConflictKind) match any *ConflictError without
// comparing the embedded fields.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}

// ErrConflictKind is a zero-value sentinel usable with errors.Is to test
// "was this a CAS conflict" without caring about the expected/actual
// version numbers.
var ErrConflictKind = &ConflictError{}
