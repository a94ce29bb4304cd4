// Package ledger tracks which article ids have already been published.
// The ledger is the only mutable state shared between overlapping
// scheduled runs, so every mutation is persisted immediately under an
// exclusive lock: a killed run loses at most the one in-flight article.
package ledger

// Ledger is the dedup contract consumed by the orchestrator. An id
// present in the ledger is never published again.
type Ledger interface {
	// Load reads persisted state. Missing or corrupt state degrades to
	// an empty ledger (over-publication is recoverable, an aborted run
	// is not); implementations log and return nil in that case.
	Load() error

	// Contains reports whether id was already published.
	Contains(id int64) bool

	// Append records id as published and persists before returning.
	Append(id int64) error

	// Reset drops all retained ids (operator command).
	Reset() error

	// Size returns the number of retained ids.
	Size() int

	// IDs returns the retained ids, oldest first.
	IDs() []int64
}
