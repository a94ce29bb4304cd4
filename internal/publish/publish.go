// Package publish defines the uniform contract the orchestrator drives
// platform adapters through, plus the text chunking and media batching
// rules shared by the adapters.
package publish

import "context"

// Payload is a fully resolved article ready for transmission.
type Payload struct {
	ArticleID int64
	Title     string
	Body      string
	Images    []string // local file paths, send order preserved
	Videos    []string // local file paths, sent separately from photos
}

// Options carries the per-send delivery decisions the orchestrator
// computes from batch position. Adapters never decide notification
// behavior themselves.
type Options struct {
	// NotifyOnFinal enables the notification on the very last unit the
	// adapter sends for this article. The orchestrator sets it only for
	// the final article of a batch, so a whole run produces exactly one
	// audible ping.
	NotifyOnFinal bool
}

// Outcome is the per-article, per-platform result. It is consumed by
// the orchestrator to decide the ledger update and is not persisted.
type Outcome struct {
	Platform string
	OK       bool
	PostIDs  []string
	Err      error
}

// Publisher is implemented once per platform. Publish performs network
// calls only; recording the article as published is the orchestrator's
// job.
type Publisher interface {
	Name() string

	// Enabled reports whether the adapter has the credentials it needs.
	// Disabled adapters are skipped with a warning instead of failing
	// the run.
	Enabled() bool

	Publish(ctx context.Context, p Payload, opts Options) Outcome
}
