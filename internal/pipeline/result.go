package pipeline

import (
	"time"

	"epubopt/internal/epub"
	"epubopt/internal/optimize"
)

// Result describes one pipeline run. It is populated as far as the run got,
// so failed runs still report their transitions and sizes known so far.
type Result struct {
	RunID   string
	Archive string
	State   State

	OriginalSize int64
	NewSize      int64
	// BytesSaved is OriginalSize - NewSize and is negative when the archive grew.
	BytesSaved int64

	Report          optimize.Report
	OptimizeSkipped bool
	SkippedEntries  []epub.SkippedEntry
	Transitions     []Transition

	StartedAt  time.Time
	FinishedAt time.Time
}

// Replaced reports whether the original archive was swapped for the rewrite.
func (r Result) Replaced() bool {
	for _, tr := range r.Transitions {
		if tr.To == StateReplaced {
			return true
		}
	}
	return false
}

// SavedPercent returns BytesSaved as a percentage of OriginalSize.
func (r Result) SavedPercent() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.BytesSaved) * 100 / float64(r.OriginalSize)
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
