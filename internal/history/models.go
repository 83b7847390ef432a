package history

import "time"

// Status is the recorded outcome of one run.
type Status string

const (
	// StatusOK means every stage and optimizer succeeded.
	StatusOK Status = "ok"
	// StatusPartial means the archive was rewritten but some optimizer classes failed.
	StatusPartial Status = "partial"
	// StatusFailed means the original archive was left untouched.
	StatusFailed Status = "failed"
)

// Entry is one row of the run ledger.
type Entry struct {
	ID             int64
	RunID          string
	ArchivePath    string
	Status         Status
	StartedAt      time.Time
	FinishedAt     time.Time
	OriginalSize   int64
	NewSize        int64
	BytesSaved     int64
	Files          int
	Reverted       int
	SkippedEntries int
	FailedClasses  []string
	ErrorMessage   string
}

// Duration returns the wall time of the run.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Totals summarizes the whole ledger.
type Totals struct {
	Runs       int
	Failed     int
	Partial    int
	BytesSaved int64
}
