package optimize

import (
	"time"

	"epubopt/internal/classify"
)

// Status is the outcome of one class job.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
)

// FileResult records the size of one file before and after its optimizer ran.
type FileResult struct {
	Path   string
	Class  classify.Class
	Before int64
	After  int64
	// Reverted is set when the regression guard restored the original bytes.
	Reverted bool
}

// Saved returns the bytes removed from the file; negative means it grew.
func (f FileResult) Saved() int64 {
	return f.Before - f.After
}

// ClassResult is the outcome of one class job.
type ClassResult struct {
	Class       classify.Class
	Status      Status
	Files       []FileResult
	Invocations int
	Duration    time.Duration
	Err         error
}

// Saved returns the bytes removed across the class.
func (c ClassResult) Saved() int64 {
	var total int64
	for _, f := range c.Files {
		total += f.Saved()
	}
	return total
}

// Reverted returns how many files the regression guard restored.
func (c ClassResult) Reverted() int {
	n := 0
	for _, f := range c.Files {
		if f.Reverted {
			n++
		}
	}
	return n
}

// Report aggregates every class job of one dispatch, in class order.
type Report struct {
	Classes []ClassResult
}

// Files returns every per-file result in class then path order.
func (r Report) Files() []FileResult {
	var out []FileResult
	for _, c := range r.Classes {
		out = append(out, c.Files...)
	}
	return out
}

// BytesSaved sums the per-file deltas. It measures resource bytes, not
// archive bytes; the archive delta also depends on deflate.
func (r Report) BytesSaved() int64 {
	var total int64
	for _, c := range r.Classes {
		total += c.Saved()
	}
	return total
}

// Failed returns the classes whose job failed.
func (r Report) Failed() []ClassResult {
	var out []ClassResult
	for _, c := range r.Classes {
		if c.Status == StatusFailed {
			out = append(out, c)
		}
	}
	return out
}
