package optimize

import (
	"fmt"
	"strings"

	"epubopt/internal/classify"
	"epubopt/internal/services"
)

// ClassError reports the failure of one class job. It matches
// services.ErrOptimizer as well as its underlying cause.
type ClassError struct {
	Class classify.Class
	Err   error
}

func (e *ClassError) Error() string {
	return fmt.Sprintf("%s optimizer: %v", e.Class, e.Err)
}

func (e *ClassError) Unwrap() []error {
	return []error{services.ErrOptimizer, e.Err}
}

// PartialError aggregates the failed jobs of a dispatch. Jobs that are not
// listed completed normally.
type PartialError struct {
	Errors []*ClassError
}

func (e *PartialError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ce := range e.Errors {
		parts = append(parts, ce.Error())
	}
	return fmt.Sprintf("%d optimizer job(s) failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, ce := range e.Errors {
		out = append(out, ce)
	}
	return out
}

// FailedClasses lists the classes that failed.
func (e *PartialError) FailedClasses() []classify.Class {
	out := make([]classify.Class, 0, len(e.Errors))
	for _, ce := range e.Errors {
		out = append(out, ce.Class)
	}
	return out
}
