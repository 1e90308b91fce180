package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMemoryNotFound is returned by reporting queries for unknown users.
	ErrMemoryNotFound = errors.New("user memory not found")
	// ErrInvalidUserID is returned by the memory store for an empty user ID.
	ErrInvalidUserID = errors.New("user id must not be empty")
	// ErrDuplicateEvent is returned when an event ID was already recorded for the user.
	ErrDuplicateEvent = errors.New("event already processed")
)

// ValidationError reports a malformed event. It is surfaced to the caller
// before any memory mutation.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid event: " + e.Reason
	}
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// GeneratorError reports a failed or timed-out content generation call.
type GeneratorError struct {
	Topic string
	Err   error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("generate artifact for %q: %v", e.Topic, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

// ArtifactParseError reports generator output that could not be turned into an
// Artifact. Raw holds the full generator output for diagnostics.
type ArtifactParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ArtifactParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse artifact: %s: %v", e.Reason, e.Err)
	}
	return "parse artifact: " + e.Reason
}

func (e *ArtifactParseError) Unwrap() error { return e.Err }
