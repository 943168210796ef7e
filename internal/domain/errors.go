package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkMissing marks items that cannot be stored because they carry no usable link.
	ErrLinkMissing = errors.New("item has no usable link")
	// ErrNotFound is returned by point lookups.
	ErrNotFound = errors.New("not found")
	// ErrSweepInProgress is returned when an archival sweep is already running.
	ErrSweepInProgress = errors.New("archival sweep already in progress")
	// ErrPartialArchive marks a partition whose copy phase did not complete.
	ErrPartialArchive = errors.New("partition copy incomplete")
)

// FetchErrorKind classifies feed retrieval failures.
type FetchErrorKind string

const (
	FetchNetwork FetchErrorKind = "network"
	FetchTimeout FetchErrorKind = "timeout"
	FetchStatus  FetchErrorKind = "status"
	FetchBody    FetchErrorKind = "body"
	FetchCircuit FetchErrorKind = "circuit_open"
)

// FetchError is returned by feed fetchers for ordinary transport failures.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError wraps backend failures; Transient ones are worth retrying.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable storage error.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}
