package model

import "errors"

// Expected failure modes of the engine. Public methods return these wrapped
// with context rather than panicking; the UI layer matches with errors.Is.
var (
	// ErrPermissionDenied means the user declined location permission.
	// Recovered locally by falling back to persisted/last-known location.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrGpsUnavailable means no fix was obtained within the bounded wait.
	ErrGpsUnavailable = errors.New("gps unavailable")

	// ErrFetchTimeout means a marker fetch exceeded its deadline.
	ErrFetchTimeout = errors.New("marker fetch timed out")

	// ErrFetch covers non-timeout marker fetch failures.
	ErrFetch = errors.New("marker fetch failed")

	// ErrSubmit means a validation outcome could not be recorded remotely.
	ErrSubmit = errors.New("validation submit failed")

	// ErrDispatch means a notification could not be delivered.
	ErrDispatch = errors.New("notification dispatch failed")

	// ErrInit means engine initialization failed after exhausting retries.
	ErrInit = errors.New("tracking initialization failed")
)
