// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist. It is a normal
// query outcome, not a failure.
var ErrNotFound = errors.New("record not found")

// ErrBackendUnavailable indicates a backend whose configuration is absent.
// This is a mode, not an error condition: the remote backend is optional
// infrastructure.
var ErrBackendUnavailable = errors.New("backend not configured")

// ErrCacheFault indicates the in-memory tier misbehaved. This should not
// occur in normal operation and is treated as fatal to the request.
var ErrCacheFault = errors.New("cache fault")

// ValidationError rejects a malformed operation (unknown collection,
// missing id) before any tier is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// errUnknownCollection builds the ValidationError for a collection name
// that is not in the registry.
func errUnknownCollection(name string) error {
	return &ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", name)}
}

// ConnectionError classifies a network or timeout failure against a
// backend. During a write it is swallowed into Persisted=false rather than
// failing the operation.
type ConnectionError struct {
	Tier string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s backend connection error: %v", e.Tier, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// CorruptionError indicates a loaded snapshot failed basic shape checks
// beyond what defensive repair can preserve. The reading tier recovers by
// reconstructing a default snapshot, keeping the corrupt payload aside, and
// logging a diagnostic event; data is never dropped silently.
type CorruptionError struct {
	Collection string
	Detail     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("collection %s: structural corruption: %s", e.Collection, e.Detail)
}

// IsCorruption reports whether err is (or wraps) a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
