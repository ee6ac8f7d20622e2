// internal/core/errors.go
package core

import "errors"

var (
	// ErrNotConfigured: unknown logical camera id.
	ErrNotConfigured = errors.New("camera not configured")
	// ErrOpenFailed: device busy or unavailable. Retryable.
	ErrOpenFailed = errors.New("camera open failed")
	// ErrDecodeFailed: a single frame could not be encoded. The frame is skipped.
	ErrDecodeFailed = errors.New("frame encode failed")
	// ErrStorageFailed: database or snapshot write error. Logged, never fatal.
	ErrStorageFailed = errors.New("storage write failed")
	// ErrValidationFailed: rejected request (bad upload, duplicate physical id...).
	ErrValidationFailed = errors.New("validation failed")
	// ErrNotFound: unknown job, camera or alert id.
	ErrNotFound = errors.New("not found")

	// ErrReleased is returned by a handle read after the handle was released.
	ErrReleased = errors.New("camera handle released")
	// ErrClosed is returned once the camera manager has been shut down.
	ErrClosed = errors.New("camera manager closed")
)
