// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for every failure the store can report
// - Error category checking functions
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Frame codec errors
	ErrPayloadTooLarge = errors.New("payload too large for frame")
	ErrCorruptFrame    = errors.New("corrupt frame")
	ErrTruncatedFrame  = errors.New("truncated frame")
	ErrInvalidHeader   = errors.New("invalid header frame")

	// Write path errors
	ErrOutOfOrder = errors.New("record is older than the open bucket")
	ErrSerialize  = errors.New("record serialization failed")
	ErrClosed     = errors.New("store is closed")

	// Archive errors
	ErrCompressionFailure = errors.New("compression failed")
	ErrArchiveExists      = errors.New("archive already exists")
	ErrArchiveMismatch    = errors.New("archive does not match source files")
	ErrUnknownCodec       = errors.New("unknown compression algorithm")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidName   = errors.New("invalid name")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsFrameError returns true if err was produced while decoding a frame.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrCorruptFrame) ||
		errors.Is(err, ErrTruncatedFrame) ||
		errors.Is(err, ErrInvalidHeader)
}

// IsArchiveError returns true if err came out of the archival path.
func IsArchiveError(err error) bool {
	return errors.Is(err, ErrCompressionFailure) ||
		errors.Is(err, ErrArchiveExists) ||
		errors.Is(err, ErrArchiveMismatch) ||
		errors.Is(err, ErrUnknownCodec)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidName)
}

// IsRetriable returns true if repeating the same call may succeed.
// Rejected input (oversized payloads, late records, unserializable
// values) never becomes valid on retry.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPayloadTooLarge) &&
		!errors.Is(err, ErrOutOfOrder) &&
		!errors.Is(err, ErrSerialize) &&
		!errors.Is(err, ErrClosed) &&
		!IsValidation(err)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewCompressionFailure wraps an archival error so that it matches
// ErrCompressionFailure as well as the underlying cause.
func NewCompressionFailure(dir string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCompressionFailure, dir, err)
}
