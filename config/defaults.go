// Package config provides configuration defaults and utilities
// for the datastor application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultRoot is the directory that receives the day directories.
	// Override via config: root
	DefaultRoot = "/var/lib/datastor"

	// DefaultProgram is written into every header frame and header line
	// when no program name is configured.
	// Override via config: program
	DefaultProgram = "datastor"

	// DefaultBufferSize is the size of the per-bucket write buffer.
	// Override via config: buffer_size
	DefaultBufferSize = 64 * 1024

	// MaxProgramNameLength bounds the program name carried in headers.
	MaxProgramNameLength = 256
)

// =============================================================================
// Filesystem Defaults
// =============================================================================

const (
	// DefaultDirMode is the permission used for root and day directories.
	DefaultDirMode = 0o755

	// DefaultFileMode is the permission used for bucket files and archives.
	DefaultFileMode = 0o644
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultCompressionLevel selects the codec's own default level.
	// Override via config: compression.level
	DefaultCompressionLevel = 0

	// DefaultArchiveRetention keeps archives forever.
	// Override via config: retention.archives
	DefaultArchiveRetention time.Duration = 0
)

// =============================================================================
// Inspection Defaults
// =============================================================================

const (
	// DefaultVerifyWorkers is the number of files verified in parallel.
	DefaultVerifyWorkers = 4

	// DefaultSketchAccuracy is the relative accuracy of payload size quantiles.
	DefaultSketchAccuracy = 0.01
)
