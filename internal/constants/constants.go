// Package constants provides centralized domain-specific constants
// for the entire datastor application.
//
// Every enumerated configuration value lives here together with its
// validity check, so config validation and the CLI agree on the sets.
package constants

// =============================================================================
// Record Formats
// =============================================================================

const (
	// FormatBinary stores length-delimited frames in .bin files.
	FormatBinary = "binary"

	// FormatJSON stores one JSON value per line in .json files.
	FormatJSON = "json"
)

// ValidFormats contains all valid record formats
var ValidFormats = []string{FormatBinary, FormatJSON}

// IsValidFormat checks if a record format is valid
func IsValidFormat(format string) bool {
	return contains(ValidFormats, format)
}

// =============================================================================
// Sync Modes
// =============================================================================

const (
	// SyncModeNone buffers writes until rotation or close.
	SyncModeNone = "none"

	// SyncModeFlush flushes the write buffer after every record.
	SyncModeFlush = "flush"

	// SyncModeFsync flushes and fsyncs after every record.
	SyncModeFsync = "fsync"
)

// ValidSyncModes contains all valid sync modes
var ValidSyncModes = []string{SyncModeNone, SyncModeFlush, SyncModeFsync}

// IsValidSyncMode checks if a sync mode is valid
func IsValidSyncMode(mode string) bool {
	return contains(ValidSyncModes, mode)
}

// =============================================================================
// Late Record Policies
// =============================================================================

const (
	// LateRecordsCurrent appends late records to the open bucket.
	LateRecordsCurrent = "current"

	// LateRecordsReject fails the store call for late records.
	LateRecordsReject = "reject"
)

// ValidLatePolicies contains all valid late record policies
var ValidLatePolicies = []string{LateRecordsCurrent, LateRecordsReject}

// IsValidLatePolicy checks if a late record policy is valid
func IsValidLatePolicy(policy string) bool {
	return contains(ValidLatePolicies, policy)
}

// =============================================================================
// Archive Compression Algorithms
// =============================================================================

const (
	AlgorithmGzip   = "gzip"
	AlgorithmZstd   = "zstd"
	AlgorithmSnappy = "snappy"
	AlgorithmLZ4    = "lz4"
	AlgorithmNone   = "none"
)

// ValidAlgorithms contains all valid archive compression algorithms
var ValidAlgorithms = []string{AlgorithmGzip, AlgorithmZstd, AlgorithmSnappy, AlgorithmLZ4, AlgorithmNone}

// IsValidAlgorithm checks if an archive compression algorithm is valid
func IsValidAlgorithm(algo string) bool {
	return contains(ValidAlgorithms, algo)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
