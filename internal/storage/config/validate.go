package config

import (
	"errors"
	"fmt"
	"os"

	defaults "github.com/xtxerr/datastor/config"
	"github.com/xtxerr/datastor/internal/constants"
	dserrors "github.com/xtxerr/datastor/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// Root
	if c.Root == "" {
		errs = append(errs, dserrors.NewMissingField("root"))
	}

	// Program
	if err := ValidateProgram(c.Program); err != nil {
		errs = append(errs, fmt.Errorf("program: %w", err))
	}

	if !constants.IsValidFormat(c.Format) {
		errs = append(errs, dserrors.NewInvalidValue("format", c.Format,
			fmt.Sprintf("must be one of %v", constants.ValidFormats)))
	}

	if !constants.IsValidSyncMode(c.SyncMode) {
		errs = append(errs, dserrors.NewInvalidValue("sync_mode", c.SyncMode,
			fmt.Sprintf("must be one of %v", constants.ValidSyncModes)))
	}

	if !constants.IsValidLatePolicy(c.LateRecords) {
		errs = append(errs, dserrors.NewInvalidValue("late_records", c.LateRecords,
			fmt.Sprintf("must be one of %v", constants.ValidLatePolicies)))
	}

	if c.BufferSize < 0 {
		errs = append(errs, dserrors.NewValidation("buffer_size", "must be non-negative"))
	}

	// Compression
	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	// Retention
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateProgram checks that a program name can be carried verbatim in
// the ASCII header frame and the JSON header line.
func ValidateProgram(name string) error {
	if name == "" {
		return dserrors.NewMissingField("program")
	}
	if len(name) > defaults.MaxProgramNameLength {
		return fmt.Errorf("longer than %d bytes: %w", defaults.MaxProgramNameLength, dserrors.ErrInvalidName)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return fmt.Errorf("byte %d is not printable ASCII: %w", i, dserrors.ErrInvalidName)
		}
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	var errs []error

	if !constants.IsValidAlgorithm(c.Algorithm) {
		errs = append(errs, dserrors.NewInvalidValue("algorithm", c.Algorithm,
			fmt.Sprintf("must be one of %v", constants.ValidAlgorithms)))
	}

	switch c.Algorithm {
	case constants.AlgorithmGzip:
		if c.Level < -2 || c.Level > 9 {
			errs = append(errs, errors.New("level for gzip must be between -2 and 9"))
		}
	case constants.AlgorithmZstd:
		if c.Level < 0 || c.Level > 22 {
			errs = append(errs, errors.New("level for zstd must be between 0 and 22"))
		}
	case constants.AlgorithmLZ4:
		if c.Level < 0 || c.Level > 9 {
			errs = append(errs, errors.New("level for lz4 must be between 0 and 9"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if c.Archives < 0 {
		return errors.New("archives retention must be non-negative")
	}
	return nil
}

// EnsureRoot creates the root directory.
func (c *Config) EnsureRoot() error {
	if err := os.MkdirAll(c.Root, defaults.DefaultDirMode); err != nil {
		return fmt.Errorf("create root %s: %w", c.Root, err)
	}
	return nil
}
