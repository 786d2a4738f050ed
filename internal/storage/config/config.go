package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/datastor/config"
	"github.com/xtxerr/datastor/internal/constants"
)

// Config represents the complete store configuration.
// A store takes a copy at Open and never observes later changes.
type Config struct {
	// Root is the directory holding the day directories and archives.
	Root string `yaml:"root"`

	// Program is the name of the producing program, written into headers.
	Program string `yaml:"program"`

	// Format selects the record encoding used by the CLI: binary, json.
	Format string `yaml:"format"`

	// SyncMode controls when buffered records reach the file.
	// "none"  - flushed on rotation and close only
	// "flush" - flushed after each record
	// "fsync" - flushed and fsynced after each record
	SyncMode string `yaml:"sync_mode"`

	// LateRecords decides what happens to a record whose hour is
	// before the open bucket's: current, reject.
	LateRecords string `yaml:"late_records"`

	// BufferSize is the size of the bucket write buffer.
	// Default: 64KB
	BufferSize int `yaml:"buffer_size"`

	// Compression configures end-of-day archival.
	Compression CompressionConfig `yaml:"compression"`

	// Retention configures archive cleanup.
	Retention RetentionConfig `yaml:"retention"`
}

// CompressionConfig configures end-of-day archival.
type CompressionConfig struct {
	// Enabled archives a day directory once a later day begins.
	Enabled bool `yaml:"enabled"`

	// Algorithm is the archive codec: gzip, zstd, snappy, lz4, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the codec level; 0 selects the codec default.
	Level int `yaml:"level"`

	// RemoveOriginals deletes the day directory after the archive verifies.
	RemoveOriginals bool `yaml:"remove_originals"`
}

// RetentionConfig configures archive cleanup.
type RetentionConfig struct {
	// Archives is how long day archives are kept. Zero keeps them forever.
	Archives time.Duration `yaml:"archives"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Root:        defaults.DefaultRoot,
		Program:     defaults.DefaultProgram,
		Format:      constants.FormatBinary,
		SyncMode:    constants.SyncModeFlush,
		LateRecords: constants.LateRecordsCurrent,
		BufferSize:  defaults.DefaultBufferSize,
		Compression: CompressionConfig{
			Enabled:         true,
			Algorithm:       constants.AlgorithmGzip,
			Level:           defaults.DefaultCompressionLevel,
			RemoveOriginals: true,
		},
		Retention: RetentionConfig{
			Archives: defaults.DefaultArchiveRetention,
		},
	}
}

// New returns the default configuration for root and program with
// compression switched on or off. It mirrors the three-argument
// constructor callers use when they have no config file.
func New(root string, compress bool, program string) *Config {
	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Program = program
	cfg.Compression.Enabled = compress
	return cfg
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
