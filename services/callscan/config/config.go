// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads callscan configuration.
//
// Sources are layered: embedded defaults, an optional YAML file, CALLSCAN_*
// environment variables (optionally read from a .env file), then CLI flags
// applied by the caller. The merged result is validated once per layer
// change with Validate.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/callscan/services/callscan/analysis"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// MaxYAMLFileSize bounds the size of a user configuration file.
const MaxYAMLFileSize = 1 << 20

// ErrInvalidConfig wraps every configuration parse or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var configTracer = otel.Tracer("callscan.config")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the complete callscan configuration.
//
// Thread Safety: Not safe for concurrent mutation. Treat as immutable after
// Validate succeeds.
type Config struct {
	Analysis  analysis.AnalysisConfig `yaml:"analysis"`
	Batch     BatchConfig             `yaml:"batch"`
	Limits    LimitsConfig            `yaml:"limits"`
	Parser    ParserConfig            `yaml:"parser"`
	Log       LogConfig               `yaml:"log"`
	Ledger    LedgerConfig            `yaml:"ledger"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Storage   StorageConfig           `yaml:"storage"`
}

// BatchConfig controls sub-project discovery and worker fan-out.
type BatchConfig struct {
	// Workers is the number of workers. 0 means runtime.NumCPU().
	Workers int `yaml:"workers" validate:"gte=0"`

	// Marker is the file name that identifies a sub-project directory.
	Marker string `yaml:"marker" validate:"required,excludesall=/"`

	// InProcess runs workers as goroutines instead of child processes.
	InProcess bool `yaml:"in_process"`

	// Seed fixes the shuffle order. 0 means a random seed.
	Seed uint64 `yaml:"seed"`
}

// LimitsConfig holds per-worker resource ceilings in MiB. Memory and stack
// ceilings are on by default; zero disables a ceiling.
type LimitsConfig struct {
	MemoryMB       int64 `yaml:"memory_mb" validate:"gte=0"`
	StackMB        int64 `yaml:"stack_mb" validate:"gte=0"`
	AddressSpaceMB int64 `yaml:"address_space_mb" validate:"gte=0"`
}

// ParserConfig controls source file loading.
type ParserConfig struct {
	// MaxFileSize is the largest source file, in bytes, that will be parsed.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gt=0"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
}

// LedgerConfig locates the optional outcome ledger. Empty Dir disables it.
type LedgerConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig selects trace and metric outputs. Empty values disable.
type TelemetryConfig struct {
	TraceFile    string `yaml:"trace_file"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
	MetricsFile  string `yaml:"metrics_file"`
}

// StorageConfig configures remote artifact stores.
type StorageConfig struct {
	// GCSEndpoint overrides the Cloud Storage endpoint, e.g. for an emulator.
	GCSEndpoint string `yaml:"gcs_endpoint" validate:"omitempty,url"`

	// S3 configures s3:// artifact locations.
	S3 S3Config `yaml:"s3"`
}

// S3Config configures an S3-compatible endpoint. Empty credentials fall
// back to the AWS_* environment variables.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" validate:"omitempty,hostname_port|hostname"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := parse(defaultsYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded defaults.yaml is invalid: %v", err))
	}
	return cfg
}

// Load builds a configuration from defaults, a YAML file and the environment.
//
// Description:
//
//	Starts from the embedded defaults and overlays the YAML file at path
//	(skipped when path is empty), then the CALLSCAN_* variables visible
//	through lookup. Keys absent from the file keep their defaults.
//
// Inputs:
//   - ctx: Context for tracing.
//   - path: Optional YAML config file.
//   - lookup: Environment lookup, usually EnvLookup(dotenv). Nil skips
//     the environment layer.
//
// Outputs:
//   - *Config: The merged, validated configuration.
//   - error: Wraps ErrInvalidConfig on any parse or validation failure, or
//     the read error for an unreadable file.
func Load(ctx context.Context, path string, lookup LookupFunc) (*Config, error) {
	_, span := configTracer.Start(ctx, "config.Load")
	defer span.End()

	cfg := Default()
	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("config_file", path),
		attribute.Int("workers", cfg.Batch.Workers),
		attribute.Bool("in_process", cfg.Batch.InProcess),
	)
	slog.Debug("configuration loaded",
		slog.String("config_file", path),
		slog.Int("workers", cfg.Batch.Workers),
		slog.String("marker", cfg.Batch.Marker),
		slog.Bool("include_type_annotations", cfg.Analysis.IncludeTypeAnnotations))
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if filepath.Base(c.Batch.Marker) != c.Batch.Marker {
		return fmt.Errorf("%w: batch.marker must be a file name, got %q", ErrInvalidConfig, c.Batch.Marker)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size (%d > %d)",
			ErrInvalidConfig, path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

// parse decodes data over base, or over a zero Config when base is nil.
func parse(data []byte, base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = &Config{}
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
