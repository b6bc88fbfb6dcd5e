// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable callscan reads.
const EnvPrefix = "CALLSCAN_"

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a lookup that prefers the process environment and falls
// back to values read from a .env file.
func EnvLookup(dotenv map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// ReadDotEnv reads KEY=VALUE pairs from a .env file without touching the
// process environment. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return values, nil
}

// envBinding maps one variable (without prefix) onto a Config field.
type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"TYPES", func(c *Config, v string) error { return setBool(&c.Analysis.IncludeTypeAnnotations, v) }},
	{"WORKERS", func(c *Config, v string) error { return setInt(&c.Batch.Workers, v) }},
	{"MARKER", func(c *Config, v string) error { c.Batch.Marker = v; return nil }},
	{"IN_PROCESS", func(c *Config, v string) error { return setBool(&c.Batch.InProcess, v) }},
	{"SEED", func(c *Config, v string) error { return setUint64(&c.Batch.Seed, v) }},
	{"MEMORY_LIMIT_MB", func(c *Config, v string) error { return setInt64(&c.Limits.MemoryMB, v) }},
	{"STACK_LIMIT_MB", func(c *Config, v string) error { return setInt64(&c.Limits.StackMB, v) }},
	{"ADDRESS_SPACE_MB", func(c *Config, v string) error { return setInt64(&c.Limits.AddressSpaceMB, v) }},
	{"MAX_FILE_SIZE", func(c *Config, v string) error { return setInt64(&c.Parser.MaxFileSize, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil }},
	{"LEDGER_DIR", func(c *Config, v string) error { c.Ledger.Dir = v; return nil }},
	{"TRACE_FILE", func(c *Config, v string) error { c.Telemetry.TraceFile = v; return nil }},
	{"OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
	{"METRICS_FILE", func(c *Config, v string) error { c.Telemetry.MetricsFile = v; return nil }},
	{"GCS_ENDPOINT", func(c *Config, v string) error { c.Storage.GCSEndpoint = v; return nil }},
	{"S3_ENDPOINT", func(c *Config, v string) error { c.Storage.S3.Endpoint = v; return nil }},
	{"S3_REGION", func(c *Config, v string) error { c.Storage.S3.Region = v; return nil }},
	{"S3_ACCESS_KEY", func(c *Config, v string) error { c.Storage.S3.AccessKey = v; return nil }},
	{"S3_SECRET_KEY", func(c *Config, v string) error { c.Storage.S3.SecretKey = v; return nil }},
	{"S3_USE_SSL", func(c *Config, v string) error { return setBool(&c.Storage.S3.UseSSL, v) }},
}

// ApplyEnv overlays CALLSCAN_* variables onto cfg.
//
// Empty values are ignored. A value that does not parse as the field's type
// is an ErrInvalidConfig error naming the variable.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		key := EnvPrefix + b.name
		raw, ok := lookup(key)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		if err := b.apply(cfg, raw); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
		}
	}
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setUint64(dst *uint64, v string) error {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
