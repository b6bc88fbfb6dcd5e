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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Analysis.IncludeTypeAnnotations)
	assert.Equal(t, 0, cfg.Batch.Workers)
	assert.Equal(t, "tsconfig.json", cfg.Batch.Marker)
	assert.Equal(t, int64(10<<20), cfg.Parser.MaxFileSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.Empty(t, cfg.Ledger.Dir)

	assert.Equal(t, int64(2048), cfg.Limits.MemoryMB)
	assert.Equal(t, int64(2048), cfg.Limits.StackMB)
	assert.Zero(t, cfg.Limits.AddressSpaceMB)
}

func TestLoad_LimitsOptOut(t *testing.T) {
	env := mapLookup(map[string]string{
		"CALLSCAN_MEMORY_LIMIT_MB": "0",
		"CALLSCAN_STACK_LIMIT_MB":  "0",
	})

	cfg, err := Load(context.Background(), "", env)
	require.NoError(t, err)
	assert.Zero(t, cfg.Limits.MemoryMB)
	assert.Zero(t, cfg.Limits.StackMB)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "callscan.yaml", `
batch:
  workers: 4
  marker: package.json
log:
  level: debug
`)
	env := mapLookup(map[string]string{
		"CALLSCAN_WORKERS": "8",
		"CALLSCAN_TYPES":   "true",
		"CALLSCAN_SEED":    "42",
		"UNRELATED":        "x",
	})

	cfg, err := Load(context.Background(), path, env)
	require.NoError(t, err)

	// Environment beats file.
	assert.Equal(t, 8, cfg.Batch.Workers)
	// File beats defaults.
	assert.Equal(t, "package.json", cfg.Batch.Marker)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults fill the rest.
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.True(t, cfg.Analysis.IncludeTypeAnnotations)
	assert.Equal(t, uint64(42), cfg.Batch.Seed)
}

func TestLoad_NoFileNoEnv(t *testing.T) {
	cfg, err := Load(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "malformed yaml", yaml: "batch: [1, 2"},
		{name: "negative workers", yaml: "batch:\n  workers: -1\n"},
		{name: "marker with path", yaml: "batch:\n  marker: a/tsconfig.json\n"},
		{name: "empty marker", yaml: "batch:\n  marker: \"\"\n"},
		{name: "unknown log level", yaml: "log:\n  level: loud\n"},
		{name: "zero max file size", yaml: "parser:\n  max_file_size: 0\n"},
		{name: "bad otlp endpoint", yaml: "telemetry:\n  otlp_endpoint: \"not an endpoint\"\n"},
		{name: "bad env int", env: map[string]string{"CALLSCAN_WORKERS": "many"}},
		{name: "bad env bool", env: map[string]string{"CALLSCAN_IN_PROCESS": "sometimes"}},
		{name: "bad env format", env: map[string]string{"CALLSCAN_LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "callscan.yaml", tt.yaml)
			}
			_, err := Load(context.Background(), path, mapLookup(tt.env))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, mapLookup(map[string]string{
		"CALLSCAN_MARKER":    "  ",
		"CALLSCAN_LOG_LEVEL": "WARN",
	})))
	assert.Equal(t, "tsconfig.json", cfg.Batch.Marker)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestReadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "CALLSCAN_WORKERS=3\nCALLSCAN_LEDGER_DIR=/tmp/ledger\n")

	values, err := ReadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "3", values["CALLSCAN_WORKERS"])

	missing, err := ReadDotEnv(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	t.Setenv("CALLSCAN_WORKERS", "5")
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, EnvLookup(values)))
	assert.Equal(t, 5, cfg.Batch.Workers, "process environment wins over .env")
	assert.Equal(t, "/tmp/ledger", cfg.Ledger.Dir)
}
