// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscan/services/callscan/analysis"
	"github.com/AleutianAI/callscan/services/callscan/config"
)

// runAsCLIEnv makes the test binary behave as callscan, so the process
// spawner can re-execute it as a worker.
const runAsCLIEnv = "CALLSCAN_TEST_RUN_AS_CLI"

func TestMain(m *testing.M) {
	if os.Getenv(runAsCLIEnv) == "1" {
		os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeDataset(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{
  // comments are allowed
  "compilerOptions": {"strict": true},
}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.ts"), []byte("export function a(num) {}\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "b.ts"), []byte("import { a } from './a';\nexport function b(x) { a(x); w(); }\n"), 0o644))
	}
	return root
}

func TestRun_UsageErrors(t *testing.T) {
	dataset := writeDataset(t, "alpha")
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no arguments", args: nil, wantErr: "missing <dataset-dir>"},
		{name: "no out dir", args: []string{dataset}, wantErr: "missing <out-dir>"},
		{name: "bad worker count", args: []string{dataset, t.TempDir(), "zero"}, wantErr: "worker-count"},
		{name: "negative worker count", args: []string{dataset, t.TempDir(), "-2"}, wantErr: ""},
		{name: "too many", args: []string{dataset, t.TempDir(), "1", "x"}, wantErr: "at most 3"},
		{name: "missing dataset", args: []string{filepath.Join(dataset, "nope"), t.TempDir()}, wantErr: "dataset directory"},
		{name: "dataset is a file", args: []string{filepath.Join(dataset, "alpha", "tsconfig.json"), t.TempDir()}, wantErr: "not a directory"},
		{name: "unknown flag", args: []string{"--bogus", dataset, t.TempDir()}, wantErr: "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, "", tt.args...)
			assert.Equal(t, 1, res.code, res.stderr)
			assert.Contains(t, res.stderr, tt.wantErr)
		})
	}
}

func TestRun_UnwritableOutDir(t *testing.T) {
	dataset := writeDataset(t, "alpha")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	res := runCLI(t, "", "--in-process", dataset, filepath.Join(blocker, "out"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "output directory")
}

func TestRun_InProcessBatch(t *testing.T) {
	dataset := writeDataset(t, "alpha", "beta")
	out := filepath.Join(t.TempDir(), "nested", "out")
	ledgerDir := filepath.Join(t.TempDir(), "ledger")

	res := runCLI(t, "", "--in-process", "--seed=3", "--ledger", ledgerDir, dataset, out, "2")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Done: 2 sub-projects, 2 completed, 0 skipped, 0 failed")

	data, err := os.ReadFile(filepath.Join(out, "alpha.json"))
	require.NoError(t, err)
	var details []analysis.FileDetails
	require.NoError(t, json.Unmarshal(data, &details))
	require.Len(t, details, 2)
	b := details[1]
	assert.Equal(t, filepath.Join(dataset, "alpha", "src", "b.ts"), b.FilePath)
	require.Len(t, b.ExportedFunctions, 1)
	calls := b.ExportedFunctions[0].FunctionCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "a(x)", calls[0].Text)
	assert.Equal(t, "w()", calls[1].Text)
	assert.Equal(t, b.FilePath, calls[0].FunctionSource)

	again := runCLI(t, "", "--in-process", dataset, out)
	require.Equal(t, 0, again.code, again.stderr)
	assert.Contains(t, again.stdout, "0 completed, 2 skipped")
	after, err := os.ReadFile(filepath.Join(out, "alpha.json"))
	require.NoError(t, err)
	assert.Equal(t, data, after)

	status := runCLI(t, "", "status", "--ledger", ledgerDir)
	require.Equal(t, 0, status.code, status.stderr)
	assert.Contains(t, status.stdout, "2 records: 2 completed, 0 skipped, 0 failed")
	assert.Contains(t, status.stdout, filepath.Join(dataset, "alpha", "tsconfig.json"))
}

func TestRun_ProcessBatch(t *testing.T) {
	t.Setenv(runAsCLIEnv, "1")
	dataset := writeDataset(t, "alpha", "beta", "gamma")
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "broken", "tsconfig.json"), []byte(`{"extends": `), 0o644))
	out := t.TempDir()

	res := runCLI(t, "", "--log-level=debug", dataset, out, "2")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Done: 4 sub-projects, 3 completed, 0 skipped, 1 failed")

	for _, name := range []string{"alpha", "beta", "gamma"} {
		assert.FileExists(t, filepath.Join(out, name+".json"))
	}
	assert.NoFileExists(t, filepath.Join(out, "broken.json"))
	assert.Contains(t, res.stderr, "sub-project failed")
}

func TestWorkerArgs_DefaultLimits(t *testing.T) {
	a := &app{cfg: config.Default(), runID: "run-1"}

	args := a.workerArgs("/tmp/out")
	assert.Contains(t, args, "--memory-limit-mb=2048")
	assert.Contains(t, args, "--stack-limit-mb=2048")
	assert.Contains(t, args, "--address-space-mb=0")

	limits := a.limits()
	assert.False(t, limits.IsZero())
	assert.Equal(t, int64(2048), limits.MemoryMB)

	a.cfg.Limits.MemoryMB = 0
	a.cfg.Limits.StackMB = 0
	assert.Contains(t, a.workerArgs("/tmp/out"), "--memory-limit-mb=0")
	assert.True(t, a.limits().IsZero())
}

func TestRun_Worker(t *testing.T) {
	dataset := writeDataset(t, "alpha")
	out := t.TempDir()

	bad := runCLI(t, `{"paths": 1}`, "worker", "--out", out, "--worker-id=7")
	assert.Equal(t, 2, bad.code)
	assert.Contains(t, bad.stderr, "invalid worker assignment")

	assignment, err := json.Marshal([]string{filepath.Join(dataset, "alpha", "tsconfig.json")})
	require.NoError(t, err)
	ok := runCLI(t, string(assignment), "worker", "--out", out, "--worker-id=7")
	require.Equal(t, 0, ok.code, ok.stderr)

	var ev struct {
		Type     string `json:"type"`
		WorkerID int    `json:"workerId"`
		Artifact string `json:"artifact"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(ok.stdout)), &ev))
	assert.Equal(t, "completed", ev.Type)
	assert.Equal(t, 7, ev.WorkerID)
	assert.Equal(t, "alpha.json", ev.Artifact)

	missingOut := runCLI(t, "[]", "worker")
	assert.Equal(t, 1, missingOut.code)
}

func TestRun_Analyze(t *testing.T) {
	dataset := writeDataset(t, "alpha")
	tsconfig := filepath.Join(dataset, "alpha", "tsconfig.json")

	res := runCLI(t, "", "analyze", "--types", tsconfig)
	require.Equal(t, 0, res.code, res.stderr)

	var details []analysis.FileDetails
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &details))
	require.Len(t, details, 2)
	assert.Equal(t, "a(num: any): void", details[0].ExportedFunctions[0].Signature)

	outFile := filepath.Join(t.TempDir(), "result.json")
	res = runCLI(t, "", "analyze", "-o", outFile, tsconfig)
	require.Equal(t, 0, res.code, res.stderr)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"signature": "b(x)"`)

	generic := filepath.Join(dataset, "alpha", "src", "c.ts")
	require.NoError(t, os.WriteFile(generic, []byte("export function c<T>(v: T): T { return a<T>(v); }\n"), 0o644))
	res = runCLI(t, "", "analyze", "--types", tsconfig)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"signature": "c<T>(v: T): T"`)
	assert.Contains(t, res.stdout, `"text": "a<T>(v)"`)
	assert.NotContains(t, res.stdout, `\u003c`)

	res = runCLI(t, "", "analyze")
	assert.Equal(t, 1, res.code)
	res = runCLI(t, "", "analyze", filepath.Join(dataset, "missing", "tsconfig.json"))
	assert.Equal(t, 1, res.code)
}

func TestRun_Status(t *testing.T) {
	res := runCLI(t, "", "status")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "--ledger")

	res = runCLI(t, "", "status", "--ledger", filepath.Join(t.TempDir(), "none"))
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "does not exist yet")

	res = runCLI(t, "", "status", "--ledger", t.TempDir(), "--status", "weird")
	assert.Equal(t, 1, res.code)
}

func TestRun_InvalidConfig(t *testing.T) {
	dataset := writeDataset(t, "alpha")
	cfgPath := filepath.Join(t.TempDir(), "callscan.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  format: xml\n"), 0o644))

	res := runCLI(t, "", "--config", cfgPath, dataset, t.TempDir())
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "invalid configuration")
}
