// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callscan extracts exported-function call graphs from TypeScript
// sub-projects.
//
// Usage:
//
//	callscan <dataset-dir> <out-dir> [worker-count]
//	callscan analyze <tsconfig.json> [--types] [--out file]
//	callscan status [--ledger dir] [--status failed] [--json]
//
// The root command discovers every immediate subdirectory of dataset-dir
// that holds a tsconfig.json, and writes one JSON artifact per sub-project
// to out-dir (a directory or gs://bucket/prefix). Sub-projects that already
// have an artifact are skipped, so an interrupted run can simply be repeated.
//
// Exit codes:
//
//	0  success, including runs where individual sub-projects failed
//	1  usage error, inaccessible directory or startup failure
//	2  malformed worker assignment (worker processes only)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// exitError carries a process exit status through cobra's error return.
type exitError struct {
	code  int
	err   error
	usage bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageErrorf reports a command line mistake (exit status 1, usage shown).
func usageErrorf(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...), usage: true}
}

// withExitCode attaches an exit status to err.
func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := a.newRootCommand()
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if ferr := a.finish(); ferr != nil && err == nil {
		err = ferr
	}
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(stderr, "callscan: %v\n", exitErr.err)
		if exitErr.usage && cmd != nil {
			fmt.Fprintf(stderr, "Usage: %s\n", cmd.UseLine())
		}
		return exitErr.code
	}
	fmt.Fprintf(stderr, "callscan: %v\n", err)
	return 1
}
