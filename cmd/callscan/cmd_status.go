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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscan/services/callscan/ledger"
)

// newStatusCommand builds the ledger listing command.
func (a *app) newStatusCommand() *cobra.Command {
	var (
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List recorded sub-project outcomes from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch ledger.Status(status) {
			case "", ledger.StatusCompleted, ledger.StatusSkipped, ledger.StatusFailed:
			default:
				return usageErrorf("--status must be completed, skipped or failed, got %q", status)
			}

			dir := a.cfg.Ledger.Dir
			if dir == "" {
				return usageErrorf("no ledger configured; pass --ledger <dir>")
			}
			if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(a.stdout, "Ledger does not exist yet. Run a batch with --ledger to record outcomes.")
				return nil
			}

			led, err := ledger.OpenReadOnly(dir, a.logger)
			if err != nil {
				return err
			}
			defer led.Close()

			records, err := led.List(cmd.Context(), ledger.Status(status))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printRecords(a, records)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show records with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

// printRecords renders records as an aligned table with a totals line.
func printRecords(a *app, records []ledger.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(a.stdout, "No records.")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tFILES\tFUNCTIONS\tCALLS\tDURATION\tRECORDED\tERROR")

	counts := make(map[ledger.Status]int)
	for _, r := range records {
		counts[r.Status]++
		recorded := time.UnixMilli(r.RecordedAtMilli).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.Project, r.Status, r.Files, r.Functions, r.Calls,
			time.Duration(r.DurationMs)*time.Millisecond, recorded, r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\n%d records: %d completed, %d skipped, %d failed\n",
		len(records), counts[ledger.StatusCompleted], counts[ledger.StatusSkipped], counts[ledger.StatusFailed])
	return nil
}
