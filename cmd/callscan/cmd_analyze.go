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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscan/services/callscan/analysis"
	"github.com/AleutianAI/callscan/services/callscan/ast"
)

// newAnalyzeCommand builds the single-project command, which prints the
// FileDetails array instead of writing an artifact.
func (a *app) newAnalyzeCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "analyze <tsconfig.json>",
		Short: "Analyze one project and print its call graph as JSON",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("expected one tsconfig.json path, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project, err := ast.LoadProject(ctx, args[0], a.projectOptions()...)
			if err != nil {
				return err
			}
			defer project.Close()

			analyzer := analysis.NewAnalyzer(
				analysis.WithConfig(a.cfg.Analysis),
				analysis.WithLogger(a.logger),
			)
			details, err := analyzer.AnalyzeProject(ctx, project)
			if err != nil {
				return err
			}

			if out == "" {
				return analysis.WriteJSON(a.stdout, details, "  ")
			}
			var buf bytes.Buffer
			if err := analysis.WriteJSON(&buf, details, "  "); err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write JSON to this file instead of stdout")
	return cmd
}
