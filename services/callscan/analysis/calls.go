// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/callscan/services/callscan/ast"
)

// ErrDeclarationNotExported signals that call resolution was requested for a
// declaration that is not export-visible. It indicates a bug in the caller.
var ErrDeclarationNotExported = errors.New("declaration is not exported")

// FindFunctionCalls returns the calls to bare identifiers inside a declaration.
//
// Description:
//
//	Visits every call expression in the declaration's subtree in document
//	order. Tagged templates are not calls. Calls whose callee is missing, a
//	member access, or any other non-identifier expression are skipped. Each
//	emitted call records the caller's file as its source location.
//
// Inputs:
//   - decl: An export-visible declaration.
//
// Outputs:
//   - []FunctionCall: Calls in source order. Never nil.
//
// Limitations:
//
//	FunctionSource is the caller's file, not the callee's defining file.
//
// Panics:
//
//	Panics with ErrDeclarationNotExported if decl is not exported.
func (a *Analyzer) FindFunctionCalls(decl *ast.Declaration) []FunctionCall {
	if decl == nil || !decl.IsExported() {
		name := "<nil>"
		if decl != nil {
			name = decl.Name()
		}
		panic(fmt.Errorf("%w: %s", ErrDeclarationNotExported, name))
	}

	source := decl.SourceFile().FilePath()
	calls := make([]FunctionCall, 0)

	for _, call := range decl.Node().DescendantsOfKind(ast.KindCallExpression) {
		if call.Field("arguments").Kind() == ast.KindTemplateString {
			continue
		}

		callee := call.Field("function")
		if callee.IsZero() || callee.Text() == "" {
			a.logger.Debug("call expression without callee",
				slog.String("file", source),
				slog.String("call", call.Text()))
			continue
		}

		// Member calls target methods, never top-level functions.
		if callee.Kind() == ast.KindMemberExpression {
			continue
		}
		if callee.Kind() != ast.KindIdentifier {
			continue
		}

		span := call.Span()
		calls = append(calls, FunctionCall{
			FunctionName:   callee.Text(),
			FunctionSource: source,
			Text:           call.Text(),
			BeginCursor:    span.Begin,
			EndCursor:      span.End,
		})
	}
	return calls
}
