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
	"context"
	"regexp"
	"strings"

	"github.com/AleutianAI/callscan/services/callscan/ast"
)

// moduleQualifier matches an inline import type prefix such as
// `import("./models").` so that only the bare type name remains.
var moduleQualifier = regexp.MustCompile(`import\([^)]*\)\.`)

// StripModuleQualifiers removes every `import("...").` prefix from type text.
func StripModuleQualifiers(typeText string) string {
	if !strings.Contains(typeText, "import(") {
		return typeText
	}
	return moduleQualifier.ReplaceAllString(typeText, "")
}

// RenderSignature composes the canonical signature string for one call signature.
//
// Description:
//
//	Without type annotations the result is name(p1, p2). With them it is
//	name<generics>(p1: T1, p2: T2): R, where <generics> is omitted when the
//	signature has no type parameters. Module qualifiers are stripped from
//	all type text.
//
// Inputs:
//   - name: The exported name of the declaration.
//   - sig: The call signature.
//   - cfg: Rendering configuration.
//
// Outputs:
//   - string: The canonical signature.
//
// Example:
//
//	RenderSignature("add", sig, AnalysisConfig{IncludeTypeAnnotations: true})
//	// "add(a: number, b: number): number"
func RenderSignature(name string, sig ast.Signature, cfg AnalysisConfig) string {
	var b strings.Builder
	b.WriteString(name)

	if !cfg.IncludeTypeAnnotations {
		b.WriteByte('(')
		for i, p := range sig.Parameters {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Name)
		}
		b.WriteByte(')')
		return b.String()
	}

	if len(sig.TypeParameters) > 0 {
		b.WriteByte('<')
		b.WriteString(StripModuleQualifiers(strings.Join(sig.TypeParameters, ", ")))
		b.WriteByte('>')
	}
	b.WriteByte('(')
	for i, p := range sig.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(StripModuleQualifiers(p.Type))
	}
	b.WriteString("): ")
	b.WriteString(StripModuleQualifiers(sig.ReturnType))
	return b.String()
}

// ExtractFunctions turns one exported declaration into its ExportedFunction entries.
//
// Description:
//
//	Produces one entry per call signature. The declaration's span, text and
//	calls are computed once and shared by every entry. A declaration without
//	call signatures yields no entries.
//
// Inputs:
//   - ctx: Context for type resolution across files.
//   - name: The name the declaration is exported under.
//   - decl: The exported declaration. Must be export-visible.
//   - cfg: Rendering configuration.
//
// Outputs:
//   - []ExportedFunction: Entries in signature order.
//   - error: The type resolution error (ast.ErrUnresolvedType or
//     ast.ErrMalformedDeclaration, wrapped). No entries are returned with it.
func (a *Analyzer) ExtractFunctions(ctx context.Context, name string, decl *ast.Declaration, cfg AnalysisConfig) ([]ExportedFunction, error) {
	sigs, err := decl.CallSignatures(ctx)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	span := decl.Span()
	text := decl.Text()
	calls := a.FindFunctionCalls(decl)

	out := make([]ExportedFunction, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, ExportedFunction{
			Signature:     RenderSignature(name, sig, cfg),
			BeginCursor:   span.Begin,
			EndCursor:     span.End,
			Text:          text,
			FunctionCalls: calls,
		})
	}
	return out, nil
}
