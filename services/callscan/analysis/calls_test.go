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
	"errors"
	"testing"

	"github.com/AleutianAI/callscan/services/callscan/ast"
)

func exportedDeclaration(t *testing.T, src, name string) *ast.Declaration {
	t.Helper()
	project := newTestProject(t, "calls.ts", src)
	file := project.SourceFiles()[0]
	symbols, err := file.ExportedDeclarations(context.Background())
	if err != nil {
		t.Fatalf("ExportedDeclarations: %v", err)
	}
	for _, sym := range symbols {
		if sym.Name == name {
			return sym.Declarations[0]
		}
	}
	t.Fatalf("no exported declaration %q", name)
	return nil
}

func callNames(calls []FunctionCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.FunctionName
	}
	return out
}

func TestFindFunctionCalls(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  []string
		texts []string
	}{
		{
			name:  "bare identifier",
			src:   "export function f(x) { g(x); }",
			want:  []string{"g"},
			texts: []string{"g(x)"},
		},
		{
			name: "member calls at any depth are excluded",
			src:  "export function f() { obj.method(); if (x) { for (;;) { a.b.c(); this.run(); } } }",
			want: []string{},
		},
		{
			name:  "nested calls in document order",
			src:   "export function f() { outer(inner(deep()), sibling()); }",
			want:  []string{"outer", "inner", "deep", "sibling"},
			texts: []string{"outer(inner(deep()), sibling())", "inner(deep())", "deep()", "sibling()"},
		},
		{
			name: "arguments of member calls are still visited",
			src:  "export function f() { console.log(format(x)); }",
			want: []string{"format"},
		},
		{
			name: "tagged templates are not calls",
			src:  "export function f() { return sql`select 1`; }",
			want: []string{},
		},
		{
			name: "non-identifier callees are skipped",
			src:  "export function f() { (function () {})(); getHandler()(); arr[0](); }",
			want: []string{"getHandler"},
		},
		{
			name: "calls inside nested functions count",
			src:  "export const f = () => { const g = () => helper(); return g(); };",
			want: []string{"helper", "g"},
		},
		{
			name: "generic call",
			src:  "export function f() { create<string>('x'); }",
			want: []string{"create"},
		},
	}

	analyzer := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := exportedDeclaration(t, tt.src, "f")
			calls := analyzer.FindFunctionCalls(decl)

			got := callNames(calls)
			if len(got) != len(tt.want) {
				t.Fatalf("expected calls %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("call %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
			for i, text := range tt.texts {
				if calls[i].Text != text {
					t.Errorf("call %d: expected text %q, got %q", i, text, calls[i].Text)
				}
			}
			for _, c := range calls {
				if c.FunctionSource != "/proj/calls.ts" {
					t.Errorf("expected caller file as source, got %q", c.FunctionSource)
				}
			}
		})
	}
}

func TestFindFunctionCalls_NeverNil(t *testing.T) {
	decl := exportedDeclaration(t, "export function f() {}", "f")
	if calls := NewAnalyzer().FindFunctionCalls(decl); calls == nil {
		t.Error("expected empty, non-nil slice")
	}
}

func TestFindFunctionCalls_PanicsWhenNotExported(t *testing.T) {
	project := newTestProject(t, "calls.ts", "function hidden() { g(); }\nexport function shown() {}\n")
	file := project.SourceFiles()[0]
	decl, err := file.LocalDeclaration(context.Background(), "hidden")
	if err != nil || decl == nil {
		t.Fatalf("LocalDeclaration: %v, %v", decl, err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrDeclarationNotExported) {
			t.Fatalf("expected ErrDeclarationNotExported panic, got %v", r)
		}
	}()
	NewAnalyzer().FindFunctionCalls(decl)
}
