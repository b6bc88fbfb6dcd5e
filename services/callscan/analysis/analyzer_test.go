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
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/callscan/services/callscan/ast"
)

// newTestProject builds an in-memory project from name -> source pairs,
// registered in the order given.
func newTestProject(t *testing.T, files ...string) *ast.Project {
	t.Helper()
	if len(files)%2 != 0 {
		t.Fatal("newTestProject expects name/source pairs")
	}
	project := ast.NewProject("/proj")
	t.Cleanup(project.Close)
	for i := 0; i < len(files); i += 2 {
		project.AddSourceFile(files[i], []byte(files[i+1]))
	}
	return project
}

func signaturesOf(fd FileDetails) []string {
	out := make([]string, len(fd.ExportedFunctions))
	for i, fn := range fd.ExportedFunctions {
		out[i] = fn.Signature
	}
	return out
}

func TestAnalyzeProject_EndToEnd(t *testing.T) {
	srcA := "export function a(num) {}\n"
	srcB := "import { a } from './a';\n\nexport function b(x) {\n  a(x);\n  w();\n}\n\nfunction w() {}\n"
	project := newTestProject(t, "src/a.ts", srcA, "src/b.ts", srcB)

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 FileDetails, got %d", len(details))
	}

	a := details[0]
	if a.FilePath != "/proj/src/a.ts" {
		t.Errorf("unexpected file path %q", a.FilePath)
	}
	if len(a.ExportedFunctions) != 1 {
		t.Fatalf("expected 1 function in a.ts, got %d", len(a.ExportedFunctions))
	}
	fnA := a.ExportedFunctions[0]
	if fnA.Signature != "a(num)" {
		t.Errorf("expected signature a(num), got %q", fnA.Signature)
	}
	if fnA.BeginCursor != 0 || fnA.EndCursor != len("export function a(num) {}") {
		t.Errorf("unexpected span %d-%d", fnA.BeginCursor, fnA.EndCursor)
	}
	if len(fnA.FunctionCalls) != 0 {
		t.Errorf("expected no calls in a, got %d", len(fnA.FunctionCalls))
	}

	b := details[1]
	if len(b.ExportedFunctions) != 1 {
		t.Fatalf("expected 1 function in b.ts, got %d", len(b.ExportedFunctions))
	}
	fnB := b.ExportedFunctions[0]
	if fnB.Signature != "b(x)" {
		t.Errorf("expected signature b(x), got %q", fnB.Signature)
	}
	begin := strings.Index(srcB, "export function b")
	end := strings.Index(srcB, "}\n\nfunction w") + 1
	if fnB.BeginCursor != begin || fnB.EndCursor != end {
		t.Errorf("expected span %d-%d, got %d-%d", begin, end, fnB.BeginCursor, fnB.EndCursor)
	}
	if fnB.Text != srcB[begin:end] {
		t.Errorf("unexpected text %q", fnB.Text)
	}

	want := []FunctionCall{
		{FunctionName: "a", FunctionSource: "/proj/src/b.ts", Text: "a(x)", BeginCursor: strings.Index(srcB, "a(x)"), EndCursor: strings.Index(srcB, "a(x)") + 4},
		{FunctionName: "w", FunctionSource: "/proj/src/b.ts", Text: "w()", BeginCursor: strings.Index(srcB, "w()"), EndCursor: strings.Index(srcB, "w()") + 3},
	}
	if len(fnB.FunctionCalls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %+v", len(want), len(fnB.FunctionCalls), fnB.FunctionCalls)
	}
	for i := range want {
		if fnB.FunctionCalls[i] != want[i] {
			t.Errorf("call %d: expected %+v, got %+v", i, want[i], fnB.FunctionCalls[i])
		}
	}
}

func TestAnalyzeProject_SkipsNonTypedModules(t *testing.T) {
	project := newTestProject(t,
		"main.ts", "export function main() {}",
		"view.tsx", "export function View() {}",
		"types.d.ts", "export declare function declared(): void;",
		"legacy.js", "export function legacy() {}",
		"module.mts", "export function esm() {}",
	)

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected main.ts and module.mts only, got %d entries", len(details))
	}
	if details[0].FilePath != "/proj/main.ts" || details[1].FilePath != "/proj/module.mts" {
		t.Errorf("unexpected files %q, %q", details[0].FilePath, details[1].FilePath)
	}
}

func TestAnalyzeProject_LoadErrorDropsFile(t *testing.T) {
	project := newTestProject(t,
		"good.ts", "export function good() {}",
	)
	project.AddSourceFile("bad.ts", []byte{'e', 0xff, 0xfe})

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if len(details) != 1 || details[0].FilePath != "/proj/good.ts" {
		t.Fatalf("expected only good.ts, got %+v", details)
	}
}

func TestAnalyzeProject_EmptyFileStillReported(t *testing.T) {
	project := newTestProject(t, "empty.ts", "const internal = 1;\n")

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(details))
	}
	if details[0].ExportedFunctions == nil || len(details[0].ExportedFunctions) != 0 {
		t.Errorf("expected empty, non-nil function list, got %#v", details[0].ExportedFunctions)
	}
}

func TestAnalyzeProject_Overloads(t *testing.T) {
	src := `export function parse(input: string): number;
export function parse(input: number): number;
export function parse(input: any): number {
  return convert(input);
}
`
	project := newTestProject(t, "parse.ts", src)

	details, err := AnalyzeProject(context.Background(), project, AnalysisConfig{IncludeTypeAnnotations: true})
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	fns := details[0].ExportedFunctions
	if len(fns) != 2 {
		t.Fatalf("expected one entry per overload, got %d: %v", len(fns), signaturesOf(details[0]))
	}
	if fns[0].Signature != "parse(input: string): number" || fns[1].Signature != "parse(input: number): number" {
		t.Errorf("unexpected signatures %v", signaturesOf(details[0]))
	}
	if fns[0].BeginCursor != fns[1].BeginCursor || fns[0].Text != fns[1].Text {
		t.Error("overload entries should share span and text")
	}
	if !strings.HasPrefix(fns[0].Text, "export function parse(input: any)") {
		t.Errorf("expected implementation text, got %q", fns[0].Text)
	}
	if len(fns[0].FunctionCalls) != 1 || len(fns[1].FunctionCalls) != 1 {
		t.Error("overload entries should share the implementation's calls")
	}
}

func TestAnalyzeProject_ReExportsExcluded(t *testing.T) {
	project := newTestProject(t,
		"lib.ts", "export function helper() {}\n",
		"index.ts", "export { helper } from './lib';\nexport * from './lib';\nexport function own() {}\n",
	)

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if got := signaturesOf(details[0]); len(got) != 1 || got[0] != "helper()" {
		t.Errorf("lib.ts: unexpected signatures %v", got)
	}
	if got := signaturesOf(details[1]); len(got) != 1 || got[0] != "own()" {
		t.Errorf("index.ts: expected only own(), got %v", got)
	}
}

func TestAnalyzeProject_DeclarationFailuresAreIsolated(t *testing.T) {
	src := `export const broken: Missing = null;
export function fine(a, b) { return a + b; }
export const alsoBroken: SomePackage.Thing = null;
export const arrow = (x: number) => x;
`
	project := newTestProject(t, "mixed.ts", src)

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	got := signaturesOf(details[0])
	if strings.Join(got, ";") != "fine(a, b);arrow(x)" {
		t.Errorf("expected only resolvable declarations, got %v", got)
	}
}

func TestAnalyzeProject_ExportNamesAndAliases(t *testing.T) {
	src := `function impl(a: number) {}
export { impl as renamed };
export default function (x) {}
`
	project := newTestProject(t, "names.ts", src)

	details, err := AnalyzeProject(context.Background(), project)
	if err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}
	if got := strings.Join(signaturesOf(details[0]), ";"); got != "renamed(a);default(x)" {
		t.Errorf("unexpected signatures %q", got)
	}
}

func TestAnalyzeProject_Canceled(t *testing.T) {
	project := newTestProject(t, "a.ts", "export function a() {}")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := AnalyzeProject(ctx, project); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAnalyzeProject_NilProject(t *testing.T) {
	if _, err := AnalyzeProject(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil project")
	}
}

func TestAnalyzeProject_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	project := newTestProject(t, "a.ts", "export function a() {}", "b.ts", "export function b() {}")
	if _, err := AnalyzeProject(context.Background(), project); err != nil {
		t.Fatalf("AnalyzeProject: %v", err)
	}

	counts := make(map[string]int)
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	if counts["analysis.Analyzer.AnalyzeProject"] != 1 {
		t.Errorf("expected one project span, got %d", counts["analysis.Analyzer.AnalyzeProject"])
	}
	if counts["analysis.Analyzer.analyzeFile"] != 2 {
		t.Errorf("expected two file spans, got %d", counts["analysis.Analyzer.analyzeFile"])
	}
}

func TestFileDetails_JSONFieldNames(t *testing.T) {
	fd := FileDetails{
		FilePath: "/p/a.ts",
		ExportedFunctions: []ExportedFunction{{
			Signature:     "a()",
			FunctionCalls: []FunctionCall{{FunctionName: "b"}},
		}},
	}
	raw, err := json.Marshal(fd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{
		`"filePath"`, `"exportedFunctions"`, `"signature"`, `"beginCursor"`, `"endCursor"`,
		`"text"`, `"functionCalls"`, `"functionName"`, `"functionSource"`,
	} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("expected key %s in %s", key, raw)
		}
	}
}

func TestTotals(t *testing.T) {
	details := []FileDetails{
		{ExportedFunctions: []ExportedFunction{
			{FunctionCalls: make([]FunctionCall, 2)},
			{FunctionCalls: make([]FunctionCall, 1)},
		}},
		{ExportedFunctions: []ExportedFunction{}},
	}
	files, functions, calls := Totals(details)
	if files != 2 || functions != 2 || calls != 3 {
		t.Errorf("expected 2/2/3, got %d/%d/%d", files, functions, calls)
	}
}

func TestEncodeArtifact_KeepsSourceTextVerbatim(t *testing.T) {
	details := []FileDetails{{
		FilePath: "/p/a.ts",
		ExportedFunctions: []ExportedFunction{{
			Signature: "p<T>(a: T): T",
			Text:      "export function p<T>(a: T) { return a && g<T>(a); }",
			FunctionCalls: []FunctionCall{{
				FunctionName: "g",
				Text:         "g<T>(a)",
			}},
		}},
	}}

	raw, err := EncodeArtifact(details)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, escaped := range []string{`\u003c`, `\u003e`, `\u0026`} {
		if strings.Contains(string(raw), escaped) {
			t.Errorf("artifact contains HTML escape %s: %s", escaped, raw)
		}
	}
	if !strings.Contains(string(raw), `"signature":"p<T>(a: T): T"`) {
		t.Errorf("expected verbatim signature in %s", raw)
	}
	if strings.HasSuffix(string(raw), "\n") {
		t.Error("compact artifact should not end in a newline")
	}

	var back []FileDetails
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := back[0].ExportedFunctions[0].Text; got != details[0].ExportedFunctions[0].Text {
		t.Errorf("text = %q, want %q", got, details[0].ExportedFunctions[0].Text)
	}
}

func TestWriteJSON_IndentAndNil(t *testing.T) {
	var buf strings.Builder
	if err := WriteJSON(&buf, nil, "  "); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("nil details = %q, want %q", buf.String(), "[]\n")
	}

	buf.Reset()
	err := WriteJSON(&buf, []FileDetails{{FilePath: "/p/a&b.ts"}}, "  ")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "\n    \"filePath\": \"/p/a&b.ts\"") {
		t.Errorf("expected indented verbatim path, got %s", buf.String())
	}
}
