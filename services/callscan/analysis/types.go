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
	"bytes"
	"encoding/json"
	"io"
)

// AnalysisConfig controls signature verbosity.
type AnalysisConfig struct {
	// IncludeTypeAnnotations renders generics, parameter types and the
	// return type in signatures. When false only parameter names appear.
	IncludeTypeAnnotations bool `json:"includeTypeAnnotations" yaml:"include_type_annotations"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() AnalysisConfig {
	return AnalysisConfig{IncludeTypeAnnotations: false}
}

// FileDetails is the analysis result for one source file.
//
// Description:
//
//	One FileDetails is produced per analyzed file, in project order. The
//	JSON form is the persisted artifact format, an array of FileDetails
//	per sub-project.
//
// Thread Safety: Value type. Fully built before it is appended to a result.
type FileDetails struct {
	// FilePath is the absolute path of the file.
	FilePath string `json:"filePath"`

	// ExportedFunctions are the file's callable exports in discovery order.
	ExportedFunctions []ExportedFunction `json:"exportedFunctions"`
}

// ExportedFunction is one call signature of an exported declaration.
//
// Overloaded declarations produce one entry per signature; the entries share
// the declaration's span, text and calls.
type ExportedFunction struct {
	// Signature is the canonical signature string, e.g. "add(a, b)".
	Signature string `json:"signature"`

	// BeginCursor is the character offset where the declaration starts.
	BeginCursor int `json:"beginCursor"`

	// EndCursor is the character offset where the declaration ends.
	EndCursor int `json:"endCursor"`

	// Text is the raw source of the declaration.
	Text string `json:"text"`

	// FunctionCalls are the bare identifier calls made by the declaration.
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is a call to a bare identifier inside an exported declaration.
type FunctionCall struct {
	// FunctionName is the callee identifier.
	FunctionName string `json:"functionName"`

	// FunctionSource is the absolute path of the file containing the caller.
	// It locates the call site, not the callee's definition.
	FunctionSource string `json:"functionSource"`

	// Text is the raw source of the call expression.
	Text string `json:"text"`

	// BeginCursor is the character offset where the call starts.
	BeginCursor int `json:"beginCursor"`

	// EndCursor is the character offset where the call ends.
	EndCursor int `json:"endCursor"`
}

// Totals counts files, exported functions and calls in a result.
func Totals(details []FileDetails) (files, functions, calls int) {
	files = len(details)
	for _, fd := range details {
		functions += len(fd.ExportedFunctions)
		for _, fn := range fd.ExportedFunctions {
			calls += len(fn.FunctionCalls)
		}
	}
	return files, functions, calls
}

// WriteJSON writes details as a JSON array followed by a newline. Source
// text is written verbatim: '<', '>' and '&' are not HTML-escaped, so
// generics and comparisons read as they do in the file. An empty indent
// writes compact JSON.
func WriteJSON(w io.Writer, details []FileDetails, indent string) error {
	if details == nil {
		details = []FileDetails{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(details)
}

// EncodeArtifact encodes details in the compact artifact form.
func EncodeArtifact(details []FileDetails) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, details, ""); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
