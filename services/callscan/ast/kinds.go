// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"path/filepath"
	"strings"
)

// ContentKind classifies a project file by how the TypeScript compiler would treat it.
type ContentKind int

const (
	// KindUnknown is any file the model does not understand as source.
	KindUnknown ContentKind = iota

	// KindTS is a typed TypeScript module (.ts, .mts, .cts).
	KindTS

	// KindTSX is a TypeScript module with JSX (.tsx).
	KindTSX

	// KindJS is a plain JavaScript script or module (.js, .mjs, .cjs).
	KindJS

	// KindJSX is JavaScript with JSX (.jsx).
	KindJSX

	// KindDeclarations is a declarations-only file (.d.ts, .d.mts, .d.cts).
	KindDeclarations
)

// String returns the lowercase name of the kind.
func (k ContentKind) String() string {
	switch k {
	case KindTS:
		return "ts"
	case KindTSX:
		return "tsx"
	case KindJS:
		return "js"
	case KindJSX:
		return "jsx"
	case KindDeclarations:
		return "declarations"
	default:
		return "unknown"
	}
}

// KindForPath derives the content kind from a file name.
//
// Declaration files are checked before the plain extension so that
// "index.d.ts" is KindDeclarations rather than KindTS.
func KindForPath(path string) ContentKind {
	base := strings.ToLower(filepath.Base(path))
	for _, suffix := range []string{".d.ts", ".d.mts", ".d.cts"} {
		if strings.HasSuffix(base, suffix) {
			return KindDeclarations
		}
	}

	switch filepath.Ext(base) {
	case ".ts", ".mts", ".cts":
		return KindTS
	case ".tsx":
		return KindTSX
	case ".js", ".mjs", ".cjs":
		return KindJS
	case ".jsx":
		return KindJSX
	default:
		return KindUnknown
	}
}

// Tree-sitter node types used by the model and its callers.
const (
	KindProgram             = "program"
	KindExportStatement     = "export_statement"
	KindExportClause        = "export_clause"
	KindExportSpecifier     = "export_specifier"
	KindNamespaceExport     = "namespace_export"
	KindImportStatement     = "import_statement"
	KindAmbientDeclaration  = "ambient_declaration"
	KindFunctionDeclaration = "function_declaration"
	KindGeneratorDecl       = "generator_function_declaration"
	KindFunctionSignature   = "function_signature"
	KindFunctionExpression  = "function_expression"
	KindFunctionLegacy      = "function"
	KindGeneratorFunction   = "generator_function"
	KindArrowFunction       = "arrow_function"
	KindClassDeclaration    = "class_declaration"
	KindAbstractClassDecl   = "abstract_class_declaration"
	KindClass               = "class"
	KindInterfaceDecl       = "interface_declaration"
	KindTypeAliasDecl       = "type_alias_declaration"
	KindEnumDeclaration     = "enum_declaration"
	KindLexicalDeclaration  = "lexical_declaration"
	KindVariableDeclaration = "variable_declaration"
	KindVariableDeclarator  = "variable_declarator"
	KindModule              = "module"
	KindInternalModule      = "internal_module"
	KindCallExpression      = "call_expression"
	KindMemberExpression    = "member_expression"
	KindIdentifier          = "identifier"
	KindTypeIdentifier      = "type_identifier"
	KindTemplateString      = "template_string"
	KindString              = "string"
	KindStatementBlock      = "statement_block"
	KindReturnStatement     = "return_statement"
	KindError               = "ERROR"
)

// functionLikeKinds are node types whose own return statements must not be
// attributed to an enclosing function during return type inference.
var functionLikeKinds = map[string]bool{
	KindFunctionDeclaration: true,
	KindGeneratorDecl:       true,
	KindFunctionExpression:  true,
	KindFunctionLegacy:      true,
	KindGeneratorFunction:   true,
	KindArrowFunction:       true,
	KindClassDeclaration:    true,
	KindAbstractClassDecl:   true,
	KindClass:               true,
	"method_definition":     true,
}

// isFunctionValue reports whether an expression node evaluates to a function.
func isFunctionValue(kind string) bool {
	switch kind {
	case KindFunctionExpression, KindFunctionLegacy, KindGeneratorFunction, KindArrowFunction:
		return true
	}
	return false
}
