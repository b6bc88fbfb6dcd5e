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

// DeclarationKind classifies a top-level declaration.
type DeclarationKind int

const (
	// DeclOther is any exported value the model has no finer kind for,
	// such as "export default <expression>".
	DeclOther DeclarationKind = iota

	// DeclFunction is a function declaration, overload set, or default
	// exported function expression.
	DeclFunction

	// DeclVariable is a single variable declarator.
	DeclVariable

	// DeclClass is a class declaration or expression.
	DeclClass

	// DeclInterface is an interface declaration.
	DeclInterface

	// DeclTypeAlias is a type alias declaration.
	DeclTypeAlias

	// DeclEnum is an enum declaration.
	DeclEnum

	// DeclNamespace is a namespace or module declaration.
	DeclNamespace
)

// String returns the lowercase name of the kind.
func (k DeclarationKind) String() string {
	switch k {
	case DeclFunction:
		return "function"
	case DeclVariable:
		return "variable"
	case DeclClass:
		return "class"
	case DeclInterface:
		return "interface"
	case DeclTypeAlias:
		return "type_alias"
	case DeclEnum:
		return "enum"
	case DeclNamespace:
		return "namespace"
	default:
		return "other"
	}
}

// Declaration is a named top-level declaration of a source file.
//
// Description:
//
//	The reported node is the full statement for function, class, interface,
//	type, enum and namespace declarations (so "export" and "declare"
//	modifiers are part of its text), and the single declarator for variable
//	declarations. Function overload sets are one Declaration: the reported
//	node is the implementation when present, otherwise the last signature,
//	and the call signatures are taken from the overload list.
type Declaration struct {
	file      *SourceFile
	kind      DeclarationKind
	name      string
	node      Node
	impl      Node
	overloads []Node
	exported  bool
}

// Name returns the local name, or "default" for anonymous default exports.
func (d *Declaration) Name() string {
	return d.name
}

// Kind returns the declaration kind.
func (d *Declaration) Kind() DeclarationKind {
	return d.kind
}

// IsExported reports whether the declaration is visible to importers of its file.
func (d *Declaration) IsExported() bool {
	return d.exported
}

// Node returns the node whose text and span represent the declaration.
func (d *Declaration) Node() Node {
	return d.node
}

// SourceFile returns the file that owns the declaration.
func (d *Declaration) SourceFile() *SourceFile {
	return d.file
}

// Text returns the raw source text of the declaration.
func (d *Declaration) Text() string {
	return d.node.Text()
}

// Span returns the declaration's character offsets within its file.
func (d *Declaration) Span() Span {
	return d.node.Span()
}

// statementNode climbs from a declaration node to the outermost statement
// that still belongs only to it: "export", "export default" and "declare"
// wrappers are included.
func statementNode(n Node) Node {
	for {
		parent := n.Parent()
		switch parent.Kind() {
		case KindExportStatement, KindAmbientDeclaration:
			n = parent
		default:
			return n
		}
	}
}
