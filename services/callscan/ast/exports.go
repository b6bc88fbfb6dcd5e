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
	"context"
	"log/slog"
	"strings"
)

// ExportedSymbol is one export-visible name of a file and the declarations
// it resolves to.
type ExportedSymbol struct {
	Name         string
	Declarations []*Declaration
}

// importBinding is a local name introduced by an import statement.
type importBinding struct {
	specifier string
	// imported is the name in the target module, "default", or "*" for a
	// namespace import.
	imported string
}

// exportEntry is one export statement item in source order.
type exportEntry struct {
	name     string
	decl     *Declaration
	local    string
	from     string
	imported string
}

// fileScope holds the top-level bindings of one file.
type fileScope struct {
	values  map[string]*Declaration
	types   map[string]*Declaration
	imports map[string]importBinding
	entries []exportEntry
}

func newFileScope() *fileScope {
	return &fileScope{
		values:  make(map[string]*Declaration),
		types:   make(map[string]*Declaration),
		imports: make(map[string]importBinding),
	}
}

// ExportedDeclarations returns the file's export-visible names in source order.
//
// Description:
//
//	Covers exported declarations, export clauses, default exports and
//	re-exports. Re-exported names resolve through the project to
//	declarations owned by other files; callers that only want the file's own
//	declarations compare Declaration.SourceFile with the file. Re-exports
//	whose module is not part of the project are dropped. Circular re-exports
//	terminate with whatever was resolved before the cycle was detected.
//
// Inputs:
//   - ctx: Context used when loading this file and re-export targets.
//
// Outputs:
//   - []ExportedSymbol: Exported names with their declarations.
//   - error: The file's load error, if any.
func (f *SourceFile) ExportedDeclarations(ctx context.Context) ([]ExportedSymbol, error) {
	if f.exports != nil {
		return f.exports, nil
	}
	if f.resolving {
		return nil, nil
	}
	if err := f.Load(ctx); err != nil {
		return nil, err
	}

	f.resolving = true
	defer func() { f.resolving = false }()

	scope := f.fileScope()
	symbols := make([]ExportedSymbol, 0, len(scope.entries))
	index := make(map[string]int)
	add := func(name string, decls ...*Declaration) {
		i, ok := index[name]
		if !ok {
			i = len(symbols)
			index[name] = i
			symbols = append(symbols, ExportedSymbol{Name: name})
		}
		for _, d := range decls {
			if d == nil || containsDecl(symbols[i].Declarations, d) {
				continue
			}
			symbols[i].Declarations = append(symbols[i].Declarations, d)
		}
	}

	for _, entry := range scope.entries {
		switch {
		case entry.decl != nil:
			add(entry.name, entry.decl)
		case entry.from == "":
			add(entry.name, f.resolveLocal(ctx, entry.local)...)
		case entry.imported == "*" && entry.name == "":
			for _, sym := range f.moduleExports(ctx, entry.from) {
				if sym.Name != "default" {
					add(sym.Name, sym.Declarations...)
				}
			}
		case entry.imported == "*":
			// "export * as ns" binds a namespace object, not a declaration.
		default:
			add(entry.name, f.lookupExport(ctx, entry.from, entry.imported)...)
		}
	}

	// Names that resolved to nothing are not exports the model can describe.
	out := symbols[:0]
	for _, sym := range symbols {
		if len(sym.Declarations) > 0 {
			out = append(out, sym)
		}
	}
	f.exports = out
	return f.exports, nil
}

// resolveLocal maps a name used in an export clause to its declarations.
func (f *SourceFile) resolveLocal(ctx context.Context, name string) []*Declaration {
	scope := f.fileScope()
	var decls []*Declaration
	if d, ok := scope.values[name]; ok {
		d.exported = true
		decls = append(decls, d)
	}
	if d, ok := scope.types[name]; ok {
		d.exported = true
		decls = append(decls, d)
	}
	if len(decls) > 0 {
		return decls
	}
	if binding, ok := scope.imports[name]; ok && binding.imported != "*" {
		return f.lookupExport(ctx, binding.specifier, binding.imported)
	}
	return nil
}

// moduleExports returns the exports of the project file a specifier resolves to.
func (f *SourceFile) moduleExports(ctx context.Context, specifier string) []ExportedSymbol {
	target := f.project.resolveModule(f, specifier)
	if target == nil {
		f.project.logger.Debug("re-export target not in project",
			slog.String("file", f.path),
			slog.String("module", specifier))
		return nil
	}
	symbols, err := target.ExportedDeclarations(ctx)
	if err != nil {
		f.project.logger.Debug("re-export target failed to load",
			slog.String("file", f.path),
			slog.String("module", target.path),
			slog.String("error", err.Error()))
		return nil
	}
	return symbols
}

func (f *SourceFile) lookupExport(ctx context.Context, specifier, name string) []*Declaration {
	for _, sym := range f.moduleExports(ctx, specifier) {
		if sym.Name == name {
			return sym.Declarations
		}
	}
	return nil
}

// fileScope builds (once) the top-level bindings and export entries.
// The file must be loaded.
func (f *SourceFile) fileScope() *fileScope {
	if f.scope != nil {
		return f.scope
	}
	scope := newFileScope()
	f.scope = scope
	if f.root.IsZero() {
		return scope
	}

	for _, stmt := range f.root.NamedChildren() {
		switch stmt.Kind() {
		case KindExportStatement:
			f.collectExport(scope, stmt)
		case KindImportStatement:
			collectImport(scope, stmt)
		default:
			f.collectDeclaration(scope, stmt, false)
		}
	}
	return scope
}

// collectExport records the bindings and entries of one export statement.
func (f *SourceFile) collectExport(scope *fileScope, stmt Node) {
	isDefault := stmt.FirstChildOfKind("default").Kind() == "default"

	if decl := stmt.Field("declaration"); !decl.IsZero() {
		for _, d := range f.collectDeclaration(scope, decl, true) {
			name := d.name
			if isDefault {
				name = "default"
			}
			scope.entries = append(scope.entries, exportEntry{name: name, decl: d})
		}
		return
	}

	if value := stmt.Field("value"); !value.IsZero() && isDefault {
		f.collectDefaultValue(scope, stmt, value)
		return
	}

	from := ""
	if source := stmt.Field("source"); !source.IsZero() {
		from = unquote(source.Text())
	}

	if clause := stmt.FirstChildOfKind(KindExportClause); !clause.IsZero() {
		for _, spec := range clause.NamedChildren() {
			if spec.Kind() != KindExportSpecifier {
				continue
			}
			local := unquote(spec.Field("name").Text())
			name := local
			if alias := spec.Field("alias"); !alias.IsZero() {
				name = unquote(alias.Text())
			}
			if local == "" {
				continue
			}
			if from == "" {
				scope.entries = append(scope.entries, exportEntry{name: name, local: local})
			} else {
				scope.entries = append(scope.entries, exportEntry{name: name, from: from, imported: local})
			}
		}
		return
	}

	if from == "" {
		return
	}
	if ns := stmt.FirstChildOfKind(KindNamespaceExport); !ns.IsZero() {
		name := ""
		if named := ns.NamedChildren(); len(named) > 0 {
			name = unquote(named[len(named)-1].Text())
		}
		scope.entries = append(scope.entries, exportEntry{name: name, from: from, imported: "*"})
		return
	}
	if stmt.FirstChildOfKind("*").Kind() == "*" {
		scope.entries = append(scope.entries, exportEntry{from: from, imported: "*"})
	}
}

// collectDefaultValue handles "export default <expression>".
func (f *SourceFile) collectDefaultValue(scope *fileScope, stmt, value Node) {
	kind := value.Kind()
	switch {
	case kind == KindIdentifier:
		scope.entries = append(scope.entries, exportEntry{name: "default", local: value.Text()})
	case isFunctionValue(kind):
		node := stmt
		if kind == KindArrowFunction {
			node = value
		}
		d := &Declaration{file: f, kind: DeclFunction, name: "default", node: node, impl: value, exported: true}
		scope.entries = append(scope.entries, exportEntry{name: "default", decl: d})
	case kind == KindClass:
		d := &Declaration{file: f, kind: DeclClass, name: "default", node: stmt, impl: value, exported: true}
		scope.entries = append(scope.entries, exportEntry{name: "default", decl: d})
	default:
		d := &Declaration{file: f, kind: DeclOther, name: "default", node: value, impl: value, exported: true}
		scope.entries = append(scope.entries, exportEntry{name: "default", decl: d})
	}
}

// collectDeclaration registers the named declarations introduced by a
// top-level statement and returns them. Statements that declare nothing
// return nil.
func (f *SourceFile) collectDeclaration(scope *fileScope, n Node, exported bool) []*Declaration {
	switch n.Kind() {
	case KindAmbientDeclaration:
		var out []*Declaration
		for _, child := range n.NamedChildren() {
			out = append(out, f.collectDeclaration(scope, child, exported)...)
		}
		return out

	case KindFunctionDeclaration, KindGeneratorDecl:
		name := n.Field("name").Text()
		if name == "" {
			return nil
		}
		if d, ok := scope.values[name]; ok && d.kind == DeclFunction && d.impl.IsZero() && len(d.overloads) > 0 {
			d.impl = n
			d.node = statementNode(n)
			d.exported = d.exported || exported
			return []*Declaration{d}
		}
		d := &Declaration{file: f, kind: DeclFunction, name: name, node: statementNode(n), impl: n, exported: exported}
		scope.values[name] = d
		return []*Declaration{d}

	case KindFunctionSignature:
		name := n.Field("name").Text()
		if name == "" {
			return nil
		}
		if d, ok := scope.values[name]; ok && d.kind == DeclFunction && d.impl.IsZero() {
			d.overloads = append(d.overloads, n)
			d.node = statementNode(n)
			d.exported = d.exported || exported
			return []*Declaration{d}
		}
		d := &Declaration{file: f, kind: DeclFunction, name: name, node: statementNode(n), overloads: []Node{n}, exported: exported}
		scope.values[name] = d
		return []*Declaration{d}

	case KindLexicalDeclaration, KindVariableDeclaration:
		var out []*Declaration
		for _, declarator := range n.NamedChildren() {
			if declarator.Kind() != KindVariableDeclarator {
				continue
			}
			nameNode := declarator.Field("name")
			if nameNode.Kind() != KindIdentifier {
				continue
			}
			d := &Declaration{file: f, kind: DeclVariable, name: nameNode.Text(), node: declarator, impl: declarator, exported: exported}
			scope.values[d.name] = d
			out = append(out, d)
		}
		return out

	case KindClassDeclaration, KindAbstractClassDecl:
		return f.register(scope.values, n, DeclClass, exported)

	case KindEnumDeclaration:
		return f.register(scope.values, n, DeclEnum, exported)

	case KindInternalModule, KindModule:
		if n.Field("name").Kind() == KindString {
			return nil
		}
		return f.register(scope.values, n, DeclNamespace, exported)

	case KindInterfaceDecl:
		return f.register(scope.types, n, DeclInterface, exported)

	case KindTypeAliasDecl:
		return f.register(scope.types, n, DeclTypeAlias, exported)

	case "expression_statement":
		// "namespace N {}" is parsed as an expression statement wrapping an
		// internal_module in some grammar versions.
		if inner := n.FirstChildOfKind(KindInternalModule); !inner.IsZero() {
			return f.collectDeclaration(scope, inner, exported)
		}
	}
	return nil
}

func (f *SourceFile) register(into map[string]*Declaration, n Node, kind DeclarationKind, exported bool) []*Declaration {
	name := n.Field("name").Text()
	if name == "" {
		return nil
	}
	if d, ok := into[name]; ok && d.kind == kind {
		// Merged declarations (interface merging, namespace reopening)
		// report the first occurrence.
		d.exported = d.exported || exported
		return []*Declaration{d}
	}
	d := &Declaration{file: f, kind: kind, name: name, node: statementNode(n), impl: n, exported: exported}
	into[name] = d
	return []*Declaration{d}
}

// collectImport records the local bindings of an import statement.
func collectImport(scope *fileScope, stmt Node) {
	source := stmt.Field("source")
	if source.IsZero() {
		return
	}
	specifier := unquote(source.Text())

	clause := stmt.FirstChildOfKind("import_clause")
	for _, child := range clause.NamedChildren() {
		switch child.Kind() {
		case KindIdentifier:
			scope.imports[child.Text()] = importBinding{specifier: specifier, imported: "default"}
		case "namespace_import":
			if id := child.FirstChildOfKind(KindIdentifier); !id.IsZero() {
				scope.imports[id.Text()] = importBinding{specifier: specifier, imported: "*"}
			}
		case "named_imports":
			for _, spec := range child.NamedChildren() {
				if spec.Kind() != "import_specifier" {
					continue
				}
				imported := unquote(spec.Field("name").Text())
				local := imported
				if alias := spec.Field("alias"); !alias.IsZero() {
					local = alias.Text()
				}
				if local != "" {
					scope.imports[local] = importBinding{specifier: specifier, imported: imported}
				}
			}
		}
	}
}

func containsDecl(decls []*Declaration, d *Declaration) bool {
	for _, existing := range decls {
		if existing == d {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// LocalDeclaration returns the top-level declaration named name, exported
// or not. Values take precedence over types of the same name.
func (f *SourceFile) LocalDeclaration(ctx context.Context, name string) (*Declaration, error) {
	if err := f.Load(ctx); err != nil {
		return nil, err
	}
	scope := f.fileScope()
	if d, ok := scope.values[name]; ok {
		return d, nil
	}
	if d, ok := scope.types[name]; ok {
		return d, nil
	}
	return nil, nil
}
