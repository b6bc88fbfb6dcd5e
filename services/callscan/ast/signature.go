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
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Signature is one call signature of a declaration.
//
// All type text is whitespace-normalized source text. Module qualifiers are
// left in place; rendering policy belongs to the caller.
type Signature struct {
	// TypeParameters holds the name of each type parameter, e.g. "T".
	TypeParameters []string

	// Parameters in declaration order, excluding any "this" parameter.
	Parameters []Parameter

	// ReturnType is the declared or inferred return type text.
	ReturnType string
}

// Parameter is a named parameter of a call signature.
type Parameter struct {
	Name string
	Type string
}

// nonCallableGlobals are well known global types without call signatures.
// References to them resolve to "no signatures" instead of failing.
var nonCallableGlobals = map[string]bool{
	"Array": true, "ArrayBuffer": true, "ArrayLike": true, "AsyncGenerator": true,
	"AsyncIterable": true, "AsyncIterableIterator": true, "AsyncIterator": true,
	"Awaited": true, "BigInt": true, "Boolean": true, "ConstructorParameters": true,
	"DataView": true, "Date": true, "Error": true, "Exclude": true, "Extract": true,
	"Float32Array": true, "Float64Array": true, "Function": true, "Generator": true,
	"InstanceType": true, "Int16Array": true, "Int32Array": true, "Int8Array": true,
	"Iterable": true, "IterableIterator": true, "Iterator": true, "Map": true,
	"NonNullable": true, "Number": true, "Object": true, "Omit": true,
	"Parameters": true, "Partial": true, "Pick": true, "Promise": true,
	"PromiseLike": true, "Readonly": true, "ReadonlyArray": true, "ReadonlyMap": true,
	"ReadonlySet": true, "Record": true, "RegExp": true, "Required": true,
	"ReturnType": true, "Set": true, "String": true, "Symbol": true,
	"TemplateStringsArray": true, "Uint16Array": true, "Uint32Array": true,
	"Uint8Array": true, "Uint8ClampedArray": true, "WeakMap": true, "WeakRef": true,
	"WeakSet": true,
}

// CallSignatures returns the call signatures of the declaration's type.
//
// Description:
//
//	Resolution is syntactic. Function declarations and function valued
//	initializers provide their own signature; declared variable types are
//	resolved through function types, object types with call signatures,
//	intersections, "typeof" queries, and type aliases or interfaces declared
//	in the same file or imported from another project file. Generic aliases
//	have their type arguments substituted into the resulting type text.
//	Classes, enums, namespaces, interfaces, aliases and non-function values
//	have no call signatures.
//
// Inputs:
//   - ctx: Context used when loading files that declare imported types.
//
// Outputs:
//   - []Signature: One entry per call signature, possibly empty.
//   - error: ErrUnresolvedType when a type reference cannot be resolved in
//     the project, ErrMalformedDeclaration when the declaration's signature
//     contains syntax errors. Both are wrapped with the offending name.
func (d *Declaration) CallSignatures(ctx context.Context) ([]Signature, error) {
	r := &typeResolver{ctx: ctx}
	return r.declarationSignatures(d, 0)
}

type typeResolver struct {
	ctx context.Context
}

func (r *typeResolver) declarationSignatures(d *Declaration, depth int) ([]Signature, error) {
	if depth > maxTypeResolutionDepth {
		return nil, fmt.Errorf("%w: %s: resolution too deep", ErrUnresolvedType, d.name)
	}
	switch d.kind {
	case DeclFunction:
		if len(d.overloads) > 0 {
			sigs := make([]Signature, 0, len(d.overloads))
			for _, o := range d.overloads {
				sig, err := functionSignature(o, nil)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", d.name, err)
				}
				sigs = append(sigs, sig)
			}
			return sigs, nil
		}
		sig, err := functionSignature(d.impl, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		return []Signature{sig}, nil

	case DeclVariable:
		if ann := d.impl.Field("type"); !ann.IsZero() {
			if ann.HasError() {
				return nil, fmt.Errorf("%w: %s: type annotation", ErrMalformedDeclaration, d.name)
			}
			sigs, err := r.typeSignatures(annotatedType(ann), nil, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.name, err)
			}
			return sigs, nil
		}
		return valueSignatures(d.name, d.impl.Field("value"))

	case DeclOther:
		return valueSignatures(d.name, d.impl)

	default:
		return nil, nil
	}
}

// valueSignatures returns the signature of a function valued expression.
func valueSignatures(name string, value Node) ([]Signature, error) {
	value = unwrapExpression(value)
	if !isFunctionValue(value.Kind()) {
		return nil, nil
	}
	sig, err := functionSignature(value, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return []Signature{sig}, nil
}

// typeSignatures returns the call signatures of a type node.
func (r *typeResolver) typeSignatures(t Node, subst map[string]string, depth int) ([]Signature, error) {
	if t.IsZero() {
		return nil, nil
	}
	if depth > maxTypeResolutionDepth {
		return nil, fmt.Errorf("%w: %s: resolution too deep", ErrUnresolvedType, normalizeType(t.Text()))
	}
	if t.HasError() {
		return nil, fmt.Errorf("%w: type %q", ErrMalformedDeclaration, normalizeType(t.Text()))
	}

	switch t.Kind() {
	case "parenthesized_type":
		named := t.NamedChildren()
		if len(named) == 0 {
			return nil, nil
		}
		return r.typeSignatures(named[0], subst, depth+1)

	case "function_type":
		sig, err := functionSignature(t, subst)
		if err != nil {
			return nil, err
		}
		return []Signature{sig}, nil

	case "object_type":
		return callSignaturesOf(t, subst)

	case "intersection_type":
		var sigs []Signature
		for _, member := range t.NamedChildren() {
			memberSigs, err := r.typeSignatures(member, subst, depth+1)
			if err != nil {
				return nil, err
			}
			sigs = append(sigs, memberSigs...)
		}
		return sigs, nil

	case KindTypeIdentifier:
		return r.resolveTypeName(t.File(), t.Text(), nil, subst, depth)

	case "generic_type":
		name := t.Field("name")
		if name.Kind() != KindTypeIdentifier {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, normalizeType(name.Text()))
		}
		var args []Node
		if typeArgs := t.Field("type_arguments"); !typeArgs.IsZero() {
			args = typeArgs.NamedChildren()
		}
		return r.resolveTypeName(t.File(), name.Text(), args, subst, depth)

	case "nested_type_identifier":
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, normalizeType(t.Text()))

	case "type_query":
		named := t.NamedChildren()
		if len(named) == 0 || named[0].Kind() != KindIdentifier {
			return nil, nil
		}
		return r.resolveValueName(t.File(), named[0].Text(), depth)

	default:
		// Predefined, literal, union, array, tuple, conditional and
		// constructor types have no call signatures.
		return nil, nil
	}
}

// resolveTypeName resolves a named type reference from the scope of file.
func (r *typeResolver) resolveTypeName(file *SourceFile, name string, args []Node, subst map[string]string, depth int) ([]Signature, error) {
	if _, ok := subst[name]; ok {
		return nil, nil
	}
	scope := file.fileScope()
	if d, ok := scope.types[name]; ok {
		return r.typeDeclarationSignatures(d, args, subst, depth+1)
	}
	if d, ok := scope.values[name]; ok && (d.kind == DeclClass || d.kind == DeclEnum || d.kind == DeclNamespace) {
		return nil, nil
	}
	if binding, ok := scope.imports[name]; ok && binding.imported != "*" {
		decls := file.lookupExport(r.ctx, binding.specifier, binding.imported)
		for _, d := range decls {
			if d.kind == DeclInterface || d.kind == DeclTypeAlias {
				return r.typeDeclarationSignatures(d, args, subst, depth+1)
			}
		}
		if len(decls) > 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s imported from %q", ErrUnresolvedType, name, binding.specifier)
	}
	if nonCallableGlobals[name] {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, name)
}

// resolveValueName resolves "typeof name".
func (r *typeResolver) resolveValueName(file *SourceFile, name string, depth int) ([]Signature, error) {
	scope := file.fileScope()
	if d, ok := scope.values[name]; ok {
		return r.declarationSignatures(d, depth+1)
	}
	if binding, ok := scope.imports[name]; ok && binding.imported != "*" {
		for _, d := range file.lookupExport(r.ctx, binding.specifier, binding.imported) {
			if d.kind != DeclInterface && d.kind != DeclTypeAlias {
				return r.declarationSignatures(d, depth+1)
			}
		}
	}
	return nil, fmt.Errorf("%w: typeof %s", ErrUnresolvedType, name)
}

// typeDeclarationSignatures resolves an interface or type alias, binding its
// type parameters to the reference's type arguments.
func (r *typeResolver) typeDeclarationSignatures(d *Declaration, args []Node, outer map[string]string, depth int) ([]Signature, error) {
	if depth > maxTypeResolutionDepth {
		return nil, fmt.Errorf("%w: %s: resolution too deep", ErrUnresolvedType, d.name)
	}

	var subst map[string]string
	if params := d.impl.Field("type_parameters"); !params.IsZero() {
		subst = make(map[string]string)
		i := 0
		for _, p := range params.NamedChildren() {
			if p.Kind() != "type_parameter" {
				continue
			}
			name := p.Field("name").Text()
			switch {
			case i < len(args):
				subst[name] = typeText(args[i], outer)
			case !p.Field("value").IsZero():
				subst[name] = typeText(annotatedType(p.Field("value")), nil)
			default:
				subst[name] = "any"
			}
			i++
		}
	}

	switch d.kind {
	case DeclTypeAlias:
		return r.typeSignatures(d.impl.Field("value"), subst, depth+1)

	case DeclInterface:
		var sigs []Signature
		for _, clause := range d.impl.Children() {
			if clause.Kind() != "extends_type_clause" && clause.Kind() != "extends_clause" {
				continue
			}
			for _, base := range clause.NamedChildren() {
				baseSigs, err := r.typeSignatures(base, subst, depth+1)
				if err != nil {
					return nil, err
				}
				sigs = append(sigs, baseSigs...)
			}
		}
		own, err := callSignaturesOf(d.impl.Field("body"), subst)
		if err != nil {
			return nil, err
		}
		return append(sigs, own...), nil

	default:
		return nil, nil
	}
}

// callSignaturesOf collects the call signature members of an object type or
// interface body.
func callSignaturesOf(body Node, subst map[string]string) ([]Signature, error) {
	var sigs []Signature
	for _, member := range body.NamedChildren() {
		if member.Kind() != "call_signature" {
			continue
		}
		sig, err := functionSignature(member, subst)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// =============================================================================
// Function Signatures
// =============================================================================

// functionSignature builds the signature of a function-like node: a function
// declaration, signature, expression, arrow function, function type or call
// signature member.
func functionSignature(fn Node, subst map[string]string) (Signature, error) {
	if fn.Kind() == KindError {
		return Signature{}, fmt.Errorf("%w: unparseable function", ErrMalformedDeclaration)
	}
	for _, field := range []string{"type_parameters", "parameters", "parameter", "return_type"} {
		if part := fn.Field(field); part.HasError() {
			return Signature{}, fmt.Errorf("%w: %s", ErrMalformedDeclaration, strings.ReplaceAll(field, "_", " "))
		}
	}

	sig := Signature{
		TypeParameters: typeParameters(fn.Field("type_parameters"), subst),
		Parameters:     parameters(fn, subst),
		ReturnType:     returnType(fn, subst),
	}
	return sig, nil
}

// typeParameters returns the type parameter names; constraints and
// defaults are not part of the rendered signature.
func typeParameters(params Node, subst map[string]string) []string {
	var out []string
	for _, p := range params.NamedChildren() {
		if p.Kind() == "type_parameter" {
			out = append(out, typeText(p.Field("name"), subst))
		}
	}
	return out
}

func parameters(fn Node, subst map[string]string) []Parameter {
	// Arrow functions with a single unparenthesized parameter.
	if single := fn.Field("parameter"); !single.IsZero() {
		return []Parameter{{Name: single.Text(), Type: "any"}}
	}

	var out []Parameter
	// Synthetic names use the position in the parameter list, "this" included.
	position := -1
	for _, p := range fn.Field("parameters").NamedChildren() {
		if p.Kind() != "required_parameter" && p.Kind() != "optional_parameter" {
			continue
		}
		position++
		pattern := p.Field("pattern")
		if pattern.Kind() == "this" {
			continue
		}

		param := Parameter{Type: "any"}
		rest := false
		switch pattern.Kind() {
		case KindIdentifier:
			param.Name = pattern.Text()
		case "rest_pattern":
			rest = true
			param.Name = pattern.FirstChildOfKind(KindIdentifier).Text()
			if param.Name == "" {
				param.Name = "__" + strconv.Itoa(position)
			}
			param.Type = "any[]"
		default:
			param.Name = "__" + strconv.Itoa(position)
		}

		if ann := p.Field("type"); !ann.IsZero() {
			param.Type = typeText(annotatedType(ann), subst)
		} else if !rest {
			param.Type = literalType(p.Field("value"))
		}
		out = append(out, param)
	}
	return out
}

// literalType infers a parameter type from a literal default value.
func literalType(value Node) string {
	switch value.Kind() {
	case "number":
		return "number"
	case KindString, KindTemplateString:
		return "string"
	case "true", "false":
		return "boolean"
	default:
		return "any"
	}
}

func returnType(fn Node, subst map[string]string) string {
	if ret := fn.Field("return_type"); !ret.IsZero() {
		switch ret.Kind() {
		case "type_predicate_annotation", "type_predicate":
			return "boolean"
		case "asserts_annotation", "asserts":
			return "void"
		}
		t := annotatedType(ret)
		switch t.Kind() {
		case "type_predicate":
			return "boolean"
		case "asserts":
			return "void"
		}
		return typeText(t, subst)
	}

	async := hasKeyword(fn, "async")
	generator := hasKeyword(fn, "*") || fn.Kind() == KindGeneratorDecl || fn.Kind() == KindGeneratorFunction
	if generator {
		if async {
			return "AsyncGenerator<any, any, any>"
		}
		return "Generator<any, any, any>"
	}

	body := fn.Field("body")
	inferred := "any"
	switch {
	case body.IsZero():
		inferred = "any"
	case body.Kind() != KindStatementBlock:
		inferred = "any"
	case !returnsValue(body):
		inferred = "void"
	}
	if async {
		return "Promise<" + inferred + ">"
	}
	return inferred
}

// returnsValue reports whether a function body has a "return <expr>" that
// belongs to it rather than to a nested function.
func returnsValue(body Node) bool {
	for _, ret := range body.DescendantsOfKind(KindReturnStatement) {
		if len(ret.NamedChildren()) == 0 {
			continue
		}
		owned := true
		for p := ret.Parent(); !p.IsZero() && !p.Same(body); p = p.Parent() {
			if functionLikeKinds[p.Kind()] {
				owned = false
				break
			}
		}
		if owned {
			return true
		}
	}
	return false
}

func hasKeyword(n Node, keyword string) bool {
	for _, child := range n.Children() {
		if child.Kind() == keyword {
			return true
		}
		// Keywords precede the parameter list.
		if child.Kind() == "formal_parameters" || child.Kind() == KindStatementBlock {
			break
		}
	}
	return false
}

// =============================================================================
// Type Text
// =============================================================================

// annotatedType returns the type inside a ": T" or "= T" wrapper.
func annotatedType(n Node) Node {
	switch n.Kind() {
	case "type_annotation", "default_type", "opting_type_annotation", "omitting_type_annotation", "adding_type_annotation":
		named := n.NamedChildren()
		if len(named) > 0 {
			return named[0]
		}
	}
	return n
}

// unwrapExpression strips parentheses and type assertions around a value.
func unwrapExpression(n Node) Node {
	for {
		switch n.Kind() {
		case "parenthesized_expression", "as_expression", "satisfies_expression", "non_null_expression", "type_assertion":
			var inner Node
			for _, child := range n.NamedChildren() {
				if child.Kind() != "type_arguments" {
					inner = child
					break
				}
			}
			if inner.IsZero() {
				return n
			}
			n = inner
		default:
			return n
		}
	}
}

// typeText renders a type node's text with type parameter substitution and
// whitespace normalization.
func typeText(n Node, subst map[string]string) string {
	if len(subst) == 0 || n.IsZero() {
		return normalizeType(n.Text())
	}

	ids := n.DescendantsOfKind(KindTypeIdentifier)
	if n.Kind() == KindTypeIdentifier {
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].n.StartByte() < ids[j].n.StartByte() })

	content := n.file.content
	var b strings.Builder
	pos := int(n.n.StartByte())
	for _, id := range ids {
		replacement, ok := subst[id.Text()]
		if !ok {
			continue
		}
		// Qualified names (ns.T) keep their right-hand identifier.
		if id.Parent().Kind() == "nested_type_identifier" {
			continue
		}
		b.Write(content[pos:id.n.StartByte()])
		b.WriteString(replacement)
		pos = int(id.n.EndByte())
	}
	b.Write(content[pos:n.n.EndByte()])
	return normalizeType(b.String())
}

// normalizeType collapses whitespace runs to single spaces.
func normalizeType(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
