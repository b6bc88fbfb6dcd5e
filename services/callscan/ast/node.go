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
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// Span is a half-open range of character (Unicode code point) offsets into
// the original text of a single file.
type Span struct {
	Begin int
	End   int
}

// Node is a syntax node bound to the source file it was parsed from.
//
// Description:
//
//	Node wraps a tree-sitter node so that text and offsets are always
//	computed against the owning file's content. The zero Node is valid and
//	represents "no node"; all accessors return zero values for it.
//
// Thread Safety: Safe for concurrent reads once the owning file is loaded.
type Node struct {
	n    *sitter.Node
	file *SourceFile
}

func newNode(n *sitter.Node, file *SourceFile) Node {
	if n == nil {
		return Node{}
	}
	return Node{n: n, file: file}
}

// IsZero reports whether the node is absent.
func (n Node) IsZero() bool {
	return n.n == nil
}

// Kind returns the tree-sitter node type, or "" for the zero Node.
func (n Node) Kind() string {
	if n.n == nil {
		return ""
	}
	return n.n.Type()
}

// File returns the source file the node belongs to.
func (n Node) File() *SourceFile {
	return n.file
}

// Text returns the raw source text covered by the node.
func (n Node) Text() string {
	if n.n == nil || n.file == nil {
		return ""
	}
	return string(n.file.content[n.n.StartByte():n.n.EndByte()])
}

// Span returns the node's character offsets within its file.
func (n Node) Span() Span {
	if n.n == nil || n.file == nil {
		return Span{}
	}
	return Span{
		Begin: n.file.offsets.charOffset(int(n.n.StartByte())),
		End:   n.file.offsets.charOffset(int(n.n.EndByte())),
	}
}

// Same reports whether both values refer to the same syntax node.
func (n Node) Same(other Node) bool {
	if n.n == nil || other.n == nil {
		return n.n == other.n
	}
	return n.file == other.file &&
		n.n.StartByte() == other.n.StartByte() &&
		n.n.EndByte() == other.n.EndByte() &&
		n.n.Type() == other.n.Type()
}

// HasError reports whether the node or any descendant is a syntax error.
func (n Node) HasError() bool {
	if n.n == nil {
		return false
	}
	return n.n.HasError()
}

// Field returns the child stored under the given grammar field name.
func (n Node) Field(name string) Node {
	if n.n == nil {
		return Node{}
	}
	return newNode(n.n.ChildByFieldName(name), n.file)
}

// Parent returns the enclosing node, or the zero Node at the root.
func (n Node) Parent() Node {
	if n.n == nil {
		return Node{}
	}
	return newNode(n.n.Parent(), n.file)
}

// Children returns all children, named and anonymous, in source order.
func (n Node) Children() []Node {
	if n.n == nil {
		return nil
	}
	count := int(n.n.ChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if child := n.n.Child(i); child != nil {
			children = append(children, newNode(child, n.file))
		}
	}
	return children
}

// NamedChildren returns the named children in source order.
func (n Node) NamedChildren() []Node {
	if n.n == nil {
		return nil
	}
	count := int(n.n.NamedChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if child := n.n.NamedChild(i); child != nil {
			children = append(children, newNode(child, n.file))
		}
	}
	return children
}

// FirstChildOfKind returns the first direct child with the given type.
func (n Node) FirstChildOfKind(kinds ...string) Node {
	for _, child := range n.Children() {
		for _, kind := range kinds {
			if child.Kind() == kind {
				return child
			}
		}
	}
	return Node{}
}

// DescendantsOfKind returns every descendant of the given type in document
// order (depth-first, left-to-right). The node itself is not included.
//
// Description:
//
//	Uses an explicit stack rather than recursion so that deeply nested
//	expressions cannot exhaust the goroutine stack. Children are pushed in
//	reverse so they are popped in source order.
//
// Inputs:
//   - kind: Tree-sitter node type to collect (e.g. KindCallExpression).
//
// Outputs:
//   - []Node: Matching descendants. Empty when none match.
func (n Node) DescendantsOfKind(kind string) []Node {
	if n.n == nil {
		return nil
	}

	var found []Node
	stack := make([]*sitter.Node, 0, 64)
	for i := int(n.n.ChildCount()) - 1; i >= 0; i-- {
		if child := n.n.Child(i); child != nil {
			stack = append(stack, child)
		}
	}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.Type() == kind {
			found = append(found, newNode(current, n.file))
		}

		for i := int(current.ChildCount()) - 1; i >= 0; i-- {
			if child := current.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
	return found
}

// =============================================================================
// Character Offsets
// =============================================================================

// offsetCheckpointStride is the byte distance between rune-count checkpoints.
const offsetCheckpointStride = 1024

type offsetCheckpoint struct {
	bytePos   int
	runeCount int
}

// offsetIndex converts byte offsets produced by tree-sitter into code point
// offsets. Pure ASCII files map one to one and skip the checkpoint table.
type offsetIndex struct {
	content     []byte
	ascii       bool
	checkpoints []offsetCheckpoint
}

func newOffsetIndex(content []byte) *offsetIndex {
	idx := &offsetIndex{content: content, ascii: true}
	for _, b := range content {
		if b >= utf8.RuneSelf {
			idx.ascii = false
			break
		}
	}
	if idx.ascii {
		return idx
	}

	// checkpoints[k] is the first rune start at or after k*stride.
	next := 0
	runes := 0
	for pos := 0; pos <= len(content); {
		for next*offsetCheckpointStride <= pos {
			idx.checkpoints = append(idx.checkpoints, offsetCheckpoint{bytePos: pos, runeCount: runes})
			next++
		}
		if pos == len(content) {
			break
		}
		_, size := utf8.DecodeRune(content[pos:])
		pos += size
		runes++
	}
	return idx
}

// charOffset returns the number of code points before byte offset b.
// b must fall on a rune boundary, which holds for every node boundary.
func (x *offsetIndex) charOffset(b int) int {
	if x == nil || x.ascii {
		return b
	}
	if b > len(x.content) {
		b = len(x.content)
	}

	k := b / offsetCheckpointStride
	if k >= len(x.checkpoints) {
		k = len(x.checkpoints) - 1
	}
	cp := x.checkpoints[k]
	if cp.bytePos > b {
		// Only reachable for offsets inside a multi-byte rune.
		cp = x.checkpoints[0]
	}
	return cp.runeCount + utf8.RuneCount(x.content[cp.bytePos:b])
}
