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
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.opentelemetry.io/otel/attribute"
)

// SourceFile is one file of a Project.
//
// Description:
//
//	The file's syntax tree is built on first use by Load. Content registered
//	with Project.AddSourceFile is parsed from memory; files discovered from a
//	tsconfig are read from disk at that point. The result of the first Load
//	(tree or error) is kept for the lifetime of the project.
//
// Thread Safety: Not safe for concurrent use.
type SourceFile struct {
	project  *Project
	path     string
	kind     ContentKind
	inMemory bool

	content []byte
	tree    *sitter.Tree
	root    Node
	offsets *offsetIndex
	loaded  bool
	loadErr error

	scope     *fileScope
	exports   []ExportedSymbol
	resolving bool
}

// FilePath returns the absolute path of the file.
func (f *SourceFile) FilePath() string {
	return f.path
}

// Kind returns the content kind derived from the file name.
func (f *SourceFile) Kind() ContentKind {
	return f.kind
}

// Project returns the owning project.
func (f *SourceFile) Project() *Project {
	return f.project
}

// Load reads and parses the file if it has not been parsed yet.
//
// Description:
//
//	Enforces the project's size limit and requires valid UTF-8. TSX and JSX
//	files use the tsx grammar; everything else uses the typescript grammar.
//	A tree containing syntax errors still loads successfully; errors are
//	reported per declaration by the signature resolver.
//
// Inputs:
//   - ctx: Context for cancellation of the parse.
//
// Outputs:
//   - error: nil on success. ErrFileTooLarge, ErrInvalidContent, read errors
//     or parser errors otherwise. The same error is returned on every call.
func (f *SourceFile) Load(ctx context.Context) error {
	if f.loaded {
		return f.loadErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load canceled before start: %w", err)
	}
	f.loaded = true
	f.loadErr = f.parse(ctx)
	if f.loadErr != nil {
		f.content = nil
	}
	return f.loadErr
}

func (f *SourceFile) parse(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "ast.SourceFile.parse")
	defer span.End()
	span.SetAttributes(attribute.String("file", f.path))

	start := time.Now()
	logger := f.project.logger

	content := f.content
	if !f.inMemory {
		var err error
		content, err = f.project.readSource(f.path)
		if err != nil {
			recordParse(ctx, f.kind, time.Since(start), false)
			return err
		}
	} else if int64(len(content)) > f.project.maxFileSize {
		recordParse(ctx, f.kind, time.Since(start), false)
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), f.project.maxFileSize)
	}

	if len(content) > WarnFileSize {
		logger.Warn("parsing large file",
			slog.String("file", f.path),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParse(ctx, f.kind, time.Since(start), false)
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	switch f.kind {
	case KindTSX, KindJSX:
		parser.SetLanguage(tsx.GetLanguage())
	default:
		parser.SetLanguage(typescript.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParse(ctx, f.kind, time.Since(start), false)
		return fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		recordParse(ctx, f.kind, time.Since(start), false)
		return fmt.Errorf("%w: parser returned no root node", ErrInvalidContent)
	}

	f.content = content
	f.tree = tree
	f.offsets = newOffsetIndex(content)
	f.root = newNode(root, f)

	if root.HasError() {
		logger.Debug("source contains syntax errors", slog.String("file", f.path))
	}
	recordParse(ctx, f.kind, time.Since(start), true)
	return nil
}

// Root returns the program node. The file must be loaded.
func (f *SourceFile) Root() Node {
	return f.root
}

// FullText returns the file's complete text. The file must be loaded.
func (f *SourceFile) FullText() string {
	return string(f.content)
}

// reset discards any parse state and installs new in-memory content.
// A nil content means the file is read from disk on Load.
func (f *SourceFile) reset(content []byte) {
	f.close()
	f.content = content
	f.inMemory = content != nil
	f.root = Node{}
	f.offsets = nil
	f.loaded = false
	f.loadErr = nil
	f.scope = nil
	f.exports = nil
	f.resolving = false
}

func (f *SourceFile) close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}
