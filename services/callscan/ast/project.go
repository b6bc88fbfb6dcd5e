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
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ProjectOption configures a Project.
type ProjectOption func(*Project)

// WithMaxFileSize sets the maximum source file size the project will parse.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
func WithMaxFileSize(bytes int64) ProjectOption {
	return func(p *Project) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *slog.Logger) ProjectOption {
	return func(p *Project) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Project is the code model for one TypeScript sub-project.
//
// Description:
//
//	A Project owns an ordered set of source files. Files are parsed lazily
//	the first time their syntax is needed, so a file that cannot be read or
//	parsed only affects callers that ask for it. Cross-file queries (module
//	resolution for re-exports and imported types) only consider files that
//	belong to the project.
//
// Thread Safety:
//
//	Not safe for concurrent use. A Project is built and consumed by a single
//	worker; workers never share projects.
type Project struct {
	configPath  string
	rootDir     string
	files       []*SourceFile
	byPath      map[string]*SourceFile
	maxFileSize int64
	logger      *slog.Logger
}

// NewProject creates an empty project rooted at rootDir.
//
// Files are added with AddSourceFile (in-memory content) or discovered by
// LoadProject from a tsconfig.
func NewProject(rootDir string, opts ...ProjectOption) *Project {
	p := &Project{
		rootDir:     rootDir,
		byPath:      make(map[string]*SourceFile),
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadProject builds the code model for the project described by a tsconfig file.
//
// Description:
//
//	Resolves the tsconfig (including its extends chain), enumerates the
//	selected source files and registers them for lazy parsing. No source file
//	is read here; per-file failures surface from SourceFile.Load.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after enumeration.
//   - tsconfigPath: Path to the tsconfig.json marker file.
//   - opts: Optional configuration (WithMaxFileSize, WithLogger).
//
// Outputs:
//   - *Project: The project model. Never nil on success.
//   - error: ErrInvalidTSConfig (wrapped) for unreadable configs, directory
//     walk failures, or context errors.
//
// Example:
//
//	project, err := ast.LoadProject(ctx, "/data/repo/tsconfig.json")
//	if err != nil {
//	    return err
//	}
//	defer project.Close()
func LoadProject(ctx context.Context, tsconfigPath string, opts ...ProjectOption) (*Project, error) {
	ctx, span := tracer().Start(ctx, "ast.LoadProject")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load canceled before start: %w", err)
	}

	start := time.Now()
	cfg, err := ParseTSConfig(tsconfigPath)
	if err != nil {
		return nil, err
	}

	paths, err := cfg.SourceFiles()
	if err != nil {
		return nil, fmt.Errorf("enumerating files for %s: %w", cfg.Path, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load canceled after enumeration: %w", err)
	}

	p := NewProject(cfg.Dir, opts...)
	p.configPath = cfg.Path
	for _, path := range paths {
		p.addFile(path, nil)
	}

	span.SetAttributes(
		attribute.String("tsconfig", cfg.Path),
		attribute.Int("files", len(p.files)),
	)
	p.logger.Debug("project loaded",
		slog.String("tsconfig", cfg.Path),
		slog.Int("files", len(p.files)),
		slog.Duration("elapsed", time.Since(start)))

	return p, nil
}

// AddSourceFile registers a file with in-memory content.
//
// The path is made absolute relative to the project root. Adding a path
// twice replaces the earlier content but keeps its position.
func (p *Project) AddSourceFile(path string, content []byte) *SourceFile {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.rootDir, path)
	}
	if content == nil {
		content = []byte{}
	}
	return p.addFile(filepath.Clean(path), content)
}

func (p *Project) addFile(path string, content []byte) *SourceFile {
	if existing, ok := p.byPath[path]; ok {
		existing.close()
		existing.reset(content)
		return existing
	}
	f := &SourceFile{
		project: p,
		path:    path,
		kind:    KindForPath(path),
	}
	f.reset(content)
	p.files = append(p.files, f)
	p.byPath[path] = f
	return f
}

// SourceFiles returns the project's files in model order.
func (p *Project) SourceFiles() []*SourceFile {
	out := make([]*SourceFile, len(p.files))
	copy(out, p.files)
	return out
}

// SourceFile returns the file registered at path, or nil.
func (p *Project) SourceFile(path string) *SourceFile {
	return p.byPath[filepath.Clean(path)]
}

// ConfigPath returns the tsconfig path the project was loaded from, or "".
func (p *Project) ConfigPath() string {
	return p.configPath
}

// RootDir returns the project root directory.
func (p *Project) RootDir() string {
	return p.rootDir
}

// Close releases every parsed syntax tree.
func (p *Project) Close() {
	for _, f := range p.files {
		f.close()
	}
}

// moduleExtensions are tried, in order, when resolving an extensionless specifier.
var moduleExtensions = []string{".ts", ".tsx", ".d.ts", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// resolveModule maps a relative module specifier to a project file.
//
// Only relative specifiers are resolved; package imports return nil. ESM
// style specifiers ending in .js are also tried as their .ts sources.
func (p *Project) resolveModule(from *SourceFile, specifier string) *SourceFile {
	if !(specifier == "." || specifier == ".." || strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")) {
		return nil
	}
	base := filepath.Join(filepath.Dir(from.path), filepath.FromSlash(specifier))

	candidates := []string{base}
	if ext := filepath.Ext(base); ext != "" {
		stem := strings.TrimSuffix(base, ext)
		switch ext {
		case ".js", ".jsx":
			candidates = append(candidates, stem+".ts", stem+".tsx", stem+".d.ts")
		case ".mjs":
			candidates = append(candidates, stem+".mts")
		case ".cjs":
			candidates = append(candidates, stem+".cts")
		}
	}
	for _, ext := range moduleExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range moduleExtensions {
		candidates = append(candidates, filepath.Join(base, "index"+ext))
	}

	for _, c := range candidates {
		if f, ok := p.byPath[c]; ok && f != from {
			return f
		}
	}
	return nil
}

// readSource reads a file from disk enforcing the project's size limit.
func (p *Project) readSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, info.Size(), p.maxFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}
