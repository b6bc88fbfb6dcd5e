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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tailscale/hujson"
)

// =============================================================================
// tsconfig.json Loading
// =============================================================================

// defaultExcludes mirrors the compiler's exclude list when none is configured.
var defaultExcludes = []string{"node_modules", "bower_components", "jspm_packages"}

// tsconfigJSON is the subset of tsconfig.json that drives file selection.
type tsconfigJSON struct {
	Extends         json.RawMessage `json:"extends"`
	CompilerOptions struct {
		OutDir  string `json:"outDir"`
		AllowJS *bool  `json:"allowJs"`
	} `json:"compilerOptions"`
	Files   *[]string `json:"files"`
	Include *[]string `json:"include"`
	Exclude *[]string `json:"exclude"`
}

// TSConfig is a resolved tsconfig with every path made absolute.
//
// Description:
//
//	Produced by ParseTSConfig after following the "extends" chain. Arrays
//	declared in a child config replace the parent's arrays; paths are always
//	relative to the config file that declared them.
//
// Thread Safety: Immutable after construction.
type TSConfig struct {
	// Path is the absolute path of the tsconfig file.
	Path string

	// Dir is the directory containing the tsconfig file.
	Dir string

	// Files are explicitly listed files (absolute).
	Files []string

	// Include are include glob patterns (absolute, slash separated).
	Include []string

	// Exclude are exclude glob patterns (absolute, slash separated).
	Exclude []string

	// OutDir is the compiler output directory (absolute), or "".
	OutDir string

	// AllowJS enables JavaScript sources.
	AllowJS bool

	allowJSSet bool
}

// ParseTSConfig reads a tsconfig file and resolves its extends chain.
//
// Description:
//
//	Accepts JSON with comments and trailing commas, as the TypeScript
//	compiler does. Relative "extends" targets are followed up to
//	maxExtendsDepth levels; package "extends" targets are looked up in
//	node_modules directories above the config. An "extends" target that
//	cannot be found is ignored with a debug log, since datasets usually
//	ship without node_modules.
//
// Inputs:
//   - path: Path to tsconfig.json. Relative paths are made absolute.
//
// Outputs:
//   - *TSConfig: The resolved configuration. Never nil on success.
//   - error: ErrInvalidTSConfig (wrapped) when the file cannot be read or parsed.
func ParseTSConfig(path string) (*TSConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrInvalidTSConfig, path, err)
	}

	cfg := &TSConfig{Path: abs, Dir: filepath.Dir(abs)}
	if err := cfg.merge(abs, 0, map[string]bool{}); err != nil {
		return nil, err
	}

	if cfg.Files == nil && cfg.Include == nil {
		cfg.Include = []string{joinPattern(cfg.Dir, "**/*")}
	}
	if cfg.Exclude == nil {
		for _, ex := range defaultExcludes {
			cfg.Exclude = append(cfg.Exclude, joinPattern(cfg.Dir, ex))
		}
		if cfg.OutDir != "" {
			cfg.Exclude = append(cfg.Exclude, filepath.ToSlash(cfg.OutDir))
		}
	}
	return cfg, nil
}

// merge applies the config at path beneath the values already set on c.
// Values set by a more derived config (visited first) are never overwritten.
func (c *TSConfig) merge(path string, depth int, seen map[string]bool) error {
	if depth > maxExtendsDepth || seen[path] {
		slog.Debug("tsconfig extends chain stopped",
			slog.String("config", path),
			slog.Int("depth", depth))
		return nil
	}
	seen[path] = true

	doc, err := readTSConfig(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if c.Files == nil && doc.Files != nil {
		c.Files = make([]string, 0, len(*doc.Files))
		for _, f := range *doc.Files {
			c.Files = append(c.Files, filepath.Clean(filepath.Join(dir, f)))
		}
	}
	if c.Include == nil && doc.Include != nil {
		c.Include = make([]string, 0, len(*doc.Include))
		for _, inc := range *doc.Include {
			c.Include = append(c.Include, joinPattern(dir, inc))
		}
	}
	if c.Exclude == nil && doc.Exclude != nil {
		c.Exclude = make([]string, 0, len(*doc.Exclude))
		for _, ex := range *doc.Exclude {
			c.Exclude = append(c.Exclude, joinPattern(dir, ex))
		}
	}
	if c.OutDir == "" && doc.CompilerOptions.OutDir != "" {
		c.OutDir = filepath.Clean(filepath.Join(dir, doc.CompilerOptions.OutDir))
	}
	if doc.CompilerOptions.AllowJS != nil && !c.allowJSSet {
		c.AllowJS = *doc.CompilerOptions.AllowJS
		c.allowJSSet = true
	}

	for _, parent := range extendsTargets(doc.Extends) {
		resolved := resolveExtends(dir, parent)
		if resolved == "" {
			slog.Debug("tsconfig extends target not found",
				slog.String("config", path),
				slog.String("extends", parent))
			continue
		}
		if err := c.merge(resolved, depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}

// tsconfigCacheSize bounds the decoded config cache, which is shared by
// every project loaded in the process.
const tsconfigCacheSize = 256

type cachedTSConfig struct {
	modTime time.Time
	size    int64
	doc     tsconfigJSON
}

var tsconfigCache *lru.Cache[string, cachedTSConfig]

func init() {
	tsconfigCache, _ = lru.New[string, cachedTSConfig](tsconfigCacheSize)
}

// readTSConfig decodes a tsconfig file, reusing the cached document while
// the file's size and modification time are unchanged.
func readTSConfig(path string) (tsconfigJSON, error) {
	info, err := os.Stat(path)
	if err != nil {
		return tsconfigJSON{}, fmt.Errorf("%w: reading %s: %w", ErrInvalidTSConfig, path, err)
	}
	if cached, ok := tsconfigCache.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.doc, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return tsconfigJSON{}, fmt.Errorf("%w: reading %s: %w", ErrInvalidTSConfig, path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return tsconfigJSON{}, fmt.Errorf("%w: parsing %s: %w", ErrInvalidTSConfig, path, err)
	}
	var doc tsconfigJSON
	if err := json.Unmarshal(std, &doc); err != nil {
		return tsconfigJSON{}, fmt.Errorf("%w: decoding %s: %w", ErrInvalidTSConfig, path, err)
	}

	tsconfigCache.Add(path, cachedTSConfig{modTime: info.ModTime(), size: info.Size(), doc: doc})
	return doc, nil
}

// extendsTargets accepts the string and array forms of "extends".
func extendsTargets(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		// Later entries override earlier ones, so visit them first.
		out := make([]string, 0, len(many))
		for i := len(many) - 1; i >= 0; i-- {
			out = append(out, many[i])
		}
		return out
	}
	return nil
}

// resolveExtends locates an extends target relative to dir.
func resolveExtends(dir, target string) string {
	candidates := []string{}
	if filepath.IsAbs(target) || strings.HasPrefix(target, ".") {
		base := filepath.Join(dir, target)
		if filepath.IsAbs(target) {
			base = target
		}
		candidates = append(candidates, base, base+".json")
	} else {
		for d := dir; ; d = filepath.Dir(d) {
			base := filepath.Join(d, "node_modules", target)
			candidates = append(candidates, base, base+".json", filepath.Join(base, "tsconfig.json"))
			if filepath.Dir(d) == d {
				break
			}
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return filepath.Clean(c)
		}
	}
	return ""
}

// joinPattern makes a tsconfig pattern absolute and slash separated.
func joinPattern(dir, pattern string) string {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	return filepath.ToSlash(filepath.Clean(pattern))
}

// hasWildcard reports whether a pattern segment uses glob syntax.
func hasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// SourceFiles enumerates the files selected by the configuration.
//
// Description:
//
//	Returns explicitly listed files first, then include matches in lexical
//	order, without duplicates. Include entries without wildcards and without
//	an extension name directories and match everything beneath them.
//	Wildcard walks skip node_modules and dot-directories unless the pattern
//	names them explicitly.
//
// Outputs:
//   - []string: Absolute file paths with supported extensions.
//   - error: Non-nil only if a directory walk fails for a reason other than
//     the directory not existing.
func (c *TSConfig) SourceFiles() ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, f := range c.Files {
		if c.supported(f) && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	var matched []string
	for _, pattern := range c.Include {
		files, err := c.expandInclude(pattern)
		if err != nil {
			return nil, err
		}
		matched = append(matched, files...)
	}
	sort.Strings(matched)

	for _, f := range matched {
		if seen[f] || c.excluded(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

func (c *TSConfig) expandInclude(pattern string) ([]string, error) {
	last := pattern[strings.LastIndex(pattern, "/")+1:]
	if !hasWildcard(pattern) {
		info, err := os.Stat(filepath.FromSlash(pattern))
		switch {
		case err != nil:
			return nil, nil
		case !info.IsDir():
			path := filepath.FromSlash(pattern)
			if c.supported(path) {
				return []string{path}, nil
			}
			return nil, nil
		}
		pattern += "/**/*"
	} else if !strings.Contains(last, ".") && !hasWildcard(last) {
		pattern += "/**/*"
	}

	base, _ := doublestar.SplitPattern(pattern)
	explicitHidden := strings.Contains(pattern, "/.")
	explicitModules := strings.Contains(pattern, "node_modules")

	var files []string
	err := filepath.WalkDir(filepath.FromSlash(base), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != filepath.FromSlash(base) {
				if (strings.HasPrefix(name, ".") && !explicitHidden) || (name == "node_modules" && !explicitModules) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !c.supported(path) {
			return nil
		}
		ok, matchErr := doublestar.Match(pattern, filepath.ToSlash(path))
		if matchErr != nil {
			return fmt.Errorf("%w: bad include pattern %q: %w", ErrInvalidTSConfig, pattern, matchErr)
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return files, nil
}

// excluded reports whether path matches an exclude pattern or lies beneath one.
func (c *TSConfig) excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range c.Exclude {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern+"/**", slashed); ok {
			return true
		}
	}
	return false
}

// supported reports whether the compiler would pick up the file.
func (c *TSConfig) supported(path string) bool {
	switch KindForPath(path) {
	case KindTS, KindTSX, KindDeclarations:
		return true
	case KindJS, KindJSX:
		return c.AllowJS
	default:
		return false
	}
}
