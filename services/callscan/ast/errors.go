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

import "errors"

const (
	// DefaultMaxFileSize is the largest source file the model will parse (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged before parsing (1MB).
	WarnFileSize = 1024 * 1024

	// maxTypeResolutionDepth bounds alias/interface/import chains during
	// call signature resolution.
	maxTypeResolutionDepth = 16

	// maxExtendsDepth bounds tsconfig "extends" chains.
	maxExtendsDepth = 8
)

var (
	// ErrFileTooLarge is returned when a source file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned when a source file is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidTSConfig is returned when a tsconfig file cannot be read or parsed.
	ErrInvalidTSConfig = errors.New("invalid tsconfig")

	// ErrUnresolvedType is returned when a declaration's type references a
	// name that cannot be resolved inside the project.
	ErrUnresolvedType = errors.New("unresolved type reference")

	// ErrMalformedDeclaration is returned when a declaration contains syntax errors.
	ErrMalformedDeclaration = errors.New("malformed declaration")
)
