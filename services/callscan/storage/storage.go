// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists per sub-project call graph artifacts.
//
// Artifacts are write-once: a store refuses to replace an existing key, and
// existence of a key means the artifact is complete.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
)

var (
	// ErrArtifactExists is returned by Write when the key is already present.
	ErrArtifactExists = errors.New("artifact already exists")

	// ErrUnsupportedLocation is returned by Open for unknown location schemes.
	ErrUnsupportedLocation = errors.New("unsupported artifact location")

	// ErrInvalidKey is returned for keys that are empty or contain path separators.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// ArtifactStore is write-once storage for artifacts addressed by key.
//
// Keys are flat file names such as "project.json".
type ArtifactStore interface {
	// Exists reports whether an artifact is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Write stores data under key. It returns ErrArtifactExists if the key
	// is already present. Readers never observe a partial artifact.
	Write(ctx context.Context, key string, data []byte) error

	// Location describes where artifacts are stored, for logging.
	Location() string

	// Close releases resources held by the store.
	Close() error
}

// OpenOption configures remote stores created by Open.
type OpenOption func(*openOptions)

type openOptions struct {
	gcs []option.ClientOption
	s3  S3Config
}

// WithGCSOptions passes client options (endpoint, credentials) to gs:// stores.
func WithGCSOptions(opts ...option.ClientOption) OpenOption {
	return func(o *openOptions) {
		o.gcs = append(o.gcs, opts...)
	}
}

// WithS3Config configures s3:// stores.
func WithS3Config(cfg S3Config) OpenOption {
	return func(o *openOptions) {
		o.s3 = cfg
	}
}

// Open returns the store for a location.
//
// Description:
//
//	"gs://bucket/prefix" opens a Google Cloud Storage store using
//	application default credentials unless WithGCSOptions says otherwise.
//	"s3://bucket/prefix" opens an S3-compatible store configured by
//	WithS3Config. Any other location without a scheme is a local
//	directory, which must already exist.
//
// Inputs:
//   - ctx: Context for client construction.
//   - location: Directory path, gs:// URL or s3:// URL.
//   - opts: Remote store configuration.
//
// Outputs:
//   - ArtifactStore: The opened store. Callers must Close it.
//   - error: ErrUnsupportedLocation for unknown schemes, or open errors.
func Open(ctx context.Context, location string, opts ...OpenOption) (ArtifactStore, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case strings.HasPrefix(location, gcsScheme):
		bucket, prefix, err := parseBucketLocation(gcsScheme, location)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix, o.gcs...)
	case strings.HasPrefix(location, s3Scheme):
		bucket, prefix, err := parseBucketLocation(s3Scheme, location)
		if err != nil {
			return nil, err
		}
		return NewS3Store(o.s3, bucket, prefix)
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, location)
	default:
		return NewFSStore(location)
	}
}

// parseBucketLocation splits "<scheme>bucket/prefix" into its parts.
func parseBucketLocation(scheme, location string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(location, scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", ErrUnsupportedLocation, location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// IsRemote reports whether location names a remote store.
func IsRemote(location string) bool {
	return strings.Contains(location, "://")
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
