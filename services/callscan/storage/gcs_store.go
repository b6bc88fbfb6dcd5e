// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// GCSStore stores artifacts as objects in a Google Cloud Storage bucket.
//
// Description:
//
//	Objects are written with a DoesNotExist precondition, so concurrent or
//	repeated writes of the same key cannot replace a finished artifact. An
//	object becomes visible only when its upload completes.
//
// Thread Safety: Safe for concurrent use.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	owned  bool
}

// NewGCSStore creates a store for bucket/prefix with a new client. Without
// options the client uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	s := NewGCSStoreWithClient(client, bucket, prefix)
	s.owned = true
	return s, nil
}

// NewGCSStoreWithClient creates a store that uses an existing client.
// The client is not closed by Close.
func NewGCSStoreWithClient(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *GCSStore) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Exists reports whether the artifact object exists.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := s.bucket.Object(s.object(key)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking artifact %s: %w", key, err)
	}
}

// Write uploads the artifact if no object exists under key.
func (s *GCSStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(s.object(key)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		// Canceling the context aborts the upload without publishing it.
		cancel()
		_ = w.Close()
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: %s", ErrArtifactExists, key)
		}
		return fmt.Errorf("finalizing %s: %w", key, err)
	}
	return nil
}

// Location returns the gs:// URL of the store.
func (s *GCSStore) Location() string {
	if s.prefix == "" {
		return gcsScheme + s.name
	}
	return gcsScheme + s.name + "/" + s.prefix
}

// Close closes the client if the store created it.
func (s *GCSStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
