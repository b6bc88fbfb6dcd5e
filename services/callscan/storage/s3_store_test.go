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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the path-style subset of the S3 API used by S3Store.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  bool
	objects map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()

	_, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		switch r.Method {
		case http.MethodPut:
			f.bucket = true
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if f.bucket {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodHead:
		if !f.objects[key] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		f.objects[key] = true
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	if fake.objects == nil {
		fake.objects = make(map[string]bool)
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3Store(S3Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
	}, "bucket", "/runs/")
	require.NoError(t, err)
	return store
}

func TestS3Store_WriteCreatesBucketAndRefusesOverwrite(t *testing.T) {
	fake := &fakeS3{}
	store := newFakeS3Store(t, fake)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "app.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Write(ctx, "app.json", []byte("[]")))

	fake.mu.Lock()
	assert.True(t, fake.bucket, "bucket should be created on first write")
	assert.True(t, fake.objects["runs/app.json"])
	fake.mu.Unlock()

	exists, err = store.Exists(ctx, "app.json")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.Write(ctx, "app.json", []byte("[]"))
	require.ErrorIs(t, err, ErrArtifactExists)
}

func TestS3Store_ExistingObject(t *testing.T) {
	fake := &fakeS3{bucket: true, objects: map[string]bool{"runs/done.json": true}}
	store := newFakeS3Store(t, fake)

	exists, err := store.Exists(context.Background(), "done.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3Store_InvalidKey(t *testing.T) {
	store := newFakeS3Store(t, &fakeS3{bucket: true})

	_, err := store.Exists(context.Background(), "a/b.json")
	require.ErrorIs(t, err, ErrInvalidKey)
	require.ErrorIs(t, store.Write(context.Background(), "", nil), ErrInvalidKey)
}

func TestS3Store_Location(t *testing.T) {
	store, err := NewS3Store(S3Config{AccessKey: "a", SecretKey: "b"}, "bucket", "")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket", store.Location())

	_, err = NewS3Store(S3Config{}, " ", "prefix")
	require.ErrorIs(t, err, ErrUnsupportedLocation)
}
