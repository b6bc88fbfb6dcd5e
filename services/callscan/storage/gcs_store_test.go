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
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

var uploadName = regexp.MustCompile(`"name":\s*"([^"]+)"`)

// fakeGCS serves the subset of the JSON API used by GCSStore. Objects named
// in existing are reported present; uploads to them fail the DoesNotExist
// precondition.
func fakeGCS(t *testing.T, existing map[string]bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		if strings.HasPrefix(r.URL.Path, "/upload/") {
			// Multipart uploads carry the object name in the metadata part.
			name := r.URL.Query().Get("name")
			if m := uploadName.FindSubmatch(body); name == "" && m != nil {
				name = string(m[1])
			}
			if existing[name] {
				w.WriteHeader(http.StatusPreconditionFailed)
				_, _ = io.WriteString(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"bucket":"bucket","name":"`+name+`","generation":"1"}`)
			return
		}

		idx := strings.LastIndex(r.URL.Path, "/o/")
		if idx < 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		name := r.URL.Path[idx+len("/o/"):]
		if !existing[name] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"bucket":"bucket","name":"`+name+`","generation":"1"}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func newFakeGCSStore(t *testing.T, existing map[string]bool) *GCSStore {
	t.Helper()
	server := fakeGCS(t, existing)
	store, err := NewGCSStore(context.Background(), "bucket", "runs/",
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGCSStore_Exists(t *testing.T) {
	store := newFakeGCSStore(t, map[string]bool{"runs/done.json": true})
	ctx := context.Background()

	exists, err := store.Exists(ctx, "done.json")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "pending.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGCSStore_WritePreconditionFailure(t *testing.T) {
	store := newFakeGCSStore(t, map[string]bool{"runs/done.json": true})
	ctx := context.Background()

	err := store.Write(ctx, "done.json", []byte("[]"))
	require.ErrorIs(t, err, ErrArtifactExists)

	require.NoError(t, store.Write(ctx, "new.json", []byte("[]")))
}

func TestGCSStore_Location(t *testing.T) {
	store := newFakeGCSStore(t, nil)
	assert.Equal(t, "gs://bucket/runs", store.Location())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		store, err := Open(ctx, dir)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &FSStore{}, store)
		assert.Equal(t, dir, store.Location())
	})

	t.Run("gcs", func(t *testing.T) {
		store, err := Open(ctx, "gs://artifacts/batch/2024", WithGCSOptions(option.WithoutAuthentication()))
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "gs://artifacts/batch/2024", store.Location())
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		_, err := Open(ctx, "gs://")
		require.ErrorIs(t, err, ErrUnsupportedLocation)
	})

	t.Run("s3", func(t *testing.T) {
		store, err := Open(ctx, "s3://artifacts/batch/", WithS3Config(S3Config{Endpoint: "127.0.0.1:9000", AccessKey: "a", SecretKey: "b"}))
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &S3Store{}, store)
		assert.Equal(t, "s3://artifacts/batch", store.Location())
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		_, err := Open(ctx, "s3:///prefix")
		require.ErrorIs(t, err, ErrUnsupportedLocation)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := Open(ctx, "ftp://bucket/prefix")
		require.ErrorIs(t, err, ErrUnsupportedLocation)
	})
}
