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
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Scheme = "s3://"

// S3Config configures S3-compatible artifact stores.
type S3Config struct {
	// Endpoint is host[:port] of the S3 API. Defaults to s3.amazonaws.com.
	Endpoint string

	// Region of the bucket. Defaults to us-east-1.
	Region string

	// AccessKey and SecretKey are static credentials. When both are empty
	// the AWS_* environment variables are used.
	AccessKey string
	SecretKey string

	// UseSSL selects https.
	UseSSL bool
}

// S3Store stores artifacts as objects in an S3-compatible bucket.
//
// Description:
//
//	S3 has no create-only put, so Write checks for the object before the
//	upload. This is safe because each key is written by exactly one worker.
//	An object becomes visible only when its upload completes.
//
// Thread Safety: Safe for concurrent use.
type S3Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewS3Store creates a store for bucket/prefix.
func NewS3Store(cfg S3Config, bucket, prefix string) (*S3Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrUnsupportedLocation)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	creds := credentials.NewEnvAWS()
	if access, secret := strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey); access != "" || secret != "" {
		creds = credentials.NewStaticV4(access, secret, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}, nil
}

func (s *S3Store) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// ensureBucket creates the bucket on first write if it does not exist.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Exists reports whether the artifact object exists. A missing bucket
// means no artifact.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, s.object(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return false, nil
	default:
		return false, fmt.Errorf("checking artifact %s: %w", key, err)
	}
}

// Write uploads the artifact if no object exists under key.
func (s *S3Store) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrArtifactExists, key)
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.object(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Location returns the s3:// URL of the store.
func (s *S3Store) Location() string {
	if s.prefix == "" {
		return s3Scheme + s.bucket
	}
	return s3Scheme + s.bucket + "/" + s.prefix
}

// Close is a no-op.
func (s *S3Store) Close() error {
	return nil
}
