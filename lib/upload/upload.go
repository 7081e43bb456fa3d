// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload archives finished transcripts to S3-compatible object
// storage.
package upload

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ttyspool/ttyspool/recorder"
)

// Options configures the object-storage client.
type Options struct {
	// Endpoint is the host[:port] of the S3-compatible service.
	Endpoint string
	// AccessKey and SecretKey are static credentials.
	AccessKey string
	SecretKey string
	// UseTLS selects https.
	UseTLS bool
}

// Archiver uploads local files into a bucket. The bucket must already
// exist; the archiver never creates it.
type Archiver struct {
	client *minio.Client
}

// The archiver is the production implementation of the recorder's
// uploader capability.
var _ recorder.Uploader = (*Archiver)(nil)

// New builds an Archiver from static credentials.
func New(options Options) (*Archiver, error) {
	client, err := minio.New(options.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(options.AccessKey, options.SecretKey, ""),
		Secure: options.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("building object storage client: %w", err)
	}
	return &Archiver{client: client}, nil
}

// Upload copies the file at localPath into the bucket under
// objectName.
func (a *Archiver) Upload(ctx context.Context, bucket, localPath, objectName string) error {
	_, err := a.client.FPutObject(ctx, bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}
	return nil
}
