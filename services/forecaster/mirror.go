// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"google.golang.org/api/option"
)

// SnapshotMirror uploads published artifact versions to a GCS bucket,
// giving off-host consumers a durable copy of every publish.
type SnapshotMirror struct {
	storageClient *storage.Client
	BucketName    string
	Prefix        string
}

// NewSnapshotMirror creates a mirror against bucketName. saKeyPath may
// be empty, in which case ambient credentials are used.
func NewSnapshotMirror(ctx context.Context, bucketName, prefix, saKeyPath string) (*SnapshotMirror, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &SnapshotMirror{
		storageClient: storageClient,
		BucketName:    bucketName,
		Prefix:        prefix,
	}, nil
}

// MirrorVersion uploads one published version's exports under
// <prefix>/<version>/. Best-effort: the caller logs failures and keeps
// the refresh loop running.
func (m *SnapshotMirror) MirrorVersion(ctx context.Context, versionDir, version string) error {
	for _, name := range artifact.RequiredExports() {
		localPath := filepath.Join(versionDir, name)
		objectPath := path.Join(m.Prefix, version, name)
		if err := m.uploadFile(ctx, localPath, objectPath); err != nil {
			return err
		}
	}
	return nil
}

func (m *SnapshotMirror) uploadFile(ctx context.Context, localPath, objectPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := m.storageClient.Bucket(m.BucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentTypeFor(localPath)
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	slog.Debug("Mirrored export", "object", "gs://"+m.BucketName+"/"+objectPath)
	return nil
}

// Close releases the underlying storage client.
func (m *SnapshotMirror) Close() error {
	return m.storageClient.Close()
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
