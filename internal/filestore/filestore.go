// Package filestore stores uploaded documents as
// {storageDir}/{documentId}.{ext} objects in a MinIO bucket, with
// save/get/exists/delete operations.
package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is a MinIO-backed object store scoped to one bucket and storage
// directory prefix.
type Store struct {
	client     *minio.Client
	bucket     string
	storageDir string
}

// Config names the MinIO endpoint and credentials to connect with.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseTLS     bool
	StorageDir string
}

// New connects to MinIO and ensures the configured bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check MinIO bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create MinIO bucket: %w", err)
		}
	}

	dir := cfg.StorageDir
	if dir == "" {
		dir = "documents"
	}

	return &Store{client: client, bucket: cfg.Bucket, storageDir: dir}, nil
}

func (s *Store) objectKey(docID uuid.UUID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s.%s", s.storageDir, docID, ext)
}

// Save uploads file content under {storageDir}/{documentId}.{ext}.
func (s *Store) Save(ctx context.Context, docID uuid.UUID, ext string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(docID, ext), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", docID, err)
	}
	return nil
}

// Get opens a stream over the stored file.
func (s *Store) Get(ctx context.Context, docID uuid.UUID, ext string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(docID, ext), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docID, err)
	}
	return obj, nil
}

// Exists reports whether the file for docID has materialized yet.
func (s *Store) Exists(ctx context.Context, docID uuid.UUID, ext string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.objectKey(docID, ext), minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", docID, err)
	}
	return true, nil
}

// Delete removes the stored file for docID.
func (s *Store) Delete(ctx context.Context, docID uuid.UUID, ext string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(docID, ext), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	return nil
}
