package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/*
BlobStore is a key-value store for binary objects (source files, meshes, results).
*/
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectStoreConfig defines the connection to the remote object store.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"Endpoint"`
	AccessKeyID     string `yaml:"AccessKeyID"`
	SecretAccessKey string `yaml:"SecretAccessKey"`
	UseSSL          bool   `yaml:"UseSSL"`
	Region          string `yaml:"Region"`
	Bucket          string `yaml:"Bucket"`
}

/*
MinioBlobStore stores blobs in one bucket of an S3 compatible object store.
*/
type MinioBlobStore struct {
	client *minio.Client
	config ObjectStoreConfig
}

/*
NewMinioBlobStore creates a blob store client for the configured bucket.
*/
func NewMinioBlobStore(cfg ObjectStoreConfig) (*MinioBlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("error [%w] at minio.New(), endpoint %s", err, cfg.Endpoint)
	}
	return &MinioBlobStore{client: client, config: cfg}, nil
}

/*
ensureBucket creates the bucket if it does not exist.
*/
func (s *MinioBlobStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("%w: error [%w] at client.BucketExists(), bucket %s", ErrUpstreamUnavailable, err, s.config.Bucket)
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: s.config.Region})
	if err != nil {
		return fmt.Errorf("%w: error [%w] at client.MakeBucket(), bucket %s", ErrUpstreamUnavailable, err, s.config.Bucket)
	}
	return nil
}

/*
Put uploads a blob.
*/
func (s *MinioBlobStore) Put(ctx context.Context, key string, data []byte) error {
	err := s.ensureBucket(ctx)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.config.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("%w: error [%w] at client.PutObject(), key %s", ErrUpstreamUnavailable, err, key)
	}
	return nil
}

/*
Get downloads a blob; missing keys return ErrBlobNotFound.
*/
func (s *MinioBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(err, key)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.classify(err, key)
	}
	return data, nil
}

func (s *MinioBlobStore) classify(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: key %s", ErrBlobNotFound, key)
	default:
		return fmt.Errorf("%w: error [%w] reading key %s", ErrUpstreamUnavailable, err, key)
	}
}

/*
FileBlobStore stores blobs as files below a directory (single node setups, tests).
*/
type FileBlobStore struct {
	Directory string
}

/*
Put writes a blob atomically (temporary file and rename).
*/
func (s FileBlobStore) Put(_ context.Context, key string, data []byte) error {
	filename := filepath.Join(s.Directory, filepath.FromSlash(key))
	err := os.MkdirAll(filepath.Dir(filename), 0o755)
	if err != nil {
		return fmt.Errorf("error [%w] at os.MkdirAll()", err)
	}
	tmp := filename + ".tmp"
	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("error [%w] at os.WriteFile(), file %s", err, tmp)
	}
	err = os.Rename(tmp, filename)
	if err != nil {
		return fmt.Errorf("error [%w] at os.Rename(), file %s", err, filename)
	}
	return nil
}

/*
Get reads a blob; missing keys return ErrBlobNotFound.
*/
func (s FileBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	filename := filepath.Join(s.Directory, filepath.FromSlash(key))
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: key %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("error [%w] at os.ReadFile(), file %s", err, filename)
	}
	return data, nil
}
