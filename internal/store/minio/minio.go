// Package minio implements store.Store on MinIO and other S3-compatible
// object storage. Artifacts live at <prefix>/<version>/model.bin.
package minio

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"modelswitch/internal/store"
)

// Config holds connection parameters for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store serves model artifacts from a bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) key(version string) string {
	return path.Join(s.prefix, version, store.ArtifactName)
}

func (s *Store) Exists(ctx context.Context, version string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(version), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Open(ctx context.Context, version string) (io.ReadCloser, error) {
	key := s.key(version)
	// GetObject defers errors to the first read; probe first so missing
	// versions classify correctly.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *Store) Stat(ctx context.Context, version string) (store.Info, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(version), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return store.Info{}, store.ErrNotFound
		}
		return store.Info{}, err
	}
	return store.Info{Size: info.Size, ModTime: info.LastModified}, nil
}

// List enumerates versions that have an artifact object under the prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	listPrefix := s.prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	var versions []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		rel := strings.TrimPrefix(obj.Key, listPrefix)
		version, name, ok := strings.Cut(rel, "/")
		if !ok || name != store.ArtifactName || version == "" {
			continue
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.Code == "NoSuchBucket"
}
