package objectstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store against a single Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore wraps an already-constructed storage.Client. The client's
// construction (credentials, endpoint overrides) is left to the caller —
// that transport detail is the spec's opaque "object-store client"
// non-goal, not something this package re-implements.
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (g *GCSStore) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

func (g *GCSStore) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := g.object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", remotePath, err)
	}
	return nil
}

func (g *GCSStore) Head(ctx context.Context, remotePath string) (ObjectInfo, error) {
	attrs, err := g.object(remotePath).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return ObjectInfo{}, ErrNotFound
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head %s: %w", remotePath, err)
	}
	return ObjectInfo{
		MD5:  base64.StdEncoding.EncodeToString(attrs.MD5),
		Size: attrs.Size,
	}, nil
}

func (g *GCSStore) Move(ctx context.Context, srcPath, dstPath string) error {
	src := g.object(srcPath)
	dst := g.object(dstPath)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcPath, dstPath, err)
	}
	if err := src.Delete(ctx); err != nil {
		return fmt.Errorf("delete source %s after move: %w", srcPath, err)
	}
	return nil
}

func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (g *GCSStore) Delete(ctx context.Context, remotePath string) error {
	err := g.object(remotePath).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return ErrNotFound
	}
	return err
}
