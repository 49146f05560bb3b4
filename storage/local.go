// Package storage provides the local-filesystem blob store: buckets are
// subdirectories under a root, keys are relative paths within a bucket.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

// Local implements pipeline.Storage over a directory tree.
type Local struct {
	root string
	log  *zap.SugaredLogger
}

// NewLocal creates the store rooted at dir, creating it if needed.
func NewLocal(dir string, log *zap.SugaredLogger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("storage root is not configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid storage root %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %s", abs)
	}
	return &Local{root: abs, log: log.Named("storage")}, nil
}

var _ pipeline.Storage = (*Local)(nil)

// resolve maps (bucket, key) to an absolute path, rejecting traversal out of
// the bucket.
func (l *Local) resolve(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.Newf("empty bucket or key (bucket=%q key=%q)", bucket, key)
	}
	path := filepath.Join(l.root, bucket, filepath.FromSlash(key))
	base := filepath.Join(l.root, bucket)
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", errors.Newf("key %q escapes bucket %q", key, bucket)
	}
	return path, nil
}

func (l *Local) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := l.resolve(bucket, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s/%s", bucket, key)
	}
	return !info.IsDir(), nil
}

// Upload copies localPath under the key. Create-if-absent: an existing key
// is left untouched and the upload reports success.
func (l *Local) Upload(ctx context.Context, bucket, key, localPath string) error {
	path, err := l.resolve(bucket, key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		l.log.Debugw("Object already present, skipping upload",
			"symbol", sym.DB, "bucket", bucket, "key", key)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create bucket path for %s/%s", bucket, key)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer src.Close()

	// Write to a sibling temp file then rename, so a crashed upload never
	// leaves a half-written object behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "failed to create upload temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s/%s", bucket, key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to flush %s/%s", bucket, key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to finalize %s/%s", bucket, key)
	}
	return nil
}

func (l *Local) Download(ctx context.Context, bucket, key, localPath string) error {
	src, err := l.Open(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", localPath)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", localPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to download %s/%s", bucket, key)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := l.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s/%s", bucket, key)
	}
	return f, nil
}

// List returns keys under the prefix, in lexical walk order.
func (l *Local) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	base := filepath.Join(l.root, bucket)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}

	var keys []string
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s/%s", bucket, prefix)
	}
	return keys, nil
}

// Remove deletes one object. Missing objects are not an error.
func (l *Local) Remove(ctx context.Context, bucket, key string) error {
	path, err := l.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s/%s", bucket, key)
	}
	return nil
}

func (l *Local) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	for _, key := range keys {
		if err := l.Remove(ctx, bucket, key); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		l.log.Debugw("Removed objects", "symbol", sym.DB, "bucket", bucket, "count", len(keys))
	}
	return nil
}
