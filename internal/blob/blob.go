// Package blob defines the blob-store collaborator and an afero-backed
// implementation of it.
//
// Buckets are directories under a base path and keys are file names inside
// them. Production code uses afero.NewOsFs; tests use afero.NewMemMapFs.
package blob

import (
	"context"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/errors"
)

// Store is the blob-store collaborator.
type Store interface {
	// CreateBucket makes the bucket if it does not exist.
	CreateBucket(ctx context.Context, bucket string) error
	// Put writes data under bucket/key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte) error
	// Get opens the object for streaming. Callers close the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete removes one object.
	Delete(ctx context.Context, bucket, key string) error
	// DeleteAll removes every object in the bucket.
	DeleteAll(ctx context.Context, bucket string) error
}

// AferoStore implements Store over an afero filesystem.
type AferoStore struct {
	fs   afero.Fs
	base string
}

var _ Store = (*AferoStore)(nil)

// NewAferoStore returns a store rooted at base on fs.
func NewAferoStore(fs afero.Fs, base string) *AferoStore {
	return &AferoStore{fs: fs, base: base}
}

// NewOsStore returns a store rooted at base on the local filesystem.
func NewOsStore(base string) *AferoStore {
	return NewAferoStore(afero.NewOsFs(), base)
}

// CreateBucket makes the bucket directory.
func (s *AferoStore) CreateBucket(_ context.Context, bucket string) error {
	dir, err := s.bucketPath(bucket)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return errors.NewTransportError("create bucket", err).WithAddress(bucket)
	}
	return nil
}

// Put writes the object atomically through a temporary file so a concurrent
// Get never observes a partial object.
func (s *AferoStore) Put(_ context.Context, bucket, key string, data []byte) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return errors.NewTransportError("put", err).WithAddress(bucket + "/" + key)
	}
	tmp := p + ".partial"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return errors.NewTransportError("put", err).WithAddress(bucket + "/" + key)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.NewTransportError("put", err).WithAddress(bucket + "/" + key)
	}
	return nil
}

// Get opens the object. A missing object yields a NotFoundError wrapping
// ErrBlobNotFound.
func (s *AferoStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("blob", bucket+"/"+key).WithCause(errors.ErrBlobNotFound)
	}
	if err != nil {
		return nil, errors.NewTransportError("get", err).WithAddress(bucket + "/" + key)
	}
	return f, nil
}

// Delete removes one object. Deleting a missing object is not an error.
func (s *AferoStore) Delete(_ context.Context, bucket, key string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.NewTransportError("delete", err).WithAddress(bucket + "/" + key)
	}
	return nil
}

// DeleteAll empties the bucket, leaving the bucket itself in place.
func (s *AferoStore) DeleteAll(_ context.Context, bucket string) error {
	dir, err := s.bucketPath(bucket)
	if err != nil {
		return err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.NewTransportError("delete all", err).WithAddress(bucket)
	}
	for _, e := range entries {
		if err := s.fs.RemoveAll(path.Join(dir, e.Name())); err != nil {
			return errors.NewTransportError("delete all", err).WithAddress(bucket)
		}
	}
	return nil
}

// List returns the keys in a bucket in lexical order.
func (s *AferoStore) List(_ context.Context, bucket string) ([]string, error) {
	dir, err := s.bucketPath(bucket)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewTransportError("list", err).WithAddress(bucket)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".partial") {
			continue
		}
		keys = append(keys, e.Name())
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *AferoStore) bucketPath(bucket string) (string, error) {
	if !validSegment(bucket) {
		return "", errors.NewValidationError("invalid bucket name").WithField("bucket").WithValue(bucket)
	}
	return path.Join(s.base, bucket), nil
}

func (s *AferoStore) objectPath(bucket, key string) (string, error) {
	dir, err := s.bucketPath(bucket)
	if err != nil {
		return "", err
	}
	if !validSegment(key) {
		return "", errors.NewValidationError("invalid object key").WithField("key").WithValue(key)
	}
	return path.Join(dir, key), nil
}

func validSegment(s string) bool {
	return strings.TrimSpace(s) != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
