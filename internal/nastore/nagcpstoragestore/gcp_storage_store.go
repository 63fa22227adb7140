// Package nagcpstoragestore implements nastore's `Backend` interface for GCP's
// storage service. Each item is an object under a common prefix in a bucket
// that should be created out-of-band. Expiry is enforced by nastore, so no
// lifecycle rule is needed on the bucket, although one that deletes objects
// older than the longest session TTL keeps abandoned items from piling up.
package nagcpstoragestore

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/brandur/neoadmin/internal/nastore"
)

// Delimiter is appended to a prefix that doesn't already end in it, so that
// objects are named like `neoadmin/token`.
const Delimiter = "/"

type GCPStorageStore struct {
	bucket string
	logger *logrus.Logger
	name   string
	prefix string

	// All for purposes of testability.
	storageDeleter func(ctx context.Context, bucket, object string) error
	storageLister  func(ctx context.Context, bucket, prefix string) ([]string, error)
	storageReader  func(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	storageWriter  func(ctx context.Context, bucket, object string) io.WriteCloser
}

func NewGCPStorageStore(ctx context.Context, logger *logrus.Logger, serviceAccountJSON, bucket, prefix string) (*GCPStorageStore, error) { //nolint:lll
	storageClient, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		return nil, xerrors.Errorf("error creating storage client: %w", err)
	}
	storageClient.SetRetry(
		storage.WithBackoff(gax.Backoff{
			Initial: 1 * time.Second,
			Max:     5 * time.Second,
		}),
		// Always retries, even for non-idempotent operations.
		storage.WithPolicy(storage.RetryAlways),
	)

	store := newGCPStorageStore(logger, bucket, prefix)
	store.storageDeleter = func(ctx context.Context, bucket, object string) error {
		return storageClient.Bucket(bucket).Object(object).Delete(ctx) //nolint:wrapcheck
	}
	store.storageLister = func(ctx context.Context, bucket, prefix string) ([]string, error) {
		var (
			it      = storageClient.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
			objects []string
		)

		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			objects = append(objects, attrs.Name)
		}

		return objects, nil
	}
	store.storageReader = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return storageClient.Bucket(bucket).Object(object).NewReader(ctx) //nolint:wrapcheck
	}
	store.storageWriter = func(ctx context.Context, bucket, object string) io.WriteCloser {
		return storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	}

	return store, nil
}

func newGCPStorageStore(logger *logrus.Logger, bucket, prefix string) *GCPStorageStore {
	return &GCPStorageStore{
		bucket: bucket,
		logger: logger,
		name:   reflect.TypeOf(GCPStorageStore{}).Name(),
		prefix: normalizePrefix(prefix),
	}
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, Delimiter) {
		return prefix
	}
	return prefix + Delimiter
}

func (s *GCPStorageStore) object(key string) string {
	return s.prefix + key
}

func (s *GCPStorageStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storageReader(ctx, s.bucket, s.object(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nastore.ErrKeyNotFound
		}

		return nil, xerrors.Errorf("error getting object reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, xerrors.Errorf("error reading object: %w", err)
	}

	return data, nil
}

func (s *GCPStorageStore) SetItem(ctx context.Context, key string, data []byte) error {
	writer := s.storageWriter(ctx, s.bucket, s.object(key))

	if _, err := writer.Write(data); err != nil {
		return xerrors.Errorf("error writing object: %w", err)
	}

	if err := writer.Close(); err != nil {
		return xerrors.Errorf("error closing writer: %w", err)
	}

	return nil
}

func (s *GCPStorageStore) RemoveItem(ctx context.Context, key string) error {
	if err := s.storageDeleter(ctx, s.bucket, s.object(key)); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}

		return xerrors.Errorf("error deleting object: %w", err)
	}

	return nil
}

func (s *GCPStorageStore) Keys(ctx context.Context) ([]string, error) {
	objects, err := s.storageLister(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, xerrors.Errorf("error listing objects: %w", err)
	}

	keys := make([]string, len(objects))
	for i, object := range objects {
		keys[i] = strings.TrimPrefix(object, s.prefix)
	}

	return keys, nil
}

func (s *GCPStorageStore) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := s.RemoveItem(ctx, key); err != nil {
			return err
		}
	}

	s.logger.Infof(s.name+": Cleared %d object(s) under prefix %q", len(keys), s.prefix)

	return nil
}
