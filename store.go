package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nastore"
	"github.com/brandur/neoadmin/internal/nastore/nagcpstoragestore"
	"github.com/brandur/neoadmin/internal/nastore/namemorystore"
	"github.com/brandur/neoadmin/internal/nastore/naredisstore"
	"github.com/brandur/neoadmin/internal/nastore/nasqlitestore"
)

const (
	StorageBackendGCS    = "gcs"
	StorageBackendMemory = "memory"
	StorageBackendRedis  = "redis"
	StorageBackendSQLite = "sqlite"
)

// Opens the storage backend named by config. The returned close function
// should be called when the backend is no longer needed and is never nil.
func openBackend(ctx context.Context, logger *logrus.Logger, config *Config) (nastore.Backend, func() error, error) {
	noopClose := func() error { return nil }

	switch config.StorageBackend {
	case StorageBackendGCS:
		if config.GCSBucket == "" {
			return nil, nil, xerrors.Errorf("GCS_BUCKET is required for storage backend %q: %w",
				StorageBackendGCS, ErrInvalidConfig)
		}

		store, err := nagcpstoragestore.NewGCPStorageStore(ctx, logger,
			config.GCSServiceAccountJSON, config.GCSBucket, config.StoragePrefix)
		if err != nil {
			return nil, nil, xerrors.Errorf("error opening GCP storage store: %w", err)
		}
		return store, noopClose, nil

	case StorageBackendMemory:
		logger.Warnf("Using memory storage; sessions won't survive a restart")
		return namemorystore.NewMemoryStore(), noopClose, nil

	case StorageBackendRedis:
		store, err := naredisstore.NewRedisStore(ctx, config.RedisURL, config.StoragePrefix)
		if err != nil {
			return nil, nil, xerrors.Errorf("error opening Redis store: %w", err)
		}
		return store, store.Close, nil

	case StorageBackendSQLite:
		store, err := nasqlitestore.NewSQLiteStore(ctx, config.SQLitePath, config.StoragePrefix)
		if err != nil {
			return nil, nil, xerrors.Errorf("error opening SQLite store: %w", err)
		}
		return store, store.Close, nil
	}

	return nil, nil, xerrors.Errorf("unknown storage backend %q: %w", config.StorageBackend, ErrInvalidConfig)
}
