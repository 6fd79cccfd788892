package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"docindex/internal/config"
	"docindex/internal/embedding"
	"docindex/internal/index"
	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

const lockFile = ".lock"

// DB is the service façade: it owns the index registry, the embedder
// registry and the data directory.
type DB struct {
	conf      *config.Config
	lock      *flock.Flock
	Indexes   *index.Manager
	Embedders *embedding.Registry
}

// Open takes exclusive ownership of the data directory and loads every
// persisted index.
func (db *DB) Open(ctx context.Context, conf *config.Config, opts ...embedding.RegistryOption) error {
	if err := os.MkdirAll(conf.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", conf.DataDir, err)
	}
	lock := flock.New(filepath.Join(conf.DataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("%w: lock data directory: %v", pkgerrors.ErrPersistence, err)
	}
	if !locked {
		return fmt.Errorf("%w: data directory %s is in use by another process", pkgerrors.ErrPersistence, conf.DataDir)
	}

	manager, err := index.NewIndexManager(ctx, conf)
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	db.conf = conf
	db.lock = lock
	db.Indexes = manager
	db.Embedders = embedding.NewRegistry(conf, opts...)
	logger.Info("Opened data directory", "path", conf.DataDir, "indexes", len(manager.ListIndexes()))
	return nil
}

// Close releases the indices, the embedders and the directory lock.
func (db *DB) Close() error {
	if db.lock == nil {
		return nil
	}
	errs := []error{db.Indexes.Close(), db.Embedders.Close(), db.lock.Unlock()}
	db.lock = nil
	return errors.Join(errs...)
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.conf
}
