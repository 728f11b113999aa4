// Package cache provides the fingerprint store used for incremental builds.
//
// Every successfully compiled source file is recorded with its modification
// time and a SHA-256 digest of its content. On the next run a source is only
// recompiled when either value changed, the hash being authoritative.
//
// Fingerprints live in a BoltDB database inside the cache directory. The
// whole mapping is read once at the start of a run and written back once at
// the end, inside a single write transaction, so the database always holds a
// complete snapshot of one run.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DatabaseName is the fingerprint database file inside the cache directory
	DatabaseName = "fingerprints.db"

	// bucketName is the BoltDB bucket holding fingerprints
	bucketName = "fingerprints"
)

// Store persists fingerprints using BoltDB
type Store struct {
	db   *bbolt.DB
	path string
	log  *slog.Logger
}

// Open opens the fingerprint database in dir, creating it if needed.
// A database that cannot be read is discarded and recreated empty.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, DatabaseName)

	db, err := openDB(path)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("cache database is locked by another build: %w", err)
		}

		log.Warn("Fingerprint cache is corrupt, starting with an empty cache",
			slog.String("path", path), slog.String("error", err.Error()))

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to discard corrupt cache: %w", rmErr)
		}

		db, err = openDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
	}

	return &Store{
		db:   db,
		path: path,
		log:  log,
	}, nil
}

func openDB(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the cache database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Load reads every persisted fingerprint. It never fails: unreadable state
// yields an empty mapping and undecodable entries are dropped.
func (s *Store) Load() *Mapping {
	entries := make(map[string]Fingerprint)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var fp Fingerprint
			if err := json.Unmarshal(v, &fp); err != nil || fp.Hash == "" {
				s.log.Debug("Dropping unreadable fingerprint", slog.String("path", string(k)))
				return nil
			}

			entries[string(k)] = fp
			return nil
		})
	})
	if err != nil {
		s.log.Warn("Failed to read fingerprint cache, treating it as empty", slog.String("error", err.Error()))
		return NewMapping()
	}

	return newMappingFrom(entries)
}

// Persist replaces the stored fingerprints with the content of m in one
// write transaction
func (s *Store) Persist(m *Mapping) error {
	entries := m.Snapshot()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		b, err := tx.CreateBucket([]byte(bucketName))
		if err != nil {
			return err
		}

		for _, k := range keys {
			data, err := json.Marshal(entries[k])
			if err != nil {
				return err
			}

			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist fingerprints: %w", err)
	}

	return nil
}

// Clear removes all fingerprints
func (s *Store) Clear() error {
	return s.Persist(NewMapping())
}

// Stats returns the number of stored fingerprints and the database size
func (s *Store) Stats() (int, int64, error) {
	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return count, 0, nil
	}

	return count, info.Size(), nil
}
