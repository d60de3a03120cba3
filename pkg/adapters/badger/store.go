// Package badger implements ports.StepStore on an embedded BadgerDB.
//
// Keys:
//
//	meta/<session>          next position (uint64, big endian)
//	step/<session>/<pos>    JSON-encoded codec.WireStep, pos zero padded
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
)

// maxConflictRetries bounds retries of an Append that raced another writer.
const maxConflictRetries = 8

// Config holds configuration for the underlying database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store implements ports.StepStore using BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a database and returns a store over it.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an already open database. The caller keeps ownership.
func NewFromDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func metaKey(sessionID string) []byte {
	return []byte("meta/" + sessionID)
}

func stepPrefix(sessionID string) []byte {
	return []byte("step/" + sessionID + "/")
}

func stepKey(sessionID string, pos uint64) []byte {
	return []byte(fmt.Sprintf("step/%s/%020d", sessionID, pos))
}

func validID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if strings.Contains(sessionID, "/") {
		return fmt.Errorf("invalid sessionID %q", sessionID)
	}
	return nil
}

// Append writes steps after the session's last position in one transaction.
func (s *Store) Append(ctx context.Context, sessionID string, steps ...*codec.WireStep) error {
	if err := validID(sessionID); err != nil {
		return err
	}
	encoded := make([][]byte, 0, len(steps))
	for _, step := range steps {
		data, err := codec.Marshal(step)
		if err != nil {
			return fmt.Errorf("failed to marshal step %d: %w", step.Index, err)
		}
		encoded = append(encoded, data)
	}

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			next, err := readNext(txn, sessionID)
			if err != nil {
				return err
			}
			for _, data := range encoded {
				if err := txn.Set(stepKey(sessionID, next), data); err != nil {
					return err
				}
				next++
			}
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, next)
			return txn.Set(metaKey(sessionID), buf)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to append to badger: %w", err)
	}
	return nil
}

func readNext(txn *badger.Txn, sessionID string) (uint64, error) {
	item, err := txn.Get(metaKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var next uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt meta for session %s", sessionID)
		}
		next = binary.BigEndian.Uint64(val)
		return nil
	})
	return next, err
}

// Load returns the session's steps in arrival order.
func (s *Store) Load(ctx context.Context, sessionID string) ([]*codec.WireStep, error) {
	if err := validID(sessionID); err != nil {
		return nil, err
	}

	var steps []*codec.WireStep
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = stepPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var step codec.WireStep
			if err := it.Item().Value(func(val []byte) error {
				return codec.Unmarshal(val, &step)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", it.Item().Key(), err)
			}
			steps = append(steps, &step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// Delete removes the session and all its steps.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := validID(sessionID); err != nil {
		return err
	}
	keys := [][]byte{metaKey(sessionID)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = stepPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return wb.Flush()
}

// List returns stored session IDs in key order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	sessions := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("meta/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			sessions = append(sessions, strings.TrimPrefix(string(it.Item().Key()), "meta/"))
		}
		return nil
	})
	return sessions, err
}
