package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/emenda-labs/apidelta/core/surface"
)

// StoredEntry is the persisted form of a cache entry.
type StoredEntry struct {
	Token       string              `json:"token"`
	ValidatedAt time.Time           `json:"validated_at"`
	Surface     *surface.APISurface `json:"surface"`
}

// Store is a persistent tier behind the in-memory cache. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(key Key) (StoredEntry, bool, error)
	Save(key Key, e StoredEntry) error
	Delete(key Key) error
	Close() error
}

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// Namespace separates ecosystems sharing one directory.
	Namespace string

	// InMemory enables in-memory mode, for tests.
	InMemory bool

	// Logger receives BadgerDB's own log lines. If nil, they are dropped.
	Logger *slog.Logger
}

// BadgerStore persists surfaces in BadgerDB under keys of the form
// surface/<namespace>/<package>@<version>#<strategy>.
type BadgerStore struct {
	db        *badger.DB
	namespace string
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens a BadgerStore, creating the directory if needed.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent surface store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create surface store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open surface store: %w", err)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "default"
	}
	return &BadgerStore{db: db, namespace: ns}, nil
}

func (s *BadgerStore) dbKey(key Key) []byte {
	return []byte("surface/" + s.namespace + "/" + key.String())
}

// Load returns the stored entry for key, if any.
func (s *BadgerStore) Load(key Key) (StoredEntry, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.dbKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return StoredEntry{}, false, nil
	}
	if err != nil {
		return StoredEntry{}, false, fmt.Errorf("loading %s: %w", key, err)
	}

	var e StoredEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return StoredEntry{}, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return e, true, nil
}

// Save writes e under key, replacing any previous entry.
func (s *BadgerStore) Save(key Key, e StoredEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.dbKey(key), raw)
	}); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(key Key) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.dbKey(key))
	}); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
