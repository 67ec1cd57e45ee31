package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/logging"
)

// stateKeyPrefix namespaces visitor state keys in BadgerDB.
const stateKeyPrefix = "state:"

// maxTxnRetries bounds retries of a conflicting SetIfAbsent transaction.
const maxTxnRetries = 5

// BadgerStorage implements KV on top of BadgerDB.
type BadgerStorage struct {
	db       *badger.DB
	dir      string
	enabled  bool
	initOnce sync.Once
	log      zerolog.Logger
}

// NewBadgerStorage creates a BadgerDB-backed KV rooted at dir.
func NewBadgerStorage(dir string) *BadgerStorage {
	return &BadgerStorage{
		dir:     dir,
		enabled: dir != "",
		log:     logging.Component("storage"),
	}
}

// Init opens the database. On failure the store is disabled.
func (b *BadgerStorage) Init() error {
	if !b.enabled {
		return nil
	}

	var initErr error
	b.initOnce.Do(func() {
		if err := os.MkdirAll(b.dir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create badger directory: %w", err)
			b.enabled = false
			return
		}

		opts := badger.DefaultOptions(b.dir).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			initErr = fmt.Errorf("failed to open badger: %w", err)
			b.enabled = false
			b.log.Warn().Err(initErr).Msg("badger storage disabled")
			return
		}
		b.db = db
	})

	return initErr
}

// stateKey length-prefixes the visitor id so ids containing ':' cannot collide
// with another visitor's keys.
func stateKey(visitorID, key string) []byte {
	return []byte(stateKeyPrefix + strconv.Itoa(len(visitorID)) + ":" + visitorID + ":" + key)
}

// Get returns the value stored under key for the visitor.
func (b *BadgerStorage) Get(ctx context.Context, visitorID, key string) ([]byte, error) {
	if !b.enabled || b.db == nil {
		return nil, ErrNotFound
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(visitorID, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores value under key for the visitor.
func (b *BadgerStorage) Set(ctx context.Context, visitorID, key string, value []byte) error {
	if !b.enabled || b.db == nil {
		return nil
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(visitorID, key), value)
	})
}

// SetIfAbsent stores value only when key is unset. Conflicting transactions are
// retried so the loser observes the winner's value.
func (b *BadgerStorage) SetIfAbsent(ctx context.Context, visitorID, key string, value []byte) ([]byte, bool, error) {
	if !b.enabled || b.db == nil {
		return nil, false, ErrDisabled
	}

	k := stateKey(visitorID, key)

	var lastErr error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		var stored []byte
		var created bool
		err := b.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if err == nil {
				stored, err = item.ValueCopy(nil)
				return err
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(k, value); err != nil {
				return err
			}
			stored = value
			created = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return stored, created, nil
	}

	return nil, false, fmt.Errorf("set-if-absent %s: %w", key, lastErr)
}

// Enabled reports whether the database is usable.
func (b *BadgerStorage) Enabled() bool {
	return b.enabled && b.db != nil
}

// Close closes the database.
func (b *BadgerStorage) Close() error {
	if !b.enabled || b.db == nil {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	b.db = nil
	return nil
}
