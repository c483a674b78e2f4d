package cache

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// badgerPrefix namespaces cache keys so the database can be shared.
const badgerPrefix = "cache:"

// BadgerBackend stores entries in an embedded Badger database.
type BadgerBackend struct {
	db *badgerdb.DB
}

// OpenBadger opens a Badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*BadgerBackend, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func badgerKey(key string) []byte {
	return []byte(badgerPrefix + key)
}

// GetItem implements Backend.
func (b *BadgerBackend) GetItem(_ context.Context, key string) (*Entry, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return decodeEntry(data)
}

// SetItem implements Backend.
func (b *BadgerBackend) SetItem(_ context.Context, key string, e *Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// RemoveItem implements Backend.
func (b *BadgerBackend) RemoveItem(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(badgerKey(key)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// HasItem implements Backend.
func (b *BadgerBackend) HasItem(_ context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(badgerKey(key))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check cache entry: %w", err)
	}
	return true, nil
}

// Clear implements Backend.
func (b *BadgerBackend) Clear(_ context.Context) error {
	if err := b.db.DropPrefix([]byte(badgerPrefix)); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Size implements Backend.
func (b *BadgerBackend) Size(_ context.Context) (int, error) {
	n := 0
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
