package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "snapshot:"

// BadgerStore keeps snapshots as JSON values in a BadgerDB database.
type BadgerStore struct {
	db *badgerdb.DB
}

// NewBadgerStore opens (or creates) the database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot database directory: %w", err)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(name string) []byte {
	return []byte(badgerPrefix + name)
}

func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(snap); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(badgerKey(snap.Name), data)
	})
}

func (s *BadgerStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var snap *Snapshot
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return notFound(name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap, err = decode(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Info
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				snap, err := decode(val)
				if err != nil {
					return err
				}
				out = append(out, Info{Name: snap.Name, CreatedAt: snap.CreatedAt})
				return nil
			})
			if err != nil {
				return fmt.Errorf("%s: %w", strings.TrimPrefix(string(item.Key()), badgerPrefix), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys iterate in byte order, which is name order.
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(badgerKey(name)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return notFound(name)
		} else if err != nil {
			return err
		}
		return txn.Delete(badgerKey(name))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
