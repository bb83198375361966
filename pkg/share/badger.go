package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Key layout
// ==========
//
// Data Type   Prefix   Key Format     Value Type
// ================================================
// Shares      "s:"     s:<share id>   Record (JSON)
//
// Records are small and rarely written, so JSON is used for readability.
const prefixShare = "s:"

func shareKey(id smburi.ID) []byte {
	return []byte(prefixShare + string(id))
}

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// Path is the database directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required_unless=InMemory true"`

	// InMemory runs badger without touching disk. Path is ignored.
	InMemory bool `mapstructure:"in_memory"`
}

// BadgerStore persists records in a BadgerDB database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database described by cfg.
func NewBadgerStore(ctx context.Context, cfg BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger share store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	logger.Debug("Share store opened: path=%s in_memory=%v", cfg.Path, cfg.InMemory)
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode share %s: %w", rec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shareKey(rec.ID), data)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, id smburi.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(shareKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			Prefix:         []byte(prefixShare),
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode share %s: %w", item.Key(), err)
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
