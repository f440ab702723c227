package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/waypoint/internal/interfaces"
)

// KVStorage keeps key/value pairs in badger. Keys are case-insensitive.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var pair interfaces.KeyValuePair
	err := s.db.Store().Get(normalizeKey(key), &pair)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		return "", interfaces.ErrKeyNotFound
	case err != nil:
		return "", fmt.Errorf("failed to get %q: %w", key, err)
	}
	return pair.Value, nil
}

// Set upserts the pair in one transaction so CreatedAt survives concurrent writers
func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k := normalizeKey(key)
	store := s.db.Store()
	err := store.Badger().Update(func(tx *badger.Txn) error {
		now := time.Now()
		pair := interfaces.KeyValuePair{Key: k, Value: value, CreatedAt: now, UpdatedAt: now}

		var existing interfaces.KeyValuePair
		switch err := store.TxGet(tx, k, &existing); {
		case err == nil:
			pair.CreatedAt = existing.CreatedAt
		case !errors.Is(err, badgerhold.ErrNotFound):
			return err
		}
		return store.TxUpsert(tx, k, &pair)
	})
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Store().Delete(normalizeKey(key), &interfaces.KeyValuePair{})
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		return interfaces.ErrKeyNotFound
	case err != nil:
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// ListByPrefix returns matching pairs ordered by key; an empty prefix lists everything
func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := badgerhold.Where("Key").HasPrefix(normalizeKey(prefix)).SortBy("Key")
	pairs := []interfaces.KeyValuePair{}
	if err := s.db.Store().Find(&pairs, query); err != nil {
		return nil, fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}
	return pairs, nil
}

func (s *KVStorage) Close() error {
	s.logger.Debug().Msg("Closing badger key/value storage")
	return s.db.Close()
}
