package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
)

// scan batch size for ListByPrefix
const scanCount = 100

// KVStorage implements the KeyValueStorage interface on a Redis server.
// Each pair is one string key holding the JSON-encoded KeyValuePair.
type KVStorage struct {
	client    *goredis.Client
	keyPrefix string
	logger    arbor.ILogger
}

// NewKVStorage connects to the configured server and pings it
func NewKVStorage(ctx context.Context, logger arbor.ILogger, config *common.RedisConfig) (*KVStorage, error) {
	opt, err := goredis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opt.Addr, err)
	}

	logger.Debug().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Str("key_prefix", config.KeyPrefix).
		Msg("Redis key/value storage connected")

	return NewKVStorageWithClient(client, config.KeyPrefix, logger), nil
}

// NewKVStorageWithClient wraps an existing client
func NewKVStorageWithClient(client *goredis.Client, keyPrefix string, logger arbor.ILogger) *KVStorage {
	return &KVStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// normalizeKey matches the Badger backend: keys are case-insensitive
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) redisKey(key string) string {
	return s.keyPrefix + normalizeKey(key)
}

func (s *KVStorage) getPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var pair interfaces.KeyValuePair
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return nil, fmt.Errorf("failed to decode key/value pair %s: %w", key, err)
	}
	return &pair, nil
}

// Get retrieves a value by key
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, err := s.getPair(ctx, key)
	if err != nil {
		return "", err
	}
	return pair.Value, nil
}

// Set inserts or updates a key/value pair, preserving CreatedAt
func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	now := time.Now()
	pair := interfaces.KeyValuePair{
		Key:       normalizeKey(key),
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := s.getPair(ctx, key)
	if err == nil {
		pair.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return fmt.Errorf("failed to check key existence: %w", err)
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode key/value pair: %w", err)
	}

	if err := s.client.Set(ctx, s.redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key/value: %w", err)
	}
	return nil
}

// Delete removes a key/value pair
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if n == 0 {
		return interfaces.ErrKeyNotFound
	}
	return nil
}

// ListByPrefix scans for keys under prefix. Order follows key name.
func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	pattern := escapeGlob(s.keyPrefix+normalizeKey(prefix)) + "*"

	var pairs []interfaces.KeyValuePair
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.keyPrefix)
		pair, err := s.getPair(ctx, key)
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pair)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

// Close closes the client connection pool
func (s *KVStorage) Close() error {
	s.logger.Debug().Msg("Closing Redis key/value storage")
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats specially
func escapeGlob(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(s)
}
