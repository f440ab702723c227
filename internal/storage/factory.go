package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/storage/badger"
	"github.com/ternarybob/waypoint/internal/storage/redis"
)

// NewKeyValueStorage opens the key/value backend selected by config
func NewKeyValueStorage(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.KeyValueStorage, error) {
	switch config.Storage.Type {
	case "badger", "":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		return badger.NewKVStorage(db, logger), nil
	case "redis":
		return redis.NewKVStorage(ctx, logger, &config.Storage.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'redis')", config.Storage.Type)
	}
}
