package session

import (
	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/session/drivers"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a new Store based on the given type.
// Supports "memory" and "redis" driver types.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		s := drivers.NewInMemoryStore()
		if config.now != nil {
			s.WithClock(config.now)
		}
		return s, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, lesson.ErrInvalidConfig
		}
		return drivers.NewRedisStore(config.redisClient), nil

	default:
		return nil, lesson.ErrInvalidStoreType
	}
}

var (
	_ Store = (*drivers.InMemoryStore)(nil)
	_ Store = (*drivers.RedisStore)(nil)
)
