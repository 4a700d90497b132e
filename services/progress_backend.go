package services

import (
	"context"
	"errors"
	"sync"

	"event-passport/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemoryProgressBackend keeps records in process memory. Used for local
// development and tests.
type MemoryProgressBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryProgressBackend() *MemoryProgressBackend {
	return &MemoryProgressBackend{data: map[string][]byte{}}
}

func (b *MemoryProgressBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[key]
	if !ok {
		return nil, ErrProgressNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryProgressBackend) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

// GormProgressBackend stores records as jsonb rows in Postgres.
type GormProgressBackend struct {
	DB *gorm.DB
}

func NewGormProgressBackend(db *gorm.DB) *GormProgressBackend {
	return &GormProgressBackend{DB: db}
}

func (b *GormProgressBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var row models.ProgressRow
	err := b.DB.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Data), nil
}

// Put upserts the row so a write never depends on a prior read.
func (b *GormProgressBackend) Put(ctx context.Context, key string, data []byte) error {
	row := models.ProgressRow{Key: key, Data: string(data)}
	return b.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at", "deleted_at"}),
	}).Create(&row).Error
}

// RedisProgressBackend stores records as plain string values.
type RedisProgressBackend struct {
	client *redis.Client
}

func NewRedisProgressBackend(client *redis.Client) *RedisProgressBackend {
	return &RedisProgressBackend{client: client}
}

func (b *RedisProgressBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *RedisProgressBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.client.Set(ctx, key, data, 0).Err()
}
