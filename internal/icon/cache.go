package icon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache は取得済みアイコンを保持する。
// Getは未登録または期限切れの場合に(nil, nil)を返す。
type Cache interface {
	Get(ctx context.Context, key string) (*Icon, error)
	Set(ctx context.Context, key string, icon *Icon, ttl time.Duration) error
}

type memoryEntry struct {
	icon      *Icon
	expiresAt time.Time
}

// MemoryCache はプロセス内のアイコンキャッシュ。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache は新しいMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get はキャッシュ済みのアイコンを返す。期限切れのエントリはここで削除する。
func (c *MemoryCache) Get(_ context.Context, key string) (*Icon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	return entry.icon, nil
}

// Set はアイコンをttlの間保持する。
func (c *MemoryCache) Set(_ context.Context, key string, icon *Icon, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{icon: icon, expiresAt: c.now().Add(ttl)}
	return nil
}

const redisKeyPrefix = "iceblink:icon:"

// RedisCache はRedisのハッシュ（mime, data）にアイコンを保持する。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache は新しいRedisCacheを生成する。
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get はキャッシュ済みのアイコンを返す。
func (c *RedisCache) Get(ctx context.Context, key string) (*Icon, error) {
	fields, err := c.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read icon cache: %w", err)
	}
	if len(fields) == 0 || fields["mime"] == "" {
		return nil, nil
	}
	return &Icon{Data: []byte(fields["data"]), MimeType: fields["mime"]}, nil
}

// Set はアイコンとTTLを1つのトランザクションで書き込む。
func (c *RedisCache) Set(ctx context.Context, key string, icon *Icon, ttl time.Duration) error {
	redisKey := redisKeyPrefix + key
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, "mime", icon.MimeType, "data", icon.Data)
		pipe.Expire(ctx, redisKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write icon cache: %w", err)
	}
	return nil
}
