package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist は失効済みトークンID（jti）を有効期限まで保持する。
type Denylist interface {
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// MemoryDenylist はプロセス内メモリで失効リストを保持する。
// 単一インスタンス構成向け。再起動で失効情報は失われる。
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDenylist はMemoryDenylistを生成する。
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add はトークンIDを登録し、期限切れのエントリを掃除する。
func (d *MemoryDenylist) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, id)
		}
	}
	if expiresAt.After(now) {
		d.entries[tokenID] = expiresAt
	}
	return nil
}

// Contains はトークンIDが失効済みかを返す。
func (d *MemoryDenylist) Contains(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !exp.After(d.now()) {
		delete(d.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// denylistKeyPrefix はRedis上の失効リストキーの接頭辞。
const denylistKeyPrefix = "iceblink:denylist:"

// RedisDenylist はRedisで失効リストを保持する。複数インスタンスで共有できる。
type RedisDenylist struct {
	client *redis.Client
}

// NewRedisDenylist はRedisDenylistを生成する。
func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

// Add はトークンIDを有効期限までのTTL付きで登録する。
func (d *RedisDenylist) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, denylistKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("store revoked token in redis: %w", err)
	}
	return nil
}

// Contains はトークンIDが失効済みかを返す。
func (d *RedisDenylist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, denylistKeyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token in redis: %w", err)
	}
	return n > 0, nil
}

var (
	_ Denylist = (*MemoryDenylist)(nil)
	_ Denylist = (*RedisDenylist)(nil)
)
