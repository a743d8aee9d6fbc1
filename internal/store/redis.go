package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 以 Redis 為後端的 Store 實作
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 包裝既有的 Redis 客戶端
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// compareAndDeleteScript 比對刪除：只有持有者寫入的值還在時才刪除鍵，
// 避免 TTL 過期後誤刪其他持有者重新取得的鎖
var compareAndDeleteScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// HSet 寫入雜湊欄位
func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s/%s: %w", key, field, err)
	}
	return nil
}

// HSetNX 僅在欄位不存在時寫入
func (s *RedisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	inserted, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s/%s: %w", key, field, err)
	}
	return inserted, nil
}

// HGet 讀取雜湊欄位
func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s/%s: %w", key, field, err)
	}
	return value, true, nil
}

// HGetAll 讀取整個雜湊
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	all, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return all, nil
}

// HDel 刪除雜湊欄位
func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	deleted, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("hdel %s: %w", key, err)
	}
	return deleted, nil
}

// HLen 雜湊欄位數
func (s *RedisStore) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", key, err)
	}
	return n, nil
}

// LPush 推入佇列頭端
func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// RPop 自佇列尾端取出
func (s *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rpop %s: %w", key, err)
	}
	return value, true, nil
}

// LRem 移除佇列中所有等值元素
func (s *RedisStore) LRem(ctx context.Context, key, value string) (int64, error) {
	removed, err := s.client.LRem(ctx, key, 0, value).Result()
	if err != nil {
		return 0, fmt.Errorf("lrem %s: %w", key, err)
	}
	return removed, nil
}

// LLen 佇列長度
func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// SetNX 僅在鍵不存在時寫入並設定 TTL
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return acquired, nil
}

// Get 讀取單一鍵
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Expire 重設鍵的 TTL
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("expire %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete 原子比對刪除
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Result()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	deleted, _ := result.(int64)
	return deleted > 0, nil
}

// Del 刪除鍵
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Ping 健康檢查
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
