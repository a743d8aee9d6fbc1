package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 行程內記憶體的 Store 實作
//
// 提供與 RedisStore 相同的原子語意（單一互斥鎖序列化所有操作），
// 用於測試與單機部署。TTL 以惰性方式檢查：讀寫該鍵時才判斷是否過期。
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	lists  map[string][]string
	values map[string]expiringValue
}

type expiringValue struct {
	value     string
	expiresAt time.Time // 零值表示不過期
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		values: make(map[string]expiringValue),
	}
}

// expired 檢查鍵值是否已過期
func (v expiringValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && now.After(v.expiresAt)
}

// HSet 寫入雜湊欄位
func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	s.hashes[key][field] = value
	return nil
}

// HSetNX 僅在欄位不存在時寫入
func (s *MemoryStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	if _, exists := s.hashes[key][field]; exists {
		return false, nil
	}
	s.hashes[key][field] = value
	return true, nil
}

// HGet 讀取雜湊欄位
func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.hashes[key][field]
	return value, ok, nil
}

// HGetAll 讀取整個雜湊
func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		result[field] = value
	}
	return result, nil
}

// HDel 刪除雜湊欄位
func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, field := range fields {
		if _, exists := s.hashes[key][field]; exists {
			delete(s.hashes[key], field)
			deleted++
		}
	}
	return deleted, nil
}

// HLen 雜湊欄位數
func (s *MemoryStore) HLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.hashes[key])), nil
}

// LPush 推入佇列頭端
func (s *MemoryStore) LPush(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

// RPop 自佇列尾端取出
func (s *MemoryStore) RPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	value := list[len(list)-1]
	s.lists[key] = list[:len(list)-1]
	return value, true, nil
}

// LRem 移除佇列中所有等值元素
func (s *MemoryStore) LRem(_ context.Context, key, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	kept := s.lists[key][:0]
	for _, v := range s.lists[key] {
		if v == value {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	s.lists[key] = kept
	return removed, nil
}

// LLen 佇列長度
func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

// SetNX 僅在鍵不存在（或已過期）時寫入並設定 TTL
func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, exists := s.values[key]; exists && !existing.expired(now) {
		return false, nil
	}

	entry := expiringValue{value: value}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.values[key] = entry
	return true, nil
}

// Get 讀取單一鍵
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.values[key]
	if !exists || existing.expired(time.Now()) {
		return "", false, nil
	}
	return existing.value, true, nil
}

// Expire 重設鍵的 TTL
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, exists := s.values[key]
	if !exists || existing.expired(now) {
		return false, nil
	}

	existing.expiresAt = now.Add(ttl)
	s.values[key] = existing
	return true, nil
}

// CompareAndDelete 僅在現值相等且未過期時刪除
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.values[key]
	if !exists || existing.expired(time.Now()) || existing.value != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

// Del 刪除鍵
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.hashes, key)
		delete(s.lists, key)
	}
	return nil
}

// Ping 健康檢查
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
