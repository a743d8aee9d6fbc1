// Package lock 實作基於共享儲存條件寫入的分散式建議鎖
//
// 互斥保證：
//   - SET key token NX EX ttl 確保同一鍵同時至多一個有效持有者
//   - 釋放採原子比對刪除，TTL 過期後其他持有者重新取得的鎖不會被誤刪
//   - TTL 保證持有者崩潰時鎖最終自動釋放，最壞停頓以 TTL 為界
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

// Options 鎖行為配置
type Options struct {
	TTL        time.Duration // 鎖的存活時間
	MaxRetries int           // 取得失敗的最大重試次數
	RetryDelay time.Duration // 線性退避的基礎延遲
}

// DefaultOptions 預設配置：TTL 5 秒、3 次重試、100ms 基礎延遲
func DefaultOptions() Options {
	return Options{
		TTL:        5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Locker 分散式鎖服務
type Locker struct {
	store  store.Store
	logger *slog.Logger
	opts   Options
}

// NewLocker 創建鎖服務
func NewLocker(s store.Store, logger *slog.Logger, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}

	return &Locker{
		store:  s,
		logger: logger,
		opts:   opts,
	}
}

// Lease 已取得的鎖
type Lease struct {
	key    string
	token  string
	locker *Locker
}

// Key 鎖的鍵
func (l *Lease) Key() string { return l.key }

// Acquire 嘗試取得鎖，帶線性退避重試
//
// 重試耗盡回傳 LOCK_UNAVAILABLE；呼叫端必須視為可重試狀況而非致命錯誤。
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			// 線性退避：delay * attempt
			select {
			case <-time.After(l.opts.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		acquired, err := l.store.SetNX(ctx, key, token, l.opts.TTL)
		if err != nil {
			l.logger.Error("lock acquire failed", "key", key, "attempt", attempt+1, "error", err)
			continue
		}
		if acquired {
			return &Lease{key: key, token: token, locker: l}, nil
		}
	}

	return nil, apperrors.Wrap(
		fmt.Errorf("key %s after %d attempts", key, l.opts.MaxRetries),
		apperrors.ErrCodeLockUnavailable,
		"lock unavailable after retries",
	)
}

// Release 釋放鎖
//
// 只有儲存中的值仍等於本次持有者的 token 時才刪除鍵；
// 比對失敗表示 TTL 已過期且鎖被他人取得，此時不動作。
func (l *Lease) Release(ctx context.Context) {
	deleted, err := l.locker.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		l.locker.logger.Error("lock release failed", "key", l.key, "error", err)
		return
	}
	if !deleted {
		l.locker.logger.Warn("lock already expired or taken over", "key", l.key)
	}
}

// Renew 延長鎖的 TTL
//
// 先驗證 token 仍屬於本持有者再重設 TTL；持有權已失效時回傳 false。
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	current, ok, err := l.locker.store.Get(ctx, l.key)
	if err != nil {
		return false, err
	}
	if !ok || current != l.token {
		return false, nil
	}
	return l.locker.store.Expire(ctx, l.key, l.locker.opts.TTL)
}

// WithLock 在鎖保護下執行 fn
//
// fn 無論成功失敗都會釋放鎖；取得失敗時 fn 不會執行。
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	return fn(ctx)
}
