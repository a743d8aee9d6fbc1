// Package store 提供共享鍵值儲存的抽象層
//
// 配對子系統需要的儲存原語只有三類：
//   - 欄位定址的雜湊（玩家、房間、玩家→房間索引）
//   - FIFO 佇列（等待中的玩家）
//   - 帶 TTL 的條件寫入與比對刪除（分散式鎖）
//
// Store 介面把這三類原語收斂成單一依賴，讓協調器可以注入 Redis 實作
// 或行程內記憶體實作（測試、單機部署）。
package store

import (
	"context"
	"time"
)

// 共享儲存的鍵配置
const (
	// KeyPlayers 玩家雜湊：playerID -> 序列化 Player
	KeyPlayers = "players"
	// KeyRooms 房間雜湊：roomID -> 序列化 Room
	KeyRooms = "rooms"
	// KeyPlayerRooms 玩家→房間索引雜湊：playerID -> roomID
	KeyPlayerRooms = "player:room"
	// KeyWaitingList 等待佇列（FIFO）：playerID
	KeyWaitingList = "waiting_players"
	// KeyMatchmakingLock 配對臨界區的鎖鍵
	KeyMatchmakingLock = "lock:matchmaking"
)

// Store 共享儲存原語
type Store interface {
	// HSet 寫入雜湊欄位
	HSet(ctx context.Context, key, field, value string) error

	// HSetNX 僅在欄位不存在時寫入；回傳是否寫入
	HSetNX(ctx context.Context, key, field, value string) (bool, error)

	// HGet 讀取雜湊欄位；欄位不存在時 ok 為 false
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)

	// HGetAll 讀取整個雜湊
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HDel 刪除雜湊欄位；回傳實際刪除數
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// HLen 雜湊欄位數
	HLen(ctx context.Context, key string) (int64, error)

	// LPush 推入佇列頭端
	LPush(ctx context.Context, key, value string) error

	// RPop 自佇列尾端取出（與 LPush 組成 FIFO）；佇列為空時 ok 為 false
	RPop(ctx context.Context, key string) (value string, ok bool, err error)

	// LRem 移除佇列中所有等值元素；回傳移除數
	LRem(ctx context.Context, key, value string) (int64, error)

	// LLen 佇列長度
	LLen(ctx context.Context, key string) (int64, error)

	// SetNX 僅在鍵不存在時寫入並設定 TTL；回傳是否寫入
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get 讀取單一鍵；鍵不存在時 ok 為 false
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Expire 重設鍵的 TTL；鍵不存在時回傳 false
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// CompareAndDelete 僅在現值等於 value 時刪除鍵（原子操作）；回傳是否刪除
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Del 刪除鍵
	Del(ctx context.Context, keys ...string) error

	// Ping 健康檢查
	Ping(ctx context.Context) error
}
