package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

// PlayerRegistry 玩家記錄與等待佇列
type PlayerRegistry struct {
	store store.Store
}

// NewPlayerRegistry 創建玩家註冊表
func NewPlayerRegistry(s store.Store) *PlayerRegistry {
	return &PlayerRegistry{store: s}
}

// Upsert 寫入或覆蓋玩家記錄
func (r *PlayerRegistry) Upsert(ctx context.Context, player *Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player %s: %w", player.ID, err)
	}
	return r.store.HSet(ctx, store.KeyPlayers, player.ID, string(data))
}

// Insert 僅在玩家不存在時寫入；回傳是否寫入
func (r *PlayerRegistry) Insert(ctx context.Context, player *Player) (bool, error) {
	data, err := json.Marshal(player)
	if err != nil {
		return false, fmt.Errorf("marshal player %s: %w", player.ID, err)
	}
	return r.store.HSetNX(ctx, store.KeyPlayers, player.ID, string(data))
}

// Get 讀取玩家記錄；不存在時回傳 NOT_FOUND
func (r *PlayerRegistry) Get(ctx context.Context, playerID string) (*Player, error) {
	raw, ok, err := r.store.HGet(ctx, store.KeyPlayers, playerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrPlayerNotFound.WithDetails(playerID)
	}

	var player Player
	if err := json.Unmarshal([]byte(raw), &player); err != nil {
		return nil, fmt.Errorf("unmarshal player %s: %w", playerID, err)
	}
	return &player, nil
}

// Delete 刪除玩家記錄；回傳是否有記錄被刪除
func (r *PlayerRegistry) Delete(ctx context.Context, playerID string) (bool, error) {
	deleted, err := r.store.HDel(ctx, store.KeyPlayers, playerID)
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Count 玩家記錄數
func (r *PlayerRegistry) Count(ctx context.Context) (int64, error) {
	return r.store.HLen(ctx, store.KeyPlayers)
}

// AddToWaitingList 推入等待佇列
//
// 不變量：同一玩家 id 在佇列中至多出現一次。呼叫端（配對協調器）
// 在配對鎖內序列化所有進出，因此這裡不需要額外去重。
func (r *PlayerRegistry) AddToWaitingList(ctx context.Context, playerID string) error {
	return r.store.LPush(ctx, store.KeyWaitingList, playerID)
}

// PopWaitingList 自等待佇列取出最早進入的玩家 id；佇列為空時 ok 為 false
func (r *PlayerRegistry) PopWaitingList(ctx context.Context) (string, bool, error) {
	return r.store.RPop(ctx, store.KeyWaitingList)
}

// RemoveFromWaitingList 將玩家自等待佇列移除（主動離開時使用）
func (r *PlayerRegistry) RemoveFromWaitingList(ctx context.Context, playerID string) (int64, error) {
	return r.store.LRem(ctx, store.KeyWaitingList, playerID)
}

// WaitingLen 等待佇列長度
func (r *PlayerRegistry) WaitingLen(ctx context.Context) (int64, error) {
	return r.store.LLen(ctx, store.KeyWaitingList)
}
