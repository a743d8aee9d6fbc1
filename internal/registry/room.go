package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

// RoomRegistry 房間記錄與玩家→房間索引
type RoomRegistry struct {
	store store.Store
}

// NewRoomRegistry 創建房間註冊表
func NewRoomRegistry(s store.Store) *RoomRegistry {
	return &RoomRegistry{store: s}
}

// Upsert 寫入或覆蓋房間記錄
func (r *RoomRegistry) Upsert(ctx context.Context, room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.ID, err)
	}
	return r.store.HSet(ctx, store.KeyRooms, room.ID, string(data))
}

// Get 讀取房間記錄
//
// 呼叫點一律預期房間存在，不存在時回傳 NOT_FOUND 讓錯誤立即浮現。
func (r *RoomRegistry) Get(ctx context.Context, roomID string) (*Room, error) {
	raw, ok, err := r.store.HGet(ctx, store.KeyRooms, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrRoomNotFound.WithDetails(roomID)
	}

	var room Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return &room, nil
}

// Exists 房間是否存在
func (r *RoomRegistry) Exists(ctx context.Context, roomID string) (bool, error) {
	_, ok, err := r.store.HGet(ctx, store.KeyRooms, roomID)
	return ok, err
}

// Delete 刪除房間記錄；回傳是否有記錄被刪除
func (r *RoomRegistry) Delete(ctx context.Context, roomID string) (bool, error) {
	deleted, err := r.store.HDel(ctx, store.KeyRooms, roomID)
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Count 房間記錄數
func (r *RoomRegistry) Count(ctx context.Context) (int64, error) {
	return r.store.HLen(ctx, store.KeyRooms)
}

// SetPlayerRoom 建立玩家→房間索引
func (r *RoomRegistry) SetPlayerRoom(ctx context.Context, playerID, roomID string) error {
	return r.store.HSet(ctx, store.KeyPlayerRooms, playerID, roomID)
}

// GetPlayerRoom 查詢玩家所在的房間 id；未索引時 ok 為 false
func (r *RoomRegistry) GetPlayerRoom(ctx context.Context, playerID string) (string, bool, error) {
	return r.store.HGet(ctx, store.KeyPlayerRooms, playerID)
}

// DeletePlayerRoom 移除玩家→房間索引
func (r *RoomRegistry) DeletePlayerRoom(ctx context.Context, playerID string) error {
	_, err := r.store.HDel(ctx, store.KeyPlayerRooms, playerID)
	return err
}

// RemovePlayerFromRoom 將玩家自房間移除
//
// 先以索引驗證呼叫端宣稱的房間 id，避免依據過期的客戶端狀態誤改房間；
// 驗證不符時回傳 false 且不做任何變更。
func (r *RoomRegistry) RemovePlayerFromRoom(ctx context.Context, playerID, claimedRoomID string) (bool, error) {
	currentRoomID, ok, err := r.GetPlayerRoom(ctx, playerID)
	if err != nil {
		return false, err
	}
	if !ok || currentRoomID != claimedRoomID {
		return false, nil
	}

	room, err := r.Get(ctx, claimedRoomID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// 房間已被清理，只需要移除索引
			return true, r.DeletePlayerRoom(ctx, playerID)
		}
		return false, err
	}

	kept := room.Players[:0]
	for _, p := range room.Players {
		if p.ID != playerID {
			kept = append(kept, p)
		}
	}
	room.Players = kept

	if err := r.Upsert(ctx, room); err != nil {
		return false, err
	}
	return true, r.DeletePlayerRoom(ctx, playerID)
}
