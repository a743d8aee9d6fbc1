// Package matchmaking 實作配對協調器
//
// 所有配對決策都在單一把「matchmaking」分散式鎖的臨界區內執行，
// 跨行程序列化等待佇列與房間索引的讀寫；「每位等待中的玩家至多被
// 配對一次」因此直接成立，不需要更細粒度的逐鍵鎖。
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/cube-duel/internal/cube"
	"github.com/koopa0/cube-duel/internal/lock"
	"github.com/koopa0/cube-duel/internal/metrics"
	"github.com/koopa0/cube-duel/internal/registry"
	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

// Result 配對結果
type Result struct {
	Queued bool           `json:"queued"`
	Room   *registry.Room `json:"room"`
}

// FriendResult 好友對戰結果
type FriendResult struct {
	RoomID      string `json:"roomId"`
	GameStarted bool   `json:"isGameStarted"`
}

// Coordinator 配對協調器
type Coordinator struct {
	players *registry.PlayerRegistry
	rooms   *registry.RoomRegistry
	locker  *lock.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCoordinator 創建配對協調器
func NewCoordinator(
	players *registry.PlayerRegistry,
	rooms *registry.RoomRegistry,
	locker *lock.Locker,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		players: players,
		rooms:   rooms,
		locker:  locker,
		metrics: m,
		logger:  logger,
	}
}

// Match 嘗試配對或進入等待佇列
//
// 狀態轉換：Requested -> Enqueued（無人等待）或 Requested -> Matched。
// 鎖取得失敗回傳 LOCK_UNAVAILABLE，由客戶端層重試整個請求。
func (c *Coordinator) Match(ctx context.Context, player *registry.Player, variant registry.Variant) (*Result, error) {
	var result *Result

	err := c.locker.WithLock(ctx, store.KeyMatchmakingLock, func(ctx context.Context) error {
		opponentID, ok, err := c.players.PopWaitingList(ctx)
		if err != nil {
			return err
		}

		if !ok {
			result, err = c.enqueue(ctx, player, variant)
			return err
		}

		result, err = c.createMatch(ctx, player, opponentID)
		return err
	})
	if err != nil {
		if apperrors.IsLockUnavailable(err) {
			c.metrics.LockFailures.Inc()
		}
		return nil, err
	}

	return result, nil
}

// enqueue 無人等待：生成新打亂、建立單人房間並把玩家排入佇列
func (c *Coordinator) enqueue(ctx context.Context, player *registry.Player, variant registry.Variant) (*Result, error) {
	roomID := uuid.NewString()
	_, scrambled := cube.Scramble(cube.DefaultScrambleMoves)

	player.Cube = scrambled
	player.Status = registry.StatusWaiting

	if err := c.players.Upsert(ctx, player); err != nil {
		return nil, err
	}
	if err := c.players.AddToWaitingList(ctx, player.ID); err != nil {
		return nil, err
	}

	room := &registry.Room{
		ID:           roomID,
		Players:      []registry.Player{*player},
		MaxPlayers:   registry.RoomCapacity,
		GameState:    registry.GameState{Status: registry.GameStatusInit},
		InitialState: scrambled,
		Variant:      variant,
		CreatedAt:    time.Now().UnixMilli(),
	}

	if err := c.rooms.Upsert(ctx, room); err != nil {
		return nil, err
	}
	if err := c.rooms.SetPlayerRoom(ctx, player.ID, roomID); err != nil {
		return nil, err
	}

	c.metrics.PlayersQueued.Inc()
	c.logger.Info("player enqueued", "player_id", player.ID, "room_id", roomID)

	return &Result{Queued: true, Room: room}, nil
}

// createMatch 有人等待：把請求方併入對手的房間，共用對手的打亂
//
// 佇列取出的 id 找不到玩家記錄，或索引指向的房間不存在，都表示
// 佇列與註冊表已經分歧——對該請求為致命錯誤，直接上拋不重試。
func (c *Coordinator) createMatch(ctx context.Context, player *registry.Player, opponentID string) (*Result, error) {
	opponent, err := c.players.Get(ctx, opponentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Wrap(
				fmt.Errorf("waiting list entry %s has no player record", opponentID),
				apperrors.ErrCodeConsistency,
				"waiting list and player registry diverged",
			)
		}
		return nil, err
	}

	// 兩人共用一份打亂：複製對手進佇列時生成的狀態
	player.Cube = opponent.Cube
	player.Status = registry.StatusPlaying
	if err := c.players.Upsert(ctx, player); err != nil {
		return nil, err
	}

	opponent.Status = registry.StatusPlaying
	if err := c.players.Upsert(ctx, opponent); err != nil {
		return nil, err
	}

	roomID, ok, err := c.rooms.GetPlayerRoom(ctx, opponent.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Wrap(
			fmt.Errorf("opponent %s has no room index", opponent.ID),
			apperrors.ErrCodeConsistency,
			"room index and player registry diverged",
		)
	}

	if err := c.rooms.SetPlayerRoom(ctx, player.ID, roomID); err != nil {
		return nil, err
	}

	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Wrap(
				fmt.Errorf("indexed room %s missing", roomID),
				apperrors.ErrCodeConsistency,
				"room registry and index diverged",
			)
		}
		return nil, err
	}

	// 上限 2 人；已滿時不重複加入（冪等）
	if !room.IsFull() && !room.HasPlayer(player.ID) {
		room.Players = append(room.Players, *player)
		room.GameState = registry.GameState{Status: registry.GameStatusActive}
		if err := c.rooms.Upsert(ctx, room); err != nil {
			return nil, err
		}
	}

	c.metrics.MatchesCreated.Inc()
	c.logger.Info("match created",
		"player_id", player.ID,
		"opponent_id", opponent.ID,
		"room_id", roomID)

	return &Result{Queued: false, Room: room}, nil
}

// FriendMatch 好友對戰：同樣的兩分支形狀，但不經過等待佇列，
// 而是直接以對手 id 定址房間，仍在同一把配對鎖下執行。
func (c *Coordinator) FriendMatch(ctx context.Context, player *registry.Player, variant registry.Variant, opponentReady bool, opponentID string) (*FriendResult, error) {
	var result *FriendResult

	err := c.locker.WithLock(ctx, store.KeyMatchmakingLock, func(ctx context.Context) error {
		var err error
		if opponentReady {
			if opponentID == "" {
				return apperrors.New(apperrors.ErrCodeInvalidInput, "opponent player id required when opponent is ready")
			}
			result, err = c.joinFriendRoom(ctx, player, opponentID)
			return err
		}
		result, err = c.createFriendRoom(ctx, player, variant)
		return err
	})
	if err != nil {
		if apperrors.IsLockUnavailable(err) {
			c.metrics.LockFailures.Inc()
		}
		return nil, err
	}

	return result, nil
}

// joinFriendRoom 對手已就緒：加入對手的房間
func (c *Coordinator) joinFriendRoom(ctx context.Context, player *registry.Player, opponentID string) (*FriendResult, error) {
	roomID, ok, err := c.rooms.GetPlayerRoom(ctx, opponentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrRoomNotFound.WithDetails("opponent " + opponentID)
	}

	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	player.Cube = room.InitialState
	player.Status = registry.StatusPlaying

	if !room.IsFull() && !room.HasPlayer(player.ID) {
		room.Players = append(room.Players, *player)
		room.GameState = registry.GameState{Status: registry.GameStatusActive}
	}

	if err := c.players.Upsert(ctx, player); err != nil {
		return nil, err
	}
	if err := c.rooms.Upsert(ctx, room); err != nil {
		return nil, err
	}
	if err := c.rooms.SetPlayerRoom(ctx, player.ID, roomID); err != nil {
		return nil, err
	}

	c.metrics.MatchesCreated.Inc()
	c.logger.Info("friend room joined", "player_id", player.ID, "room_id", roomID)

	return &FriendResult{RoomID: roomID, GameStarted: true}, nil
}

// createFriendRoom 對手未就緒：建立新房間等待對手加入
func (c *Coordinator) createFriendRoom(ctx context.Context, player *registry.Player, variant registry.Variant) (*FriendResult, error) {
	roomID := uuid.NewString()
	_, scrambled := cube.Scramble(cube.DefaultScrambleMoves)

	player.Cube = scrambled
	player.Status = registry.StatusPlaying

	room := &registry.Room{
		ID:           roomID,
		Players:      []registry.Player{*player},
		MaxPlayers:   registry.RoomCapacity,
		GameState:    registry.GameState{Status: registry.GameStatusInit},
		InitialState: scrambled,
		Variant:      variant,
		CreatedAt:    time.Now().UnixMilli(),
	}

	if err := c.rooms.Upsert(ctx, room); err != nil {
		return nil, err
	}
	if err := c.players.Upsert(ctx, player); err != nil {
		return nil, err
	}
	if err := c.rooms.SetPlayerRoom(ctx, player.ID, roomID); err != nil {
		return nil, err
	}

	c.logger.Info("friend room created", "player_id", player.ID, "room_id", roomID)

	return &FriendResult{RoomID: roomID, GameStarted: false}, nil
}

// Leave 玩家主動離開：清除佇列項、房間成員與玩家記錄
func (c *Coordinator) Leave(ctx context.Context, playerID, claimedRoomID string) error {
	return c.locker.WithLock(ctx, store.KeyMatchmakingLock, func(ctx context.Context) error {
		if _, err := c.players.RemoveFromWaitingList(ctx, playerID); err != nil {
			return err
		}
		if claimedRoomID != "" {
			if _, err := c.rooms.RemovePlayerFromRoom(ctx, playerID, claimedRoomID); err != nil {
				return err
			}
		}
		_, err := c.players.Delete(ctx, playerID)
		return err
	})
}
