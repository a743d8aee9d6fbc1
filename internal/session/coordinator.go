// Package session 管理對局進行中的 WebSocket 連線
//
// 房間在這裡是「同一對局的連線分組」，與 registry 套件持久化的房間
// 記錄是兩個獨立概念；兩者共用同一個 id 空間，因為 id 一律由配對
// 協調器發出。協議為封閉的 {type, value} 訊息集合，未知或格式錯誤
// 的訊息以 Error 回覆，不中斷連線。
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/cube-duel/internal/cube"
	"github.com/koopa0/cube-duel/internal/history"
	"github.com/koopa0/cube-duel/internal/metrics"
	"github.com/koopa0/cube-duel/internal/registry"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

const maxMessageSize = 4096

// finalizeTimeout 對局結束後背景持久化的時間上限
const finalizeTimeout = 10 * time.Second

// Coordinator 對局連線協調器
type Coordinator struct {
	players  *registry.PlayerRegistry
	rooms    *registry.RoomRegistry
	recorder history.Recorder
	presence *PresenceRegistry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	liveRooms map[string][]*Client
}

// NewCoordinator 創建對局連線協調器
func NewCoordinator(
	players *registry.PlayerRegistry,
	rooms *registry.RoomRegistry,
	recorder history.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		players:  players,
		rooms:    rooms,
		recorder: recorder,
		presence: NewPresenceRegistry(),
		metrics:  m,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應檢查來源
				return true
			},
		},
		liveRooms: make(map[string][]*Client),
	}
}

// Presence 線上名單（HTTP 層查詢用）
func (co *Coordinator) Presence() *PresenceRegistry {
	return co.presence
}

// ServeWS 升級連線並啟動讀寫 goroutine
func (co *Coordinator) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := co.upgrader.Upgrade(w, r, nil)
	if err != nil {
		co.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(co, conn)
	go c.writePump()
	go c.readPump()
}

// dispatch 按訊息類別分派；raw 保留原始位元組供逐字轉發
func (co *Coordinator) dispatch(c *Client, raw []byte, msg *Message) {
	switch msg.Type {
	case TypeGameStarted:
		co.handleGameStarted(c, msg)
	case TypeGameStartedAI:
		co.handleGameStartedAI(c, msg)
	case TypeKeyBoardButtonPressed:
		co.handleKeyPress(c, raw, msg)
	case TypeGameFinished:
		co.handleGameFinished(c, raw, msg)
	case TypePlayerOnline:
		co.handlePlayerOnline(c, msg)
	case TypePlayerOffline:
		co.handlePlayerOffline(c, msg)
	case TypeSendFriendRequest:
		co.handleSendFriendRequest(c, msg)
	case TypeFriendChallenge, TypeFriendChallengeRejected:
		co.handleFriendDelivery(c, raw, msg)
	default:
		co.rejectMessage(c, "unknown message type: "+msg.Type)
	}
}

// rejectMessage ingress 驗證失敗：回 Error 給該連線，不中斷連線
func (co *Coordinator) rejectMessage(c *Client, reason string) {
	co.metrics.InvalidMessages.Inc()
	co.logger.Warn("message rejected", "reason", reason, "player_id", c.playerID)
	c.Enqueue(errorMessage(apperrors.ErrCodeInvalidMessage, reason))
}

// handleGameStarted 玩家進入房間；湊滿兩人時廣播開始
func (co *Coordinator) handleGameStarted(c *Client, msg *Message) {
	var payload GameStartedPayload
	if err := decodePayload(msg, &payload); err != nil || payload.RoomID == "" || payload.playerID() == "" {
		co.rejectMessage(c, "GameStarted requires roomId and player")
		return
	}

	co.mu.Lock()
	conns := co.liveRooms[payload.RoomID]

	for _, existing := range conns {
		if existing == c {
			// 重送的進房宣告，冪等
			co.mu.Unlock()
			return
		}
	}
	if len(conns) >= registry.RoomCapacity {
		co.mu.Unlock()
		c.Enqueue(errorMessage(apperrors.ErrCodeRoomFull, "room "+payload.RoomID+" is full"))
		return
	}

	if len(conns) == 0 {
		co.metrics.LiveSessions.Inc()
	}
	c.playerID = payload.playerID()
	c.roomID = payload.RoomID
	// 寫回新切片，不就地改動舊的底層陣列
	conns = append(append(make([]*Client, 0, len(conns)+1), conns...), c)
	co.liveRooms[payload.RoomID] = conns
	full := len(conns) == registry.RoomCapacity
	co.mu.Unlock()

	co.logger.Info("player joined session",
		"room_id", payload.RoomID,
		"player_id", payload.playerID(),
		"occupancy", len(conns))

	if !full {
		return
	}

	started, err := encodeMessage(TypeGameStarted, &GameStartedPayload{RoomID: payload.RoomID})
	if err != nil {
		co.logger.Error("encode start broadcast failed", "error", err)
		return
	}
	co.broadcastRoom(payload.RoomID, started)

	// 歷史記錄為盡力而為：失敗只記 log，不影響對局
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()

		room, err := co.rooms.Get(ctx, payload.RoomID)
		if err != nil {
			co.logger.Error("load room for history failed", "room_id", payload.RoomID, "error", err)
			return
		}
		if err := co.recorder.RecordGameStart(ctx, room); err != nil {
			co.logger.Error("record game start failed", "room_id", payload.RoomID, "error", err)
		}
	}()
}

// handleGameStartedAI 人機對局：單一連線即成局，直接回覆確認
func (co *Coordinator) handleGameStartedAI(c *Client, msg *Message) {
	var payload GameStartedPayload
	if err := decodePayload(msg, &payload); err != nil || payload.RoomID == "" {
		co.rejectMessage(c, "GameStartedAI requires roomId")
		return
	}

	co.mu.Lock()
	if _, exists := co.liveRooms[payload.RoomID]; !exists {
		co.metrics.LiveSessions.Inc()
	}
	c.playerID = payload.playerID()
	c.roomID = payload.RoomID
	co.liveRooms[payload.RoomID] = []*Client{c}
	co.mu.Unlock()

	confirmed, err := encodeMessage(TypeGameStartedAI, &GameStartedPayload{RoomID: payload.RoomID})
	if err != nil {
		co.logger.Error("encode ai start failed", "error", err)
		return
	}
	c.Enqueue(confirmed)
}

// handleKeyPress 轉動事件：面字母合法才逐字轉發給同房其他連線
//
// 伺服器不套用任何轉動，也不驗證可解性；只做封閉集合檢查。
func (co *Coordinator) handleKeyPress(c *Client, raw []byte, msg *Message) {
	var payload KeyPressPayload
	roomID := ""
	if err := decodePayload(msg, &payload); err == nil {
		roomID = payload.roomID()
	}
	if roomID == "" {
		co.rejectMessage(c, "KeyBoardButtonPressed requires room and keyboardButton")
		return
	}
	if !cube.ValidFace(cube.Face(payload.KeyboardButton)) {
		// 非法面字母直接丟棄
		co.metrics.InvalidMessages.Inc()
		co.logger.Debug("dropped invalid key press", "keyboard_button", payload.KeyboardButton, "room_id", roomID)
		return
	}

	for _, peer := range co.roomConns(roomID) {
		if peer != c {
			peer.Enqueue(raw)
		}
	}
	co.metrics.MovesRelayed.Inc()
}

// handleGameFinished 對局結束：廣播結果、立即移除連線分組，
// 之後的持久化全部是獨立的盡力而為效果。
func (co *Coordinator) handleGameFinished(c *Client, raw []byte, msg *Message) {
	var payload GameFinishedPayload
	if err := decodePayload(msg, &payload); err != nil || payload.RoomID == "" || payload.WinnerID == "" {
		co.rejectMessage(c, "GameFinished requires roomId and player_id_who_won")
		return
	}

	co.mu.Lock()
	conns, live := co.liveRooms[payload.RoomID]
	if !live {
		// 重複的結束宣告，no-op
		co.mu.Unlock()
		co.logger.Debug("finish for unknown live room", "room_id", payload.RoomID)
		return
	}

	loserID := ""
	for _, peer := range conns {
		if peer.playerID != payload.WinnerID {
			loserID = peer.playerID
		}
	}
	delete(co.liveRooms, payload.RoomID)
	co.metrics.LiveSessions.Dec()
	co.mu.Unlock()

	for _, peer := range conns {
		peer.Enqueue(raw)
	}

	co.logger.Info("game finished",
		"room_id", payload.RoomID,
		"winner_id", payload.WinnerID,
		"loser_id", loserID)

	go co.finalize(payload.RoomID, payload.WinnerID, loserID, payload.TimeTaken)
}

// finalize 結算的三個獨立持久化效果：戰績、歷史、清理。
// 任一失敗都只記 log，不影響其他效果。
func (co *Coordinator) finalize(roomID, winnerID, loserID string, timeTaken float64) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	variant := registry.VariantThreeCube
	if room, err := co.rooms.Get(ctx, roomID); err == nil {
		variant = room.Variant
	}

	// 玩家戰績
	if err := co.applyStandings(ctx, winnerID, variant, true, timeTaken); err != nil {
		co.logger.Error("update winner standings failed", "player_id", winnerID, "error", err)
	}
	if loserID != "" {
		if err := co.applyStandings(ctx, loserID, variant, false, 0); err != nil {
			co.logger.Error("update loser standings failed", "player_id", loserID, "error", err)
		}
	}

	// 對局歷史
	if err := co.recorder.RecordGameFinish(ctx, &history.GameResult{
		RoomID:       roomID,
		WinnerID:     winnerID,
		LoserID:      loserID,
		Variant:      variant,
		SolveSeconds: timeTaken,
	}); err != nil {
		co.logger.Error("record game finish failed", "room_id", roomID, "error", err)
	}

	// 持久化房間與索引清理
	if _, err := co.rooms.Delete(ctx, roomID); err != nil {
		co.logger.Error("delete room failed", "room_id", roomID, "error", err)
	}
	for _, playerID := range []string{winnerID, loserID} {
		if playerID == "" {
			continue
		}
		if err := co.rooms.DeletePlayerRoom(ctx, playerID); err != nil {
			co.logger.Error("delete room index failed", "player_id", playerID, "error", err)
		}
	}
}

// applyStandings 更新單一玩家的共享儲存記錄：分數、勝場、勝率、最佳時間
func (co *Coordinator) applyStandings(ctx context.Context, playerID string, variant registry.Variant, won bool, timeTaken float64) error {
	player, err := co.players.Get(ctx, playerID)
	if err != nil {
		return err
	}

	player.Status = registry.StatusNotPlaying
	player.TotalGames++
	if won {
		player.TotalWins++
		player.Rating += history.RatingIncrement

		if timeTaken > 0 {
			if player.BestTimes == nil {
				player.BestTimes = make(map[registry.Variant]registry.BestTime)
			}
			best, ok := player.BestTimes[variant]
			if !ok || timeTaken < best.TopSpeed {
				player.BestTimes[variant] = registry.BestTime{Variant: variant, TopSpeed: timeTaken}
			}
		}
	} else {
		player.Rating -= history.RatingIncrement
		if player.Rating < 0 {
			player.Rating = 0
		}
	}
	player.WinPercentage = float64(player.TotalWins) / float64(player.TotalGames) * 100

	return co.players.Upsert(ctx, player)
}

// handlePlayerOnline 上線宣告：更新名單並對所有在線連線廣播完整名單
func (co *Coordinator) handlePlayerOnline(c *Client, msg *Message) {
	var payload PresencePayload
	if err := decodePayload(msg, &payload); err != nil || payload.PlayerID == "" {
		co.rejectMessage(c, "PlayerOnline requires playerId")
		return
	}

	co.mu.Lock()
	c.playerID = payload.PlayerID
	co.mu.Unlock()

	co.presence.SetOnline(payload.PlayerID, c)
	co.broadcastPresence()
}

// handlePlayerOffline 下線宣告
func (co *Coordinator) handlePlayerOffline(c *Client, msg *Message) {
	var payload PresencePayload
	if err := decodePayload(msg, &payload); err != nil || payload.PlayerID == "" {
		co.rejectMessage(c, "PlayerOffline requires playerId")
		return
	}

	if co.presence.SetOffline(payload.PlayerID) {
		co.broadcastPresence()
	}
}

// handleSendFriendRequest 轉送好友請求給在線的受邀方
func (co *Coordinator) handleSendFriendRequest(c *Client, msg *Message) {
	var payload FriendRequestPayload
	if err := decodePayload(msg, &payload); err != nil || payload.ToUserID == "" {
		co.rejectMessage(c, "SendFriendRequest requires toUserId")
		return
	}

	target, ok := co.presence.Get(payload.ToUserID)
	if !ok {
		c.Enqueue(errorMessage(apperrors.ErrCodeNotFound, "player "+payload.ToUserID+" is not online"))
		return
	}

	forwarded, err := friendRequestReceived(payload.FromUserID, payload.FromUsername, payload.ToUserID)
	if err != nil {
		co.logger.Error("encode friend request failed", "error", err)
		return
	}
	target.Enqueue(forwarded)
}

// handleFriendDelivery 好友挑戰與拒絕：逐字轉送給指定玩家
func (co *Coordinator) handleFriendDelivery(c *Client, raw []byte, msg *Message) {
	var payload FriendChallengePayload
	if err := decodePayload(msg, &payload); err != nil || payload.OpponentPlayerID == "" {
		co.rejectMessage(c, msg.Type+" requires opponentPlayerId")
		return
	}

	target, ok := co.presence.Get(payload.OpponentPlayerID)
	if !ok {
		c.Enqueue(errorMessage(apperrors.ErrCodeNotFound, "player "+payload.OpponentPlayerID+" is not online"))
		return
	}
	target.Enqueue(raw)
}

// roomConns 房間連線的快照；呼叫端在鎖外迭代，不能共用底層陣列
func (co *Coordinator) roomConns(roomID string) []*Client {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return append([]*Client(nil), co.liveRooms[roomID]...)
}

// broadcastRoom 發送給同房所有連線
func (co *Coordinator) broadcastRoom(roomID string, message []byte) {
	for _, c := range co.roomConns(roomID) {
		c.Enqueue(message)
	}
}

// broadcastPresence 對所有在線連線廣播完整在線名單
func (co *Coordinator) broadcastPresence() {
	message, err := encodeMessage(TypePlayerStatusUpdate, co.presence.OnlineIDs())
	if err != nil {
		co.logger.Error("encode presence broadcast failed", "error", err)
		return
	}
	co.presence.Broadcast(message)
}

// disconnect 連線斷開：移出房間分組與在線名單，後者變動時廣播
func (co *Coordinator) disconnect(c *Client) {
	co.mu.Lock()
	if conns, live := co.liveRooms[c.roomID]; live {
		// 新切片：舊的底層陣列可能正被鎖外的轉發快照迭代
		kept := make([]*Client, 0, len(conns))
		for _, peer := range conns {
			if peer != c {
				kept = append(kept, peer)
			}
		}
		if len(kept) == 0 {
			delete(co.liveRooms, c.roomID)
			co.metrics.LiveSessions.Dec()
		} else {
			co.liveRooms[c.roomID] = kept
		}
	}
	co.mu.Unlock()

	if co.presence.RemoveClient(c) {
		co.broadcastPresence()
	}
	c.close()
}

// Shutdown 關閉所有連線
func (co *Coordinator) Shutdown() {
	co.mu.Lock()
	for roomID, conns := range co.liveRooms {
		for _, c := range conns {
			c.close()
			c.conn.Close()
		}
		delete(co.liveRooms, roomID)
	}
	co.mu.Unlock()

	for _, id := range co.presence.OnlineIDs() {
		if c, ok := co.presence.Get(id); ok {
			c.close()
			c.conn.Close()
		}
		co.presence.SetOffline(id)
	}

	co.logger.Info("session coordinator stopped")
}
