package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/cube-duel/internal/cube"
	"github.com/koopa0/cube-duel/internal/history"
	"github.com/koopa0/cube-duel/internal/metrics"
	"github.com/koopa0/cube-duel/internal/registry"
	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeRecorder 記錄呼叫供測試驗證
type fakeRecorder struct {
	mu       sync.Mutex
	starts   []string
	finishes []*history.GameResult
}

func (f *fakeRecorder) RecordGameStart(_ context.Context, room *registry.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, room.ID)
	return nil
}

func (f *fakeRecorder) RecordGameFinish(_ context.Context, result *history.GameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, result)
	return nil
}

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeRecorder) finishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finishes)
}

type testEnv struct {
	coord    *Coordinator
	players  *registry.PlayerRegistry
	rooms    *registry.RoomRegistry
	recorder *fakeRecorder
}

func newTestEnv() *testEnv {
	s := store.NewMemoryStore()
	players := registry.NewPlayerRegistry(s)
	rooms := registry.NewRoomRegistry(s)
	recorder := &fakeRecorder{}

	return &testEnv{
		coord:    NewCoordinator(players, rooms, recorder, metrics.NewUnregistered(), testLogger()),
		players:  players,
		rooms:    rooms,
		recorder: recorder,
	}
}

func mustMessage(t *testing.T, msgType string, payload any) ([]byte, *Message) {
	t.Helper()
	raw, err := encodeMessage(msgType, payload)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return raw, &msg
}

// receive 取出連線上排隊的下一則訊息
func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message: %s", raw)
	default:
	}
}

func join(t *testing.T, env *testEnv, c *Client, roomID, playerID string) {
	t.Helper()
	raw, msg := mustMessage(t, TypeGameStarted, &GameStartedPayload{
		RoomID: roomID,
		Player: &PlayerRef{PlayerID: playerID},
	})
	env.coord.dispatch(c, raw, msg)
}

// TestGameStarted_BroadcastOnFull 兩人到齊廣播開始並記錄歷史
func TestGameStarted_BroadcastOnFull(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, scrambled := cube.Scramble(5)
	require.NoError(t, env.rooms.Upsert(ctx, &registry.Room{
		ID:           "r1",
		Players:      []registry.Player{{ID: "p1"}, {ID: "p2"}},
		MaxPlayers:   registry.RoomCapacity,
		InitialState: scrambled,
		Variant:      registry.VariantThreeCube,
	}))

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)

	join(t, env, a, "r1", "p1")
	assertNoMessage(t, a)

	join(t, env, b, "r1", "p2")

	// 雙方都收到開始廣播
	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, TypeGameStarted, msg.Type)

		var payload GameStartedPayload
		require.NoError(t, json.Unmarshal(msg.Value, &payload))
		assert.Equal(t, "r1", payload.RoomID)
	}

	// 歷史記錄為背景寫入
	require.Eventually(t, func() bool {
		return env.recorder.startCount() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestGameStarted_RejectsThirdConnection 第三條連線收到房間已滿
func TestGameStarted_RejectsThirdConnection(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	c := newClient(env.coord, nil)

	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	join(t, env, c, "r1", "p3")

	msg := receive(t, c)
	assert.Equal(t, TypeError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, apperrors.ErrCodeRoomFull, payload.Code)
}

// TestGameStarted_Idempotent 同一連線重送進房宣告不產生副作用
func TestGameStarted_Idempotent(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, a, "r1", "p1")

	assertNoMessage(t, a)

	env.coord.mu.RLock()
	defer env.coord.mu.RUnlock()
	assert.Len(t, env.coord.liveRooms["r1"], 1)
}

// TestGameStartedAI 人機對局單連線即成局
func TestGameStartedAI(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	raw, msg := mustMessage(t, TypeGameStartedAI, &GameStartedPayload{
		RoomID: "r-ai",
		Player: &PlayerRef{PlayerID: "p1"},
	})
	env.coord.dispatch(a, raw, msg)

	got := receive(t, a)
	assert.Equal(t, TypeGameStartedAI, got.Type)
}

// TestKeyPress_RelaysValidMove 合法按鍵逐字轉發給同房對手
func TestKeyPress_RelaysValidMove(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	raw, msg := mustMessage(t, TypeKeyBoardButtonPressed, &KeyPressPayload{
		RoomID:         "r1",
		Player:         &PlayerRef{PlayerID: "p1"},
		KeyboardButton: "u",
		Direction:      "clockwise",
	})
	env.coord.dispatch(a, raw, msg)

	// 對手收到原封不動的訊息，發送者不回音
	got := receive(t, b)
	assert.Equal(t, TypeKeyBoardButtonPressed, got.Type)

	var payload KeyPressPayload
	require.NoError(t, json.Unmarshal(got.Value, &payload))
	assert.Equal(t, "u", payload.KeyboardButton)
	assert.Equal(t, "clockwise", payload.Direction)

	assertNoMessage(t, a)
}

// TestKeyPress_DropsInvalidFace 閉集之外的面字母直接丟棄
func TestKeyPress_DropsInvalidFace(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	for _, key := range []string{"x", "", "uu", "1"} {
		raw, msg := mustMessage(t, TypeKeyBoardButtonPressed, &KeyPressPayload{
			RoomID:         "r1",
			Player:         &PlayerRef{PlayerID: "p1"},
			KeyboardButton: key,
		})
		env.coord.dispatch(a, raw, msg)
	}

	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

// TestGameFinished 結束廣播、房間立即移除、戰績與清理為背景效果
func TestGameFinished(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p1", Rating: 100, TotalWins: 1, TotalGames: 1, Status: registry.StatusPlaying}))
	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p2", Rating: 4, Status: registry.StatusPlaying}))
	require.NoError(t, env.rooms.Upsert(ctx, &registry.Room{
		ID:         "r1",
		Players:    []registry.Player{{ID: "p1"}, {ID: "p2"}},
		MaxPlayers: registry.RoomCapacity,
		Variant:    registry.VariantThreeCube,
	}))
	require.NoError(t, env.rooms.SetPlayerRoom(ctx, "p1", "r1"))
	require.NoError(t, env.rooms.SetPlayerRoom(ctx, "p2", "r1"))

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	raw, msg := mustMessage(t, TypeGameFinished, &GameFinishedPayload{RoomID: "r1", WinnerID: "p1", TimeTaken: 42.5})
	env.coord.dispatch(a, raw, msg)

	// 雙方收到結束廣播
	for _, c := range []*Client{a, b} {
		got := receive(t, c)
		assert.Equal(t, TypeGameFinished, got.Type)
	}

	// 戰績：勝方 +8、勝場與勝率更新；敗方 -8 以 0 為下限
	require.Eventually(t, func() bool {
		p1, err := env.players.Get(ctx, "p1")
		if err != nil {
			return false
		}
		return p1.Rating == 100+history.RatingIncrement
	}, time.Second, 10*time.Millisecond)

	p1, err := env.players.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p1.TotalWins)
	assert.Equal(t, 2, p1.TotalGames)
	assert.InDelta(t, 100.0, p1.WinPercentage, 0.01)
	assert.Equal(t, registry.StatusNotPlaying, p1.Status)
	require.Contains(t, p1.BestTimes, registry.VariantThreeCube)
	assert.InDelta(t, 42.5, p1.BestTimes[registry.VariantThreeCube].TopSpeed, 0.001)

	require.Eventually(t, func() bool {
		p2, err := env.players.Get(ctx, "p2")
		if err != nil {
			return false
		}
		return p2.Status == registry.StatusNotPlaying
	}, time.Second, 10*time.Millisecond)

	p2, err := env.players.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, p2.Rating, "rating floors at zero")
	assert.Equal(t, 0, p2.TotalWins)
	assert.Equal(t, 1, p2.TotalGames)

	// 歷史結算與持久化清理
	require.Eventually(t, func() bool {
		return env.recorder.finishCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		exists, err := env.rooms.Exists(ctx, "r1")
		return err == nil && !exists
	}, time.Second, 10*time.Millisecond)

	_, ok, err := env.rooms.GetPlayerRoom(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestGameFinished_DuplicateIsNoop 重複的結束宣告不得再觸發任何效果
func TestGameFinished_DuplicateIsNoop(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p1", Rating: 100}))
	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p2", Rating: 100}))

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	raw, msg := mustMessage(t, TypeGameFinished, &GameFinishedPayload{RoomID: "r1", WinnerID: "p1"})
	env.coord.dispatch(a, raw, msg)
	receive(t, a)
	receive(t, b)

	require.Eventually(t, func() bool {
		return env.recorder.finishCount() == 1
	}, time.Second, 10*time.Millisecond)

	// 第二次宣告：無廣播、無新結算
	env.coord.dispatch(b, raw, msg)
	assertNoMessage(t, a)
	assertNoMessage(t, b)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.recorder.finishCount())
}

// TestPresence 上線下線更新名單並對所有在線連線廣播
func TestPresence(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	raw, msg := mustMessage(t, TypePlayerOnline, &PresencePayload{PlayerID: "p1"})
	env.coord.dispatch(a, raw, msg)

	got := receive(t, a)
	assert.Equal(t, TypePlayerStatusUpdate, got.Type)

	var online []string
	require.NoError(t, json.Unmarshal(got.Value, &online))
	assert.Equal(t, []string{"p1"}, online)

	// 第二位上線，雙方都收到完整名單
	b := newClient(env.coord, nil)
	raw, msg = mustMessage(t, TypePlayerOnline, &PresencePayload{PlayerID: "p2"})
	env.coord.dispatch(b, raw, msg)

	for _, c := range []*Client{a, b} {
		got := receive(t, c)
		require.NoError(t, json.Unmarshal(got.Value, &online))
		assert.ElementsMatch(t, []string{"p1", "p2"}, online)
	}

	// p1 下線：剩餘連線收到更新後的名單
	raw, msg = mustMessage(t, TypePlayerOffline, &PresencePayload{PlayerID: "p1"})
	env.coord.dispatch(a, raw, msg)

	got = receive(t, b)
	require.NoError(t, json.Unmarshal(got.Value, &online))
	assert.Equal(t, []string{"p2"}, online)
}

// TestDisconnect_RemovesPresence 斷線視同下線並廣播
func TestDisconnect_RemovesPresence(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	for c, id := range map[*Client]string{a: "p1", b: "p2"} {
		raw, msg := mustMessage(t, TypePlayerOnline, &PresencePayload{PlayerID: id})
		env.coord.dispatch(c, raw, msg)
	}
	for len(a.send) > 0 {
		<-a.send
	}
	for len(b.send) > 0 {
		<-b.send
	}

	env.coord.disconnect(a)

	got := receive(t, b)
	assert.Equal(t, TypePlayerStatusUpdate, got.Type)

	var online []string
	require.NoError(t, json.Unmarshal(got.Value, &online))
	assert.Equal(t, []string{"p2"}, online)
}

// TestFriendRequest 轉送好友請求給在線受邀方；離線時回錯誤
func TestFriendRequest(t *testing.T) {
	env := newTestEnv()

	sender := newClient(env.coord, nil)
	target := newClient(env.coord, nil)
	raw, msg := mustMessage(t, TypePlayerOnline, &PresencePayload{PlayerID: "p2"})
	env.coord.dispatch(target, raw, msg)
	receive(t, target)

	raw, msg = mustMessage(t, TypeSendFriendRequest, &FriendRequestPayload{
		FromUserID: "p1", ToUserID: "p2", FromUsername: "alice",
	})
	env.coord.dispatch(sender, raw, msg)

	got := receive(t, target)
	assert.Equal(t, TypeFriendRequestReceived, got.Type)

	var payload FriendRequestReceivedPayload
	require.NoError(t, json.Unmarshal(got.Value, &payload))
	assert.Equal(t, "p1", payload.FromUserID)
	assert.Equal(t, "alice", payload.FromUsername)
	assert.Equal(t, "p2", payload.ToUserID)
	assert.NotEmpty(t, payload.Timestamp)

	// 受邀方離線
	raw, msg = mustMessage(t, TypeSendFriendRequest, &FriendRequestPayload{
		FromUserID: "p1", ToUserID: "offline",
	})
	env.coord.dispatch(sender, raw, msg)

	got = receive(t, sender)
	assert.Equal(t, TypeError, got.Type)
}

// TestFriendChallenge_VerbatimDelivery 挑戰與拒絕逐字轉送
func TestFriendChallenge_VerbatimDelivery(t *testing.T) {
	env := newTestEnv()

	challenger := newClient(env.coord, nil)
	target := newClient(env.coord, nil)
	raw, msg := mustMessage(t, TypePlayerOnline, &PresencePayload{PlayerID: "p2"})
	env.coord.dispatch(target, raw, msg)
	receive(t, target)

	raw, msg = mustMessage(t, TypeFriendChallenge, &FriendChallengePayload{
		PlayerID: "p1", OpponentPlayerID: "p2", RoomID: "r1",
	})
	env.coord.dispatch(challenger, raw, msg)

	got := receive(t, target)
	assert.Equal(t, TypeFriendChallenge, got.Type)

	var payload FriendChallengePayload
	require.NoError(t, json.Unmarshal(got.Value, &payload))
	assert.Equal(t, "r1", payload.RoomID)
}

// dispatchRaw 直接分派線上格式的 JSON，驗證協議欄位名稱
func dispatchRaw(t *testing.T, env *testEnv, c *Client, raw string) {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	env.coord.dispatch(c, []byte(raw), &msg)
}

// TestWireFormat_KeyPress 客戶端的按鍵事件格式：room 物件、
// keyboardButton 與 direction 欄位必須被接受並轉發
func TestWireFormat_KeyPress(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	dispatchRaw(t, env, a,
		`{"type":"KeyBoardButtonPressed","value":{"room":{"id":"r1"},"player":{"player_id":"p1"},"keyboardButton":"u","direction":"clockwise"}}`)

	got := receive(t, b)
	assert.Equal(t, TypeKeyBoardButtonPressed, got.Type)

	var payload KeyPressPayload
	require.NoError(t, json.Unmarshal(got.Value, &payload))
	assert.Equal(t, "u", payload.KeyboardButton)
	assert.Equal(t, "clockwise", payload.Direction)
	require.NotNil(t, payload.Room)
	assert.Equal(t, "r1", payload.Room.ID)

	assertNoMessage(t, a)
}

// TestWireFormat_GameStartedAndFinished 客戶端的進房與結束格式：
// player 物件與 player_id_who_won 欄位必須被接受並結算
func TestWireFormat_GameStartedAndFinished(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p1", Rating: 100, Status: registry.StatusPlaying}))
	require.NoError(t, env.players.Upsert(ctx, &registry.Player{ID: "p2", Rating: 100, Status: registry.StatusPlaying}))

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	dispatchRaw(t, env, a,
		`{"type":"GameStarted","value":{"roomId":"r2","player":{"player_id":"p1","username":"alice"}}}`)
	dispatchRaw(t, env, b,
		`{"type":"GameStarted","value":{"roomId":"r2","player":{"player_id":"p2","username":"bob"}}}`)
	receive(t, a)
	receive(t, b)

	dispatchRaw(t, env, a,
		`{"type":"GameFinished","value":{"roomId":"r2","player_id_who_won":"p1"}}`)

	for _, c := range []*Client{a, b} {
		got := receive(t, c)
		assert.Equal(t, TypeGameFinished, got.Type)
	}

	// 房間已結算移除，戰績在背景更新
	env.coord.mu.RLock()
	_, live := env.coord.liveRooms["r2"]
	env.coord.mu.RUnlock()
	assert.False(t, live)

	require.Eventually(t, func() bool {
		p1, err := env.players.Get(ctx, "p1")
		return err == nil && p1.Rating == 100+history.RatingIncrement
	}, time.Second, 10*time.Millisecond)
}

// TestEnqueue_AfterClose 關閉後的排隊為 no-op，不得 panic
func TestEnqueue_AfterClose(t *testing.T) {
	env := newTestEnv()

	c := newClient(env.coord, nil)
	c.close()
	c.close()

	assert.NotPanics(t, func() {
		c.Enqueue([]byte(`{"type":"GameStarted","value":{}}`))
	})
}

// TestKeyPress_ConcurrentWithDisconnect 轉發與斷線清理並行時
// 不得互踩房間切片，也不得對已關閉的連線排隊
func TestKeyPress_ConcurrentWithDisconnect(t *testing.T) {
	env := newTestEnv()

	a := newClient(env.coord, nil)
	b := newClient(env.coord, nil)
	join(t, env, a, "r1", "p1")
	join(t, env, b, "r1", "p2")
	receive(t, a)
	receive(t, b)

	raw, msg := mustMessage(t, TypeKeyBoardButtonPressed, &KeyPressPayload{
		RoomID:         "r1",
		Player:         &PlayerRef{PlayerID: "p1"},
		KeyboardButton: "u",
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			env.coord.dispatch(a, raw, msg)
		}
	}()
	go func() {
		defer wg.Done()
		env.coord.disconnect(b)
	}()
	wg.Wait()

	env.coord.mu.RLock()
	defer env.coord.mu.RUnlock()
	for _, peer := range env.coord.liveRooms["r1"] {
		assert.Same(t, a, peer)
	}
}

// TestDispatch_RejectsUnknownAndMalformed ingress 驗證
func TestDispatch_RejectsUnknownAndMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"Teleport","value":{}}`},
		{"missing value", `{"type":"GameStarted"}`},
		{"wrong value shape", `{"type":"GameStarted","value":"not-an-object"}`},
		{"missing required fields", `{"type":"GameStarted","value":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			c := newClient(env.coord, nil)

			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			env.coord.dispatch(c, []byte(tt.raw), &msg)

			got := receive(t, c)
			assert.Equal(t, TypeError, got.Type)

			var payload ErrorPayload
			require.NoError(t, json.Unmarshal(got.Value, &payload))
			assert.Equal(t, apperrors.ErrCodeInvalidMessage, payload.Code)
		})
	}
}
