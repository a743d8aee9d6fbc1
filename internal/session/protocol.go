package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// 訊息類別：封閉集合，ingress 驗證只接受這些值
const (
	TypeGameStarted             = "GameStarted"
	TypeGameStartedAI           = "GameStartedAI"
	TypeGameFinished            = "GameFinished"
	TypeKeyBoardButtonPressed   = "KeyBoardButtonPressed"
	TypePlayerOnline            = "PlayerOnline"
	TypePlayerOffline           = "PlayerOffline"
	TypeSendFriendRequest       = "SendFriendRequest"
	TypeFriendRequestReceived   = "FriendRequestReceived"
	TypeFriendChallenge         = "FriendChallenge"
	TypeFriendChallengeRejected = "FriendChallengeRejected"
	TypePlayerStatusUpdate      = "PlayerStatusUpdate"
	TypeError                   = "Error"
)

// Message 線上協議的統一外層：{"type": ..., "value": ...}
type Message struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// PlayerRef 協議中內嵌的玩家物件；伺服器只讀取 id 與名稱
type PlayerRef struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username,omitempty"`
}

// RoomRef 協議中內嵌的房間物件
type RoomRef struct {
	ID string `json:"id"`
}

// GameStartedPayload 玩家宣告進入房間
type GameStartedPayload struct {
	RoomID    string     `json:"roomId"`
	Player    *PlayerRef `json:"player,omitempty"`
	StartTime string     `json:"start_time,omitempty"`
}

func (p *GameStartedPayload) playerID() string {
	if p.Player == nil {
		return ""
	}
	return p.Player.PlayerID
}

// KeyPressPayload 轉動按鍵事件；keyboardButton 為面字母，大小寫不拘。
// 房間可用 roomId 字串或 room 物件指定。
type KeyPressPayload struct {
	RoomID         string     `json:"roomId,omitempty"`
	Room           *RoomRef   `json:"room,omitempty"`
	Player         *PlayerRef `json:"player,omitempty"`
	KeyboardButton string     `json:"keyboardButton"`
	Direction      string     `json:"direction,omitempty"`
}

func (p *KeyPressPayload) roomID() string {
	if p.RoomID != "" {
		return p.RoomID
	}
	if p.Room != nil {
		return p.Room.ID
	}
	return ""
}

// GameFinishedPayload 完成宣告；timeTaken 單位為秒，省略時不更新最佳時間
type GameFinishedPayload struct {
	RoomID    string  `json:"roomId"`
	WinnerID  string  `json:"player_id_who_won"`
	EndTime   string  `json:"end_time,omitempty"`
	TimeTaken float64 `json:"timeTaken,omitempty"`
}

// PresencePayload 上線與下線宣告
type PresencePayload struct {
	PlayerID string `json:"playerId"`
}

// FriendRequestPayload 好友請求
type FriendRequestPayload struct {
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
	ToUserID     string `json:"toUserId"`
}

// FriendRequestReceivedPayload 轉送給受邀方的好友請求
type FriendRequestReceivedPayload struct {
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
	ToUserID     string `json:"toUserId"`
	Timestamp    string `json:"timestamp"` // ISO 8601
}

// FriendChallengePayload 好友挑戰與拒絕
type FriendChallengePayload struct {
	PlayerID         string `json:"playerId"`
	OpponentPlayerID string `json:"opponentPlayerId"`
	RoomID           string `json:"roomId"`
}

// ErrorPayload 伺服器回給單一連線的錯誤
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodePayload 解出外層訊息的 value；缺 value 視為格式錯誤
func decodePayload(msg *Message, out any) error {
	if len(msg.Value) == 0 {
		return fmt.Errorf("message %s: missing value", msg.Type)
	}
	if err := json.Unmarshal(msg.Value, out); err != nil {
		return fmt.Errorf("message %s: %w", msg.Type, err)
	}
	return nil
}

// encodeMessage 包回統一外層；payload 皆為本套件內的結構，序列化不應失敗
func encodeMessage(msgType string, payload any) ([]byte, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(&Message{Type: msgType, Value: value})
}

func errorMessage(code, text string) []byte {
	data, _ := encodeMessage(TypeError, &ErrorPayload{Code: code, Message: text})
	return data
}

func friendRequestReceived(from, username, to string) ([]byte, error) {
	return encodeMessage(TypeFriendRequestReceived, &FriendRequestReceivedPayload{
		FromUserID:   from,
		FromUsername: username,
		ToUserID:     to,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}
