package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBufferSize = 256
)

// Client 一條 WebSocket 連線
//
// playerID 與 roomID 由協議訊息逐步綁定：PlayerOnline 綁定玩家，
// GameStarted 綁定房間。兩者都只在 coordinator 的鎖內寫入。
// send channel 只由 close 關閉，Enqueue 以 closed 旗標擋住關閉後的
// 寫入，避免對已關閉 channel 發送。
type Client struct {
	coord *Coordinator
	conn  *websocket.Conn

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	playerID string
	roomID   string
}

func newClient(coord *Coordinator, conn *websocket.Conn) *Client {
	return &Client{
		coord: coord,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
	}
}

// Enqueue 排入待送訊息；連線已關閉時為 no-op，
// 緩衝滿時丟棄並記錄，不阻塞呼叫端
func (c *Client) Enqueue(message []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- message:
	default:
		c.coord.logger.Warn("send buffer full, dropping message",
			"player_id", c.playerID,
			"room_id", c.roomID)
	}
}

// close 關閉 send channel（至多一次）
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump 讀取客戶端訊息並交給 coordinator 分派
func (c *Client) readPump() {
	defer func() {
		c.coord.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.coord.logger.Error("set read deadline failed", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.coord.logger.Error("websocket read error",
					"error", err,
					"player_id", c.playerID,
					"room_id", c.roomID)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			c.coord.rejectMessage(c, "malformed message envelope")
			continue
		}
		c.coord.dispatch(c, raw, &msg)
	}
}

// writePump 將排隊訊息寫出並定期發送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.coord.logger.Error("set write deadline failed", "error", err)
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 順手清空隊列中的累積訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.coord.logger.Error("set write deadline failed", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
