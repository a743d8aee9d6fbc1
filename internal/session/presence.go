package session

import "sync"

// PresenceRegistry 玩家 id → 連線的線上名單
//
// 單一行程內的記憶體結構。沒有心跳機制：上下線完全由
// PlayerOnline/PlayerOffline 宣告與連線斷開驅動。
type PresenceRegistry struct {
	mu     sync.RWMutex
	online map[string]*Client
}

// NewPresenceRegistry 創建線上名單
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{online: make(map[string]*Client)}
}

// SetOnline 標記玩家上線；同一玩家重連時以新連線覆蓋
func (p *PresenceRegistry) SetOnline(playerID string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[playerID] = c
}

// SetOffline 標記玩家下線；回傳是否原本在線
func (p *PresenceRegistry) SetOffline(playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[playerID]; !ok {
		return false
	}
	delete(p.online, playerID)
	return true
}

// RemoveClient 連線斷開時移除；只在名單仍指向這條連線時生效，
// 避免重連後的新連線被舊連線的清理誤刪。
func (p *PresenceRegistry) RemoveClient(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cl := range p.online {
		if cl == c {
			delete(p.online, id)
			return true
		}
	}
	return false
}

// Get 查詢玩家的連線
func (p *PresenceRegistry) Get(playerID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.online[playerID]
	return c, ok
}

// OnlineIDs 目前在線的玩家 id 快照
func (p *PresenceRegistry) OnlineIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast 發送給所有在線連線
func (p *PresenceRegistry) Broadcast(message []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.online {
		c.Enqueue(message)
	}
}
