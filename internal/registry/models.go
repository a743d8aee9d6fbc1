// Package registry 實作玩家與房間記錄在共享儲存上的 CRUD
//
// 玩家記錄只透過 PlayerRegistry 的 upsert 變更；房間由配對協調器創建、
// 第二位玩家加入時變更、對局結束或清理時刪除。
package registry

import (
	"github.com/koopa0/cube-duel/internal/cube"
)

// PlayerStatus 玩家的粗粒度狀態
type PlayerStatus string

const (
	StatusWaiting    PlayerStatus = "waiting"
	StatusPlaying    PlayerStatus = "playing"
	StatusNotPlaying PlayerStatus = "not playing"
)

// Variant 方塊類別
type Variant string

const (
	VariantThreeCube Variant = "3x3 cube"
	VariantFourCube  Variant = "4x4 cube"
)

// BestTime 單一類別的最佳解題時間
type BestTime struct {
	Variant  Variant `json:"cube_category"`
	TopSpeed float64 `json:"top_speed"`
}

// Player 玩家記錄
//
// JSON 欄位名沿用既有的儲存格式，保持與舊資料相容。
type Player struct {
	ID            string               `json:"player_id"`
	Username      string               `json:"username"`
	Status        PlayerStatus         `json:"player_state"`
	Rating        int                  `json:"rating"`
	TotalWins     int                  `json:"total_wins"`
	TotalGames    int                  `json:"total_games"`
	WinPercentage float64              `json:"win_percentage"`
	BestTimes     map[Variant]BestTime `json:"top_speed_to_solve_cube,omitempty"`
	Cube          cube.State           `json:"scrambledCube"`
}

// 房間的粗粒度對局狀態
const (
	GameStatusInit     = "init"
	GameStatusActive   = "active"
	GameStatusFinished = "finished"
)

// GameState 房間的對局狀態標記
type GameState struct {
	Status string `json:"status"`
}

// RoomCapacity 房間人數上限
const RoomCapacity = 2

// Room 配對產生的持久化房間記錄
//
// 與對局進行中 session 套件持有的連線分組是兩個獨立概念；
// 兩者共用同一個房間 id，因為 id 一律由配對協調器發出。
type Room struct {
	ID           string     `json:"id"`
	Players      []Player   `json:"players"`
	MaxPlayers   int        `json:"maxPlayers"`
	GameState    GameState  `json:"gameState"`
	InitialState cube.State `json:"initialState"`
	Variant      Variant    `json:"variant"`
	CreatedAt    int64      `json:"createdAt"` // Unix 毫秒
}

// IsFull 房間是否已滿
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// HasPlayer 玩家是否已在房間內
func (r *Room) HasPlayer(playerID string) bool {
	for _, p := range r.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}
