// Package history 將對局結果持久化到 PostgreSQL
//
// 對局的即時狀態（房間、玩家記錄）住在共享儲存裡，生命週期只有
// 一場對局；這裡負責跨對局存活的部分：對局歷史與玩家累積戰績。
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/cube-duel/internal/registry"
)

// RatingIncrement 每場對局的分數變動量
const RatingIncrement = 8

// Recorder 對局結果記錄介面
type Recorder interface {
	// RecordGameStart 對局開始時插入歷史記錄
	RecordGameStart(ctx context.Context, room *registry.Room) error

	// RecordGameFinish 對局結束時補上勝者並更新雙方戰績
	RecordGameFinish(ctx context.Context, result *GameResult) error
}

// GameResult 一場已結束對局的結算資料
type GameResult struct {
	RoomID       string
	WinnerID     string
	LoserID      string
	Variant      registry.Variant
	SolveSeconds float64
}

// PostgresRecorder 以 PostgreSQL 實作 Recorder
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder 創建 PostgreSQL 記錄器
func NewPostgresRecorder(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{pool: pool, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS game_history (
    room_id     TEXT PRIMARY KEY,
    player_a    TEXT NOT NULL,
    player_b    TEXT,
    variant     TEXT NOT NULL,
    winner_id   TEXT,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS player_stats (
    player_id      TEXT PRIMARY KEY,
    username       TEXT NOT NULL DEFAULT '',
    rating         INTEGER NOT NULL DEFAULT 0,
    total_wins     INTEGER NOT NULL DEFAULT 0,
    total_games    INTEGER NOT NULL DEFAULT 0,
    best_time_secs DOUBLE PRECISION
);
`

// Migrate 建立資料表（冪等）
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RecordGameStart 插入對局歷史記錄
//
// 同一房間 id 重複插入時以較新的玩家名單覆蓋：配對協調器可能
// 在第二位玩家加入後重送開始事件。
func (r *PostgresRecorder) RecordGameStart(ctx context.Context, room *registry.Room) error {
	var playerA, playerB string
	if len(room.Players) > 0 {
		playerA = room.Players[0].ID
	}
	if len(room.Players) > 1 {
		playerB = room.Players[1].ID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO game_history (room_id, player_a, player_b, variant, started_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (room_id) DO UPDATE
		SET player_a = EXCLUDED.player_a,
		    player_b = EXCLUDED.player_b`,
		room.ID, playerA, playerB, string(room.Variant), time.UnixMilli(room.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert game history %s: %w", room.ID, err)
	}
	return nil
}

// RecordGameFinish 寫入勝者、結束時間並更新雙方戰績
//
// 歷史記錄與戰績在同一交易內更新；勝者已被寫入的記錄不再覆蓋，
// 因此同一對局的重複結束事件只有第一個生效。
func (r *PostgresRecorder) RecordGameFinish(ctx context.Context, result *GameResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error("rollback failed", "room_id", result.RoomID, "error", rbErr)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE game_history
		SET winner_id = $2, ended_at = now()
		WHERE room_id = $1 AND winner_id IS NULL`,
		result.RoomID, result.WinnerID)
	if err != nil {
		return fmt.Errorf("update game history %s: %w", result.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		// 已結算過或從未記錄，戰績不再重複計算
		return tx.Commit(ctx)
	}

	if err := r.applyStats(ctx, tx, result.WinnerID, RatingIncrement, true, result.SolveSeconds); err != nil {
		return err
	}
	if result.LoserID != "" {
		if err := r.applyStats(ctx, tx, result.LoserID, -RatingIncrement, false, 0); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit game finish %s: %w", result.RoomID, err)
	}
	return nil
}

// applyStats 更新單一玩家戰績；rating 下限為 0
func (r *PostgresRecorder) applyStats(ctx context.Context, tx pgx.Tx, playerID string, delta int, won bool, solveSeconds float64) error {
	wins := 0
	if won {
		wins = 1
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO player_stats (player_id, rating, total_wins, total_games, best_time_secs)
		VALUES ($1, GREATEST(0, $2), $3, 1, NULLIF($4, 0))
		ON CONFLICT (player_id) DO UPDATE
		SET rating      = GREATEST(0, player_stats.rating + $2),
		    total_wins  = player_stats.total_wins + $3,
		    total_games = player_stats.total_games + 1,
		    best_time_secs = CASE
		        WHEN $4 > 0 AND (player_stats.best_time_secs IS NULL OR $4 < player_stats.best_time_secs)
		        THEN $4
		        ELSE player_stats.best_time_secs
		    END`,
		playerID, delta, wins, solveSeconds)
	if err != nil {
		return fmt.Errorf("update player stats %s: %w", playerID, err)
	}
	return nil
}

// Stats 玩家累積戰績
type Stats struct {
	PlayerID   string   `json:"player_id"`
	Username   string   `json:"username"`
	Rating     int      `json:"rating"`
	TotalWins  int      `json:"total_wins"`
	TotalGames int      `json:"total_games"`
	BestTime   *float64 `json:"best_time_secs,omitempty"`
}

// PlayerStats 查詢玩家戰績；無記錄時回傳零值
func (r *PostgresRecorder) PlayerStats(ctx context.Context, playerID string) (*Stats, error) {
	s := &Stats{PlayerID: playerID}
	err := r.pool.QueryRow(ctx, `
		SELECT username, rating, total_wins, total_games, best_time_secs
		FROM player_stats WHERE player_id = $1`,
		playerID).Scan(&s.Username, &s.Rating, &s.TotalWins, &s.TotalGames, &s.BestTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query player stats %s: %w", playerID, err)
	}
	return s, nil
}

// NopRecorder 不做任何記錄；未配置 PostgreSQL 時使用
type NopRecorder struct{}

func (NopRecorder) RecordGameStart(context.Context, *registry.Room) error { return nil }
func (NopRecorder) RecordGameFinish(context.Context, *GameResult) error   { return nil }
