package history_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/cube-duel/internal/history"
	"github.com/koopa0/cube-duel/internal/registry"
	"github.com/koopa0/cube-duel/internal/testutils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestPostgresRecorder_Integration 對真實 PostgreSQL 驗證對局歷史生命週期
func TestPostgresRecorder_Integration(t *testing.T) {
	pool := testutils.SetupPostgres(t)
	recorder := history.NewPostgresRecorder(pool, testLogger())
	ctx := context.Background()

	require.NoError(t, recorder.Migrate(ctx))
	// 冪等：重複執行不得失敗
	require.NoError(t, recorder.Migrate(ctx))

	room := &registry.Room{
		ID:         "room-1",
		Players:    []registry.Player{{ID: "p1", Username: "alice"}, {ID: "p2", Username: "bob"}},
		MaxPlayers: registry.RoomCapacity,
		Variant:    registry.VariantThreeCube,
		CreatedAt:  1700000000000,
	}

	t.Run("start then finish updates standings", func(t *testing.T) {
		require.NoError(t, recorder.RecordGameStart(ctx, room))
		// 重送的開始事件覆蓋名單而非報錯
		require.NoError(t, recorder.RecordGameStart(ctx, room))

		require.NoError(t, recorder.RecordGameFinish(ctx, &history.GameResult{
			RoomID:       "room-1",
			WinnerID:     "p1",
			LoserID:      "p2",
			Variant:      registry.VariantThreeCube,
			SolveSeconds: 37.2,
		}))

		winner, err := recorder.PlayerStats(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, history.RatingIncrement, winner.Rating)
		assert.Equal(t, 1, winner.TotalWins)
		assert.Equal(t, 1, winner.TotalGames)
		require.NotNil(t, winner.BestTime)
		assert.InDelta(t, 37.2, *winner.BestTime, 0.001)

		// 敗方分數以 0 為下限
		loser, err := recorder.PlayerStats(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, 0, loser.Rating)
		assert.Equal(t, 0, loser.TotalWins)
		assert.Equal(t, 1, loser.TotalGames)
	})

	t.Run("duplicate finish does not double count", func(t *testing.T) {
		require.NoError(t, recorder.RecordGameFinish(ctx, &history.GameResult{
			RoomID:   "room-1",
			WinnerID: "p1",
			LoserID:  "p2",
			Variant:  registry.VariantThreeCube,
		}))

		winner, err := recorder.PlayerStats(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, history.RatingIncrement, winner.Rating)
		assert.Equal(t, 1, winner.TotalWins)
	})

	t.Run("best time only improves", func(t *testing.T) {
		faster := &registry.Room{
			ID:         "room-2",
			Players:    []registry.Player{{ID: "p1"}, {ID: "p2"}},
			MaxPlayers: registry.RoomCapacity,
			Variant:    registry.VariantThreeCube,
			CreatedAt:  1700000100000,
		}
		require.NoError(t, recorder.RecordGameStart(ctx, faster))
		require.NoError(t, recorder.RecordGameFinish(ctx, &history.GameResult{
			RoomID:       "room-2",
			WinnerID:     "p1",
			LoserID:      "p2",
			Variant:      registry.VariantThreeCube,
			SolveSeconds: 55.0,
		}))

		winner, err := recorder.PlayerStats(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, winner.BestTime)
		assert.InDelta(t, 37.2, *winner.BestTime, 0.001, "slower solve must not overwrite best time")
	})

	t.Run("stats for unknown player are zero", func(t *testing.T) {
		stats, err := recorder.PlayerStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Rating)
		assert.Equal(t, 0, stats.TotalGames)
		assert.Nil(t, stats.BestTime)
	})
}
