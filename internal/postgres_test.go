package internal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
	"github.com/koopa0/letterduel/internal/testutils"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// newPostgresStore 啟動容器、套用遷移並建立儲存層
func newPostgresStore(t *testing.T) (*internal.PostgresStore, *testutils.PostgresEnv) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	env := testutils.SetupPostgres(t)
	require.NoError(t, internal.ApplyMigrations(context.Background(), env.Pool))
	return internal.NewPostgresStore(env.Pool), env
}

// seedPostgresGame 建好玩家、題目與一場對局的前置資料
func seedPostgresGame(t *testing.T, store *internal.PostgresStore, id string, created time.Time) *internal.Game {
	t.Helper()
	ctx := context.Background()

	for _, username := range []string{"alice", "bob"} {
		require.NoError(t, store.SaveUser(ctx, &internal.User{
			Username:  username,
			CreatedAt: created,
		}))
	}
	question := &internal.Question{
		ID:         "q-" + id,
		Text:       "something with A",
		Answer:     "A-answer",
		Letter:     "A",
		Difficulty: 3,
		Points:     300,
	}
	require.NoError(t, store.SaveQuestion(ctx, question))

	game := &internal.Game{
		ID:                id,
		Status:            internal.StatusNew,
		FirstUser:         "alice",
		CurriculumIDs:     []string{question.ID},
		CurrentQuestion:   question,
		CurrentLetter:     "A",
		CurrentDice:       3,
		FirstSessionToken: "token-first-" + id,
		CreatedAt:         created,
	}
	saved, err := store.SaveGame(ctx, game)
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Version)
	return saved
}

// TestPostgresStore_SaveGame 測試樂觀鎖寫入
func TestPostgresStore_SaveGame(t *testing.T) {
	store, env := newPostgresStore(t)
	ctx := context.Background()

	t.Run("insert then read back", func(t *testing.T) {
		env.TruncateTables(t)
		saved := seedPostgresGame(t, store, "game-1", time.Now())

		loaded, err := store.GetGame(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusNew, loaded.Status)
		assert.Equal(t, "alice", loaded.FirstUser)
		assert.Equal(t, saved.FirstSessionToken, loaded.FirstSessionToken)
		require.NotNil(t, loaded.CurrentQuestion)
		assert.Equal(t, "q-game-1", loaded.CurrentQuestion.ID)
		assert.Equal(t, int64(1), loaded.Version)
	})

	t.Run("duplicate insert is a version conflict", func(t *testing.T) {
		env.TruncateTables(t)
		saved := seedPostgresGame(t, store, "game-dup", time.Now())

		again := *saved
		again.Version = 0
		_, err := store.SaveGame(ctx, &again)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrVersionConflict)
	})

	t.Run("stale version loses the race", func(t *testing.T) {
		env.TruncateTables(t)
		saved := seedPostgresGame(t, store, "game-race", time.Now())

		// 兩個加入者都從 version 1 出發，只有先寫的人贏
		first := *saved
		first.SecondUser = "bob"
		first.SecondSessionToken = "token-second-race"
		first.Status = internal.StatusInProgress
		winner, err := store.SaveGame(ctx, &first)
		require.NoError(t, err)
		assert.Equal(t, int64(2), winner.Version)

		second := *saved
		second.SecondUser = "bob"
		second.Status = internal.StatusInProgress
		_, err = store.SaveGame(ctx, &second)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

		final, err := store.GetGame(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", final.SecondUser)
		assert.Equal(t, int64(2), final.Version)
	})

	t.Run("updating a missing game is a conflict", func(t *testing.T) {
		env.TruncateTables(t)

		ghost := &internal.Game{
			ID:      "no-such-game",
			Status:  internal.StatusInProgress,
			Version: 1,
		}
		_, err := store.SaveGame(ctx, ghost)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrVersionConflict)
	})
}

// TestPostgresStore_FindOldestOpen 測試配對掃描
func TestPostgresStore_FindOldestOpen(t *testing.T) {
	store, env := newPostgresStore(t)
	ctx := context.Background()

	t.Run("returns the oldest waiting game", func(t *testing.T) {
		env.TruncateTables(t)
		older := seedPostgresGame(t, store, "game-old", time.Now().Add(-time.Minute))

		newer := *older
		newer.ID = "game-new"
		newer.FirstSessionToken = "token-first-game-new"
		newer.CreatedAt = time.Now()
		newer.Version = 0
		_, err := store.SaveGame(ctx, &newer)
		require.NoError(t, err)

		open, err := store.FindOldestOpen(ctx)
		require.NoError(t, err)
		assert.Equal(t, "game-old", open.ID)
	})

	t.Run("matched games are not open", func(t *testing.T) {
		env.TruncateTables(t)
		saved := seedPostgresGame(t, store, "game-matched", time.Now())

		saved.SecondUser = "bob"
		saved.SecondSessionToken = "token-second-matched"
		saved.Status = internal.StatusInProgress
		_, err := store.SaveGame(ctx, saved)
		require.NoError(t, err)

		_, err = store.FindOldestOpen(ctx)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("empty table", func(t *testing.T) {
		env.TruncateTables(t)

		_, err := store.FindOldestOpen(ctx)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

// TestPostgresStore_FindBySessionToken 測試 session token 反查
func TestPostgresStore_FindBySessionToken(t *testing.T) {
	store, env := newPostgresStore(t)
	ctx := context.Background()

	env.TruncateTables(t)
	saved := seedPostgresGame(t, store, "game-session", time.Now())

	saved.SecondUser = "bob"
	saved.SecondSessionToken = "token-second-session"
	saved.Status = internal.StatusInProgress
	saved, err := store.SaveGame(ctx, saved)
	require.NoError(t, err)

	t.Run("first player token", func(t *testing.T) {
		game, err := store.FindBySessionToken(ctx, saved.FirstSessionToken)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, game.ID)
	})

	t.Run("second player token", func(t *testing.T) {
		game, err := store.FindBySessionToken(ctx, "token-second-session")
		require.NoError(t, err)
		assert.Equal(t, saved.ID, game.ID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := store.FindBySessionToken(ctx, "no-such-token")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := store.FindBySessionToken(ctx, "")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
