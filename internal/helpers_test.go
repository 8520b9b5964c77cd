package internal_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
)

// testLogger 測試用靜音日誌
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig 測試用配置
func testConfig() *internal.Config {
	cfg := &internal.Config{}
	cfg.Game.CountdownDelay = 5 * time.Second
	cfg.Game.DisconnectBonus = 1000
	cfg.Game.StoreTimeout = 3 * time.Second
	cfg.RateLimit.Window = 10 * time.Second
	return cfg
}

// recordingBroadcaster 記錄所有發佈事件的假匯流排
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	topic   string
	payload any
}

func (b *recordingBroadcaster) Publish(_ context.Context, topic string, payload any) {
	b.mu.Lock()
	b.events = append(b.events, broadcastEvent{topic: topic, payload: payload})
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Subscribe(string, func(string, []byte)) (func(), error) {
	return func() {}, nil
}

func (b *recordingBroadcaster) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, len(b.events))
	for i, ev := range b.events {
		topics[i] = ev.topic
	}
	return topics
}

func (b *recordingBroadcaster) lastEvent() (broadcastEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return broadcastEvent{}, false
	}
	return b.events[len(b.events)-1], true
}

// harness 組裝一套跑在記憶體儲存上的完整服務
type harness struct {
	store       *internal.MemoryStore
	broadcaster *recordingBroadcaster
	cfg         *internal.Config
	matchmaker  *internal.Matchmaker
	engine      *internal.Engine
	presence    *internal.Presence
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := internal.NewMemoryStore()
	broadcaster := &recordingBroadcaster{}
	cfg := testConfig()
	log := testLogger()

	engine := internal.NewEngine(store, broadcaster, log, cfg)
	return &harness{
		store:       store,
		broadcaster: broadcaster,
		cfg:         cfg,
		matchmaker:  internal.NewMatchmaker(store, broadcaster, log, cfg),
		engine:      engine,
		presence:    internal.NewPresence(engine, store, broadcaster, log, cfg),
	}
}

// seedQuestions 填滿題目池：每個字母、每個難度各一題
func seedQuestions(t *testing.T, store *internal.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	for letter := 'A'; letter <= 'Z'; letter++ {
		for difficulty := internal.MinDifficulty; difficulty <= internal.MaxDifficulty; difficulty++ {
			q := &internal.Question{
				ID:         fmt.Sprintf("q-%c-%d", letter, difficulty),
				Text:       fmt.Sprintf("something with %c, level %d", letter, difficulty),
				Answer:     fmt.Sprintf("%c-answer-%d", letter, difficulty),
				Letter:     string(letter),
				Difficulty: difficulty,
				Points:     difficulty * 100,
			}
			require.NoError(t, store.SaveQuestion(ctx, q))
		}
	}
}

// matchedGame 建立一場 alice 對 bob 的進行中對局
func matchedGame(t *testing.T, h *harness) *internal.Game {
	t.Helper()
	ctx := context.Background()

	_, err := h.matchmaker.CreateGame(ctx, "alice")
	require.NoError(t, err)

	game, err := h.matchmaker.JoinRandom(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, internal.StatusInProgress, game.Status)
	return game
}
