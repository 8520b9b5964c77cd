package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// Matchmaker 配對服務
//
// 系統設計問題：兩位陌生玩家如何湊成一場對局？
//
// 核心挑戰：
//  1. 競爭加入 - 多人同時搶同一場開放對局，只能有一人成功
//  2. 明確的失敗語意 - 沒有開放對局回 NOT_FOUND，
//     由呼叫方決定是否改為自行開局等待
//  3. 倒數同步 - 兩端必須拿到同一個開賽時間戳
//
// 設計方案：
//   - 加入走儲存層的樂觀鎖：搶輸的人拿到版本衝突，
//     有界重試一次改搶下一場，仍搶不到才回報狀態錯誤
//   - 開賽時間戳 = 配對成功當下 + 倒數延遲，隨狀態廣播出去，
//     兩端各自對照本地時鐘倒數
type Matchmaker struct {
	store          Store
	broadcaster    Broadcaster
	logger         *slog.Logger
	countdownDelay time.Duration
	storeTimeout   time.Duration
}

// NewMatchmaker 創建配對服務
func NewMatchmaker(store Store, broadcaster Broadcaster, logger *slog.Logger, cfg *Config) *Matchmaker {
	return &Matchmaker{
		store:          store,
		broadcaster:    broadcaster,
		logger:         logger,
		countdownDelay: cfg.Game.CountdownDelay,
		storeTimeout:   cfg.Game.StoreTimeout,
	}
}

// CreateGame 開一場新對局並等待對手
//
// 課程表在此刻一次性定案：每個字母、每個難度各抽一題，
// 之後整場對局只會從這份課程表出題
func (m *Matchmaker) CreateGame(ctx context.Context, username string) (*Game, error) {
	if username == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "username is required")
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	if err := m.ensureUser(storeCtx, username); err != nil {
		return nil, err
	}

	pool, err := m.store.AllQuestions(storeCtx)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "question pool is empty")
	}

	curriculum := BuildCurriculum(pool)
	curriculumIDs := make([]string, len(curriculum))
	for i, q := range curriculum {
		curriculumIDs[i] = q.ID
	}

	dice := RollDice()
	game := &Game{
		ID:                uuid.NewString(),
		Status:            StatusNew,
		FirstUser:         username,
		CurriculumIDs:     curriculumIDs,
		CurrentQuestion:   SelectQuestion(FirstLetter, dice, curriculum),
		CurrentLetter:     string(FirstLetter),
		CurrentDice:       dice,
		FirstSessionToken: uuid.NewString(),
		CreatedAt:         time.Now(),
	}

	saved, err := m.store.SaveGame(storeCtx, game)
	if err != nil {
		return nil, err
	}

	m.logger.Info("game created",
		slog.String("game_id", saved.ID),
		slog.String("first_user", username))
	return saved, nil
}

// JoinRandom 加入最舊的開放對局
//
// 沒有開放對局回 NOT_FOUND，呼叫方想等人可以自己走 CreateGame；
// 搶局失敗（版本衝突）換下一場重試一次，兩次都搶輸回 INVALID_STATE
func (m *Matchmaker) JoinRandom(ctx context.Context, username string) (*Game, error) {
	if username == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "username is required")
	}

	for attempt := 0; attempt < 2; attempt++ {
		storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
		open, err := m.store.FindOldestOpen(storeCtx)
		cancel()

		if apperrors.IsNotFound(err) {
			return nil, apperrors.ErrGameNotFound.WithDetails("no open game to join")
		}
		if err != nil {
			return nil, err
		}

		joined, err := m.attach(ctx, open, username)
		if errors.Is(err, apperrors.ErrVersionConflict) {
			m.logger.Debug("join race lost, retrying",
				slog.String("game_id", open.ID),
				slog.Int("attempt", attempt))
			continue
		}
		return joined, err
	}

	return nil, apperrors.ErrGameFull.WithDetails("join retries exhausted")
}

// JoinByInvite 憑對局 ID 加入指定對局
func (m *Matchmaker) JoinByInvite(ctx context.Context, gameID, username string) (*Game, error) {
	if username == "" || gameID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "game id and username are required")
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	game, err := m.store.GetGame(storeCtx, gameID)
	cancel()
	if err != nil {
		return nil, err
	}

	return m.attach(ctx, game, username)
}

// attach 把第二位玩家掛進開放對局並廣播開賽倒數
func (m *Matchmaker) attach(ctx context.Context, game *Game, username string) (*Game, error) {
	if game.Status != StatusNew || game.SecondUser != "" {
		return nil, apperrors.ErrGameFull.WithDetails(game.ID)
	}
	if game.FirstUser == username {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "cannot join own game")
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	if err := m.ensureUser(storeCtx, username); err != nil {
		return nil, err
	}

	game.SecondUser = username
	game.SecondSessionToken = uuid.NewString()
	game.Status = StatusInProgress

	saved, err := m.store.SaveGame(storeCtx, game)
	if err != nil {
		return nil, err
	}

	startAt := time.Now().Add(m.countdownDelay).UnixMilli()
	m.broadcaster.Publish(ctx, TopicProgress(saved.ID), GameStateUpdate{
		Game:           saved,
		StartTimestamp: &startAt,
	})

	m.logger.Info("game matched",
		slog.String("game_id", saved.ID),
		slog.String("first_user", saved.FirstUser),
		slog.String("second_user", saved.SecondUser))
	return saved, nil
}

// ensureUser 玩家不存在時以零分建檔
func (m *Matchmaker) ensureUser(ctx context.Context, username string) error {
	_, err := m.store.GetUser(ctx, username)
	if apperrors.IsNotFound(err) {
		return m.store.SaveUser(ctx, &User{Username: username, CreatedAt: time.Now()})
	}
	return err
}
