package internal

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// Engine 對局引擎
//
// 系統設計問題：兩位玩家對同一場對局併發答題，狀態如何不壞？
//
// 核心挑戰：
//  1. 同場串行 - 同一場對局的答題、骰子、猜錯必須逐一處理，
//     不同對局之間則要能並行
//  2. 答錯保持原狀 - 錯誤答案不能動到任何狀態，玩家可以一直重試
//  3. 終局結算 - 走完 Z 之後要定勝負、記累計積分，且只能結算一次
//
// 設計方案：
//   - 分段鎖（striped lock）：以對局 ID 雜湊到固定數量的互斥鎖，
//     同場串行、異場並行，鎖的數量不隨對局數成長
//   - 鎖內讀改寫，儲存層的樂觀鎖作為跨實例部署時的第二道防線
//   - 廣播為射後不理：通知失敗只記日誌，不回滾對局狀態
type Engine struct {
	store        Store
	broadcaster  Broadcaster
	logger       *slog.Logger
	storeTimeout time.Duration

	locks [lockStripes]sync.Mutex
}

const lockStripes = 64

// NewEngine 創建對局引擎
func NewEngine(store Store, broadcaster Broadcaster, logger *slog.Logger, cfg *Config) *Engine {
	return &Engine{
		store:        store,
		broadcaster:  broadcaster,
		logger:       logger,
		storeTimeout: cfg.Game.StoreTimeout,
	}
}

// lockFor 以對局 ID 雜湊取得分段鎖
func (e *Engine) lockFor(gameID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(gameID))
	return &e.locks[h.Sum32()%lockStripes]
}

// GetGame 取得對局現況
func (e *Engine) GetGame(ctx context.Context, gameID string) (*Game, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.GetGame(storeCtx, gameID)
}

// SubmitAnswer 處理玩家答題
//
// 答錯：回傳 WRONG_ANSWER，對局狀態原封不動，玩家可重試。
// 答對：加分、推進字母；未到 Z 就重擲骰子換下一題，
// 走完 Z 則結束對局、定勝負並記入勝者的累計積分。
func (e *Engine) SubmitAnswer(ctx context.Context, gameID, username, answer string) (*Game, error) {
	mu := e.lockFor(gameID)
	mu.Lock()
	defer mu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	game, err := e.loadInProgress(storeCtx, gameID, username)
	if err != nil {
		return nil, err
	}
	if game.CurrentQuestion == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "no question in play")
	}

	if !game.CurrentQuestion.MatchesAnswer(answer) {
		return nil, apperrors.ErrWrongAnswer
	}

	points := game.CurrentQuestion.Points
	if username == game.FirstUser {
		game.FirstUserPoints += points
	} else {
		game.SecondUserPoints += points
	}

	next := rune(game.CurrentLetter[0]) + 1
	if next <= LastLetter {
		curriculum, err := e.loadCurriculum(storeCtx, game)
		if err != nil {
			return nil, err
		}
		game.CurrentLetter = string(next)
		game.CurrentDice = RollDice()
		game.CurrentQuestion = SelectQuestion(next, game.CurrentDice, curriculum)
		game.ResetWrongGuesses()
	} else {
		// 平手判首位玩家獲勝
		winner := game.FirstUser
		if game.SecondUserPoints > game.FirstUserPoints {
			winner = game.SecondUser
		}
		game.finish(winner, time.Now())
		e.creditScore(storeCtx, game.FirstUser, game.FirstUserPoints)
		e.creditScore(storeCtx, game.SecondUser, game.SecondUserPoints)
	}

	saved, err := e.store.SaveGame(storeCtx, game)
	if err != nil {
		return nil, err
	}

	topic := TopicDice(saved.ID)
	if saved.Status == StatusFinished {
		topic = TopicProgress(saved.ID)
	}
	e.broadcaster.Publish(ctx, topic, GameStateUpdate{Game: saved})

	e.logger.Info("answer accepted",
		slog.String("game_id", saved.ID),
		slog.String("username", username),
		slog.String("letter", saved.CurrentLetter),
		slog.String("status", string(saved.Status)))
	return saved, nil
}

// RecordWrongGuess 記錄一次猜錯並通知對手
//
// 猜錯不影響進度，只累計次數讓前端呈現對手的掙扎。
// 空白或不在局內的識別不報錯：原樣回傳未變的計數
func (e *Engine) RecordWrongGuess(ctx context.Context, gameID, username string) (*Game, error) {
	mu := e.lockFor(gameID)
	mu.Lock()
	defer mu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	game, err := e.loadActive(storeCtx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.HasPlayer(username) {
		return game, nil
	}

	game.IncrementWrongGuesses(username)

	saved, err := e.store.SaveGame(storeCtx, game)
	if err != nil {
		return nil, err
	}

	// 猜錯事件只帶角色對次數的小地圖，不帶整份對局快照
	e.broadcaster.Publish(ctx, TopicWrongGuess(saved.ID), saved.WrongGuesses())
	return saved, nil
}

// RollQuestion 為當前字母重擲骰子換題
//
// 課程表某個難度缺題時（SelectQuestion 回傳 nil），
// 玩家可再擲一次骰子換難度解套
func (e *Engine) RollQuestion(ctx context.Context, gameID, username string) (*Game, error) {
	mu := e.lockFor(gameID)
	mu.Lock()
	defer mu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	game, err := e.loadInProgress(storeCtx, gameID, username)
	if err != nil {
		return nil, err
	}

	curriculum, err := e.loadCurriculum(storeCtx, game)
	if err != nil {
		return nil, err
	}

	game.CurrentDice = RollDice()
	game.CurrentQuestion = SelectQuestion(rune(game.CurrentLetter[0]), game.CurrentDice, curriculum)

	saved, err := e.store.SaveGame(storeCtx, game)
	if err != nil {
		return nil, err
	}

	e.broadcaster.Publish(ctx, TopicDice(saved.ID), GameStateUpdate{Game: saved})
	return saved, nil
}

// GameHistory 返回玩家已結束的對局
func (e *Engine) GameHistory(ctx context.Context, username string) ([]Game, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.GamesByUser(storeCtx, username)
}

// Leaderboard 返回累計積分排行
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.TopUsers(storeCtx, limit)
}

// loadActive 載入尚可操作的對局
func (e *Engine) loadActive(ctx context.Context, gameID string) (*Game, error) {
	game, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status == StatusFinished {
		return nil, apperrors.ErrGameFinished.WithDetails(gameID)
	}
	if game.Status != StatusInProgress {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "game has not started")
	}
	return game, nil
}

// loadInProgress 載入對局並驗證操作者是局內玩家
func (e *Engine) loadInProgress(ctx context.Context, gameID, username string) (*Game, error) {
	game, err := e.loadActive(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.HasPlayer(username) {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "player is not in this game")
	}
	return game, nil
}

// loadCurriculum 解析對局課程表
func (e *Engine) loadCurriculum(ctx context.Context, game *Game) ([]Question, error) {
	curriculum, err := e.store.QuestionsByIDs(ctx, game.CurriculumIDs)
	if err != nil {
		return nil, err
	}
	if len(curriculum) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "game has no curriculum")
	}
	return curriculum, nil
}

// creditScore 把勝者的對局得分記入累計積分
//
// 結算失敗不該讓答題請求整個失敗，記日誌後放行
func (e *Engine) creditScore(ctx context.Context, username string, points int) {
	user, err := e.store.GetUser(ctx, username)
	if err != nil {
		e.logger.Error("credit score: load user failed",
			slog.String("username", username),
			slog.Any("error", err))
		return
	}
	user.Score += points
	if err := e.store.SaveUser(ctx, user); err != nil {
		e.logger.Error("credit score: save user failed",
			slog.String("username", username),
			slog.Any("error", err))
	}
}
