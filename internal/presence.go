package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// Presence 在線狀態與斷線判負
//
// 系統設計問題：玩家中途斷線，留下來的人怎麼辦？
//
// 核心挑戰：
//  1. 斷線偵測 - WebSocket 關閉是唯一訊號，沒有告別訊息可等
//  2. 判負只做一次 - 重複的關閉事件（讀寫迴圈各觸發一次）
//     不能重複加分
//  3. 斷線者收不到錯誤 - 處理過程的失敗無處回報，
//     記日誌後吞掉，不能讓清理流程炸掉連線回收
//
// 設計方案：
//   - session token 是連線與對局之間唯一的繫結憑證，
//     反查對局後把勝利與固定加分判給留下來的玩家
//   - 與答題共用對局分段鎖，判負與進行中的操作互斥；
//     已結束的對局直接跳過，天然冪等
type Presence struct {
	engine          *Engine
	store           Store
	broadcaster     Broadcaster
	logger          *slog.Logger
	disconnectBonus int
	storeTimeout    time.Duration

	mu       sync.RWMutex
	sessions map[string]string // session token -> username
}

// NewPresence 創建在線狀態服務
func NewPresence(engine *Engine, store Store, broadcaster Broadcaster, logger *slog.Logger, cfg *Config) *Presence {
	return &Presence{
		engine:          engine,
		store:           store,
		broadcaster:     broadcaster,
		logger:          logger,
		disconnectBonus: cfg.Game.DisconnectBonus,
		storeTimeout:    cfg.Game.StoreTimeout,
		sessions:        make(map[string]string),
	}
}

// Track 登記連線的 session 與玩家
func (p *Presence) Track(sessionToken, username string) {
	p.mu.Lock()
	p.sessions[sessionToken] = username
	p.mu.Unlock()
}

// Username 查詢 session 對應的玩家
func (p *Presence) Username(sessionToken string) (string, bool) {
	p.mu.RLock()
	username, ok := p.sessions[sessionToken]
	p.mu.RUnlock()
	return username, ok
}

// HandleDisconnect 處理連線中斷
//
// 斷線的 session 若繫結在進行中的對局上，留下來的玩家
// 立即獲勝並取得固定的累計積分加分。所有失敗只記日誌：
// 斷線者已經不在了，沒有人能收到這個錯誤。
func (p *Presence) HandleDisconnect(ctx context.Context, sessionToken string) {
	p.mu.Lock()
	delete(p.sessions, sessionToken)
	p.mu.Unlock()

	if sessionToken == "" {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	game, err := p.store.FindBySessionToken(storeCtx, sessionToken)
	if apperrors.IsNotFound(err) {
		return
	}
	if err != nil {
		p.logger.Error("disconnect: lookup game failed", slog.Any("error", err))
		return
	}

	mu := p.engine.lockFor(game.ID)
	mu.Lock()
	defer mu.Unlock()

	// 鎖內重讀，避免吃到鎖前的舊狀態
	game, err = p.store.GetGame(storeCtx, game.ID)
	if err != nil {
		p.logger.Error("disconnect: reload game failed", slog.Any("error", err))
		return
	}
	if game.Status != StatusInProgress {
		return
	}

	disconnected := game.FirstUser
	remaining := game.SecondUser
	if sessionToken == game.SecondSessionToken {
		disconnected = game.SecondUser
		remaining = game.FirstUser
	}

	game.finish(remaining, time.Now())

	saved, err := p.store.SaveGame(storeCtx, game)
	if err != nil {
		p.logger.Error("disconnect: save game failed",
			slog.String("game_id", game.ID),
			slog.Any("error", err))
		return
	}

	p.creditBonus(storeCtx, remaining)

	p.broadcaster.Publish(ctx, TopicDisconnected(saved.ID), DisconnectUpdate{
		Type:               "PLAYER_DISCONNECTED",
		Game:               saved,
		DisconnectedPlayer: disconnected,
	})

	p.logger.Info("game forfeited on disconnect",
		slog.String("game_id", saved.ID),
		slog.String("disconnected", disconnected),
		slog.String("winner", remaining))
}

// creditBonus 把斷線判負的固定加分記給留存玩家
func (p *Presence) creditBonus(ctx context.Context, username string) {
	user, err := p.store.GetUser(ctx, username)
	if err != nil {
		p.logger.Error("disconnect: load winner failed",
			slog.String("username", username),
			slog.Any("error", err))
		return
	}
	user.Score += p.disconnectBonus
	if err := p.store.SaveUser(ctx, user); err != nil {
		p.logger.Error("disconnect: credit winner failed",
			slog.String("username", username),
			slog.Any("error", err))
	}
}
