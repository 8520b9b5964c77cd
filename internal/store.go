package internal

import (
	"context"
)

// 實體儲存契約
//
// 核心演算法對儲存的依賴只到這層介面為止（get / find / save），
// 外加兩個特化查詢：「最舊的開放對局」與「憑 session token 反查對局」。
// 生產環境使用 PostgreSQL 實作，測試使用記憶體實作。
//
// 所有方法都接受 context：呼叫方一律以有界逾時呼叫，
// 逾時或連線失敗以 SERVICE_UNAVAILABLE 錯誤碼浮出。

// UserStore 玩家帳號儲存
type UserStore interface {
	// GetUser 取得玩家，不存在時返回 NOT_FOUND
	GetUser(ctx context.Context, username string) (*User, error)

	// SaveUser 新增或更新玩家
	SaveUser(ctx context.Context, user *User) error

	// TopUsers 依累計積分由高到低返回前 limit 位玩家
	TopUsers(ctx context.Context, limit int) ([]User, error)
}

// QuestionStore 題庫儲存
type QuestionStore interface {
	// AllQuestions 返回完整題目池（課程表建立時使用）
	AllQuestions(ctx context.Context) ([]Question, error)

	// QuestionsByIDs 依 ID 批次取題（課程表回合內過濾時使用）
	QuestionsByIDs(ctx context.Context, ids []string) ([]Question, error)

	// SaveQuestion 新增題目
	SaveQuestion(ctx context.Context, question *Question) error
}

// GameStore 對局儲存
type GameStore interface {
	// GetGame 取得對局，不存在時返回 NOT_FOUND
	GetGame(ctx context.Context, id string) (*Game, error)

	// SaveGame 以樂觀鎖寫入對局
	//
	// Version 為 0 視為新建；否則僅在儲存中的版本與
	// 傳入版本一致時寫入並遞增，不一致時返回版本衝突
	// （INVALID_STATE）。配對的 check-and-set 正是建立
	// 在這個契約上。
	SaveGame(ctx context.Context, game *Game) (*Game, error)

	// FindOldestOpen 返回最舊的、缺第二位玩家的 NEW 對局，
	// 沒有時返回 NOT_FOUND
	FindOldestOpen(ctx context.Context) (*Game, error)

	// FindBySessionToken 憑連線 session token 反查對局，
	// 查無時返回 NOT_FOUND
	FindBySessionToken(ctx context.Context, token string) (*Game, error)

	// GamesByUser 返回玩家已結束的歷史對局（新到舊）
	GamesByUser(ctx context.Context, username string) ([]Game, error)
}

// Store 聚合儲存介面（依賴注入時的單一把手）
type Store interface {
	UserStore
	QuestionStore
	GameStore
}
