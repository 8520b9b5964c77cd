package internal

import (
	"time"
)

// 系統設計問題：
//   如何協調一場雙人即時字母問答對戰的完整生命週期？
//
// 核心挑戰：
//   1. 狀態管理：對局有明確的狀態轉換（NEW → IN_PROGRESS → FINISHED）
//   2. 並發控制：答題路徑與斷線通知路徑可能同時修改同一場對局
//   3. 配對競爭：兩位玩家可能同時搶同一個空位（需要 CAS 保護）
//   4. 歷史保留：對局永不刪除，結束後作為歷史記錄
//
// 設計方案：
//   ✅ 有限狀態機 - 規範對局狀態轉換
//   ✅ 樂觀鎖（Version）- 配對與寫入衝突檢測
//   ✅ 外鍵式引用 - Game 只持有玩家識別字串，透過 store 解析
//   ✅ Session token - 斷線事件反查對局的不透明綁定

// GameStatus 對局狀態
//
// 狀態轉換規則：
//   - NEW → IN_PROGRESS：第二位玩家加入
//   - IN_PROGRESS → FINISHED：字母走完 / 任一玩家斷線判負
//   - FINISHED 為終態，不再接受任何操作
type GameStatus string

const (
	StatusNew        GameStatus = "NEW"         // 等待第二位玩家
	StatusInProgress GameStatus = "IN_PROGRESS" // 對局進行中
	StatusFinished   GameStatus = "FINISHED"    // 對局結束
)

const (
	// FirstLetter 對局的起始字母
	FirstLetter = 'A'
	// LastLetter 對局的最後一個字母
	LastLetter = 'Z'
)

// Game 一場對局的聚合根
//
// 系統設計考量：
//
//  1. 外鍵式引用（設計重構）：
//     FirstUser / SecondUser / Winner 只存使用者名稱，
//     避免 Game 與 User 之間的循環引用，讀取時由 store 解析
//
//  2. Session 綁定：
//     兩個不透明 token 在開局與加入時由配對層產生，
//     斷線事件只帶 token，憑它反查尚未結束的對局
//
//  3. 樂觀鎖：
//     Version 隨每次儲存遞增，配對時的 check-and-set
//     憑版本檢查拒絕第二個並發加入者
type Game struct {
	ID                 string      `json:"id"`
	Status             GameStatus  `json:"status"`
	FirstUser          string      `json:"firstUser"`
	FirstUserPoints    int         `json:"firstUserPoints"`
	SecondUser         string      `json:"secondUser,omitempty"`
	SecondUserPoints   int         `json:"secondUserPoints"`
	FirstWrongGuesses  int         `json:"firstWrongGuesses"`
	SecondWrongGuesses int         `json:"secondWrongGuesses"`
	Winner             string      `json:"winner,omitempty"`
	CurriculumIDs      []string    `json:"curriculumIds"`
	CurrentQuestion    *Question   `json:"currentQuestion,omitempty"`
	CurrentLetter      string      `json:"currentLetter"`
	CurrentDice        int         `json:"currentDice"`
	FirstSessionToken  string      `json:"-"`
	SecondSessionToken string      `json:"-"`
	CreatedAt          time.Time   `json:"createdAt"`
	FinishedAt         *time.Time  `json:"finishedAt,omitempty"`
	Version            int64       `json:"-"`
}

// HasPlayer 檢查使用者是否為本局玩家
func (g *Game) HasPlayer(username string) bool {
	return username != "" && (g.FirstUser == username || g.SecondUser == username)
}

// Opponent 返回指定玩家的對手，不在局內時返回空字串
func (g *Game) Opponent(username string) string {
	switch username {
	case g.FirstUser:
		return g.SecondUser
	case g.SecondUser:
		return g.FirstUser
	default:
		return ""
	}
}

// IncrementWrongGuesses 增加指定玩家當前字母的錯誤猜測次數
//
// 無效或不在局內的玩家為 no-op（防禦性預設，不視為錯誤）
func (g *Game) IncrementWrongGuesses(username string) {
	switch username {
	case "":
		return
	case g.FirstUser:
		g.FirstWrongGuesses++
	case g.SecondUser:
		g.SecondWrongGuesses++
	}
}

// ResetWrongGuesses 歸零兩位玩家的錯誤猜測計數
//
// 只在字母指針前進時呼叫（不變量：計數歸零 ⇔ 字母前進）
func (g *Game) ResetWrongGuesses() {
	g.FirstWrongGuesses = 0
	g.SecondWrongGuesses = 0
}

// WrongGuesses 返回以玩家角色為鍵的計數快照
func (g *Game) WrongGuesses() map[string]int {
	return map[string]int{
		"firstUser":  g.FirstWrongGuesses,
		"secondUser": g.SecondWrongGuesses,
	}
}

// finish 將對局標記為結束
func (g *Game) finish(winner string, now time.Time) {
	g.Status = StatusFinished
	g.Winner = winner
	g.FinishedAt = &now
}

// User 玩家帳號
//
// Score 是跨對局的累計積分：對局結束時雙方各自的
// 回合得分併入，斷線判負時留存玩家獲得固定加分
type User struct {
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// GameStateUpdate 對局進度廣播的負載
//
// StartTimestamp 是可選的同步倒數起點（Unix 毫秒），
// 配對成功時雙方客戶端以它對齊開場倒數
type GameStateUpdate struct {
	Game           *Game  `json:"game"`
	StartTimestamp *int64 `json:"startTimestamp,omitempty"`
}

// DisconnectUpdate 斷線判負廣播的負載
type DisconnectUpdate struct {
	Type               string `json:"type"`
	Game               *Game  `json:"game"`
	DisconnectedPlayer string `json:"disconnectedPlayer"`
}
