package internal

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// MemoryStore 記憶體實體儲存
//
// 系統設計考量：
//   - 單機開發與測試使用，契約與 PostgresStore 完全一致
//   - 讀寫鎖保護三張表，Get/Save 一律深拷貝避免呼叫方
//     與儲存共享可變狀態
//   - SaveGame 在鎖內做版本比對，提供真正的 check-and-set
//     語義（兩個並發加入者恰有一個成功）
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]User
	questions map[string]Question
	games     map[string]Game
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		questions: make(map[string]Question),
		games:     make(map[string]Game),
	}
}

// GetUser 取得玩家
func (s *MemoryStore) GetUser(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, apperrors.ErrUserNotFound.WithDetails(username)
	}
	return &user, nil
}

// SaveUser 新增或更新玩家
func (s *MemoryStore) SaveUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.Username] = *user
	return nil
}

// TopUsers 依累計積分排序返回前 limit 位玩家
func (s *MemoryStore) TopUsers(ctx context.Context, limit int) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].Score != users[j].Score {
			return users[i].Score > users[j].Score
		}
		return users[i].Username < users[j].Username
	})

	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// AllQuestions 返回完整題目池
func (s *MemoryStore) AllQuestions(ctx context.Context) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions := make([]Question, 0, len(s.questions))
	for _, q := range s.questions {
		questions = append(questions, q)
	}
	return questions, nil
}

// QuestionsByIDs 依 ID 批次取題（未知 ID 直接跳過）
func (s *MemoryStore) QuestionsByIDs(ctx context.Context, ids []string) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, exists := s.questions[id]; exists {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// SaveQuestion 新增題目
func (s *MemoryStore) SaveQuestion(ctx context.Context, question *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.questions[question.ID] = *question
	return nil
}

// GetGame 取得對局
func (s *MemoryStore) GetGame(ctx context.Context, id string) (*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game, exists := s.games[id]
	if !exists {
		return nil, apperrors.ErrGameNotFound.WithDetails(id)
	}
	return copyGame(game), nil
}

// SaveGame 以樂觀鎖寫入對局
func (s *MemoryStore) SaveGame(ctx context.Context, game *Game) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.games[game.ID]

	if game.Version == 0 {
		if exists {
			return nil, apperrors.ErrVersionConflict.WithDetails(game.ID)
		}
	} else {
		if !exists {
			return nil, apperrors.ErrGameNotFound.WithDetails(game.ID)
		}
		if stored.Version != game.Version {
			return nil, apperrors.ErrVersionConflict.WithDetails(game.ID)
		}
	}

	saved := *copyGame(*game)
	saved.Version = game.Version + 1
	s.games[game.ID] = saved

	return copyGame(saved), nil
}

// FindOldestOpen 返回最舊的開放對局
func (s *MemoryStore) FindOldestOpen(ctx context.Context) (*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *Game
	for id := range s.games {
		game := s.games[id]
		if game.Status != StatusNew || game.SecondUser != "" {
			continue
		}
		if oldest == nil || game.CreatedAt.Before(oldest.CreatedAt) {
			oldest = copyGame(game)
		}
	}

	if oldest == nil {
		return nil, apperrors.ErrGameNotFound.WithDetails("no open game")
	}
	return oldest, nil
}

// FindBySessionToken 憑 session token 反查對局
func (s *MemoryStore) FindBySessionToken(ctx context.Context, token string) (*Game, error) {
	if token == "" {
		return nil, apperrors.ErrGameNotFound.WithDetails("empty session token")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.games {
		game := s.games[id]
		if game.FirstSessionToken == token || game.SecondSessionToken == token {
			return copyGame(game), nil
		}
	}
	return nil, apperrors.ErrGameNotFound.WithDetails("no game for session")
}

// GamesByUser 返回玩家已結束的歷史對局
func (s *MemoryStore) GamesByUser(ctx context.Context, username string) ([]Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var games []Game
	for id := range s.games {
		game := s.games[id]
		if game.Status == StatusFinished && game.HasPlayer(username) {
			games = append(games, *copyGame(game))
		}
	}

	sort.Slice(games, func(i, j int) bool {
		return games[i].CreatedAt.After(games[j].CreatedAt)
	})
	return games, nil
}

// copyGame 深拷貝對局（切片與指標欄位都複製）
func copyGame(g Game) *Game {
	copied := g
	if g.CurriculumIDs != nil {
		copied.CurriculumIDs = append([]string(nil), g.CurriculumIDs...)
	}
	if g.CurrentQuestion != nil {
		question := *g.CurrentQuestion
		copied.CurrentQuestion = &question
	}
	if g.FinishedAt != nil {
		finished := *g.FinishedAt
		copied.FinishedAt = &finished
	}
	return &copied
}
