package internal

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// ChatMessage 對局聊天訊息
type ChatMessage struct {
	GameID   string    `json:"gameId"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

// BadWordFilter 聊天髒話遮罩
//
// 不擋訊息、只遮字：命中的詞以等長星號替換，
// 比對不分大小寫
type BadWordFilter struct {
	words []string
}

// NewBadWordFilter 創建髒話遮罩
func NewBadWordFilter(words []string) *BadWordFilter {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			normalized = append(normalized, w)
		}
	}
	return &BadWordFilter{words: normalized}
}

// Mask 遮蔽訊息中的髒話
//
// 比對以 rune 為單位：大小寫轉換會改變部分字元的位元組長度
// （如 İ、Ⱥ），位元組索引在原文和小寫副本之間對不上
func (f *BadWordFilter) Mask(message string) string {
	runes := []rune(message)
	for _, word := range f.words {
		target := []rune(word)
		if len(target) == 0 || len(target) > len(runes) {
			continue
		}
		for i := 0; i+len(target) <= len(runes); i++ {
			if !foldMatch(runes[i:i+len(target)], target) {
				continue
			}
			for j := i; j < i+len(target); j++ {
				runes[j] = '*'
			}
			i += len(target) - 1
		}
	}
	return string(runes)
}

// foldMatch 不分大小寫比對一段 rune 視窗與已小寫化的目標詞
func foldMatch(window, target []rune) bool {
	for i, r := range target {
		if unicode.ToLower(window[i]) != r {
			return false
		}
	}
	return true
}

// ChatService 對局內聊天
//
// 訊息不落庫，遮罩後直接廣播給對局兩端
type ChatService struct {
	store        Store
	broadcaster  Broadcaster
	filter       *BadWordFilter
	logger       *slog.Logger
	storeTimeout time.Duration
}

// NewChatService 創建聊天服務
func NewChatService(store Store, broadcaster Broadcaster, filter *BadWordFilter, logger *slog.Logger, cfg *Config) *ChatService {
	return &ChatService{
		store:        store,
		broadcaster:  broadcaster,
		filter:       filter,
		logger:       logger,
		storeTimeout: cfg.Game.StoreTimeout,
	}
}

// SendMessage 驗證發話者並廣播遮罩後的訊息
func (c *ChatService) SendMessage(ctx context.Context, gameID, username, message string) error {
	if strings.TrimSpace(message) == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "message is empty")
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	game, err := c.store.GetGame(storeCtx, gameID)
	if err != nil {
		return err
	}
	if !game.HasPlayer(username) {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "player is not in this game")
	}

	c.broadcaster.Publish(ctx, TopicChat(gameID), ChatMessage{
		GameID:   gameID,
		Username: username,
		Message:  c.filter.Mask(message),
		SentAt:   time.Now(),
	})
	return nil
}
