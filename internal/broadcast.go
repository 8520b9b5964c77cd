package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// 廣播主題，依對局分流
//
// 訂閱端用 TopicGameAll 的萬用字元一次收齊整場對局的事件
func TopicProgress(gameID string) string     { return "game." + gameID + ".progress" }
func TopicDice(gameID string) string         { return "game." + gameID + ".dice" }
func TopicWrongGuess(gameID string) string   { return "game." + gameID + ".wrong-guess" }
func TopicDisconnected(gameID string) string { return "game." + gameID + ".disconnected" }
func TopicChat(gameID string) string         { return "game." + gameID + ".chat" }
func TopicGameAll(gameID string) string      { return "game." + gameID + ".>" }

// Broadcaster 對局事件匯流排
//
// Publish 為射後不理：廣播失敗只記日誌，
// 對局狀態已落庫，不因通知失敗回滾
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload any)
	Subscribe(topic string, handler func(topic string, data []byte)) (unsubscribe func(), err error)
}

// NATSBroadcaster 以 NATS 為底的匯流排
//
// 多實例部署時，任一實例發佈的對局事件都能送達
// 連在其他實例上的 WebSocket 客戶端
type NATSBroadcaster struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSBroadcaster 創建 NATS 匯流排
func NewNATSBroadcaster(conn *nats.Conn, logger *slog.Logger) *NATSBroadcaster {
	return &NATSBroadcaster{conn: conn, logger: logger}
}

// Publish 發佈事件
func (b *NATSBroadcaster) Publish(_ context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("broadcast marshal failed",
			slog.String("topic", topic),
			slog.Any("error", err))
		return
	}
	if err := b.conn.Publish(topic, data); err != nil {
		b.logger.Error("broadcast publish failed",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
}

// Subscribe 訂閱主題，支援 NATS 萬用字元
func (b *NATSBroadcaster) Subscribe(topic string, handler func(topic string, data []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed",
				slog.String("topic", topic),
				slog.Any("error", err))
		}
	}, nil
}

// LocalBroadcaster 行程內匯流排
//
// 單機部署與測試用，同步派送給符合主題的訂閱者；
// 只支援本專案用到的 ".>" 後綴萬用字元
type LocalBroadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]localSub
	logger *slog.Logger
}

type localSub struct {
	pattern string
	handler func(topic string, data []byte)
}

// NewLocalBroadcaster 創建行程內匯流排
func NewLocalBroadcaster(logger *slog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		subs:   make(map[int]localSub),
		logger: logger,
	}
}

// Publish 發佈事件
func (b *LocalBroadcaster) Publish(_ context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("broadcast marshal failed",
			slog.String("topic", topic),
			slog.Any("error", err))
		return
	}

	b.mu.RLock()
	handlers := make([]func(string, []byte), 0, len(b.subs))
	for _, sub := range b.subs {
		if topicMatches(sub.pattern, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(topic, data)
	}
}

// Subscribe 訂閱主題
func (b *LocalBroadcaster) Subscribe(topic string, handler func(topic string, data []byte)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = localSub{pattern: topic, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// topicMatches 主題比對：精確相符，或 ".>" 後綴的前綴相符
func topicMatches(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ".>"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}
