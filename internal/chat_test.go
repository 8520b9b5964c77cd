package internal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
)

// TestBadWordFilter_Mask 測試髒話遮罩
func TestBadWordFilter_Mask(t *testing.T) {
	filter := internal.NewBadWordFilter([]string{"darn", "heck"})

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "clean message untouched", message: "good game", want: "good game"},
		{name: "single hit masked", message: "darn it", want: "**** it"},
		{name: "case insensitive hit", message: "DaRn it", want: "**** it"},
		{name: "multiple hits", message: "darn this heck", want: "**** this ****"},
		{name: "repeated word", message: "darn darn", want: "**** ****"},
		{name: "hit inside a word", message: "darnation", want: "****ation"},
		{name: "empty message", message: "", want: ""},
		// 小寫化會變長的字元（U+023A → U+2C65）不能讓索引錯位
		{name: "byte-widening runes before a hit", message: "ȺȺȺȺ darn", want: "ȺȺȺȺ ****"},
		// 小寫化會變短的字元（U+0130 → i）同樣不能吃掉後面的命中
		{name: "byte-narrowing runes before a hit", message: "İİİİ darn", want: "İİİİ ****"},
		{name: "multibyte text stays valid utf-8", message: "你好 darn 你好", want: "你好 **** 你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Mask(tt.message))
		})
	}
}

// TestChatService_SendMessage 測試對局聊天
func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	newChat := func(h *harness) *internal.ChatService {
		return internal.NewChatService(
			h.store,
			h.broadcaster,
			internal.NewBadWordFilter([]string{"darn"}),
			testLogger(),
			h.cfg,
		)
	}

	t.Run("masked message is broadcast on the chat topic", func(t *testing.T) {
		h := newHarness(t)
		seedQuestions(t, h.store)
		game := matchedGame(t, h)
		chat := newChat(h)

		require.NoError(t, chat.SendMessage(ctx, game.ID, "alice", "darn you bob"))

		last, ok := h.broadcaster.lastEvent()
		require.True(t, ok)
		assert.Equal(t, internal.TopicChat(game.ID), last.topic)

		msg, ok := last.payload.(internal.ChatMessage)
		require.True(t, ok)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "**** you bob", msg.Message)
	})

	t.Run("outsider cannot chat into the game", func(t *testing.T) {
		h := newHarness(t)
		seedQuestions(t, h.store)
		game := matchedGame(t, h)

		err := newChat(h).SendMessage(ctx, game.ID, "mallory", "hello")
		require.Error(t, err)
	})

	t.Run("blank message is rejected", func(t *testing.T) {
		h := newHarness(t)
		seedQuestions(t, h.store)
		game := matchedGame(t, h)

		err := newChat(h).SendMessage(ctx, game.ID, "alice", "   ")
		require.Error(t, err)
	})

	t.Run("unknown game", func(t *testing.T) {
		h := newHarness(t)
		err := newChat(h).SendMessage(ctx, "no-such-game", "alice", "hello")
		require.Error(t, err)
	})
}
