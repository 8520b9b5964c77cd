package internal_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
)

// TestLocalBroadcaster 測試行程內匯流排
func TestLocalBroadcaster(t *testing.T) {
	ctx := context.Background()

	t.Run("exact topic delivery", func(t *testing.T) {
		bus := internal.NewLocalBroadcaster(testLogger())

		var got []string
		unsubscribe, err := bus.Subscribe(internal.TopicDice("g1"), func(topic string, data []byte) {
			got = append(got, topic)
		})
		require.NoError(t, err)
		defer unsubscribe()

		bus.Publish(ctx, internal.TopicDice("g1"), map[string]string{"k": "v"})
		bus.Publish(ctx, internal.TopicDice("g2"), map[string]string{"k": "v"})

		assert.Equal(t, []string{internal.TopicDice("g1")}, got)
	})

	t.Run("wildcard subscription catches all game events", func(t *testing.T) {
		bus := internal.NewLocalBroadcaster(testLogger())

		var got []string
		unsubscribe, err := bus.Subscribe(internal.TopicGameAll("g1"), func(topic string, data []byte) {
			got = append(got, topic)
		})
		require.NoError(t, err)
		defer unsubscribe()

		bus.Publish(ctx, internal.TopicProgress("g1"), struct{}{})
		bus.Publish(ctx, internal.TopicChat("g1"), struct{}{})
		bus.Publish(ctx, internal.TopicProgress("g2"), struct{}{})

		assert.Equal(t, []string{
			internal.TopicProgress("g1"),
			internal.TopicChat("g1"),
		}, got)
	})

	t.Run("payload arrives as JSON", func(t *testing.T) {
		bus := internal.NewLocalBroadcaster(testLogger())

		var payload map[string]int
		_, err := bus.Subscribe(internal.TopicDice("g1"), func(_ string, data []byte) {
			require.NoError(t, json.Unmarshal(data, &payload))
		})
		require.NoError(t, err)

		bus.Publish(ctx, internal.TopicDice("g1"), map[string]int{"dice": 4})
		assert.Equal(t, map[string]int{"dice": 4}, payload)
	})

	t.Run("unsubscribed handler stops receiving", func(t *testing.T) {
		bus := internal.NewLocalBroadcaster(testLogger())

		received := 0
		unsubscribe, err := bus.Subscribe(internal.TopicDice("g1"), func(string, []byte) {
			received++
		})
		require.NoError(t, err)

		bus.Publish(ctx, internal.TopicDice("g1"), struct{}{})
		unsubscribe()
		bus.Publish(ctx, internal.TopicDice("g1"), struct{}{})

		assert.Equal(t, 1, received)
	})
}
