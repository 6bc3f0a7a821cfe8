package shared

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
)

func TestFeedPublishesInRegistrationOrder(t *testing.T) {
	var feed Feed[int]
	var order []string
	feed.Subscribe(func(v int) { order = append(order, "a") })
	unsubscribe := feed.Subscribe(func(v int) { order = append(order, "b") })
	feed.Subscribe(func(v int) { order = append(order, "c") })

	feed.Publish(1)
	require.Equal(t, []string{"a", "b", "c"}, order)

	unsubscribe()
	unsubscribe()
	order = nil
	feed.Publish(2)
	require.Equal(t, []string{"a", "c"}, order)
	require.Equal(t, 2, feed.Len())
}

func TestStatusFeedEmitsOnlyOnChange(t *testing.T) {
	var sf StatusFeed
	var seen []schema.ConnectivityStatus
	sf.Subscribe(func(s schema.ConnectivityStatus) { seen = append(seen, s) })

	require.False(t, sf.Set(schema.Disconnected))
	require.True(t, sf.Set(schema.Connected))
	require.False(t, sf.Set(schema.Connected))
	require.True(t, sf.Set(schema.Disconnected))

	require.Equal(t, []schema.ConnectivityStatus{schema.Disconnected, schema.Connected, schema.Disconnected}, seen)
}

func TestStatusFeedReplaysCurrentStatus(t *testing.T) {
	var sf StatusFeed
	sf.Set(schema.Connected)

	var first schema.ConnectivityStatus = -1
	sf.Subscribe(func(s schema.ConnectivityStatus) {
		if first == -1 {
			first = s
		}
	})
	require.Equal(t, schema.Connected, first)
}
