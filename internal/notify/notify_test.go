package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewestFirst(t *testing.T) {
	ring := NewRing(2)
	ctx := context.Background()
	ring.Notify(ctx, New(LevelInfo, "pause", "1", "first"))
	ring.Notify(ctx, New(LevelError, "stop", "1", "second"))
	ring.Notify(ctx, New(LevelSuccess, "resume", "1", "third"))

	recent := ring.Recent(0)
	require.Len(t, recent, 2)
	require.Equal(t, "third", recent[0].Message)
	require.Equal(t, "second", recent[1].Message)
	require.Len(t, ring.Recent(1), 1)
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	var got []string
	record := Func(func(_ context.Context, n Notification) { got = append(got, n.Message) })

	Multi{record, nil, record}.Notify(context.Background(), New(LevelWarning, "transmit_now", "42", "select a connection first"))
	require.Equal(t, []string{"select a connection first", "select a connection first"}, got)
}

func TestNewStampsIdentity(t *testing.T) {
	a := New(LevelInfo, "", "", "a")
	b := New(LevelInfo, "", "", "b")
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.False(t, a.CreatedAt.IsZero())
}
