package pagination

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/store"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() int64 { return s.n.Add(1) }

type everyone struct{}

func (everyone) CheckParticipant(context.Context, model.Room, string) error { return nil }

func seeded(t *testing.T, room model.Room, n int) *Service {
	t.Helper()
	msgs := store.NewMessages(store.NewMemoryMessages(), everyone{}, &seqIDs{})
	for i := 0; i < n; i++ {
		_, err := msgs.Append(context.Background(), room, "m1", fmt.Sprintf("message %d", i+1), "")
		require.NoError(t, err)
	}
	return NewService(msgs, zerolog.Nop())
}

func TestFetch_EmptyRoom(t *testing.T) {
	svc := seeded(t, model.ChannelRoom("c1"), 0)

	page, err := svc.Fetch(context.Background(), model.ChannelRoom("c1"), "")
	require.NoError(t, err)
	assert.NotNil(t, page.Items, "items encode as [] not null")
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}

func TestFetch_ElevenMessages(t *testing.T) {
	room := model.ChannelRoom("c1")
	svc := seeded(t, room, 11)
	ctx := context.Background()

	first, err := svc.Fetch(ctx, room, "")
	require.NoError(t, err)
	require.Len(t, first.Items, PageSize)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, "message 11", first.Items[0].Content)
	assert.Equal(t, first.Items[PageSize-1].ID.String(), *first.NextCursor)

	second, err := svc.Fetch(ctx, room, *first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "message 1", second.Items[0].Content)
	assert.Nil(t, second.NextCursor)
}

func TestFetch_ExactBoundary(t *testing.T) {
	room := model.ConversationRoom("dm")
	svc := seeded(t, room, PageSize)
	ctx := context.Background()

	first, err := svc.Fetch(ctx, room, "")
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor, "full page signals more even when none remain")

	probe, err := svc.Fetch(ctx, room, *first.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, probe.Items)
	assert.Nil(t, probe.NextCursor)
}

func TestFetch_InvalidCursor(t *testing.T) {
	svc := seeded(t, model.ChannelRoom("c1"), 1)

	_, err := svc.Fetch(context.Background(), model.ChannelRoom("c1"), "not-an-id")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFetch_UnknownCursorStillOrders(t *testing.T) {
	room := model.ChannelRoom("c1")
	svc := seeded(t, room, 5)

	// A cursor need not name an existing message; it marks a position.
	page, err := svc.Fetch(context.Background(), room, "4")
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, model.MessageID(3), page.Items[0].ID)
}
