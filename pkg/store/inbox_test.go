package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/model"
)

func TestMemoryInbox(t *testing.T) {
	ctx := context.Background()
	inbox := NewMemoryInbox()
	conv := model.Conversation{ID: "conv", MemberOneID: "a", MemberTwoID: "b"}
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, inbox.Touch(ctx, conv, "a", t0))
	require.NoError(t, inbox.Touch(ctx, conv, "a", t0.Add(time.Second)))

	forB, err := inbox.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, int64(2), forB[0].UnreadCount)
	assert.Equal(t, "a", forB[0].OtherMemberID)
	assert.Equal(t, t0.Add(time.Second), forB[0].LastUpdated)

	forA, err := inbox.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Zero(t, forA[0].UnreadCount, "authors do not get unread counts")

	require.NoError(t, inbox.MarkRead(ctx, "b", "conv"))
	forB, err = inbox.List(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, forB[0].UnreadCount)

	assert.ErrorIs(t, inbox.Touch(ctx, conv, "c", t0), model.ErrUnauthorized)
}

func TestMemoryInbox_NewestFirst(t *testing.T) {
	ctx := context.Background()
	inbox := NewMemoryInbox()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, inbox.Touch(ctx, model.Conversation{ID: "old", MemberOneID: "a", MemberTwoID: "b"}, "b", t0))
	require.NoError(t, inbox.Touch(ctx, model.Conversation{ID: "new", MemberOneID: "a", MemberTwoID: "c"}, "c", t0.Add(time.Hour)))

	entries, err := inbox.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].ConversationID)
	assert.Equal(t, "old", entries[1].ConversationID)
}
