package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/model"
)

// counterIDs generates strictly increasing ids without a wall clock.
type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) Generate() int64 { return c.n.Add(1) }

// allowAll admits every member except those listed as outsiders.
type allowAll struct{ outsiders map[string]bool }

func (a allowAll) CheckParticipant(_ context.Context, _ model.Room, memberID string) error {
	if a.outsiders[memberID] {
		return model.ErrUnauthorized
	}
	return nil
}

func newTestMessages() (*Messages, *MemoryMessages) {
	backend := NewMemoryMessages()
	return NewMessages(backend, allowAll{outsiders: map[string]bool{"intruder": true}}, &counterIDs{}), backend
}

func appendN(t *testing.T, s *Messages, room model.Room, n int) []model.Message {
	t.Helper()
	out := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := s.Append(context.Background(), room, "m1", fmt.Sprintf("msg %d", i), "")
		require.NoError(t, err)
		out = append(out, *msg)
	}
	return out
}

func TestMessages_Append(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()
	room := model.ChannelRoom("c1")

	msg, err := s.Append(ctx, room, "m1", "  hello ", "")
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, room, msg.Room)
	assert.Equal(t, "m1", msg.MemberID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, msg.CreatedAt, msg.UpdatedAt)

	got, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, *msg, *got)
}

func TestMessages_InsertSameDraftTwice(t *testing.T) {
	s, backend := newTestMessages()
	ctx := context.Background()
	room := model.ChannelRoom("c1")

	draft, err := s.Draft(room, "m1", "hello", "")
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, draft))
	require.NoError(t, s.Insert(ctx, draft))

	items, _, err := s.Page(ctx, room, nil, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	other := draft
	other.Content = "different"
	assert.ErrorIs(t, backend.Insert(ctx, other), model.ErrConflict)

	intruder := draft
	intruder.MemberID = "intruder"
	assert.ErrorIs(t, s.Insert(ctx, intruder), model.ErrUnauthorized)
}

func TestMessages_AppendAttachmentOnly(t *testing.T) {
	s, _ := newTestMessages()

	msg, err := s.Append(context.Background(), model.ChannelRoom("c1"), "m1", "", "https://files/x.png")
	require.NoError(t, err)
	assert.Equal(t, "https://files/x.png", msg.FileURL)
}

func TestMessages_AppendRejects(t *testing.T) {
	tests := []struct {
		name    string
		room    model.Room
		member  string
		content string
		want    error
	}{
		{"no content or attachment", model.ChannelRoom("c1"), "m1", "   ", model.ErrValidation},
		{"missing room", model.Room{Kind: model.RoomChannel}, "m1", "hi", model.ErrValidation},
		{"non member", model.ChannelRoom("c1"), "intruder", "hi", model.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, backend := newTestMessages()
			_, err := s.Append(context.Background(), tt.room, tt.member, tt.content, "")
			assert.ErrorIs(t, err, tt.want)

			items, err := backend.Range(context.Background(), model.ChannelRoom("c1"), nil, 10)
			require.NoError(t, err)
			assert.Empty(t, items, "nothing may be persisted")
		})
	}
}

func TestMessages_MarkUpdated(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()
	room := model.ConversationRoom("conv")

	orig, err := s.Append(ctx, room, "m1", "first", "https://files/a")
	require.NoError(t, err)

	later := orig.CreatedAt.Add(time.Minute)
	s.now = func() time.Time { return later }

	edited, err := s.MarkUpdated(ctx, orig.ID, Change{Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Content)
	assert.Equal(t, orig.ID, edited.ID)
	assert.Equal(t, orig.Room, edited.Room)
	assert.Equal(t, orig.MemberID, edited.MemberID)
	assert.Equal(t, orig.CreatedAt, edited.CreatedAt)
	assert.Equal(t, later.UTC(), edited.UpdatedAt)

	deleted, err := s.MarkUpdated(ctx, orig.ID, Change{Tombstone: true})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, model.DeletedContent, deleted.Content)
	assert.Empty(t, deleted.FileURL)

	_, err = s.MarkUpdated(ctx, orig.ID, Change{Content: "again"})
	assert.ErrorIs(t, err, model.ErrValidation, "deleted messages cannot be edited")

	items, _, err := s.Page(ctx, room, nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1, "tombstone keeps its position")
	assert.Equal(t, orig.ID, items[0].ID)
}

func TestMessages_MarkUpdatedNotFound(t *testing.T) {
	s, _ := newTestMessages()
	_, err := s.MarkUpdated(context.Background(), 999, Change{Content: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMessages_PageIdempotent(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()
	room := model.ChannelRoom("c1")
	appendN(t, s, room, 15)

	first, next1, err := s.Page(ctx, room, nil, 10)
	require.NoError(t, err)
	second, next2, err := s.Page(ctx, room, nil, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, next1, next2)
}

func TestMessages_PageCompleteness(t *testing.T) {
	for _, total := range []int{0, 1, 9, 10, 11, 25, 30} {
		t.Run(fmt.Sprintf("%d messages", total), func(t *testing.T) {
			s, _ := newTestMessages()
			ctx := context.Background()
			room := model.ChannelRoom("c1")
			written := appendN(t, s, room, total)

			var (
				walked []model.Message
				cursor *model.MessageID
				pages  int
			)
			for {
				items, next, err := s.Page(ctx, room, cursor, 10)
				require.NoError(t, err)
				require.LessOrEqual(t, len(items), 10)
				walked = append(walked, items...)
				pages++
				if next == nil {
					break
				}
				cursor = next
			}

			require.Len(t, walked, total)
			for i, msg := range walked {
				assert.Equal(t, written[total-1-i].ID, msg.ID, "newest first, no gaps")
			}
			if total > 0 && total%10 == 0 {
				assert.Equal(t, total/10+1, pages, "exact multiple ends with an empty probe page")
			}
		})
	}
}

func TestMessages_PageElevenMessages(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()
	room := model.ChannelRoom("c1")
	written := appendN(t, s, room, 11)

	first, next, err := s.Page(ctx, room, nil, 10)
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.NotNil(t, next)
	assert.Equal(t, written[10].ID, first[0].ID)
	assert.Equal(t, first[9].ID, *next)

	rest, next, err := s.Page(ctx, room, next, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, written[0].ID, rest[0].ID)
	assert.Nil(t, next)
}

func TestMessages_PageIsolatesRooms(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()
	appendN(t, s, model.ChannelRoom("c1"), 3)
	appendN(t, s, model.ConversationRoom("c1"), 2)

	items, _, err := s.Page(ctx, model.ConversationRoom("c1"), nil, 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMessages_PageInvalidLimit(t *testing.T) {
	s, _ := newTestMessages()
	_, _, err := s.Page(context.Background(), model.ChannelRoom("c1"), nil, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestMessages_ConcurrentAppendsAcrossRooms(t *testing.T) {
	s, _ := newTestMessages()
	ctx := context.Background()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		room := model.ChannelRoom(fmt.Sprintf("room-%d", r))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Append(ctx, room, "m1", "x", "")
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	for r := 0; r < 4; r++ {
		items, _, err := s.Page(ctx, model.ChannelRoom(fmt.Sprintf("room-%d", r)), nil, 100)
		require.NoError(t, err)
		require.Len(t, items, 50)
		for i := 1; i < len(items); i++ {
			assert.Greater(t, items[i-1].ID, items[i].ID)
		}
	}
}

type failingBackend struct {
	*MemoryMessages
	failures int
}

func (f *failingBackend) Insert(ctx context.Context, msg model.Message) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("insert: %w", model.ErrTransient)
	}
	return f.MemoryMessages.Insert(ctx, msg)
}

func TestMessages_BackendErrorsPropagate(t *testing.T) {
	s := NewMessages(&failingBackend{MemoryMessages: NewMemoryMessages(), failures: 1}, allowAll{}, &counterIDs{})

	_, err := s.Append(context.Background(), model.ChannelRoom("c1"), "m1", "x", "")
	assert.True(t, errors.Is(err, model.ErrTransient))
}
