package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/guildchat/pkg/model"
)

// Participants decides whether a member may write to a room.
type Participants interface {
	CheckParticipant(ctx context.Context, room model.Room, memberID string) error
}

// Change describes an edit or a delete of an existing message.
type Change struct {
	Content   string
	Tombstone bool
}

// Messages is the message log: validation, membership and id assignment in
// front of a MessageBackend.
type Messages struct {
	backend MessageBackend
	access  Participants
	ids     IDGenerator
	now     func() time.Time
}

func NewMessages(backend MessageBackend, access Participants, ids IDGenerator) *Messages {
	return &Messages{backend: backend, access: access, ids: ids, now: time.Now}
}

// Append persists a new message. Nothing is written when the author is not a
// participant of room or when both content and attachment are empty.
func (s *Messages) Append(ctx context.Context, room model.Room, memberID, content, fileURL string) (*model.Message, error) {
	msg, err := s.Draft(room, memberID, content, fileURL)
	if err != nil {
		return nil, err
	}
	if err := s.Insert(ctx, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Draft validates a new message and assigns its id and timestamps without
// writing it. Inserting the same draft again is a no-op, so callers retry
// Insert with one draft rather than calling Append twice.
func (s *Messages) Draft(room model.Room, memberID, content, fileURL string) (model.Message, error) {
	if err := room.Validate(); err != nil {
		return model.Message{}, err
	}
	content = strings.TrimSpace(content)
	fileURL = strings.TrimSpace(fileURL)
	if content == "" && fileURL == "" {
		return model.Message{}, fmt.Errorf("content or attachment required: %w", model.ErrValidation)
	}

	now := s.now().UTC()
	return model.Message{
		ID:        model.MessageID(s.ids.Generate()),
		Room:      room,
		MemberID:  memberID,
		Content:   content,
		FileURL:   fileURL,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Insert writes a draft after checking that its author belongs to the room.
func (s *Messages) Insert(ctx context.Context, msg model.Message) error {
	if err := s.access.CheckParticipant(ctx, msg.Room, msg.MemberID); err != nil {
		return err
	}
	return s.backend.Insert(ctx, msg)
}

func (s *Messages) Get(ctx context.Context, id model.MessageID) (*model.Message, error) {
	return s.backend.Get(ctx, id)
}

// MarkUpdated applies change to an existing message, keeping its id, room,
// author and creation time. Last write wins.
func (s *Messages) MarkUpdated(ctx context.Context, id model.MessageID, change Change) (*model.Message, error) {
	msg, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case change.Tombstone:
		msg.Content = model.DeletedContent
		msg.FileURL = ""
		msg.Deleted = true
	case msg.Deleted:
		return nil, fmt.Errorf("message %s is deleted: %w", id, model.ErrValidation)
	default:
		content := strings.TrimSpace(change.Content)
		if content == "" {
			return nil, fmt.Errorf("content required: %w", model.ErrValidation)
		}
		msg.Content = content
	}

	msg.UpdatedAt = s.now().UTC()
	if msg.UpdatedAt.Before(msg.CreatedAt) {
		msg.UpdatedAt = msg.CreatedAt
	}
	if err := s.backend.Update(ctx, *msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Page returns up to limit messages newest first. The next cursor is set
// when the page is full, so an exact multiple of limit yields one trailing
// empty page.
func (s *Messages) Page(ctx context.Context, room model.Room, before *model.MessageID, limit int) ([]model.Message, *model.MessageID, error) {
	if err := room.Validate(); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		return nil, nil, fmt.Errorf("limit must be positive: %w", model.ErrValidation)
	}

	items, err := s.backend.Range(ctx, room, before, limit)
	if err != nil {
		return nil, nil, err
	}

	var next *model.MessageID
	if len(items) == limit {
		last := items[len(items)-1].ID
		next = &last
	}
	return items, next, nil
}
