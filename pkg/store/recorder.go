package store

import (
	"context"

	"github.com/mahaj/guildchat/pkg/model"
)

type ConversationLookup interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
}

// InboxRecorder feeds created direct messages into an Inbox. It is an
// event sink: Publish ignores everything but conversation messages.
type InboxRecorder struct {
	conversations ConversationLookup
	inbox         Inbox
}

func NewInboxRecorder(conversations ConversationLookup, inbox Inbox) *InboxRecorder {
	return &InboxRecorder{conversations: conversations, inbox: inbox}
}

func (r *InboxRecorder) Publish(ctx context.Context, ev model.Event) error {
	if ev.Kind != model.EventCreated || ev.Room().Kind != model.RoomConversation {
		return nil
	}
	conv, err := r.conversations.Conversation(ctx, ev.Room().ID)
	if err != nil {
		return err
	}
	return r.inbox.Touch(ctx, *conv, ev.Message.MemberID, ev.Message.CreatedAt)
}
