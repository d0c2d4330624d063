// Package store persists message logs, the server directory and the direct
// message inbox. Each concern has a backend interface with an in-memory and
// a Scylla implementation; the rules shared by both live in this package.
package store

import (
	"context"
	"time"

	"github.com/mahaj/guildchat/pkg/model"
)

// IDGenerator hands out time-ordered message ids.
type IDGenerator interface {
	Generate() int64
}

// MessageBackend is the durable message log.
type MessageBackend interface {
	Insert(ctx context.Context, msg model.Message) error
	Update(ctx context.Context, msg model.Message) error
	Get(ctx context.Context, id model.MessageID) (*model.Message, error)
	// Range returns up to limit messages of room newest first, strictly
	// older than before when before is non-nil.
	Range(ctx context.Context, room model.Room, before *model.MessageID, limit int) ([]model.Message, error)
}

// DirectoryBackend stores servers, channels, members and conversations.
// Lookups return model.ErrNotFound for missing rows.
type DirectoryBackend interface {
	InsertServer(ctx context.Context, srv model.Server, general model.Channel, owner model.Member) error
	Server(ctx context.Context, id string) (*model.Server, error)
	ServerByInvite(ctx context.Context, code string) (*model.Server, error)

	InsertChannel(ctx context.Context, ch model.Channel) error
	Channel(ctx context.Context, id string) (*model.Channel, error)
	Channels(ctx context.Context, serverID string) ([]model.Channel, error)

	// InsertMember fails with model.ErrConflict when the profile already
	// belongs to the server.
	InsertMember(ctx context.Context, m model.Member) error
	DeleteMember(ctx context.Context, m model.Member) error
	SetRole(ctx context.Context, memberID string, role model.MemberRole) error
	Member(ctx context.Context, id string) (*model.Member, error)
	MemberByProfile(ctx context.Context, serverID, profileID string) (*model.Member, error)
	Members(ctx context.Context, serverID string) ([]model.Member, error)

	// PutConversation stores c unless its member pair already has a
	// conversation, and returns whichever one is stored.
	PutConversation(ctx context.Context, c model.Conversation) (*model.Conversation, error)
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
}

// Inbox tracks per-member direct message activity and unread counts.
type Inbox interface {
	// Touch records a message by authorID in conv: both participants see
	// the activity, the other participant gains an unread message.
	Touch(ctx context.Context, conv model.Conversation, authorID string, at time.Time) error
	List(ctx context.Context, memberID string) ([]model.InboxEntry, error)
	MarkRead(ctx context.Context, memberID, conversationID string) error
}
