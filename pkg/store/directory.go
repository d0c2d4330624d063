package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/guildchat/pkg/model"
)

// Directory applies the community rules (who may create channels, change
// roles, leave) on top of a DirectoryBackend.
type Directory struct {
	backend DirectoryBackend
	now     func() time.Time
	newID   func() string
}

func NewDirectory(backend DirectoryBackend) *Directory {
	return &Directory{
		backend: backend,
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// CreateServer creates a server owned by profileID together with its
// "general" text channel and an ADMIN membership for the owner.
func (d *Directory) CreateServer(ctx context.Context, profileID, name, imageURL string) (*model.Server, error) {
	name = strings.TrimSpace(name)
	if profileID == "" {
		return nil, model.ErrUnauthorized
	}
	if name == "" {
		return nil, fmt.Errorf("server name required: %w", model.ErrValidation)
	}

	now := d.now().UTC()
	srv := model.Server{
		ID:         d.newID(),
		ProfileID:  profileID,
		Name:       name,
		ImageURL:   imageURL,
		InviteCode: uuid.NewString(),
		CreatedAt:  now,
	}
	general := model.Channel{
		ID:        d.newID(),
		ServerID:  srv.ID,
		ProfileID: profileID,
		Name:      model.GeneralChannel,
		Type:      model.ChannelText,
		CreatedAt: now,
	}
	owner := model.Member{
		ID:        d.newID(),
		ServerID:  srv.ID,
		ProfileID: profileID,
		Role:      model.RoleAdmin,
		CreatedAt: now,
	}

	if err := d.backend.InsertServer(ctx, srv, general, owner); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (d *Directory) Server(ctx context.Context, id string) (*model.Server, error) {
	return d.backend.Server(ctx, id)
}

// JoinByInvite adds profileID to the server as a GUEST. Joining a server the
// profile already belongs to returns the existing membership.
func (d *Directory) JoinByInvite(ctx context.Context, profileID, code string) (*model.Server, *model.Member, error) {
	if code == "" {
		return nil, nil, fmt.Errorf("invite code required: %w", model.ErrValidation)
	}
	srv, err := d.backend.ServerByInvite(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	if existing, err := d.backend.MemberByProfile(ctx, srv.ID, profileID); err == nil {
		return srv, existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}

	m := model.Member{
		ID:        d.newID(),
		ServerID:  srv.ID,
		ProfileID: profileID,
		Role:      model.RoleGuest,
		CreatedAt: d.now().UTC(),
	}
	if err := d.backend.InsertMember(ctx, m); err != nil {
		if errors.Is(err, model.ErrConflict) {
			existing, err := d.backend.MemberByProfile(ctx, srv.ID, profileID)
			return srv, existing, err
		}
		return nil, nil, err
	}
	return srv, &m, nil
}

// LeaveServer removes profileID's membership. The owner cannot leave.
func (d *Directory) LeaveServer(ctx context.Context, profileID, serverID string) error {
	srv, err := d.backend.Server(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.ProfileID == profileID {
		return fmt.Errorf("owner cannot leave server: %w", model.ErrForbidden)
	}
	m, err := d.backend.MemberByProfile(ctx, serverID, profileID)
	if err != nil {
		return err
	}
	return d.backend.DeleteMember(ctx, *m)
}

// CreateChannel requires an ADMIN or MODERATOR membership.
func (d *Directory) CreateChannel(ctx context.Context, profileID, serverID, name string, typ model.ChannelType) (*model.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("channel name required: %w", model.ErrValidation)
	}
	if name == model.GeneralChannel {
		return nil, fmt.Errorf("name cannot be %q: %w", model.GeneralChannel, model.ErrValidation)
	}
	if typ == "" {
		typ = model.ChannelText
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown channel type %q: %w", typ, model.ErrValidation)
	}

	m, err := d.memberOf(ctx, serverID, profileID)
	if err != nil {
		return nil, err
	}
	if !m.Role.AtLeast(model.RoleModerator) {
		return nil, fmt.Errorf("role %s cannot create channels: %w", m.Role, model.ErrForbidden)
	}

	ch := model.Channel{
		ID:        d.newID(),
		ServerID:  serverID,
		ProfileID: profileID,
		Name:      name,
		Type:      typ,
		CreatedAt: d.now().UTC(),
	}
	if err := d.backend.InsertChannel(ctx, ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (d *Directory) Channel(ctx context.Context, id string) (*model.Channel, error) {
	return d.backend.Channel(ctx, id)
}

// Channels lists a server's channels oldest first.
func (d *Directory) Channels(ctx context.Context, serverID string) ([]model.Channel, error) {
	channels, err := d.backend.Channels(ctx, serverID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(channels, func(i, j int) bool {
		if !channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].CreatedAt.Before(channels[j].CreatedAt)
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func (d *Directory) Member(ctx context.Context, id string) (*model.Member, error) {
	return d.backend.Member(ctx, id)
}

func (d *Directory) MemberByProfile(ctx context.Context, serverID, profileID string) (*model.Member, error) {
	return d.backend.MemberByProfile(ctx, serverID, profileID)
}

// Members lists a server's members ordered by role, then join time.
func (d *Directory) Members(ctx context.Context, serverID string) ([]model.Member, error) {
	members, err := d.backend.Members(ctx, serverID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Role.Rank() != members[j].Role.Rank() {
			return members[i].Role.Rank() < members[j].Role.Rank()
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	return members, nil
}

// UpdateRole changes another member's role. Only the server owner may do
// this, and never on their own membership.
func (d *Directory) UpdateRole(ctx context.Context, profileID, serverID, memberID string, role model.MemberRole) (*model.Member, error) {
	if _, err := model.ParseRole(string(role)); err != nil {
		return nil, err
	}
	srv, err := d.backend.Server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.ProfileID != profileID {
		return nil, fmt.Errorf("only the owner changes roles: %w", model.ErrForbidden)
	}
	target, err := d.backend.Member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if target.ServerID != serverID {
		return nil, fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
	}
	if target.ProfileID == profileID {
		return nil, fmt.Errorf("cannot change own role: %w", model.ErrForbidden)
	}

	if err := d.backend.SetRole(ctx, memberID, role); err != nil {
		return nil, err
	}
	target.Role = role
	return target, nil
}

// GetOrCreateConversation returns the conversation between two members of
// the same server, creating it on first use. Argument order does not matter.
func (d *Directory) GetOrCreateConversation(ctx context.Context, memberOneID, memberTwoID string) (*model.Conversation, error) {
	if memberOneID == "" || memberTwoID == "" {
		return nil, fmt.Errorf("two members required: %w", model.ErrValidation)
	}
	if memberOneID == memberTwoID {
		return nil, fmt.Errorf("conversation needs two distinct members: %w", model.ErrValidation)
	}
	one, err := d.backend.Member(ctx, memberOneID)
	if err != nil {
		return nil, err
	}
	two, err := d.backend.Member(ctx, memberTwoID)
	if err != nil {
		return nil, err
	}
	if one.ServerID != two.ServerID {
		return nil, fmt.Errorf("members belong to different servers: %w", model.ErrValidation)
	}

	return d.backend.PutConversation(ctx, model.Conversation{
		ID:          d.newID(),
		MemberOneID: memberOneID,
		MemberTwoID: memberTwoID,
		CreatedAt:   d.now().UTC(),
	})
}

func (d *Directory) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	return d.backend.Conversation(ctx, id)
}

// Participant resolves the member through which profileID takes part in
// room. It fails with model.ErrUnauthorized when the profile is not a
// member of the channel's server or a participant of the conversation.
func (d *Directory) Participant(ctx context.Context, room model.Room, profileID string) (*model.Member, error) {
	if profileID == "" {
		return nil, model.ErrUnauthorized
	}
	switch room.Kind {
	case model.RoomChannel:
		ch, err := d.backend.Channel(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		return d.memberOf(ctx, ch.ServerID, profileID)
	case model.RoomConversation:
		conv, err := d.backend.Conversation(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range []string{conv.MemberOneID, conv.MemberTwoID} {
			m, err := d.backend.Member(ctx, id)
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if m.ProfileID == profileID {
				return m, nil
			}
		}
		return nil, fmt.Errorf("not a participant of %s: %w", room, model.ErrUnauthorized)
	}
	return nil, room.Validate()
}

// CheckParticipant verifies that memberID currently belongs to room.
func (d *Directory) CheckParticipant(ctx context.Context, room model.Room, memberID string) error {
	if memberID == "" {
		return model.ErrUnauthorized
	}
	m, err := d.backend.Member(ctx, memberID)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("member %s removed: %w", memberID, model.ErrUnauthorized)
	}
	if err != nil {
		return err
	}

	switch room.Kind {
	case model.RoomChannel:
		ch, err := d.backend.Channel(ctx, room.ID)
		if err != nil {
			return err
		}
		if ch.ServerID != m.ServerID {
			return fmt.Errorf("member %s not in server %s: %w", memberID, ch.ServerID, model.ErrUnauthorized)
		}
		return nil
	case model.RoomConversation:
		conv, err := d.backend.Conversation(ctx, room.ID)
		if err != nil {
			return err
		}
		if !conv.Has(memberID) {
			return fmt.Errorf("member %s not in %s: %w", memberID, room, model.ErrUnauthorized)
		}
		return nil
	}
	return room.Validate()
}

// CanJoin reports whether profileID may subscribe to room's live events.
func (d *Directory) CanJoin(ctx context.Context, profileID string, room model.Room) error {
	_, err := d.Participant(ctx, room, profileID)
	return err
}

func (d *Directory) memberOf(ctx context.Context, serverID, profileID string) (*model.Member, error) {
	m, err := d.backend.MemberByProfile(ctx, serverID, profileID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("not a member of server %s: %w", serverID, model.ErrUnauthorized)
	}
	return m, err
}
