package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/guildchat/pkg/model"
)

// MemoryMessages keeps each room's log sorted oldest first.
type MemoryMessages struct {
	mu    sync.RWMutex
	rooms map[string][]model.Message
	byID  map[model.MessageID]string
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{
		rooms: make(map[string][]model.Message),
		byID:  make(map[model.MessageID]string),
	}
}

func (s *MemoryMessages) Insert(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[msg.ID]; ok {
		// A retried write of the same message is an upsert, like Scylla's.
		if i, found := s.locate(msg.ID); found && sameWrite(s.rooms[s.byID[msg.ID]][i], msg) {
			return nil
		}
		return fmt.Errorf("message %s exists: %w", msg.ID, model.ErrConflict)
	}

	key := msg.Room.Key()
	log := s.rooms[key]
	i := sort.Search(len(log), func(i int) bool { return msg.Before(log[i]) })
	log = append(log, model.Message{})
	copy(log[i+1:], log[i:])
	log[i] = msg

	s.rooms[key] = log
	s.byID[msg.ID] = key
	return nil
}

func sameWrite(a, b model.Message) bool {
	return a.Room == b.Room && a.MemberID == b.MemberID && a.Content == b.Content &&
		a.FileURL == b.FileURL && a.CreatedAt.Equal(b.CreatedAt)
}

func (s *MemoryMessages) Update(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.locate(msg.ID)
	if !ok {
		return fmt.Errorf("message %s: %w", msg.ID, model.ErrNotFound)
	}
	key := s.byID[msg.ID]
	s.rooms[key][i] = msg
	return nil
}

func (s *MemoryMessages) Get(_ context.Context, id model.MessageID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.locate(id)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	msg := s.rooms[s.byID[id]][i]
	return &msg, nil
}

func (s *MemoryMessages) Range(_ context.Context, room model.Room, before *model.MessageID, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room.Key()]
	end := len(log)
	if before != nil {
		end = sort.Search(len(log), func(i int) bool { return log[i].ID >= *before })
	}

	out := make([]model.Message, 0, min(limit, end))
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

func (s *MemoryMessages) locate(id model.MessageID) (int, bool) {
	key, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	log := s.rooms[key]
	i := sort.Search(len(log), func(i int) bool { return log[i].ID >= id })
	return i, i < len(log) && log[i].ID == id
}

// MemoryDirectory is a DirectoryBackend for tests and single-node
// development.
type MemoryDirectory struct {
	mu            sync.RWMutex
	servers       map[string]model.Server
	invites       map[string]string
	channels      map[string]model.Channel
	members       map[string]model.Member
	byProfile     map[string]string // serverID/profileID -> member id
	conversations map[string]model.Conversation
	pairs         map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		servers:       make(map[string]model.Server),
		invites:       make(map[string]string),
		channels:      make(map[string]model.Channel),
		members:       make(map[string]model.Member),
		byProfile:     make(map[string]string),
		conversations: make(map[string]model.Conversation),
		pairs:         make(map[string]string),
	}
}

func profileKey(serverID, profileID string) string { return serverID + "/" + profileID }

func (d *MemoryDirectory) InsertServer(_ context.Context, srv model.Server, general model.Channel, owner model.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.servers[srv.ID]; ok {
		return fmt.Errorf("server %s exists: %w", srv.ID, model.ErrConflict)
	}
	d.servers[srv.ID] = srv
	d.invites[srv.InviteCode] = srv.ID
	d.channels[general.ID] = general
	d.members[owner.ID] = owner
	d.byProfile[profileKey(owner.ServerID, owner.ProfileID)] = owner.ID
	return nil
}

func (d *MemoryDirectory) Server(_ context.Context, id string) (*model.Server, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	srv, ok := d.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, model.ErrNotFound)
	}
	return &srv, nil
}

func (d *MemoryDirectory) ServerByInvite(ctx context.Context, code string) (*model.Server, error) {
	d.mu.RLock()
	id, ok := d.invites[code]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("invite %s: %w", code, model.ErrNotFound)
	}
	return d.Server(ctx, id)
}

func (d *MemoryDirectory) InsertChannel(_ context.Context, ch model.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.servers[ch.ServerID]; !ok {
		return fmt.Errorf("server %s: %w", ch.ServerID, model.ErrNotFound)
	}
	d.channels[ch.ID] = ch
	return nil
}

func (d *MemoryDirectory) Channel(_ context.Context, id string) (*model.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ch, ok := d.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, model.ErrNotFound)
	}
	return &ch, nil
}

func (d *MemoryDirectory) Channels(_ context.Context, serverID string) ([]model.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Channel
	for _, ch := range d.channels {
		if ch.ServerID == serverID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *MemoryDirectory) InsertMember(_ context.Context, m model.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := profileKey(m.ServerID, m.ProfileID)
	if _, ok := d.byProfile[key]; ok {
		return fmt.Errorf("profile %s already in server %s: %w", m.ProfileID, m.ServerID, model.ErrConflict)
	}
	d.members[m.ID] = m
	d.byProfile[key] = m.ID
	return nil
}

func (d *MemoryDirectory) DeleteMember(_ context.Context, m model.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.members, m.ID)
	delete(d.byProfile, profileKey(m.ServerID, m.ProfileID))
	return nil
}

func (d *MemoryDirectory) SetRole(_ context.Context, memberID string, role model.MemberRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[memberID]
	if !ok {
		return fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
	}
	m.Role = role
	d.members[memberID] = m
	return nil
}

func (d *MemoryDirectory) Member(_ context.Context, id string) (*model.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, model.ErrNotFound)
	}
	return &m, nil
}

func (d *MemoryDirectory) MemberByProfile(ctx context.Context, serverID, profileID string) (*model.Member, error) {
	d.mu.RLock()
	id, ok := d.byProfile[profileKey(serverID, profileID)]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("profile %s in server %s: %w", profileID, serverID, model.ErrNotFound)
	}
	return d.Member(ctx, id)
}

func (d *MemoryDirectory) Members(_ context.Context, serverID string) ([]model.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Member
	for _, m := range d.members {
		if m.ServerID == serverID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) PutConversation(_ context.Context, c model.Conversation) (*model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pair := model.PairKey(c.MemberOneID, c.MemberTwoID)
	if id, ok := d.pairs[pair]; ok {
		existing := d.conversations[id]
		return &existing, nil
	}
	d.pairs[pair] = c.ID
	d.conversations[c.ID] = c
	return &c, nil
}

func (d *MemoryDirectory) Conversation(_ context.Context, id string) (*model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
	}
	return &c, nil
}

// MemoryInbox is an Inbox held in process memory.
type MemoryInbox struct {
	mu      sync.Mutex
	entries map[string]map[string]model.InboxEntry
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{entries: make(map[string]map[string]model.InboxEntry)}
}

func (b *MemoryInbox) Touch(_ context.Context, conv model.Conversation, authorID string, at time.Time) error {
	if !conv.Has(authorID) {
		return fmt.Errorf("member %s not in conversation %s: %w", authorID, conv.ID, model.ErrUnauthorized)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, member := range []string{conv.MemberOneID, conv.MemberTwoID} {
		box, ok := b.entries[member]
		if !ok {
			box = make(map[string]model.InboxEntry)
			b.entries[member] = box
		}
		e := box[conv.ID]
		e.ConversationID = conv.ID
		e.OtherMemberID = conv.Other(member)
		if at.After(e.LastUpdated) {
			e.LastUpdated = at
		}
		if member != authorID {
			e.UnreadCount++
		}
		box[conv.ID] = e
	}
	return nil
}

func (b *MemoryInbox) List(_ context.Context, memberID string) ([]model.InboxEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.InboxEntry, 0, len(b.entries[memberID]))
	for _, e := range b.entries[memberID] {
		out = append(out, e)
	}
	sortInbox(out)
	return out, nil
}

func (b *MemoryInbox) MarkRead(_ context.Context, memberID, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[memberID][conversationID]; ok {
		e.UnreadCount = 0
		b.entries[memberID][conversationID] = e
	}
	return nil
}

func sortInbox(entries []model.InboxEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUpdated.After(entries[j].LastUpdated)
	})
}
