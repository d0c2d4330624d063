package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/guildchat/pkg/db"
	"github.com/mahaj/guildchat/pkg/model"
)

// scyllaErr maps driver errors onto the domain taxonomy.
func scyllaErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, model.ErrTransient, err)
}

// ScyllaMessages stores each room as one partition clustered by id DESC,
// plus an id -> room lookup for edits.
type ScyllaMessages struct {
	db *db.Session
}

func NewScyllaMessages(session *db.Session) *ScyllaMessages {
	return &ScyllaMessages{db: session}
}

const messageColumns = "room_key, id, member_id, content, file_url, deleted, created_at, updated_at"

func (s *ScyllaMessages) Insert(ctx context.Context, msg model.Message) error {
	b := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Room.Key(), int64(msg.ID), msg.MemberID, msg.Content, msg.FileURL, msg.Deleted, msg.CreatedAt, msg.UpdatedAt)
	b.Query(`INSERT INTO messages_by_id (id, room_key) VALUES (?, ?)`, int64(msg.ID), msg.Room.Key())
	return scyllaErr("insert message", s.db.ExecuteBatch(b))
}

func (s *ScyllaMessages) Update(ctx context.Context, msg model.Message) error {
	err := s.db.Query(`UPDATE messages SET content = ?, file_url = ?, deleted = ?, updated_at = ? WHERE room_key = ? AND id = ?`,
		msg.Content, msg.FileURL, msg.Deleted, msg.UpdatedAt, msg.Room.Key(), int64(msg.ID)).
		WithContext(ctx).Exec()
	return scyllaErr("update message", err)
}

func (s *ScyllaMessages) Get(ctx context.Context, id model.MessageID) (*model.Message, error) {
	var roomKey string
	if err := s.db.Query(`SELECT room_key FROM messages_by_id WHERE id = ?`, int64(id)).
		WithContext(ctx).Scan(&roomKey); err != nil {
		return nil, scyllaErr("lookup message "+id.String(), err)
	}

	iter := s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE room_key = ? AND id = ?`, roomKey, int64(id)).
		WithContext(ctx).Iter()
	msgs, err := scanMessages(iter)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return &msgs[0], nil
}

func (s *ScyllaMessages) Range(ctx context.Context, room model.Room, before *model.MessageID, limit int) ([]model.Message, error) {
	var q *gocql.Query
	if before != nil {
		q = s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE room_key = ? AND id < ? LIMIT ?`,
			room.Key(), int64(*before), limit)
	} else {
		q = s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE room_key = ? LIMIT ?`,
			room.Key(), limit)
	}
	return scanMessages(q.WithContext(ctx).Iter())
}

func scanMessages(iter *gocql.Iter) ([]model.Message, error) {
	var (
		out      []model.Message
		roomKey  string
		id       int64
		memberID string
		content  string
		fileURL  string
		deleted  bool
		created  time.Time
		updated  time.Time
	)
	for iter.Scan(&roomKey, &id, &memberID, &content, &fileURL, &deleted, &created, &updated) {
		room, err := model.ParseRoom(roomKey)
		if err != nil {
			continue
		}
		out = append(out, model.Message{
			ID:        model.MessageID(id),
			Room:      room,
			MemberID:  memberID,
			Content:   content,
			FileURL:   fileURL,
			Deleted:   deleted,
			CreatedAt: created.UTC(),
			UpdatedAt: updated.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, scyllaErr("scan messages", err)
	}
	return out, nil
}

// ScyllaDirectory keeps the directory in wide-column tables, with secondary
// lookup tables maintained in logged batches.
type ScyllaDirectory struct {
	db *db.Session
}

func NewScyllaDirectory(session *db.Session) *ScyllaDirectory {
	return &ScyllaDirectory{db: session}
}

func (d *ScyllaDirectory) InsertServer(ctx context.Context, srv model.Server, general model.Channel, owner model.Member) error {
	b := d.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO servers (id, profile_id, name, image_url, invite_code, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.ProfileID, srv.Name, srv.ImageURL, srv.InviteCode, srv.CreatedAt)
	b.Query(`INSERT INTO servers_by_invite (invite_code, server_id) VALUES (?, ?)`, srv.InviteCode, srv.ID)
	addChannel(b, general)
	addMember(b, owner)
	return scyllaErr("insert server", d.db.ExecuteBatch(b))
}

func addChannel(b *gocql.Batch, ch model.Channel) {
	b.Query(`INSERT INTO channels (id, server_id, profile_id, name, type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.ServerID, ch.ProfileID, ch.Name, string(ch.Type), ch.CreatedAt)
	b.Query(`INSERT INTO channels_by_server (server_id, channel_id) VALUES (?, ?)`, ch.ServerID, ch.ID)
}

func addMember(b *gocql.Batch, m model.Member) {
	b.Query(`INSERT INTO members (id, server_id, profile_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ServerID, m.ProfileID, string(m.Role), m.CreatedAt)
	b.Query(`INSERT INTO members_by_server (server_id, profile_id, member_id) VALUES (?, ?, ?)`,
		m.ServerID, m.ProfileID, m.ID)
}

func (d *ScyllaDirectory) Server(ctx context.Context, id string) (*model.Server, error) {
	srv := model.Server{ID: id}
	err := d.db.Query(`SELECT profile_id, name, image_url, invite_code, created_at FROM servers WHERE id = ?`, id).
		WithContext(ctx).Scan(&srv.ProfileID, &srv.Name, &srv.ImageURL, &srv.InviteCode, &srv.CreatedAt)
	if err != nil {
		return nil, scyllaErr("server "+id, err)
	}
	return &srv, nil
}

func (d *ScyllaDirectory) ServerByInvite(ctx context.Context, code string) (*model.Server, error) {
	var id string
	if err := d.db.Query(`SELECT server_id FROM servers_by_invite WHERE invite_code = ?`, code).
		WithContext(ctx).Scan(&id); err != nil {
		return nil, scyllaErr("invite "+code, err)
	}
	return d.Server(ctx, id)
}

func (d *ScyllaDirectory) InsertChannel(ctx context.Context, ch model.Channel) error {
	b := d.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	addChannel(b, ch)
	return scyllaErr("insert channel", d.db.ExecuteBatch(b))
}

func (d *ScyllaDirectory) Channel(ctx context.Context, id string) (*model.Channel, error) {
	ch := model.Channel{ID: id}
	var typ string
	err := d.db.Query(`SELECT server_id, profile_id, name, type, created_at FROM channels WHERE id = ?`, id).
		WithContext(ctx).Scan(&ch.ServerID, &ch.ProfileID, &ch.Name, &typ, &ch.CreatedAt)
	if err != nil {
		return nil, scyllaErr("channel "+id, err)
	}
	ch.Type = model.ChannelType(typ)
	return &ch, nil
}

func (d *ScyllaDirectory) Channels(ctx context.Context, serverID string) ([]model.Channel, error) {
	iter := d.db.Query(`SELECT channel_id FROM channels_by_server WHERE server_id = ?`, serverID).WithContext(ctx).Iter()
	var (
		ids []string
		id  string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, scyllaErr("channels of "+serverID, err)
	}

	out := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := d.Channel(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, nil
}

func (d *ScyllaDirectory) InsertMember(ctx context.Context, m model.Member) error {
	return insertMember(ctx, scyllaMemberRows{d.db}, m)
}

// memberRows are the two writes behind a membership: the member row and the
// (server, profile) claim that makes it unique and findable.
type memberRows interface {
	putMember(ctx context.Context, m model.Member) error
	claim(ctx context.Context, m model.Member) (bool, error)
	dropMember(ctx context.Context, m model.Member) error
}

// insertMember writes the member row before the claim, so a claim never
// points at a missing row. A lost claim race removes the unused row.
func insertMember(ctx context.Context, rows memberRows, m model.Member) error {
	if err := rows.putMember(ctx, m); err != nil {
		return err
	}
	applied, err := rows.claim(ctx, m)
	if err != nil {
		return err
	}
	if !applied {
		if err := rows.dropMember(ctx, m); err != nil {
			return err
		}
		return fmt.Errorf("profile %s already in server %s: %w", m.ProfileID, m.ServerID, model.ErrConflict)
	}
	return nil
}

type scyllaMemberRows struct{ db *db.Session }

func (r scyllaMemberRows) putMember(ctx context.Context, m model.Member) error {
	err := r.db.Query(`INSERT INTO members (id, server_id, profile_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ServerID, m.ProfileID, string(m.Role), m.CreatedAt).WithContext(ctx).Exec()
	return scyllaErr("insert member", err)
}

func (r scyllaMemberRows) claim(ctx context.Context, m model.Member) (bool, error) {
	applied, err := r.db.Query(`INSERT INTO members_by_server (server_id, profile_id, member_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		m.ServerID, m.ProfileID, m.ID).WithContext(ctx).MapScanCAS(map[string]any{})
	return applied, scyllaErr("claim membership", err)
}

func (r scyllaMemberRows) dropMember(ctx context.Context, m model.Member) error {
	return scyllaErr("drop unclaimed member", r.db.Query(`DELETE FROM members WHERE id = ?`, m.ID).WithContext(ctx).Exec())
}

func (d *ScyllaDirectory) DeleteMember(ctx context.Context, m model.Member) error {
	b := d.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM members WHERE id = ?`, m.ID)
	b.Query(`DELETE FROM members_by_server WHERE server_id = ? AND profile_id = ?`, m.ServerID, m.ProfileID)
	return scyllaErr("delete member", d.db.ExecuteBatch(b))
}

func (d *ScyllaDirectory) SetRole(ctx context.Context, memberID string, role model.MemberRole) error {
	applied, err := d.db.Query(`UPDATE members SET role = ? WHERE id = ? IF EXISTS`, string(role), memberID).
		WithContext(ctx).MapScanCAS(map[string]any{})
	if err != nil {
		return scyllaErr("set role", err)
	}
	if !applied {
		return fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
	}
	return nil
}

func (d *ScyllaDirectory) Member(ctx context.Context, id string) (*model.Member, error) {
	m := model.Member{ID: id}
	var role string
	err := d.db.Query(`SELECT server_id, profile_id, role, created_at FROM members WHERE id = ?`, id).
		WithContext(ctx).Scan(&m.ServerID, &m.ProfileID, &role, &m.CreatedAt)
	if err != nil {
		return nil, scyllaErr("member "+id, err)
	}
	m.Role = model.MemberRole(role)
	return &m, nil
}

func (d *ScyllaDirectory) MemberByProfile(ctx context.Context, serverID, profileID string) (*model.Member, error) {
	var id string
	err := d.db.Query(`SELECT member_id FROM members_by_server WHERE server_id = ? AND profile_id = ?`, serverID, profileID).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, scyllaErr("membership of "+profileID, err)
	}
	return d.Member(ctx, id)
}

func (d *ScyllaDirectory) Members(ctx context.Context, serverID string) ([]model.Member, error) {
	iter := d.db.Query(`SELECT member_id FROM members_by_server WHERE server_id = ?`, serverID).WithContext(ctx).Iter()
	var (
		ids []string
		id  string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, scyllaErr("members of "+serverID, err)
	}

	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		m, err := d.Member(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// PutConversation claims the pair key with a lightweight transaction so two
// racing first messages agree on one conversation.
func (d *ScyllaDirectory) PutConversation(ctx context.Context, c model.Conversation) (*model.Conversation, error) {
	pair := model.PairKey(c.MemberOneID, c.MemberTwoID)
	existing := map[string]any{}
	applied, err := d.db.Query(`INSERT INTO conversations_by_pair (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		pair, c.ID).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, scyllaErr("claim conversation", err)
	}

	if !applied {
		id, _ := existing["conversation_id"].(string)
		conv, err := d.Conversation(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			// Claimed by a writer that has not stored the row yet.
			return nil, fmt.Errorf("conversation %s pending: %w", id, model.ErrTransient)
		}
		return conv, err
	}

	err = d.db.Query(`INSERT INTO conversations (id, member_one_id, member_two_id, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.MemberOneID, c.MemberTwoID, c.CreatedAt).WithContext(ctx).Exec()
	if err != nil {
		return nil, scyllaErr("insert conversation", err)
	}
	return &c, nil
}

func (d *ScyllaDirectory) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	c := model.Conversation{ID: id}
	err := d.db.Query(`SELECT member_one_id, member_two_id, created_at FROM conversations WHERE id = ?`, id).
		WithContext(ctx).Scan(&c.MemberOneID, &c.MemberTwoID, &c.CreatedAt)
	if err != nil {
		return nil, scyllaErr("conversation "+id, err)
	}
	return &c, nil
}

// ScyllaInbox backs the inbox with member_conversations and a counter table.
type ScyllaInbox struct {
	db *db.Session
}

func NewScyllaInbox(session *db.Session) *ScyllaInbox {
	return &ScyllaInbox{db: session}
}

func (b *ScyllaInbox) Touch(ctx context.Context, conv model.Conversation, authorID string, at time.Time) error {
	if !conv.Has(authorID) {
		return fmt.Errorf("member %s not in conversation %s: %w", authorID, conv.ID, model.ErrUnauthorized)
	}

	for _, member := range []string{conv.MemberOneID, conv.MemberTwoID} {
		err := b.db.Query(`INSERT INTO member_conversations (member_id, conversation_id, other_member_id, last_updated) VALUES (?, ?, ?, ?)`,
			member, conv.ID, conv.Other(member), at).WithContext(ctx).Exec()
		if err != nil {
			return scyllaErr("touch conversation for "+member, err)
		}
	}

	recipient := conv.Other(authorID)
	err := b.db.Query(`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE member_id = ? AND conversation_id = ?`,
		recipient, conv.ID).WithContext(ctx).Exec()
	return scyllaErr("increment unread for "+recipient, err)
}

func (b *ScyllaInbox) List(ctx context.Context, memberID string) ([]model.InboxEntry, error) {
	iter := b.db.Query(`SELECT conversation_id, other_member_id, last_updated FROM member_conversations WHERE member_id = ?`, memberID).
		WithContext(ctx).Iter()

	var (
		out []model.InboxEntry
		e   model.InboxEntry
	)
	for iter.Scan(&e.ConversationID, &e.OtherMemberID, &e.LastUpdated) {
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, scyllaErr("inbox of "+memberID, err)
	}

	for i := range out {
		var count int64
		err := b.db.Query(`SELECT unread_count FROM conversation_counters WHERE member_id = ? AND conversation_id = ?`,
			memberID, out[i].ConversationID).WithContext(ctx).Scan(&count)
		if err != nil && !errors.Is(err, gocql.ErrNotFound) {
			return nil, scyllaErr("unread count", err)
		}
		out[i].UnreadCount = count
	}
	sortInbox(out)
	return out, nil
}

// MarkRead deletes the counter row, which is the only way to reset a
// counter column.
func (b *ScyllaInbox) MarkRead(ctx context.Context, memberID, conversationID string) error {
	err := b.db.Query(`DELETE FROM conversation_counters WHERE member_id = ? AND conversation_id = ?`,
		memberID, conversationID).WithContext(ctx).Exec()
	return scyllaErr("reset unread", err)
}
