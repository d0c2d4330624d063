package db

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Tables lists the schema in creation order.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		room_key text,
		id bigint,
		member_id text,
		content text,
		file_url text,
		deleted boolean,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY (room_key, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"messages_by_id", `CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		room_key text
	)`},
	{"servers", `CREATE TABLE IF NOT EXISTS servers (
		id text PRIMARY KEY,
		profile_id text,
		name text,
		image_url text,
		invite_code text,
		created_at timestamp
	)`},
	{"servers_by_invite", `CREATE TABLE IF NOT EXISTS servers_by_invite (
		invite_code text PRIMARY KEY,
		server_id text
	)`},
	{"channels", `CREATE TABLE IF NOT EXISTS channels (
		id text PRIMARY KEY,
		server_id text,
		profile_id text,
		name text,
		type text,
		created_at timestamp
	)`},
	{"channels_by_server", `CREATE TABLE IF NOT EXISTS channels_by_server (
		server_id text,
		channel_id text,
		PRIMARY KEY (server_id, channel_id)
	)`},
	{"members", `CREATE TABLE IF NOT EXISTS members (
		id text PRIMARY KEY,
		server_id text,
		profile_id text,
		role text,
		created_at timestamp
	)`},
	{"members_by_server", `CREATE TABLE IF NOT EXISTS members_by_server (
		server_id text,
		profile_id text,
		member_id text,
		PRIMARY KEY (server_id, profile_id)
	)`},
	{"conversations", `CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		member_one_id text,
		member_two_id text,
		created_at timestamp
	)`},
	{"conversations_by_pair", `CREATE TABLE IF NOT EXISTS conversations_by_pair (
		pair_key text PRIMARY KEY,
		conversation_id text
	)`},
	{"member_conversations", `CREATE TABLE IF NOT EXISTS member_conversations (
		member_id text,
		conversation_id text,
		other_member_id text,
		last_updated timestamp,
		PRIMARY KEY (member_id, conversation_id)
	)`},
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		member_id text,
		conversation_id text,
		unread_count counter,
		PRIMARY KEY (member_id, conversation_id)
	)`},
}

func Migrate(log zerolog.Logger, s *Session) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		log.Debug().Str("table", t.Name).Msg("table ready")
	}
	return nil
}

// Drop removes every table, newest first.
func Drop(log zerolog.Logger, s *Session) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		name := Tables[i].Name
		if err := s.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		log.Info().Str("table", name).Msg("table dropped")
	}
	return nil
}
