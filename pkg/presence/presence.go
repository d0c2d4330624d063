// Package presence tracks which profiles currently watch each room.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/guildchat/pkg/model"
)

// Tracker is implemented by both the Redis and the in-memory store. Join
// and Leave are counted per profile, so two tabs leave a profile present
// until both close.
type Tracker interface {
	Join(ctx context.Context, room model.Room, profileID string) error
	Leave(ctx context.Context, room model.Room, profileID string) error
	Members(ctx context.Context, room model.Room) ([]string, error)
}

func Key(room model.Room) string {
	return "room:" + room.Key() + ":users"
}

// leaveScript decrements a profile's connection count and removes the field
// once it reaches zero.
var leaveScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (p *Redis) Join(ctx context.Context, room model.Room, profileID string) error {
	if err := p.rdb.HIncrBy(ctx, Key(room), profileID, 1).Err(); err != nil {
		return fmt.Errorf("presence join %s: %w", room, err)
	}
	return nil
}

func (p *Redis) Leave(ctx context.Context, room model.Room, profileID string) error {
	if err := leaveScript.Run(ctx, p.rdb, []string{Key(room)}, profileID).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", room, err)
	}
	return nil
}

func (p *Redis) Members(ctx context.Context, room model.Room) ([]string, error) {
	ids, err := p.rdb.HKeys(ctx, Key(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", room, err)
	}
	sort.Strings(ids)
	return ids, nil
}

type Memory struct {
	mu    sync.Mutex
	rooms map[string]map[string]int
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string]int)}
}

func (p *Memory) Join(_ context.Context, room model.Room, profileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Key(room)
	if p.rooms[key] == nil {
		p.rooms[key] = make(map[string]int)
	}
	p.rooms[key][profileID]++
	return nil
}

func (p *Memory) Leave(_ context.Context, room model.Room, profileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Key(room)
	counts := p.rooms[key]
	if counts == nil {
		return nil
	}
	counts[profileID]--
	if counts[profileID] <= 0 {
		delete(counts, profileID)
	}
	if len(counts) == 0 {
		delete(p.rooms, key)
	}
	return nil
}

func (p *Memory) Members(_ context.Context, room model.Room) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.rooms[Key(room)]))
	for id := range p.rooms[Key(room)] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
