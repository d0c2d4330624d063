package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/presence"
)

func created(room model.Room, id int64) model.Event {
	return model.Created(model.Message{ID: model.MessageID(id), Room: room, Content: fmt.Sprint(id)})
}

func connect(t *testing.T, h *Hub, profile string) *Subscriber {
	t.Helper()
	sub, err := h.Connect(profile)
	require.NoError(t, err)
	return sub
}

func next(t *testing.T, sub *Subscriber) model.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return model.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %s", ev.Key())
		}
	default:
	}
}

func TestHub_FanOutToRoomOnly(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx := context.Background()
	room := model.ChannelRoom("c1")
	other := model.ChannelRoom("c2")

	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = connect(t, h, fmt.Sprintf("p%d", i))
		require.NoError(t, h.Subscribe(subs[i], room))
	}
	outsider := connect(t, h, "outsider")
	require.NoError(t, h.Subscribe(outsider, other))

	require.NoError(t, h.Publish(ctx, created(room, 1)))

	for _, sub := range subs {
		ev := next(t, sub)
		assert.Equal(t, model.EventCreated, ev.Kind)
		assert.Equal(t, "chat:c1:messages", ev.Key())
	}
	assertNoEvent(t, outsider)
	assert.Equal(t, 3, h.Subscribers(room))
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	assert.NoError(t, h.Publish(context.Background(), created(model.ChannelRoom("empty"), 1)))
}

func TestHub_PerRoomOrder(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(1000))
	ctx := context.Background()
	room := model.ConversationRoom("conv")
	sub := connect(t, h, "p")
	require.NoError(t, h.Subscribe(sub, room))

	for i := 1; i <= 500; i++ {
		require.NoError(t, h.Publish(ctx, created(room, int64(i))))
	}
	for i := 1; i <= 500; i++ {
		assert.Equal(t, model.MessageID(i), next(t, sub).Message.ID)
	}
}

func TestHub_SubscribeIdempotent(t *testing.T) {
	h := NewHub(zerolog.Nop())
	room := model.ChannelRoom("c1")
	sub := connect(t, h, "p")

	require.NoError(t, h.Subscribe(sub, room))
	require.NoError(t, h.Subscribe(sub, room))
	assert.Len(t, h.Rooms(sub), 1)

	require.NoError(t, h.Publish(context.Background(), created(room, 1)))
	next(t, sub)
	assertNoEvent(t, sub)
}

func TestHub_SubscribeRejects(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := connect(t, h, "p")

	assert.ErrorIs(t, h.Subscribe(sub, model.Room{Kind: "voice", ID: "x"}), model.ErrValidation)

	h.Disconnect(sub)
	assert.ErrorIs(t, h.Subscribe(sub, model.ChannelRoom("c1")), ErrNotConnected)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx := context.Background()
	a, b := model.ChannelRoom("a"), model.ChannelRoom("b")
	sub := connect(t, h, "p")
	require.NoError(t, h.Subscribe(sub, a))
	require.NoError(t, h.Subscribe(sub, b))

	h.Unsubscribe(sub, a)
	h.Unsubscribe(sub, a)

	require.NoError(t, h.Publish(ctx, created(a, 1)))
	require.NoError(t, h.Publish(ctx, created(b, 2)))
	assert.Equal(t, model.MessageID(2), next(t, sub).Message.ID)
	assertNoEvent(t, sub)
	assert.Zero(t, h.Subscribers(a))
}

func TestHub_DisconnectRevokesEverything(t *testing.T) {
	h := NewHub(zerolog.Nop())
	rooms := []model.Room{model.ChannelRoom("a"), model.ChannelRoom("b"), model.ConversationRoom("c")}
	sub := connect(t, h, "p")
	for _, r := range rooms {
		require.NoError(t, h.Subscribe(sub, r))
	}

	h.Disconnect(sub)
	h.Disconnect(sub)

	for _, r := range rooms {
		assert.Zero(t, h.Subscribers(r))
		require.NoError(t, h.Publish(context.Background(), created(r, 1)))
	}
	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel closed after disconnect")
	assert.Empty(t, h.Rooms(sub))
}

func TestHub_DropOldestKeepsNewest(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(3), WithOverflowPolicy(DropOldest))
	ctx := context.Background()
	room := model.ChannelRoom("c1")
	slow := connect(t, h, "slow")
	fast := connect(t, h, "fast")
	require.NoError(t, h.Subscribe(slow, room))
	require.NoError(t, h.Subscribe(fast, room))

	var got []model.MessageID
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(ctx, created(room, int64(i))))
		got = append(got, next(t, fast).Message.ID)
	}

	assert.Equal(t, []model.MessageID{1, 2, 3, 4, 5}, got, "a slow peer does not affect others")
	assert.Equal(t, int64(2), slow.Dropped())
	for _, want := range []model.MessageID{3, 4, 5} {
		assert.Equal(t, want, next(t, slow).Message.ID)
	}
}

func TestHub_DisconnectPolicy(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(2), WithOverflowPolicy(Disconnect))
	ctx := context.Background()
	room := model.ChannelRoom("c1")
	slow := connect(t, h, "slow")
	require.NoError(t, h.Subscribe(slow, room))

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Publish(ctx, created(room, int64(i))))
	}

	assert.Zero(t, h.Subscribers(room))
	assert.Equal(t, model.MessageID(1), next(t, slow).Message.ID)
	assert.Equal(t, model.MessageID(2), next(t, slow).Message.ID)
	_, ok := <-slow.Events()
	assert.False(t, ok)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := connect(t, h, "p")
	require.NoError(t, h.Subscribe(sub, model.ChannelRoom("c1")))

	h.Close()
	h.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	_, err := h.Connect("p")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.Publish(context.Background(), created(model.ChannelRoom("c1"), 1)), ErrHubClosed)
}

func TestHub_ConcurrentChurn(t *testing.T) {
	h := NewHub(zerolog.Nop(), WithQueueSize(8))
	ctx := context.Background()
	rooms := []model.Room{model.ChannelRoom("a"), model.ChannelRoom("b")}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := h.Connect(fmt.Sprintf("p%d", i))
			if err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 50; j++ {
				r := rooms[j%2]
				_ = h.Subscribe(sub, r)
				h.Unsubscribe(sub, r)
			}
			h.Disconnect(sub)
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = h.Publish(ctx, created(rooms[j%2], int64(j+1)))
			}
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		assert.Zero(t, h.Subscribers(r))
	}
}

type recordingPresence struct {
	mu     sync.Mutex
	joined map[string]int
}

func (p *recordingPresence) Join(_ context.Context, room model.Room, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined[room.Key()]++
	return nil
}

func (p *recordingPresence) Leave(_ context.Context, room model.Room, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined[room.Key()]--
	return nil
}

func TestHub_Presence(t *testing.T) {
	p := &recordingPresence{joined: make(map[string]int)}
	h := NewHub(zerolog.Nop(), WithPresence(p))
	room := model.ChannelRoom("c1")

	a := connect(t, h, "a")
	b := connect(t, h, "b")
	require.NoError(t, h.Subscribe(a, room))
	require.NoError(t, h.Subscribe(a, room))
	require.NoError(t, h.Subscribe(b, room))
	assert.Equal(t, 2, p.joined[room.Key()])

	h.Disconnect(a)
	assert.Equal(t, 1, p.joined[room.Key()])
	h.Unsubscribe(b, room)
	assert.Equal(t, 0, p.joined[room.Key()])
}

// gatedPresence holds every Join until the gate opens.
type gatedPresence struct {
	*presence.Memory
	entered chan struct{}
	gate    chan struct{}
}

func (p *gatedPresence) Join(ctx context.Context, room model.Room, profileID string) error {
	p.entered <- struct{}{}
	<-p.gate
	return p.Memory.Join(ctx, room, profileID)
}

func TestHub_DisconnectDuringPresenceJoin(t *testing.T) {
	p := &gatedPresence{Memory: presence.NewMemory(), entered: make(chan struct{}, 1), gate: make(chan struct{})}
	h := NewHub(zerolog.Nop(), WithPresence(p))
	room := model.ChannelRoom("c1")
	sub := connect(t, h, "a")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.Subscribe(sub, room))
	}()
	<-p.entered

	go func() {
		defer wg.Done()
		h.Disconnect(sub)
	}()
	assert.Eventually(t, func() bool { return len(h.Rooms(sub)) == 0 }, time.Second, 5*time.Millisecond)

	close(p.gate)
	wg.Wait()

	members, err := p.Members(context.Background(), room)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("disconnect")
	require.NoError(t, err)
	assert.Equal(t, Disconnect, p)

	p, err = ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}
