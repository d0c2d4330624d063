package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/model"
)

// queueReader serves records in order, then blocks until ctx is done.
type queueReader struct {
	mu        sync.Mutex
	records   []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newQueueReader(records ...kafka.Message) *queueReader {
	return &queueReader{records: records, drained: make(chan struct{})}
}

func (q *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	q.mu.Lock()
	if len(q.records) > 0 {
		m := q.records[0]
		q.records = q.records[1:]
		q.mu.Unlock()
		return m, nil
	}
	q.mu.Unlock()
	close(q.drained)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (q *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		q.committed = append(q.committed, m.Offset)
	}
	return nil
}

func (q *queueReader) Close() error { return nil }

func (q *queueReader) commits() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.committed) == 0 {
		return nil
	}
	return append([]int64(nil), q.committed...)
}

func record(t *testing.T, offset int64, id model.MessageID) kafka.Message {
	t.Helper()
	m, err := Encode(model.Created(model.Message{ID: id, Room: model.ChannelRoom("c"), MemberID: "m", Content: "hi"}))
	require.NoError(t, err)
	m.Offset = offset
	return m
}

func runRelay(t *testing.T, reader *queueReader, sink Sink) {
	t.Helper()
	r := &Relay{reader: reader, sink: sink, log: zerolog.Nop(), backoff: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not drain its records")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRelay_CommitsAfterSink(t *testing.T) {
	reader := newQueueReader(record(t, 1, 10), kafka.Message{Offset: 2, Value: []byte("nope")}, record(t, 3, 11))
	before := map[model.MessageID][]int64{10: nil, 11: {1, 2}}
	var seen []model.MessageID
	sink := SinkFunc(func(_ context.Context, ev model.Event) error {
		assert.Equal(t, before[ev.Message.ID], reader.commits(), "commits before delivering %s", ev.Message.ID)
		seen = append(seen, ev.Message.ID)
		return nil
	})

	runRelay(t, reader, sink)
	assert.Equal(t, []model.MessageID{10, 11}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
}

func TestRelay_RetriesRejectedEvent(t *testing.T) {
	reader := newQueueReader(record(t, 5, 20))
	calls := 0
	sink := SinkFunc(func(context.Context, model.Event) error {
		calls++
		assert.Empty(t, reader.commits())
		if calls < sinkAttempts {
			return errors.New("inbox unavailable")
		}
		return nil
	})

	runRelay(t, reader, sink)
	assert.Equal(t, sinkAttempts, calls)
	assert.Equal(t, []int64{5}, reader.commits())
}

func TestRelay_SkipsAfterAttempts(t *testing.T) {
	reader := newQueueReader(record(t, 7, 30), record(t, 8, 31))
	var ids []model.MessageID
	sink := SinkFunc(func(_ context.Context, ev model.Event) error {
		ids = append(ids, ev.Message.ID)
		if ev.Message.ID == 30 {
			return errors.New("poison")
		}
		return nil
	})

	runRelay(t, reader, sink)
	assert.Equal(t, []model.MessageID{30, 30, 30, 31}, ids)
	assert.Equal(t, []int64{7, 8}, reader.commits())
}

func TestRelay_CancelledDeliveryStaysUncommitted(t *testing.T) {
	reader := newQueueReader(record(t, 9, 40))
	r := &Relay{reader: reader, log: zerolog.Nop(), backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	r.sink = SinkFunc(func(context.Context, model.Event) error {
		cancel()
		return errors.New("shutting down")
	})

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Empty(t, reader.commits())
}
