package syncview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/guildchat/pkg/model"
)

var (
	room = model.ChannelRoom("c1")
	t0   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func msg(id int64, content string) model.Message {
	at := t0.Add(time.Duration(id) * time.Second)
	return model.Message{ID: model.MessageID(id), Room: room, Content: content, CreatedAt: at, UpdatedAt: at}
}

func ids(v View) []model.MessageID {
	out := make([]model.MessageID, 0, v.Len())
	for _, m := range v.Items() {
		out = append(out, m.ID)
	}
	return out
}

func TestMerge_CreatedInsertsAtNewestEdge(t *testing.T) {
	v := NewView(msg(2, "b"), msg(1, "a"))

	v = Merge(v, model.Created(msg(3, "c")))

	assert.Equal(t, []model.MessageID{3, 2, 1}, ids(v))
}

func TestMerge_CreatedAlreadyFetchedIsNotDuplicated(t *testing.T) {
	v := NewView(msg(3, "c"), msg(2, "b"))

	v = Merge(v, model.Created(msg(3, "c")))
	v = Merge(v, model.Created(msg(3, "c")))

	assert.Equal(t, []model.MessageID{3, 2}, ids(v))
}

func TestMerge_CreatedOutOfOrderKeepsSorting(t *testing.T) {
	v := NewView(msg(5, "e"), msg(1, "a"))

	v = Merge(v, model.Created(msg(3, "c")))

	assert.Equal(t, []model.MessageID{5, 3, 1}, ids(v))
}

func TestMerge_UpdatedReplaces(t *testing.T) {
	v := NewView(msg(2, "b"), msg(1, "a"))

	edited := msg(1, "a!")
	edited.UpdatedAt = edited.UpdatedAt.Add(time.Minute)
	v = Merge(v, model.Updated(edited))

	got, ok := v.Find(1)
	assert.True(t, ok)
	assert.Equal(t, "a!", got.Content)
	assert.Equal(t, []model.MessageID{2, 1}, ids(v))
}

func TestMerge_StaleUpdateIgnored(t *testing.T) {
	current := msg(1, "latest")
	current.UpdatedAt = current.UpdatedAt.Add(time.Hour)
	v := NewView(current)

	v = Merge(v, model.Updated(msg(1, "older")))

	got, _ := v.Find(1)
	assert.Equal(t, "latest", got.Content)
}

func TestMerge_UpdateForUnloadedMessageIgnored(t *testing.T) {
	v := NewView(msg(2, "b"))

	v = Merge(v, model.Updated(msg(1, "a")))

	assert.Equal(t, []model.MessageID{2}, ids(v))
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	before := NewView(msg(1, "a"))

	edited := msg(1, "b")
	edited.UpdatedAt = edited.UpdatedAt.Add(time.Second)
	after := Merge(before, model.Updated(edited))
	_ = Merge(before, model.Created(msg(2, "x")))

	got, _ := before.Find(1)
	assert.Equal(t, "a", got.Content)
	assert.Equal(t, 1, before.Len())
	got, _ = after.Find(1)
	assert.Equal(t, "b", got.Content)
}

func TestMergePage_AppendsOlderAndDedupes(t *testing.T) {
	v := NewView(msg(5, "e"), msg(4, "d"))

	v = MergePage(v, []model.Message{msg(4, "d"), msg(3, "c"), msg(2, "b")})

	assert.Equal(t, []model.MessageID{5, 4, 3, 2}, ids(v))
	oldest, ok := v.Oldest()
	assert.True(t, ok)
	assert.Equal(t, model.MessageID(2), oldest.ID)
}

func TestMergePage_KeepsNewerCopy(t *testing.T) {
	live := msg(1, "edited")
	live.UpdatedAt = live.UpdatedAt.Add(time.Minute)
	v := NewView(live)

	v = MergePage(v, []model.Message{msg(1, "original")})

	got, _ := v.Find(1)
	assert.Equal(t, "edited", got.Content)
}

func TestView_Empty(t *testing.T) {
	var v View
	_, ok := v.Oldest()
	assert.False(t, ok)
	assert.Empty(t, v.Items())
	assert.Equal(t, 0, MergePage(v, nil).Len())
}
