// Package syncview keeps a client's newest-first view of one room by
// merging history pages with live events, and degrades to polling when
// the live connection is gone.
package syncview

import (
	"sort"

	"github.com/mahaj/guildchat/pkg/model"
)

// View is an immutable newest-first list of messages without duplicate ids.
type View struct {
	items []model.Message
}

func NewView(items ...model.Message) View {
	return MergePage(View{}, items)
}

func (v View) Items() []model.Message {
	return append([]model.Message(nil), v.items...)
}

func (v View) Len() int { return len(v.items) }

func (v View) Find(id model.MessageID) (model.Message, bool) {
	if i, ok := v.index(id); ok {
		return v.items[i], true
	}
	return model.Message{}, false
}

// Oldest returns the message at the load-more edge.
func (v View) Oldest() (model.Message, bool) {
	if len(v.items) == 0 {
		return model.Message{}, false
	}
	return v.items[len(v.items)-1], true
}

// Merge applies one live event. A created event for a known id is a no-op;
// an updated event replaces the known entry unless it is older than it.
// Updates for messages outside the view are dropped; the next page fetch
// brings them in.
func Merge(v View, ev model.Event) View {
	i, known := v.index(ev.Message.ID)
	switch ev.Kind {
	case model.EventCreated:
		if known {
			return v
		}
		return v.insert(ev.Message)
	case model.EventUpdated:
		if !known || ev.Message.UpdatedAt.Before(v.items[i].UpdatedAt) {
			return v
		}
		items := v.Items()
		items[i] = ev.Message
		return View{items: items}
	}
	return v
}

// MergePage folds fetched messages into the view, keeping the newer copy
// of any message seen twice.
func MergePage(v View, page []model.Message) View {
	if len(page) == 0 {
		return v
	}
	byID := make(map[model.MessageID]model.Message, len(v.items)+len(page))
	for _, m := range v.items {
		byID[m.ID] = m
	}
	for _, m := range page {
		if cur, ok := byID[m.ID]; ok && m.UpdatedAt.Before(cur.UpdatedAt) {
			continue
		}
		byID[m.ID] = m
	}

	items := make([]model.Message, 0, len(byID))
	for _, m := range byID {
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[j].Before(items[i]) })
	return View{items: items}
}

func (v View) insert(m model.Message) View {
	at := sort.Search(len(v.items), func(i int) bool { return v.items[i].Before(m) })
	items := make([]model.Message, 0, len(v.items)+1)
	items = append(items, v.items[:at]...)
	items = append(items, m)
	items = append(items, v.items[at:]...)
	return View{items: items}
}

func (v View) index(id model.MessageID) (int, bool) {
	for i := range v.items {
		if v.items[i].ID == id {
			return i, true
		}
	}
	return 0, false
}
