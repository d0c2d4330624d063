// Package pagination serves fixed-size, newest-first history pages with an
// opaque string cursor.
package pagination

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/metrics"
	"github.com/mahaj/guildchat/pkg/model"
)

// PageSize is fixed and not client-controlled.
const PageSize = 10

// Pager is the store read used by the service.
type Pager interface {
	Page(ctx context.Context, room model.Room, before *model.MessageID, limit int) ([]model.Message, *model.MessageID, error)
}

type Service struct {
	store Pager
	log   zerolog.Logger
}

func NewService(store Pager, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "pagination").Logger()}
}

// Fetch returns the page that follows cursor. An empty cursor selects the
// newest page. The cursor is the id of the last item of the previous page.
func (s *Service) Fetch(ctx context.Context, room model.Room, cursor string) (model.Page, error) {
	var before *model.MessageID
	if cursor != "" {
		id, err := model.ParseMessageID(cursor)
		if err != nil {
			return model.Page{}, err
		}
		before = &id
	}

	items, next, err := s.store.Page(ctx, room, before, PageSize)
	if err != nil {
		s.log.Warn().Err(err).Str("room", room.Key()).Str("cursor", cursor).Msg("page fetch failed")
		return model.Page{}, err
	}
	metrics.PageFetches.WithLabelValues(string(room.Kind), strconv.FormatBool(cursor == "")).Inc()

	page := model.Page{Items: items}
	if page.Items == nil {
		page.Items = []model.Message{}
	}
	if next != nil {
		c := next.String()
		page.NextCursor = &c
	}
	return page, nil
}
