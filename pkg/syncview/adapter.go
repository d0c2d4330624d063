package syncview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mahaj/guildchat/pkg/model"
)

// Fetcher reads one history page. An empty cursor selects the newest page.
// *pagination.Service and HTTPFetcher both satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, room model.Room, cursor string) (model.Page, error)
}

// Source streams live events for room until the connection drops or ctx
// ends. It calls ready once the subscription is in place.
type Source interface {
	Stream(ctx context.Context, room model.Room, ready func(), deliver func(model.Event)) error
}

type Options struct {
	// Grace is how long the live connection may be down before polling
	// starts.
	Grace        time.Duration
	PollInterval time.Duration
	// FetchTimeout bounds one page request; exceeding it is retryable.
	FetchTimeout  time.Duration
	FetchAttempts int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Grace:         3 * time.Second,
		PollInterval:  time.Second,
		FetchTimeout:  5 * time.Second,
		FetchAttempts: 3,
		BackoffMin:    250 * time.Millisecond,
		BackoffMax:    10 * time.Second,
	}
}

// Adapter owns the view of one room.
type Adapter struct {
	room    model.Room
	fetcher Fetcher
	source  Source
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	view    View
	loaded  bool
	cursor  string
	hasMore bool
	state   ConnState

	loads   singleflight.Group
	changes chan struct{}
}

func New(room model.Room, fetcher Fetcher, source Source, log zerolog.Logger, opts Options) *Adapter {
	return &Adapter{
		room:    room,
		fetcher: fetcher,
		source:  source,
		opts:    opts,
		log:     log.With().Str("component", "syncview").Str("room", room.Key()).Logger(),
		state:   Reconnecting,
		changes: make(chan struct{}, 1),
	}
}

// Changes fires, coalesced, whenever the view or the state changes.
func (a *Adapter) Changes() <-chan struct{} { return a.changes }

func (a *Adapter) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

func (a *Adapter) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HasMore reports whether LoadMore may return older messages.
func (a *Adapter) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.loaded || a.hasMore
}

// Load fetches the newest page and merges it into the view.
func (a *Adapter) Load(ctx context.Context) error {
	page, err := a.fetch(ctx, "")
	if err != nil {
		return err
	}
	a.mergeNewest(page)
	return nil
}

// LoadMore fetches the page past the oldest loaded message and returns how
// many new messages it added. Concurrent calls for the same cursor share
// one request. An exact multiple of the page size ends with an empty page.
func (a *Adapter) LoadMore(ctx context.Context) (int, error) {
	a.mu.Lock()
	if !a.loaded {
		a.mu.Unlock()
		before := a.Snapshot().Len()
		err := a.Load(ctx)
		return a.Snapshot().Len() - before, err
	}
	if !a.hasMore {
		a.mu.Unlock()
		return 0, nil
	}
	cursor := a.cursor
	a.mu.Unlock()

	added, err, _ := a.loads.Do(cursor, func() (any, error) {
		if !a.atCursor(cursor) {
			return 0, nil
		}
		page, err := a.fetch(ctx, cursor)
		if err != nil {
			return 0, err
		}

		a.mu.Lock()
		if a.cursor != cursor || !a.hasMore {
			a.mu.Unlock()
			return 0, nil
		}
		before := a.view.Len()
		a.view = MergePage(a.view, page.Items)
		a.setCursorLocked(page.NextCursor)
		n := a.view.Len() - before
		a.mu.Unlock()

		a.notify()
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return added.(int), nil
}

func (a *Adapter) atCursor(cursor string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasMore && a.cursor == cursor
}

// Run keeps the live connection up until ctx ends. While the connection
// is down for longer than the grace window it polls the newest page; after
// every resubscribe it refetches the newest page to cover the gap.
func (a *Adapter) Run(ctx context.Context) error {
	var (
		ready     = make(chan struct{}, 1)
		dropped   = make(chan error, 1)
		grace     = time.NewTimer(a.opts.Grace)
		poll      *time.Ticker
		pollC     <-chan time.Time
		redial    <-chan time.Time
		backoff   = a.opts.BackoffMin
		streaming bool
		stop      context.CancelFunc = func() {}
	)
	stopPolling := func() {
		if poll != nil {
			poll.Stop()
			poll, pollC = nil, nil
		}
	}
	defer func() {
		grace.Stop()
		stopPolling()
		stop()
		if streaming {
			<-dropped
		}
	}()

	dial := func() {
		sctx, cancel := context.WithCancel(ctx)
		stop = cancel
		streaming = true
		go func() {
			signal := func() {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
			dropped <- a.source.Stream(sctx, a.room, signal, a.apply)
		}()
	}
	dial()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ready:
			a.transition(Resubscribed)
			grace.Stop()
			stopPolling()
			backoff = a.opts.BackoffMin
			if err := a.refresh(ctx, true); model.IsPermanent(err) {
				return err
			}

		case err := <-dropped:
			streaming = false
			stop()
			select {
			case <-ready:
			default:
			}
			if model.IsPermanent(err) {
				return err
			}
			a.log.Warn().Err(err).Dur("retry_in", backoff).Msg("live connection lost")
			if a.State() == Live {
				grace.Reset(a.opts.Grace)
			}
			a.transition(Disconnected)
			redial = time.After(backoff)
			backoff = min(backoff*2, a.opts.BackoffMax)

		case <-redial:
			redial = nil
			dial()

		case <-grace.C:
			if a.transition(GraceExpired).Polling() && poll == nil {
				poll = time.NewTicker(a.opts.PollInterval)
				pollC = poll.C
				if err := a.refresh(ctx, false); model.IsPermanent(err) {
					return err
				}
			}

		case <-pollC:
			if err := a.refresh(ctx, false); model.IsPermanent(err) {
				return err
			}
		}
	}
}

func (a *Adapter) apply(ev model.Event) {
	if ev.Room() != a.room {
		return
	}
	a.mu.Lock()
	a.view = Merge(a.view, ev)
	a.mu.Unlock()
	a.notify()
}

// refresh merges the newest page. Polls try once; the next tick retries.
func (a *Adapter) refresh(ctx context.Context, retry bool) error {
	var (
		page model.Page
		err  error
	)
	if retry {
		page, err = a.fetch(ctx, "")
	} else {
		page, err = a.fetchOnce(ctx, "")
	}
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn().Err(err).Bool("permanent", model.IsPermanent(err)).Msg("refresh failed")
		}
		return err
	}
	a.mergeNewest(page)
	return nil
}

func (a *Adapter) mergeNewest(page model.Page) {
	a.mu.Lock()
	a.view = MergePage(a.view, page.Items)
	if !a.loaded {
		a.loaded = true
		a.setCursorLocked(page.NextCursor)
	}
	a.mu.Unlock()
	a.notify()
}

func (a *Adapter) setCursorLocked(next *string) {
	if next == nil {
		a.cursor, a.hasMore = "", false
		return
	}
	a.cursor, a.hasMore = *next, true
}

func (a *Adapter) transition(t Trigger) ConnState {
	a.mu.Lock()
	from := a.state
	a.state = from.Next(t)
	to := a.state
	a.mu.Unlock()

	if from != to {
		a.log.Info().Str("from", from.String()).Str("to", to.String()).Str("trigger", t.String()).Msg("connection state changed")
		a.notify()
	}
	return to
}

func (a *Adapter) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

// fetch retries transient failures and timeouts with backoff. Permanent
// failures return at once.
func (a *Adapter) fetch(ctx context.Context, cursor string) (model.Page, error) {
	delay := a.opts.BackoffMin
	for attempt := 1; ; attempt++ {
		page, err := a.fetchOnce(ctx, cursor)
		if err == nil {
			return page, nil
		}
		if model.IsPermanent(err) || ctx.Err() != nil || attempt >= a.opts.FetchAttempts {
			return model.Page{}, err
		}
		a.log.Debug().Err(err).Str("cursor", cursor).Int("attempt", attempt).Msg("page fetch failed, retrying")
		select {
		case <-ctx.Done():
			return model.Page{}, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, a.opts.BackoffMax)
	}
}

func (a *Adapter) fetchOnce(ctx context.Context, cursor string) (model.Page, error) {
	fctx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	defer cancel()

	page, err := a.fetcher.Fetch(fctx, a.room, cursor)
	if err != nil && ctx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return model.Page{}, fmt.Errorf("page fetch exceeded %s: %w", a.opts.FetchTimeout, model.ErrTransient)
	}
	return page, err
}
