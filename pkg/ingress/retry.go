package ingress

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/guildchat/pkg/model"
)

type retryPolicy struct {
	attempts      int
	base, ceiling time.Duration
}

// do runs fn until it succeeds, fails with something other than
// model.ErrTransient, runs out of attempts or ctx ends.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.base
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, model.ErrTransient) || attempt >= p.attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.ceiling {
			delay = p.ceiling
		}
	}
}
