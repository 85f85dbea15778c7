// Package broadcast runs the periodic link broadcaster: once per configured
// interval it sends the current link to every active group.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"linkbot/internal/registry"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

// retryBackoff is the flat delay applied when a full pass fails unexpectedly.
const retryBackoff = 60 * time.Second

type Config struct {
	// RatePerSec limits outbound sends during a pass so a large group list
	// doesn't trip Telegram flood limits. Zero means 10.
	RatePerSec int
}

type Broadcaster struct {
	reg     *registry.Registry
	adapter transport.Adapter
	log     logx.Logger
	limiter *rate.Limiter
	clock   Clock
}

func New(cfg Config, reg *registry.Registry, adapter transport.Adapter, log logx.Logger) *Broadcaster {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{
		reg:     reg,
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		clock:   SystemClock(),
	}
}

// SetClock replaces the clock. For tests; call before Run.
func (b *Broadcaster) SetClock(c Clock) {
	if c != nil {
		b.clock = c
	}
}

// Run loops until ctx is canceled: sleep for the current interval, then send
// the link to every active group. The interval is re-read each cycle, so an
// /interval change takes effect on the next sleep, never the current one.
//
// A panic or error escaping a full pass is treated as a transient fault:
// logged, then the loop backs off 60 seconds and tries again.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		interval := b.reg.Interval()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(interval):
		}

		// Retry the full pass after a flat backoff until it completes.
		for {
			err := b.runPass(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Error("broadcast pass failed; backing off", logx.Err(err), logx.Duration("backoff", retryBackoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.clock.After(retryBackoff):
			}
		}
	}
}

// runPass sends to every active group. Per-chat send failures deactivate that
// chat and the pass continues; only a panic (or cancellation) fails the pass
// as a whole.
func (b *Broadcaster) runPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in broadcast pass: %v", r)
		}
	}()

	ids := b.reg.ActiveIDs()
	if len(ids) == 0 {
		return nil
	}

	start := b.clock.Now()
	sent, failed := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.limiter != nil {
			if werr := b.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if serr := b.SendLink(ctx, id); serr != nil {
			// Treat a failed send as "bot no longer present".
			b.reg.Deactivate(id)
			failed++
			b.log.Warn("broadcast send failed; group deactivated", logx.Int64("chat_id", id), logx.Err(serr))
			continue
		}
		sent++
	}

	b.log.Info("broadcast pass finished",
		logx.Int("groups", len(ids)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("took", b.clock.Now().Sub(start)),
	)
	return nil
}

// SendLink sends the current link message to one chat and records the
// broadcast time. It is also used for the immediate send on welcome.
func (b *Broadcaster) SendLink(ctx context.Context, chatID int64) error {
	now := b.clock.Now()
	text := fmt.Sprintf("📢 *Group Link*\n\n🔗 %s\n⏰ %s",
		b.reg.Link(chatID), now.Format("2006-01-02 15:04"))
	_, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	if err != nil {
		return err
	}
	b.reg.RecordBroadcast(chatID, now)
	return nil
}
