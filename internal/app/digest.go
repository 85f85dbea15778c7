package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"linkbot/internal/registry"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

// Digest periodically DMs a stats summary to the configured admins. It is a
// push counterpart to the /stats command for operators who don't want to poll.
type Digest struct {
	cron *cron.Cron
	reg  *registry.Registry
	ad   transport.Adapter
	log  logx.Logger

	mu     sync.RWMutex
	admins []int64
}

func NewDigest(spec string, reg *registry.Registry, ad transport.Adapter, admins []int64, log logx.Logger) (*Digest, error) {
	d := &Digest{
		cron:   cron.New(),
		reg:    reg,
		ad:     ad,
		log:    log,
		admins: append([]int64(nil), admins...),
	}
	if _, err := d.cron.AddFunc(spec, d.send); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Digest) SetAdmins(ids []int64) {
	d.mu.Lock()
	d.admins = append([]int64(nil), ids...)
	d.mu.Unlock()
}

func (d *Digest) Start() { d.cron.Start() }

// Stop halts the schedule and waits for a running send to finish, bounded
// by ctx.
func (d *Digest) Stop(ctx context.Context) error {
	done := d.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Digest) send() {
	d.mu.RLock()
	admins := d.admins
	d.mu.RUnlock()
	if len(admins) == 0 {
		return
	}

	var groups []registry.GroupState
	for _, g := range d.reg.Snapshot() {
		if d.reg.Active(g.ID) {
			groups = append(groups, g)
		}
	}
	var b strings.Builder
	b.WriteString("📊 *Daily digest*\n\n")
	fmt.Fprintf(&b, "Active groups: %d\n", d.reg.ActiveCount())
	fmt.Fprintf(&b, "Interval: %d hour(s)\n", int(d.reg.Interval()/time.Hour))
	fmt.Fprintf(&b, "Default link: %s\n", d.reg.DefaultLink())
	for _, g := range groups {
		title := g.Title
		if title == "" {
			title = strconv.FormatInt(g.ID, 10)
		}
		fmt.Fprintf(&b, "• %s (last post: %s)\n", title, lastPost(g))
	}
	text := b.String()

	ctx := context.Background()
	for _, id := range admins {
		_, err := d.ad.SendText(ctx, transport.ChatTarget{ChatID: id}, text, &transport.SendOptions{
			ParseMode:      "Markdown",
			DisablePreview: true,
		})
		if err != nil {
			d.log.Warn("digest send failed", logx.Int64("admin_id", id), logx.Err(err))
		}
	}
}

func lastPost(g registry.GroupState) string {
	if g.LastBroadcast.IsZero() {
		return "never"
	}
	return g.LastBroadcast.Format("2006-01-02 15:04")
}
