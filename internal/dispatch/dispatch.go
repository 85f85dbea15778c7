// Package dispatch routes inbound chat updates: text commands go to their
// handlers, membership events (bot added/removed) go to the watcher. All
// state changes flow through the registry; every user-facing path degrades
// to a reply string.
package dispatch

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"linkbot/internal/registry"
	"linkbot/internal/storage"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

type Dispatcher struct {
	adapter transport.Adapter
	reg     *registry.Registry
	log     logx.Logger
	store   storage.Store // nil when auditing is disabled

	adminMu sync.RWMutex
	admins  map[int64]struct{}
}

func New(adapter transport.Adapter, reg *registry.Registry, admins []int64, store storage.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		adapter: adapter,
		reg:     reg,
		log:     log,
		store:   store,
		admins:  map[int64]struct{}{},
	}
	d.SetAdmins(admins)
	return d
}

// SetAdmins replaces the process-wide admin list. Safe during hot-reload.
func (d *Dispatcher) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	d.adminMu.Lock()
	d.admins = m
	d.adminMu.Unlock()
}

// Run consumes updates until ctx is canceled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.handle(ctx, up)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in update handler",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			d.handleMessage(ctx, up.Message)
		}
	case transport.UpdateBotAdded:
		if up.Member != nil {
			d.handleBotAdded(ctx, up.Member)
		}
	case transport.UpdateBotRemoved:
		if up.Member != nil {
			d.handleBotRemoved(ctx, up.Member)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *transport.Message) {
	cmd, arg, ok := d.parseCommand(m.Text)
	if !ok {
		return
	}

	start := time.Now()
	var reply string
	switch cmd {
	case "help":
		reply = d.cmdHelp(m)
	case "start":
		reply = d.cmdStart(ctx, m)
	case "myid":
		reply = d.cmdMyID(m)
	case "link":
		reply = d.cmdLink(m)
	case "setlink":
		reply = d.cmdSetLink(ctx, m, arg)
	case "defaultlink":
		reply = d.cmdDefaultLink(ctx, m)
	case "interval":
		reply = d.cmdInterval(ctx, m, arg)
	case "stats":
		reply = d.cmdStats(m)
	case "audit":
		reply = d.cmdAudit(ctx, m)
	default:
		return
	}

	d.log.Debug("command handled",
		logx.String("cmd", cmd),
		logx.Int64("chat_id", m.ChatID),
		logx.Int64("from_id", m.FromID),
		logx.Duration("took", time.Since(start)),
	)
	if reply != "" {
		d.reply(ctx, m.ChatID, reply)
	}
}

// parseCommand extracts the command name and the remainder of the line.
// Commands are case-sensitive and must start with '/'. A trailing @BotName
// suffix is accepted (case-insensitively) and stripped.
func (d *Dispatcher) parseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text[1:]
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		arg = strings.TrimSpace(head[i+1:])
		head = head[:i]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		suffix := head[i+1:]
		head = head[:i]
		if name := d.adapter.BotUsername(); name != "" && !strings.EqualFold(suffix, name) {
			// Addressed to a different bot.
			return "", "", false
		}
	}
	if head == "" {
		return "", "", false
	}
	return head, arg, true
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	_, err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	if err != nil {
		d.log.Warn("reply send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// isAdmin reports whether the user is in the configured process-wide list.
func (d *Dispatcher) isAdmin(userID int64) bool {
	d.adminMu.RLock()
	defer d.adminMu.RUnlock()
	_, ok := d.admins[userID]
	return ok
}

// isChatAdmin reports whether the user holds admin rights in the group the
// message came from. A lookup failure counts as "not admin".
func (d *Dispatcher) isChatAdmin(ctx context.Context, m *transport.Message) bool {
	if !m.IsGroup {
		return false
	}
	return d.isChatAdminID(ctx, m.ChatID, m.FromID)
}

func (d *Dispatcher) isChatAdminID(ctx context.Context, chatID, userID int64) bool {
	ids, err := d.adapter.ChatAdmins(ctx, chatID)
	if err != nil {
		d.log.Warn("chat admin lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) canManage(ctx context.Context, m *transport.Message) bool {
	return d.isAdmin(m.FromID) || d.isChatAdmin(ctx, m)
}

// audit records an admin action when a store is configured. Best-effort.
func (d *Dispatcher) audit(ctx context.Context, m *transport.Message, action, arg string, ok bool) {
	if d.store == nil {
		return
	}
	err := d.store.AppendAudit(ctx, storage.AuditEntry{
		At:      time.Now(),
		ActorID: m.FromID,
		ChatID:  m.ChatID,
		Action:  action,
		Arg:     arg,
		OK:      ok,
	})
	if err != nil {
		d.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func fmtNextPost(reg *registry.Registry, chatID int64) string {
	last, ok := reg.LastBroadcast(chatID)
	if !ok {
		return "soon (not posted yet)"
	}
	return last.Add(reg.Interval()).Format("2006-01-02 15:04:05")
}

func intervalHours(reg *registry.Registry) int {
	return int(reg.Interval() / time.Hour)
}
