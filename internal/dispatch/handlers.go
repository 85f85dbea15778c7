package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"linkbot/internal/registry"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

const deniedReply = "🚫 Admin only command!"

func (d *Dispatcher) cmdHelp(m *transport.Message) string {
	var b strings.Builder
	b.WriteString("🤖 *Link Bot Commands*\n\n")
	b.WriteString("/start - Show the control panel\n")
	b.WriteString("/help - Show this message\n")
	b.WriteString("/myid - Show your user ID\n")
	b.WriteString("/link - Show the link posted in this chat\n")
	if d.isAdmin(m.FromID) {
		b.WriteString("\n*Admin commands*\n")
		b.WriteString("/setlink <url> - Set a custom link for this chat\n")
		b.WriteString("/defaultlink - Remove the custom link for this chat\n")
		b.WriteString("/interval <hours> - Change the posting interval\n")
		b.WriteString("/stats - Show bot statistics\n")
		b.WriteString("/audit - Show recent admin actions\n")
	} else {
		b.WriteString("\nGroup admins can also use /setlink, /defaultlink and /interval.\n")
	}
	return b.String()
}

// cmdStart shows the role panel like /help and, in a group, also activates
// the chat (welcoming it on first activation).
func (d *Dispatcher) cmdStart(ctx context.Context, m *transport.Message) string {
	if m.IsGroup {
		known := d.reg.Active(m.ChatID)
		d.reg.Activate(m.ChatID)
		if m.ChatTitle != "" {
			d.reg.SetTitle(m.ChatID, m.ChatTitle)
		}
		if !known {
			d.sendWelcome(ctx, m.ChatID, m.ChatTitle)
		}
	}
	return d.startPanel(m)
}

func (d *Dispatcher) startPanel(m *transport.Message) string {
	if d.isAdmin(m.FromID) {
		return fmt.Sprintf("👋 *Admin panel*\n\n"+
			"Active groups: %d\n"+
			"Interval: %d hour(s)\n"+
			"Default link: %s\n\n"+
			"Use /help for the full command list.",
			d.reg.ActiveCount(), intervalHours(d.reg), d.reg.DefaultLink())
	}
	if m.IsGroup {
		return "👋 Hi! I post the configured link in this group on a schedule.\n\nUse /help to see what I can do."
	}
	return "👋 Hi! Add me to a group and I will post the configured link on a schedule.\n\nUse /help to see what I can do."
}

func (d *Dispatcher) cmdMyID(m *transport.Message) string {
	return fmt.Sprintf("🆔 Your ID: `%d`", m.FromID)
}

func (d *Dispatcher) cmdLink(m *transport.Message) string {
	if !m.IsGroup {
		return fmt.Sprintf("🔗 Default link: %s", d.reg.DefaultLink())
	}
	link := d.reg.Link(m.ChatID)
	return fmt.Sprintf("🔗 Current link for this chat: %s", link)
}

func (d *Dispatcher) cmdSetLink(ctx context.Context, m *transport.Message, arg string) string {
	if !d.canManage(ctx, m) {
		return deniedReply
	}
	url := firstToken(arg)
	if url == "" {
		return "Usage: /setlink <url>\n\nExample: /setlink https://example.com/invite"
	}
	if !m.IsGroup {
		// Private chat: process admins adjust the default link instead.
		if !d.isAdmin(m.FromID) {
			return deniedReply
		}
		err := d.reg.SetDefaultLink(url)
		d.audit(ctx, m, "setdefaultlink", url, err == nil)
		if err != nil {
			return "❌ Invalid link. It must start with http:// or https://."
		}
		return fmt.Sprintf("✅ Default link updated to %s", url)
	}
	err := d.reg.SetLink(m.ChatID, url)
	d.audit(ctx, m, "setlink", url, err == nil)
	if errors.Is(err, registry.ErrInvalidURL) {
		return "❌ Invalid link. It must start with http:// or https://."
	}
	if err != nil {
		return "❌ Could not update the link."
	}
	return fmt.Sprintf("✅ Link for this chat updated to %s", url)
}

func (d *Dispatcher) cmdDefaultLink(ctx context.Context, m *transport.Message) string {
	if !m.IsGroup {
		return "This command only works in a group chat."
	}
	if !d.canManage(ctx, m) {
		return deniedReply
	}
	d.reg.ResetLink(m.ChatID)
	d.audit(ctx, m, "defaultlink", "", true)
	return fmt.Sprintf("✅ Custom link removed. This chat now uses the default: %s", d.reg.DefaultLink())
}

func (d *Dispatcher) cmdInterval(ctx context.Context, m *transport.Message, arg string) string {
	if !d.canManage(ctx, m) {
		return deniedReply
	}
	hours, err := strconv.Atoi(firstToken(arg))
	if err != nil || hours < 1 {
		return "Usage: /interval <hours>\n\nThe interval must be a whole number of hours, at least 1."
	}
	err = d.reg.SetInterval(time.Duration(hours) * time.Hour)
	d.audit(ctx, m, "interval", strconv.Itoa(hours), err == nil)
	if err != nil {
		return "Usage: /interval <hours>\n\nThe interval must be a whole number of hours, at least 1."
	}
	return fmt.Sprintf("✅ Posting interval set to %d hour(s). The change applies after the current cycle.", hours)
}

func (d *Dispatcher) cmdStats(m *transport.Message) string {
	if !d.isAdmin(m.FromID) {
		return deniedReply
	}
	// Snapshot can hold records for chats that aren't active (an override
	// set before activation); only active groups count here.
	var groups []registry.GroupState
	for _, g := range d.reg.Snapshot() {
		if d.reg.Active(g.ID) {
			groups = append(groups, g)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Bot Statistics*\n\n")
	fmt.Fprintf(&b, "Active groups: %d\n", d.reg.ActiveCount())
	fmt.Fprintf(&b, "Interval: %d hour(s)\n", intervalHours(d.reg))
	fmt.Fprintf(&b, "Default link: %s\n", d.reg.DefaultLink())
	if m.IsGroup {
		fmt.Fprintf(&b, "Next post here: %s\n", fmtNextPost(d.reg, m.ChatID))
	}
	if len(groups) > 0 {
		b.WriteString("\n*Groups*\n")
		for _, g := range groups {
			title := g.Title
			if title == "" {
				title = strconv.FormatInt(g.ID, 10)
			}
			link := g.Link
			if !g.HasOverride {
				link = d.reg.DefaultLink() + " (default)"
			}
			fmt.Fprintf(&b, "• %s: %s\n", title, link)
		}
	}
	return b.String()
}

func (d *Dispatcher) cmdAudit(ctx context.Context, m *transport.Message) string {
	if !d.isAdmin(m.FromID) {
		return deniedReply
	}
	if d.store == nil {
		return "Auditing is disabled."
	}
	entries, err := d.store.RecentAudit(ctx, 10)
	if err != nil {
		d.log.Warn("audit query failed", logx.Err(err))
		return "❌ Could not read the audit log."
	}
	if len(entries) == 0 {
		return "No admin actions recorded yet."
	}
	var b strings.Builder
	b.WriteString("🗒 *Recent admin actions*\n\n")
	for _, e := range entries {
		status := "✅"
		if !e.OK {
			status = "❌"
		}
		fmt.Fprintf(&b, "%s %s `%d` %s %s\n",
			status, e.At.Format("01-02 15:04"), e.ActorID, e.Action, e.Arg)
	}
	return b.String()
}

// firstToken returns the first whitespace-separated token of s.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
