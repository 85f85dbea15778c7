package dispatch

import (
	"context"
	"fmt"
	"time"

	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

// handleBotAdded activates the group, sends a welcome with the current link
// and points the inviter at the customization commands.
func (d *Dispatcher) handleBotAdded(ctx context.Context, ev *transport.MemberEvent) {
	if !ev.IsGroup {
		return
	}
	d.reg.Activate(ev.ChatID)

	title := ev.ChatTitle
	if title == "" {
		t, err := d.adapter.ChatTitle(ctx, ev.ChatID)
		if err != nil {
			d.log.Debug("chat title lookup failed", logx.Int64("chat_id", ev.ChatID), logx.Err(err))
		} else {
			title = t
		}
	}
	if title != "" {
		d.reg.SetTitle(ev.ChatID, title)
	}

	d.log.Info("added to group",
		logx.Int64("chat_id", ev.ChatID),
		logx.String("title", title),
		logx.Int64("actor_id", ev.ActorID),
	)

	d.sendWelcome(ctx, ev.ChatID, title)
	if ev.ActorID != 0 && (d.isAdmin(ev.ActorID) || d.isChatAdminID(ctx, ev.ChatID, ev.ActorID)) {
		d.reply(ctx, ev.ChatID, "💡 You can customize me: /setlink <url> changes the posted link, /interval <hours> changes the cadence.")
	}
}

// handleBotRemoved drops the group, discarding any custom link so a later
// re-add starts from the default.
func (d *Dispatcher) handleBotRemoved(ctx context.Context, ev *transport.MemberEvent) {
	d.reg.Deactivate(ev.ChatID)
	d.log.Info("removed from group", logx.Int64("chat_id", ev.ChatID), logx.String("title", ev.ChatTitle))
}

// sendWelcome posts the greeting with the chat's effective link and counts
// it as a broadcast so the scheduler doesn't immediately post again.
func (d *Dispatcher) sendWelcome(ctx context.Context, chatID int64, title string) {
	if title == "" {
		title = "the group"
	}
	text := fmt.Sprintf("🌟 Welcome! I will keep %s supplied with the link:\n\n🔗 %s\n\nPosted every %d hour(s).",
		title, d.reg.Link(chatID), intervalHours(d.reg))
	_, err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	if err != nil {
		d.log.Warn("welcome send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	d.reg.RecordBroadcast(chatID, time.Now())
}
