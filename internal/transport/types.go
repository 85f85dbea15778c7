// Package transport defines the chat-platform boundary: inbound updates and
// the Adapter interface the rest of the bot talks through.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateBotAdded / UpdateBotRemoved fire when the bot itself joins or
	// leaves a group chat.
	UpdateBotAdded   UpdateKind = "bot_added"
	UpdateBotRemoved UpdateKind = "bot_removed"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberEvent
}

type Message struct {
	ID           int
	ChatID       int64
	ChatTitle    string
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// MemberEvent describes the bot being added to or removed from a chat.
// ActorID is the user who added/removed the bot.
type MemberEvent struct {
	ChatID    int64
	ChatTitle string
	ActorID   int64
	IsGroup   bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// ChatTitle fetches display metadata for a chat.
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	// ChatAdmins lists the user ids holding administrator rights in a chat.
	ChatAdmins(ctx context.Context, chatID int64) ([]int64, error)

	// BotUsername returns the bot's own @username (without the @).
	BotUsername() string
}
