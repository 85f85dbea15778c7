package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"linkbot/internal/registry"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

type fakeAdapter struct {
	mu         sync.Mutex
	sent       []sentMsg
	chatAdmins map[int64][]int64
	adminsErr  error
	username   string
}

type sentMsg struct {
	chatID int64
	text   string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opts *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	return "Fetched Title", nil
}

func (f *fakeAdapter) ChatAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	if f.adminsErr != nil {
		return nil, f.adminsErr
	}
	return f.chatAdmins[chatID], nil
}

func (f *fakeAdapter) BotUsername() string { return f.username }

func (f *fakeAdapter) lastSent() (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func newTestDispatcher(t *testing.T, adapter *fakeAdapter, admins []int64) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg := registry.New("https://default.example.com", 24*time.Hour)
	return New(adapter, reg, admins, nil, logx.Nop()), reg
}

func groupMsg(chatID, fromID int64, text string) *transport.Message {
	return &transport.Message{ChatID: chatID, FromID: fromID, Text: text, IsGroup: true, ChatTitle: "Test Group"}
}

func TestParseCommand(t *testing.T) {
	adapter := &fakeAdapter{username: "LinkBot"}
	d, _ := newTestDispatcher(t, adapter, nil)

	tests := []struct {
		text    string
		wantCmd string
		wantArg string
		wantOK  bool
	}{
		{"/help", "help", "", true},
		{"/setlink https://a.example", "setlink", "https://a.example", true},
		{"/setlink@LinkBot https://a.example", "setlink", "https://a.example", true},
		{"/setlink@linkbot https://a.example", "setlink", "https://a.example", true},
		{"/setlink@OtherBot https://a.example", "", "", false},
		{"hello there", "", "", false},
		{"/", "", "", false},
		{"  /myid  ", "myid", "", true},
		{"/interval 6 extra words", "interval", "6 extra words", true},
	}
	for _, tt := range tests {
		cmd, arg, ok := d.parseCommand(tt.text)
		if ok != tt.wantOK || cmd != tt.wantCmd || arg != tt.wantArg {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.text, cmd, arg, ok, tt.wantCmd, tt.wantArg, tt.wantOK)
		}
	}
}

func TestSetLinkAuthorization(t *testing.T) {
	const chatID = int64(-100)
	tests := []struct {
		name      string
		fromID    int64
		chatAdmin bool
		adminsErr error
		wantOK    bool
	}{
		{name: "process admin", fromID: 1, wantOK: true},
		{name: "chat admin", fromID: 50, chatAdmin: true, wantOK: true},
		{name: "regular member", fromID: 99, wantOK: false},
		{name: "admin lookup fails", fromID: 50, chatAdmin: true, adminsErr: errors.New("api down"), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{chatAdmins: map[int64][]int64{}, adminsErr: tt.adminsErr}
			if tt.chatAdmin {
				adapter.chatAdmins[chatID] = []int64{tt.fromID}
			}
			d, reg := newTestDispatcher(t, adapter, []int64{1})
			reg.Activate(chatID)

			reply := d.cmdSetLink(context.Background(), groupMsg(chatID, tt.fromID, ""), "https://new.example.com")
			if tt.wantOK {
				if strings.Contains(reply, "🚫") {
					t.Fatalf("expected success, got denial: %q", reply)
				}
				if got := reg.Link(chatID); got != "https://new.example.com" {
					t.Fatalf("link = %q, want override", got)
				}
			} else {
				if reply != deniedReply {
					t.Fatalf("reply = %q, want denial", reply)
				}
				if got := reg.Link(chatID); got != "https://default.example.com" {
					t.Fatalf("link = %q, should be unchanged", got)
				}
			}
		})
	}
}

func TestSetLinkRejectsInvalidURL(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-100)

	for _, bad := range []string{"ftp://x.example", "example.com", ""} {
		reply := d.cmdSetLink(context.Background(), groupMsg(-100, 1, ""), bad)
		if strings.HasPrefix(reply, "✅") {
			t.Fatalf("setlink %q unexpectedly succeeded", bad)
		}
	}
	if got := reg.Link(-100); got != "https://default.example.com" {
		t.Fatalf("link = %q, want default preserved", got)
	}
}

func TestIntervalCommand(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})

	tests := []struct {
		arg       string
		wantHours int
	}{
		{"6", 6},
		{"abc", 24},
		{"0", 24},
		{"-3", 24},
		{"", 24},
	}
	for _, tt := range tests {
		reg.SetInterval(24 * time.Hour)
		d.cmdInterval(context.Background(), groupMsg(-100, 1, ""), tt.arg)
		if got := int(reg.Interval() / time.Hour); got != tt.wantHours {
			t.Errorf("after /interval %q: interval = %dh, want %dh", tt.arg, got, tt.wantHours)
		}
	}
}

func TestStartInGroupShowsPanelAndActivates(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})

	// First /start: activates, welcomes and still replies with the panel.
	reply := d.cmdStart(context.Background(), groupMsg(-600, 99, "/start"))
	if !reg.Active(-600) {
		t.Fatal("group should be active after /start")
	}
	if len(adapter.sent) != 1 || !strings.Contains(adapter.sent[0].text, "https://default.example.com") {
		t.Fatalf("expected one welcome message, got %v", adapter.sent)
	}
	if !strings.Contains(reply, "/help") {
		t.Fatalf("reply = %q, want panel text", reply)
	}

	// Second /start: no second welcome, panel again.
	reply = d.cmdStart(context.Background(), groupMsg(-600, 99, "/start"))
	if len(adapter.sent) != 1 {
		t.Fatalf("known group should not be welcomed again, sent %d messages", len(adapter.sent))
	}
	if !strings.Contains(reply, "/help") {
		t.Fatalf("reply = %q, want panel text", reply)
	}

	// Admins get the admin panel.
	reply = d.cmdStart(context.Background(), groupMsg(-600, 1, "/start"))
	if !strings.Contains(reply, "Admin panel") {
		t.Fatalf("admin reply = %q, want admin panel", reply)
	}
}

func TestDefaultLinkDeniedForRegularMember(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-100)
	if err := reg.SetLink(-100, "https://custom.example.com"); err != nil {
		t.Fatal(err)
	}

	if reply := d.cmdDefaultLink(context.Background(), groupMsg(-100, 99, "")); reply != deniedReply {
		t.Fatalf("reply = %q, want denial", reply)
	}
	if got := reg.Link(-100); got != "https://custom.example.com" {
		t.Fatalf("link = %q, override should survive a denied reset", got)
	}
}

func TestIntervalDeniedForRegularMember(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})

	if reply := d.cmdInterval(context.Background(), groupMsg(-100, 99, ""), "6"); reply != deniedReply {
		t.Fatalf("reply = %q, want denial", reply)
	}
	if got := reg.Interval(); got != 24*time.Hour {
		t.Fatalf("interval = %v, should be unchanged", got)
	}
}

func TestStatsCountsOnlyActiveGroups(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-100)
	reg.SetTitle(-100, "Active Group")
	// Record without activation: an override set for a chat the bot is not in.
	if err := reg.SetLink(-200, "https://ghost.example.com"); err != nil {
		t.Fatal(err)
	}
	reg.SetTitle(-200, "Ghost Group")

	reply := d.cmdStats(groupMsg(-100, 1, ""))
	if !strings.Contains(reply, "Active groups: 1") {
		t.Fatalf("stats reply = %q, want count of 1", reply)
	}
	if strings.Contains(reply, "Ghost Group") {
		t.Fatalf("stats reply lists an inactive group: %q", reply)
	}
}

func TestStatsAdminOnly(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-100)
	reg.SetTitle(-100, "Group A")

	if reply := d.cmdStats(groupMsg(-100, 99, "")); reply != deniedReply {
		t.Fatalf("non-admin stats reply = %q, want denial", reply)
	}
	reply := d.cmdStats(groupMsg(-100, 1, ""))
	if !strings.Contains(reply, "Active groups: 1") || !strings.Contains(reply, "Group A") {
		t.Fatalf("admin stats reply missing content: %q", reply)
	}
}

func TestBotAddedActivatesAndWelcomes(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, nil)

	d.handleBotAdded(context.Background(), &transport.MemberEvent{
		ChatID: -200, ChatTitle: "New Group", ActorID: 7, IsGroup: true,
	})

	if !reg.Active(-200) {
		t.Fatal("group should be active after bot added")
	}
	if len(adapter.sent) < 1 {
		t.Fatal("expected welcome message")
	}
	if !strings.Contains(adapter.sent[0].text, "https://default.example.com") {
		t.Fatalf("welcome missing link: %q", adapter.sent[0].text)
	}
	if _, ok := reg.LastBroadcast(-200); !ok {
		t.Fatal("welcome should count as a broadcast")
	}
}

func TestBotRemovedDiscardsState(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-300)
	if err := reg.SetLink(-300, "https://custom.example.com"); err != nil {
		t.Fatal(err)
	}

	d.handleBotRemoved(context.Background(), &transport.MemberEvent{ChatID: -300, IsGroup: true})
	if reg.Active(-300) {
		t.Fatal("group should be inactive after removal")
	}

	reg.Activate(-300)
	if got := reg.Link(-300); got != "https://default.example.com" {
		t.Fatalf("re-added group link = %q, want default", got)
	}
}

func TestLinkCommandShowsEffectiveLink(t *testing.T) {
	adapter := &fakeAdapter{}
	d, reg := newTestDispatcher(t, adapter, []int64{1})
	reg.Activate(-400)

	if reply := d.cmdLink(groupMsg(-400, 99, "")); !strings.Contains(reply, "https://default.example.com") {
		t.Fatalf("link reply = %q, want default link", reply)
	}
	if err := reg.SetLink(-400, "https://override.example.com"); err != nil {
		t.Fatal(err)
	}
	if reply := d.cmdLink(groupMsg(-400, 99, "")); !strings.Contains(reply, "https://override.example.com") {
		t.Fatalf("link reply = %q, want override", reply)
	}
}

func TestRunDispatchesAndStops(t *testing.T) {
	adapter := &fakeAdapter{}
	d, _ := newTestDispatcher(t, adapter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: groupMsg(-500, 9, "/link")}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := adapter.lastSent(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no reply sent")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
