package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"messenger/internal/service"
)

type fakeSessions map[string]uint

func (f fakeSessions) Resolve(_ context.Context, token string) (uint, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return 0, service.ErrSessionNotFound
}

type fakeChats struct {
	members map[uint][]uint
	err     error
}

func (f *fakeChats) IsMember(ctx context.Context, chatID, userID uint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.err != nil {
		return false, f.err
	}
	for _, id := range f.members[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChats) ParticipantsOf(ctx context.Context, chatID uint) ([]uint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.members[chatID], nil
}

type fakeMessages struct {
	mu     sync.Mutex
	stored []service.MessageView
	err    error
}

func (f *fakeMessages) Append(ctx context.Context, chatID, senderID uint, content string) (*service.MessageView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := service.MessageView{
		ID:        uint(len(f.stored) + 1),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Sender:    service.PublicUser{ID: senderID, Username: usernames[senderID]},
	}
	f.stored = append(f.stored, m)
	return &m, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

const (
	neo uint = iota + 1
	trinity
	morpheus
	smith
)

var usernames = map[uint]string{neo: "neo", trinity: "trinity", morpheus: "morpheus", smith: "smith"}

type harness struct {
	reg      *Registry
	store    *fakePresenceStore
	chats    *fakeChats
	messages *fakeMessages
	d        *Dispatcher
}

func newHarness() *harness {
	reg := NewRegistry()
	h := &harness{
		reg:      reg,
		store:    newFakePresenceStore(),
		chats:    &fakeChats{members: map[uint][]uint{7: {neo, trinity, morpheus}}},
		messages: &fakeMessages{},
	}
	sessions := fakeSessions{"neo-token": neo, "trinity-token": trinity, "morpheus-token": morpheus, "smith-token": smith}
	h.d = NewDispatcher(sessions, h.chats, h.messages, NewPresence(reg, h.store), NewLocalDelivery(reg))
	return h
}

func (h *harness) connect(t *testing.T, user uint) (*Conn, *fakePeer) {
	t.Helper()
	peer := &fakePeer{name: usernames[user]}
	c := NewConn(peer)
	c.Accept()
	if err := h.d.HandleFrame(context.Background(), c, frame(t, map[string]any{"type": "auth", "sessionId": usernames[user] + "-token"})); err != nil {
		t.Fatalf("auth %s: %v", usernames[user], err)
	}
	if c.State() != StateAuthenticated {
		t.Fatalf("state after auth = %s", c.State())
	}
	return c, peer
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeNewMessage(t *testing.T, b []byte) service.MessageView {
	t.Helper()
	var f struct {
		Type    string              `json:"type"`
		Message service.MessageView `json:"message"`
	}
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Type != FrameNewMessage {
		t.Fatalf("frame type = %q, want newMessage", f.Type)
	}
	return f.Message
}

func TestDispatcher_FanOutToOtherParticipants(t *testing.T) {
	h := newHarness()
	neoConn, neoPeer := h.connect(t, neo)
	_, trinityPeer := h.connect(t, trinity)
	_, morpheusPeer := h.connect(t, morpheus)

	err := h.d.HandleFrame(context.Background(), neoConn, frame(t, map[string]any{"type": "message", "chatId": 7, "content": "hi"}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	for _, p := range []*fakePeer{trinityPeer, morpheusPeer} {
		got := p.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d frames, want 1", p.name, len(got))
		}
		m := decodeNewMessage(t, got[0])
		if m.Content != "hi" || m.ChatID != 7 || m.Sender.Username != "neo" {
			t.Errorf("%s got %+v", p.name, m)
		}
	}
	if n := len(neoPeer.received()); n != 0 {
		t.Errorf("sender received %d frames, want 0", n)
	}
}

func TestDispatcher_DropsAndFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		sender    uint
		payload   map[string]any
		wantErr   error
		wantStore int
	}{
		{
			name:    "non-member is dropped",
			sender:  smith,
			payload: map[string]any{"type": "message", "chatId": 7, "content": "hi"},
			wantErr: ErrForbidden,
		},
		{
			name:    "empty content",
			sender:  neo,
			payload: map[string]any{"type": "message", "chatId": 7, "content": "  "},
			wantErr: ErrProtocol,
		},
		{
			name:    "missing chat id",
			sender:  neo,
			payload: map[string]any{"type": "message", "content": "hi"},
			wantErr: ErrProtocol,
		},
		{
			name:    "store failure aborts fan-out",
			setup:   func(h *harness) { h.messages.err = errors.New("disk full") },
			sender:  neo,
			payload: map[string]any{"type": "message", "chatId": 7, "content": "hi"},
			wantErr: ErrStore,
		},
		{
			name:    "membership lookup failure",
			setup:   func(h *harness) { h.chats.err = errors.New("timeout") },
			sender:  neo,
			payload: map[string]any{"type": "send_message", "chatId": 7, "content": "hi"},
			wantErr: ErrStore,
		},
		{
			name:    "unknown frame type",
			sender:  neo,
			payload: map[string]any{"type": "dance"},
			wantErr: ErrProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			sender, _ := h.connect(t, tt.sender)
			_, trinityPeer := h.connect(t, trinity)
			if tt.setup != nil {
				tt.setup(h)
			}

			err := h.d.HandleFrame(context.Background(), sender, frame(t, tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleFrame() error = %v, want %v", err, tt.wantErr)
			}
			if n := h.messages.count(); n != tt.wantStore {
				t.Errorf("stored messages = %d, want %d", n, tt.wantStore)
			}
			if n := len(trinityPeer.received()); n != 0 {
				t.Errorf("trinity received %d frames, want 0", n)
			}
			if sender.State() != StateAuthenticated {
				t.Errorf("state after error = %s, want authenticated", sender.State())
			}
		})
	}
}

func TestDispatcher_OfflineAndFailingPeers(t *testing.T) {
	h := newHarness()
	h.chats.members[7] = []uint{neo, trinity, trinity, morpheus}
	neoConn, _ := h.connect(t, neo)
	_, trinityPeer := h.connect(t, trinity)
	// morpheus 不在线；trinity 在成员列表里出现两次

	if err := h.d.HandleFrame(context.Background(), neoConn, frame(t, map[string]any{"type": "message", "chatId": 7, "content": "one"})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if n := len(trinityPeer.received()); n != 1 {
		t.Fatalf("trinity received %d frames, want exactly 1", n)
	}

	_, morpheusPeer := h.connect(t, morpheus)
	trinityPeer.mu.Lock()
	trinityPeer.fail = true
	trinityPeer.mu.Unlock()

	if err := h.d.HandleFrame(context.Background(), neoConn, frame(t, map[string]any{"type": "message", "chatId": 7, "content": "two"})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	got := morpheusPeer.received()
	if len(got) != 1 || decodeNewMessage(t, got[0]).Content != "two" {
		t.Errorf("morpheus frames = %d, want only the second message", len(got))
	}
	if h.messages.count() != 2 {
		t.Errorf("stored = %d, want 2", h.messages.count())
	}
}

func TestDispatcher_AuthHandshake(t *testing.T) {
	h := newHarness()
	peer := &fakePeer{}
	c := NewConn(peer)

	ctx := context.Background()
	if err := h.d.HandleFrame(ctx, c, frame(t, map[string]any{"type": "auth", "sessionId": "neo-token"})); err != nil {
		t.Fatalf("frame before accept error = %v", err)
	}
	if c.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", c.State())
	}
	c.Accept()

	steps := []struct {
		name    string
		payload map[string]any
		wantErr error
		want    State
	}{
		{"message before auth", map[string]any{"type": "message", "chatId": 7, "content": "hi"}, ErrAuth, StateUnauthenticated},
		{"bad token", map[string]any{"type": "auth", "sessionId": "expired"}, ErrAuth, StateUnauthenticated},
		{"good token", map[string]any{"type": "auth", "sessionId": "neo-token"}, nil, StateAuthenticated},
		{"second auth ignored", map[string]any{"type": "auth", "sessionId": "trinity-token"}, nil, StateAuthenticated},
	}
	for _, s := range steps {
		err := h.d.HandleFrame(ctx, c, frame(t, s.payload))
		if !errors.Is(err, s.wantErr) {
			t.Errorf("%s: error = %v, want %v", s.name, err, s.wantErr)
		}
		if c.State() != s.want {
			t.Errorf("%s: state = %s, want %s", s.name, c.State(), s.want)
		}
	}
	if uid, ok := c.UserID(); !ok || uid != neo {
		t.Errorf("UserID() = %d, %v; want neo", uid, ok)
	}
	if h.messages.count() != 0 {
		t.Error("message before auth was stored")
	}
	if err := h.d.HandleFrame(ctx, c, []byte("{not json")); !errors.Is(err, ErrProtocol) {
		t.Errorf("malformed frame error = %v, want ErrProtocol", err)
	}
}

func TestDispatcher_CloseTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated close is a no-op", func(t *testing.T) {
		h := newHarness()
		c := NewConn(&fakePeer{})
		c.Accept()
		if err := h.d.Close(ctx, c); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if c.State() != StateClosed || len(h.store.log) != 0 {
			t.Errorf("state = %s, transitions = %v", c.State(), h.store.log)
		}
	})

	t.Run("rebind then stale close", func(t *testing.T) {
		h := newHarness()
		a, _ := h.connect(t, neo)
		b, bPeer := h.connect(t, neo)

		if err := h.d.Close(ctx, a); err != nil {
			t.Fatalf("Close(A) error = %v", err)
		}
		if !h.store.isOnline(neo) {
			t.Fatal("closing A marked neo offline while B is bound")
		}
		if p, ok := h.reg.Lookup(neo); !ok || p != bPeer {
			t.Fatal("B lost its binding")
		}

		if err := h.d.Close(ctx, b); err != nil {
			t.Fatalf("Close(B) error = %v", err)
		}
		if h.store.isOnline(neo) {
			t.Error("neo online after B closed")
		}
		if err := h.d.Close(ctx, b); err != nil {
			t.Errorf("second Close(B) error = %v", err)
		}
		if len(h.store.log) != 3 {
			t.Errorf("transitions = %v, want online, online, offline", h.store.log)
		}
	})

	t.Run("closed connection ignores frames", func(t *testing.T) {
		h := newHarness()
		c, _ := h.connect(t, neo)
		h.d.Close(ctx, c)
		if err := h.d.HandleFrame(ctx, c, frame(t, map[string]any{"type": "message", "chatId": 7, "content": "late"})); err != nil {
			t.Errorf("HandleFrame() after close error = %v", err)
		}
		if h.messages.count() != 0 {
			t.Error("frame after close was stored")
		}
	})
}

func TestDispatcher_CancelledConnectionStillPersists(t *testing.T) {
	h := newHarness()
	neoConn, _ := h.connect(t, neo)
	_, trinityPeer := h.connect(t, trinity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.d.HandleFrame(ctx, neoConn, frame(t, map[string]any{"type": "message", "chatId": 7, "content": "bye"}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if h.messages.count() != 1 || len(trinityPeer.received()) != 1 {
		t.Errorf("stored = %d, trinity frames = %d; want 1 and 1", h.messages.count(), len(trinityPeer.received()))
	}
}

func TestDispatcher_Typing(t *testing.T) {
	h := newHarness()
	neoConn, neoPeer := h.connect(t, neo)
	_, trinityPeer := h.connect(t, trinity)

	if err := h.d.HandleFrame(context.Background(), neoConn, frame(t, map[string]any{"type": "typing", "chatId": 7, "isTyping": true})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	got := trinityPeer.received()
	if len(got) != 1 {
		t.Fatalf("trinity received %d frames, want 1", len(got))
	}
	var tf typingFrame
	if err := json.Unmarshal(got[0], &tf); err != nil || tf.Type != FrameTyping || tf.UserID != neo || !tf.IsTyping {
		t.Errorf("typing frame = %+v, %v", tf, err)
	}
	if len(neoPeer.received()) != 0 || h.messages.count() != 0 {
		t.Error("typing must not echo to the sender or be stored")
	}
}

func TestDispatcher_TypingOnClosedConnectionIsDropped(t *testing.T) {
	h := newHarness()
	neoConn, _ := h.connect(t, neo)
	_, trinityPeer := h.connect(t, trinity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.d.HandleFrame(ctx, neoConn, frame(t, map[string]any{"type": "typing", "chatId": 7, "isTyping": true}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HandleFrame() error = %v, want context.Canceled", err)
	}
	if got := trinityPeer.received(); len(got) != 0 {
		t.Errorf("trinity received %d frames after close, want 0", len(got))
	}
}

func TestRecipients(t *testing.T) {
	got := recipients([]uint{1, 2, 2, 3, 1, 4}, 1)
	want := []uint{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("recipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients() = %v, want %v", got, want)
		}
	}
}
