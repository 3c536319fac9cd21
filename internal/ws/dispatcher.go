package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"messenger/internal/metrics"
	"messenger/internal/service"
)

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (uint, error)
}

type Membership interface {
	IsMember(ctx context.Context, chatID, userID uint) (bool, error)
	ParticipantsOf(ctx context.Context, chatID uint) ([]uint, error)
}

type MessageAppender interface {
	Append(ctx context.Context, chatID, senderID uint, content string) (*service.MessageView, error)
}

// Deliverer 把一帧推给一组用户，只投递给当前有绑定的用户，单个接收者失败互不影响。
type Deliverer interface {
	Deliver(ctx context.Context, recipients []uint, frame []byte)
}

type State int

const (
	StateConnecting State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn 保存单个连接的协议状态。
type Conn struct {
	peer Peer

	mu     sync.Mutex
	state  State
	userID uint
	gen    uint64
}

func NewConn(peer Peer) *Conn {
	return &Conn{peer: peer, state: StateConnecting}
}

// Accept 在传输层握手完成后调用。
func (c *Conn) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateUnauthenticated
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID 返回已认证的用户，未认证时 ok 为 false。
func (c *Conn) UserID() (uint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.state == StateAuthenticated
}

// Dispatcher 是实时协议的状态机：每个入站帧对应一次状态转换。
type Dispatcher struct {
	sessions SessionResolver
	members  Membership
	messages MessageAppender
	presence *Presence
	deliver  Deliverer
}

func NewDispatcher(sessions SessionResolver, members Membership, messages MessageAppender, presence *Presence, deliver Deliverer) *Dispatcher {
	return &Dispatcher{sessions: sessions, members: members, messages: messages, presence: presence, deliver: deliver}
}

// HandleFrame 处理一个入站帧。返回的错误只用于记录日志，连接继续服务。
func (d *Dispatcher) HandleFrame(ctx context.Context, c *Conn, data []byte) error {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode frame: %w: %w", ErrProtocol, err)
	}

	switch c.State() {
	case StateUnauthenticated:
		if in.Type != FrameAuth {
			return fmt.Errorf("%s before auth: %w", in.Type, ErrAuth)
		}
		return d.authenticate(ctx, c, in.SessionID)
	case StateAuthenticated:
	default:
		return nil
	}

	switch in.Type {
	case FrameAuth:
		return nil
	case FrameMessage, FrameSendMessage:
		return d.sendMessage(ctx, c, in)
	case FrameTyping:
		return d.typing(ctx, c, in)
	default:
		return fmt.Errorf("frame type %q: %w", in.Type, ErrProtocol)
	}
}

func (d *Dispatcher) authenticate(ctx context.Context, c *Conn, token string) error {
	userID, err := d.sessions.Resolve(ctx, token)
	if errors.Is(err, service.ErrSessionNotFound) {
		return ErrAuth
	}
	if err != nil {
		return fmt.Errorf("resolve session: %w: %w", ErrStore, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return nil
	}
	gen, err := d.presence.Connect(context.WithoutCancel(ctx), userID, c.peer)
	c.state, c.userID, c.gen = StateAuthenticated, userID, gen
	return err
}

// sendMessage 先持久化，成功后再扇出给在线的其他成员。
// 存储操作不随连接的 ctx 取消，连接关闭时已开始的扇出会继续完成。
func (d *Dispatcher) sendMessage(ctx context.Context, c *Conn, in inboundFrame) error {
	userID, _ := c.UserID()
	if in.ChatID == 0 {
		return fmt.Errorf("message without chatId: %w", ErrProtocol)
	}
	if err := service.ValidateContent(in.Content); err != nil {
		return fmt.Errorf("message content: %w: %w", ErrProtocol, err)
	}
	ctx = context.WithoutCancel(ctx)

	ok, err := d.members.IsMember(ctx, in.ChatID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w: %w", ErrStore, err)
	}
	if !ok {
		return fmt.Errorf("chat %d: %w", in.ChatID, ErrForbidden)
	}

	msg, err := d.messages.Append(ctx, in.ChatID, userID, in.Content)
	if err != nil {
		return fmt.Errorf("append message: %w: %w", ErrStore, err)
	}
	metrics.WsMessagesTotal.Inc()

	frame, err := json.Marshal(newMessageFrame{Type: FrameNewMessage, Message: msg})
	if err != nil {
		return err
	}
	return d.fanout(ctx, in.ChatID, userID, frame)
}

// typing 是不落库的输入提示。
// 与 sendMessage 不同，这里沿用连接的 ctx：连接关闭后未发出的输入提示直接丢弃。
func (d *Dispatcher) typing(ctx context.Context, c *Conn, in inboundFrame) error {
	userID, _ := c.UserID()
	if in.ChatID == 0 {
		return fmt.Errorf("typing without chatId: %w", ErrProtocol)
	}
	ok, err := d.members.IsMember(ctx, in.ChatID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w: %w", ErrStore, err)
	}
	if !ok {
		return fmt.Errorf("chat %d: %w", in.ChatID, ErrForbidden)
	}
	frame, err := json.Marshal(typingFrame{Type: FrameTyping, ChatID: in.ChatID, UserID: userID, IsTyping: in.IsTyping})
	if err != nil {
		return err
	}
	return d.fanout(ctx, in.ChatID, userID, frame)
}

func (d *Dispatcher) fanout(ctx context.Context, chatID, senderID uint, frame []byte) error {
	participants, err := d.members.ParticipantsOf(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list participants: %w: %w", ErrStore, err)
	}
	d.deliver.Deliver(ctx, recipients(participants, senderID), frame)
	return nil
}

// recipients 对成员去重并排除发送者。
func recipients(participants []uint, senderID uint) []uint {
	seen := make(map[uint]struct{}, len(participants))
	out := make([]uint, 0, len(participants))
	for _, id := range participants {
		if id == senderID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Close 把连接转入 Closed；可重复调用。已认证的连接只有仍持有绑定时才会记录离线。
func (d *Dispatcher) Close(ctx context.Context, c *Conn) error {
	c.mu.Lock()
	prev, userID, gen := c.state, c.userID, c.gen
	c.state = StateClosed
	c.mu.Unlock()

	if prev != StateAuthenticated {
		return nil
	}
	_, err := d.presence.Disconnect(context.WithoutCancel(ctx), userID, gen)
	return err
}
