package ws

import (
	"context"
	"fmt"
	"sync"

	"messenger/internal/metrics"
)

// PresenceStore 持久化在线状态。
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uint) error
	SetOffline(ctx context.Context, userID uint) error
}

const presenceStripes = 64

// Presence 把绑定/解绑与在线状态的持久化串在一起。
// 同一用户的转换经由同一把条带锁，持久化顺序与注册表顺序一致。
type Presence struct {
	reg     *Registry
	store   PresenceStore
	stripes [presenceStripes]sync.Mutex
}

func NewPresence(reg *Registry, store PresenceStore) *Presence {
	return &Presence{reg: reg, store: store}
}

func (p *Presence) lock(userID uint) func() {
	m := &p.stripes[userID%presenceStripes]
	m.Lock()
	return m.Unlock
}

// Connect 绑定连接并记录上线。持久化失败时绑定依然有效。
func (p *Presence) Connect(ctx context.Context, userID uint, peer Peer) (uint64, error) {
	defer p.lock(userID)()
	gen := p.reg.Bind(userID, peer)
	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	if err := p.store.SetOnline(ctx, userID); err != nil {
		return gen, fmt.Errorf("set online: %w: %w", ErrStore, err)
	}
	return gen, nil
}

// Disconnect 仅当 gen 仍持有绑定时解绑并记录离线；被新连接顶替的旧连接关闭时返回 false。
func (p *Presence) Disconnect(ctx context.Context, userID uint, gen uint64) (bool, error) {
	defer p.lock(userID)()
	if !p.reg.UnbindIf(userID, gen) {
		metrics.PresenceTransitions.WithLabelValues("suppressed").Inc()
		return false, nil
	}
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	if err := p.store.SetOffline(ctx, userID); err != nil {
		return true, fmt.Errorf("set offline: %w: %w", ErrStore, err)
	}
	return true, nil
}
