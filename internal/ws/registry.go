package ws

import (
	"sync"

	"messenger/internal/metrics"
)

// Peer 是可以推送帧的连接句柄；Send 不能阻塞，推不进去时直接返回错误。
type Peer interface {
	Send(frame []byte) error
}

type binding struct {
	peer Peer
	gen  uint64
}

// Registry 维护用户到唯一在线连接的映射，每次绑定分配一个递增的 generation。
type Registry struct {
	mu    sync.RWMutex
	peers map[uint]binding
	gen   uint64
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[uint]binding)}
}

// Bind 覆盖用户已有的绑定，返回本次绑定的 generation。
func (r *Registry) Bind(userID uint, p Peer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.peers[userID] = binding{peer: p, gen: r.gen}
	metrics.WsBoundUsers.Set(float64(len(r.peers)))
	return r.gen
}

func (r *Registry) Unbind(userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, userID)
	metrics.WsBoundUsers.Set(float64(len(r.peers)))
}

// UnbindIf 仅当当前绑定仍是 gen 时才解除，返回是否解除。
func (r *Registry) UnbindIf(userID uint, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.peers[userID]
	if !ok || b.gen != gen {
		return false
	}
	delete(r.peers, userID)
	metrics.WsBoundUsers.Set(float64(len(r.peers)))
	return true
}

func (r *Registry) Lookup(userID uint) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.peers[userID]
	return b.peer, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
