package ws

import (
	"context"

	"messenger/internal/metrics"

	"github.com/rs/zerolog/log"
)

// LocalDelivery 直接推送给本实例注册表里的连接。
type LocalDelivery struct {
	reg *Registry
}

func NewLocalDelivery(reg *Registry) *LocalDelivery {
	return &LocalDelivery{reg: reg}
}

// Deliver 对每个接收者独立推送；不在线的跳过，推送失败只影响该接收者。
func (l *LocalDelivery) Deliver(_ context.Context, recipients []uint, frame []byte) {
	for _, id := range recipients {
		peer, ok := l.reg.Lookup(id)
		if !ok {
			continue
		}
		if err := peer.Send(frame); err != nil {
			metrics.FanoutDeliveries.WithLabelValues("dropped").Inc()
			log.Warn().Err(err).Uint("user_id", id).Msg("push dropped")
			continue
		}
		metrics.FanoutDeliveries.WithLabelValues("delivered").Inc()
	}
}
