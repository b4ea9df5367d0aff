package bus

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Event 一条已发布的事件
type Event struct {
	RoutingKey string
	Payload    json.RawMessage
}

// Bus 是生命周期引擎对外发布事件的口子。核心不持有任何 socket：
// 传输（AMQP、SSE 等）由注入的实现负责。发布是 fire-and-forget 的，
// 失败只影响通知投递，不影响业务正确性。
type Bus interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// ChannelBus 进程内实现：事件写入带缓冲的 channel，供进程内订阅方消费。
// 缓冲满时丢弃事件而不是阻塞业务操作。
type ChannelBus struct {
	ch     chan Event
	logger *zap.Logger
}

func NewChannelBus(buffer int, logger *zap.Logger) *ChannelBus {
	if buffer <= 0 {
		buffer = 128
	}
	return &ChannelBus{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

func (b *ChannelBus) Publish(ctx context.Context, routingKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	select {
	case b.ch <- Event{RoutingKey: routingKey, Payload: data}:
	default:
		// 满了就丢，通知是尽力而为
		if b.logger != nil {
			b.logger.Warn("Event bus buffer full, dropping event",
				zap.String("routing_key", routingKey),
			)
		}
	}
	return nil
}

// Events 返回订阅端 channel
func (b *ChannelBus) Events() <-chan Event {
	return b.ch
}
