package bus

import (
	"context"

	"mailtriage/pkg/mq"
)

// AMQPBus 把事件发布到 RabbitMQ topic exchange。
type AMQPBus struct {
	publisher *mq.Publisher
}

func NewAMQPBus(publisher *mq.Publisher) *AMQPBus {
	return &AMQPBus{publisher: publisher}
}

func (b *AMQPBus) Publish(ctx context.Context, routingKey string, payload any) error {
	return b.publisher.PublishWithContext(ctx, routingKey, payload)
}
