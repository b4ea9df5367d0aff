package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailtriage/contracts/event"
	"mailtriage/internal/bus"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/pkg/metrics"
)

// Dispatcher 轮询通知日志中的 pending 通知并发布到事件总线，
// 发布成功标记 sent，失败累计重试次数直至 failed。
type Dispatcher struct {
	repo       *repository.FileNotificationRepository
	eventBus   bus.Bus
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(
	repo *repository.FileNotificationRepository,
	eventBus bus.Bus,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		eventBus:   eventBus,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// Start 启动派发循环（应在 goroutine 中运行，ctx 取消即退出）
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting notification dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchPending(ctx)
		}
	}
}

// DispatchPending 处理一轮 pending 通知
func (d *Dispatcher) DispatchPending(ctx context.Context) {
	pending, err := d.repo.GetPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to load pending notifications", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	for _, n := range pending {
		if err := d.publish(ctx, n); err != nil {
			d.logger.Error("Failed to publish notification",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			metrics.IncrementNotificationDispatch("failed")
			if err := d.repo.MarkAsFailed(ctx, n.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark notification as failed",
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
			continue
		}

		metrics.IncrementNotificationDispatch("sent")
		if err := d.repo.MarkAsSent(ctx, n.ID); err != nil {
			d.logger.Error("Failed to mark notification as sent",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, n *model.Notification) error {
	return d.eventBus.Publish(ctx, event.NotificationCreated, event.NotificationCreatedPayload{
		NotificationID: n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		Payload:        n.Payload,
		CreatedAt:      n.CreatedAt,
	})
}
