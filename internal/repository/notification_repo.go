package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/trace"
)

// FileNotificationRepository 通知日志：追加写入单个文件，
// dispatcher 轮询 pending 并在发布后标记 sent/failed。
type FileNotificationRepository struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

func NewFileNotificationRepository(dataDir string, logger *zap.Logger) (*FileNotificationRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileNotificationRepository{
		path:   filepath.Join(dataDir, "notifications.json"),
		logger: logger,
	}, nil
}

func (r *FileNotificationRepository) load() ([]*model.Notification, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notification log: %w", err)
	}
	var items []*model.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode notification log: %w", err)
	}
	return items, nil
}

func (r *FileNotificationRepository) save(items []*model.Notification) error {
	if items == nil {
		items = []*model.Notification{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode notification log: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("commit notification log: %w", err)
	}
	return nil
}

// Insert appends a pending notification and returns it.
func (r *FileNotificationRepository) Insert(ctx context.Context, typ, title, message string, payload json.RawMessage) (*model.Notification, error) {
	n := &model.Notification{
		ID:        trace.NewID(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Payload:   payload,
		Status:    model.NotificationPending,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}
	items = append([]*model.Notification{n}, items...)
	if err := r.save(items); err != nil {
		return nil, err
	}

	r.logger.Debug("Notification inserted",
		zap.String("id", n.ID),
		zap.String("type", typ),
	)
	return n, nil
}

// GetPending returns up to limit notifications awaiting dispatch, oldest first.
func (r *FileNotificationRepository) GetPending(ctx context.Context, limit int) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}

	var pending []*model.Notification
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Status == model.NotificationPending {
			pending = append(pending, items[i])
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

// MarkAsSent 标记为已发送
func (r *FileNotificationRepository) MarkAsSent(ctx context.Context, id string) error {
	return r.setStatus(id, func(n *model.Notification) {
		n.Status = model.NotificationSent
	})
}

// MarkAsFailed 增加重试计数，超过 maxRetries 后置为 failed
func (r *FileNotificationRepository) MarkAsFailed(ctx context.Context, id string, maxRetries int) error {
	return r.setStatus(id, func(n *model.Notification) {
		n.RetryCount++
		if n.RetryCount >= maxRetries {
			n.Status = model.NotificationFailed
		}
	})
}

// MarkAsRead 标记为已读
func (r *FileNotificationRepository) MarkAsRead(ctx context.Context, id string) error {
	return r.setStatus(id, func(n *model.Notification) {
		n.IsRead = true
	})
}

func (r *FileNotificationRepository) setStatus(id string, mutate func(*model.Notification)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}
	for _, n := range items {
		if n.ID == id {
			mutate(n)
			return r.save(items)
		}
	}
	return ErrNotFound
}

// List returns the notification log, newest first.
func (r *FileNotificationRepository) List(ctx context.Context) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}
