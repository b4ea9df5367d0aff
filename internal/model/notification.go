package model

import (
	"encoding/json"
	"time"
)

// 通知派发状态（outbox 风格）
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification 生命周期事件产生的通知，追加写入通知日志，
// 由 dispatcher 异步发布到事件总线。
type Notification struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsRead     bool            `json:"is_read"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}
