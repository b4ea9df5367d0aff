package event

import "time"

// Routing keys published to the event bus.
const (
	RecordCreated       = "record.created"
	RecordTransitioned  = "record.transitioned"
	NotificationCreated = "notification.created"
)

// 记录创建事件的 payload
type RecordCreatedPayload struct {
	RecordID   string    `json:"record_id"`
	SourceID   string    `json:"source_id"`
	Subject    string    `json:"subject"`
	Category   string    `json:"category"`
	ReceivedAt time.Time `json:"received_at"`
}

// 状态转换事件的 payload
type RecordTransitionedPayload struct {
	RecordID     string    `json:"record_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	Category     string    `json:"category"`
	TransitionAt time.Time `json:"transition_at"`
}
