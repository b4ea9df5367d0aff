package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 生命周期状态转换计数
	RecordTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_transition_count",
			Help: "Total number of record lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	// Agent 调用延迟（毫秒）
	AgentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_call_latency_ms",
			Help:    "Agent service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	// 分区读写延迟（秒）
	PartitionOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partition_op_duration_seconds",
			Help:    "Partition read/write duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		},
		[]string{"operation", "partition"},
	)

	// 摄取去重跳过计数
	DedupSkippedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_skipped_count",
			Help: "Total number of records skipped by source-id deduplication",
		},
		[]string{"stage"}, // stage: redis, store
	)

	// 记录摄取计数
	RecordIngestedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_ingested_count",
			Help: "Total number of records ingested",
		},
		[]string{"category"},
	)

	// 通知派发计数
	NotificationDispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_count",
			Help: "Total number of notifications dispatched to the event bus",
		},
		[]string{"status"}, // status: sent, failed
	)
)

// RecordTransition 记录一次状态转换
func RecordTransition(from, to string) {
	RecordTransitionCount.WithLabelValues(from, to).Inc()
}

// RecordAgentCallLatency 记录 Agent 调用延迟
func RecordAgentCallLatency(endpoint, status string, duration time.Duration) {
	AgentCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordPartitionOp 记录分区操作延迟
func RecordPartitionOp(operation, partition string, duration time.Duration) {
	PartitionOpDuration.WithLabelValues(operation, partition).Observe(duration.Seconds())
}

// IncrementDedupSkipped 增加去重跳过计数
func IncrementDedupSkipped(stage string) {
	DedupSkippedCount.WithLabelValues(stage).Inc()
}

// IncrementRecordIngested 增加记录摄取计数
func IncrementRecordIngested(category string) {
	RecordIngestedCount.WithLabelValues(category).Inc()
}

// IncrementNotificationDispatch 增加通知派发计数
func IncrementNotificationDispatch(status string) {
	NotificationDispatchCount.WithLabelValues(status).Inc()
}
