package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailtriage/contracts/event"
	"mailtriage/internal/bus"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/retry"
)

const opClassify = "agent.classify"

// Classifier 外部分类服务的窄接口
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (category string, confidence float64, err error)
}

// Deduper 摄取路径的快速去重（Redis 实现，失败放行）。
// 权威去重始终由存储层的 sourceId 扫描兜底。
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
}

// IncomingRecord 外部抓取产生的原始记录
type IncomingRecord struct {
	SourceID   string
	OwnerID    string
	Subject    string
	Body       string
	BodyHTML   string
	FromAddr   string
	ToAddr     string
	Snippet    string
	ReceivedAt time.Time
}

// Service 摄取管线：分类（失败兜底 other）→ 去重 → 批量创建 → 发事件
type Service struct {
	records     repository.RecordRepository
	classifier  Classifier
	deduper     Deduper
	eventBus    bus.Bus
	breakers    *circuitbreaker.Registry
	retryPolicy retry.Policy
	logger      *zap.Logger
}

func NewService(
	records repository.RecordRepository,
	classifier Classifier,
	deduper Deduper,
	eventBus bus.Bus,
	breakers *circuitbreaker.Registry,
	retryPolicy retry.Policy,
	logger *zap.Logger,
) *Service {
	return &Service{
		records:     records,
		classifier:  classifier,
		deduper:     deduper,
		eventBus:    eventBus,
		breakers:    breakers,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// classify 调用外部分类服务，任何最终失败都 fail open 到 other：
// 分类挂了绝不能挡住记录创建
func (s *Service) classify(ctx context.Context, subject, body string) model.Category {
	if s.classifier == nil {
		return model.CategoryOther
	}

	start := time.Now()
	category, err := retry.Do(ctx, s.retryPolicy, func(ctx context.Context) (model.Category, error) {
		var cat model.Category
		execErr := s.breakers.Execute(opClassify, func() error {
			raw, _, callErr := s.classifier.Classify(ctx, subject, body)
			if callErr != nil {
				return callErr
			}
			cat = model.Category(raw)
			return nil
		})
		return cat, execErr
	})
	if err != nil {
		metrics.RecordAgentCallLatency("classify", "failed", time.Since(start))
		s.logger.Warn("Classification failed, falling back to other",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return model.CategoryOther
	}
	metrics.RecordAgentCallLatency("classify", "success", time.Since(start))

	if !model.ValidCategory(category) {
		return model.CategoryOther
	}
	return category
}

// IngestBatch 处理一批抓取结果，返回实际新建的记录。
// 重叠的抓取窗口靠 sourceId 去重：Redis fast path 先挡一道，
// 存储层扫描保证幂等。
func (s *Service) IngestBatch(ctx context.Context, incoming []IncomingRecord) ([]*model.Record, error) {
	if len(incoming) == 0 {
		return nil, nil
	}

	var candidates []*model.Record
	for _, in := range incoming {
		if s.deduper != nil && in.SourceID != "" {
			if !s.deduper.AcquireOnce(ctx, "ingest", in.SourceID) {
				metrics.IncrementDedupSkipped("redis")
				continue
			}
		}

		category := s.classify(ctx, in.Subject, in.Body)
		candidates = append(candidates, &model.Record{
			SourceID:   in.SourceID,
			OwnerID:    in.OwnerID,
			Subject:    in.Subject,
			Body:       in.Body,
			BodyHTML:   in.BodyHTML,
			FromAddr:   in.FromAddr,
			ToAddr:     in.ToAddr,
			Snippet:    in.Snippet,
			ReceivedAt: in.ReceivedAt,
			Category:   category,
		})
	}

	created, err := s.records.CreateMany(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for _, rec := range created {
		metrics.IncrementRecordIngested(string(rec.Category))
		s.publishCreated(ctx, rec)
	}

	s.logger.Info("Ingest batch completed",
		zap.Int("incoming", len(incoming)),
		zap.Int("created", len(created)),
	)
	return created, nil
}

func (s *Service) publishCreated(ctx context.Context, rec *model.Record) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.Publish(ctx, event.RecordCreated, event.RecordCreatedPayload{
		RecordID:   rec.ID,
		SourceID:   rec.SourceID,
		Subject:    rec.Subject,
		Category:   string(rec.Category),
		ReceivedAt: rec.ReceivedAt,
	})
	if err != nil {
		s.logger.Warn("Failed to publish record created event",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}
