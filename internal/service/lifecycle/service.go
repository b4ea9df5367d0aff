package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtriage/contracts/event"
	"mailtriage/internal/bus"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/retry"
	"mailtriage/pkg/util"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = repository.ErrNotFound
	// ErrInvalidTransition 记录不在要求的起始状态，操作被拒绝
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

const (
	// 熔断器的操作标识：显式常量，绝不从函数值推导
	opExtract = "agent.extract"

	// 单条记录的抽取触发次数预算，跨重启累计。每次触发内部还有
	// retry.Do 的重试，不计入这个计数。
	maxExtractionAttempts = 10
)

// Extractor 外部抽取服务的窄接口
type Extractor interface {
	Extract(ctx context.Context, rec *model.Record) (*model.ExtractionResult, error)
}

// NotificationLog 生命周期操作产生的通知落盘接口（dispatcher 异步发布）
type NotificationLog interface {
	Insert(ctx context.Context, typ, title, message string, payload json.RawMessage) (*model.Notification, error)
}

// AttemptCounter 跨进程重启的尝试计数（Redis 实现，可选）。
// 用于给单条记录的抽取调用设预算，防止反复 approve/restore 打爆外部服务。
type AttemptCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Service 生命周期引擎：管理记录的状态机与每次转换的副作用。
//
//	(none)  --create--> fetched
//	fetched --approve--> review   (触发抽取副作用)
//	fetched --decline--> deleted
//	review  --approve--> managed
//	review  --decline--> deleted
//	managed --decline--> deleted
//	deleted --restore--> review
type Service struct {
	records     repository.RecordRepository
	extractions repository.ExtractionRepository
	extractor   Extractor
	notifLog    NotificationLog
	eventBus    bus.Bus
	breakers    *circuitbreaker.Registry
	retryPolicy retry.Policy
	attempts    AttemptCounter
	logger      *zap.Logger
}

func NewService(
	records repository.RecordRepository,
	extractions repository.ExtractionRepository,
	extractor Extractor,
	notifLog NotificationLog,
	eventBus bus.Bus,
	breakers *circuitbreaker.Registry,
	retryPolicy retry.Policy,
	logger *zap.Logger,
) *Service {
	return &Service{
		records:     records,
		extractions: extractions,
		extractor:   extractor,
		notifLog:    notifLog,
		eventBus:    eventBus,
		breakers:    breakers,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// WithAttemptCounter 启用跨重启的抽取尝试预算
func (s *Service) WithAttemptCounter(counter AttemptCounter) *Service {
	s.attempts = counter
	return s
}

// transition 校验起始状态并搬迁。搬迁先于任何副作用提交。
func (s *Service) transition(ctx context.Context, id string, from []model.Status, patch model.RecordPatch) (*model.Record, error) {
	current, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, st := range from {
		if current.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: record %s is %s", ErrInvalidTransition, id, current.Status)
	}

	updated, err := s.records.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(current.Status), string(updated.Status))
	s.publishTransition(ctx, current.Status, updated)
	return updated, nil
}

func (s *Service) publishTransition(ctx context.Context, from model.Status, rec *model.Record) {
	if s.eventBus == nil {
		return
	}
	// 事件投递尽力而为，失败只记日志
	err := s.eventBus.Publish(ctx, event.RecordTransitioned, event.RecordTransitionedPayload{
		RecordID:     rec.ID,
		FromStatus:   string(from),
		ToStatus:     string(rec.Status),
		Category:     string(rec.Category),
		TransitionAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish transition event",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}

// ApproveFetched 把 fetched 记录推进到 review，并触发抽取。
// 搬迁先提交；抽取失败不回滚，记录留在 review，由人工补录字段。
func (s *Service) ApproveFetched(ctx context.Context, id string) (*model.Record, error) {
	now := time.Now()
	status := model.StatusReview
	updated, err := s.transition(ctx, id, []model.Status{model.StatusFetched}, model.RecordPatch{
		Status:     &status,
		ReviewedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	s.runExtraction(ctx, updated)
	return updated, nil
}

// runExtraction 调用外部抽取服务（重试 + 熔断），结果写入抽取存储。
// 任何失败都被吞掉：转换已经提交，抽取是尽力而为的副作用。
func (s *Service) runExtraction(ctx context.Context, rec *model.Record) {
	if s.extractor == nil {
		return
	}

	budgetKey := util.FormatRetryKey("extract", rec.ID)
	if s.attempts != nil {
		// 计数失败不挡路，预算只是保护
		if n, err := s.attempts.IncrementAndGet(ctx, budgetKey); err == nil && n > maxExtractionAttempts {
			s.logger.Warn("Extraction attempt budget exhausted, skipping",
				zap.String("record_id", rec.ID),
				zap.Int64("attempts", n),
			)
			return
		}
	}

	start := time.Now()
	result, err := retry.Do(ctx, s.retryPolicy, func(ctx context.Context) (*model.ExtractionResult, error) {
		var res *model.ExtractionResult
		execErr := s.breakers.Execute(opExtract, func() error {
			var callErr error
			res, callErr = s.extractor.Extract(ctx, rec)
			return callErr
		})
		return res, execErr
	})
	if err != nil {
		metrics.RecordAgentCallLatency("extract", "failed", time.Since(start))
		s.logger.Warn("Extraction failed, record stays in review without structured data",
			zap.String("record_id", rec.ID),
			zap.String("category", string(rec.Category)),
			zap.Error(err),
		)
		return
	}
	metrics.RecordAgentCallLatency("extract", "success", time.Since(start))

	if s.attempts != nil {
		if err := s.attempts.Reset(ctx, budgetKey); err != nil {
			s.logger.Debug("Failed to reset extraction attempt budget", zap.Error(err))
		}
	}

	result.RecordID = rec.ID
	if result.Category == "" {
		result.Category = rec.Category
	}
	if _, err := s.extractions.Save(ctx, result); err != nil {
		s.logger.Error("Failed to persist extraction result",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}

// DeclineFetched 把 fetched 记录软删除，不触发抽取，也不产生通知
func (s *Service) DeclineFetched(ctx context.Context, id string) (*model.Record, error) {
	return s.softDeleteFrom(ctx, id, []model.Status{model.StatusFetched})
}

// ApproveReview 把 review 记录推进到 managed
func (s *Service) ApproveReview(ctx context.Context, id string) (*model.Record, error) {
	now := time.Now()
	status := model.StatusManaged
	return s.transition(ctx, id, []model.Status{model.StatusReview}, model.RecordPatch{
		Status:    &status,
		ManagedAt: &now,
	})
}

// SoftDelete 从任意非 deleted 状态搬迁到 deleted 桶。
// 删除前的阶段记入 PrevStatus 作审计，但 Restore 固定回到 review。
func (s *Service) SoftDelete(ctx context.Context, id string) (*model.Record, error) {
	return s.softDeleteFrom(ctx, id, []model.Status{
		model.StatusFetched, model.StatusReview, model.StatusManaged,
	})
}

func (s *Service) softDeleteFrom(ctx context.Context, id string, from []model.Status) (*model.Record, error) {
	current, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	status := model.StatusDeleted
	deleted := true
	prev := current.Status
	return s.transition(ctx, id, from, model.RecordPatch{
		Status:     &status,
		IsDeleted:  &deleted,
		PrevStatus: &prev,
		DeletedAt:  &now,
	})
}

// Restore 把 deleted 记录恢复到 review——统一的安全再入点：
// 不论删除前处于哪个阶段，恢复后都重新走一遍人工审核。
func (s *Service) Restore(ctx context.Context, id string) (*model.Record, error) {
	status := model.StatusReview
	deleted := false
	var cleared model.Status
	return s.transition(ctx, id, []model.Status{model.StatusDeleted}, model.RecordPatch{
		Status:     &status,
		IsDeleted:  &deleted,
		PrevStatus: &cleared,
	})
}

// UpdateCategory 修改分类。只在 fetched 阶段合法，此后分类不可变。
func (s *Service) UpdateCategory(ctx context.Context, id string, newCategory model.Category) (*model.Record, error) {
	if !model.ValidCategory(newCategory) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidTransition, newCategory)
	}

	current, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusFetched {
		return nil, fmt.Errorf("%w: category is immutable once status is %s", ErrInvalidTransition, current.Status)
	}

	return s.records.Update(ctx, id, model.RecordPatch{Category: &newCategory})
}

// GetView returns the record with its extraction fields flattened on.
func (s *Service) GetView(ctx context.Context, id string) (map[string]any, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.extractions.GetByRecordID(ctx, rec.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return repository.MergeIntoView(rec, res), nil
}

// BulkResult 批量操作的结果：逐条隔离，单条失败不影响其余
type BulkResult struct {
	Results        []*model.Record `json:"results"`
	Errors         []BulkError     `json:"errors"`
	TotalProcessed int             `json:"total_processed"`
}

type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (s *Service) bulk(ctx context.Context, ids []string, name string, op func(context.Context, string) (*model.Record, error)) *BulkResult {
	result := &BulkResult{TotalProcessed: len(ids)}

	for _, id := range ids {
		rec, err := op(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, BulkError{ID: id, Error: err.Error()})
			continue
		}
		result.Results = append(result.Results, rec)
	}

	s.logger.Info("Bulk operation completed",
		zap.String("operation", name),
		zap.Int("total", result.TotalProcessed),
		zap.Int("succeeded", len(result.Results)),
		zap.Int("failed", len(result.Errors)),
	)
	s.emitBulkNotification(ctx, name, result)
	return result
}

// emitBulkNotification 把批量结果写入通知日志（pending），由 dispatcher 发布
func (s *Service) emitBulkNotification(ctx context.Context, name string, result *BulkResult) {
	if s.notifLog == nil || len(result.Results) == 0 {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to encode bulk result", zap.Error(err))
		return
	}
	message := fmt.Sprintf("%d succeeded, %d failed", len(result.Results), len(result.Errors))
	if _, err := s.notifLog.Insert(ctx, name, "Bulk operation", message, payload); err != nil {
		s.logger.Error("Failed to insert notification",
			zap.String("operation", name),
			zap.Error(err),
		)
	}
}

// BulkApprove 批量 fetched→review
func (s *Service) BulkApprove(ctx context.Context, ids []string) *BulkResult {
	return s.bulk(ctx, ids, "bulk_approve", s.ApproveFetched)
}

// BulkDecline 批量软删除
func (s *Service) BulkDecline(ctx context.Context, ids []string) *BulkResult {
	return s.bulk(ctx, ids, "bulk_decline", s.SoftDelete)
}

// BulkApproveReview 批量 review→managed
func (s *Service) BulkApproveReview(ctx context.Context, ids []string) *BulkResult {
	return s.bulk(ctx, ids, "bulk_approve_review", s.ApproveReview)
}
