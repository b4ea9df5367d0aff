package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/trace"
)

// FileRecordRepository 文件后端：每个 (status, category) 分区一个 JSON 文件。
// 面向单进程、低并发的部署；多进程部署应切换 postgres 后端（见 factory）。
type FileRecordRepository struct {
	parts  *partitionSet
	logger *zap.Logger
}

func NewFileRecordRepository(dataDir string, logger *zap.Logger) (*FileRecordRepository, error) {
	parts, err := newPartitionSet(dataDir)
	if err != nil {
		return nil, err
	}
	return &FileRecordRepository{
		parts:  parts,
		logger: logger,
	}, nil
}

func (r *FileRecordRepository) Create(ctx context.Context, rec *model.Record) (*model.Record, error) {
	created, err := r.CreateMany(ctx, []*model.Record{rec})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		// 同 sourceId 已存在，被去重跳过
		return nil, fmt.Errorf("record with source id %q already exists", rec.SourceID)
	}
	return created[0], nil
}

func (r *FileRecordRepository) CreateMany(ctx context.Context, recs []*model.Record) ([]*model.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	// 去重窗口覆盖全部非 deleted 分区，锁全取，防止并发批量写入互相漏看
	keys := allPartitions()
	unlock := r.parts.acquire(keys...)
	defer unlock()

	existing := make(map[string]bool)
	for _, key := range keys {
		if key.Status == model.StatusDeleted {
			continue
		}
		stored, err := r.parts.load(key)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			if s.SourceID != "" {
				existing[s.SourceID] = true
			}
		}
	}

	now := time.Now()
	buckets := make(map[PartitionKey][]*model.Record)
	var created []*model.Record

	for _, rec := range recs {
		if rec.SourceID != "" && existing[rec.SourceID] {
			metrics.IncrementDedupSkipped("store")
			r.logger.Debug("Skipping duplicate record",
				zap.String("source_id", rec.SourceID),
			)
			continue
		}

		stored := *rec
		if stored.ID == "" {
			stored.ID = trace.NewID()
		}
		stored.Status = model.StatusFetched
		stored.IsDeleted = false
		if stored.FetchedAt.IsZero() {
			stored.FetchedAt = now
		}
		if !model.ValidCategory(stored.Category) {
			stored.Category = model.CategoryOther
		}

		key := partitionFor(&stored)
		buckets[key] = append(buckets[key], &stored)
		if stored.SourceID != "" {
			existing[stored.SourceID] = true
		}
		created = append(created, &stored)
	}

	for key, newRecs := range buckets {
		stored, err := r.parts.load(key)
		if err != nil {
			return nil, err
		}
		// 最新的排在最前
		stored = append(newRecs, stored...)
		if err := r.parts.save(key, stored); err != nil {
			return nil, err
		}
	}

	return created, nil
}

func (r *FileRecordRepository) GetByID(ctx context.Context, id string) (*model.Record, error) {
	rec, _, err := r.locate(id)
	return rec, err
}

// locate 扫描全部分区找到记录及其所在分区
func (r *FileRecordRepository) locate(id string) (*model.Record, PartitionKey, error) {
	for _, key := range allPartitions() {
		unlock := r.parts.acquire(key)
		stored, err := r.parts.load(key)
		unlock()
		if err != nil {
			return nil, PartitionKey{}, err
		}
		for _, rec := range stored {
			if rec.ID == id {
				return rec, key, nil
			}
		}
	}
	return nil, PartitionKey{}, ErrNotFound
}

// Update 是乐观循环：locate 不持锁，定位和加锁之间记录可能被并发
// Update 搬走。锁下重读源分区校验，失效就重新定位，绝不基于过期的
// 分区信息写入——否则记录会永久出现在两个分区里。
func (r *FileRecordRepository) Update(ctx context.Context, id string, patch model.RecordPatch) (*model.Record, error) {
	for {
		rec, ok, err := r.tryUpdate(id, patch)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}
		// 并发搬迁抢先，重新定位（记录被彻底删除时 locate 返回 ErrNotFound）
	}
}

func (r *FileRecordRepository) tryUpdate(id string, patch model.RecordPatch) (*model.Record, bool, error) {
	current, srcKey, err := r.locate(id)
	if err != nil {
		return nil, false, err
	}

	merged := patch.Apply(*current)
	merged.IsDeleted = merged.Status == model.StatusDeleted
	dstKey := partitionFor(&merged)

	unlock := r.parts.acquire(srcKey, dstKey)
	defer unlock()

	src, err := r.parts.load(srcKey)
	if err != nil {
		return nil, false, err
	}
	idx := -1
	for i, stored := range src {
		if stored.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		// 记录在定位后被并发移走了
		return nil, false, nil
	}

	// 以锁下读到的版本为基准重新合并，避免吞掉并发的原地更新
	merged = patch.Apply(*src[idx])
	merged.IsDeleted = merged.Status == model.StatusDeleted
	if partitionFor(&merged) != dstKey {
		// 并发修改换了目标分区，持有的锁不对，重来
		return nil, false, nil
	}

	if dstKey == srcKey {
		src[idx] = &merged
		if err := r.parts.save(srcKey, src); err != nil {
			return nil, false, err
		}
		return &merged, true, nil
	}

	// 搬迁：先写目标分区，再从源分区删除。进程在两步之间崩溃会留下
	// 瞬时重复，由 GetByID 的扫描顺序和 sourceId 去重消化；反过来的顺序
	// 会造成不可恢复的丢失。
	dst, err := r.parts.load(dstKey)
	if err != nil {
		return nil, false, err
	}
	dst = append([]*model.Record{&merged}, dst...)
	if err := r.parts.save(dstKey, dst); err != nil {
		return nil, false, err
	}

	kept := make([]*model.Record, 0, len(src)-1)
	for _, stored := range src {
		if stored.ID != id {
			kept = append(kept, stored)
		}
	}
	if err := r.parts.save(srcKey, kept); err != nil {
		return nil, false, err
	}

	r.logger.Debug("Record relocated",
		zap.String("record_id", id),
		zap.String("from", srcKey.String()),
		zap.String("to", dstKey.String()),
	)
	return &merged, true, nil
}

func (r *FileRecordRepository) List(ctx context.Context, filter RecordFilter) ([]*model.Record, error) {
	var keys []PartitionKey
	for _, key := range allPartitions() {
		if filter.Status != nil && key.Status != *filter.Status {
			continue
		}
		// deleted 分区只有显式请求 status=deleted 时才参与
		if filter.Status == nil && key.Status == model.StatusDeleted {
			continue
		}
		if filter.Category != nil && key.Status != model.StatusDeleted && key.Category != *filter.Category {
			continue
		}
		keys = append(keys, key)
	}

	var out []*model.Record
	for _, key := range keys {
		unlock := r.parts.acquire(key)
		stored, err := r.parts.load(key)
		unlock()
		if err != nil {
			return nil, err
		}
		for _, rec := range stored {
			if rec.IsDeleted && (filter.Status == nil || *filter.Status != model.StatusDeleted) {
				continue
			}
			if filter.Category != nil && rec.Category != *filter.Category {
				continue
			}
			if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
