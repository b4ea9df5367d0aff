package repository

import (
	"context"
	"errors"

	"mailtriage/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
)

// RecordFilter scopes List. Nil fields mean "any". Deleted records are only
// returned when Status is explicitly StatusDeleted.
type RecordFilter struct {
	Status   *model.Status
	Category *model.Category
	OwnerID  string
}

// RecordRepository 记录的分区持久化。
// 同一条记录在任意时刻只存在于一个分区；状态/分类变更触发搬迁。
type RecordRepository interface {
	// Create assigns an id, stamps status=fetched/fetchedAt and stores the
	// record in the fetched×category partition.
	Create(ctx context.Context, rec *model.Record) (*model.Record, error)

	// CreateMany is a batched Create with source-id deduplication across all
	// non-deleted partitions. Duplicates are skipped silently; only newly
	// created records are returned.
	CreateMany(ctx context.Context, recs []*model.Record) ([]*model.Record, error)

	// GetByID scans all partitions. The partition count is small and bounded
	// (statuses × categories + one deleted bucket), so this is acceptable.
	GetByID(ctx context.Context, id string) (*model.Record, error)

	// Update merges the patch. A status or category change relocates the
	// record to its new partition: the merged record is written to the
	// destination first, then removed from the source. Transient duplication
	// is recoverable (GetByID resolves by scan order); transient loss is not.
	Update(ctx context.Context, id string, patch model.RecordPatch) (*model.Record, error)

	// List fans out across the partitions matching the filter, newest first.
	List(ctx context.Context, filter RecordFilter) ([]*model.Record, error)
}

// ExtractionRepository 抽取结果的持久化，按分类分区，与记录 1:1。
type ExtractionRepository interface {
	// Save removes any prior extraction for the record in the target category
	// partition, then inserts the new one. When res.Category is empty it is
	// inferred from which field set is populated.
	Save(ctx context.Context, res *model.ExtractionResult) (*model.ExtractionResult, error)

	// GetByRecordID searches both category partitions.
	GetByRecordID(ctx context.Context, recordID string) (*model.ExtractionResult, error)

	// Delete removes the extraction for a record, if any. Used when the
	// owning record is soft-deleted.
	Delete(ctx context.Context, recordID string) error
}

// MergeIntoView flattens the extraction fields for a record onto a view map
// of the record, so Review/Managed listings render one unified object.
func MergeIntoView(rec *model.Record, res *model.ExtractionResult) map[string]any {
	view := map[string]any{
		"id":          rec.ID,
		"source_id":   rec.SourceID,
		"subject":     rec.Subject,
		"body":        rec.Body,
		"from":        rec.FromAddr,
		"to":          rec.ToAddr,
		"snippet":     rec.Snippet,
		"category":    string(rec.Category),
		"status":      string(rec.Status),
		"received_at": rec.ReceivedAt,
	}
	if rec.ReviewedAt != nil {
		view["reviewed_at"] = *rec.ReviewedAt
	}
	if rec.ManagedAt != nil {
		view["managed_at"] = *rec.ManagedAt
	}
	if res == nil {
		return view
	}
	for k, v := range res.Fields() {
		view[k] = v
	}
	view["confidence"] = res.Confidence
	return view
}
