package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/trace"
)

// extractionPartitions: 每个分类一个文件，other 类没有结构化字段，不落盘
var extractionPartitions = []model.Category{
	model.CategoryCustomerInquiry,
	model.CategoryInvoice,
}

// FileExtractionRepository 抽取结果的文件存储，按分类分区，recordId 1:1。
type FileExtractionRepository struct {
	dir string

	mu sync.Mutex
}

func NewFileExtractionRepository(dataDir string) (*FileExtractionRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileExtractionRepository{dir: dataDir}, nil
}

func (r *FileExtractionRepository) path(cat model.Category) string {
	return filepath.Join(r.dir, fmt.Sprintf("extraction_%s.json", cat))
}

func (r *FileExtractionRepository) load(cat model.Category) ([]*model.ExtractionResult, error) {
	data, err := os.ReadFile(r.path(cat))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read extraction partition %s: %w", cat, err)
	}
	var results []*model.ExtractionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode extraction partition %s: %w", cat, err)
	}
	return results, nil
}

func (r *FileExtractionRepository) save(cat model.Category, results []*model.ExtractionResult) error {
	if results == nil {
		results = []*model.ExtractionResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode extraction partition %s: %w", cat, err)
	}
	path := r.path(cat)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write extraction partition %s: %w", cat, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit extraction partition %s: %w", cat, err)
	}
	return nil
}

// inferCategory 根据填充的字段集推断分类。调用方应尽量显式传分类，
// 这个启发式只兜底
func inferCategory(res *model.ExtractionResult) model.Category {
	if res.Invoice != nil && res.Invoice.InvoiceNumber != "" {
		return model.CategoryInvoice
	}
	if res.Invoice != nil && res.Inquiry == nil {
		return model.CategoryInvoice
	}
	return model.CategoryCustomerInquiry
}

func (r *FileExtractionRepository) Save(ctx context.Context, res *model.ExtractionResult) (*model.ExtractionResult, error) {
	stored := *res
	if stored.ID == "" {
		stored.ID = trace.NewID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	cat := stored.Category
	if cat != model.CategoryCustomerInquiry && cat != model.CategoryInvoice {
		cat = inferCategory(&stored)
		stored.Category = cat
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	results, err := r.load(cat)
	if err != nil {
		return nil, err
	}

	// overwrite-on-create 保证 recordId 1:1
	kept := results[:0]
	for _, existing := range results {
		if existing.RecordID != stored.RecordID {
			kept = append(kept, existing)
		}
	}
	kept = append([]*model.ExtractionResult{&stored}, kept...)

	if err := r.save(cat, kept); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *FileExtractionRepository) GetByRecordID(ctx context.Context, recordID string) (*model.ExtractionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cat := range extractionPartitions {
		results, err := r.load(cat)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			if res.RecordID == recordID {
				return res, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r *FileExtractionRepository) Delete(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cat := range extractionPartitions {
		results, err := r.load(cat)
		if err != nil {
			return err
		}
		kept := results[:0]
		removed := false
		for _, res := range results {
			if res.RecordID == recordID {
				removed = true
				continue
			}
			kept = append(kept, res)
		}
		if removed {
			if err := r.save(cat, kept); err != nil {
				return err
			}
		}
	}
	return nil
}
