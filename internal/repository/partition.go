package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// PartitionKey 标识一个物理分区。DELETED 是单独的桶，不再按分类细分。
type PartitionKey struct {
	Status   model.Status
	Category model.Category
}

func (k PartitionKey) String() string {
	if k.Status == model.StatusDeleted {
		return "deleted"
	}
	return fmt.Sprintf("%s_%s", k.Status, k.Category)
}

// partitionFor 记录位置是 (status, category) 的纯函数
func partitionFor(rec *model.Record) PartitionKey {
	if rec.Status == model.StatusDeleted {
		return PartitionKey{Status: model.StatusDeleted}
	}
	return PartitionKey{Status: rec.Status, Category: rec.Category}
}

// allPartitions 列出全部分区，deleted 放最后，保证 GetByID 的扫描顺序稳定：
// 搬迁中的瞬时重复以非 deleted 分区为准
func allPartitions() []PartitionKey {
	keys := make([]PartitionKey, 0, 10)
	for _, st := range []model.Status{model.StatusFetched, model.StatusReview, model.StatusManaged} {
		for _, cat := range model.Categories() {
			keys = append(keys, PartitionKey{Status: st, Category: cat})
		}
	}
	keys = append(keys, PartitionKey{Status: model.StatusDeleted})
	return keys
}

// partitionSet 管理分区文件的读写：每个分区一个 JSON 文件，
// 写入通过临时文件 + rename 保证单文件原子性，
// 每个分区一把互斥锁串行化 read-modify-write 窗口。
type partitionSet struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPartitionSet(dir string) (*partitionSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &partitionSet{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (p *partitionSet) path(key PartitionKey) string {
	return filepath.Join(p.dir, key.String()+".json")
}

// acquire 按分区名排序后依次加锁，避免跨分区操作（搬迁）死锁。
// 返回的函数按相反顺序解锁。
func (p *partitionSet) acquire(keys ...PartitionKey) func() {
	names := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		n := k.String()
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)

	locks := make([]*sync.Mutex, 0, len(names))
	for _, n := range names {
		locks = append(locks, p.namedLock(n))
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (p *partitionSet) namedLock(name string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[name]
	if !ok {
		l = &sync.Mutex{}
		p.locks[name] = l
	}
	return l
}

// load reads the full collection of one partition. A missing file is an
// empty partition, not an error.
func (p *partitionSet) load(key PartitionKey) ([]*model.Record, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPartitionOp("load", key.String(), time.Since(start))
	}()

	data, err := os.ReadFile(p.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var recs []*model.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", key, err)
	}
	return recs, nil
}

// save writes the full collection back. Temp file + rename keeps the
// partition file atomic with respect to crashes.
func (p *partitionSet) save(key PartitionKey, recs []*model.Record) error {
	start := time.Now()
	defer func() {
		metrics.RecordPartitionOp("save", key.String(), time.Since(start))
	}()

	if recs == nil {
		recs = []*model.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode partition %s: %w", key, err)
	}

	path := p.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write partition %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit partition %s: %w", key, err)
	}
	return nil
}
