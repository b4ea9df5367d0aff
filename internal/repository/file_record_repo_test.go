package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
)

func newTestRepo(t *testing.T) (*FileRecordRepository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewFileRecordRepository(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileRecordRepository: %v", err)
	}
	return repo, dir
}

func mustCreate(t *testing.T, repo *FileRecordRepository, rec *model.Record) *model.Record {
	t.Helper()
	created, err := repo.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

func readPartitionFile(t *testing.T, dir, name string) []*model.Record {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read partition %s: %v", name, err)
	}
	var recs []*model.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("decode partition %s: %v", name, err)
	}
	return recs
}

func TestCreateAssignsIdentityAndPartition(t *testing.T) {
	repo, dir := newTestRepo(t)

	created := mustCreate(t, repo, &model.Record{
		SourceID: "msg-1",
		Subject:  "Invoice #100",
		Category: model.CategoryInvoice,
	})

	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Status != model.StatusFetched {
		t.Fatalf("status = %s, want fetched", created.Status)
	}
	if created.FetchedAt.IsZero() {
		t.Fatal("expected FetchedAt to be set")
	}

	stored := readPartitionFile(t, dir, "fetched_invoice")
	if len(stored) != 1 || stored[0].ID != created.ID {
		t.Fatalf("record not in fetched_invoice partition: %+v", stored)
	}
}

func TestCreateUnknownCategoryFallsBackToOther(t *testing.T) {
	repo, dir := newTestRepo(t)

	created := mustCreate(t, repo, &model.Record{
		SourceID: "msg-2",
		Category: model.Category("spam"),
	})

	if created.Category != model.CategoryOther {
		t.Fatalf("category = %s, want other", created.Category)
	}
	if got := readPartitionFile(t, dir, "fetched_other"); len(got) != 1 {
		t.Fatalf("expected record in fetched_other, got %d", len(got))
	}
}

func TestCreateManyDeduplicatesBySourceID(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.CreateMany(ctx, []*model.Record{
		{SourceID: "msg-1", Category: model.CategoryInvoice},
		{SourceID: "msg-2", Category: model.CategoryCustomerInquiry},
	})
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("created %d records, want 2", len(first))
	}

	// Overlapping fetch window: one duplicate, one new.
	second, err := repo.CreateMany(ctx, []*model.Record{
		{SourceID: "msg-2", Category: model.CategoryCustomerInquiry},
		{SourceID: "msg-3", Category: model.CategoryOther},
	})
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if len(second) != 1 || second[0].SourceID != "msg-3" {
		t.Fatalf("expected only msg-3 to be created, got %+v", second)
	}

	all, err := repo.List(ctx, RecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("total records = %d, want 3", len(all))
	}
}

func TestCreateManyDeduplicatesWithinBatch(t *testing.T) {
	repo, _ := newTestRepo(t)

	created, err := repo.CreateMany(context.Background(), []*model.Record{
		{SourceID: "msg-1", Category: model.CategoryInvoice},
		{SourceID: "msg-1", Category: model.CategoryInvoice},
	})
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d records, want 1", len(created))
	}
}

func TestUpdateRelocatesAcrossPartitions(t *testing.T) {
	repo, dir := newTestRepo(t)
	ctx := context.Background()

	created := mustCreate(t, repo, &model.Record{
		SourceID: "msg-1",
		Category: model.CategoryInvoice,
	})

	now := time.Now()
	status := model.StatusReview
	updated, err := repo.Update(ctx, created.ID, model.RecordPatch{
		Status:     &status,
		ReviewedAt: &now,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != model.StatusReview {
		t.Fatalf("status = %s, want review", updated.Status)
	}

	if got := readPartitionFile(t, dir, "fetched_invoice"); len(got) != 0 {
		t.Fatalf("record still in source partition after relocation: %+v", got)
	}
	dst := readPartitionFile(t, dir, "review_invoice")
	if len(dst) != 1 || dst[0].ID != created.ID {
		t.Fatalf("record missing from destination partition: %+v", dst)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID after relocation: %v", err)
	}
	if got.Status != model.StatusReview {
		t.Fatalf("GetByID status = %s, want review", got.Status)
	}
}

func TestUpdateInPlaceKeepsPartition(t *testing.T) {
	repo, dir := newTestRepo(t)

	created := mustCreate(t, repo, &model.Record{
		SourceID: "msg-1",
		Subject:  "old subject",
		Category: model.CategoryOther,
	})

	subject := "new subject"
	updated, err := repo.Update(context.Background(), created.ID, model.RecordPatch{Subject: &subject})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Subject != "new subject" {
		t.Fatalf("subject = %q", updated.Subject)
	}

	stored := readPartitionFile(t, dir, "fetched_other")
	if len(stored) != 1 || stored[0].Subject != "new subject" {
		t.Fatalf("in-place update not persisted: %+v", stored)
	}
}

func TestUpdateCategoryRelocatesWithinStatus(t *testing.T) {
	repo, dir := newTestRepo(t)

	created := mustCreate(t, repo, &model.Record{
		SourceID: "msg-1",
		Category: model.CategoryOther,
	})

	cat := model.CategoryInvoice
	updated, err := repo.Update(context.Background(), created.ID, model.RecordPatch{Category: &cat})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Category != model.CategoryInvoice {
		t.Fatalf("category = %s", updated.Category)
	}
	if got := readPartitionFile(t, dir, "fetched_other"); len(got) != 0 {
		t.Fatalf("record left behind in fetched_other: %+v", got)
	}
	if got := readPartitionFile(t, dir, "fetched_invoice"); len(got) != 1 {
		t.Fatalf("record not moved to fetched_invoice: %+v", got)
	}
}

func TestUpdateUnknownRecordReturnsNotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	subject := "x"
	_, err := repo.Update(context.Background(), "no-such-id", model.RecordPatch{Subject: &subject})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSoftDeletedRecordsShareOneBucket(t *testing.T) {
	repo, dir := newTestRepo(t)
	ctx := context.Background()

	a := mustCreate(t, repo, &model.Record{SourceID: "msg-1", Category: model.CategoryInvoice})
	b := mustCreate(t, repo, &model.Record{SourceID: "msg-2", Category: model.CategoryCustomerInquiry})

	deleted := model.StatusDeleted
	isDeleted := true
	for _, id := range []string{a.ID, b.ID} {
		if _, err := repo.Update(ctx, id, model.RecordPatch{Status: &deleted, IsDeleted: &isDeleted}); err != nil {
			t.Fatalf("soft delete %s: %v", id, err)
		}
	}

	bucket := readPartitionFile(t, dir, "deleted")
	if len(bucket) != 2 {
		t.Fatalf("deleted bucket holds %d records, want 2", len(bucket))
	}
}

func TestListExcludesDeletedByDefault(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	keep := mustCreate(t, repo, &model.Record{SourceID: "msg-1", Category: model.CategoryInvoice})
	drop := mustCreate(t, repo, &model.Record{SourceID: "msg-2", Category: model.CategoryInvoice})

	deleted := model.StatusDeleted
	isDeleted := true
	if _, err := repo.Update(ctx, drop.ID, model.RecordPatch{Status: &deleted, IsDeleted: &isDeleted}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	visible, err := repo.List(ctx, RecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != keep.ID {
		t.Fatalf("List = %+v, want only the live record", visible)
	}

	cat := model.CategoryInvoice
	byCategory, err := repo.List(ctx, RecordFilter{Category: &cat})
	if err != nil {
		t.Fatalf("List by category: %v", err)
	}
	if len(byCategory) != 1 {
		t.Fatalf("category listing included deleted record: %+v", byCategory)
	}

	trash, err := repo.List(ctx, RecordFilter{Status: &deleted})
	if err != nil {
		t.Fatalf("List deleted: %v", err)
	}
	if len(trash) != 1 || trash[0].ID != drop.ID {
		t.Fatalf("deleted listing = %+v", trash)
	}
}

func TestConcurrentRelocationsKeepOnePartition(t *testing.T) {
	repo, dir := newTestRepo(t)
	ctx := context.Background()

	// Two writers race to relocate the same record to different partitions.
	// Whatever the interleaving, the record must end up in exactly one
	// partition: a writer whose source partition went stale mid-flight has
	// to re-locate, never write based on the old position.
	for i := 0; i < 200; i++ {
		created, err := repo.CreateMany(ctx, []*model.Record{{Category: model.CategoryInvoice}})
		if err != nil {
			t.Fatalf("CreateMany: %v", err)
		}
		id := created[0].ID

		review := model.StatusReview
		deleted := model.StatusDeleted
		isDeleted := true

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			repo.Update(ctx, id, model.RecordPatch{Status: &review})
		}()
		go func() {
			defer wg.Done()
			repo.Update(ctx, id, model.RecordPatch{Status: &deleted, IsDeleted: &isDeleted})
		}()
		wg.Wait()

		locations := make(map[string]int)
		for _, key := range allPartitions() {
			for _, rec := range readPartitionFile(t, dir, key.String()) {
				if rec.ID == id {
					locations[key.String()]++
				}
			}
		}
		total := 0
		for _, n := range locations {
			total += n
		}
		if total != 1 {
			t.Fatalf("iteration %d: record present %d times across partitions %v, want exactly 1", i, total, locations)
		}
	}
}

func TestListFiltersByStatusAndOwner(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	mine := mustCreate(t, repo, &model.Record{SourceID: "msg-1", OwnerID: "u1", Category: model.CategoryOther})
	mustCreate(t, repo, &model.Record{SourceID: "msg-2", OwnerID: "u2", Category: model.CategoryOther})

	status := model.StatusFetched
	got, err := repo.List(ctx, RecordFilter{Status: &status, OwnerID: "u1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("List = %+v, want only u1's record", got)
	}
}
