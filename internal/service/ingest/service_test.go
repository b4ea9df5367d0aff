package ingest

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailtriage/contracts/event"
	"mailtriage/internal/bus"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/retry"
	"mailtriage/pkg/util"
)

type stubClassifier struct {
	calls    int
	category string
	err      error
}

func (s *stubClassifier) Classify(ctx context.Context, subject, body string) (string, float64, error) {
	s.calls++
	if s.err != nil {
		return "", 0, s.err
	}
	return s.category, 0.95, nil
}

type stubDeduper struct {
	seen map[string]bool
}

func (s *stubDeduper) AcquireOnce(ctx context.Context, scope, key string) bool {
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

func newIngestService(t *testing.T, classifier Classifier, deduper Deduper) (*Service, *bus.ChannelBus, *repository.FileRecordRepository) {
	t.Helper()
	logger := zap.NewNop()

	records, err := repository.NewFileRecordRepository(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("record repo: %v", err)
	}
	eventBus := bus.NewChannelBus(64, logger)

	policy := retry.Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		ShouldRetry:       retry.DefaultShouldRetry,
	}
	svc := NewService(
		records, classifier, deduper, eventBus,
		circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		policy, logger,
	)
	return svc, eventBus, records
}

func TestIngestBatchClassifiesAndPublishes(t *testing.T) {
	classifier := &stubClassifier{category: "invoice"}
	svc, eventBus, _ := newIngestService(t, classifier, nil)

	created, err := svc.IngestBatch(context.Background(), []IncomingRecord{
		{SourceID: "msg-1", Subject: "Invoice #100", ReceivedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d records, want 1", len(created))
	}
	if created[0].Category != model.CategoryInvoice {
		t.Fatalf("category = %s, want invoice", created[0].Category)
	}
	if created[0].Status != model.StatusFetched {
		t.Fatalf("status = %s, want fetched", created[0].Status)
	}

	select {
	case evt := <-eventBus.Events():
		if evt.RoutingKey != event.RecordCreated {
			t.Fatalf("routing key = %s", evt.RoutingKey)
		}
	default:
		t.Fatal("expected a record.created event")
	}
}

func TestIngestClassifierFailureFallsBackToOther(t *testing.T) {
	classifier := &stubClassifier{err: &util.HTTPError{StatusCode: 400, Body: "bad request"}}
	svc, _, _ := newIngestService(t, classifier, nil)

	created, err := svc.IngestBatch(context.Background(), []IncomingRecord{
		{SourceID: "msg-1", Subject: "hello"},
	})
	if err != nil {
		t.Fatalf("IngestBatch must not fail when classification fails: %v", err)
	}
	if len(created) != 1 || created[0].Category != model.CategoryOther {
		t.Fatalf("created = %+v, want one record in other", created)
	}
	if classifier.calls != 1 {
		t.Fatalf("classifier called %d times, want 1 (4xx is not retryable)", classifier.calls)
	}
}

func TestIngestUnknownClassifierOutputFallsBackToOther(t *testing.T) {
	classifier := &stubClassifier{category: "spam"}
	svc, _, _ := newIngestService(t, classifier, nil)

	created, err := svc.IngestBatch(context.Background(), []IncomingRecord{
		{SourceID: "msg-1"},
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if created[0].Category != model.CategoryOther {
		t.Fatalf("category = %s, want other", created[0].Category)
	}
}

func TestIngestDeduperSkipsSeenSourceIDs(t *testing.T) {
	classifier := &stubClassifier{category: "other"}
	deduper := &stubDeduper{seen: map[string]bool{"msg-1": true}}
	svc, _, records := newIngestService(t, classifier, deduper)

	created, err := svc.IngestBatch(context.Background(), []IncomingRecord{
		{SourceID: "msg-1"},
		{SourceID: "msg-2"},
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(created) != 1 || created[0].SourceID != "msg-2" {
		t.Fatalf("created = %+v, want only msg-2", created)
	}

	all, err := records.List(context.Background(), repository.RecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("stored %d records, want 1", len(all))
	}
}

func TestIngestOverlappingBatchesAreIdempotent(t *testing.T) {
	classifier := &stubClassifier{category: "invoice"}
	svc, _, _ := newIngestService(t, classifier, nil)
	ctx := context.Background()

	if _, err := svc.IngestBatch(ctx, []IncomingRecord{{SourceID: "msg-1"}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// No Redis configured: the store-level scan is the safety net.
	created, err := svc.IngestBatch(ctx, []IncomingRecord{{SourceID: "msg-1"}})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("duplicate batch created %d records, want 0", len(created))
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	svc, _, _ := newIngestService(t, &stubClassifier{category: "other"}, nil)

	created, err := svc.IngestBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %d, want 0", len(created))
	}
}
