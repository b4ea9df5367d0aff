package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/repository"
	"mailtriage/internal/service/ingest"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/retry"
)

func newIngestFixture(t *testing.T) (*gin.Engine, repository.RecordRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records, err := repository.NewFileRecordRepository(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileRecordRepository: %v", err)
	}

	policy := retry.Policy{
		MaxAttempts:       1,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
		ShouldRetry:       retry.DefaultShouldRetry,
	}
	// 没配分类器/去重/事件总线，摄取退化为纯创建路径
	ingestSvc := ingest.NewService(
		records, nil, nil, nil,
		circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		policy, zap.NewNop(),
	)

	h := NewTriageHandler(nil, ingestSvc, records, zap.NewNop())
	engine := gin.New()
	engine.POST("/api/records/ingest", h.Ingest)
	return engine, records
}

func TestIngestMapsAllBodyFields(t *testing.T) {
	engine, records := newIngestFixture(t)

	payload := map[string]any{
		"records": []map[string]any{{
			"source_id": "msg-1",
			"owner_id":  "u1",
			"subject":   "Invoice #42",
			"body":      "plain text body",
			"body_html": "<p>plain text body</p>",
			"from":      "billing@example.com",
			"to":        "me@example.com",
			"snippet":   "plain text…",
		}},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/records/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	stored, err := records.List(req.Context(), repository.RecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d records, want 1", len(stored))
	}
	rec := stored[0]
	if rec.Body != "plain text body" {
		t.Fatalf("Body = %q", rec.Body)
	}
	if rec.BodyHTML != "<p>plain text body</p>" {
		t.Fatalf("BodyHTML = %q, want the html variant preserved", rec.BodyHTML)
	}
	if rec.FromAddr != "billing@example.com" || rec.ToAddr != "me@example.com" {
		t.Fatalf("addresses not mapped: from=%q to=%q", rec.FromAddr, rec.ToAddr)
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	engine, _ := newIngestFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/records/ingest", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}
