package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/repository"
	"mailtriage/internal/service/ingest"
	"mailtriage/internal/service/lifecycle"
)

// TriageHandler 薄 HTTP 层：只做绑定和错误映射，业务全部在 service 层。
// 认证、CSRF、限流由前置网关负责。
type TriageHandler struct {
	lifecycle *lifecycle.Service
	ingest    *ingest.Service
	records   repository.RecordRepository
	logger    *zap.Logger
}

func NewTriageHandler(
	lifecycleSvc *lifecycle.Service,
	ingestSvc *ingest.Service,
	records repository.RecordRepository,
	logger *zap.Logger,
) *TriageHandler {
	return &TriageHandler{
		lifecycle: lifecycleSvc,
		ingest:    ingestSvc,
		records:   records,
		logger:    logger,
	}
}

func (h *TriageHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type incomingRecordRequest struct {
	SourceID   string    `json:"source_id"`
	OwnerID    string    `json:"owner_id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	BodyHTML   string    `json:"body_html"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
}

type ingestRequest struct {
	Records []incomingRecordRequest `json:"records" binding:"required"`
}

func (h *TriageHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	incoming := make([]ingest.IncomingRecord, 0, len(req.Records))
	for _, rec := range req.Records {
		incoming = append(incoming, ingest.IncomingRecord{
			SourceID:   rec.SourceID,
			OwnerID:    rec.OwnerID,
			Subject:    rec.Subject,
			Body:       rec.Body,
			BodyHTML:   rec.BodyHTML,
			FromAddr:   rec.From,
			ToAddr:     rec.To,
			Snippet:    rec.Snippet,
			ReceivedAt: rec.ReceivedAt,
		})
	}

	created, err := h.ingest.IngestBatch(c.Request.Context(), incoming)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": created})
}

func (h *TriageHandler) ListRecords(c *gin.Context) {
	var filter repository.RecordFilter
	if st := c.Query("status"); st != "" {
		status := model.Status(st)
		filter.Status = &status
	}
	if cat := c.Query("category"); cat != "" {
		category := model.Category(cat)
		filter.Category = &category
	}
	filter.OwnerID = c.Query("owner_id")

	records, err := h.records.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *TriageHandler) GetRecord(c *gin.Context) {
	view, err := h.lifecycle.GetView(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Approve fetched→review 和 review→managed 共用一个按钮语义：按当前状态分派
func (h *TriageHandler) Approve(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.records.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var updated *model.Record
	switch rec.Status {
	case model.StatusFetched:
		updated, err = h.lifecycle.ApproveFetched(c.Request.Context(), id)
	case model.StatusReview:
		updated, err = h.lifecycle.ApproveReview(c.Request.Context(), id)
	default:
		h.respondError(c, lifecycle.ErrInvalidTransition)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *TriageHandler) Decline(c *gin.Context) {
	updated, err := h.lifecycle.SoftDelete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *TriageHandler) Restore(c *gin.Context) {
	updated, err := h.lifecycle.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *TriageHandler) UpdateCategory(c *gin.Context) {
	var req struct {
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := h.lifecycle.UpdateCategory(c.Request.Context(), c.Param("id"), model.Category(req.Category))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type bulkRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *TriageHandler) BulkApprove(c *gin.Context) {
	h.bulk(c, h.lifecycle.BulkApprove)
}

func (h *TriageHandler) BulkDecline(c *gin.Context) {
	h.bulk(c, h.lifecycle.BulkDecline)
}

func (h *TriageHandler) BulkApproveReview(c *gin.Context) {
	h.bulk(c, h.lifecycle.BulkApproveReview)
}

func (h *TriageHandler) bulk(c *gin.Context, op func(ctx context.Context, ids []string) *lifecycle.BulkResult) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, op(c.Request.Context(), req.IDs))
}
