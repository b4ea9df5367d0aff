package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/util"
)

// Client 调用外部 agent 服务（分类与字段抽取）。
// 非 2xx 返回 *util.HTTPError，让重试层按状态码分类。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second // 超时兜底，避免调用方卡死
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ClassifyResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type extractRequest struct {
	RecordID string `json:"record_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

type extractResponse struct {
	Success    bool                 `json:"success"`
	Category   string               `json:"category"`
	Inquiry    *model.InquiryFields `json:"inquiry,omitempty"`
	Invoice    *model.InvoiceFields `json:"invoice,omitempty"`
	Raw        json.RawMessage      `json:"raw,omitempty"`
	Confidence float64              `json:"confidence"`
	Error      string               `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &util.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}

// Classify 对记录内容做分类
func (c *Client) Classify(ctx context.Context, subject, body string) (*ClassifyResult, error) {
	var result ClassifyResult
	if err := c.post(ctx, "/classify", classifyRequest{Subject: subject, Body: body}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Extract 对记录做结构化字段抽取，返回与记录 1:1 的抽取结果
func (c *Client) Extract(ctx context.Context, rec *model.Record) (*model.ExtractionResult, error) {
	var resp extractResponse
	err := c.post(ctx, "/extract", extractRequest{
		RecordID: rec.ID,
		Subject:  rec.Subject,
		Body:     rec.Body,
		Category: string(rec.Category),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("extraction failed: %s", resp.Error)
	}

	return &model.ExtractionResult{
		RecordID:   rec.ID,
		Category:   model.Category(resp.Category),
		Inquiry:    resp.Inquiry,
		Invoice:    resp.Invoice,
		Raw:        resp.Raw,
		Confidence: resp.Confidence,
	}, nil
}
