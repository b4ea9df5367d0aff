package model

import (
	"encoding/json"
	"time"
)

// InquiryFields 客户咨询的结构化字段
type InquiryFields struct {
	CustomerName    string `json:"customer_name,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	Company         string `json:"company,omitempty"`
	ServiceInterest string `json:"service_interest,omitempty"`
}

// InvoiceFields 发票的结构化字段
type InvoiceFields struct {
	InvoiceNumber string `json:"invoice_number,omitempty"`
	InvoiceDate   string `json:"invoice_date,omitempty"`
	ClientName    string `json:"client_name,omitempty"`
	TotalAmount   string `json:"total_amount,omitempty"`
	VATAmount     string `json:"vat_amount,omitempty"`
}

// ExtractionResult 是一条记录的结构化抽取结果，与记录 1:1。
// 分类通过 Category + 对应的字段指针表达（Inquiry 与 Invoice 互斥）。
type ExtractionResult struct {
	ID       string   `json:"id"`
	RecordID string   `json:"record_id"`
	Category Category `json:"category"`

	Inquiry *InquiryFields `json:"inquiry,omitempty"`
	Invoice *InvoiceFields `json:"invoice,omitempty"`

	Raw        json.RawMessage `json:"raw,omitempty"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Fields returns the category-specific field set flattened into a map,
// omitting empty values. Bookkeeping fields (id, timestamps, raw payload)
// are intentionally not included.
func (e *ExtractionResult) Fields() map[string]string {
	out := make(map[string]string)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	if e.Inquiry != nil {
		put("customer_name", e.Inquiry.CustomerName)
		put("customer_email", e.Inquiry.CustomerEmail)
		put("customer_phone", e.Inquiry.CustomerPhone)
		put("company", e.Inquiry.Company)
		put("service_interest", e.Inquiry.ServiceInterest)
	}
	if e.Invoice != nil {
		put("invoice_number", e.Invoice.InvoiceNumber)
		put("invoice_date", e.Invoice.InvoiceDate)
		put("client_name", e.Invoice.ClientName)
		put("total_amount", e.Invoice.TotalAmount)
		put("vat_amount", e.Invoice.VATAmount)
	}
	return out
}
