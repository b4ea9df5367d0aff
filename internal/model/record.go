package model

import "time"

// Status 记录在审批流中的阶段
type Status string

const (
	StatusFetched Status = "fetched"
	StatusReview  Status = "review"
	StatusManaged Status = "managed"
	StatusDeleted Status = "deleted"
)

// Category 记录的业务分类
type Category string

const (
	CategoryCustomerInquiry Category = "customer_inquiry"
	CategoryInvoice         Category = "invoice"
	CategoryOther           Category = "other"
)

// Categories 返回全部合法分类
func Categories() []Category {
	return []Category{CategoryCustomerInquiry, CategoryInvoice, CategoryOther}
}

// ValidCategory 检查分类是否合法
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCustomerInquiry, CategoryInvoice, CategoryOther:
		return true
	}
	return false
}

// Record 是被管理的邮件记录。
// 它在磁盘上的位置是 (status, category) 的纯函数，见 repository 包。
type Record struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	OwnerID  string `json:"owner_id,omitempty"`

	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	BodyHTML   string    `json:"body_html,omitempty"`
	FromAddr   string    `json:"from"`
	ToAddr     string    `json:"to"`
	Snippet    string    `json:"snippet,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	Category Category `json:"category"`
	Status   Status   `json:"status"`

	IsDeleted bool `json:"is_deleted"`
	// PrevStatus 记录软删除前所处的阶段（恢复固定回到 review，此字段仅作审计）
	PrevStatus Status `json:"prev_status,omitempty"`

	FetchedAt  time.Time  `json:"fetched_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ManagedAt  *time.Time `json:"managed_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// RecordPatch 是 Update 的部分更新。nil 字段表示不修改。
type RecordPatch struct {
	Status     *Status
	Category   *Category
	Subject    *string
	Body       *string
	IsDeleted  *bool
	PrevStatus *Status
	ReviewedAt *time.Time
	ManagedAt  *time.Time
	DeletedAt  *time.Time
}

// Apply merges the patch into a copy of the record and returns it.
func (p RecordPatch) Apply(r Record) Record {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Subject != nil {
		r.Subject = *p.Subject
	}
	if p.Body != nil {
		r.Body = *p.Body
	}
	if p.IsDeleted != nil {
		r.IsDeleted = *p.IsDeleted
	}
	if p.PrevStatus != nil {
		r.PrevStatus = *p.PrevStatus
	}
	if p.ReviewedAt != nil {
		r.ReviewedAt = p.ReviewedAt
	}
	if p.ManagedAt != nil {
		r.ManagedAt = p.ManagedAt
	}
	if p.DeletedAt != nil {
		r.DeletedAt = p.DeletedAt
	}
	return r
}
