package models

// UsageStatus is the terminal status recorded for a proxied request.
type UsageStatus string

const (
	StatusSuccess UsageStatus = "success"
	StatusError   UsageStatus = "error"
	StatusDenied  UsageStatus = "denied"
)

// UsageLedger is the durable, append-only mirror of a UsageEvent (spec
// §3, §6). Rows are never mutated after insertion.
type UsageLedger struct {
	NumericModel
	EventID      string      `gorm:"uniqueIndex;not null" json:"event_id"`
	TenantID     int64       `gorm:"not null;index" json:"tenant_id"`
	Tenant       string      `gorm:"not null" json:"tenant"`
	Route        string      `gorm:"not null" json:"route"`
	Model        string      `gorm:"not null" json:"model"`
	UsdCost      float64     `gorm:"not null" json:"usd_cost"`
	PromptTok    int         `json:"prompt_tok"`
	CompTok      int         `json:"comp_tok"`
	Status       UsageStatus `gorm:"not null" json:"status"`
	SessionID    *string     `json:"session_id,omitempty"`
}

func (UsageLedger) TableName() string { return "usage_ledger" }

// RequestTag attaches a tag (by weight, at the time of the request) to a
// ledger row (spec §4.8).
type RequestTag struct {
	NumericModel
	UsageLedgerID int64   `gorm:"not null;index" json:"usage_ledger_id"`
	TagID         int64   `gorm:"not null;index" json:"tag_id"`
	Weight        float64 `gorm:"default:1" json:"weight"`
	AssignedBy    string  `gorm:"default:header" json:"assigned_by"`
}

func (RequestTag) TableName() string { return "request_tags" }
