package models

import "time"

type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodCustom  BudgetPeriod = "custom"
)

// Budget is a spend cap for a tenant over a period (spec §3, §4.3). For
// non-custom periods the window is derived from the wall clock; for
// custom periods StartDate/EndDate define it.
type Budget struct {
	NumericModel
	TenantID  int64        `gorm:"not null;index:idx_budget_tenant_period" json:"tenant_id"`
	Period    BudgetPeriod `gorm:"not null;index:idx_budget_tenant_period" json:"period"`
	AmountUSD float64      `gorm:"not null" json:"amount_usd"`
	StartDate *time.Time   `json:"start_date,omitempty"`
	EndDate   *time.Time   `json:"end_date,omitempty"`
}

func (Budget) TableName() string { return "budgets" }

type InheritanceMode string

const (
	InheritanceStrict InheritanceMode = "STRICT"
)

// TagBudget is a spend cap for a request-tag (spec §3).
type TagBudget struct {
	NumericModel
	TagID           int64           `gorm:"not null;index" json:"tag_id"`
	Period          BudgetPeriod    `gorm:"not null" json:"period"`
	AmountUSD       float64         `gorm:"not null" json:"amount_usd"`
	Weight          float64         `gorm:"default:1" json:"weight"`
	InheritanceMode InheritanceMode `gorm:"default:STRICT" json:"inheritance_mode"`
	IsActive        bool            `gorm:"default:true" json:"is_active"`
}

func (TagBudget) TableName() string { return "tag_budgets" }

// Tag is a request-attributable, hierarchical label (spec §3). Path is
// the slash-separated concatenation of ancestor names; Level is depth
// from the root (root = 0).
type Tag struct {
	NumericModel
	TenantID int64  `gorm:"not null;index:idx_tag_tenant_name" json:"tenant_id"`
	Name     string `gorm:"not null;index:idx_tag_tenant_name" json:"name"`
	Path     string `gorm:"not null" json:"path"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Level    int    `gorm:"default:0" json:"level"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

func (Tag) TableName() string { return "tags" }
