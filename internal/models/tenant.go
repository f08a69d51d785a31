package models

// Tenant is a billing/authorization principal (spec §3). Never deleted
// from the core's perspective, only deactivated.
type Tenant struct {
	NumericModel
	Name            string `gorm:"uniqueIndex;not null" json:"name"`
	RateLimitPerMin *int   `json:"rate_limit_per_min,omitempty"`
	IsActive        bool   `gorm:"default:true" json:"is_active"`
}

func (Tenant) TableName() string { return "tenants" }
