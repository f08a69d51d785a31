// Package models defines the core entities of BudgetGuard's relational
// schema (spec §3, §6): Tenant, ApiKey, ModelPricing, Budget, TagBudget,
// Tag, UsageLedger, RequestTag.
package models

import (
	"time"

	"gorm.io/gorm"
)

// NumericModel backs every entity in spec §3 — all of them carry a
// "numeric id", unlike the teacher's uuid.UUID primary keys.
type NumericModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
