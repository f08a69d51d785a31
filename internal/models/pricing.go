package models

// ModelPricing is a catalog entry mapping a model name to a provider and
// its per-1M-token USD prices (spec §3, §4.2). Provider nullable means
// the model exists but has no adapter and is unroutable.
type ModelPricing struct {
	NumericModel
	ModelName        string  `gorm:"uniqueIndex;not null" json:"model_name"`
	Version          string  `json:"version"`
	Provider         *string `json:"provider"`
	InputPrice       float64 `gorm:"not null" json:"input_price"`
	CachedInputPrice float64 `json:"cached_input_price"`
	OutputPrice      float64 `gorm:"not null" json:"output_price"`
}

func (ModelPricing) TableName() string { return "model_pricing" }
