package models

// TagRef is the {id, name, weight} shape carried on a UsageEvent and in
// the published stream entry (spec §3, §6).
type TagRef struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// UsageEvent is the transient record produced at response-finalize time
// and written to the durable append-only stream (spec §3). It is never
// persisted directly — the Ledger Consumer (C8) turns it into a
// UsageLedger row plus tag-usage aggregate updates.
type UsageEvent struct {
	ID        string      `json:"id"`
	TS        int64       `json:"ts"`
	Tenant    string      `json:"tenant"`
	TenantID  int64       `json:"tenantId"`
	Route     string      `json:"route"`
	Model     string      `json:"model"`
	USD       float64     `json:"usd"`
	PromptTok int         `json:"promptTok"`
	CompTok   int         `json:"compTok"`
	Status    UsageStatus `json:"status"`
	SessionID string      `json:"sessionId,omitempty"`
	Tags      []TagRef    `json:"tags,omitempty"`
}
