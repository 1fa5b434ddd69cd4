package types

type AuditQuery struct {
	PrincipalID string
	Limit       int
	Offset      int
}

type AuditRecordView struct {
	Seq              int64   `json:"seq" yaml:"seq"`
	Timestamp        string  `json:"timestamp" yaml:"timestamp"`
	EventType        string  `json:"event_type" yaml:"event_type"`
	PrincipalID      *string `json:"principal_id" yaml:"principal_id"`
	Decision         string  `json:"decision" yaml:"decision"`
	Confidence       float64 `json:"confidence" yaml:"confidence"`
	Reason           string  `json:"reason" yaml:"reason"`
	SecondFactorUsed bool    `json:"second_factor_used" yaml:"second_factor_used"`
	Origin           string  `json:"origin" yaml:"origin"`
	PrevHash         string  `json:"prev_hash" yaml:"prev_hash"`
	Hash             string  `json:"hash" yaml:"hash"`
}

type IntegrityReport struct {
	Valid          bool   `json:"valid" yaml:"valid"`
	FirstViolation *int   `json:"first_violation,omitempty" yaml:"first_violation,omitempty"`
	Violation      string `json:"violation,omitempty" yaml:"violation,omitempty"`
	RecordsChecked int    `json:"records_checked" yaml:"records_checked"`
	CheckedAt      string `json:"checked_at" yaml:"checked_at"`
}

type AuditPage struct {
	Records   []AuditRecordView `json:"records" yaml:"records"`
	Total     int64             `json:"total" yaml:"total"`
	Limit     int               `json:"limit" yaml:"limit"`
	Offset    int               `json:"offset" yaml:"offset"`
	Integrity IntegrityReport   `json:"integrity" yaml:"integrity"`
}
