package types

type ThresholdsView struct {
	Tier1     float64 `json:"tier_1" yaml:"tier_1"`
	Tier2     float64 `json:"tier_2" yaml:"tier_2"`
	Tier3     float64 `json:"tier_3" yaml:"tier_3"`
	UpdatedAt string  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// UpdateThresholdsRequest replaces all three cutoffs at once; every field is
// required.
type UpdateThresholdsRequest struct {
	Tier1  *float64 `json:"tier_1"`
	Tier2  *float64 `json:"tier_2"`
	Tier3  *float64 `json:"tier_3"`
	Origin string   `json:"-"`
}
