package types

// Authentication outcomes reported in Status.
const (
	StatusGranted             = "granted"
	StatusSecondFactorPending = "second_factor_required"
	StatusDenied              = "denied"
)

// ReasonAccessDenied is the only reason a caller ever sees on a denial.
const ReasonAccessDenied = "access_denied"

type AuthenticateRequest struct {
	Template []float64 `json:"template,omitempty"`
	Image    string    `json:"image,omitempty"`
	Origin   string    `json:"-"`
}

type AuthenticateResponse struct {
	Granted              bool    `json:"granted"`
	Status               string  `json:"status"`
	PrincipalID          string  `json:"principal_id,omitempty"`
	Tier                 int     `json:"tier,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
	SecondFactorRequired bool    `json:"second_factor_required"`
	ExpiresAt            string  `json:"second_factor_expires_at,omitempty"`
	Reason               string  `json:"reason,omitempty"`
	ServerTime           string  `json:"server_time"`
}

type VerifySecondFactorRequest struct {
	PrincipalID string `json:"principal_id"`
	Code        string `json:"code"`
	Origin      string `json:"-"`
}

type VerifySecondFactorResponse struct {
	Granted     bool   `json:"granted"`
	Status      string `json:"status"`
	PrincipalID string `json:"principal_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ServerTime  string `json:"server_time"`
}
