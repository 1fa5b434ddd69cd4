package types

type EnrollRequest struct {
	PrincipalID string    `json:"principal_id"`
	Tier        int       `json:"tier"`
	Template    []float64 `json:"template,omitempty"`
	Image       string    `json:"image,omitempty"` // base64, used when an extractor is configured
	Origin      string    `json:"-"`
}

type EnrollResponse struct {
	Principal    PrincipalView             `json:"principal"`
	SecondFactor *SecondFactorProvisioning `json:"second_factor,omitempty"`
}

// SecondFactorProvisioning is returned exactly once, when a secret is issued.
type SecondFactorProvisioning struct {
	Secret string `json:"secret"`
	URI    string `json:"provisioning_uri"`
	QRCode string `json:"qr_code,omitempty"`
}

type AddTemplateRequest struct {
	Template []float64 `json:"template,omitempty"`
	Image    string    `json:"image,omitempty"`
	Origin   string    `json:"-"`
}

// PrincipalView never carries templates or secrets.
type PrincipalView struct {
	ID                   string  `json:"id"`
	Tier                 int     `json:"tier"`
	TemplateCount        int     `json:"template_count"`
	SecondFactorEnrolled bool    `json:"second_factor_enrolled"`
	EnrolledAt           string  `json:"enrolled_at"`
	LastAccess           *string `json:"last_access,omitempty"`
	FailedAttempts       int     `json:"failed_attempts"`
	Locked               bool    `json:"locked"`
	LockedUntil          *string `json:"locked_until,omitempty"`
}

type PrincipalList struct {
	Principals []PrincipalView `json:"principals"`
	Total      int             `json:"total"`
}
