package types

type IssueCredentialResponse struct {
	Code     string `json:"code"`
	IssuedAt string `json:"issued_at"`
	// ExpiresAt is empty when codes never expire.
	ExpiresAt string `json:"expires_at,omitempty"`
	// TempPassword repeats Code on the legacy route, which is the key
	// the keypad firmware reads.
	TempPassword string `json:"temp_password,omitempty"`
}

type VerifyCredentialRequest struct {
	// Password is the field name the door device firmware sends.
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`
}

// Value returns whichever of Code or Password the caller supplied.
func (r VerifyCredentialRequest) Value() string {
	if r.Code != "" {
		return r.Code
	}
	return r.Password
}

type VerifyCredentialResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type OutstandingCredentialsResponse struct {
	Codes []string `json:"codes"`
	Count int      `json:"count"`
}
