package license

// Card statuses reported by the authority
const (
	CardStatusUsed    = "used"
	CardStatusUnused  = "unused"
	CardStatusExpired = "expired"
)

// VerifyRequest is the body of POST /api/cards/verify
type VerifyRequest struct {
	Key  string `json:"key"`
	HWID string `json:"hwid"`
}

// CardInfo describes the card as bound on the server
type CardInfo struct {
	ID          int64   `json:"id"`
	Key         string  `json:"key"`
	Status      string  `json:"status"`
	Description *string `json:"description,omitempty"`
	UsedAt      *string `json:"usedAt,omitempty"`
	ExpiredAt   *string `json:"expiredAt,omitempty"`
	HWID        *string `json:"hwid,omitempty"`
	BindAt      *string `json:"bindAt,omitempty"`
}

// VerifyResponse is the authority's answer to a verification request.
// ServerTime is in epoch seconds.
type VerifyResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Card       *CardInfo `json:"card,omitempty"`
	ServerTime *int64    `json:"serverTime,omitempty"`
}

// VerificationResult is the outcome of one successful authentication
type VerificationResult struct {
	Granted bool
	// ExpiresAt is the session end in Unix seconds.
	ExpiresAt int64
	// ServerTime is the authority's clock when it answered, if it sent one.
	ServerTime *int64
	CardID     int64
}
