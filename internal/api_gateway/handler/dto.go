package handler

// ProvisionWalletRequest represents a request to provision a wallet
type ProvisionWalletRequest struct {
	IdentityID string `json:"identity_id" binding:"required"`
}

// WalletResponse represents a wallet snapshot in API responses
type WalletResponse struct {
	IdentityID string `json:"identity_id"`
	Balance    int64  `json:"balance"`
	Reserved   int64  `json:"reserved"`
	Available  int64  `json:"available"`
	Created    bool   `json:"created,omitempty"`
}

// ApplyEntryRequest represents an administrative ledger write
type ApplyEntryRequest struct {
	Type    string         `json:"type" binding:"required"`
	Amount  int64          `json:"amount" binding:"required"`
	RefType string         `json:"ref_type,omitempty"`
	RefID   string         `json:"ref_id,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// LedgerEntryResponse represents a ledger entry in API responses
type LedgerEntryResponse struct {
	ID         string         `json:"id"`
	IdentityID string         `json:"identity_id"`
	Type       string         `json:"type"`
	Amount     int64          `json:"amount"`
	RefType    string         `json:"ref_type,omitempty"`
	RefID      string         `json:"ref_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// HistoryEventResponse represents a recorded credit event
type HistoryEventResponse struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

// ReserveRequest represents a request to hold credits for a job
type ReserveRequest struct {
	IdentityID string         `json:"identity_id" binding:"required"`
	ActionKey  string         `json:"action_key" binding:"required"`
	JobID      string         `json:"job_id" binding:"required"`
	TTLSeconds int64          `json:"ttl_seconds,omitempty" binding:"min=0"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ReleaseRequest carries an optional release reason
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReservationResponse represents a reservation in API responses
type ReservationResponse struct {
	ID            string         `json:"id"`
	IdentityID    string         `json:"identity_id"`
	ActionCode    string         `json:"action_code"`
	Cost          int64          `json:"cost"`
	Status        string         `json:"status"`
	JobID         string         `json:"job_id"`
	ReleaseReason string         `json:"release_reason,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     string         `json:"created_at"`
	ExpiresAt     string         `json:"expires_at"`
	CapturedAt    string         `json:"captured_at,omitempty"`
	ReleasedAt    string         `json:"released_at,omitempty"`
}

// ReserveResponse represents the outcome of a reserve call
type ReserveResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Wallet      WalletResponse      `json:"wallet"`
	Replayed    bool                `json:"replayed"`
}

// FinalizeResponse represents the outcome of a finalize call
type FinalizeResponse struct {
	Reservation      ReservationResponse  `json:"reservation"`
	Entry            *LedgerEntryResponse `json:"entry,omitempty"`
	AlreadyFinalized bool                 `json:"already_finalized"`
}

// ReleaseResponse represents the outcome of a release call
type ReleaseResponse struct {
	Reservation     ReservationResponse `json:"reservation"`
	AlreadyReleased bool                `json:"already_released"`
}

// JobOutcomeRequest reports the terminal state of a dispatched job
type JobOutcomeRequest struct {
	Success       *bool  `json:"success" binding:"required"`
	ErrorDetail   string `json:"error_detail,omitempty"`
	Provider      string `json:"provider,omitempty"`
	UpstreamJobID string `json:"upstream_job_id,omitempty"`
}

// JobOutcomeResponse acknowledges a queued outcome
type JobOutcomeResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// PricingResponse lists the cost of every canonical action
type PricingResponse struct {
	Costs map[string]int64 `json:"costs"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}
