package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/history"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/gin-gonic/gin"
)

// WalletHandler handles HTTP requests for wallets and their ledgers
type WalletHandler struct {
	walletService service.WalletService
	logger        *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(logger *slog.Logger, walletService service.WalletService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

// Provision creates a wallet for the identity. Provisioning twice answers 200 with the
// existing wallet instead of 201.
func (h *WalletHandler) Provision(c *gin.Context) {
	var req ProvisionWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	_, created, err := h.walletService.Provision(ctx, req.IdentityID)
	if err != nil {
		respondError(c, h.logger, err, "provision wallet")
		return
	}

	snapshot, err := h.walletService.Snapshot(ctx, req.IdentityID)
	if err != nil {
		respondError(c, h.logger, err, "read wallet")
		return
	}

	response := mapSnapshotToResponse(snapshot)
	response.Created = created
	if created {
		RespondCreated(c, response)
		return
	}
	RespondOK(c, response)
}

// GetSnapshot returns balance, reserved and available credits
func (h *WalletHandler) GetSnapshot(c *gin.Context) {
	snapshot, err := h.walletService.Snapshot(c.Request.Context(), c.Param("identity"))
	if err != nil {
		respondError(c, h.logger, err, "read wallet")
		return
	}
	RespondOK(c, mapSnapshotToResponse(snapshot))
}

// GetLedger lists ledger entries, newest first
func (h *WalletHandler) GetLedger(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	entries, total, err := h.walletService.Entries(c.Request.Context(), c.Param("identity"), pagination.Page, pagination.PerPage)
	if err != nil {
		respondError(c, h.logger, err, "list ledger entries")
		return
	}

	response := make([]LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, mapEntryToResponse(entry))
	}
	RespondWithPaginatedData(c, http.StatusOK, response, pagination.Page, pagination.PerPage, int(total))
}

// GetHistory lists credit events recorded by the credit processor
func (h *WalletHandler) GetHistory(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	events, total, err := h.walletService.History(c.Request.Context(), c.Param("identity"), pagination.Page, pagination.PerPage)
	if err != nil {
		respondError(c, h.logger, err, "list credit history")
		return
	}

	response := make([]HistoryEventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, mapEventToResponse(event))
	}
	RespondWithPaginatedData(c, http.StatusOK, response, pagination.Page, pagination.PerPage, int(total))
}

// GetReservations lists live holds
func (h *WalletHandler) GetReservations(c *gin.Context) {
	holds, err := h.walletService.ActiveReservations(c.Request.Context(), c.Param("identity"))
	if err != nil {
		respondError(c, h.logger, err, "list reservations")
		return
	}

	response := make([]ReservationResponse, 0, len(holds))
	for _, res := range holds {
		response = append(response, mapReservationToResponse(res))
	}
	RespondOK(c, response)
}

// ApplyEntry writes an administrative ledger entry
func (h *WalletHandler) ApplyEntry(c *gin.Context) {
	var req ApplyEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identityID := c.Param("identity")
	entry, err := h.walletService.ApplyEntry(c.Request.Context(), credit.EntryRequest{
		IdentityID: identityID,
		Type:       ledger.EntryType(req.Type),
		Amount:     req.Amount,
		RefType:    req.RefType,
		RefID:      req.RefID,
		Meta:       req.Meta,
	})
	if err != nil {
		respondError(c, h.logger, err, "apply ledger entry")
		return
	}

	h.logger.Info("Ledger entry applied", "identity_id", identityID, "type", req.Type, "amount", req.Amount)
	RespondCreated(c, mapEntryToResponse(entry))
}

func mapSnapshotToResponse(s wallet.Snapshot) WalletResponse {
	return WalletResponse{
		IdentityID: s.IdentityID,
		Balance:    s.Balance,
		Reserved:   s.Reserved,
		Available:  s.Available,
	}
}

func mapEntryToResponse(e *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:         e.ID.String(),
		IdentityID: e.IdentityID,
		Type:       string(e.Type),
		Amount:     e.Amount,
		RefType:    e.RefType,
		RefID:      e.RefID,
		Meta:       e.Meta,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func mapEventToResponse(e *history.Event) HistoryEventResponse {
	return HistoryEventResponse{
		EventID:    e.EventID,
		EventType:  e.EventType,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt.Format(time.RFC3339),
	}
}

func mapReservationToResponse(r *reservation.Reservation) ReservationResponse {
	response := ReservationResponse{
		ID:            r.ID.String(),
		IdentityID:    r.IdentityID,
		ActionCode:    r.ActionCode,
		Cost:          r.CostCredits,
		Status:        string(r.Status),
		JobID:         r.JobID,
		ReleaseReason: r.ReleaseReason,
		Meta:          r.Meta,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		ExpiresAt:     r.ExpiresAt.Format(time.RFC3339),
	}
	if r.CapturedAt != nil {
		response.CapturedAt = r.CapturedAt.Format(time.RFC3339)
	}
	if r.ReleasedAt != nil {
		response.ReleasedAt = r.ReleasedAt.Format(time.RFC3339)
	}
	return response
}
