package handler

import (
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReservationHandler handles HTTP requests for credit holds
type ReservationHandler struct {
	reservationService service.ReservationService
	logger             *slog.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(logger *slog.Logger, reservationService service.ReservationService) *ReservationHandler {
	return &ReservationHandler{
		reservationService: reservationService,
		logger:             logger,
	}
}

// Reserve prices the action and holds its cost against the wallet. A replayed job id
// answers 200 with the existing hold.
func (h *ReservationHandler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, quote, err := h.reservationService.Reserve(c.Request.Context(), service.ReserveCommand{
		IdentityID: req.IdentityID,
		ActionKey:  req.ActionKey,
		JobID:      req.JobID,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
		Meta:       req.Meta,
	})
	if err != nil {
		if quote.ActionCode != "" {
			h.logger.Warn("Reservation rejected", "identity_id", req.IdentityID, "action_code", quote.ActionCode, "cost", quote.Cost, "error", err)
		}
		respondError(c, h.logger, err, "reserve credits")
		return
	}

	response := ReserveResponse{
		Reservation: mapReservationToResponse(result.Reservation),
		Wallet:      mapSnapshotToResponse(result.Snapshot),
		Replayed:    result.Replayed,
	}
	if result.Replayed {
		RespondOK(c, response)
		return
	}
	RespondCreated(c, response)
}

// GetByID retrieves a reservation by its ID, returning 404 if not found
func (h *ReservationHandler) GetByID(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	res, err := h.reservationService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get reservation")
		return
	}
	RespondOK(c, mapReservationToResponse(res))
}

// Finalize captures the hold into the ledger
func (h *ReservationHandler) Finalize(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	result, err := h.reservationService.Finalize(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "finalize reservation")
		return
	}

	response := FinalizeResponse{
		Reservation:      mapReservationToResponse(result.Reservation),
		AlreadyFinalized: result.AlreadyFinalized,
	}
	if result.Entry != nil {
		entry := mapEntryToResponse(result.Entry)
		response.Entry = &entry
	}
	RespondOK(c, response)
}

// Release returns the held credits. The body is optional.
func (h *ReservationHandler) Release(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.reservationService.Release(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "release reservation")
		return
	}

	RespondOK(c, ReleaseResponse{
		Reservation:     mapReservationToResponse(result.Reservation),
		AlreadyReleased: result.AlreadyReleased,
	})
}

func (h *ReservationHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid reservation ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid reservation ID")
		return uuid.Nil, false
	}
	return id, true
}
