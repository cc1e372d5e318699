package handler

import (
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// JobHandler accepts job outcomes and queues them for the credit processor
type JobHandler struct {
	jobService service.JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(logger *slog.Logger, jobService service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// ReportOutcome publishes the outcome and answers 202; the hold is settled asynchronously
func (h *JobHandler) ReportOutcome(c *gin.Context) {
	var req JobOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	jobID := c.Param("id")
	message := &shared.JobOutcomeMessage{
		JobID:         jobID,
		Provider:      req.Provider,
		UpstreamJobID: req.UpstreamJobID,
		Success:       *req.Success,
		ErrorDetail:   req.ErrorDetail,
		Timestamp:     time.Now().UTC(),
	}

	if err := h.jobService.SubmitOutcome(c.Request.Context(), message); err != nil {
		respondError(c, h.logger, err, "submit job outcome")
		return
	}

	RespondAccepted(c, JobOutcomeResponse{JobID: jobID, Status: "queued"})
}
