package handler

import (
	"errors"
	"log/slog"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/pricing"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto the response envelope. Anything unrecognised is
// logged and answered with 500.
func respondError(c *gin.Context, logger *slog.Logger, err error, operation string) {
	var insufficientCredits wallet.ErrInsufficientCredits
	var invalidType ledger.ErrInvalidEntryType

	switch {
	case errors.As(err, &insufficientCredits):
		RespondPaymentRequired(c, insufficientCredits)
	case errors.Is(err, wallet.ErrWalletNotFound{}),
		errors.Is(err, reservation.ErrReservationNotFound{}),
		errors.Is(err, job.ErrJobNotFound{}):
		RespondNotFound(c, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance{}):
		RespondUnprocessable(c, err.Error())
	case errors.Is(err, reservation.ErrInvalidStateTransition{}),
		errors.Is(err, job.ErrStatusConflict{}),
		errors.Is(err, job.ErrNotCancellable{}),
		errors.Is(err, job.ErrOwnershipMismatch{}),
		errors.Is(err, job.ErrHoldAlreadyLinked{}):
		RespondConflict(c, err.Error())
	case errors.As(err, &invalidType),
		errors.Is(err, ledger.ErrInvalidAmount{}),
		errors.Is(err, pricing.ErrUnknownAction{}),
		isValidationError(err):
		RespondBadRequest(c, err.Error())
	default:
		logger.Error("Failed to "+operation, "error", err)
		RespondInternalError(c)
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		wallet.ErrEmptyIdentity,
		ledger.ErrEmptyIdentity,
		ledger.ErrIncompleteReference,
		reservation.ErrEmptyIdentity,
		reservation.ErrEmptyActionCode,
		reservation.ErrEmptyJobID,
		reservation.ErrInvalidCost,
		reservation.ErrInvalidTTL,
		shared.ErrMissingJobReference,
		shared.ErrIncompleteUpstream,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
