package service

import (
	"context"
	"log/slog"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/pricing"
	"github.com/google/uuid"
)

// ReservationServiceImpl prices holds through the catalog and delegates to the engine
type ReservationServiceImpl struct {
	engine  *credit.ReservationEngine
	pricing PricingService
	logger  *slog.Logger
}

func NewReservationService(logger *slog.Logger, engine *credit.ReservationEngine, pricing PricingService) ReservationService {
	return &ReservationServiceImpl{
		engine:  engine,
		pricing: pricing,
		logger:  logger,
	}
}

// Reserve quotes the action and holds its cost. Returns ErrUnknownAction for keys
// the catalog cannot price.
func (s *ReservationServiceImpl) Reserve(ctx context.Context, cmd ReserveCommand) (*credit.ReserveResult, pricing.Quote, error) {
	quote, err := s.pricing.Quote(cmd.ActionKey)
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	result, err := s.engine.Reserve(ctx, credit.ReserveRequest{
		IdentityID: cmd.IdentityID,
		ActionKey:  quote.ActionCode,
		JobID:      cmd.JobID,
		Cost:       quote.Cost,
		TTL:        cmd.TTL,
		Meta:       cmd.Meta,
	})
	if err != nil {
		return nil, quote, err
	}
	return result, quote, nil
}

func (s *ReservationServiceImpl) Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return s.engine.Get(ctx, id)
}

func (s *ReservationServiceImpl) Finalize(ctx context.Context, id uuid.UUID) (*credit.FinalizeResult, error) {
	return s.engine.Finalize(ctx, id)
}

func (s *ReservationServiceImpl) Release(ctx context.Context, id uuid.UUID, reason string) (*credit.ReleaseResult, error) {
	return s.engine.Release(ctx, id, reason)
}
