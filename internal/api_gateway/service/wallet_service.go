package service

import (
	"context"
	"log/slog"

	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/history"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/wallet"
)

// WalletServiceImpl implements the WalletService interface
type WalletServiceImpl struct {
	ledger      *credit.Ledger
	engine      *credit.ReservationEngine
	historyRepo history.Repository
	logger      *slog.Logger
}

func NewWalletService(logger *slog.Logger, l *credit.Ledger, engine *credit.ReservationEngine, historyRepo history.Repository) WalletService {
	return &WalletServiceImpl{
		ledger:      l,
		engine:      engine,
		historyRepo: historyRepo,
		logger:      logger,
	}
}

func (s *WalletServiceImpl) Provision(ctx context.Context, identityID string) (*wallet.Wallet, bool, error) {
	return s.ledger.ProvisionWallet(ctx, identityID)
}

func (s *WalletServiceImpl) Snapshot(ctx context.Context, identityID string) (wallet.Snapshot, error) {
	return s.engine.Snapshot(ctx, identityID)
}

func (s *WalletServiceImpl) Entries(ctx context.Context, identityID string, page, perPage int) ([]*ledger.Entry, int64, error) {
	return s.ledger.Entries(ctx, identityID, perPage, offset(page, perPage))
}

// History reads the event trail the credit processor copies out of the outbox.
// It lags the ledger by at most one poll interval.
func (s *WalletServiceImpl) History(ctx context.Context, identityID string, page, perPage int) ([]*history.Event, int64, error) {
	events, err := s.historyRepo.ListByIdentity(ctx, identityID, perPage, offset(page, perPage))
	if err != nil {
		s.logger.Error("Failed to list credit history", "identity_id", identityID, "error", err)
		return nil, 0, err
	}

	total, err := s.historyRepo.CountByIdentity(ctx, identityID)
	if err != nil {
		s.logger.Error("Failed to count credit history", "identity_id", identityID, "error", err)
		return nil, 0, err
	}

	return events, total, nil
}

func (s *WalletServiceImpl) ActiveReservations(ctx context.Context, identityID string) ([]*reservation.Reservation, error) {
	return s.engine.ActiveReservations(ctx, identityID)
}

func (s *WalletServiceImpl) ApplyEntry(ctx context.Context, req credit.EntryRequest) (*ledger.Entry, error) {
	return s.ledger.ApplyEntry(ctx, req)
}

func offset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * perPage
}
