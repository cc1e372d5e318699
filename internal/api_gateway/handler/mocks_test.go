package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/credit-ledger/internal/api_gateway/service"
	"github.com/credit-ledger/internal/credit"
	"github.com/credit-ledger/internal/domain/history"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/pricing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWalletService struct {
	mock.Mock
}

func (m *MockWalletService) Provision(ctx context.Context, identityID string) (*wallet.Wallet, bool, error) {
	args := m.Called(ctx, identityID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*wallet.Wallet), args.Bool(1), args.Error(2)
}

func (m *MockWalletService) Snapshot(ctx context.Context, identityID string) (wallet.Snapshot, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(wallet.Snapshot), args.Error(1)
}

func (m *MockWalletService) Entries(ctx context.Context, identityID string, page, perPage int) ([]*ledger.Entry, int64, error) {
	args := m.Called(ctx, identityID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*ledger.Entry), args.Get(1).(int64), args.Error(2)
}

func (m *MockWalletService) History(ctx context.Context, identityID string, page, perPage int) ([]*history.Event, int64, error) {
	args := m.Called(ctx, identityID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*history.Event), args.Get(1).(int64), args.Error(2)
}

func (m *MockWalletService) ActiveReservations(ctx context.Context, identityID string) ([]*reservation.Reservation, error) {
	args := m.Called(ctx, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reservation.Reservation), args.Error(1)
}

func (m *MockWalletService) ApplyEntry(ctx context.Context, req credit.EntryRequest) (*ledger.Entry, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

type MockReservationService struct {
	mock.Mock
}

func (m *MockReservationService) Reserve(ctx context.Context, cmd service.ReserveCommand) (*credit.ReserveResult, pricing.Quote, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Get(1).(pricing.Quote), args.Error(2)
	}
	return args.Get(0).(*credit.ReserveResult), args.Get(1).(pricing.Quote), args.Error(2)
}

func (m *MockReservationService) Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Reservation), args.Error(1)
}

func (m *MockReservationService) Finalize(ctx context.Context, id uuid.UUID) (*credit.FinalizeResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credit.FinalizeResult), args.Error(1)
}

func (m *MockReservationService) Release(ctx context.Context, id uuid.UUID, reason string) (*credit.ReleaseResult, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credit.ReleaseResult), args.Error(1)
}

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) SubmitOutcome(ctx context.Context, message *shared.JobOutcomeMessage) error {
	return m.Called(ctx, message).Error(0)
}

type MockPricingService struct {
	mock.Mock
}

func (m *MockPricingService) Quote(actionKey string) (pricing.Quote, error) {
	args := m.Called(actionKey)
	return args.Get(0).(pricing.Quote), args.Error(1)
}

func (m *MockPricingService) Costs() map[string]int64 {
	return m.Called().Get(0).(map[string]int64)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// decodeData unmarshals the envelope and then its data field into out
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) Response {
	t.Helper()
	var envelope Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	if out != nil {
		require.NotNil(t, envelope.Data, "'data' field should not be nil")
		dataBytes, err := json.Marshal(envelope.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(dataBytes, out))
	}
	return envelope
}
