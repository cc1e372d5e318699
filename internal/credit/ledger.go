package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/platform/metrics"
)

// RefTypeSignup references the identity that received its signup grant
const RefTypeSignup = "signup"

// EntryRequest describes one signed balance change
type EntryRequest struct {
	IdentityID string
	Type       ledger.EntryType
	Amount     int64
	RefType    string
	RefID      string
	Meta       map[string]any
}

// Ledger is the single write path to wallet balances
type Ledger struct {
	uow         store.UnitOfWork
	policy      ledger.BalancePolicy
	signupGrant int64
	logger      *slog.Logger
	now         func() time.Time
}

func NewLedger(uow store.UnitOfWork, policy ledger.BalancePolicy, signupGrant int64, logger *slog.Logger) *Ledger {
	return &Ledger{
		uow:         uow,
		policy:      policy,
		signupGrant: signupGrant,
		logger:      logger,
		now:         time.Now,
	}
}

// ApplyEntry appends an entry and moves the cached balance by its amount.
// A referenced entry that already exists is returned unchanged.
func (l *Ledger) ApplyEntry(ctx context.Context, req EntryRequest) (*ledger.Entry, error) {
	defer metrics.ObserveOperation("apply_entry", time.Now())

	var (
		entry    *ledger.Entry
		replayed bool
	)
	err := l.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		entry, replayed, err = l.applyEntry(ctx, repos, req, l.now())
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance{}) {
			metrics.LedgerRejections.WithLabelValues(string(req.Type)).Inc()
		}
		return nil, err
	}

	if replayed {
		l.logger.Info("Ledger entry replayed", "identity_id", req.IdentityID, "entry_id", entry.ID.String(), "ref_id", req.RefID)
	} else {
		metrics.LedgerEntries.WithLabelValues(string(entry.Type)).Inc()
		l.logger.Info("Ledger entry applied", "identity_id", req.IdentityID, "entry_id", entry.ID.String(), "type", string(entry.Type), "amount", entry.Amount)
	}
	return entry, nil
}

// applyEntry runs inside the caller's transaction and takes the wallet lock itself.
// Re-locking a wallet the transaction already holds does not block.
func (l *Ledger) applyEntry(ctx context.Context, repos store.Repositories, req EntryRequest, now time.Time) (*ledger.Entry, bool, error) {
	entry, err := ledger.NewEntry(req.IdentityID, req.Type, req.Amount, req.RefType, req.RefID, req.Meta, now)
	if err != nil {
		return nil, false, err
	}

	w, err := repos.Wallets.LockForUpdate(ctx, req.IdentityID)
	if err != nil {
		return nil, false, err
	}

	if entry.HasRef() {
		existing, err := repos.Ledger.GetByRef(ctx, entry.IdentityID, entry.Type, entry.RefType, entry.RefID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ledger.ErrEntryNotFound{}) {
			return nil, false, err
		}
	}

	newBalance, err := l.policy.Check(w.IdentityID, w.BalanceCredits, entry.Type, entry.Amount)
	if err != nil {
		l.logger.Warn("Ledger entry rejected by balance policy",
			"identity_id", w.IdentityID,
			"type", string(entry.Type),
			"balance", w.BalanceCredits,
			"delta", entry.Amount)
		return nil, false, err
	}

	if err := repos.Ledger.Create(ctx, entry); err != nil {
		return nil, false, err
	}
	if err := repos.Wallets.UpdateBalance(ctx, w.IdentityID, newBalance, now); err != nil {
		return nil, false, err
	}
	if err := writeEvent(ctx, repos, outbox.EventLedgerEntryApplied, w.IdentityID, LedgerEntryApplied{Entry: entry, BalanceAfter: newBalance}); err != nil {
		return nil, false, err
	}

	return entry, false, nil
}

// ProvisionWallet creates the wallet if missing and applies the configured signup grant once
func (l *Ledger) ProvisionWallet(ctx context.Context, identityID string) (*wallet.Wallet, bool, error) {
	now := l.now()
	w, err := wallet.NewWallet(identityID, now)
	if err != nil {
		return nil, false, err
	}

	var created bool
	err = l.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		var err error
		created, err = repos.Wallets.Create(ctx, w)
		if err != nil {
			return err
		}
		if created && l.signupGrant > 0 {
			_, _, err = l.applyEntry(ctx, repos, EntryRequest{
				IdentityID: identityID,
				Type:       ledger.EntryTypeSignupGrant,
				Amount:     l.signupGrant,
				RefType:    RefTypeSignup,
				RefID:      identityID,
			}, now)
			if err != nil {
				return fmt.Errorf("failed to apply signup grant: %w", err)
			}
		}
		w, err = repos.Wallets.GetByIdentity(ctx, identityID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		l.logger.Info("Wallet provisioned", "identity_id", identityID, "balance", w.BalanceCredits)
	}
	return w, created, nil
}

// Entries lists an identity's ledger newest first together with the total count
func (l *Ledger) Entries(ctx context.Context, identityID string, limit, offset int) ([]*ledger.Entry, int64, error) {
	repos := l.uow.Repositories()
	if _, err := repos.Wallets.GetByIdentity(ctx, identityID); err != nil {
		return nil, 0, err
	}

	entries, err := repos.Ledger.ListByIdentity(ctx, identityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Ledger.CountByIdentity(ctx, identityID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// VerifyWallet compares the cached balance with the ledger sum under the wallet lock
func (l *Ledger) VerifyWallet(ctx context.Context, identityID string) (wallet.Drift, error) {
	var drift wallet.Drift
	err := l.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		w, err := repos.Wallets.LockForUpdate(ctx, identityID)
		if err != nil {
			return err
		}
		sum, err := repos.Ledger.SumByIdentity(ctx, identityID)
		if err != nil {
			return err
		}
		drift = wallet.Drift{IdentityID: identityID, CachedBalance: w.BalanceCredits, LedgerSum: sum}
		return nil
	})
	return drift, err
}
