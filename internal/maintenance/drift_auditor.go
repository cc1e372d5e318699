package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/store"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/credit-ledger/internal/platform/metrics"
)

// Trigger sources recorded on wallet repairs
const (
	TriggerManual     = "manual"
	TriggerAudit      = "audit"
	TriggerReconciler = "reconciler"
)

const defaultRepairReason = "ledger_drift"

// AuditOptions controls one audit pass
type AuditOptions struct {
	DryRun        bool
	Limit         int
	TriggerSource string
}

// AuditReport summarizes an audit pass
type AuditReport struct {
	TotalDrifts int64            `json:"total_drifts"`
	Drifts      []wallet.Drift   `json:"drifts"`
	Repairs     []*wallet.Repair `json:"repairs,omitempty"`
	DryRun      bool             `json:"dry_run"`
}

// DriftAuditor detects wallets whose cached balance differs from their ledger
// sum and re-projects them. It is the only writer of balances besides the ledger
// and writes nothing but the ledger sum.
type DriftAuditor struct {
	uow    store.UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

func NewDriftAuditor(uow store.UnitOfWork, logger *slog.Logger) *DriftAuditor {
	return &DriftAuditor{
		uow:    uow,
		logger: logger,
		now:    time.Now,
	}
}

func (a *DriftAuditor) FindDrifts(ctx context.Context, limit int) ([]wallet.Drift, error) {
	return a.uow.Repositories().Wallets.FindDrifts(ctx, limit)
}

func (a *DriftAuditor) CountDrifts(ctx context.Context) (int64, error) {
	return a.uow.Repositories().Wallets.CountDrifts(ctx)
}

// RepairWallet sets the cached balance to the ledger sum under the wallet lock.
// It returns nil when the wallet is already in sync.
func (a *DriftAuditor) RepairWallet(ctx context.Context, identityID, reason, triggerSource string) (*wallet.Repair, error) {
	if reason == "" {
		reason = defaultRepairReason
	}
	if triggerSource == "" {
		triggerSource = TriggerManual
	}

	var repair *wallet.Repair
	err := a.uow.ExecuteTx(ctx, func(repos store.Repositories) error {
		w, err := repos.Wallets.LockForUpdate(ctx, identityID)
		if err != nil {
			return err
		}
		sum, err := repos.Ledger.SumByIdentity(ctx, identityID)
		if err != nil {
			return err
		}

		drift := wallet.Drift{IdentityID: identityID, CachedBalance: w.BalanceCredits, LedgerSum: sum}
		if drift.InSync() {
			return nil
		}

		now := a.now()
		repair = wallet.NewRepair(drift, reason, triggerSource, now)
		if err := repos.Wallets.UpdateBalance(ctx, identityID, sum, now); err != nil {
			return err
		}
		if err := repos.Wallets.CreateRepair(ctx, repair); err != nil {
			return err
		}

		message, err := outbox.NewMessage(outbox.EventWalletRepaired, identityID, repair)
		if err != nil {
			return fmt.Errorf("failed to encode wallet repair event: %w", err)
		}
		return repos.Outbox.Create(ctx, message)
	})
	if err != nil {
		return nil, err
	}

	if repair != nil {
		metrics.WalletRepairs.WithLabelValues(triggerSource).Inc()
		a.logger.Warn("Wallet re-projected from ledger",
			"identity_id", identityID,
			"old_balance", repair.OldBalance,
			"new_balance", repair.NewBalance,
			"delta", repair.Delta,
			"trigger", triggerSource)
	}
	return repair, nil
}

// Audit lists drifted wallets and, unless DryRun, repairs up to Limit of them
func (a *DriftAuditor) Audit(ctx context.Context, opts AuditOptions) (*AuditReport, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.TriggerSource == "" {
		opts.TriggerSource = TriggerAudit
	}

	total, err := a.CountDrifts(ctx)
	if err != nil {
		return nil, err
	}
	metrics.WalletDrifts.Set(float64(total))

	report := &AuditReport{TotalDrifts: total, DryRun: opts.DryRun}
	if total == 0 {
		a.logger.Info("Wallet audit found no drift")
		return report, nil
	}

	report.Drifts, err = a.FindDrifts(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	a.logger.Warn("Wallet audit found drift", "total", total, "listed", len(report.Drifts), "dry_run", opts.DryRun)
	if opts.DryRun {
		return report, nil
	}

	for _, drift := range report.Drifts {
		repair, err := a.RepairWallet(ctx, drift.IdentityID, defaultRepairReason, opts.TriggerSource)
		if err != nil {
			a.logger.Error("Failed to repair wallet", "identity_id", drift.IdentityID, "error", err)
			continue
		}
		if repair != nil {
			report.Repairs = append(report.Repairs, repair)
		}
	}
	return report, nil
}
