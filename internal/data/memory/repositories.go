package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/credit-ledger/internal/domain/job"
	"github.com/credit-ledger/internal/domain/ledger"
	"github.com/credit-ledger/internal/domain/outbox"
	"github.com/credit-ledger/internal/domain/reservation"
	"github.com/credit-ledger/internal/domain/shared"
	"github.com/credit-ledger/internal/domain/wallet"
	"github.com/google/uuid"
)

var errMissingWallet = errors.New("wallet row does not exist")

// WalletRepository implements wallet.Repository
type WalletRepository struct{ binding }

func (r *WalletRepository) Create(_ context.Context, w *wallet.Wallet) (created bool, err error) {
	err = r.read(func(st *state) error {
		if _, ok := st.wallets[w.IdentityID]; ok {
			return nil
		}
		st.wallets[w.IdentityID] = *w
		created = true
		return nil
	})
	return created, err
}

func (r *WalletRepository) GetByIdentity(_ context.Context, identityID string) (w *wallet.Wallet, err error) {
	err = r.read(func(st *state) error {
		stored, ok := st.wallets[identityID]
		if !ok {
			return wallet.ErrWalletNotFound{IdentityID: identityID}
		}
		w = &stored
		return nil
	})
	return w, err
}

// LockForUpdate is a plain read: the transaction already holds the store lock
func (r *WalletRepository) LockForUpdate(ctx context.Context, identityID string) (*wallet.Wallet, error) {
	return r.GetByIdentity(ctx, identityID)
}

func (r *WalletRepository) UpdateBalance(_ context.Context, identityID string, balance int64, now time.Time) error {
	return r.read(func(st *state) error {
		w, ok := st.wallets[identityID]
		if !ok {
			return wallet.ErrWalletNotFound{IdentityID: identityID}
		}
		w.BalanceCredits = balance
		w.UpdatedAt = now
		st.wallets[identityID] = w
		return nil
	})
}

func (r *WalletRepository) FindDrifts(_ context.Context, limit int) (drifts []wallet.Drift, err error) {
	err = r.read(func(st *state) error {
		drifts = st.drifts()
		return nil
	})
	if len(drifts) > limit {
		drifts = drifts[:limit]
	}
	return drifts, err
}

func (r *WalletRepository) CountDrifts(_ context.Context) (count int64, err error) {
	err = r.read(func(st *state) error {
		count = int64(len(st.drifts()))
		return nil
	})
	return count, err
}

func (r *WalletRepository) CreateRepair(_ context.Context, repair *wallet.Repair) error {
	return r.read(func(st *state) error {
		if _, ok := st.wallets[repair.IdentityID]; !ok {
			return errMissingWallet
		}
		st.repairs = append(st.repairs, *repair)
		return nil
	})
}

func (st *state) drifts() []wallet.Drift {
	sums := make(map[string]int64)
	for _, e := range st.entries {
		sums[e.IdentityID] += e.Amount
	}
	var drifts []wallet.Drift
	for id, w := range st.wallets {
		if d := (wallet.Drift{IdentityID: id, CachedBalance: w.BalanceCredits, LedgerSum: sums[id]}); !d.InSync() {
			drifts = append(drifts, d)
		}
	}
	sort.Slice(drifts, func(i, j int) bool {
		di, dj := abs(drifts[i].Delta()), abs(drifts[j].Delta())
		if di != dj {
			return di > dj
		}
		return drifts[i].IdentityID < drifts[j].IdentityID
	})
	return drifts
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// LedgerRepository implements ledger.Repository
type LedgerRepository struct{ binding }

func (r *LedgerRepository) Create(_ context.Context, entry *ledger.Entry) error {
	return r.read(func(st *state) error {
		if _, ok := st.wallets[entry.IdentityID]; !ok {
			return errMissingWallet
		}
		if entry.HasRef() {
			if _, found := st.findEntry(entry.IdentityID, entry.Type, entry.RefType, entry.RefID); found {
				return ledger.ErrDuplicateEntry{RefType: entry.RefType, RefID: entry.RefID}
			}
		}
		stored := *entry
		stored.Meta = copyMeta(entry.Meta)
		st.entries = append(st.entries, stored)
		return nil
	})
}

func (r *LedgerRepository) GetByRef(_ context.Context, identityID string, entryType ledger.EntryType, refType, refID string) (entry *ledger.Entry, err error) {
	err = r.read(func(st *state) error {
		found, ok := st.findEntry(identityID, entryType, refType, refID)
		if !ok {
			return ledger.ErrEntryNotFound{RefType: refType, RefID: refID}
		}
		entry = &found
		return nil
	})
	return entry, err
}

func (st *state) findEntry(identityID string, entryType ledger.EntryType, refType, refID string) (ledger.Entry, bool) {
	for _, e := range st.entries {
		if e.IdentityID == identityID && e.Type == entryType && e.RefType == refType && e.RefID == refID {
			e.Meta = copyMeta(e.Meta)
			return e, true
		}
	}
	return ledger.Entry{}, false
}

func (r *LedgerRepository) ListByIdentity(_ context.Context, identityID string, limit, offset int) (entries []*ledger.Entry, err error) {
	err = r.read(func(st *state) error {
		// newest first; later inserts win ties on created_at
		for i := len(st.entries) - 1; i >= 0; i-- {
			if e := st.entries[i]; e.IdentityID == identityID {
				e.Meta = copyMeta(e.Meta)
				entries = append(entries, &e)
			}
		}
		return nil
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return page(entries, limit, offset), err
}

func (r *LedgerRepository) CountByIdentity(_ context.Context, identityID string) (count int64, err error) {
	err = r.read(func(st *state) error {
		for _, e := range st.entries {
			if e.IdentityID == identityID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *LedgerRepository) SumByIdentity(_ context.Context, identityID string) (sum int64, err error) {
	err = r.read(func(st *state) error {
		for _, e := range st.entries {
			if e.IdentityID == identityID {
				sum += e.Amount
			}
		}
		return nil
	})
	return sum, err
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ReservationRepository implements reservation.Repository
type ReservationRepository struct{ binding }

func copyReservation(res reservation.Reservation) reservation.Reservation {
	res.Meta = copyMeta(res.Meta)
	return res
}

func (r *ReservationRepository) Create(_ context.Context, res *reservation.Reservation) error {
	return r.read(func(st *state) error {
		if _, ok := st.wallets[res.IdentityID]; !ok {
			return errMissingWallet
		}
		if _, ok := st.reservations[res.ID]; ok {
			return fmt.Errorf("reservation %s already exists", res.ID)
		}
		st.reservations[res.ID] = copyReservation(*res)
		return nil
	})
}

func (r *ReservationRepository) GetByID(_ context.Context, id uuid.UUID) (res *reservation.Reservation, err error) {
	err = r.read(func(st *state) error {
		stored, ok := st.reservations[id]
		if !ok {
			return reservation.ErrReservationNotFound{ID: id}
		}
		c := copyReservation(stored)
		res = &c
		return nil
	})
	return res, err
}

func (r *ReservationRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *ReservationRepository) FindHeld(_ context.Context, identityID, jobID, actionCode string) (res *reservation.Reservation, err error) {
	err = r.read(func(st *state) error {
		for _, stored := range st.reservations {
			if stored.Status != reservation.StatusHeld || stored.IdentityID != identityID ||
				stored.JobID != jobID || stored.ActionCode != actionCode {
				continue
			}
			if res == nil || stored.CreatedAt.After(res.CreatedAt) {
				c := copyReservation(stored)
				res = &c
			}
		}
		return nil
	})
	return res, err
}

func (r *ReservationRepository) SumHeld(_ context.Context, identityID string, now time.Time) (held int64, err error) {
	err = r.read(func(st *state) error {
		for _, stored := range st.reservations {
			if stored.IdentityID == identityID && stored.IsActive(now) {
				held += stored.CostCredits
			}
		}
		return nil
	})
	return held, err
}

func (r *ReservationRepository) ListActive(_ context.Context, identityID string, now time.Time) ([]*reservation.Reservation, error) {
	return r.filter(func(res reservation.Reservation) bool {
		return res.IdentityID == identityID && res.IsActive(now)
	}, func(a, b *reservation.Reservation) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}, -1)
}

func (r *ReservationRepository) Update(_ context.Context, res *reservation.Reservation) error {
	return r.read(func(st *state) error {
		if _, ok := st.reservations[res.ID]; !ok {
			return reservation.ErrReservationNotFound{ID: res.ID}
		}
		st.reservations[res.ID] = copyReservation(*res)
		return nil
	})
}

func (r *ReservationRepository) ReleaseExpired(_ context.Context, now time.Time, limit int) (released []*reservation.Reservation, err error) {
	err = r.read(func(st *state) error {
		var expired []reservation.Reservation
		for _, stored := range st.reservations {
			if stored.IsExpired(now) {
				expired = append(expired, stored)
			}
		}
		sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
		expired = page(expired, limit, 0)

		for _, stored := range expired {
			res := copyReservation(stored)
			if _, err := res.Release(reservation.ReasonExpired, now); err != nil {
				return err
			}
			st.reservations[res.ID] = copyReservation(res)
			released = append(released, &res)
		}
		return nil
	})
	return released, err
}

func (r *ReservationRepository) ListStaleHeld(_ context.Context, createdBefore time.Time, limit int) ([]*reservation.Reservation, error) {
	return r.filter(func(res reservation.Reservation) bool {
		return res.Status == reservation.StatusHeld && res.CreatedAt.Before(createdBefore)
	}, func(a, b *reservation.Reservation) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}, limit)
}

func (r *ReservationRepository) ListFinalizedWithoutEntry(_ context.Context, limit int) (orphans []*reservation.Reservation, err error) {
	err = r.read(func(st *state) error {
		for _, stored := range st.reservations {
			if stored.Status != reservation.StatusFinalized {
				continue
			}
			if _, ok := st.findEntry(stored.IdentityID, ledger.EntryTypeReservationFinalize, ledger.RefTypeReservation, stored.ID.String()); ok {
				continue
			}
			c := copyReservation(stored)
			orphans = append(orphans, &c)
		}
		return nil
	})
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].CreatedAt.Before(orphans[j].CreatedAt) })
	return page(orphans, limit, 0), err
}

func (r *ReservationRepository) filter(keep func(reservation.Reservation) bool, less func(a, b *reservation.Reservation) bool, limit int) (out []*reservation.Reservation, err error) {
	err = r.read(func(st *state) error {
		for _, stored := range st.reservations {
			if keep(stored) {
				c := copyReservation(stored)
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return page(out, limit, 0), err
}

// JobRepository implements job.Repository
type JobRepository struct{ binding }

func (r *JobRepository) Create(_ context.Context, j *job.Job) (created bool, err error) {
	err = r.read(func(st *state) error {
		if _, ok := st.jobs[j.ID]; ok {
			return nil
		}
		st.jobs[j.ID] = *j
		created = true
		return nil
	})
	return created, err
}

func (r *JobRepository) GetByID(_ context.Context, id string) (j *job.Job, err error) {
	err = r.read(func(st *state) error {
		stored, ok := st.jobs[id]
		if !ok {
			return job.ErrJobNotFound{JobID: id}
		}
		j = &stored
		return nil
	})
	return j, err
}

func (r *JobRepository) GetByUpstreamID(_ context.Context, provider, upstreamJobID string) (j *job.Job, err error) {
	err = r.read(func(st *state) error {
		for _, stored := range st.jobs {
			if stored.Provider == provider && stored.UpstreamJobID == upstreamJobID {
				j = &stored
				return nil
			}
		}
		return job.ErrJobNotFound{JobID: provider + ":" + upstreamJobID}
	})
	return j, err
}

func (r *JobRepository) LockForUpdate(ctx context.Context, id string) (*job.Job, error) {
	return r.GetByID(ctx, id)
}

func (r *JobRepository) LinkReservation(_ context.Context, id string, reservationID uuid.UUID) error {
	return r.read(func(st *state) error {
		stored, ok := st.jobs[id]
		if !ok {
			return job.ErrJobNotFound{JobID: id}
		}
		stored.ReservationID = &reservationID
		st.jobs[id] = stored
		return nil
	})
}

func (r *JobRepository) Update(_ context.Context, j *job.Job) error {
	return r.read(func(st *state) error {
		if _, ok := st.jobs[j.ID]; !ok {
			return job.ErrJobNotFound{JobID: j.ID}
		}
		st.jobs[j.ID] = *j
		return nil
	})
}

// OutboxRepository implements outbox.Repository
type OutboxRepository struct{ binding }

func (r *OutboxRepository) Create(_ context.Context, message *outbox.Message) error {
	return r.read(func(st *state) error {
		st.nextOutboxID++
		message.ID = st.nextOutboxID
		st.messages = append(st.messages, *message)
		return nil
	})
}

func (r *OutboxRepository) GetPending(_ context.Context, limit int) (messages []*outbox.Message, err error) {
	err = r.read(func(st *state) error {
		for _, m := range st.messages {
			if m.Status == shared.OutboxStatusPending {
				m := m
				messages = append(messages, &m)
			}
		}
		return nil
	})
	return page(messages, limit, 0), err
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	return r.mutate(id, func(m *outbox.Message) {
		m.Status = status
		now := time.Now()
		m.LastAttemptAt = &now
	})
}

func (r *OutboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	return r.mutate(id, func(m *outbox.Message) { m.IncrementAttempts() })
}

func (r *OutboxRepository) mutate(id int64, fn func(m *outbox.Message)) error {
	return r.read(func(st *state) error {
		for i := range st.messages {
			if st.messages[i].ID == id {
				m := st.messages[i]
				fn(&m)
				st.messages[i] = m
				return nil
			}
		}
		return outbox.ErrMessageNotFound{ID: id}
	})
}

func (r *OutboxRepository) GetByEventID(_ context.Context, eventID uuid.UUID) (message *outbox.Message, err error) {
	err = r.read(func(st *state) error {
		for _, m := range st.messages {
			if m.EventID == eventID {
				m := m
				message = &m
				return nil
			}
		}
		return outbox.ErrMessageNotFound{}
	})
	return message, err
}
