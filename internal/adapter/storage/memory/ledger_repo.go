package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	store *Store
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(s *Store) *LedgerRepo {
	return &LedgerRepo{store: s}
}

// Append stages e. A second reversal of the same entry fails on commit.
func (r *LedgerRepo) Append(_ context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	staged := *e
	mt.entries = append(mt.entries, &staged)

	mt.stage(func(s *Store) (func(), error) {
		if _, dup := s.entryByID[staged.ID]; dup {
			return nil, fmt.Errorf("ledger entry %s already exists", staged.ID)
		}
		if staged.ReversesEntryID != "" {
			if _, done := s.reversals[staged.ReversesEntryID]; done {
				return nil, apperror.ErrAlreadyReversed(staged.ReversesEntryID)
			}
		}
		stored := staged
		s.entries = append(s.entries, &stored)
		s.entryByID[stored.ID] = &stored
		if stored.ReversesEntryID != "" {
			s.reversals[stored.ReversesEntryID] = stored.ID
		}
		return func() {
			s.entries = s.entries[:len(s.entries)-1]
			delete(s.entryByID, stored.ID)
			if stored.ReversesEntryID != "" {
				delete(s.reversals, stored.ReversesEntryID)
			}
		}, nil
	})
	return nil
}

// GetByID returns a copy of a committed entry.
func (r *LedgerRepo) GetByID(_ context.Context, id string) (*domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if e, ok := r.store.entryByID[id]; ok {
		c := *e
		return &c, nil
	}
	return nil, nil
}

// FindReversal looks in tx's staged entries, then in the committed ledger.
func (r *LedgerRepo) FindReversal(_ context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	for _, e := range mt.entries {
		if e.ReversesEntryID == entryID {
			c := *e
			return &c, nil
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if id, ok := r.store.reversals[entryID]; ok {
		c := *r.store.entryByID[id]
		return &c, nil
	}
	return nil, nil
}

// ListByUser returns matching entries oldest first.
func (r *LedgerRepo) ListByUser(_ context.Context, userID uuid.UUID, filter ports.LedgerFilter) ([]*domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*domain.LedgerEntry
	for _, e := range r.store.entries {
		if e.UserID != userID {
			continue
		}
		if filter.Currency != "" && e.Currency != filter.Currency {
			continue
		}
		if !filter.Range.Contains(e.CreatedAt) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SumWithdrawals totals non-reversed withdrawals since the given instant.
func (r *LedgerRepo) SumWithdrawals(_ context.Context, userID uuid.UUID, since time.Time) (money.Money, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	total := money.Zero()
	for _, e := range r.liveEntries(userID, domain.KindWithdrawal, since) {
		var err error
		if total, err = total.Add(e.Amount.Abs()); err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// CountByKind counts non-reversed entries of kind since the given instant.
func (r *LedgerRepo) CountByKind(_ context.Context, userID uuid.UUID, kind domain.OperationKind, since time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return len(r.liveEntries(userID, kind, since)), nil
}

// liveEntries must be called with the store locked.
func (r *LedgerRepo) liveEntries(userID uuid.UUID, kind domain.OperationKind, since time.Time) []*domain.LedgerEntry {
	var out []*domain.LedgerEntry
	for _, e := range r.store.entries {
		if e.UserID != userID || e.Kind != kind || e.CreatedAt.Before(since) {
			continue
		}
		if _, reversed := r.store.reversals[e.ID]; reversed {
			continue
		}
		out = append(out, e)
	}
	return out
}
