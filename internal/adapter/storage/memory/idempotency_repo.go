package memory

import (
	"context"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository. Reserve is a single
// critical section on the store mutex.
type IdempotencyRepo struct {
	store *Store
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(s *Store) *IdempotencyRepo {
	return &IdempotencyRepo{store: s}
}

func cloneRecord(rec *domain.IdempotencyRecord) *domain.IdempotencyRecord {
	c := *rec
	c.ResultJSON = append([]byte(nil), rec.ResultJSON...)
	return &c
}

// Reserve claims the key unless a live record holds it.
func (r *IdempotencyRepo) Reserve(_ context.Context, rec *domain.IdempotencyRecord, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	k := idemKey{rec.UserID, rec.Key}
	if cur, ok := r.store.idem[k]; ok {
		if !cur.IsExpired(now) {
			return false, nil
		}
		delete(r.store.idem, k)
	}
	r.store.idem[k] = cloneRecord(rec)
	return true, nil
}

// Get returns a copy of the record, or nil.
func (r *IdempotencyRepo) Get(_ context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if cur, ok := r.store.idem[idemKey{userID, key}]; ok {
		return cloneRecord(cur), nil
	}
	return nil, nil
}

// Complete stages the final state of rec.
func (r *IdempotencyRepo) Complete(_ context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	staged := cloneRecord(rec)
	k := idemKey{staged.UserID, staged.Key}

	mt.stage(func(s *Store) (func(), error) {
		cur, ok := s.idem[k]
		if !ok || (cur.Status != domain.IdempotencyPending && cur.Status != domain.IdempotencyPendingApproval) {
			return nil, ports.ErrRecordFinalized
		}
		next := cloneRecord(staged)
		next.CreatedAt = cur.CreatedAt
		s.idem[k] = next
		return func() { s.idem[k] = cur }, nil
	})
	return nil
}

// DeletePending removes a PENDING reservation.
func (r *IdempotencyRepo) DeletePending(_ context.Context, userID uuid.UUID, key string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := idemKey{userID, key}
	if cur, ok := r.store.idem[k]; ok && cur.Status == domain.IdempotencyPending {
		delete(r.store.idem, k)
	}
	return nil
}

// PurgeExpired deletes records past their expiry.
func (r *IdempotencyRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for k, rec := range r.store.idem {
		if rec.IsExpired(now) {
			delete(r.store.idem, k)
			n++
		}
	}
	return n, nil
}
