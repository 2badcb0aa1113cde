package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sweepstakes-wallet/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ApprovalRepo implements ports.ApprovalRepository.
type ApprovalRepo struct {
	store *Store
}

// NewApprovalRepo creates a new ApprovalRepo.
func NewApprovalRepo(s *Store) *ApprovalRepo {
	return &ApprovalRepo{store: s}
}

// Create stages a new request.
func (r *ApprovalRepo) Create(_ context.Context, tx pgx.Tx, ar *domain.ApprovalRequest) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	staged := ar.Clone()
	mt.approvals[ar.ID] = staged

	mt.stage(func(s *Store) (func(), error) {
		if _, ok := s.approvals[staged.ID]; ok {
			return nil, fmt.Errorf("approval request %s already exists", staged.ID)
		}
		s.approvals[staged.ID] = staged.Clone()
		return func() { delete(s.approvals, staged.ID) }, nil
	})
	return nil
}

// GetByID returns a copy of a committed request.
func (r *ApprovalRepo) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if ar, ok := r.store.approvals[id]; ok {
		return ar.Clone(), nil
	}
	return nil, nil
}

// GetByIDForUpdate returns the request as seen by tx.
func (r *ApprovalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.ApprovalRequest, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if ar, ok := mt.approvals[id]; ok {
		return ar.Clone(), nil
	}
	return r.GetByID(ctx, id)
}

// Update stages the new state of ar.
func (r *ApprovalRepo) Update(_ context.Context, tx pgx.Tx, ar *domain.ApprovalRequest) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	staged := ar.Clone()
	mt.approvals[ar.ID] = staged

	mt.stage(func(s *Store) (func(), error) {
		cur, ok := s.approvals[staged.ID]
		if !ok {
			return nil, fmt.Errorf("approval request not found: %s", staged.ID)
		}
		s.approvals[staged.ID] = staged.Clone()
		return func() { s.approvals[staged.ID] = cur }, nil
	})
	return nil
}

// ListPending returns pending requests oldest first.
func (r *ApprovalRepo) ListPending(_ context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	return r.list(limit, func(ar *domain.ApprovalRequest) bool {
		return ar.Status == domain.ApprovalPending
	}), nil
}

// ListExpired returns pending requests whose deadline has passed.
func (r *ApprovalRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	return r.list(limit, func(ar *domain.ApprovalRequest) bool {
		return ar.IsExpired(now)
	}), nil
}

func (r *ApprovalRepo) list(limit int, keep func(*domain.ApprovalRequest) bool) []*domain.ApprovalRequest {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*domain.ApprovalRequest
	for _, ar := range r.store.approvals {
		if keep(ar) {
			out = append(out, ar.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
