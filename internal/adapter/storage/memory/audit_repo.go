package memory

import (
	"context"

	"sweepstakes-wallet/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(s *Store) *AuditRepo {
	return &AuditRepo{store: s}
}

// Create appends e.
func (r *AuditRepo) Create(_ context.Context, e *domain.AuditEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, *e)
	return nil
}

// Events returns a copy of every stored event.
func (r *AuditRepo) Events() []domain.AuditEvent {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.store.audit...)
}
