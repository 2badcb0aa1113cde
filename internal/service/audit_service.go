package service

import (
	"context"
	"sync"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/rs/zerolog"
)

// AuditServiceImpl logs every audit event and persists it in the background.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit events are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Record writes event asynchronously (fire-and-forget).
func (s *AuditServiceImpl) Record(ctx context.Context, event domain.AuditEvent) {
	s.log.Info().
		Str("event_id", event.ID).
		Str("tx_id", event.TransactionID).
		Str("user_id", event.UserID.String()).
		Str("operation", string(event.Operation)).
		Str("currency", string(event.Currency)).
		Str("amount", event.Amount.String()).
		Str("status", event.Status).
		Str("correlation_id", event.CorrelationID).
		Msg("audit")

	if s.repo == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.repo.Create(ctx, &event); err != nil {
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to persist audit event")
		}
	}()
}

// Wait blocks until pending writes finish or ctx is done.
func (s *AuditServiceImpl) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
