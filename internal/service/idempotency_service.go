package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultPendingLease   = 30 * time.Second
	defaultPollTimeout    = 2 * time.Second
	defaultPollInterval   = 50 * time.Millisecond
)

// IdempotencyOptions tunes record lifetime and in-flight polling.
// PendingLease bounds how long an uncommitted reservation blocks its key;
// TTL applies once the record is final.
type IdempotencyOptions struct {
	TTL          time.Duration
	PendingLease time.Duration
	PollTimeout  time.Duration
	PollInterval time.Duration
}

// IdempotencyService reserves, finalizes and releases idempotency keys.
// Postgres holds the source of truth. Redis caches final records.
type IdempotencyService struct {
	repo  ports.IdempotencyRepository
	cache ports.IdempotencyCache
	opts  IdempotencyOptions
	now   func() time.Time
	log   zerolog.Logger
}

// NewIdempotencyService creates a new IdempotencyService. cache may be nil.
func NewIdempotencyService(
	repo ports.IdempotencyRepository,
	cache ports.IdempotencyCache,
	opts IdempotencyOptions,
	log zerolog.Logger,
) *IdempotencyService {
	if opts.TTL <= 0 {
		opts.TTL = defaultIdempotencyTTL
	}
	if opts.PendingLease <= 0 {
		opts.PendingLease = defaultPendingLease
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &IdempotencyService{
		repo:  repo,
		cache: cache,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
	}
}

// TTL is the configured record lifetime.
func (s *IdempotencyService) TTL() time.Duration {
	return s.opts.TTL
}

// Reserve claims key for userID for at most lease (PendingLease when zero).
// A reservation that is neither committed nor released within the lease is
// taken over by the next request. When reserved is false the returned record
// belongs to an earlier request and carries its final result.
func (s *IdempotencyService) Reserve(ctx context.Context, userID uuid.UUID, key string, lease time.Duration) (*domain.IdempotencyRecord, bool, error) {
	if lease <= 0 {
		lease = s.opts.PendingLease
	}

	// Layer 1: Redis cache of final records
	if rec := s.cached(ctx, key); rec != nil {
		return rec, false, nil
	}

	deadline := s.now().Add(s.opts.PollTimeout)
	for {
		now := s.now()
		rec := &domain.IdempotencyRecord{
			UserID:    userID,
			Key:       key,
			Status:    domain.IdempotencyPending,
			CreatedAt: now,
			ExpiresAt: now.Add(lease),
		}

		// Layer 2: atomic insert in Postgres
		reserved, err := s.repo.Reserve(ctx, rec, now)
		if err != nil {
			return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if reserved {
			return rec, true, nil
		}

		existing, err := s.repo.Get(ctx, userID, key)
		if err != nil {
			return nil, false, fmt.Errorf("get idempotency record: %w", err)
		}
		if existing != nil && existing.Status != domain.IdempotencyPending && !existing.IsExpired(now) {
			return existing, false, nil
		}

		// Another request holds the key, or it was released between our calls.
		if !s.now().Before(deadline) {
			s.log.Warn().Str("idempotency_key", key).Msg("idempotency key still in flight")
			return nil, false, apperror.ErrConcurrentModification(fmt.Errorf("idempotency key %s in flight", key))
		}
		if existing == nil {
			continue
		}
		if err := sleepCtx(ctx, s.opts.PollInterval); err != nil {
			return nil, false, err
		}
	}
}

// Commit stores status and result inside tx, in the same atomic unit as the
// wallet mutation it describes. The record then lives for at least TTL.
// Only one commit per reservation can succeed: the repository refuses
// records that are no longer pending.
func (s *IdempotencyService) Commit(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord, status domain.IdempotencyStatus, result *domain.OperationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotent result: %w", err)
	}

	rec.Status = status
	rec.ResultJSON = resultJSON
	rec.TransactionID = result.TransactionID
	rec.ApprovalRequestID = result.ApprovalRequestID
	if final := s.now().Add(s.opts.TTL); rec.ExpiresAt.Before(final) {
		rec.ExpiresAt = final
	}

	if err := s.repo.Complete(ctx, tx, rec); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// CacheResult copies a committed final record to Redis (best-effort).
func (s *IdempotencyService) CacheResult(ctx context.Context, rec *domain.IdempotencyRecord) {
	if s.cache == nil || rec.Status == domain.IdempotencyPending || rec.Status == domain.IdempotencyPendingApproval {
		return
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Str("idempotency_key", rec.Key).Msg("failed to marshal idempotency record for cache")
		return
	}
	if err := s.cache.Set(ctx, rec.Key, payload, ttl); err != nil {
		s.log.Warn().Err(err).Str("idempotency_key", rec.Key).Msg("failed to cache idempotency in redis")
	}
}

// Release frees a reservation after a failure that happened before commit,
// so the caller can retry with the same key.
func (s *IdempotencyService) Release(ctx context.Context, userID uuid.UUID, key string) {
	// The request ctx may already be cancelled; the key must still be freed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.DeletePending(ctx, userID, key); err != nil {
		s.log.Error().Err(err).Str("idempotency_key", key).Msg("failed to release idempotency key")
	}
}

// Lookup returns the live record for key, or nil.
func (s *IdempotencyService) Lookup(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	rec, err := s.repo.Get(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if rec == nil || rec.IsExpired(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// PurgeExpired deletes records past their expiry.
func (s *IdempotencyService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return n, nil
}

// DecodeResult unmarshals the stored result of a final record.
func DecodeResult(rec *domain.IdempotencyRecord) (*domain.OperationResult, error) {
	if !rec.HasResult() {
		return nil, apperror.InternalError(fmt.Errorf("idempotency record %s has no result", rec.Key))
	}
	var result domain.OperationResult
	if err := json.Unmarshal(rec.ResultJSON, &result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal idempotent result: %w", err))
	}
	return &result, nil
}

func (s *IdempotencyService) cached(ctx context.Context, key string) *domain.IdempotencyRecord {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("idempotency_key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if payload == nil {
		return nil
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.log.Warn().Err(err).Str("idempotency_key", key).Msg("corrupt idempotency cache entry")
		return nil
	}
	if rec.IsExpired(s.now()) || !rec.HasResult() {
		return nil
	}
	return &rec
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
