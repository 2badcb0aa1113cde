// Package memory implements the storage ports in process memory. Writes made
// through a Tx are staged and applied atomically on Commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"sweepstakes-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrForeignTx is returned when a repository receives a transaction it did not create.
var ErrForeignTx = errors.New("memory: transaction was not started by this store")

type idemKey struct {
	userID uuid.UUID
	key    string
}

// Store holds every table.
type Store struct {
	mu        sync.Mutex
	wallets   map[uuid.UUID]*domain.Wallet
	entries   []*domain.LedgerEntry
	entryByID map[string]*domain.LedgerEntry
	reversals map[string]string
	idem      map[idemKey]*domain.IdempotencyRecord
	approvals map[string]*domain.ApprovalRequest
	audit     []domain.AuditEvent
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		wallets:   make(map[uuid.UUID]*domain.Wallet),
		entryByID: make(map[string]*domain.LedgerEntry),
		reversals: make(map[string]string),
		idem:      make(map[idemKey]*domain.IdempotencyRecord),
		approvals: make(map[string]*domain.ApprovalRequest),
	}
}

// op applies one staged write and returns its undo.
type op func(s *Store) (undo func(), err error)

// Tx is a staged-write transaction. Only Commit and Rollback are implemented;
// the embedded pgx.Tx is nil.
type Tx struct {
	pgx.Tx
	store     *Store
	ops       []op
	wallets   map[uuid.UUID]*domain.Wallet
	entries   []*domain.LedgerEntry
	approvals map[string]*domain.ApprovalRequest
	closed    bool
}

func (t *Tx) stage(o op) {
	t.ops = append(t.ops, o)
}

// Commit applies the staged writes in order. If one fails, the earlier ones
// are undone and nothing is visible.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	undos := make([]func(), 0, len(t.ops))
	for _, o := range t.ops {
		undo, err := o(s)
		if err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			return err
		}
		undos = append(undos, undo)
	}
	return nil
}

// Rollback discards the staged writes.
func (t *Tx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.ops = nil
	return nil
}

func asTx(tx pgx.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok || mt == nil {
		return nil, ErrForeignTx
	}
	if mt.closed {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	store *Store
}

// NewTransactor creates a Transactor for s.
func NewTransactor(s *Store) *Transactor {
	return &Transactor{store: s}
}

// Begin starts a staged-write transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		store:     t.store,
		wallets:   make(map[uuid.UUID]*domain.Wallet),
		approvals: make(map[string]*domain.ApprovalRequest),
	}, nil
}

// HealthCheck implements ports.HealthChecker; memory is always reachable.
type HealthCheck struct{}

// Ping always succeeds.
func (HealthCheck) Ping(context.Context) error { return nil }

// Name returns the dependency name.
func (HealthCheck) Name() string { return "memory" }
