package service

import (
	"context"
	"fmt"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const maxLedgerPage = 1000

// LedgerService is the only writer of ledger entries and serves ledger reads.
type LedgerService struct {
	entries ports.LedgerRepository
	wallets ports.WalletRepository
	log     zerolog.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(entries ports.LedgerRepository, wallets ports.WalletRepository, log zerolog.Logger) *LedgerService {
	return &LedgerService{entries: entries, wallets: wallets, log: log}
}

// Append writes entry inside tx. Entries are never updated afterwards.
func (s *LedgerService) Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	if err := s.entries.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Get fetches one entry.
func (s *LedgerService) Get(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get ledger entry: %w", err))
	}
	if e == nil {
		return nil, apperror.ErrNotFound("Ledger entry")
	}
	return e, nil
}

// EntriesFor lists a user's entries ordered by creation time.
func (s *LedgerService) EntriesFor(ctx context.Context, userID uuid.UUID, filter ports.LedgerFilter) ([]*domain.LedgerEntry, error) {
	if filter.Currency != "" && !filter.Currency.Valid() {
		return nil, apperror.ErrInvalidOperation("unsupported currency " + string(filter.Currency))
	}
	if filter.Limit <= 0 || filter.Limit > maxLedgerPage {
		filter.Limit = maxLedgerPage
	}
	entries, err := s.entries.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, nil
}

// Reconcile recomputes both balances from the full ledger and compares them
// with the stored wallet.
func (s *LedgerService) Reconcile(ctx context.Context, userID uuid.UUID) ([]domain.Reconciliation, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	entries, err := s.entries.ListByUser(ctx, userID, ports.LedgerFilter{})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list ledger entries: %w", err))
	}

	byCurrency := make(map[domain.Currency][]*domain.LedgerEntry, len(domain.Currencies))
	for _, e := range entries {
		byCurrency[e.Currency] = append(byCurrency[e.Currency], e)
	}

	out := make([]domain.Reconciliation, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		balance, locked, err := domain.Totals(byCurrency[c])
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("sum ledger: %w", err))
		}
		r := domain.Reconciliation{
			UserID:        userID,
			Currency:      c,
			LedgerBalance: balance,
			WalletBalance: wallet.Balance(c),
			LedgerLocked:  locked,
			WalletLocked:  wallet.Locked(c),
			Entries:       len(byCurrency[c]),
		}
		r.Consistent = r.LedgerBalance.Equal(r.WalletBalance) && r.LedgerLocked.Equal(r.WalletLocked)
		if !r.Consistent {
			s.log.Error().
				Str("user_id", userID.String()).
				Str("currency", string(c)).
				Str("ledger_balance", balance.String()).
				Str("wallet_balance", r.WalletBalance.String()).
				Str("ledger_locked", locked.String()).
				Str("wallet_locked", r.WalletLocked.String()).
				Msg("ledger drift detected")
		}
		out = append(out, r)
	}
	return out, nil
}

// ReversalOf returns the entry reversing entryID inside tx, or nil.
func (s *LedgerService) ReversalOf(ctx context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	e, err := s.entries.FindReversal(ctx, tx, entryID)
	if err != nil {
		return nil, fmt.Errorf("find reversal: %w", err)
	}
	return e, nil
}
