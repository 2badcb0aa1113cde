package memory

import (
	"context"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(s *Store) *WalletRepo {
	return &WalletRepo{store: s}
}

// Create stages w unless the user already has a wallet.
func (r *WalletRepo) Create(_ context.Context, tx pgx.Tx, w *domain.Wallet) (bool, error) {
	mt, err := asTx(tx)
	if err != nil {
		return false, err
	}
	if _, ok := mt.wallets[w.UserID]; ok {
		return false, nil
	}
	r.store.mu.Lock()
	_, exists := r.store.wallets[w.UserID]
	r.store.mu.Unlock()
	if exists {
		return false, nil
	}

	staged := w.Clone()
	mt.wallets[w.UserID] = staged
	mt.stage(func(s *Store) (func(), error) {
		if _, ok := s.wallets[staged.UserID]; ok {
			return nil, ports.ErrVersionConflict
		}
		s.wallets[staged.UserID] = staged.Clone()
		return func() { delete(s.wallets, staged.UserID) }, nil
	})
	return true, nil
}

// GetByUserID returns a copy of the committed wallet.
func (r *WalletRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if w, ok := r.store.wallets[userID]; ok {
		return w.Clone(), nil
	}
	return nil, nil
}

// GetByUserIDForUpdate returns the wallet as seen by tx.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if w, ok := mt.wallets[userID]; ok {
		return w.Clone(), nil
	}
	return r.GetByUserID(ctx, userID)
}

// Update stages w; Commit fails with ErrVersionConflict if the stored
// version moved in the meantime.
func (r *WalletRepo) Update(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	expected := w.Version
	w.Version++
	staged := w.Clone()
	mt.wallets[w.UserID] = staged

	mt.stage(func(s *Store) (func(), error) {
		cur, ok := s.wallets[staged.UserID]
		if !ok || cur.Version != expected {
			return nil, ports.ErrVersionConflict
		}
		s.wallets[staged.UserID] = staged.Clone()
		return func() { s.wallets[staged.UserID] = cur }, nil
	})
	return nil
}
