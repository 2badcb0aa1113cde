package domain

import (
	"time"

	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/google/uuid"
)

// Wallet is the dual-currency balance aggregate of one user.
// For each currency balance >= locked >= 0 holds after every mutation.
type Wallet struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	GoldBalance   money.Money `json:"gold_balance"`
	SweepsBalance money.Money `json:"sweeps_balance"`
	GoldLocked    money.Money `json:"gold_locked"`
	SweepsLocked  money.Money `json:"sweeps_locked"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// BalanceSnapshot is the state of one currency after a mutation.
type BalanceSnapshot struct {
	Currency  Currency    `json:"currency"`
	Balance   money.Money `json:"balance"`
	Locked    money.Money `json:"locked"`
	Available money.Money `json:"available"`
}

// NewWallet returns an empty wallet for userID.
func NewWallet(userID uuid.UUID, now time.Time) *Wallet {
	return &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (w *Wallet) Balance(c Currency) money.Money {
	if c == CurrencyGold {
		return w.GoldBalance
	}
	return w.SweepsBalance
}

func (w *Wallet) Locked(c Currency) money.Money {
	if c == CurrencyGold {
		return w.GoldLocked
	}
	return w.SweepsLocked
}

// Available is balance minus locked.
func (w *Wallet) Available(c Currency) money.Money {
	avail, err := w.Balance(c).Sub(w.Locked(c))
	if err != nil {
		return money.Zero()
	}
	return avail
}

// Snapshot reports the current state of c.
func (w *Wallet) Snapshot(c Currency) BalanceSnapshot {
	return BalanceSnapshot{
		Currency:  c,
		Balance:   w.Balance(c),
		Locked:    w.Locked(c),
		Available: w.Available(c),
	}
}

// Debit removes amount from the available balance.
func (w *Wallet) Debit(c Currency, amount money.Money, now time.Time) (BalanceSnapshot, error) {
	return w.Apply(c, amount.Neg(), money.Zero(), now)
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(c Currency, amount money.Money, now time.Time) (BalanceSnapshot, error) {
	return w.Apply(c, amount, money.Zero(), now)
}

// Lock reserves amount of the available balance.
func (w *Wallet) Lock(c Currency, amount money.Money, now time.Time) (BalanceSnapshot, error) {
	return w.Apply(c, money.Zero(), amount, now)
}

// Unlock releases amount of previously locked funds.
func (w *Wallet) Unlock(c Currency, amount money.Money, now time.Time) (BalanceSnapshot, error) {
	return w.Apply(c, money.Zero(), amount.Neg(), now)
}

// Apply adds the signed deltas to balance and locked. Nothing changes when
// the result would break balance >= locked >= 0.
func (w *Wallet) Apply(c Currency, balanceDelta, lockedDelta money.Money, now time.Time) (BalanceSnapshot, error) {
	if !c.Valid() {
		return BalanceSnapshot{}, apperror.ErrInvalidOperation("unsupported currency " + string(c))
	}

	newBalance, err := w.Balance(c).Add(balanceDelta)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	newLocked, err := w.Locked(c).Add(lockedDelta)
	if err != nil {
		return BalanceSnapshot{}, err
	}

	if newLocked.IsNegative() {
		return BalanceSnapshot{}, apperror.ErrInsufficientBalance(
			lockedDelta.Abs().String(), w.Locked(c).String(),
		).WithDetail("scope", "locked")
	}
	if newBalance.LessThan(newLocked) {
		requested, _ := lockedDelta.Sub(balanceDelta)
		return BalanceSnapshot{}, apperror.ErrInsufficientBalance(
			requested.Abs().String(), w.Available(c).String(),
		)
	}

	if c == CurrencyGold {
		w.GoldBalance, w.GoldLocked = newBalance, newLocked
	} else {
		w.SweepsBalance, w.SweepsLocked = newBalance, newLocked
	}
	w.UpdatedAt = now

	return w.Snapshot(c), nil
}

// WalletView is the read model returned to callers.
type WalletView struct {
	UserID    uuid.UUID       `json:"user_id"`
	Gold      BalanceSnapshot `json:"gold"`
	Sweeps    BalanceSnapshot `json:"sweeps"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// View returns both currencies of the wallet.
func (w *Wallet) View() WalletView {
	return WalletView{
		UserID:    w.UserID,
		Gold:      w.Snapshot(CurrencyGold),
		Sweeps:    w.Snapshot(CurrencySweeps),
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
	}
}

// Clone returns an independent copy.
func (w *Wallet) Clone() *Wallet {
	c := *w
	return &c
}
