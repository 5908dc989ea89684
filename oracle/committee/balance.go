package committee

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	// ErrNoBalance is returned by Claim when the caller has nothing accrued.
	ErrNoBalance = errors.New("no pending balance")
	// ErrAmountMismatch is returned by Deposit when the credited amounts do
	// not add up to the transferred value.
	ErrAmountMismatch = errors.New("deposit amounts do not match value")
)

// Deposit credits each recipient's pending balance with the matching amount.
// The amounts must sum exactly to value; payouts are pull-based, so nothing
// is transferred here beyond the bookkeeping.
func (r *Registry) Deposit(value *uint256.Int, recipients []common.Address, amounts []*uint256.Int) error {
	if len(recipients) != len(amounts) {
		return errors.Wrapf(ErrAmountMismatch, "%d recipients, %d amounts", len(recipients), len(amounts))
	}
	sum := new(uint256.Int)
	for _, a := range amounts {
		var overflow bool
		if sum, overflow = sum.AddOverflow(sum, a); overflow {
			return errors.Wrap(ErrAmountMismatch, "amount sum overflows")
		}
	}
	if !sum.Eq(value) {
		return errors.Wrapf(ErrAmountMismatch, "sum %s, value %s", sum, value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range recipients {
		if amounts[i].IsZero() {
			continue
		}
		bal, ok := r.balances[rec]
		if !ok {
			bal = new(uint256.Int)
			r.balances[rec] = bal
		}
		bal.Add(bal, amounts[i])
	}
	return nil
}

// Claim withdraws and zeroes the caller's pending balance, returning the
// withdrawn amount. The value transfer itself is the embedding environment's
// concern; a second consecutive call fails with ErrNoBalance.
func (r *Registry) Claim(caller common.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[caller]
	if !ok || bal.IsZero() {
		return nil, ErrNoBalance
	}
	delete(r.balances, caller)
	return bal, nil
}

// PendingBalance returns the accrued unclaimed payout for addr.
func (r *Registry) PendingBalance(addr common.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bal, ok := r.balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}
