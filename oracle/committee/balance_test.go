package committee

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(bs ...byte) []common.Address {
	out := make([]common.Address, len(bs))
	for i, b := range bs {
		out[i] = addr(b)
	}
	return out
}

func TestDeposit_CreditsRecipients(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Deposit(
		uint256.NewInt(300),
		addrs(1, 2),
		[]*uint256.Int{uint256.NewInt(100), uint256.NewInt(200)},
	)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), r.PendingBalance(addr(1)))
	assert.Equal(t, uint256.NewInt(200), r.PendingBalance(addr(2)))
}

func TestDeposit_AmountMismatch(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Deposit(
		uint256.NewInt(250),
		addrs(1, 2),
		[]*uint256.Int{uint256.NewInt(100), uint256.NewInt(200)},
	)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.True(t, r.PendingBalance(addr(1)).IsZero())

	err = r.Deposit(uint256.NewInt(100), addrs(1), nil)
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestClaim_ZeroesBalance(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Deposit(
		uint256.NewInt(100),
		addrs(1),
		[]*uint256.Int{uint256.NewInt(100)},
	))

	got, err := r.Claim(addr(1))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), got)
	assert.True(t, r.PendingBalance(addr(1)).IsZero())

	// Second consecutive claim fails and the balance stays zero.
	_, err = r.Claim(addr(1))
	require.ErrorIs(t, err, ErrNoBalance)
	assert.True(t, r.PendingBalance(addr(1)).IsZero())
}

func TestDeposit_AccumulatesAcrossCalls(t *testing.T) {
	r := NewRegistry(nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Deposit(
			uint256.NewInt(50),
			addrs(1),
			[]*uint256.Int{uint256.NewInt(50)},
		))
	}
	assert.Equal(t, uint256.NewInt(150), r.PendingBalance(addr(1)))
}
