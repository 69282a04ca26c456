package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vouchlend/core/types"
	"vouchlend/native/collateral"
	"vouchlend/native/lending"
)

// state is the surface shared by both backends, exercised by every test.
type state interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	LoanGet(id uint64) (*lending.Loan, bool, error)
	LoanPut(loan *lending.Loan) error
	NextLoanID() (uint64, error)
	RewardPoolGet(loanID uint64) (*big.Int, error)
	RewardPoolPut(loanID uint64, amount *big.Int) error
	CollateralTypeGet(asset string) (*collateral.Type, bool, error)
	CollateralTypePut(entry *collateral.Type) error
	ItemOwner(asset string, itemID *big.Int) ([20]byte, bool, error)
	ItemSetOwner(asset string, itemID *big.Int, owner [20]byte) error
}

func withBackends(t *testing.T, fn func(t *testing.T, s state)) {
	t.Helper()
	t.Run("bolt", func(t *testing.T) {
		store, err := Open(filepath.Join(t.TempDir(), "vouchlend.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, store.Close()) })
		fn(t, store)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func TestAccountRoundTrip(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		addr := []byte{0xAA, 0x01}

		account, err := s.GetAccount(addr)
		require.NoError(t, err)
		require.Zero(t, account.BalanceLoanAsset.Sign(), "unknown accounts start empty")

		account.BalanceLoanAsset = big.NewInt(1_500)
		account.BalanceReputation = big.NewInt(42)
		account.SetCollateralBalance("GOLD", big.NewInt(7))
		require.NoError(t, s.PutAccount(addr, account))

		// Mutating the caller's copy must not leak into the store.
		account.BalanceLoanAsset.SetInt64(0)

		loaded, err := s.GetAccount(addr)
		require.NoError(t, err)
		require.Equal(t, int64(1_500), loaded.BalanceLoanAsset.Int64())
		require.Equal(t, int64(42), loaded.BalanceReputation.Int64())
		require.Equal(t, int64(7), loaded.CollateralBalance("GOLD").Int64())
	})
}

func TestLoanRoundTrip(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		_, found, err := s.LoanGet(99)
		require.NoError(t, err)
		require.False(t, found)

		staker := [20]byte{0x20}
		loan := &lending.Loan{
			ID:                 3,
			Borrower:           [20]byte{0x10},
			CollateralAsset:    "GOLD",
			CollateralQuantity: big.NewInt(750),
			Principal:          big.NewInt(500),
			StartTime:          1_000,
			Status:             lending.StatusActive,
			Vouches:            map[string]*big.Int{lending.StakerKey(staker): big.NewInt(100_000)},
			Stakers:            [][20]byte{staker},
			TotalVouched:       big.NewInt(100_000),
		}
		require.NoError(t, s.LoanPut(loan))

		loaded, found, err := s.LoanGet(3)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, loan.Borrower, loaded.Borrower)
		require.Equal(t, lending.StatusActive, loaded.Status)
		require.Equal(t, 0, loaded.Principal.Cmp(loan.Principal))
		require.Equal(t, 0, loaded.Vouch(staker).Cmp(big.NewInt(100_000)))
		require.Equal(t, loan.Stakers, loaded.Stakers)
	})
}

func TestNextLoanIDMonotonic(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		first, err := s.NextLoanID()
		require.NoError(t, err)
		second, err := s.NextLoanID()
		require.NoError(t, err)
		require.Greater(t, second, first)
		require.NotZero(t, first)
	})
}

func TestRewardPoolDefaultsToZero(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		pool, err := s.RewardPoolGet(7)
		require.NoError(t, err)
		require.Zero(t, pool.Sign())

		require.NoError(t, s.RewardPoolPut(7, big.NewInt(35)))
		pool, err = s.RewardPoolGet(7)
		require.NoError(t, err)
		require.Equal(t, int64(35), pool.Int64())

		// Writing a nil amount records an explicit zero pool.
		require.NoError(t, s.RewardPoolPut(8, nil))
		pool, err = s.RewardPoolGet(8)
		require.NoError(t, err)
		require.Zero(t, pool.Sign())
	})
}

func TestCollateralTypeRoundTrip(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		_, found, err := s.CollateralTypeGet("GOLD")
		require.NoError(t, err)
		require.False(t, found)

		entry := &collateral.Type{Asset: "GOLD", Supported: true, UnitPrice: big.NewInt(5), Decimals: 2, Kind: collateral.KindFungible}
		require.NoError(t, s.CollateralTypePut(entry))

		loaded, found, err := s.CollateralTypeGet("GOLD")
		require.NoError(t, err)
		require.True(t, found)
		require.True(t, loaded.Supported)
		require.Equal(t, uint8(2), loaded.Decimals)
		require.Equal(t, 0, loaded.UnitPrice.Cmp(big.NewInt(5)))
	})
}

func TestItemOwnership(t *testing.T) {
	withBackends(t, func(t *testing.T, s state) {
		itemID := big.NewInt(7)
		_, found, err := s.ItemOwner("DEED", itemID)
		require.NoError(t, err)
		require.False(t, found)

		owner := [20]byte{0x10}
		require.NoError(t, s.ItemSetOwner("DEED", itemID, owner))

		got, found, err := s.ItemOwner("DEED", itemID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, owner, got)

		// Items are scoped per asset symbol.
		_, found, err = s.ItemOwner("ART", itemID)
		require.NoError(t, err)
		require.False(t, found)
	})
}
