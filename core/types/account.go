package types

import "math/big"

// Account tracks the protocol-level holdings for a single participant. The
// loan asset is the currency loans are denominated and disbursed in, the
// reputation balance backs staker vouches, and the collateral map carries one
// fungible balance per registered collateral asset. Non-fungible holdings are
// tracked separately as per-item ownership records.
type Account struct {
	BalanceLoanAsset  *big.Int            `json:"balanceLoanAsset"`
	BalanceReputation *big.Int            `json:"balanceReputation"`
	Collateral        map[string]*big.Int `json:"collateral,omitempty"`
}

// EnsureDefaults populates nil fields so callers can operate on the account
// without per-field nil checks.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.BalanceLoanAsset == nil {
		a.BalanceLoanAsset = big.NewInt(0)
	}
	if a.BalanceReputation == nil {
		a.BalanceReputation = big.NewInt(0)
	}
	if a.Collateral == nil {
		a.Collateral = make(map[string]*big.Int)
	}
}

// CollateralBalance returns the fungible balance held for the given asset,
// defaulting to zero when the asset has never been touched.
func (a *Account) CollateralBalance(asset string) *big.Int {
	if a == nil || a.Collateral == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Collateral[asset]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetCollateralBalance overwrites the fungible balance for the given asset.
func (a *Account) SetCollateralBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Collateral == nil {
		a.Collateral = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Collateral[asset] = amount
}
