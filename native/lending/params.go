package lending

import "fmt"

// Params groups the basis-point constants governing collateralization,
// interest and settlement. All ratio fields are expressed in basis points
// where 10000 represents 100%.
type Params struct {
	// BaseCollateralRatioBps is the collateralization requirement applied to
	// a loan with no vouched reputation.
	BaseCollateralRatioBps uint64
	// MinCollateralRatioBps is the hard floor the effective ratio can never
	// drop below regardless of vouched reputation.
	MinCollateralRatioBps uint64
	// MaxReputationDiscountBps caps the reduction vouched reputation can earn.
	MaxReputationDiscountBps uint64
	// ReputationToDiscountRatio is the amount of vouched reputation required
	// per basis point of discount.
	ReputationToDiscountRatio uint64
	// LoanInterestRateBps is the simple annual interest rate charged on
	// principal.
	LoanInterestRateBps uint64
	// ProtocolFeeBps is the share of interest paid to the protocol owner at
	// repayment.
	ProtocolFeeBps uint64
	// StakerInterestShareBps is the share of interest reserved for
	// proportional staker rewards. ProtocolFeeBps and StakerInterestShareBps
	// need not sum to 10000; any residual interest stays with the protocol.
	StakerInterestShareBps uint64
	// LiquidationThresholdBps sets the collateral-value margin below which a
	// loan becomes eligible for liquidation.
	LiquidationThresholdBps uint64
	// StakerBonusBps is the reputation bonus minted to stakers of repaid
	// loans, relative to their original vouch.
	StakerBonusBps uint64
}

// DefaultParams returns the protocol defaults: 150% base collateralization,
// 10% floor, up to a 30% reputation discount at 100 vouched units per basis
// point, 10% APR with a 10% protocol cut and 70% staker share, a 120%
// liquidation threshold and a 5% staker bonus.
func DefaultParams() Params {
	return Params{
		BaseCollateralRatioBps:    15_000,
		MinCollateralRatioBps:     1_000,
		MaxReputationDiscountBps:  3_000,
		ReputationToDiscountRatio: 100,
		LoanInterestRateBps:       1_000,
		ProtocolFeeBps:            1_000,
		StakerInterestShareBps:    7_000,
		LiquidationThresholdBps:   12_000,
		StakerBonusBps:            500,
	}
}

// Validate rejects parameter sets that would break settlement accounting.
// Collateralization and liquidation ratios may legitimately exceed 100%.
func (p Params) Validate() error {
	if p.ReputationToDiscountRatio == 0 {
		return fmt.Errorf("lending params: ReputationToDiscountRatio must be positive")
	}
	if p.MinCollateralRatioBps == 0 {
		return fmt.Errorf("lending params: MinCollateralRatioBps must be positive")
	}
	if p.MinCollateralRatioBps > p.BaseCollateralRatioBps {
		return fmt.Errorf("lending params: MinCollateralRatioBps exceeds BaseCollateralRatioBps")
	}
	for name, bps := range map[string]uint64{
		"MaxReputationDiscountBps": p.MaxReputationDiscountBps,
		"ProtocolFeeBps":           p.ProtocolFeeBps,
		"StakerInterestShareBps":   p.StakerInterestShareBps,
		"StakerBonusBps":           p.StakerBonusBps,
	} {
		if bps > 10_000 {
			return fmt.Errorf("lending params: %s exceeds 100%%", name)
		}
	}
	if p.ProtocolFeeBps+p.StakerInterestShareBps > 10_000 {
		return fmt.Errorf("lending params: interest splits exceed 100%%")
	}
	return nil
}
