package lending

import "math/big"

var basisPoints = big.NewInt(10_000)

const secondsPerYear = 31_536_000

// bpsShare computes amount * bps / 10000 with truncating integer division.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// EffectiveCollateralRatioBps derives the collateralization requirement for
// the supplied aggregate vouched reputation. The discount grows linearly with
// the vouch total, is capped at MaxReputationDiscountBps and can never push
// the ratio below MinCollateralRatioBps. The result is monotonically
// non-increasing in totalVouched.
func (p Params) EffectiveCollateralRatioBps(totalVouched *big.Int) uint64 {
	base := p.BaseCollateralRatioBps
	floor := p.MinCollateralRatioBps
	if base < floor {
		base = floor
	}
	if totalVouched == nil || totalVouched.Sign() <= 0 || p.ReputationToDiscountRatio == 0 {
		return base
	}
	discount := new(big.Int).Quo(totalVouched, new(big.Int).SetUint64(p.ReputationToDiscountRatio))
	capped := new(big.Int).SetUint64(p.MaxReputationDiscountBps)
	if discount.Cmp(capped) > 0 {
		discount = capped
	}
	discountBps := discount.Uint64()
	if discountBps >= base {
		return floor
	}
	ratio := base - discountBps
	if ratio < floor {
		return floor
	}
	return ratio
}

// requiredCollateralValue computes principal * ratioBps / 10000.
func requiredCollateralValue(principal *big.Int, ratioBps uint64) *big.Int {
	return bpsShare(principal, ratioBps)
}

// simpleInterest computes linear, non-compounding interest proportional to
// elapsed wall-clock seconds:
//
//	principal * rateBps * elapsed / (secondsPerYear * 10000)
func simpleInterest(principal *big.Int, rateBps uint64, elapsedSeconds int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsedSeconds <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, big.NewInt(elapsedSeconds))
	denominator := new(big.Int).Mul(big.NewInt(secondsPerYear), basisPoints)
	return interest.Quo(interest, denominator)
}

// proportionalShare computes pool * vouch / totalVouched, guarding against a
// zero vouch total. Truncation may leave a small unclaimed remainder in the
// pool, never a deficit.
func proportionalShare(pool, vouch, totalVouched *big.Int) *big.Int {
	if pool == nil || pool.Sign() <= 0 || vouch == nil || vouch.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalVouched == nil || totalVouched.Sign() <= 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(pool, vouch)
	return share.Quo(share, totalVouched)
}
