package lending

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"vouchlend/native/collateral"
)

// Status represents the lifecycle state of a loan. Active loans settle into
// exactly one of the terminal states and never leave it.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusRepaid
	StatusLiquidated
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusRepaid, StatusLiquidated:
		return true
	default:
		return false
	}
}

// Settled reports whether the loan has reached a terminal state.
func (s Status) Settled() bool {
	return s == StatusRepaid || s == StatusLiquidated
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRepaid:
		return "repaid"
	case StatusLiquidated:
		return "liquidated"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Loan captures a single vouched loan position. CollateralQuantity holds the
// escrowed amount for fungible collateral and the escrowed item identifier
// for non-fungible collateral. Vouches maps the hex staker address to the
// reputation amount still claimable for this loan; entries are written once
// at creation and zeroed exactly once, by either a settlement claim or a
// liquidation slash. Stakers keeps the creation-time input order, one entry
// per input position, so duplicate submissions remain visible to iteration.
// TotalVouched is fixed at creation and never mutated afterwards.
type Loan struct {
	ID                 uint64              `json:"id"`
	Borrower           [20]byte            `json:"borrower"`
	CollateralAsset    string              `json:"collateralAsset"`
	CollateralQuantity *big.Int            `json:"collateralQuantity"`
	Kind               collateral.Kind     `json:"kind"`
	Principal          *big.Int            `json:"principal"`
	StartTime          int64               `json:"startTime"`
	Status             Status              `json:"status"`
	Vouches            map[string]*big.Int `json:"vouches,omitempty"`
	Stakers            [][20]byte          `json:"stakers,omitempty"`
	TotalVouched       *big.Int            `json:"totalVouched"`
}

// Clone returns a deep copy of the loan so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.CollateralQuantity != nil {
		clone.CollateralQuantity = new(big.Int).Set(l.CollateralQuantity)
	} else {
		clone.CollateralQuantity = big.NewInt(0)
	}
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if l.TotalVouched != nil {
		clone.TotalVouched = new(big.Int).Set(l.TotalVouched)
	} else {
		clone.TotalVouched = big.NewInt(0)
	}
	if l.Vouches != nil {
		clone.Vouches = make(map[string]*big.Int, len(l.Vouches))
		for staker, amount := range l.Vouches {
			if amount != nil {
				clone.Vouches[staker] = new(big.Int).Set(amount)
			} else {
				clone.Vouches[staker] = big.NewInt(0)
			}
		}
	}
	if l.Stakers != nil {
		clone.Stakers = append([][20]byte(nil), l.Stakers...)
	}
	return &clone
}

// Vouch returns the remaining claimable vouch for the staker, defaulting to
// zero when no record exists.
func (l *Loan) Vouch(staker [20]byte) *big.Int {
	if l == nil || l.Vouches == nil {
		return big.NewInt(0)
	}
	if amount, ok := l.Vouches[StakerKey(staker)]; ok && amount != nil {
		return amount
	}
	return big.NewInt(0)
}

// StakerKey derives the map key used for per-staker vouch records.
func StakerKey(staker [20]byte) string {
	return hex.EncodeToString(staker[:])
}
