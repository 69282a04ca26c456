package lending

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vouchlend/core/types"
)

const (
	EventTypeLoanCreated    = "lending.loan_created"
	EventTypeLoanRepaid     = "lending.loan_repaid"
	EventTypeLoanLiquidated = "lending.loan_liquidated"
	EventTypeRewardsClaimed = "lending.rewards_claimed"
)

// NewLoanCreatedEvent returns the canonical event payload for a freshly
// disbursed loan.
func NewLoanCreatedEvent(l *Loan) *types.Event {
	attrs := loanAttributes(l)
	if l != nil {
		attrs["stakers"] = strconv.Itoa(len(l.Stakers))
		if l.TotalVouched != nil {
			attrs["totalVouched"] = l.TotalVouched.String()
		}
	}
	return &types.Event{Type: EventTypeLoanCreated, Attributes: attrs}
}

// NewLoanRepaidEvent returns the canonical event payload for a repayment,
// including the interest split reserved for stakers.
func NewLoanRepaidEvent(l *Loan, interest, stakerPool *big.Int) *types.Event {
	attrs := loanAttributes(l)
	if interest != nil {
		attrs["interest"] = interest.String()
	}
	if stakerPool != nil {
		attrs["stakerPool"] = stakerPool.String()
	}
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// NewLoanLiquidatedEvent returns the canonical event payload for a
// liquidation, including the total reputation slashed.
func NewLoanLiquidatedEvent(l *Loan, liquidator [20]byte, slashed *big.Int) *types.Event {
	attrs := loanAttributes(l)
	attrs["liquidator"] = hex.EncodeToString(liquidator[:])
	if slashed != nil {
		attrs["slashed"] = slashed.String()
	}
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: attrs}
}

// NewRewardsClaimedEvent returns the canonical event payload for a staker
// settlement claim. The receipt id is the keccak256 hash of the loan id and
// staker address, giving downstream indexers a stable per-claim key.
func NewRewardsClaimedEvent(l *Loan, staker [20]byte, stake, bonus, interestShare *big.Int) *types.Event {
	attrs := loanAttributes(l)
	attrs["staker"] = hex.EncodeToString(staker[:])
	attrs["receipt"] = hex.EncodeToString(claimReceiptID(loanID(l), staker))
	if stake != nil {
		attrs["stakeReturned"] = stake.String()
	}
	if bonus != nil {
		attrs["bonus"] = bonus.String()
	}
	if interestShare != nil {
		attrs["interestShare"] = interestShare.String()
	}
	return &types.Event{Type: EventTypeRewardsClaimed, Attributes: attrs}
}

func loanAttributes(l *Loan) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["loanId"] = strconv.FormatUint(l.ID, 10)
	attrs["borrower"] = hex.EncodeToString(l.Borrower[:])
	attrs["collateralAsset"] = l.CollateralAsset
	attrs["kind"] = l.Kind.String()
	attrs["status"] = l.Status.String()
	if l.Principal != nil {
		attrs["principal"] = l.Principal.String()
	}
	if l.CollateralQuantity != nil {
		attrs["collateralQuantity"] = l.CollateralQuantity.String()
	}
	return attrs
}

func loanID(l *Loan) uint64 {
	if l == nil {
		return 0
	}
	return l.ID
}

func claimReceiptID(loanID uint64, staker [20]byte) []byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], loanID)
	return ethcrypto.Keccak256(id[:], staker[:])
}
