package lending

import (
	"errors"
	"math/big"
	"testing"
)

// claimFixture repays a two-staker loan after one year so the claimable pool
// holds 35 units (interest 50, staker share 7000 bps).
func claimFixture(t *testing.T) (*Engine, *mockEngineState, *Loan) {
	t.Helper()
	engine, state, loan := repayFixture(t)
	engine.SetNowFunc(func() int64 { return 1_000 + secondsPerYear })
	if _, _, err := engine.RepayLoan(testBorrower, loan.ID); err != nil {
		t.Fatalf("repay: %v", err)
	}
	return engine, state, loan
}

func TestClaimWhileActiveFails(t *testing.T) {
	engine, _, loan := repayFixture(t)

	_, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}
}

func TestClaimAfterRepayPaysStakeBonusAndShare(t *testing.T) {
	engine, state, loan := claimFixture(t)

	claim, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.StakeReturned.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected stake returned: %s", claim.StakeReturned)
	}
	// Bonus is 5% of the original vouch, minted on top of the returned
	// stake.
	if claim.Bonus.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected bonus: %s", claim.Bonus)
	}
	// share = 35 * 100000 / 400000 = 8 (truncated).
	if claim.InterestShare.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("unexpected interest share: %s", claim.InterestShare)
	}

	staker := state.account(testStakerOne)
	if staker.BalanceReputation.Cmp(big.NewInt(1_000_000+5_000)) != 0 {
		t.Fatalf("unexpected staker reputation: %s", staker.BalanceReputation)
	}
	if staker.BalanceLoanAsset.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("unexpected staker loan-asset balance: %s", staker.BalanceLoanAsset)
	}
}

func TestClaimSharesNeverExceedPool(t *testing.T) {
	engine, state, loan := claimFixture(t)

	one, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	two, err := engine.ClaimStakerRewards(testStakerTwo, loan.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	pool, _ := state.RewardPoolGet(loan.ID)
	total := new(big.Int).Add(one.InterestShare, two.InterestShare)
	if total.Cmp(pool) > 0 {
		t.Fatalf("claims %s exceed pool %s", total, pool)
	}
	// 8 + 26 = 34: truncation leaves a 1-unit remainder, never a deficit.
	if total.Cmp(big.NewInt(34)) != 0 {
		t.Fatalf("unexpected claim total: %s", total)
	}
	// The pool itself stays fixed for the life of the claim window.
	if pool.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("pool mutated by claims: %s", pool)
	}
}

func TestClaimIsSingleUse(t *testing.T) {
	engine, _, loan := claimFixture(t)

	if _, err := engine.ClaimStakerRewards(testStakerOne, loan.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("second claim must fail with ErrNotEligible, got %v", err)
	}
}

func TestClaimWithoutVouchFails(t *testing.T) {
	engine, _, loan := claimFixture(t)

	_, err := engine.ClaimStakerRewards(testLiquidator, loan.ID)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestClaimAfterLiquidationImpossible(t *testing.T) {
	engine, state, loan := liquidationFixture(t)
	repriceGold(state, 0)
	if _, err := engine.LiquidateLoan(testLiquidator, loan.ID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Slashing zeroed the vouch record, so the claim path is unreachable:
	// slash and claim are mutually exclusive per staker per loan.
	_, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible after slash, got %v", err)
	}
}

func TestClaimZeroPoolReturnsStakeOnly(t *testing.T) {
	engine, state, loan := repayFixture(t)
	// Immediate repayment accrues no interest, so the pool stays empty and
	// the nonzero-pool repayment signal never fires.
	if _, _, err := engine.RepayLoan(testBorrower, loan.ID); err != nil {
		t.Fatalf("repay: %v", err)
	}

	claim, err := engine.ClaimStakerRewards(testStakerOne, loan.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.StakeReturned.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected stake returned: %s", claim.StakeReturned)
	}
	if claim.Bonus.Sign() != 0 || claim.InterestShare.Sign() != 0 {
		t.Fatalf("zero pool must pay no bonus or share: bonus %s share %s", claim.Bonus, claim.InterestShare)
	}
	if state.account(testStakerOne).BalanceReputation.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("unexpected staker reputation: %s", state.account(testStakerOne).BalanceReputation)
	}
}
