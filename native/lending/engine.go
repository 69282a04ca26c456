package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vouchlend/core/events"
	"vouchlend/core/types"
	"vouchlend/native/collateral"
	nativecommon "vouchlend/native/common"
)

var (
	errNilState = errors.New("lending engine: state not configured")

	// ErrInvalidAmount covers zero or negative amounts, zero item
	// identifiers and mismatched staker/amount array lengths.
	ErrInvalidAmount = errors.New("lending engine: invalid amount")
	// ErrUnsupportedCollateral is returned when the collateral asset is not
	// registered or no longer supported.
	ErrUnsupportedCollateral = errors.New("lending engine: unsupported collateral")
	// ErrInsufficientCollateral is returned when the collateral value does
	// not cover the reputation-discounted requirement.
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	// ErrInsufficientBalance is returned when a required custody pull cannot
	// be covered by the paying account.
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	// ErrInsufficientLiquidity is returned when protocol custody cannot cover
	// a disbursement or release.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	// ErrUnauthorized is returned when the caller is not permitted to perform
	// the restricted operation.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")
	// ErrLoanNotFound is returned when the loan identifier is unknown.
	ErrLoanNotFound = errors.New("lending engine: loan not found")
	// ErrNotActive is returned when a lifecycle operation targets a loan that
	// has already settled.
	ErrNotActive = errors.New("lending engine: loan not active")
	// ErrNotSettled is returned when settlement rewards are claimed on a loan
	// that is still active.
	ErrNotSettled = errors.New("lending engine: loan not settled")
	// ErrNotEligible is returned when liquidating a healthy loan or claiming
	// with no remaining vouch record.
	ErrNotEligible = errors.New("lending engine: not eligible")
)

const moduleName = "lending"

type engineState interface {
	CollateralTypeGet(asset string) (*collateral.Type, bool, error)
	LoanGet(id uint64) (*Loan, bool, error)
	LoanPut(*Loan) error
	NextLoanID() (uint64, error)
	RewardPoolGet(loanID uint64) (*big.Int, error)
	RewardPoolPut(loanID uint64, amount *big.Int) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	ItemOwner(asset string, itemID *big.Int) ([20]byte, bool, error)
	ItemSetOwner(asset string, itemID *big.Int, owner [20]byte) error
}

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// Claim summarises the outcome of a staker settlement claim.
type Claim struct {
	LoanID        uint64
	Staker        [20]byte
	StakeReturned *big.Int
	Bonus         *big.Int
	InterestShare *big.Int
}

// Engine orchestrates the loan lifecycle: creation with collateral and stake
// escrow, repayment with interest splits, liquidation with stake slashing and
// the staker settlement claims that follow. Every mutating operation runs
// under one exclusive lock so no caller can observe a partially applied
// transition; hook notifications are dispatched only after the lock has been
// released and all state is final.
type Engine struct {
	mu                sync.Mutex
	state             engineState
	owner             [20]byte
	moduleAddress     [20]byte
	collateralAddress [20]byte
	params            Params
	hook              Hook
	emitter           events.Emitter
	nowFn             func() int64
	pauses            nativecommon.PauseView
}

// NewEngine constructs a lending engine configured with the protocol owner
// and the module treasury addresses. The module address custodies loan-asset
// liquidity and escrowed reputation stake; the collateral address custodies
// escrowed collateral.
func NewEngine(owner, moduleAddr, collateralAddr [20]byte, params Params) *Engine {
	return &Engine{
		owner:             owner,
		moduleAddress:     moduleAddr,
		collateralAddress: collateralAddr,
		params:            params,
		hook:              NoopHook{},
		emitter:           events.NoopEmitter{},
		nowFn:             func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetHook configures the post-transition notification hook. Passing nil
// resets the hook to a no-op implementation.
func (e *Engine) SetHook(hook Hook) {
	if e == nil {
		return
	}
	if hook == nil {
		e.hook = NoopHook{}
		return
	}
	e.hook = hook
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the operator pause switches consulted by every mutating
// operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Params returns the engine's configured parameter set.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: evt})
}

// fireHook dispatches a notification and discards the acknowledgment. Hooks
// run outside the engine lock against finalised state.
func (e *Engine) fireHook(notify func(Hook) error) {
	if e == nil || e.hook == nil {
		return
	}
	_ = notify(e.hook)
}

// CreateLoan escrows the borrower's collateral and every staker's reputation
// stake, records the loan and disburses the principal. The operation is
// all-or-nothing: every custody check runs before any balance moves, so a
// failed precondition leaves no partial escrow. Loan identifiers are assigned
// post-increment starting at 1 and only consumed on success.
//
// Duplicate staker entries are accepted: each entry is escrowed and credited
// independently, accumulating into the staker's single vouch record.
func (e *Engine) CreateLoan(borrower [20]byte, collateralAsset string, quantity, principal *big.Int, stakers [][20]byte, amounts []*big.Int) (*Loan, error) {
	e.mu.Lock()
	loan, err := e.createLoanLocked(borrower, collateralAsset, quantity, principal, stakers, amounts)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(NewLoanCreatedEvent(loan))
	e.fireHook(func(h Hook) error {
		return h.AfterLoanCreated(borrower, loan.ID, loan.Principal, loan.CollateralAsset, loan.CollateralQuantity)
	})
	return loan, nil
}

func (e *Engine) createLoanLocked(borrower [20]byte, collateralAsset string, quantity, principal *big.Int, stakers [][20]byte, amounts []*big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return nil, fmt.Errorf("%w: principal must be positive", ErrInvalidAmount)
	}
	if len(stakers) != len(amounts) {
		return nil, fmt.Errorf("%w: staker and amount arrays differ in length", ErrInvalidAmount)
	}

	asset, err := collateral.NormalizeAsset(collateralAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCollateral, err)
	}
	ctype, ok, err := e.state.CollateralTypeGet(asset)
	if err != nil {
		return nil, err
	}
	if !ok || ctype == nil || !ctype.Supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCollateral, asset)
	}
	if quantity == nil || quantity.Sign() <= 0 {
		// For non-fungible collateral a zero quantity is the "no item"
		// sentinel rather than an amount.
		return nil, fmt.Errorf("%w: collateral quantity required", ErrInvalidAmount)
	}

	// Accumulate vouches per staker; duplicates add up. The ordered list
	// keeps one entry per input position.
	totalVouched := big.NewInt(0)
	vouches := make(map[string]*big.Int, len(stakers))
	for i, staker := range stakers {
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: vouch amount must be positive", ErrInvalidAmount)
		}
		key := StakerKey(staker)
		if existing, ok := vouches[key]; ok {
			vouches[key] = new(big.Int).Add(existing, amount)
		} else {
			vouches[key] = new(big.Int).Set(amount)
		}
		totalVouched = new(big.Int).Add(totalVouched, amount)
	}

	value, err := collateral.Value(ctype, quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCollateral, err)
	}
	ratio := e.params.EffectiveCollateralRatioBps(totalVouched)
	required := requiredCollateralValue(principal, ratio)
	if value.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: value %s below required %s", ErrInsufficientCollateral, value, required)
	}

	accounts := e.newAccountSet()
	borrowerAcc, err := accounts.get(borrower)
	if err != nil {
		return nil, err
	}
	moduleAcc, err := accounts.get(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	collateralAcc, err := accounts.get(e.collateralAddress)
	if err != nil {
		return nil, err
	}

	// Validation pass: every custody pull must be coverable before any
	// balance moves.
	switch ctype.Kind {
	case collateral.KindNonFungible:
		owner, owned, err := e.state.ItemOwner(asset, quantity)
		if err != nil {
			return nil, err
		}
		if !owned || owner != borrower {
			return nil, fmt.Errorf("%w: borrower does not hold item %s", ErrInsufficientBalance, quantity)
		}
	default:
		if borrowerAcc.CollateralBalance(asset).Cmp(quantity) < 0 {
			return nil, fmt.Errorf("%w: collateral escrow", ErrInsufficientBalance)
		}
	}
	if moduleAcc.BalanceLoanAsset.Cmp(principal) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	for key, amount := range vouches {
		staker, err := parseStakerKey(key)
		if err != nil {
			return nil, err
		}
		stakerAcc, err := accounts.get(staker)
		if err != nil {
			return nil, err
		}
		if stakerAcc.BalanceReputation.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: stake escrow for %s", ErrInsufficientBalance, key)
		}
	}

	// Custody pulls: collateral and stake move into protocol custody before
	// the loan record becomes visible.
	switch ctype.Kind {
	case collateral.KindNonFungible:
		if err := e.state.ItemSetOwner(asset, quantity, e.collateralAddress); err != nil {
			return nil, err
		}
	default:
		borrowerAcc.SetCollateralBalance(asset, new(big.Int).Sub(borrowerAcc.CollateralBalance(asset), quantity))
		collateralAcc.SetCollateralBalance(asset, new(big.Int).Add(collateralAcc.CollateralBalance(asset), quantity))
	}
	for key, amount := range vouches {
		staker, _ := parseStakerKey(key)
		stakerAcc, err := accounts.get(staker)
		if err != nil {
			return nil, err
		}
		stakerAcc.BalanceReputation = new(big.Int).Sub(stakerAcc.BalanceReputation, amount)
	}
	moduleAcc.BalanceReputation = new(big.Int).Add(moduleAcc.BalanceReputation, totalVouched)
	if err := accounts.persist(); err != nil {
		return nil, err
	}

	id, err := e.state.NextLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                 id,
		Borrower:           borrower,
		CollateralAsset:    asset,
		CollateralQuantity: new(big.Int).Set(quantity),
		Kind:               ctype.Kind,
		Principal:          new(big.Int).Set(principal),
		StartTime:          e.now(),
		Status:             StatusActive,
		Vouches:            vouches,
		Stakers:            append([][20]byte(nil), stakers...),
		TotalVouched:       totalVouched,
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}

	// Disbursement happens strictly after the loan record is persisted, so
	// an observer never sees a loan lacking collateral backing.
	moduleAcc.BalanceLoanAsset = new(big.Int).Sub(moduleAcc.BalanceLoanAsset, principal)
	borrowerAcc.BalanceLoanAsset = new(big.Int).Add(borrowerAcc.BalanceLoanAsset, principal)
	if err := accounts.persist(); err != nil {
		return nil, err
	}

	return loan.Clone(), nil
}

// RepayLoan settles an active loan: the borrower pays principal plus simple
// interest in one transfer, the protocol cut is paid to the owner, the staker
// share of interest is reserved in the claimable pool and the collateral is
// returned in full. The computed interest is returned alongside the settled
// loan.
func (e *Engine) RepayLoan(caller [20]byte, loanID uint64) (*Loan, *big.Int, error) {
	e.mu.Lock()
	loan, interest, stakerPool, err := e.repayLoanLocked(caller, loanID)
	e.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	e.emit(NewLoanRepaidEvent(loan, interest, stakerPool))
	e.fireHook(func(h Hook) error {
		return h.AfterLoanRepaid(caller, loanID, interest)
	})
	return loan, interest, nil
}

func (e *Engine) repayLoanLocked(caller [20]byte, loanID uint64) (*Loan, *big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, nil, err
	}
	loan, err := e.loadActiveLoan(loanID)
	if err != nil {
		return nil, nil, nil, err
	}
	if caller != loan.Borrower {
		return nil, nil, nil, fmt.Errorf("%w: only the borrower may repay", ErrUnauthorized)
	}

	elapsed := e.now() - loan.StartTime
	interest := simpleInterest(loan.Principal, e.params.LoanInterestRateBps, elapsed)
	total := new(big.Int).Add(loan.Principal, interest)
	protocolCut := bpsShare(interest, e.params.ProtocolFeeBps)
	stakerPool := bpsShare(interest, e.params.StakerInterestShareBps)

	accounts := e.newAccountSet()
	borrowerAcc, err := accounts.get(loan.Borrower)
	if err != nil {
		return nil, nil, nil, err
	}
	moduleAcc, err := accounts.get(e.moduleAddress)
	if err != nil {
		return nil, nil, nil, err
	}
	collateralAcc, err := accounts.get(e.collateralAddress)
	if err != nil {
		return nil, nil, nil, err
	}
	ownerAcc, err := accounts.get(e.owner)
	if err != nil {
		return nil, nil, nil, err
	}

	// Partial repayment is not supported: the borrower covers the full
	// amount or the operation fails with no state change.
	if borrowerAcc.BalanceLoanAsset.Cmp(total) < 0 {
		return nil, nil, nil, fmt.Errorf("%w: repayment of %s", ErrInsufficientBalance, total)
	}
	if err := e.checkCollateralCustody(loan, collateralAcc); err != nil {
		return nil, nil, nil, err
	}

	borrowerAcc.BalanceLoanAsset = new(big.Int).Sub(borrowerAcc.BalanceLoanAsset, total)
	moduleAcc.BalanceLoanAsset = new(big.Int).Add(moduleAcc.BalanceLoanAsset, total)
	if protocolCut.Sign() > 0 {
		moduleAcc.BalanceLoanAsset = new(big.Int).Sub(moduleAcc.BalanceLoanAsset, protocolCut)
		ownerAcc.BalanceLoanAsset = new(big.Int).Add(ownerAcc.BalanceLoanAsset, protocolCut)
	}
	if err := e.releaseCollateral(loan, collateralAcc, borrowerAcc, loan.Borrower); err != nil {
		return nil, nil, nil, err
	}
	if err := accounts.persist(); err != nil {
		return nil, nil, nil, err
	}

	// The pool value stays fixed for the life of the claim window; each
	// staker derives its own share from it.
	if err := e.state.RewardPoolPut(loan.ID, stakerPool); err != nil {
		return nil, nil, nil, err
	}

	loan.Status = StatusRepaid
	if err := e.state.LoanPut(loan); err != nil {
		return nil, nil, nil, err
	}
	return loan.Clone(), interest, stakerPool, nil
}

// LiquidateLoan force-settles an under-collateralized loan. Anyone may call.
// The liquidator pays exactly the principal (liquidation collects no
// interest) and receives the full collateral; every staker's escrowed
// reputation is burned and their vouch record zeroed so no later claim is
// possible.
func (e *Engine) LiquidateLoan(caller [20]byte, loanID uint64) (*Loan, error) {
	e.mu.Lock()
	loan, slashed, err := e.liquidateLoanLocked(caller, loanID)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(NewLoanLiquidatedEvent(loan, caller, slashed))
	e.fireHook(func(h Hook) error {
		return h.AfterLoanLiquidated(caller, loanID)
	})
	return loan, nil
}

func (e *Engine) liquidateLoanLocked(caller [20]byte, loanID uint64) (*Loan, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	loan, err := e.loadActiveLoan(loanID)
	if err != nil {
		return nil, nil, err
	}

	ctype, ok, err := e.state.CollateralTypeGet(loan.CollateralAsset)
	if err != nil {
		return nil, nil, err
	}
	if !ok || ctype == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedCollateral, loan.CollateralAsset)
	}
	value, err := collateral.Value(ctype, loan.CollateralQuantity)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedCollateral, err)
	}
	threshold := bpsShare(loan.Principal, e.params.LiquidationThresholdBps)
	if value.Cmp(threshold) >= 0 {
		return nil, nil, fmt.Errorf("%w: collateral value %s covers threshold %s", ErrNotEligible, value, threshold)
	}

	accounts := e.newAccountSet()
	liquidatorAcc, err := accounts.get(caller)
	if err != nil {
		return nil, nil, err
	}
	moduleAcc, err := accounts.get(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}
	collateralAcc, err := accounts.get(e.collateralAddress)
	if err != nil {
		return nil, nil, err
	}

	if liquidatorAcc.BalanceLoanAsset.Cmp(loan.Principal) < 0 {
		return nil, nil, fmt.Errorf("%w: liquidation payment of %s", ErrInsufficientBalance, loan.Principal)
	}
	if err := e.checkCollateralCustody(loan, collateralAcc); err != nil {
		return nil, nil, err
	}
	slashTotal := big.NewInt(0)
	for _, amount := range loan.Vouches {
		if amount != nil && amount.Sign() > 0 {
			slashTotal = new(big.Int).Add(slashTotal, amount)
		}
	}
	if moduleAcc.BalanceReputation.Cmp(slashTotal) < 0 {
		return nil, nil, fmt.Errorf("%w: escrowed stake", ErrInsufficientLiquidity)
	}

	liquidatorAcc.BalanceLoanAsset = new(big.Int).Sub(liquidatorAcc.BalanceLoanAsset, loan.Principal)
	moduleAcc.BalanceLoanAsset = new(big.Int).Add(moduleAcc.BalanceLoanAsset, loan.Principal)
	if err := e.releaseCollateral(loan, collateralAcc, liquidatorAcc, caller); err != nil {
		return nil, nil, err
	}

	// Slash: escrowed stake is destroyed, not transferred. Zeroing the vouch
	// records makes later claims fail their nonzero-vouch precondition;
	// duplicate staker list entries see zero on the second visit.
	for _, staker := range loan.Stakers {
		key := StakerKey(staker)
		amount := loan.Vouches[key]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		moduleAcc.BalanceReputation = new(big.Int).Sub(moduleAcc.BalanceReputation, amount)
		loan.Vouches[key] = big.NewInt(0)
	}
	if err := accounts.persist(); err != nil {
		return nil, nil, err
	}

	loan.Status = StatusLiquidated
	if err := e.state.LoanPut(loan); err != nil {
		return nil, nil, err
	}
	return loan.Clone(), slashTotal, nil
}

// ClaimStakerRewards settles the caller's position on an already settled
// loan. The original stake is always returned; when the loan's claimable
// interest pool is nonzero (liquidation never sets the pool, so this signals
// repayment), a 5%-style reputation bonus is minted and a proportional share of
// the pool is paid out in loan-asset terms. The vouch record is zeroed after
// the claim, so a second attempt fails the nonzero-vouch precondition.
func (e *Engine) ClaimStakerRewards(caller [20]byte, loanID uint64) (*Claim, error) {
	e.mu.Lock()
	loan, claim, err := e.claimLocked(caller, loanID)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.emit(NewRewardsClaimedEvent(loan, caller, claim.StakeReturned, claim.Bonus, claim.InterestShare))
	return claim, nil
}

func (e *Engine) claimLocked(caller [20]byte, loanID uint64) (*Loan, *Claim, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, nil, err
	}
	if !ok || loan == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrLoanNotFound, loanID)
	}
	if !loan.Status.Settled() {
		return nil, nil, ErrNotSettled
	}
	vouch := loan.Vouch(caller)
	if vouch.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: no vouch recorded for caller", ErrNotEligible)
	}

	pool, err := e.state.RewardPoolGet(loan.ID)
	if err != nil {
		return nil, nil, err
	}
	bonus := big.NewInt(0)
	interestShare := big.NewInt(0)
	if pool != nil && pool.Sign() > 0 {
		bonus = bpsShare(vouch, e.params.StakerBonusBps)
		interestShare = proportionalShare(pool, vouch, loan.TotalVouched)
	}

	accounts := e.newAccountSet()
	stakerAcc, err := accounts.get(caller)
	if err != nil {
		return nil, nil, err
	}
	moduleAcc, err := accounts.get(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}
	if moduleAcc.BalanceReputation.Cmp(vouch) < 0 {
		return nil, nil, fmt.Errorf("%w: escrowed stake", ErrInsufficientLiquidity)
	}
	if interestShare.Sign() > 0 && moduleAcc.BalanceLoanAsset.Cmp(interestShare) < 0 {
		return nil, nil, fmt.Errorf("%w: reward pool", ErrInsufficientLiquidity)
	}

	// Stake return first, then the minted bonus and the pool share.
	moduleAcc.BalanceReputation = new(big.Int).Sub(moduleAcc.BalanceReputation, vouch)
	stakerAcc.BalanceReputation = new(big.Int).Add(stakerAcc.BalanceReputation, vouch)
	if bonus.Sign() > 0 {
		stakerAcc.BalanceReputation = new(big.Int).Add(stakerAcc.BalanceReputation, bonus)
	}
	if interestShare.Sign() > 0 {
		moduleAcc.BalanceLoanAsset = new(big.Int).Sub(moduleAcc.BalanceLoanAsset, interestShare)
		stakerAcc.BalanceLoanAsset = new(big.Int).Add(stakerAcc.BalanceLoanAsset, interestShare)
	}

	loan.Vouches[StakerKey(caller)] = big.NewInt(0)
	if err := e.state.LoanPut(loan); err != nil {
		return nil, nil, err
	}
	if err := accounts.persist(); err != nil {
		return nil, nil, err
	}

	claim := &Claim{
		LoanID:        loan.ID,
		Staker:        caller,
		StakeReturned: new(big.Int).Set(vouch),
		Bonus:         bonus,
		InterestShare: interestShare,
	}
	return loan.Clone(), claim, nil
}

// GetLoan returns a copy of the loan record.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, loanID)
	}
	return loan.Clone(), nil
}

func (e *Engine) loadActiveLoan(loanID uint64) (*Loan, error) {
	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, loanID)
	}
	if loan.Status != StatusActive {
		return nil, fmt.Errorf("%w: loan %d is %s", ErrNotActive, loanID, loan.Status)
	}
	if loan.Vouches == nil {
		loan.Vouches = make(map[string]*big.Int)
	}
	if loan.Principal == nil {
		loan.Principal = big.NewInt(0)
	}
	if loan.TotalVouched == nil {
		loan.TotalVouched = big.NewInt(0)
	}
	return loan, nil
}

// checkCollateralCustody verifies the collateral vault still holds the loan's
// escrow before any release is attempted.
func (e *Engine) checkCollateralCustody(loan *Loan, collateralAcc *types.Account) error {
	if loan.Kind == collateral.KindNonFungible {
		owner, owned, err := e.state.ItemOwner(loan.CollateralAsset, loan.CollateralQuantity)
		if err != nil {
			return err
		}
		if !owned || owner != e.collateralAddress {
			return fmt.Errorf("%w: collateral custody", ErrInsufficientLiquidity)
		}
		return nil
	}
	if collateralAcc.CollateralBalance(loan.CollateralAsset).Cmp(loan.CollateralQuantity) < 0 {
		return fmt.Errorf("%w: collateral custody", ErrInsufficientLiquidity)
	}
	return nil
}

func (e *Engine) releaseCollateral(loan *Loan, collateralAcc, recipientAcc *types.Account, recipient [20]byte) error {
	if loan.Kind == collateral.KindNonFungible {
		return e.state.ItemSetOwner(loan.CollateralAsset, loan.CollateralQuantity, recipient)
	}
	asset := loan.CollateralAsset
	collateralAcc.SetCollateralBalance(asset, new(big.Int).Sub(collateralAcc.CollateralBalance(asset), loan.CollateralQuantity))
	recipientAcc.SetCollateralBalance(asset, new(big.Int).Add(recipientAcc.CollateralBalance(asset), loan.CollateralQuantity))
	return nil
}
