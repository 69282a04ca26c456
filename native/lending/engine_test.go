package lending

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"vouchlend/core/types"
	"vouchlend/native/collateral"
)

type mockEngineState struct {
	collateralTypes map[string]*collateral.Type
	loans           map[uint64]*Loan
	pools           map[uint64]*big.Int
	accounts        map[string]*types.Account
	items           map[string][20]byte
	counter         uint64
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		collateralTypes: make(map[string]*collateral.Type),
		loans:           make(map[uint64]*Loan),
		pools:           make(map[uint64]*big.Int),
		accounts:        make(map[string]*types.Account),
		items:           make(map[string][20]byte),
	}
}

func (m *mockEngineState) CollateralTypeGet(asset string) (*collateral.Type, bool, error) {
	ctype, ok := m.collateralTypes[asset]
	return ctype, ok, nil
}

func (m *mockEngineState) CollateralTypePut(ctype *collateral.Type) error {
	m.collateralTypes[ctype.Asset] = ctype
	return nil
}

func (m *mockEngineState) LoanGet(id uint64) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	return loan, ok, nil
}

func (m *mockEngineState) LoanPut(loan *Loan) error {
	m.loans[loan.ID] = loan
	return nil
}

func (m *mockEngineState) NextLoanID() (uint64, error) {
	m.counter++
	return m.counter, nil
}

func (m *mockEngineState) RewardPoolGet(loanID uint64) (*big.Int, error) {
	if pool, ok := m.pools[loanID]; ok {
		return pool, nil
	}
	return big.NewInt(0), nil
}

func (m *mockEngineState) RewardPoolPut(loanID uint64, amount *big.Int) error {
	m.pools[loanID] = amount
	return nil
}

func (m *mockEngineState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc, nil
	}
	return nil, nil
}

func (m *mockEngineState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account
	return nil
}

func (m *mockEngineState) itemKey(asset string, itemID *big.Int) string {
	return fmt.Sprintf("%s/%s", asset, itemID)
}

func (m *mockEngineState) ItemOwner(asset string, itemID *big.Int) ([20]byte, bool, error) {
	owner, ok := m.items[m.itemKey(asset, itemID)]
	return owner, ok, nil
}

func (m *mockEngineState) ItemSetOwner(asset string, itemID *big.Int, owner [20]byte) error {
	m.items[m.itemKey(asset, itemID)] = owner
	return nil
}

func (m *mockEngineState) account(addr [20]byte) *types.Account {
	acc, ok := m.accounts[string(addr[:])]
	if !ok {
		acc = &types.Account{}
		m.accounts[string(addr[:])] = acc
	}
	acc.EnsureDefaults()
	return acc
}

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[len(addr)-1] = suffix
	return addr
}

var (
	testOwner           = makeAddress(0x01)
	testModuleAddr      = makeAddress(0x02)
	testCollateralAddr  = makeAddress(0x03)
	testBorrower        = makeAddress(0x10)
	testStakerOne       = makeAddress(0x20)
	testStakerTwo       = makeAddress(0x21)
	testLiquidator      = makeAddress(0x30)
	testGoldAsset       = "GOLD"
	testDeedAsset       = "DEED"
	testDeedItem        = big.NewInt(7)
	testModuleLiquidity = big.NewInt(1_000_000)
)

// newTestEngine wires an engine against a funded mock state: the module holds
// loan-asset liquidity, the borrower holds 1000 units of GOLD priced 1:1, and
// both stakers hold reputation.
func newTestEngine(t *testing.T) (*Engine, *mockEngineState) {
	t.Helper()
	state := newMockEngineState()
	state.collateralTypes[testGoldAsset] = &collateral.Type{
		Asset:     testGoldAsset,
		Supported: true,
		UnitPrice: big.NewInt(1),
		Decimals:  0,
		Kind:      collateral.KindFungible,
	}
	state.collateralTypes[testDeedAsset] = &collateral.Type{
		Asset:     testDeedAsset,
		Supported: true,
		UnitPrice: big.NewInt(900),
		Decimals:  0,
		Kind:      collateral.KindNonFungible,
	}
	state.items[state.itemKey(testDeedAsset, testDeedItem)] = testBorrower

	state.account(testModuleAddr).BalanceLoanAsset = new(big.Int).Set(testModuleLiquidity)
	borrower := state.account(testBorrower)
	borrower.SetCollateralBalance(testGoldAsset, big.NewInt(1000))
	state.account(testStakerOne).BalanceReputation = big.NewInt(1_000_000)
	state.account(testStakerTwo).BalanceReputation = big.NewInt(1_000_000)

	engine := NewEngine(testOwner, testModuleAddr, testCollateralAddr, DefaultParams())
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine, state
}

func TestCreateLoanNoStakers(t *testing.T) {
	engine, state := newTestEngine(t)

	// Collateral worth 1000, principal 500, zero stakers: required ratio is
	// 15000 bps so the required value 750 is covered.
	loan, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500), nil, nil)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if loan.ID != 1 {
		t.Fatalf("expected first loan id 1, got %d", loan.ID)
	}
	if loan.Status != StatusActive {
		t.Fatalf("expected active loan, got %s", loan.Status)
	}
	if loan.TotalVouched.Sign() != 0 {
		t.Fatalf("expected zero vouched total, got %s", loan.TotalVouched)
	}

	borrower := state.account(testBorrower)
	if borrower.CollateralBalance(testGoldAsset).Sign() != 0 {
		t.Fatalf("expected collateral fully escrowed, got %s", borrower.CollateralBalance(testGoldAsset))
	}
	if borrower.BalanceLoanAsset.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected disbursed principal 500, got %s", borrower.BalanceLoanAsset)
	}
	vault := state.account(testCollateralAddr)
	if vault.CollateralBalance(testGoldAsset).Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected vault custody of 1000, got %s", vault.CollateralBalance(testGoldAsset))
	}
}

func TestCreateLoanExactRequirementBoundary(t *testing.T) {
	engine, state := newTestEngine(t)
	state.account(testBorrower).SetCollateralBalance(testGoldAsset, big.NewInt(750))

	// required = 500 * 15000 / 10000 = 750; exact equality succeeds.
	if _, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(750), big.NewInt(500), nil, nil); err != nil {
		t.Fatalf("exact-requirement loan should succeed: %v", err)
	}

	state.account(testBorrower).SetCollateralBalance(testGoldAsset, big.NewInt(749))
	_, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(749), big.NewInt(500), nil, nil)
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestCreateLoanReputationDiscountCapped(t *testing.T) {
	engine, state := newTestEngine(t)
	state.account(testBorrower).SetCollateralBalance(testGoldAsset, big.NewInt(600))

	// A 400000 vouch earns a 4000 bps discount before the 3000 bps cap, so
	// the ratio floors at 12000 bps and required value is 600.
	loan, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(600), big.NewInt(500),
		[][20]byte{testStakerOne}, []*big.Int{big.NewInt(400_000)})
	if err != nil {
		t.Fatalf("vouched loan should succeed: %v", err)
	}
	if loan.TotalVouched.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected vouched total: %s", loan.TotalVouched)
	}
	staker := state.account(testStakerOne)
	if staker.BalanceReputation.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("expected staker stake escrowed, balance %s", staker.BalanceReputation)
	}
	module := state.account(testModuleAddr)
	if module.BalanceReputation.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("expected module custody of stake, got %s", module.BalanceReputation)
	}
}

func TestCreateLoanUnsupportedCollateral(t *testing.T) {
	engine, state := newTestEngine(t)

	_, err := engine.CreateLoan(testBorrower, "SILVER", big.NewInt(10), big.NewInt(5), nil, nil)
	if !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("expected ErrUnsupportedCollateral, got %v", err)
	}

	state.collateralTypes[testGoldAsset].Supported = false
	_, err = engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(10), big.NewInt(5), nil, nil)
	if !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("expected ErrUnsupportedCollateral for retired asset, got %v", err)
	}
}

func TestCreateLoanInputValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(0), nil, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero principal: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(0), big.NewInt(500), nil, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero quantity: expected ErrInvalidAmount, got %v", err)
	}
	_, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500),
		[][20]byte{testStakerOne}, nil)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("length mismatch: expected ErrInvalidAmount, got %v", err)
	}
	_, err = engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500),
		[][20]byte{testStakerOne}, []*big.Int{big.NewInt(0)})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero vouch: expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateLoanIDOnlyAdvancesOnSuccess(t *testing.T) {
	engine, state := newTestEngine(t)

	if _, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(100), big.NewInt(500), nil, nil); err == nil {
		t.Fatalf("undercollateralized loan should fail")
	}
	loan, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500), nil, nil)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if loan.ID != 1 {
		t.Fatalf("failed attempts must not consume ids, got %d", loan.ID)
	}
	if state.counter != 1 {
		t.Fatalf("counter advanced on failure: %d", state.counter)
	}
}

func TestCreateLoanNonFungible(t *testing.T) {
	engine, state := newTestEngine(t)

	loan, err := engine.CreateLoan(testBorrower, testDeedAsset, testDeedItem, big.NewInt(500), nil, nil)
	if err != nil {
		t.Fatalf("non-fungible loan: %v", err)
	}
	if loan.Kind != collateral.KindNonFungible {
		t.Fatalf("unexpected kind: %v", loan.Kind)
	}
	owner, ok, _ := state.ItemOwner(testDeedAsset, testDeedItem)
	if !ok || owner != testCollateralAddr {
		t.Fatalf("expected item in protocol custody, owner %x", owner)
	}

	// The item is escrowed: a second loan against it must fail.
	_, err = engine.CreateLoan(testBorrower, testDeedAsset, testDeedItem, big.NewInt(500), nil, nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestCreateLoanDuplicateStakersAccumulate(t *testing.T) {
	engine, state := newTestEngine(t)

	loan, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500),
		[][20]byte{testStakerOne, testStakerOne}, []*big.Int{big.NewInt(40_000), big.NewInt(60_000)})
	if err != nil {
		t.Fatalf("duplicate staker loan: %v", err)
	}

	// Both entries transfer: the escrow sum and the single map entry agree.
	module := state.account(testModuleAddr)
	if module.BalanceReputation.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected sum of both entries escrowed, got %s", module.BalanceReputation)
	}
	if loan.Vouch(testStakerOne).Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected accumulated vouch record, got %s", loan.Vouch(testStakerOne))
	}
	if len(loan.Stakers) != 2 {
		t.Fatalf("expected both input positions retained, got %d", len(loan.Stakers))
	}
	if loan.TotalVouched.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected total vouched: %s", loan.TotalVouched)
	}
}

func TestCreateLoanStakeEscrowAllOrNothing(t *testing.T) {
	engine, state := newTestEngine(t)
	state.account(testStakerTwo).BalanceReputation = big.NewInt(10)

	_, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500),
		[][20]byte{testStakerOne, testStakerTwo}, []*big.Int{big.NewInt(100), big.NewInt(100)})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// No partial escrow: the solvent staker keeps its full balance and the
	// borrower keeps the collateral.
	if state.account(testStakerOne).BalanceReputation.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("solvent staker balance mutated: %s", state.account(testStakerOne).BalanceReputation)
	}
	if state.account(testBorrower).CollateralBalance(testGoldAsset).Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("borrower collateral mutated on failed create")
	}
	if len(state.loans) != 0 {
		t.Fatalf("loan persisted despite failure")
	}
}

func TestCreateLoanInsufficientLiquidity(t *testing.T) {
	engine, state := newTestEngine(t)
	state.account(testModuleAddr).BalanceLoanAsset = big.NewInt(10)

	_, err := engine.CreateLoan(testBorrower, testGoldAsset, big.NewInt(1000), big.NewInt(500), nil, nil)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}
