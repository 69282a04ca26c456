package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"vouchlend/core/types"
	"vouchlend/native/collateral"
	"vouchlend/native/lending"
)

// Memory keeps protocol state in process memory. It serves tests and the
// daemon's ephemeral mode and exposes the same surface as Store.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string][]byte
	loans      map[uint64]*lending.Loan
	pools      map[uint64]*big.Int
	collateral map[string]*collateral.Type
	items      map[string][20]byte
	loanSeq    uint64
}

// NewMemory constructs an empty in-memory state.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[string][]byte),
		loans:      make(map[uint64]*lending.Loan),
		pools:      make(map[uint64]*big.Int),
		collateral: make(map[string]*collateral.Type),
		items:      make(map[string][20]byte),
	}
}

func (m *Memory) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.RLock()
	raw, ok := m.accounts[string(addr)]
	m.mu.RUnlock()
	account := &types.Account{}
	if ok {
		if err := decodeAccount(raw, account); err != nil {
			return nil, err
		}
	}
	account.EnsureDefaults()
	return account, nil
}

func (m *Memory) PutAccount(addr []byte, account *types.Account) error {
	raw, err := encodeAccount(account)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.accounts[string(addr)] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoanGet(id uint64) (*lending.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *Memory) LoanPut(loan *lending.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *Memory) NextLoanID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loanSeq++
	return m.loanSeq, nil
}

func (m *Memory) RewardPoolGet(loanID uint64) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pool, ok := m.pools[loanID]; ok {
		return new(big.Int).Set(pool), nil
	}
	return big.NewInt(0), nil
}

func (m *Memory) RewardPoolPut(loanID uint64, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	m.mu.Lock()
	m.pools[loanID] = new(big.Int).Set(amount)
	m.mu.Unlock()
	return nil
}

func (m *Memory) CollateralTypeGet(asset string) (*collateral.Type, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.collateral[asset]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (m *Memory) CollateralTypePut(entry *collateral.Type) error {
	m.mu.Lock()
	m.collateral[entry.Asset] = entry.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) ItemOwner(asset string, itemID *big.Int) ([20]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.items[string(itemKey(asset, itemID))]
	return owner, ok, nil
}

func (m *Memory) ItemSetOwner(asset string, itemID *big.Int, owner [20]byte) error {
	m.mu.Lock()
	m.items[string(itemKey(asset, itemID))] = owner
	m.mu.Unlock()
	return nil
}

// Accounts round-trip through JSON so callers never share mutable state with
// the store, matching the persistent backend's behaviour.
func encodeAccount(account *types.Account) ([]byte, error) {
	if account == nil {
		return nil, fmt.Errorf("storage: nil account")
	}
	return json.Marshal(account)
}

func decodeAccount(raw []byte, account *types.Account) error {
	return json.Unmarshal(raw, account)
}
