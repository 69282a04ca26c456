package lending

import (
	"encoding/hex"
	"fmt"

	"vouchlend/core/types"
)

// accountSet caches every account touched by one engine operation so that a
// staker who is also the borrower (or a vault address colliding with a
// participant) resolves to a single mutable instance. Accounts are persisted
// together, in first-load order, once the operation's mutations are complete.
type accountSet struct {
	state  engineState
	loaded map[[20]byte]*types.Account
	order  [][20]byte
}

func (e *Engine) newAccountSet() *accountSet {
	return &accountSet{
		state:  e.state,
		loaded: make(map[[20]byte]*types.Account),
	}
}

func (s *accountSet) get(addr [20]byte) (*types.Account, error) {
	if acc, ok := s.loaded[addr]; ok {
		return acc, nil
	}
	acc, err := s.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	s.loaded[addr] = acc
	s.order = append(s.order, addr)
	return acc, nil
}

func (s *accountSet) persist() error {
	for _, addr := range s.order {
		if err := s.state.PutAccount(addr[:], s.loaded[addr]); err != nil {
			return fmt.Errorf("lending engine: persist account %x: %w", addr, err)
		}
	}
	return nil
}

func parseStakerKey(key string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("lending engine: malformed staker key %q", key)
	}
	copy(addr[:], raw)
	return addr, nil
}
