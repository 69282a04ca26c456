package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	bolt "go.etcd.io/bbolt"

	"vouchlend/core/types"
	"vouchlend/native/collateral"
	"vouchlend/native/lending"
)

var (
	bucketAccounts   = []byte("accounts")
	bucketLoans      = []byte("loans")
	bucketVouchPools = []byte("vouchpools")
	bucketCollateral = []byte("collateral")
	bucketItems      = []byte("items")
)

// Store persists protocol state in a single BoltDB file. It backs both the
// lending engine and the collateral registry. Values are JSON-encoded; loan
// identifiers come from the loans bucket sequence so they are unique for the
// lifetime of the file.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketLoans, bucketVouchPools, bucketCollateral, bucketItems} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetAccount loads the account for the address, returning a zeroed account
// when none has been written yet.
func (s *Store) GetAccount(addr []byte) (*types.Account, error) {
	account := &types.Account{}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get(addr)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, account)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load account: %w", err)
	}
	account.EnsureDefaults()
	return account, nil
}

// PutAccount writes the account record for the address.
func (s *Store) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	payload, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("storage: encode account: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(addr, payload)
	})
}

// LoanGet fetches the loan by identifier.
func (s *Store) LoanGet(id uint64) (*lending.Loan, bool, error) {
	var loan *lending.Loan
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketLoans).Get(loanKey(id))
		if raw == nil {
			return nil
		}
		loan = &lending.Loan{}
		return json.Unmarshal(raw, loan)
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: load loan %d: %w", id, err)
	}
	return loan, loan != nil, nil
}

// LoanPut writes the loan record keyed by its identifier.
func (s *Store) LoanPut(loan *lending.Loan) error {
	if loan == nil {
		return fmt.Errorf("storage: nil loan")
	}
	payload, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("storage: encode loan %d: %w", loan.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLoans).Put(loanKey(loan.ID), payload)
	})
}

// NextLoanID reserves and returns a fresh loan identifier.
func (s *Store) NextLoanID() (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(bucketLoans).NextSequence()
		if err != nil {
			return err
		}
		id = seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: next loan id: %w", err)
	}
	return id, nil
}

// RewardPoolGet returns the staker reward pool recorded for the loan,
// defaulting to zero when no pool has been written.
func (s *Store) RewardPoolGet(loanID uint64) (*big.Int, error) {
	pool := big.NewInt(0)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketVouchPools).Get(loanKey(loanID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, pool)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load reward pool %d: %w", loanID, err)
	}
	return pool, nil
}

// RewardPoolPut records the staker reward pool for the loan.
func (s *Store) RewardPoolPut(loanID uint64, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	payload, err := json.Marshal(amount)
	if err != nil {
		return fmt.Errorf("storage: encode reward pool %d: %w", loanID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVouchPools).Put(loanKey(loanID), payload)
	})
}

// CollateralTypeGet fetches the registry entry for the asset symbol.
func (s *Store) CollateralTypeGet(asset string) (*collateral.Type, bool, error) {
	var entry *collateral.Type
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCollateral).Get([]byte(asset))
		if raw == nil {
			return nil
		}
		entry = &collateral.Type{}
		return json.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: load collateral type %s: %w", asset, err)
	}
	return entry, entry != nil, nil
}

// CollateralTypePut writes the registry entry keyed by its asset symbol.
func (s *Store) CollateralTypePut(entry *collateral.Type) error {
	if entry == nil || entry.Asset == "" {
		return fmt.Errorf("storage: collateral type requires an asset symbol")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: encode collateral type %s: %w", entry.Asset, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollateral).Put([]byte(entry.Asset), payload)
	})
}

// ItemOwner returns the recorded owner of a non-fungible item, if any.
func (s *Store) ItemOwner(asset string, itemID *big.Int) ([20]byte, bool, error) {
	var owner [20]byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get(itemKey(asset, itemID))
		if raw == nil {
			return nil
		}
		if len(raw) != len(owner) {
			return fmt.Errorf("storage: malformed item owner record for %s", asset)
		}
		copy(owner[:], raw)
		found = true
		return nil
	})
	if err != nil {
		return [20]byte{}, false, err
	}
	return owner, found, nil
}

// ItemSetOwner records the owner of a non-fungible item.
func (s *Store) ItemSetOwner(asset string, itemID *big.Int, owner [20]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Put(itemKey(asset, itemID), owner[:])
	})
}

func loanKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func itemKey(asset string, itemID *big.Int) []byte {
	if itemID == nil {
		itemID = big.NewInt(0)
	}
	return []byte(asset + "/" + itemID.String())
}
