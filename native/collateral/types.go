package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrUnsupportedAsset is returned when valuing or pledging an asset the
	// registry does not currently support.
	ErrUnsupportedAsset = errors.New("collateral: unsupported asset")
)

// Kind distinguishes fungible collateral (valued per unit amount) from
// non-fungible collateral (valued per item).
type Kind uint8

const (
	KindFungible Kind = iota
	KindNonFungible
)

// Valid reports whether the kind value is within the supported range.
func (k Kind) Valid() bool {
	switch k {
	case KindFungible, KindNonFungible:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindFungible:
		return "fungible"
	case KindNonFungible:
		return "nonfungible"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves the canonical textual form produced by Kind.String.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fungible":
		return KindFungible, nil
	case "nonfungible", "non-fungible":
		return KindNonFungible, nil
	default:
		return 0, fmt.Errorf("collateral: unknown kind %q", value)
	}
}

// Type describes one collateral asset accepted by the protocol. UnitPrice is
// denominated in loan-asset terms per whole unit (per item for non-fungible
// assets). Entries are only ever overwritten or toggled unsupported, never
// deleted.
type Type struct {
	Asset     string   `json:"asset"`
	Supported bool     `json:"supported"`
	UnitPrice *big.Int `json:"unitPrice"`
	Decimals  uint8    `json:"decimals"`
	Kind      Kind     `json:"kind"`
}

// Clone returns a deep copy of the collateral type so callers can safely
// mutate the copy without affecting the stored instance.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	clone := *t
	if t.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(t.UnitPrice)
	} else {
		clone.UnitPrice = big.NewInt(0)
	}
	return &clone
}

// NormalizeAsset canonicalises an asset symbol to its uppercase trimmed form.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(asset))
	if trimmed == "" {
		return "", fmt.Errorf("collateral: asset symbol required")
	}
	return trimmed, nil
}

// SanitizeType validates and normalises the supplied collateral definition,
// returning a cloned instance with canonical symbol casing and a non-nil unit
// price. The original value is not mutated.
func SanitizeType(t *Type) (*Type, error) {
	if t == nil {
		return nil, fmt.Errorf("collateral: nil type")
	}
	clone := t.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if !clone.Kind.Valid() {
		return nil, fmt.Errorf("collateral: invalid kind: %d", clone.Kind)
	}
	if clone.Kind == KindNonFungible && clone.Decimals != 0 {
		return nil, fmt.Errorf("collateral: non-fungible asset must use zero decimals")
	}
	if clone.UnitPrice.Sign() < 0 {
		return nil, fmt.Errorf("collateral: unit price must be non-negative")
	}
	return clone, nil
}

// Value converts a collateral holding into loan-asset terms. For fungible
// assets the quantity is an amount scaled by the asset's decimals; for
// non-fungible assets the quantity is an item identifier and the value is the
// flat per-item price. Integer division truncates.
func Value(t *Type, quantity *big.Int) (*big.Int, error) {
	if t == nil || !t.Supported {
		return nil, ErrUnsupportedAsset
	}
	price := t.UnitPrice
	if price == nil {
		price = big.NewInt(0)
	}
	if t.Kind == KindNonFungible {
		return new(big.Int).Set(price), nil
	}
	if quantity == nil || quantity.Sign() < 0 {
		return nil, fmt.Errorf("collateral: quantity must be non-negative")
	}
	value := new(big.Int).Mul(quantity, price)
	return value.Quo(value, pow10(t.Decimals)), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
