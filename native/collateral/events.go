package collateral

import (
	"strconv"

	"vouchlend/core/types"
)

const (
	// EventTypeTypeUpdated is emitted whenever the authority writes a
	// collateral registry entry.
	EventTypeTypeUpdated = "collateral.type_updated"
)

// NewTypeUpdatedEvent returns the canonical event payload for a registry
// write.
func NewTypeUpdatedEvent(t *Type) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: EventTypeTypeUpdated, Attributes: attrs}
	}
	attrs["asset"] = t.Asset
	attrs["supported"] = strconv.FormatBool(t.Supported)
	if t.UnitPrice != nil {
		attrs["unitPrice"] = t.UnitPrice.String()
	}
	attrs["decimals"] = strconv.FormatUint(uint64(t.Decimals), 10)
	attrs["kind"] = t.Kind.String()
	return &types.Event{Type: EventTypeTypeUpdated, Attributes: attrs}
}
