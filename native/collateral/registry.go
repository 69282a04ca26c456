package collateral

import (
	"errors"
	"fmt"

	"vouchlend/core/events"
	"vouchlend/core/types"
)

var (
	errNilState     = errors.New("collateral registry: state not configured")
	errUnauthorized = errors.New("collateral registry: caller is not the authority")
)

// ErrUnauthorized reports an attempt to mutate the registry without the
// configured authority identity.
var ErrUnauthorized = errUnauthorized

type registryState interface {
	CollateralTypeGet(asset string) (*Type, bool, error)
	CollateralTypePut(*Type) error
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Registry gates mutation of the collateral table behind a single authority
// identity. Reads are unrestricted.
type Registry struct {
	state     registryState
	authority [20]byte
	emitter   events.Emitter
}

// NewRegistry constructs a registry whose mutations require the supplied
// authority address.
func NewRegistry(authority [20]byte) *Registry {
	return &Registry{authority: authority, emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetCollateralType creates or unconditionally overwrites the registry entry
// for the asset named in the definition. There is no removal operation;
// assets are retired by writing Supported=false.
func (r *Registry) SetCollateralType(caller [20]byte, def *Type) (*Type, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if caller != r.authority {
		return nil, errUnauthorized
	}
	sanitized, err := SanitizeType(def)
	if err != nil {
		return nil, err
	}
	if err := r.state.CollateralTypePut(sanitized); err != nil {
		return nil, fmt.Errorf("collateral registry: persist %s: %w", sanitized.Asset, err)
	}
	r.emit(NewTypeUpdatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Get fetches the registry entry for the asset, normalising the symbol first.
func (r *Registry) Get(asset string) (*Type, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, false, err
	}
	return r.state.CollateralTypeGet(normalized)
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: evt})
}
