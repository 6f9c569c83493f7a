// Package quality decides when catalog products are publishable: the
// per-product promotion gate, administrative overrides, and per-brand
// coverage snapshots.
package quality

import (
	"errors"
	"fmt"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

var (
	// ErrInvalidTransition is returned for a lifecycle move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrTerminalState is returned when a REJECTED product is asked to move.
	ErrTerminalState = errors.New("product is in a terminal state")
)

// Actor names the origin of a transition.
type Actor string

const (
	// ActorGate is the automatic promotion gate.
	ActorGate Actor = "quality-gate"
)

// IsAdmin reports whether a transition comes from an administrator.
func (a Actor) IsAdmin() bool {
	return a != "" && a != ActorGate
}

// ValidateTransition checks a lifecycle move. The gate may only promote
// PENDING to ACTIVE. Administrators may also approve PENDING products and
// reject PENDING or ACTIVE ones. REJECTED is terminal and nothing demotes
// ACTIVE back to PENDING.
func ValidateTransition(from, to domain.LifecycleStatus, actor Actor) error {
	if from == domain.StatusRejected {
		return ErrTerminalState
	}
	switch {
	case from == domain.StatusPending && to == domain.StatusActive:
		return nil
	case to == domain.StatusRejected && actor.IsAdmin():
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s by %s", ErrInvalidTransition, from, to, actor)
	}
}

// Promotable reports whether a product passes the automatic gate: it has an
// image, at least one ingredient token, and a protein, fat or kcal value.
func Promotable(p *domain.CanonicalProduct) bool {
	if p.ImageURL == nil || *p.ImageURL == "" {
		return false
	}
	if !p.HasIngredients() {
		return false
	}
	return p.ProteinPercent != nil || p.FatPercent != nil || p.KcalPer100g != nil
}
