package display

import (
	"errors"

	"github.com/deathcounter/backend/internal/ledger"
)

var (
	// ErrUnavailable is returned when no provider is available or the
	// surface is not registered.
	ErrUnavailable = errors.New("display provider unavailable")
	// ErrUnknownSession is returned for a subject with no connected session.
	ErrUnknownSession = errors.New("unknown session")
)

// Provider is the external renderer that owns the panels. Implementations
// may fail or panic; the Manager contains both.
type Provider interface {
	// Available reports whether the provider is loaded and reachable.
	Available() bool
	// RegisterSurface declares a surface from its JSON definition.
	RegisterSurface(owner, surface string, definition []byte) (bool, error)
	SetAttribute(owner, element, attr, value string, subject ledger.EntityID) error
	Refresh(owner, surface string, subject ledger.EntityID) error
	Show(owner, surface string, subject ledger.EntityID) error
	Hide(owner, surface string, subject ledger.EntityID) error
	// IsReady reports whether the subject's client can display surfaces.
	IsReady(subject ledger.EntityID) (bool, error)
}
