// Package displaytest provides a recording display provider for tests.
package displaytest

import (
	"sync"

	"github.com/deathcounter/backend/internal/ledger"
)

// Call is one recorded provider call.
type Call struct {
	Op      string
	Owner   string
	Target  string // surface or element
	Attr    string
	Value   string
	Subject ledger.EntityID
}

// Provider records every call. It is available, accepts registrations and
// reports every subject ready unless told otherwise.
type Provider struct {
	mu         sync.Mutex
	down       bool
	reject     bool
	failures   map[string]error
	panics     map[string]bool
	notReady   map[ledger.EntityID]bool
	calls      []Call
	definition []byte
}

func New() *Provider {
	return &Provider{
		failures: make(map[string]error),
		panics:   make(map[string]bool),
		notReady: make(map[ledger.EntityID]bool),
	}
}

// SetDown makes Available report false.
func (p *Provider) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

// RejectRegister makes RegisterSurface report failure.
func (p *Provider) RejectRegister(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject = reject
}

// Fail makes every call of op return err. A nil err clears it.
func (p *Provider) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Panic makes every call of op panic.
func (p *Provider) Panic(op string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[op] = on
}

// SetReady controls what IsReady reports for subject.
func (p *Provider) SetReady(subject ledger.EntityID, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notReady[subject] = !ready
}

// Calls returns a copy of every recorded call.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Count returns how many calls of op were recorded, for any subject when
// subject is nil.
func (p *Provider) Count(op string, subject *ledger.EntityID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op && (subject == nil || c.Subject == *subject) {
			n++
		}
	}
	return n
}

// LastValue returns the last value set for attr on subject.
func (p *Provider) LastValue(attr string, subject ledger.EntityID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		c := p.calls[i]
		if c.Op == "set_attribute" && c.Attr == attr && c.Subject == subject {
			return c.Value, true
		}
	}
	return "", false
}

// Definition returns the last registered surface definition.
func (p *Provider) Definition() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.definition
}

// ResetCalls forgets recorded calls.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics["available"] {
		panic("available")
	}
	return !p.down
}

func (p *Provider) RegisterSurface(owner, surface string, definition []byte) (bool, error) {
	if err := p.record(Call{Op: "register", Owner: owner, Target: surface}); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.definition = append([]byte(nil), definition...)
	return true, nil
}

func (p *Provider) SetAttribute(owner, element, attr, value string, subject ledger.EntityID) error {
	return p.record(Call{Op: "set_attribute", Owner: owner, Target: element, Attr: attr, Value: value, Subject: subject})
}

func (p *Provider) Refresh(owner, surface string, subject ledger.EntityID) error {
	return p.record(Call{Op: "refresh", Owner: owner, Target: surface, Subject: subject})
}

func (p *Provider) Show(owner, surface string, subject ledger.EntityID) error {
	return p.record(Call{Op: "show", Owner: owner, Target: surface, Subject: subject})
}

func (p *Provider) Hide(owner, surface string, subject ledger.EntityID) error {
	return p.record(Call{Op: "hide", Owner: owner, Target: surface, Subject: subject})
}

func (p *Provider) IsReady(subject ledger.EntityID) (bool, error) {
	if err := p.record(Call{Op: "is_ready", Subject: subject}); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.notReady[subject], nil
}

func (p *Provider) record(c Call) error {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	fail := p.failures[c.Op]
	panics := p.panics[c.Op]
	p.mu.Unlock()
	if panics {
		panic(c.Op)
	}
	return fail
}
