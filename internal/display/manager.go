// Package display keeps each connected session's death counter panel in
// sync with the ledger through an external display provider.
package display

import (
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/dispatch"
	"github.com/deathcounter/backend/internal/i18n"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/metrics"
	"github.com/deathcounter/backend/internal/session"
)

var log = logging.Logger("deathcounter/display")

const (
	// ConnectSettleDelay is how long a new session gets before its first
	// readiness poll.
	ConnectSettleDelay = 3 * time.Second
	// RetryDelay separates the first and the only other readiness poll.
	RetryDelay = 2 * time.Second
)

// State is a session's position in the panel lifecycle.
type State int

const (
	Unregistered State = iota
	AwaitingProvider
	Visible
	Hidden
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case AwaitingProvider:
		return "awaiting_provider"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SurfaceState is the per-session panel state.
type SurfaceState struct {
	State        State
	Registered   bool
	PendingRetry bool
	LastCount    uint64
	LastColor    string

	pushed bool
	poll   dispatch.Handle
}

// Options configures a Manager. Provider may be nil, in which case every
// display operation is a no-op.
type Options struct {
	Provider   Provider
	Dispatcher dispatch.Dispatcher
	Ledger     *ledger.Ledger
	Sessions   *session.Store
	Text       *i18n.Localizer
	// Config returns the current config snapshot.
	Config func() *config.SyncConfig
}

// Manager drives the panel state machine for every connected session. It
// is not safe for concurrent use; call it from the dispatcher.
type Manager struct {
	provider   Provider
	dispatcher dispatch.Dispatcher
	ledger     *ledger.Ledger
	sessions   *session.Store
	text       *i18n.Localizer
	config     func() *config.SyncConfig

	registered bool
	timer      dispatch.Handle
	states     map[ledger.EntityID]*SurfaceState
}

func New(opts Options) *Manager {
	return &Manager{
		provider:   opts.Provider,
		dispatcher: opts.Dispatcher,
		ledger:     opts.Ledger,
		sessions:   opts.Sessions,
		text:       opts.Text,
		config:     opts.Config,
		states:     make(map[ledger.EntityID]*SurfaceState),
	}
}

// Available reports whether the provider is loaded. A panicking provider
// counts as unavailable.
func (m *Manager) Available() (ok bool) {
	if m.provider == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.ProviderErrors.WithLabelValues("available").Inc()
			log.Errorf("provider available check panicked: %v", r)
			ok = false
		}
	}()
	return m.provider.Available()
}

// Registered reports whether the surface is registered with the provider.
func (m *Manager) Registered() bool {
	return m.registered
}

// TimerActive reports whether the periodic push timer is scheduled.
func (m *Manager) TimerActive() bool {
	return m.timer != 0
}

// State returns a copy of the session's panel state.
func (m *Manager) State(id ledger.EntityID) (SurfaceState, bool) {
	st, ok := m.states[id]
	if !ok {
		return SurfaceState{}, false
	}
	return *st, true
}

// VisibleCount returns how many sessions show the panel.
func (m *Manager) VisibleCount() int {
	n := 0
	for _, st := range m.states {
		if st.State == Visible {
			n++
		}
	}
	return n
}

// ProviderLoaded registers the surface with a newly discovered provider.
// On success the panel is shown to every connected session allowed to see
// it and the periodic timer is restarted. On failure every session stays
// unregistered until the next discovery.
func (m *Manager) ProviderLoaded() bool {
	if !m.Available() {
		log.Warn("provider discovery reported but provider is not available")
		return false
	}
	m.StopTimer()

	cfg := m.config()
	def, err := Definition(cfg, m.text.Text(cfg.Locale, i18n.DeathCount, 0))
	if err != nil {
		log.Errorf("building surface definition: %v", err)
		m.unregisterAll()
		return false
	}

	var ok bool
	err = m.call("register", func() (err error) {
		ok, err = m.provider.RegisterSurface(Owner, SurfaceID, def)
		return err
	})
	if err != nil || !ok {
		log.Errorf("registering surface %s failed", SurfaceID)
		m.unregisterAll()
		return false
	}
	m.registered = true
	log.Infof("surface %s registered", SurfaceID)

	for _, p := range m.sessions.GetAll() {
		if !eligible(p) {
			continue
		}
		_ = m.show(p)
	}
	m.StartTimer()
	return true
}

// ProviderUnloaded drops every session back to Unregistered and stops the
// periodic timer.
func (m *Manager) ProviderUnloaded() {
	m.StopTimer()
	if m.registered && m.Available() {
		for id, st := range m.states {
			if st.State == Visible {
				m.hide(id)
			}
		}
	}
	m.unregisterAll()
	log.Info("provider unloaded")
}

// SessionConnected creates the session's panel state and, when auto-show
// is on and the surface is registered, schedules the readiness poll.
func (m *Manager) SessionConnected(p *session.Player) {
	if p.IsConsole() {
		return
	}
	st := m.ensure(p.ID)
	if !eligible(p) {
		return
	}
	if !m.config().AutoShowOnConnect || !m.registered || !m.Available() {
		return
	}
	m.cancelPoll(st)
	st.State = AwaitingProvider
	id := p.ID
	st.poll = m.dispatcher.ScheduleOnce(ConnectSettleDelay, func() { m.pollReady(id, 1) })
}

// SessionDisconnected hides the session's panel and forgets its state.
func (m *Manager) SessionDisconnected(id ledger.EntityID) {
	st, ok := m.states[id]
	if !ok {
		return
	}
	m.cancelPoll(st)
	if st.State == Visible && m.registered && m.Available() {
		m.hide(id)
	}
	delete(m.states, id)
	m.updateGauge()
}

// pollReady is one readiness attempt. Two attempts are made at most; when
// both fail the session is left hidden.
func (m *Manager) pollReady(id ledger.EntityID, attempt int) {
	st, ok := m.states[id]
	if !ok || st.State != AwaitingProvider {
		return
	}
	st.poll = 0
	p, ok := m.sessions.Get(id)
	if !ok {
		return
	}
	if m.registered && m.ready(id) {
		st.PendingRetry = false
		_ = m.show(p)
		return
	}
	if attempt == 1 {
		st.PendingRetry = true
		st.poll = m.dispatcher.ScheduleOnce(RetryDelay, func() { m.pollReady(id, 2) })
		log.Debugf("session %d not ready, retrying in %s", id, RetryDelay)
		return
	}
	st.PendingRetry = false
	st.State = Hidden
	log.Debugf("session %d still not ready, leaving panel hidden", id)
}

// PushUpdate sends the session's current count and tier color.
func (m *Manager) PushUpdate(id ledger.EntityID) bool {
	return m.push(id, true)
}

// PushAllVisible refreshes every visible session allowed to see the panel.
// Sessions whose count and color match the last push are skipped.
func (m *Manager) PushAllVisible() {
	m.pushVisible(false)
}

// RefreshAll pushes to every visible session unconditionally.
func (m *Manager) RefreshAll() {
	m.pushVisible(true)
}

func (m *Manager) pushVisible(force bool) {
	for _, p := range m.sessions.GetAll() {
		st, ok := m.states[p.ID]
		if !ok || st.State != Visible || !eligible(p) {
			continue
		}
		m.push(p.ID, force)
	}
}

// Show displays the panel to a connected session on request.
func (m *Manager) Show(id ledger.EntityID) error {
	if !m.registered || !m.Available() {
		return ErrUnavailable
	}
	p, ok := m.sessions.Get(id)
	if !ok {
		return ErrUnknownSession
	}
	return m.show(p)
}

// Hide removes the panel from a connected session on request.
func (m *Manager) Hide(id ledger.EntityID) error {
	if !m.registered || !m.Available() {
		return ErrUnavailable
	}
	if _, ok := m.sessions.Get(id); !ok {
		return ErrUnknownSession
	}
	st := m.ensure(id)
	m.cancelPoll(st)
	st.PendingRetry = false
	return m.hide(id)
}

// StartTimer (re)schedules the periodic push, replacing any previous timer.
// Nothing is scheduled while the surface is unregistered.
func (m *Manager) StartTimer() {
	m.StopTimer()
	if !m.registered {
		return
	}
	interval := m.config().Interval()
	m.timer = m.dispatcher.ScheduleRepeating(interval, m.PushAllVisible)
	log.Debugf("periodic push every %s", interval)
}

func (m *Manager) StopTimer() {
	if m.timer != 0 {
		m.dispatcher.Cancel(m.timer)
		m.timer = 0
	}
}

// Teardown hides every panel, cancels all timers and forgets all sessions.
func (m *Manager) Teardown() {
	m.StopTimer()
	hide := m.registered && m.Available()
	for id, st := range m.states {
		m.cancelPoll(st)
		if hide && st.State == Visible {
			m.hide(id)
		}
	}
	m.states = make(map[ledger.EntityID]*SurfaceState)
	m.registered = false
	m.updateGauge()
}

func (m *Manager) show(p *session.Player) error {
	st := m.ensure(p.ID)
	m.cancelPoll(st)
	st.PendingRetry = false
	m.push(p.ID, true)
	if err := m.call("show", func() error {
		return m.provider.Show(Owner, SurfaceID, p.ID)
	}); err != nil {
		return err
	}
	st.State = Visible
	st.Registered = true
	m.updateGauge()
	log.Debugf("panel shown to %s (%d)", p.Name, p.ID)
	return nil
}

func (m *Manager) hide(id ledger.EntityID) error {
	err := m.call("hide", func() error {
		return m.provider.Hide(Owner, SurfaceID, id)
	})
	if st, ok := m.states[id]; ok && err == nil {
		st.State = Hidden
	}
	m.updateGauge()
	return err
}

func (m *Manager) push(id ledger.EntityID, force bool) bool {
	if !m.registered || !m.Available() {
		return false
	}
	p, ok := m.sessions.Get(id)
	if !ok {
		return false
	}
	cfg := m.config()
	count := m.ledger.Get(id)
	color := ColorFor(cfg, count)

	st := m.ensure(id)
	if !force && st.pushed && st.LastCount == count && st.LastColor == color {
		metrics.Pushes.WithLabelValues("skipped").Inc()
		return true
	}

	locale := p.Locale
	if locale == "" {
		locale = cfg.Locale
	}
	content := m.text.Text(locale, i18n.DeathCount, count)

	err := m.call("set_attribute", func() error {
		return m.provider.SetAttribute(Owner, TextElement, AttrContent, content, id)
	})
	if err == nil {
		err = m.call("set_attribute", func() error {
			return m.provider.SetAttribute(Owner, TextElement, AttrFontColor, color, id)
		})
	}
	if err == nil {
		err = m.call("refresh", func() error {
			return m.provider.Refresh(Owner, SurfaceID, id)
		})
	}
	if err != nil {
		metrics.Pushes.WithLabelValues("error").Inc()
		return false
	}

	st.pushed = true
	st.LastCount = count
	st.LastColor = color
	metrics.Pushes.WithLabelValues("ok").Inc()
	log.Debugf("pushed %d deaths to %d", count, id)
	return true
}

func (m *Manager) ready(id ledger.EntityID) bool {
	var ready bool
	err := m.call("is_ready", func() (err error) {
		ready, err = m.provider.IsReady(id)
		return err
	})
	return err == nil && ready
}

// call runs one provider call, turning a panic into an error. Failures are
// logged and counted.
func (m *Manager) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
		if err != nil {
			metrics.ProviderErrors.WithLabelValues(op).Inc()
			log.Errorf("provider %s: %v", op, err)
		}
	}()
	return fn()
}

func (m *Manager) ensure(id ledger.EntityID) *SurfaceState {
	st, ok := m.states[id]
	if !ok {
		st = &SurfaceState{State: Unregistered}
		m.states[id] = st
	}
	return st
}

func (m *Manager) cancelPoll(st *SurfaceState) {
	if st.poll != 0 {
		m.dispatcher.Cancel(st.poll)
		st.poll = 0
	}
}

func (m *Manager) unregisterAll() {
	m.registered = false
	for _, st := range m.states {
		m.cancelPoll(st)
		st.State = Unregistered
		st.Registered = false
		st.PendingRetry = false
		st.pushed = false
	}
	m.updateGauge()
}

func (m *Manager) updateGauge() {
	metrics.VisibleSessions.Set(float64(m.VisibleCount()))
}

func eligible(p *session.Player) bool {
	return !p.IsConsole() && p.Has(session.PermUse)
}
