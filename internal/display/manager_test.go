package display

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/dispatch"
	"github.com/deathcounter/backend/internal/display/displaytest"
	"github.com/deathcounter/backend/internal/i18n"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/session"
)

const (
	alice ledger.EntityID = 101
	bob   ledger.EntityID = 102
	carol ledger.EntityID = 103
)

type fixture struct {
	m        *Manager
	prov     *displaytest.Provider
	sim      *dispatch.Sim
	ledger   *ledger.Ledger
	sessions *session.Store
	cfg      *config.SyncConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		prov:     displaytest.New(),
		sim:      dispatch.NewSim(),
		ledger:   ledger.New(),
		sessions: session.NewStore(),
		cfg:      config.Default(),
	}
	f.m = New(Options{
		Provider:   f.prov,
		Dispatcher: f.sim,
		Ledger:     f.ledger,
		Sessions:   f.sessions,
		Text:       i18n.New(),
		Config:     func() *config.SyncConfig { return f.cfg },
	})
	return f
}

func (f *fixture) connect(id ledger.EntityID, perms ...string) {
	p := &session.Player{ID: id, Name: "p", Permissions: perms}
	f.sessions.Update(p)
	f.m.SessionConnected(p)
}

func (f *fixture) state(t *testing.T, id ledger.EntityID) SurfaceState {
	t.Helper()
	st, ok := f.m.State(id)
	require.True(t, ok, "no state for %d", id)
	return st
}

func ptr(id ledger.EntityID) *ledger.EntityID { return &id }

func TestProviderLoadedShowsEligibleSessions(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	f.connect(bob)

	require.True(t, f.m.ProviderLoaded())
	assert.True(t, f.m.Registered())
	assert.True(t, f.m.TimerActive())
	assert.NotEmpty(t, f.prov.Definition())

	assert.Equal(t, Visible, f.state(t, alice).State)
	assert.True(t, f.state(t, alice).Registered)
	assert.Equal(t, Unregistered, f.state(t, bob).State)
	assert.Equal(t, 1, f.prov.Count("show", ptr(alice)))
	assert.Zero(t, f.prov.Count("show", ptr(bob)))
	assert.Equal(t, 1, f.m.VisibleCount())
}

func TestProviderLoadedUnavailable(t *testing.T) {
	f := newFixture(t)
	f.prov.SetDown(true)
	assert.False(t, f.m.ProviderLoaded())
	assert.Zero(t, f.prov.Count("register", nil))
}

func TestRegisterFailureStaysUnregistered(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	f.prov.RejectRegister(true)

	assert.False(t, f.m.ProviderLoaded())
	assert.False(t, f.m.Registered())
	assert.False(t, f.m.TimerActive())
	assert.Equal(t, Unregistered, f.state(t, alice).State)

	f.ledger.Increment(alice)
	assert.False(t, f.m.PushUpdate(alice))
	assert.Zero(t, f.prov.Count("set_attribute", nil))
	assert.ErrorIs(t, f.m.Show(alice), ErrUnavailable)

	// The next discovery succeeds.
	f.prov.RejectRegister(false)
	require.True(t, f.m.ProviderLoaded())
	assert.Equal(t, Visible, f.state(t, alice).State)
}

func TestRegisterErrorStaysUnregistered(t *testing.T) {
	f := newFixture(t)
	f.prov.Fail("register", errors.New("boom"))
	assert.False(t, f.m.ProviderLoaded())
	assert.False(t, f.m.Registered())
}

func TestRediscoveryReplacesTimer(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	require.True(t, f.m.ProviderLoaded())
	require.True(t, f.m.ProviderLoaded())
	assert.Equal(t, 1, f.sim.Pending(), "exactly one periodic timer")

	f.m.ProviderUnloaded()
	assert.Zero(t, f.sim.Pending())
	require.True(t, f.m.ProviderLoaded())
	assert.Equal(t, 1, f.sim.Pending())
}

func TestConnectReadyOnFirstPoll(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.connect(alice, session.PermUse)

	assert.Equal(t, AwaitingProvider, f.state(t, alice).State)
	f.sim.Advance(ConnectSettleDelay - time.Millisecond)
	assert.Zero(t, f.prov.Count("is_ready", nil))

	f.sim.Advance(time.Millisecond)
	assert.Equal(t, Visible, f.state(t, alice).State)
	assert.Equal(t, 1, f.prov.Count("is_ready", ptr(alice)))
	assert.Equal(t, 1, f.prov.Count("show", ptr(alice)))
}

func TestConnectRetriesOnce(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.prov.SetReady(alice, false)
	f.connect(alice, session.PermUse)

	f.sim.Advance(ConnectSettleDelay)
	st := f.state(t, alice)
	assert.Equal(t, AwaitingProvider, st.State)
	assert.True(t, st.PendingRetry)

	f.prov.SetReady(alice, true)
	f.sim.Advance(RetryDelay)
	st = f.state(t, alice)
	assert.Equal(t, Visible, st.State)
	assert.False(t, st.PendingRetry)
	assert.Equal(t, 2, f.prov.Count("is_ready", ptr(alice)))
}

func TestConnectGivesUpAfterTwoAttempts(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.prov.SetReady(alice, false)
	f.connect(alice, session.PermUse)

	f.sim.Advance(time.Minute)
	st := f.state(t, alice)
	assert.Equal(t, Hidden, st.State)
	assert.False(t, st.PendingRetry)
	assert.Equal(t, 2, f.prov.Count("is_ready", ptr(alice)))
	assert.Zero(t, f.prov.Count("show", ptr(alice)))
	assert.Equal(t, 1, f.sim.Pending(), "only the periodic timer remains")
}

func TestConnectReadinessErrorCountsAsNotReady(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.prov.Fail("is_ready", errors.New("gone"))
	f.connect(alice, session.PermUse)

	f.sim.Advance(time.Minute)
	assert.Equal(t, Hidden, f.state(t, alice).State)
	assert.Equal(t, 2, f.prov.Count("is_ready", ptr(alice)))
}

func TestConnectWithoutAutoShow(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoShowOnConnect = false
	require.True(t, f.m.ProviderLoaded())
	f.connect(alice, session.PermUse)

	assert.Equal(t, Unregistered, f.state(t, alice).State)
	f.sim.Advance(time.Minute)
	assert.Zero(t, f.prov.Count("is_ready", nil))
}

func TestConnectWithoutProvider(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	assert.Equal(t, Unregistered, f.state(t, alice).State)
	assert.Zero(t, f.sim.Pending())
}

func TestConnectWithoutPermission(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.connect(bob)
	assert.Equal(t, Unregistered, f.state(t, bob).State)
	assert.Equal(t, 1, f.sim.Pending())
}

func TestDisconnectCancelsPoll(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.connect(alice, session.PermUse)

	f.sessions.Remove(alice)
	f.m.SessionDisconnected(alice)
	_, ok := f.m.State(alice)
	assert.False(t, ok)

	f.sim.Advance(time.Minute)
	assert.Zero(t, f.prov.Count("is_ready", nil))
}

func TestDisconnectHidesVisible(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	require.True(t, f.m.ProviderLoaded())

	f.m.SessionDisconnected(alice)
	assert.Equal(t, 1, f.prov.Count("hide", ptr(alice)))
	assert.Zero(t, f.m.VisibleCount())
}

func TestPushUpdateContentAndColor(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	f.sessions.Update(&session.Player{ID: alice, Permissions: []string{session.PermUse}})
	f.sessions.Update(&session.Player{ID: bob, Locale: "de", Permissions: []string{session.PermUse}})

	for i := 0; i < 4; i++ {
		f.ledger.Increment(alice)
	}
	require.True(t, f.m.PushUpdate(alice))

	content, _ := f.prov.LastValue(AttrContent, alice)
	color, _ := f.prov.LastValue(AttrFontColor, alice)
	assert.Equal(t, "Deaths: 4", content)
	assert.Equal(t, f.cfg.TierColors[2], color)
	assert.Equal(t, 1, f.prov.Count("refresh", ptr(alice)))

	require.True(t, f.m.PushUpdate(bob))
	content, _ = f.prov.LastValue(AttrContent, bob)
	assert.Equal(t, "Todesfälle: 0", content)

	st := f.state(t, alice)
	assert.Equal(t, uint64(4), st.LastCount)
	assert.Equal(t, color, st.LastColor)
}

func TestPushUpdateUnknownSession(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.m.ProviderLoaded())
	assert.False(t, f.m.PushUpdate(carol))
}

func TestPushAllVisibleSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	f.connect(bob, session.PermUse)
	require.True(t, f.m.ProviderLoaded())
	f.prov.ResetCalls()

	f.sim.Advance(f.cfg.Interval())
	assert.Zero(t, f.prov.Count("set_attribute", nil), "nothing changed")

	f.ledger.Increment(bob)
	f.sim.Advance(f.cfg.Interval())
	assert.Zero(t, f.prov.Count("refresh", ptr(alice)))
	assert.Equal(t, 1, f.prov.Count("refresh", ptr(bob)))

	f.prov.ResetCalls()
	f.m.RefreshAll()
	assert.Equal(t, 1, f.prov.Count("refresh", ptr(alice)))
	assert.Equal(t, 1, f.prov.Count("refresh", ptr(bob)))
}

func TestPushAllVisibleOnlyVisibleWithPermission(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	f.connect(bob, session.PermUse)
	f.connect(carol)
	require.True(t, f.m.ProviderLoaded())
	require.NoError(t, f.m.Hide(bob))

	for _, id := range []ledger.EntityID{alice, bob, carol} {
		f.ledger.Increment(id)
	}
	f.prov.ResetCalls()
	f.m.PushAllVisible()

	assert.Equal(t, 1, f.prov.Count("refresh", ptr(alice)))
	assert.Zero(t, f.prov.Count("refresh", ptr(bob)))
	assert.Zero(t, f.prov.Count("refresh", ptr(carol)))
}

func TestProviderFaultsContained(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	require.True(t, f.m.ProviderLoaded())
	f.ledger.Increment(alice)

	f.prov.Fail("set_attribute", errors.New("renderer crashed"))
	assert.False(t, f.m.PushUpdate(alice))
	assert.Equal(t, uint64(1), f.ledger.Get(alice))
	f.prov.Fail("set_attribute", nil)

	f.prov.Panic("refresh", true)
	assert.NotPanics(t, func() { assert.False(t, f.m.PushUpdate(alice)) })
	assert.Equal(t, uint64(1), f.ledger.Get(alice))
	f.prov.Panic("refresh", false)

	assert.True(t, f.m.PushUpdate(alice))
}

func TestAvailablePanicIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.prov.Panic("available", true)
	assert.NotPanics(t, func() { assert.False(t, f.m.Available()) })
	assert.False(t, f.m.ProviderLoaded())
}

func TestNilProvider(t *testing.T) {
	f := newFixture(t)
	m := New(Options{
		Dispatcher: f.sim,
		Ledger:     f.ledger,
		Sessions:   f.sessions,
		Text:       i18n.New(),
		Config:     func() *config.SyncConfig { return f.cfg },
	})
	assert.False(t, m.Available())
	assert.False(t, m.ProviderLoaded())
	assert.False(t, m.PushUpdate(alice))
	m.PushAllVisible()
	m.Teardown()
}

func TestProviderUnloaded(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	require.True(t, f.m.ProviderLoaded())
	f.prov.SetReady(bob, false)
	f.connect(bob, session.PermUse)

	f.m.ProviderUnloaded()
	assert.False(t, f.m.TimerActive())
	assert.Zero(t, f.sim.Pending(), "periodic timer and pending polls cancelled")
	assert.Equal(t, 1, f.prov.Count("hide", ptr(alice)))
	for _, id := range []ledger.EntityID{alice, bob} {
		st := f.state(t, id)
		assert.Equal(t, Unregistered, st.State)
		assert.False(t, st.Registered)
	}
}

func TestShowHideOnDemand(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoShowOnConnect = false
	assert.ErrorIs(t, f.m.Show(alice), ErrUnavailable)

	require.True(t, f.m.ProviderLoaded())
	assert.ErrorIs(t, f.m.Show(alice), ErrUnknownSession)

	f.connect(alice, session.PermUse)
	require.NoError(t, f.m.Show(alice))
	assert.Equal(t, Visible, f.state(t, alice).State)

	require.NoError(t, f.m.Hide(alice))
	assert.Equal(t, Hidden, f.state(t, alice).State)
	assert.Zero(t, f.m.VisibleCount())
}

func TestStartTimerUsesInterval(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	require.True(t, f.m.ProviderLoaded())

	f.cfg = config.Default()
	f.cfg.UpdateInterval = 2
	f.m.StartTimer()
	assert.Equal(t, 1, f.sim.Pending())

	f.ledger.Increment(alice)
	f.prov.ResetCalls()
	f.sim.Advance(2 * time.Second)
	assert.Equal(t, 1, f.prov.Count("refresh", ptr(alice)))
}

func TestTeardown(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, session.PermUse)
	require.True(t, f.m.ProviderLoaded())
	f.prov.SetReady(bob, false)
	f.connect(bob, session.PermUse)

	f.m.Teardown()
	assert.Zero(t, f.sim.Pending())
	assert.Equal(t, 1, f.prov.Count("hide", ptr(alice)))
	_, ok := f.m.State(alice)
	assert.False(t, ok)

	f.prov.ResetCalls()
	f.sim.Advance(time.Hour)
	assert.Empty(t, f.prov.Calls())
}
