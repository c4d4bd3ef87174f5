package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/i18n"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/session"
)

type fakePanel struct {
	available bool
	showErr   error
	pushed    []ledger.EntityID
	refreshes int
	shown     []ledger.EntityID
	hidden    []ledger.EntityID
}

func (p *fakePanel) Available() bool { return p.available }

func (p *fakePanel) PushUpdate(id ledger.EntityID) bool {
	p.pushed = append(p.pushed, id)
	return p.available
}

func (p *fakePanel) RefreshAll() { p.refreshes++ }

func (p *fakePanel) Show(id ledger.EntityID) error {
	if p.showErr != nil {
		return p.showErr
	}
	p.shown = append(p.shown, id)
	return nil
}

func (p *fakePanel) Hide(id ledger.EntityID) error {
	p.hidden = append(p.hidden, id)
	return nil
}

type fixture struct {
	g        *Gateway
	ledger   *ledger.Ledger
	sessions *session.Store
	panel    *fakePanel
	cfg      *config.SyncConfig
	saves    int
	reloads  int
	fixes    []string
	reload   error
}

var (
	user     = &session.Player{ID: 11, Name: "Alice", Permissions: []string{session.PermUse}}
	admin    = &session.Player{ID: 12, Name: "Boss", Permissions: []string{session.PermUse, session.PermAdmin}}
	outsider = &session.Player{ID: 13, Name: "Nobody"}
	german   = &session.Player{ID: 14, Name: "Dieter", Locale: "de", Permissions: []string{session.PermUse}}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   ledger.New(),
		sessions: session.NewStore(),
		panel:    &fakePanel{available: true},
		cfg:      config.Default(),
	}
	for _, p := range []*session.Player{user, admin, outsider, german} {
		f.sessions.Update(p)
	}
	f.g = New(Options{
		Ledger:   f.ledger,
		Sessions: f.sessions,
		Panel:    f.panel,
		Text:     i18n.New(),
		Config:   func() *config.SyncConfig { return f.cfg },
		Version:  "1.2.3",
		Persist:  func() { f.saves++ },
		Reload: func() ([]string, error) {
			f.reloads++
			return f.fixes, f.reload
		},
		Process: func() (string, string) { return "12.0 MiB", "1h0m0s" },
	})
	return f
}

func TestQueryOwn(t *testing.T) {
	f := newFixture(t)
	f.ledger.Increment(user.ID)
	f.ledger.Increment(user.ID)

	r := f.g.QueryOwn(user)
	require.True(t, r.OK())
	assert.Equal(t, []string{"You have died 2 times."}, r.Lines)

	r = f.g.Execute(german, "deaths", nil)
	assert.Equal(t, []string{"Du bist 0 mal gestorben."}, r.Lines)
}

func TestDeniedCommandsTouchNothing(t *testing.T) {
	commands := []struct {
		name string
		args []string
	}{
		{"deaths", nil},
		{"deaths-top", nil},
		{"panel", nil},
		{"panel", []string{"show"}},
		{"panel", []string{"reset"}},
		{"reset", nil},
		{"reset", []string{"Alice"}},
		{"reload", nil},
		{"status", nil},
	}
	for _, c := range commands {
		t.Run(c.name+" "+strings.Join(c.args, " "), func(t *testing.T) {
			f := newFixture(t)
			f.ledger.Increment(user.ID)
			before := f.ledger.Snapshot()

			r := f.g.Execute(outsider, c.name, c.args)
			assert.ErrorIs(t, r.Err, ErrNoPermission)
			assert.Equal(t, []string{"You do not have permission to use this command."}, r.Lines)
			assert.Equal(t, before, f.ledger.Snapshot())
			assert.Zero(t, f.saves, "no save scheduled")
			assert.Zero(t, f.reloads)
			assert.Empty(t, f.panel.pushed)
			assert.Empty(t, f.panel.shown)
		})
	}
}

func TestQueryTop(t *testing.T) {
	f := newFixture(t)
	const offline ledger.EntityID = 999
	for i := 0; i < 10; i++ {
		f.ledger.Increment(admin.ID)
	}
	for i := 0; i < 3; i++ {
		f.ledger.Increment(offline)
	}
	f.ledger.Increment(user.ID)

	r := f.g.QueryTop(user)
	require.True(t, r.OK())
	assert.Equal(t, []string{
		"Top 5 deaths:",
		"1. Boss: 10 deaths",
		"2. Unknown: 3 deaths",
		"3. Alice: 1 deaths",
	}, r.Lines)
}

func TestQueryTopLimitsToFive(t *testing.T) {
	f := newFixture(t)
	for id := ledger.EntityID(100); id < 110; id++ {
		f.ledger.Increment(id)
	}
	r := f.g.Execute(user, "deathstop", nil)
	assert.Len(t, r.Lines, TopCount+1)
}

func TestQueryTopEmpty(t *testing.T) {
	f := newFixture(t)
	r := f.g.QueryTop(user)
	assert.Equal(t, []string{"No deaths recorded yet."}, r.Lines)
}

func TestResetSelf(t *testing.T) {
	f := newFixture(t)
	f.ledger.Increment(user.ID)
	f.ledger.Increment(admin.ID)

	r := f.g.Execute(user, "panel", []string{"reset"})
	require.True(t, r.OK(), r.String())
	assert.Equal(t, []string{"Your deaths have been reset."}, r.Lines)
	assert.Zero(t, f.ledger.Get(user.ID))
	assert.Equal(t, uint64(1), f.ledger.Get(admin.ID))
	assert.Equal(t, []ledger.EntityID{user.ID}, f.panel.pushed)
	assert.Equal(t, 1, f.saves)
}

func TestResetOtherNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	f.ledger.Increment(admin.ID)

	r := f.g.Reset(user, "Boss")
	assert.ErrorIs(t, r.Err, ErrNoPermission)
	assert.Equal(t, uint64(1), f.ledger.Get(admin.ID))
	assert.Zero(t, f.saves)

	f.ledger.Increment(user.ID)
	r = f.g.Execute(admin, "panel", []string{"reset", "alice"})
	require.True(t, r.OK(), r.String())
	assert.Equal(t, []string{"Deaths for Alice have been reset."}, r.Lines)
	assert.Zero(t, f.ledger.Get(user.ID))
	assert.Equal(t, 1, f.saves)
}

func TestResetTargetNotFound(t *testing.T) {
	f := newFixture(t)
	r := f.g.Reset(admin, "ghost")
	assert.ErrorIs(t, r.Err, ErrNotFound)
	assert.Equal(t, []string{"Player not found."}, r.Lines)
	assert.Zero(t, f.saves)
}

func TestHostAdminIsElevated(t *testing.T) {
	f := newFixture(t)
	host := &session.Player{ID: 20, Name: "Op", Admin: true, Permissions: []string{session.PermUse}}
	f.sessions.Update(host)
	r := f.g.Reset(host, "Alice")
	assert.True(t, r.OK(), r.String())
}

func TestConsoleReset(t *testing.T) {
	f := newFixture(t)
	for _, id := range []ledger.EntityID{1, 2, 3} {
		f.ledger.Increment(id)
	}

	r := f.g.Execute(session.Console(), "deathcounter.reset", nil)
	require.True(t, r.OK(), r.String())
	assert.Equal(t, []string{"All death counts reset. Affected 3 players."}, r.Lines)
	assert.Zero(t, f.ledger.Len())
	assert.Empty(t, f.ledger.TopN(5))
	assert.Equal(t, 1, f.saves)
	assert.Equal(t, 1, f.panel.refreshes)

	f.ledger.Increment(user.ID)
	r = f.g.Execute(session.Console(), "reset", []string{"11"})
	require.True(t, r.OK(), r.String())
	assert.Zero(t, f.ledger.Get(user.ID))
}

func TestConsoleSelfResetNotFound(t *testing.T) {
	f := newFixture(t)
	r := f.g.Execute(session.Console(), "panel", []string{"reset"})
	assert.ErrorIs(t, r.Err, ErrNotFound)
}

func TestResetAllAdmin(t *testing.T) {
	f := newFixture(t)
	r := f.g.ResetAllAdmin(user)
	assert.ErrorIs(t, r.Err, ErrNoPermission)

	f.ledger.Increment(1)
	r = f.g.ResetAllAdmin(admin)
	require.True(t, r.OK())
	assert.Equal(t, []string{"All death counts reset. Affected 1 players."}, r.Lines)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.ledger.Increment(user.ID)
	f.ledger.Increment(user.ID)
	f.ledger.Increment(admin.ID)
	f.cfg.Debug = true

	r := f.g.Execute(admin, "status", nil)
	require.True(t, r.OK())
	assert.Equal(t, []string{
		"=== DeathCounter Status ===",
		"Version: 1.2.3",
		"Panel provider: Loaded",
		"Total players tracked: 2",
		"Total deaths recorded: 3",
		"Active players online: 4",
		"Update interval: 10s",
		"Debug mode: Enabled",
		"Process: 12.0 MiB RSS, up 1h0m0s",
	}, r.Lines)
	assert.Zero(t, f.saves)

	f.panel.available = false
	r = f.g.Status(admin)
	assert.Contains(t, r.Lines, "Panel provider: Not found")
}

func TestReload(t *testing.T) {
	f := newFixture(t)

	r := f.g.Execute(admin, "reload", nil)
	require.True(t, r.OK())
	assert.Equal(t, []string{"DeathCounter configuration reloaded."}, r.Lines)

	f.fixes = []string{"update_interval 0 out of range [1, 300], using 10"}
	r = f.g.Reload(admin)
	require.True(t, r.OK())
	assert.Contains(t, r.Lines[0], "update_interval 0 out of range")

	f.fixes = nil
	f.reload = errors.New("disk gone")
	r = f.g.Reload(admin)
	assert.False(t, r.OK())
	assert.Contains(t, r.Lines[0], "disk gone")
	assert.Equal(t, 3, f.reloads)
}

func TestPanelHelp(t *testing.T) {
	f := newFixture(t)

	r := f.g.Panel(user, nil)
	require.True(t, r.OK())
	assert.Equal(t, "Available commands:", r.Lines[0])
	require.Len(t, r.Lines, 6)
	assert.Equal(t, "/panel reset - Reset your own deaths", r.Lines[5])

	r = f.g.Panel(admin, nil)
	require.Len(t, r.Lines, 7)
	assert.Equal(t, "/panel reset <player> - Reset another player's deaths (admin)", r.Lines[6])

	r = f.g.Panel(outsider, nil)
	assert.ErrorIs(t, r.Err, ErrNoPermission)
}

func TestPanelShowHide(t *testing.T) {
	f := newFixture(t)

	r := f.g.Execute(user, "panel", []string{"SHOW"})
	require.True(t, r.OK())
	assert.Equal(t, []string{"Death counter panel is now shown."}, r.Lines)
	assert.Equal(t, []ledger.EntityID{user.ID}, f.panel.shown)

	r = f.g.Execute(user, "panel", []string{"hide"})
	require.True(t, r.OK())
	assert.Equal(t, []ledger.EntityID{user.ID}, f.panel.hidden)

	f.panel.showErr = errors.New("not registered")
	r = f.g.Execute(user, "panel", []string{"show"})
	assert.ErrorIs(t, r.Err, ErrUnavailable)

	f.panel.available = false
	r = f.g.Execute(user, "panel", []string{"hide"})
	assert.ErrorIs(t, r.Err, ErrUnavailable)
	assert.Equal(t, []string{"The panel provider is not loaded or not available."}, r.Lines)
}

func TestUnknownCommands(t *testing.T) {
	f := newFixture(t)

	r := f.g.Execute(user, "panel", []string{"dance"})
	assert.ErrorIs(t, r.Err, ErrUnknownCommand)
	assert.Equal(t, []string{"Unknown command. Use /panel for help."}, r.Lines)

	r = f.g.Execute(user, "fly", nil)
	assert.ErrorIs(t, r.Err, ErrUnknownCommand)
}
