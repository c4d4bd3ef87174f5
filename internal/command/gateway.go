// Package command implements the permission-checked player and operator
// commands.
package command

import (
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/i18n"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/session"
)

var log = logging.Logger("deathcounter/command")

// TopCount is how many entries deaths-top lists.
const TopCount = 5

var (
	ErrNoPermission   = errors.New("permission denied")
	ErrNotFound       = errors.New("target not found")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnavailable    = errors.New("display provider unavailable")
)

// Reply is the localized answer to a command. Err classifies a refusal;
// Lines are meant for the subject either way.
type Reply struct {
	Lines []string `json:"lines"`
	Err   error    `json:"-"`
}

// OK reports whether the command was carried out.
func (r Reply) OK() bool {
	return r.Err == nil
}

func (r Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// Panel is the part of the display manager commands drive.
type Panel interface {
	Available() bool
	PushUpdate(id ledger.EntityID) bool
	RefreshAll()
	Show(id ledger.EntityID) error
	Hide(id ledger.EntityID) error
}

// Options wires a Gateway. Persist, Reload and Process are supplied by the
// service.
type Options struct {
	Ledger   *ledger.Ledger
	Sessions *session.Store
	Panel    Panel
	Text     *i18n.Localizer
	Config   func() *config.SyncConfig
	Version  string
	// Persist schedules a ledger save.
	Persist func()
	// Reload re-reads the config and restarts the periodic timer. The
	// returned fixes are reported to the caller.
	Reload func() ([]string, error)
	// Process reports resident memory and uptime for status, if set. Empty
	// values leave the line out.
	Process func() (rss, uptime string)
}

// Gateway checks capabilities and runs commands against the ledger and the
// display manager. Like the manager, it must be called from the dispatcher.
type Gateway struct {
	opts Options
}

func New(opts Options) *Gateway {
	return &Gateway{opts: opts}
}

// Execute runs the named command with args on behalf of subject. Names may
// carry the console "deathcounter." prefix.
func (g *Gateway) Execute(subject *session.Player, name string, args []string) Reply {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "deathcounter.")
	log.Debugf("command %q %v from %d", name, args, subject.ID)

	switch name {
	case "deaths":
		return g.QueryOwn(subject)
	case "deaths-top", "deathstop":
		return g.QueryTop(subject)
	case "panel", "deathpanel":
		return g.Panel(subject, args)
	case "reset":
		if !subject.Elevated() {
			return g.deny(subject)
		}
		if len(args) > 0 {
			return g.Reset(subject, args[0])
		}
		return g.ResetAllAdmin(subject)
	case "reload":
		return g.Reload(subject)
	case "status":
		return g.Status(subject)
	default:
		return g.reply(subject, ErrUnknownCommand, i18n.UnknownCommand)
	}
}

// QueryOwn reports the subject's own count.
func (g *Gateway) QueryOwn(subject *session.Player) Reply {
	if !subject.Has(session.PermUse) {
		return g.deny(subject)
	}
	return g.reply(subject, nil, i18n.YourDeaths, g.opts.Ledger.Get(subject.ID))
}

// QueryTop lists the highest counts, naming connected subjects and using a
// placeholder for offline ones.
func (g *Gateway) QueryTop(subject *session.Player) Reply {
	if !subject.Has(session.PermUse) {
		return g.deny(subject)
	}
	top := g.opts.Ledger.TopN(TopCount)
	if len(top) == 0 {
		return g.reply(subject, nil, i18n.NoDeaths)
	}
	locale := g.locale(subject)
	lines := []string{g.opts.Text.Text(locale, i18n.TopDeaths)}
	for i, e := range top {
		name, ok := g.opts.Sessions.Name(e.ID)
		if !ok {
			name = g.opts.Text.Text(locale, i18n.UnknownPlayer)
		}
		lines = append(lines, g.opts.Text.Text(locale, i18n.TopDeathsEntry, i+1, name, e.Count))
	}
	return Reply{Lines: lines}
}

// Reset zeroes a count. An empty target means the subject itself and needs
// the use capability; any other target needs the admin capability and must
// be connected.
func (g *Gateway) Reset(subject *session.Player, target string) Reply {
	target = strings.TrimSpace(target)
	if target == "" {
		if !subject.Has(session.PermUse) {
			return g.deny(subject)
		}
		if subject.IsConsole() {
			return g.reply(subject, ErrNotFound, i18n.PlayerNotFound)
		}
		g.resetOne(subject.ID)
		return g.reply(subject, nil, i18n.DeathsReset)
	}

	if !subject.Elevated() {
		return g.deny(subject)
	}
	p, ok := g.opts.Sessions.Find(target)
	if !ok {
		return g.reply(subject, ErrNotFound, i18n.PlayerNotFound)
	}
	g.resetOne(p.ID)
	log.Infof("deaths of %s (%d) reset by %d", p.Name, p.ID, subject.ID)
	return g.reply(subject, nil, i18n.DeathsResetTarget, p.Name)
}

// ResetAllAdmin clears the ledger and refreshes every visible panel.
func (g *Gateway) ResetAllAdmin(subject *session.Player) Reply {
	if !subject.Elevated() {
		return g.deny(subject)
	}
	n := g.opts.Ledger.ResetAll()
	g.persist()
	g.opts.Panel.RefreshAll()
	log.Infof("all deaths reset by %d, %d entries cleared", subject.ID, n)
	return g.reply(subject, nil, i18n.AllDeathsReset, n)
}

// Status reports aggregate counters. It changes nothing.
func (g *Gateway) Status(subject *session.Player) Reply {
	if !subject.Elevated() {
		return g.deny(subject)
	}
	locale := g.locale(subject)
	t := func(key string, args ...any) string { return g.opts.Text.Text(locale, key, args...) }

	provider := t(i18n.NotFound)
	if g.opts.Panel.Available() {
		provider = t(i18n.Loaded)
	}
	cfg := g.opts.Config()
	debug := t(i18n.Disabled)
	if cfg.Debug {
		debug = t(i18n.Enabled)
	}

	lines := []string{
		t(i18n.StatusHeader),
		t(i18n.StatusVersion, g.opts.Version),
		t(i18n.StatusProvider, provider),
		t(i18n.StatusTracked, g.opts.Ledger.Len()),
		t(i18n.StatusTotal, g.opts.Ledger.Total()),
		t(i18n.StatusActive, g.opts.Sessions.Count()),
		t(i18n.StatusInterval, cfg.UpdateInterval),
		t(i18n.StatusDebug, debug),
	}
	if g.opts.Process != nil {
		if rss, uptime := g.opts.Process(); rss != "" {
			lines = append(lines, t(i18n.StatusProcess, rss, uptime))
		}
	}
	return Reply{Lines: lines}
}

// Reload re-reads the config file.
func (g *Gateway) Reload(subject *session.Player) Reply {
	if !subject.Elevated() {
		return g.deny(subject)
	}
	fixes, err := g.opts.Reload()
	if err != nil {
		return g.reply(subject, fmt.Errorf("reloading config: %w", err), i18n.ConfigReloadFailed, err.Error())
	}
	if len(fixes) > 0 {
		return g.reply(subject, nil, i18n.ConfigReloadFailed, strings.Join(fixes, "; "))
	}
	return g.reply(subject, nil, i18n.ConfigReloaded)
}

// Panel handles the panel subcommands: no argument lists them, then show,
// hide and reset [target].
func (g *Gateway) Panel(subject *session.Player, args []string) Reply {
	if !subject.Has(session.PermUse) {
		return g.deny(subject)
	}
	if len(args) == 0 {
		return g.help(subject)
	}

	switch strings.ToLower(args[0]) {
	case "show":
		if !g.opts.Panel.Available() {
			return g.reply(subject, ErrUnavailable, i18n.InfoPanelNotLoaded)
		}
		if err := g.opts.Panel.Show(subject.ID); err != nil {
			return g.reply(subject, ErrUnavailable, i18n.InfoPanelNotLoaded)
		}
		return g.reply(subject, nil, i18n.PanelShown)
	case "hide":
		if !g.opts.Panel.Available() {
			return g.reply(subject, ErrUnavailable, i18n.InfoPanelNotLoaded)
		}
		if err := g.opts.Panel.Hide(subject.ID); err != nil {
			return g.reply(subject, ErrUnavailable, i18n.InfoPanelNotLoaded)
		}
		return g.reply(subject, nil, i18n.PanelHidden)
	case "reset":
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		return g.Reset(subject, target)
	default:
		return g.reply(subject, ErrUnknownCommand, i18n.UnknownCommand)
	}
}

func (g *Gateway) help(subject *session.Player) Reply {
	locale := g.locale(subject)
	keys := []string{i18n.AvailableCommands, i18n.CmdDeaths, i18n.CmdDeathsTop, i18n.CmdPanelShow, i18n.CmdPanelHide, i18n.CmdPanelResetSelf}
	if subject.Elevated() {
		keys = append(keys, i18n.CmdPanelReset)
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, g.opts.Text.Text(locale, k))
	}
	return Reply{Lines: lines}
}

func (g *Gateway) resetOne(id ledger.EntityID) {
	g.opts.Ledger.Reset(id)
	g.opts.Panel.PushUpdate(id)
	g.persist()
}

func (g *Gateway) persist() {
	if g.opts.Persist != nil {
		g.opts.Persist()
	}
}

func (g *Gateway) deny(subject *session.Player) Reply {
	log.Debugf("subject %d lacks permission", subject.ID)
	return g.reply(subject, ErrNoPermission, i18n.NoPermission)
}

func (g *Gateway) reply(subject *session.Player, err error, key string, args ...any) Reply {
	return Reply{
		Lines: []string{g.opts.Text.Text(g.locale(subject), key, args...)},
		Err:   err,
	}
}

func (g *Gateway) locale(subject *session.Player) string {
	if subject.Locale != "" {
		return subject.Locale
	}
	return g.opts.Config().Locale
}
