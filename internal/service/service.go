// Package service wires the ledger, persistence, display and command
// components into the host-facing lifecycle.
//
// Every method must run on the dispatcher: hooks, commands and timer
// callbacks never interleave.
package service

import (
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/command"
	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/dispatch"
	"github.com/deathcounter/backend/internal/display"
	"github.com/deathcounter/backend/internal/i18n"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/metrics"
	"github.com/deathcounter/backend/internal/persist"
	"github.com/deathcounter/backend/internal/session"
)

var log = logging.Logger("deathcounter/service")

// Version is reported by the status command.
const Version = "1.1.0"

// SaveDelay is how long after a death its ledger save runs.
const SaveDelay = time.Second

// Options wires a Service. Provider may be nil when no display provider
// exists; Now defaults to time.Now.
type Options struct {
	Dispatcher dispatch.Dispatcher
	Store      *persist.Gateway
	Provider   display.Provider
	Now        func() time.Time
}

// Service is the death counter as seen by the host.
type Service struct {
	dispatcher dispatch.Dispatcher
	store      *persist.Gateway
	now        func() time.Time

	ledger   *ledger.Ledger
	sessions *session.Store
	text     *i18n.Localizer
	display  *display.Manager
	commands *command.Gateway

	cfg    atomic.Pointer[config.SyncConfig]
	saves  map[dispatch.Handle]struct{}
	closed bool
}

func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		now:        now,
		ledger:     ledger.New(),
		sessions:   session.NewStore(),
		text:       i18n.New(),
		saves:      make(map[dispatch.Handle]struct{}),
	}
	s.cfg.Store(config.Default())

	s.display = display.New(display.Options{
		Provider:   opts.Provider,
		Dispatcher: opts.Dispatcher,
		Ledger:     s.ledger,
		Sessions:   s.sessions,
		Text:       s.text,
		Config:     s.Config,
	})
	s.commands = command.New(command.Options{
		Ledger:   s.ledger,
		Sessions: s.sessions,
		Panel:    s.display,
		Text:     s.text,
		Config:   s.Config,
		Version:  Version,
		Persist:  s.scheduleSave,
		Reload:   s.Reload,
		Process:  processStats,
	})
	return s
}

// Config returns the current config snapshot. Safe for concurrent use.
func (s *Service) Config() *config.SyncConfig {
	return s.cfg.Load()
}

// Init loads the config and the ledger.
func (s *Service) Init() {
	cfg, res := s.store.LoadConfig()
	s.setConfig(cfg)
	if !res.OK() {
		log.Warnf("%s", res)
	}

	counts, res := s.store.LoadLedger()
	if !res.OK() {
		log.Warnf("%s", res)
	}
	s.ledger.Replace(counts)
	metrics.TrackedEntities.Set(float64(s.ledger.Len()))
	log.Infof("loaded deaths for %d players", s.ledger.Len())
}

// Loaded runs once the host has finished starting. A provider that is
// already present is registered now.
func (s *Service) Loaded() {
	if !s.display.Available() {
		log.Warn("display provider not found, panels stay hidden until it loads")
		return
	}
	s.display.ProviderLoaded()
}

// Unload cancels every pending timer, hides all panels and saves the
// ledger synchronously. Later hooks schedule nothing.
func (s *Service) Unload() {
	s.closed = true
	for h := range s.saves {
		s.dispatcher.Cancel(h)
	}
	s.saves = make(map[dispatch.Handle]struct{})
	s.display.Teardown()
	s.save()
	log.Info("unloaded")
}

// ServerSaved saves the ledger immediately.
func (s *Service) ServerSaved() {
	s.save()
}

// EntityDied records a death, pushes the new count and schedules a save.
func (s *Service) EntityDied(id ledger.EntityID) uint64 {
	n := s.ledger.Increment(id)
	metrics.Deaths.Inc()
	metrics.TrackedEntities.Set(float64(s.ledger.Len()))
	log.Debugf("entity %d died, %d deaths", id, n)

	s.display.PushUpdate(id)
	s.scheduleSave()
	return n
}

// SessionConnected adds p to the session directory and starts its panel
// handshake.
func (s *Service) SessionConnected(p *session.Player) {
	if p.IsConsole() {
		return
	}
	if p.ConnectedAt.IsZero() {
		p = p.Clone()
		p.ConnectedAt = s.now()
	}
	s.sessions.Update(p)
	s.display.SessionConnected(p)
}

func (s *Service) SessionDisconnected(id ledger.EntityID) {
	s.display.SessionDisconnected(id)
	s.sessions.Remove(id)
}

func (s *Service) ProviderLoaded() bool {
	if s.closed {
		log.Debug("provider loaded after unload, ignored")
		return false
	}
	return s.display.ProviderLoaded()
}

func (s *Service) ProviderUnloaded() {
	s.display.ProviderUnloaded()
}

// Command runs a command for subject. Unknown subjects other than the
// console hold no capabilities.
func (s *Service) Command(subject ledger.EntityID, name string, args []string) command.Reply {
	var p *session.Player
	switch {
	case subject == session.ConsoleID:
		p = session.Console()
	default:
		var ok bool
		if p, ok = s.sessions.Get(subject); !ok {
			p = &session.Player{ID: subject}
		}
	}
	return s.commands.Execute(p, name, args)
}

// Reload re-reads the config file, swaps the snapshot and restarts the
// periodic push with the new interval.
func (s *Service) Reload() ([]string, error) {
	cfg, res := s.store.LoadConfig()
	s.setConfig(cfg)
	if !s.closed {
		s.display.StartTimer()
	}
	log.Infof("config reloaded, interval %s", cfg.Interval())

	fixes := res.Fixes
	if res.Healed {
		fixes = append(fixes, "config file unusable, defaults written")
	}
	return fixes, res.Err
}

// Deaths returns id's count.
func (s *Service) Deaths(id ledger.EntityID) uint64 {
	return s.ledger.Get(id)
}

// Top returns the n highest counts.
func (s *Service) Top(n int) []ledger.Entry {
	return s.ledger.TopN(n)
}

// Players returns the connected sessions.
func (s *Service) Players() []*session.Player {
	return s.sessions.GetAll()
}

// Player returns a connected session.
func (s *Service) Player(id ledger.EntityID) (*session.Player, bool) {
	return s.sessions.Get(id)
}

// Panel returns id's panel state.
func (s *Service) Panel(id ledger.EntityID) (display.SurfaceState, bool) {
	return s.display.State(id)
}

// PendingSaves returns how many death saves are scheduled.
func (s *Service) PendingSaves() int {
	return len(s.saves)
}

func (s *Service) scheduleSave() {
	if s.closed {
		return
	}
	var h dispatch.Handle
	h = s.dispatcher.ScheduleOnce(SaveDelay, func() {
		delete(s.saves, h)
		s.save()
	})
	s.saves[h] = struct{}{}
}

func (s *Service) save() {
	res := s.store.SaveLedger(s.ledger.Snapshot())
	if res.OK() {
		log.Debugf("saved deaths for %d players", s.ledger.Len())
	}
}

func (s *Service) setConfig(cfg *config.SyncConfig) {
	s.cfg.Store(cfg)
	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	if err := logging.SetLogLevelRegex("deathcounter/.*", level); err != nil {
		log.Warnf("setting log level: %v", err)
	}
}
