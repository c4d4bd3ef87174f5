// Package mock simulates a game server: a handful of players connect,
// die at pattern-dependent rates and occasionally drop out.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/session"
)

var log = logging.Logger("deathcounter/mock")

// TickInterval is the simulated game tick.
const TickInterval = 2 * time.Second

// Host receives the simulated hooks.
type Host interface {
	SessionConnected(p *session.Player)
	SessionDisconnected(id ledger.EntityID)
	EntityDied(id ledger.EntityID) uint64
}

// Runner executes fn on the host's dispatcher.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type mockPlayer struct {
	player  *session.Player
	pattern string
	// every is the death period for the steady pattern.
	every int
	// chance is the per-tick death probability for random patterns.
	chance float64
	// flaky players leave at offlineAt and return at onlineAt, mod cycle.
	offlineAt, onlineAt, cycle int
	online                     bool
}

type Generator struct {
	host    Host
	runner  Runner
	clk     clock.Clock
	rng     *rand.Rand
	players []*mockPlayer
	tick    int
}

// NewGenerator creates a Generator. A nil clk uses the wall clock; seed 0
// picks a time-based seed.
func NewGenerator(host Host, runner Runner, clk clock.Clock, seed int64) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	use := []string{session.PermUse}
	return &Generator{
		host:   host,
		runner: runner,
		clk:    clk,
		rng:    rand.New(rand.NewSource(seed)),
		players: []*mockPlayer{
			{
				player:  &session.Player{ID: 76561198000000101, Name: "Gopher", Permissions: use},
				pattern: "steady", every: 5,
			},
			{
				player:  &session.Player{ID: 76561198000000102, Name: "Reckless Rex", Locale: "de", Permissions: use},
				pattern: "reckless", chance: 0.35,
			},
			{
				player:  &session.Player{ID: 76561198000000103, Name: "Careful Carl", Permissions: use},
				pattern: "careful", chance: 0.03,
			},
			{
				player:  &session.Player{ID: 76561198000000104, Name: "Flaky Fran", Permissions: use},
				pattern: "flaky", chance: 0.15, offlineAt: 20, onlineAt: 30, cycle: 40,
			},
			{
				player:  &session.Player{ID: 76561198000000105, Name: "Admin Ada", Admin: true, Permissions: []string{session.PermUse, session.PermAdmin}},
				pattern: "careful", chance: 0.05,
			},
			{
				player:  &session.Player{ID: 76561198000000106, Name: "Spectator Sam"},
				pattern: "careful", chance: 0.02,
			},
		},
	}
}

// Start connects every mock player and ticks until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) error {
	err := g.runner.Do(ctx, func() {
		for _, mp := range g.players {
			g.connect(mp)
		}
	})
	if err != nil {
		return err
	}
	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := g.clk.Ticker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick++
			tick := g.tick
			if err := g.runner.Do(ctx, func() { g.Step(tick) }); err != nil {
				return
			}
		}
	}
}

// Step advances every mock player by one tick. It must run on the host's
// dispatcher.
func (g *Generator) Step(tick int) {
	for _, mp := range g.players {
		if mp.pattern == "flaky" {
			g.advanceFlaky(mp, tick)
		}
		if !mp.online {
			continue
		}
		if g.dies(mp, tick) {
			n := g.host.EntityDied(mp.player.ID)
			log.Debugf("%s died (%d)", mp.player.Name, n)
		}
	}
}

func (g *Generator) dies(mp *mockPlayer, tick int) bool {
	switch mp.pattern {
	case "steady":
		return mp.every > 0 && tick%mp.every == 0
	default:
		return g.rng.Float64() < mp.chance
	}
}

func (g *Generator) advanceFlaky(mp *mockPlayer, tick int) {
	phase := tick % mp.cycle
	switch {
	case phase == mp.offlineAt && mp.online:
		mp.online = false
		g.host.SessionDisconnected(mp.player.ID)
		log.Debugf("%s disconnected", mp.player.Name)
	case phase == mp.onlineAt && !mp.online:
		g.connect(mp)
		log.Debugf("%s reconnected", mp.player.Name)
	}
}

func (g *Generator) connect(mp *mockPlayer) {
	mp.online = true
	g.host.SessionConnected(mp.player.Clone())
}
