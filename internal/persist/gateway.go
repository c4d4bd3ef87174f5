// Package persist mirrors the ledger and the sync config to durable storage.
//
// Every operation is best-effort and self-healing: unreadable data is
// replaced by an empty ledger or a default config, a warning is logged, and
// the caller gets a Result instead of an error it would have to handle.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/metrics"
)

var log = logging.Logger("deathcounter/persist")

// Result is the outcome of a persistence operation. Err is informational;
// the in-memory state is authoritative whatever it says.
type Result struct {
	Op string
	// Healed is set when missing or corrupt data was replaced by defaults.
	Healed bool
	// Fixes lists config fields that were defaulted or clamped on load.
	Fixes []string
	Err   error
}

func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s failed: %v", r.Op, r.Err)
	case r.Healed:
		return r.Op + " healed"
	default:
		return r.Op + " ok"
	}
}

// Gateway reads and writes the ledger through a Backend and the sync config
// through a YAML file.
type Gateway struct {
	backend    Backend
	configPath string
}

func NewGateway(backend Backend, configPath string) *Gateway {
	return &Gateway{backend: backend, configPath: configPath}
}

// ConfigPath returns the config file location.
func (g *Gateway) ConfigPath() string {
	return g.configPath
}

// LoadLedger returns the stored counts. Missing or corrupt data yields an
// empty ledger, which is written back immediately.
func (g *Gateway) LoadLedger() (map[ledger.EntityID]uint64, Result) {
	res := Result{Op: "load ledger"}

	data, err := g.backend.Read()
	if err == nil {
		counts, decodeErr := decodeLedger(data)
		if decodeErr == nil {
			return counts, res
		}
		err = decodeErr
	}

	if errors.Is(err, ErrNotFound) {
		log.Warnf("no ledger at %s, starting empty", g.backend.Location())
	} else {
		log.Warnf("ledger at %s unreadable, starting empty: %v", g.backend.Location(), err)
	}

	res.Healed = true
	empty := make(map[ledger.EntityID]uint64)
	if wr := g.SaveLedger(empty); !wr.OK() {
		res.Err = wr.Err
	}
	return empty, res
}

// SaveLedger writes counts atomically. Failures are logged and returned.
func (g *Gateway) SaveLedger(counts map[ledger.EntityID]uint64) Result {
	res := Result{Op: "save ledger"}

	data, err := encodeLedger(counts)
	if err == nil {
		err = g.backend.Write(data)
	}
	if err != nil {
		log.Errorf("saving ledger to %s: %v", g.backend.Location(), err)
		metrics.Saves.WithLabelValues("error").Inc()
		res.Err = err
		return res
	}
	metrics.Saves.WithLabelValues("ok").Inc()
	return res
}

// LoadConfig reads and validates the config file. A missing or invalid
// file yields the defaults; missing or corrected fields are filled in. In
// both cases the file is rewritten.
func (g *Gateway) LoadConfig() (*config.SyncConfig, Result) {
	res := Result{Op: "load config"}

	data, err := os.ReadFile(g.configPath)
	var cfg *config.SyncConfig
	if err == nil {
		cfg, res.Fixes, err = config.Parse(data)
	}
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("no config at %s, writing defaults", g.configPath)
		} else {
			log.Warnf("config at %s unusable, writing defaults: %v", g.configPath, err)
		}
		cfg = config.Default()
		res.Healed = true
	}
	for _, fix := range res.Fixes {
		log.Warnf("config: %s", fix)
	}

	if res.Healed || len(res.Fixes) > 0 {
		if wr := g.SaveConfig(cfg); !wr.OK() {
			res.Err = wr.Err
		}
	}
	return cfg, res
}

// SaveConfig writes cfg to the config file atomically.
func (g *Gateway) SaveConfig(cfg *config.SyncConfig) Result {
	res := Result{Op: "save config"}

	data, err := config.Encode(cfg)
	if err == nil {
		err = writeFileAtomic(g.configPath, data)
	}
	if err != nil {
		log.Errorf("saving config to %s: %v", g.configPath, err)
		res.Err = err
	}
	return res
}

func encodeLedger(counts map[ledger.EntityID]uint64) ([]byte, error) {
	if counts == nil {
		counts = map[ledger.EntityID]uint64{}
	}
	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling ledger: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeLedger(data []byte) (map[ledger.EntityID]uint64, error) {
	var counts map[ledger.EntityID]uint64
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	if counts == nil {
		counts = make(map[ledger.EntityID]uint64)
	}
	return counts, nil
}
