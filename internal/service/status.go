package service

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"
)

// Status is a read-only summary for the status endpoint.
type Status struct {
	Version           string `json:"version"`
	ProviderAvailable bool   `json:"providerAvailable"`
	SurfaceRegistered bool   `json:"surfaceRegistered"`
	TrackedEntities   int    `json:"trackedEntities"`
	TotalDeaths       uint64 `json:"totalDeaths"`
	ActiveSessions    int    `json:"activeSessions"`
	VisibleSessions   int    `json:"visibleSessions"`
	UpdateInterval    int    `json:"updateInterval"`
	Debug             bool   `json:"debug"`
	PendingSaves      int    `json:"pendingSaves"`
}

func (s *Service) Status() Status {
	cfg := s.Config()
	return Status{
		Version:           Version,
		ProviderAvailable: s.display.Available(),
		SurfaceRegistered: s.display.Registered(),
		TrackedEntities:   s.ledger.Len(),
		TotalDeaths:       s.ledger.Total(),
		ActiveSessions:    s.sessions.Count(),
		VisibleSessions:   s.display.VisibleCount(),
		UpdateInterval:    cfg.UpdateInterval,
		Debug:             cfg.Debug,
		PendingSaves:      len(s.saves),
	}
}

// processStats reports this process's resident memory and uptime. Empty
// strings mean the numbers are unavailable.
func processStats() (rss, uptime string) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "", ""
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return "", ""
	}
	created, err := p.CreateTime()
	if err != nil {
		return humanize.IBytes(mem.RSS), "?"
	}
	up := time.Since(time.UnixMilli(created)).Truncate(time.Second)
	return humanize.IBytes(mem.RSS), up.String()
}
