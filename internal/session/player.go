package session

import (
	"time"

	"github.com/deathcounter/backend/internal/ledger"
)

// Capabilities checked by commands and the display manager.
const (
	PermUse     = "deathcounter.use"
	PermAdmin   = "deathcounter.admin"
	PermViewAll = "deathcounter.viewall"
)

// ConsoleID is the subject id of the server console. The console holds
// every capability and has no panel.
const ConsoleID ledger.EntityID = 0

// Player is a connected session as reported by the host.
type Player struct {
	ID          ledger.EntityID `json:"id,string"`
	Name        string          `json:"name"`
	Locale      string          `json:"locale,omitempty"`
	Admin       bool            `json:"admin,omitempty"` // host-level admin flag
	Permissions []string        `json:"permissions,omitempty"`
	ConnectedAt time.Time       `json:"connectedAt"`
	Seq         int             `json:"seq"` // connection order, kept across updates
}

// Console returns the console subject.
func Console() *Player {
	return &Player{ID: ConsoleID, Name: "console"}
}

// IsConsole reports whether p is the server console.
func (p *Player) IsConsole() bool {
	return p.ID == ConsoleID
}

// Has reports whether p holds perm. The console holds everything.
func (p *Player) Has(perm string) bool {
	if p.IsConsole() {
		return true
	}
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// Elevated reports whether p may run operator commands.
func (p *Player) Elevated() bool {
	return p.IsConsole() || p.Admin || p.Has(PermAdmin)
}

// Clone returns a deep copy of the Player.
func (p *Player) Clone() *Player {
	c := *p
	if p.Permissions != nil {
		c.Permissions = append([]string(nil), p.Permissions...)
	}
	return &c
}
