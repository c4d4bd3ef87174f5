package session

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/deathcounter/backend/internal/ledger"
)

// Store is the directory of connected players.
type Store struct {
	mu      sync.RWMutex
	players map[ledger.EntityID]*Player
	nextSeq int
}

func NewStore() *Store {
	return &Store{
		players: make(map[ledger.EntityID]*Player),
	}
}

func (s *Store) Get(id ledger.EntityID) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// GetAll returns copies of every connected player in connection order.
func (s *Store) GetAll() []*Player {
	s.mu.RLock()
	result := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		result = append(result, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

// Update stores a copy of p. A reconnecting or updated player keeps its
// original connection order.
func (s *Store) Update(p *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p.Clone()
	if existing, ok := s.players[p.ID]; ok {
		cp.Seq = existing.Seq
		if cp.ConnectedAt.IsZero() {
			cp.ConnectedAt = existing.ConnectedAt
		}
	} else {
		cp.Seq = s.nextSeq
		s.nextSeq++
	}
	s.players[p.ID] = cp
}

func (s *Store) Remove(id ledger.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, id)
}

// Count returns the number of connected players.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Name returns the display name of a connected player.
func (s *Store) Name(id ledger.EntityID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return "", false
	}
	return p.Name, true
}

// Find resolves query to a connected player: an exact id, then an exact
// name (case-insensitive), then a unique partial name match.
func (s *Store) Find(query string) (*Player, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, err := strconv.ParseUint(query, 10, 64); err == nil {
		if p, ok := s.players[ledger.EntityID(id)]; ok {
			return p.Clone(), true
		}
	}

	lower := strings.ToLower(query)
	var partial []*Player
	for _, p := range s.players {
		name := strings.ToLower(p.Name)
		if name == lower {
			return p.Clone(), true
		}
		if strings.Contains(name, lower) {
			partial = append(partial, p)
		}
	}
	if len(partial) == 1 {
		return partial[0].Clone(), true
	}
	return nil, false
}
