package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	players      []model.Player
	teams        []model.Team
	history      []model.HistoryEntry
	currentIndex int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &model.Snapshot{
		Players:      make([]model.Player, len(s.players)),
		Teams:        make([]model.Team, len(s.teams)),
		History:      make([]model.HistoryEntry, len(s.history)),
		CurrentIndex: s.currentIndex,
	}
	copy(snap.Players, s.players)
	copy(snap.History, s.history)
	for i := range s.teams {
		snap.Teams[i] = *s.teams[i].Clone()
	}
	return snap, nil
}

func (s *MemoryStore) RecordSale(_ context.Context, rec *model.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pi := s.playerIndex(rec.Player.ID)
	if pi < 0 {
		return fmt.Errorf("player %s: %w", rec.Player.ID, ErrNotFound)
	}
	ti := s.teamIndex(rec.Team.ID)
	if ti < 0 {
		return fmt.Errorf("team %s: %w", rec.Team.ID, ErrNotFound)
	}
	if s.players[pi].Status == model.StatusSold {
		return fmt.Errorf("player %s already sold: %w", rec.Player.ID, ErrConflict)
	}
	if s.teams[ti].TokensLeft-rec.Player.SoldPrice != rec.Team.TokensLeft {
		return fmt.Errorf("team %s: %w", rec.Team.ID, ErrConflict)
	}

	s.players[pi] = rec.Player
	team := rec.Team.Clone()
	team.Squad = nil
	s.teams[ti] = *team
	s.history = append(s.history, rec.Entry)
	s.currentIndex = rec.NextIndex
	return nil
}

func (s *MemoryStore) RecordUnsold(_ context.Context, playerID string, nextIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pi := s.playerIndex(playerID)
	if pi < 0 {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	s.players[pi].Status = model.StatusUnsold
	s.players[pi].SoldTo = ""
	s.players[pi].SoldPrice = 0
	s.currentIndex = nextIndex
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, teams []model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve every team before touching anything.
	idx := make([]int, len(teams))
	for i, t := range teams {
		ti := s.teamIndex(t.ID)
		if ti < 0 {
			return fmt.Errorf("team %s: %w", t.ID, ErrNotFound)
		}
		idx[i] = ti
	}

	for i := range s.players {
		s.players[i].Status = model.StatusAvailable
		s.players[i].SoldTo = ""
		s.players[i].SoldPrice = 0
	}
	for i, t := range teams {
		team := t.Clone()
		team.Squad = nil
		s.teams[idx[i]] = *team
	}
	s.history = nil
	s.currentIndex = 0
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.players = nil
	s.teams = nil
	s.history = nil
	s.currentIndex = 0
	return nil
}

func (s *MemoryStore) Import(_ context.Context, players []model.Player, teams []model.Team, mode ImportMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ImportReplace {
		s.players = nil
		s.teams = nil
		s.history = nil
		s.currentIndex = 0
	}

	for _, t := range teams {
		team := t.Clone()
		team.Squad = nil
		if ti := s.teamIndex(t.ID); ti >= 0 {
			// Keep the existing ledger; only descriptive fields change.
			s.teams[ti].Name = t.Name
			s.teams[ti].Logo = t.Logo
			continue
		}
		s.teams = append(s.teams, *team)
	}

	for _, p := range players {
		if pi := s.playerIndex(p.ID); pi >= 0 {
			existing := &s.players[pi]
			existing.Name = p.Name
			if existing.Status == model.StatusAvailable {
				existing.Role = p.Role
				existing.BaseTokens = p.BaseTokens
			}
			continue
		}
		s.players = append(s.players, p)
	}
	return nil
}

// playerIndex and teamIndex must be called with mu held.
func (s *MemoryStore) playerIndex(id string) int {
	for i := range s.players {
		if s.players[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) teamIndex(id string) int {
	for i := range s.teams {
		if s.teams[i].ID == id {
			return i
		}
	}
	return -1
}
