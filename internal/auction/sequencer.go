// Package auction runs a live player auction: it orders the lots, tracks the
// current position, and commits sales and unsold outcomes to the team ledgers.
package auction

import (
	"sort"

	"github.com/atmx/auction-engine/internal/model"
)

// State is the sequencing state of one auction pass.
// CurrentIndex only moves forward, from 0 to len(Players).
type State struct {
	Players      []*model.Player
	CurrentIndex int
	History      []model.HistoryEntry
	Unsold       []*model.Player
}

// NewState creates a state over players, which must already be ordered.
func NewState(players []*model.Player) *State {
	return &State{Players: players}
}

// BuildOrder returns players sorted by role order, then by base tokens
// (highest first). Ties keep their input order. The input is not modified.
func BuildOrder(players []*model.Player) []*model.Player {
	out := make([]*model.Player, len(players))
	copy(out, players)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := roleRank(out[i].Role), roleRank(out[j].Role)
		if ri != rj {
			return ri < rj
		}
		return out[i].BaseTokens > out[j].BaseTokens
	})
	return out
}

// PhaseOf returns the 1-indexed position of role in the auction order,
// or 0 for an unknown role.
func PhaseOf(role model.Role) int {
	for i, r := range model.Roles {
		if r == role {
			return i + 1
		}
	}
	return 0
}

func roleRank(role model.Role) int {
	if p := PhaseOf(role); p > 0 {
		return p
	}
	return len(model.Roles) + 1
}

// CurrentPlayer returns the player under the hammer, or false once the
// auction is complete.
func (s *State) CurrentPlayer() (*model.Player, bool) {
	if s.IsComplete() {
		return nil, false
	}
	return s.Players[s.CurrentIndex], true
}

// Advance moves to the next player. Advancing a complete auction is a
// precondition violation.
func (s *State) Advance() error {
	if s.IsComplete() {
		return ErrAuctionComplete
	}
	s.CurrentIndex++
	return nil
}

// IsComplete reports whether every player has been put up.
func (s *State) IsComplete() bool {
	return s.CurrentIndex >= len(s.Players)
}

// Phase describes where the auction is within the role order.
type Phase struct {
	Role          model.Role `json:"role"`
	Phase         int        `json:"phase"`
	TotalPhases   int        `json:"total_phases"`
	CategoryDone  int        `json:"category_done"`
	CategoryTotal int        `json:"category_total"`
}

// Phase returns the current phase, or nil when the auction is complete.
func (s *State) Phase() *Phase {
	cur, ok := s.CurrentPlayer()
	if !ok {
		return nil
	}
	ph := &Phase{
		Role:        cur.Role,
		Phase:       PhaseOf(cur.Role),
		TotalPhases: len(model.Roles),
	}
	for i, p := range s.Players {
		if p.Role != cur.Role {
			continue
		}
		ph.CategoryTotal++
		if i < s.CurrentIndex {
			ph.CategoryDone++
		}
	}
	return ph
}

// removeUnsold drops p from the unsold pool, reporting whether it was there.
func (s *State) removeUnsold(p *model.Player) bool {
	for i, u := range s.Unsold {
		if u == p {
			s.Unsold = append(s.Unsold[:i:i], s.Unsold[i+1:]...)
			return true
		}
	}
	return false
}
