package auction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
)

var hundred = decimal.NewFromInt(100)

// View is a consistent, detached copy of the session state.
type View struct {
	Players      []model.Player `json:"players"`
	Teams        []*model.Team  `json:"teams"`
	CurrentIndex int            `json:"current_index"`
	Complete     bool           `json:"complete"`
	Current      *model.Player  `json:"current,omitempty"`
	Phase        *Phase         `json:"phase,omitempty"`
	Progress     Progress       `json:"progress"`
}

// Progress summarises how far the auction has got.
type Progress struct {
	Total      int             `json:"total"`
	Processed  int             `json:"processed"`
	Remaining  int             `json:"remaining"`
	Sold       int             `json:"sold"`
	Unsold     int             `json:"unsold"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CategoryStat aggregates sales for one role across all teams.
type CategoryStat struct {
	Role         model.Role      `json:"role"`
	Sold         int             `json:"sold"`
	TotalSpent   int             `json:"total_spent"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Highest      int             `json:"highest"`
}

// SquadLine is one bought player in a team summary.
type SquadLine struct {
	PlayerID   string     `json:"player_id"`
	Name       string     `json:"name"`
	Role       model.Role `json:"role"`
	BasePrice  int        `json:"base_price"`
	BoughtFor  int        `json:"bought_for"`
	Difference int        `json:"difference"` // bought - base
}

// TeamSummary is the end-of-auction view of a team.
type TeamSummary struct {
	TeamID          string                              `json:"team_id"`
	Name            string                              `json:"name"`
	TokensSpent     int                                 `json:"tokens_spent"`
	TokensRemaining int                                 `json:"tokens_remaining"`
	SquadSize       int                                 `json:"squad_size"`
	Players         []SquadLine                         `json:"players"`
	RoleBreakdown   map[model.Role]int                  `json:"role_breakdown"`
	CategoryBudgets map[model.Role]model.CategoryBudget `json:"category_budgets"`
	Issues          []string                            `json:"issues"`
}

// ProgressOf counts outcomes over players.
func ProgressOf(players []*model.Player) Progress {
	var pr Progress
	pr.Total = len(players)
	for _, p := range players {
		switch p.Status {
		case model.StatusSold:
			pr.Sold++
		case model.StatusUnsold:
			pr.Unsold++
		}
	}
	pr.Processed = pr.Sold + pr.Unsold
	pr.Remaining = pr.Total - pr.Processed
	pr.Percentage = decimal.Zero
	if pr.Total > 0 {
		pr.Percentage = decimal.NewFromInt(int64(pr.Processed)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(pr.Total))).
			Round(2)
	}
	return pr
}

// CategoryStatsOf aggregates squad purchases per role, in auction order.
func CategoryStatsOf(teams []*model.Team) []CategoryStat {
	byRole := make(map[model.Role]*CategoryStat, len(model.Roles))
	out := make([]CategoryStat, len(model.Roles))
	for i, r := range model.Roles {
		out[i] = CategoryStat{Role: r, AveragePrice: decimal.Zero}
		byRole[r] = &out[i]
	}
	for _, t := range teams {
		for _, p := range t.Squad {
			st, ok := byRole[p.Role]
			if !ok {
				continue
			}
			st.Sold++
			st.TotalSpent += p.SoldPrice
			if p.SoldPrice > st.Highest {
				st.Highest = p.SoldPrice
			}
		}
	}
	for i := range out {
		if out[i].Sold > 0 {
			out[i].AveragePrice = decimal.NewFromInt(int64(out[i].TotalSpent)).
				Div(decimal.NewFromInt(int64(out[i].Sold))).
				Round(2)
		}
	}
	return out
}

// CompositionIssues lists the ways team falls short of a legal squad.
func CompositionIssues(team *model.Team, table *rules.Table) []string {
	issues := []string{}
	if len(team.Squad) > team.MaxSquadSize {
		issues = append(issues, fmt.Sprintf("squad exceeds maximum size (%d/%d)", len(team.Squad), team.MaxSquadSize))
	}
	for _, role := range model.Roles {
		rule, ok := table.Rule(role)
		if !ok {
			continue
		}
		if n := team.RoleCount[role]; n < rule.MinPlayers {
			issues = append(issues, fmt.Sprintf("need at least %d %s (current: %d)", rule.MinPlayers, role, n))
		}
	}
	return issues
}

// Summarize builds the export view of team.
func Summarize(team *model.Team, table *rules.Table) TeamSummary {
	sum := TeamSummary{
		TeamID:          team.ID,
		Name:            team.Name,
		TokensSpent:     team.MaxTokens - team.TokensLeft,
		TokensRemaining: team.TokensLeft,
		SquadSize:       len(team.Squad),
		Players:         make([]SquadLine, 0, len(team.Squad)),
		RoleBreakdown:   make(map[model.Role]int, len(team.RoleCount)),
		CategoryBudgets: make(map[model.Role]model.CategoryBudget, len(team.CategoryBudgets)),
		Issues:          CompositionIssues(team, table),
	}
	for _, p := range team.Squad {
		sum.Players = append(sum.Players, SquadLine{
			PlayerID:   p.ID,
			Name:       p.Name,
			Role:       p.Role,
			BasePrice:  p.BaseTokens,
			BoughtFor:  p.SoldPrice,
			Difference: p.SoldPrice - p.BaseTokens,
		})
	}
	for r, n := range team.RoleCount {
		sum.RoleBreakdown[r] = n
	}
	for r, b := range team.CategoryBudgets {
		sum.CategoryBudgets[r] = b
	}
	return sum
}

// Snapshot returns a detached view of the whole auction.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Players:      make([]model.Player, len(s.state.Players)),
		Teams:        s.cloneTeams(),
		CurrentIndex: s.state.CurrentIndex,
		Complete:     s.state.IsComplete(),
		Phase:        s.state.Phase(),
		Progress:     ProgressOf(s.state.Players),
	}
	for i, p := range s.state.Players {
		v.Players[i] = *p
	}
	if cur, ok := s.state.CurrentPlayer(); ok {
		c := *cur
		v.Current = &c
	}
	return v
}

// CurrentPlayer returns a copy of the player under the hammer and the phase.
func (s *Session) CurrentPlayer() (*model.Player, *Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.state.CurrentPlayer()
	if !ok {
		return nil, nil, false
	}
	c := *cur
	return &c, s.state.Phase(), true
}

// IsComplete reports whether every player has been put up.
func (s *Session) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsComplete()
}

// Teams returns detached copies of every team ledger.
func (s *Session) Teams() []*model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneTeams()
}

// TeamSummary returns the summary of one team, by ID or name.
func (s *Session) TeamSummary(ref string) (TeamSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, err := s.team(ref)
	if err != nil {
		return TeamSummary{}, err
	}
	return Summarize(team, s.rules), nil
}

// History returns the sale log in commit order.
func (s *Session) History() []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.HistoryEntry{}, s.state.History...)
}

// Unsold returns copies of the players in the unsold pool.
func (s *Session) Unsold() []model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Player, len(s.state.Unsold))
	for i, p := range s.state.Unsold {
		out[i] = *p
	}
	return out
}

// Progress returns the auction progress counters.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ProgressOf(s.state.Players)
}

// CategoryStats returns per-role sale statistics.
func (s *Session) CategoryStats() []CategoryStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CategoryStatsOf(s.teams)
}

// Rules returns the budget table the session validates against.
func (s *Session) Rules() *rules.Table {
	return s.rules
}

func (s *Session) cloneTeams() []*model.Team {
	out := make([]*model.Team, len(s.teams))
	for i, t := range s.teams {
		out[i] = t.Clone()
	}
	return out
}
