// Package rules holds the per-role budget table that bounds what a team may
// spend and how many players of each role it may buy.
package rules

import (
	"errors"
	"fmt"

	"github.com/atmx/auction-engine/internal/model"
)

var (
	// ErrMissingRole is returned when the table has no row for a role.
	ErrMissingRole = errors.New("rules: missing budget rule for role")

	// ErrSpendRange is returned when a rule's MinSpend exceeds its MaxSpend.
	ErrSpendRange = errors.New("rules: min spend exceeds max spend")

	// ErrPlayerRange is returned when a rule's MinPlayers exceeds its MaxPlayers.
	ErrPlayerRange = errors.New("rules: min players exceeds max players")

	// ErrFloorPrice is returned when the floor price is not positive, which
	// would switch off the minimum-squad reserve.
	ErrFloorPrice = errors.New("rules: floor price must be positive")

	// ErrInfeasible is returned when no team could ever satisfy the minimum
	// squad with the configured tokens and squad size.
	ErrInfeasible = errors.New("rules: minimum squad is unreachable")
)

// DefaultFloorPrice is the per-player reserve assumed when checking whether
// a team can still complete its minimum squad.
const DefaultFloorPrice = 20

// Table maps each role to its budget rule.
type Table struct {
	Rules      map[model.Role]model.BudgetRule
	FloorPrice int
}

// Default returns the canonical budget table.
func Default() *Table {
	return &Table{
		Rules: map[model.Role]model.BudgetRule{
			model.Batsman:      {MinSpend: 300, MaxSpend: 400, MinPlayers: 4, MaxPlayers: 5},
			model.Bowler:       {MinSpend: 300, MaxSpend: 400, MinPlayers: 4, MaxPlayers: 5},
			model.AllRounder:   {MinSpend: 150, MaxSpend: 200, MinPlayers: 3, MaxPlayers: 4},
			model.WicketKeeper: {MinSpend: 100, MaxSpend: 150, MinPlayers: 2, MaxPlayers: 3},
		},
		FloorPrice: DefaultFloorPrice,
	}
}

// Rule returns the rule for role.
func (t *Table) Rule(role model.Role) (model.BudgetRule, bool) {
	r, ok := t.Rules[role]
	return r, ok
}

// Validate checks the table is internally consistent and that a team with
// maxTokens and maxSquadSize can reach every role's minimum headcount.
func (t *Table) Validate(maxTokens, maxSquadSize int) error {
	if t.FloorPrice <= 0 {
		return fmt.Errorf("%w: %d", ErrFloorPrice, t.FloorPrice)
	}
	minSquad := 0
	for _, role := range model.Roles {
		r, ok := t.Rules[role]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingRole, role)
		}
		if r.MinSpend > r.MaxSpend {
			return fmt.Errorf("%w: %s (%d > %d)", ErrSpendRange, role, r.MinSpend, r.MaxSpend)
		}
		if r.MinPlayers > r.MaxPlayers {
			return fmt.Errorf("%w: %s (%d > %d)", ErrPlayerRange, role, r.MinPlayers, r.MaxPlayers)
		}
		minSquad += r.MinPlayers
	}
	if minSquad > maxSquadSize {
		return fmt.Errorf("%w: %d required players exceed squad size %d", ErrInfeasible, minSquad, maxSquadSize)
	}
	if minSquad*t.FloorPrice > maxTokens {
		return fmt.Errorf("%w: %d players at floor %d exceed %d tokens",
			ErrInfeasible, minSquad, t.FloorPrice, maxTokens)
	}
	return nil
}

// InitTeam resets team to a fresh ledger: full tokens, empty squad, zero
// counts and every category budget at its MaxSpend.
func (t *Table) InitTeam(team *model.Team, maxTokens, maxSquadSize int) {
	team.MaxTokens = maxTokens
	team.MaxSquadSize = maxSquadSize
	team.TokensLeft = maxTokens
	team.Squad = []*model.Player{}
	team.RoleCount = make(map[model.Role]int, len(model.Roles))
	team.CategoryBudgets = make(map[model.Role]model.CategoryBudget, len(model.Roles))
	for _, role := range model.Roles {
		team.RoleCount[role] = 0
		team.CategoryBudgets[role] = model.CategoryBudget{Remaining: t.Rules[role].MaxSpend}
	}
}

// MinSquadReserve returns the tokens a team must keep to buy the players it
// still needs, given hypothetical per-role counts.
func (t *Table) MinSquadReserve(counts map[model.Role]int) int {
	reserve := 0
	for _, role := range model.Roles {
		need := t.Rules[role].MinPlayers - counts[role]
		if need > 0 {
			reserve += need * t.FloorPrice
		}
	}
	return reserve
}
