package bid

import (
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
)

// newTeam returns a fresh ledger under the default table.
func newTeam(t *testing.T) *model.Team {
	t.Helper()
	team := &model.Team{ID: "t1", Name: "Strikers"}
	rules.Default().InitTeam(team, 1000, 15)
	return team
}

func fillSquad(team *model.Team, n int) {
	for i := 0; i < n; i++ {
		team.Squad = append(team.Squad, &model.Player{ID: "filler"})
	}
}

func TestValidate_Accepted(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)

	verdict := v.Validate(team, Request{TeamID: "t1", Role: model.Batsman, Price: 150})

	check.True(t, verdict.Accepted)
	check.Equal(t, 0, len(verdict.Violations))
	check.Equal(t, "accepted", verdict.String())
	// Pure: nothing changed.
	check.Equal(t, 1000, team.TokensLeft)
	check.Equal(t, 0, team.RoleCount[model.Batsman])
}

func TestValidate_InsufficientCategoryBudget(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	team.CategoryBudgets[model.Batsman] = model.CategoryBudget{Spent: 300, Remaining: 100}

	verdict := v.Validate(team, Request{Role: model.Batsman, Price: 150})

	check.False(t, verdict.Accepted)
	check.Equal(t, 1, len(verdict.Violations))
	check.True(t, verdict.Has(CodeInsufficientCategory))
	check.False(t, verdict.Has(CodeInsufficientTokens))
}

func TestValidate_RoleQuotaFull(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	team.RoleCount[model.Batsman] = 5

	// Cheap bid with plenty of funds is still blocked.
	verdict := v.Validate(team, Request{Role: model.Batsman, Price: 20})

	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(CodeRoleQuotaFull))
}

func TestValidate_SquadFull(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	fillSquad(team, 15)

	verdict := v.Validate(team, Request{Role: model.Bowler, Price: 20})

	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(CodeSquadFull))
}

func TestValidate_MinSquadUnreachable(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	team.TokensLeft = 50
	team.RoleCount[model.Batsman] = 4
	team.RoleCount[model.Bowler] = 2
	team.RoleCount[model.AllRounder] = 2
	team.RoleCount[model.WicketKeeper] = 2

	// Leaves 10 tokens but two bowlers at 20 each are still needed.
	verdict := v.Validate(team, Request{Role: model.AllRounder, Price: 40})

	check.False(t, verdict.Accepted)
	check.Equal(t, 1, len(verdict.Violations))
	check.True(t, verdict.Has(CodeMinSquadUnreachable))
}

func TestValidate_BidCountsTowardOwnRole(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	team.TokensLeft = 60
	team.RoleCount[model.Batsman] = 4
	team.RoleCount[model.Bowler] = 3
	team.RoleCount[model.AllRounder] = 3
	team.RoleCount[model.WicketKeeper] = 2

	// Buying the last required bowler for 60 leaves nothing, and nothing is needed.
	verdict := v.Validate(team, Request{Role: model.Bowler, Price: 60})

	check.True(t, verdict.Accepted)
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)
	team.TokensLeft = 100
	team.CategoryBudgets[model.WicketKeeper] = model.CategoryBudget{Spent: 100, Remaining: 50}
	team.RoleCount[model.WicketKeeper] = 3
	fillSquad(team, 15)

	verdict := v.Validate(team, Request{Role: model.WicketKeeper, Price: 120, BaseTokens: 130})

	check.False(t, verdict.Accepted)
	for _, code := range []string{
		CodeBelowBasePrice,
		CodeInsufficientTokens,
		CodeInsufficientCategory,
		CodeRoleQuotaFull,
		CodeSquadFull,
		CodeMinSquadUnreachable,
	} {
		check.True(t, verdict.Has(code))
	}
	check.Equal(t, 6, len(verdict.Reasons()))
}

func TestValidate_InvalidPriceAndRole(t *testing.T) {
	v := NewValidator(rules.Default())
	team := newTeam(t)

	verdict := v.Validate(team, Request{Role: model.Batsman, Price: 0})
	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(CodeInvalidPrice))

	verdict = v.Validate(team, Request{Role: "Umpire", Price: 50})
	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(CodeUnknownRole))
}
