package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/auction-engine/internal/model"
)

// undoFunc reverts an applied transition. Used when the store rejects it.
type undoFunc func()

// applySale binds p to team at price, appends a history entry and, for a
// live sale, advances the sequence. A late sale takes p out of the unsold
// pool instead of advancing. The bid must already have been validated.
func applySale(st *State, p *model.Player, team *model.Team, price int, late bool, now time.Time) (model.HistoryEntry, undoFunc, error) {
	if late {
		if p.Status != model.StatusUnsold {
			return model.HistoryEntry{}, nil, fmt.Errorf("%w: player %s is %s, not Unsold",
				ErrPreconditionViolation, p.ID, p.Status)
		}
	} else {
		if p.Status != model.StatusAvailable {
			return model.HistoryEntry{}, nil, fmt.Errorf("%w: player %s is %s, not Available",
				ErrPreconditionViolation, p.ID, p.Status)
		}
		if cur, ok := st.CurrentPlayer(); !ok || cur != p {
			return model.HistoryEntry{}, nil, fmt.Errorf("%w: player %s is not up for auction",
				ErrPreconditionViolation, p.ID)
		}
	}

	prevPlayer := *p
	prevTokens := team.TokensLeft
	prevSquad := team.Squad
	prevCount := team.RoleCount[p.Role]
	prevBudget := team.CategoryBudgets[p.Role]
	prevHistory := st.History
	prevUnsold := st.Unsold
	prevIndex := st.CurrentIndex

	p.Status = model.StatusSold
	p.SoldTo = team.ID
	p.SoldPrice = price

	team.TokensLeft -= price
	budget := team.CategoryBudgets[p.Role]
	budget.Spent += price
	budget.Remaining -= price
	team.CategoryBudgets[p.Role] = budget
	team.RoleCount[p.Role]++
	team.Squad = append(team.Squad[:len(team.Squad):len(team.Squad)], p)

	entry := model.HistoryEntry{
		ID:                     uuid.New().String(),
		PlayerID:               p.ID,
		PlayerName:             p.Name,
		Role:                   p.Role,
		BasePrice:              p.BaseTokens,
		SoldPrice:              price,
		TeamID:                 team.ID,
		TeamName:               team.Name,
		TokensLeftAfter:        team.TokensLeft,
		SquadSizeAfter:         len(team.Squad),
		CategoryRemainingAfter: budget.Remaining,
		Late:                   late,
		At:                     now,
	}
	st.History = append(st.History[:len(st.History):len(st.History)], entry)

	if late {
		st.removeUnsold(p)
	} else {
		st.CurrentIndex++
	}

	undo := func() {
		*p = prevPlayer
		team.TokensLeft = prevTokens
		team.Squad = prevSquad
		team.RoleCount[p.Role] = prevCount
		team.CategoryBudgets[p.Role] = prevBudget
		st.History = prevHistory
		st.Unsold = prevUnsold
		st.CurrentIndex = prevIndex
	}
	return entry, undo, nil
}

// applyUnsold marks the current player unsold, adds it to the unsold pool
// and advances. Team ledgers are untouched.
func applyUnsold(st *State, p *model.Player) (undoFunc, error) {
	if p.Status != model.StatusAvailable {
		return nil, fmt.Errorf("%w: player %s is %s, not Available",
			ErrPreconditionViolation, p.ID, p.Status)
	}
	if cur, ok := st.CurrentPlayer(); !ok || cur != p {
		return nil, fmt.Errorf("%w: player %s is not up for auction", ErrPreconditionViolation, p.ID)
	}

	prevPlayer := *p
	prevUnsold := st.Unsold
	prevIndex := st.CurrentIndex

	p.Status = model.StatusUnsold
	p.SoldTo = ""
	p.SoldPrice = 0
	st.Unsold = append(st.Unsold[:len(st.Unsold):len(st.Unsold)], p)
	st.CurrentIndex++

	return func() {
		*p = prevPlayer
		st.Unsold = prevUnsold
		st.CurrentIndex = prevIndex
	}, nil
}
