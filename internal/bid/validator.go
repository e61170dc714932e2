// Package bid decides whether a proposed bid is admissible for a team.
//
// Validation is pure: it reads the team ledger and the budget table and
// returns a Verdict. Every rule is evaluated so the operator sees all the
// reasons a bid is blocked at once, not just the first.
package bid

import (
	"fmt"
	"strings"

	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
)

// Violation codes. Stable identifiers for clients and metrics labels.
const (
	CodeInvalidPrice         = "invalid_price"
	CodeBelowBasePrice       = "below_base_price"
	CodeUnknownRole          = "unknown_role"
	CodeInsufficientTokens   = "insufficient_tokens"
	CodeInsufficientCategory = "insufficient_category_budget"
	CodeRoleQuotaFull        = "role_quota_full"
	CodeSquadFull            = "squad_full"
	CodeMinSquadUnreachable  = "min_squad_unreachable"
)

// Request is a proposed bid. BaseTokens is the player's floor; zero skips
// the floor check.
type Request struct {
	TeamID     string     `json:"team_id"`
	Role       model.Role `json:"role"`
	Price      int        `json:"price"`
	BaseTokens int        `json:"base_tokens,omitempty"`
}

// Violation is one broken rule.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Verdict is the outcome of validating a Request.
type Verdict struct {
	Accepted   bool        `json:"accepted"`
	Violations []Violation `json:"violations"`
}

// Reasons returns the violation messages in evaluation order.
func (v Verdict) Reasons() []string {
	out := make([]string, len(v.Violations))
	for i, vi := range v.Violations {
		out[i] = vi.Message
	}
	return out
}

// Has reports whether the verdict contains a violation with code.
func (v Verdict) Has(code string) bool {
	for _, vi := range v.Violations {
		if vi.Code == code {
			return true
		}
	}
	return false
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accepted"
	}
	return "rejected: " + strings.Join(v.Reasons(), "; ")
}

// Validator checks bids against a budget table.
type Validator struct {
	rules *rules.Table
}

// NewValidator creates a validator over table.
func NewValidator(table *rules.Table) *Validator {
	return &Validator{rules: table}
}

// Validate evaluates req against team. It never mutates team.
func (v *Validator) Validate(team *model.Team, req Request) Verdict {
	var out []Violation
	add := func(code, format string, args ...any) {
		out = append(out, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if req.Price <= 0 {
		add(CodeInvalidPrice, "bid price must be positive, got %d", req.Price)
	}
	if req.BaseTokens > 0 && req.Price < req.BaseTokens {
		add(CodeBelowBasePrice, "bid %d is below base price %d", req.Price, req.BaseTokens)
	}

	rule, ok := v.rules.Rule(req.Role)
	if !ok {
		add(CodeUnknownRole, "no budget rule for role %q", req.Role)
		return Verdict{Accepted: false, Violations: out}
	}

	// 1. Total funds.
	if team.TokensLeft < req.Price {
		add(CodeInsufficientTokens, "insufficient total tokens: available %d, required %d",
			team.TokensLeft, req.Price)
	}

	// 2. Category budget.
	if remaining := team.CategoryBudgets[req.Role].Remaining; remaining < req.Price {
		add(CodeInsufficientCategory, "insufficient category budget for %s: available %d, required %d",
			req.Role, remaining, req.Price)
	}

	// 3. Role headcount.
	if team.RoleCount[req.Role] >= rule.MaxPlayers {
		add(CodeRoleQuotaFull, "role quota full: %s already has %d of %d",
			req.Role, team.RoleCount[req.Role], rule.MaxPlayers)
	}

	// 4. Squad size.
	if len(team.Squad) >= team.MaxSquadSize {
		add(CodeSquadFull, "squad full: %d of %d players", len(team.Squad), team.MaxSquadSize)
	}

	// 5. Future feasibility: after this bid the team must still afford the
	// floor price for every player it needs to reach each role's minimum.
	after := make(map[model.Role]int, len(model.Roles))
	for _, r := range model.Roles {
		after[r] = team.RoleCount[r]
	}
	after[req.Role]++
	reserve := v.rules.MinSquadReserve(after)
	if left := team.TokensLeft - req.Price; left < reserve {
		add(CodeMinSquadUnreachable,
			"bid would make minimum-squad requirement unreachable: %d tokens left, %d needed for remaining players",
			left, reserve)
	}

	return Verdict{Accepted: len(out) == 0, Violations: out}
}
