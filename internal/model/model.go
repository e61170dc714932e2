// Package model defines the core domain types shared across the auction engine.
// Token amounts are whole numbers; fractional values only appear in reports.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the playing category a player is auctioned under.
type Role string

const (
	Batsman      Role = "Batsman"
	Bowler       Role = "Bowler"
	AllRounder   Role = "All-rounder"
	WicketKeeper Role = "WicketKeeper"
)

// Roles lists every role in auction order. The order is fixed.
var Roles = []Role{Batsman, Bowler, AllRounder, WicketKeeper}

// ParseRole normalises a feed value ("allrounder", "Wicket Keeper", ...) into a Role.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(s)
	key = strings.NewReplacer("-", "", " ", "", "_", "").Replace(key)
	switch key {
	case "batsman", "batter":
		return Batsman, nil
	case "bowler":
		return Bowler, nil
	case "allrounder":
		return AllRounder, nil
	case "wicketkeeper", "keeper":
		return WicketKeeper, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Key returns the lower-case identifier used for storage columns and cache keys.
func (r Role) Key() string {
	return strings.ToLower(strings.ReplaceAll(string(r), "-", ""))
}

// PlayerStatus is the auction outcome of a player.
type PlayerStatus string

const (
	StatusAvailable PlayerStatus = "Available"
	StatusSold      PlayerStatus = "Sold"
	StatusUnsold    PlayerStatus = "Unsold"
)

// BudgetRule bounds spending and headcount for one role.
type BudgetRule struct {
	MinSpend   int `json:"min_spend" mapstructure:"min_spend"`
	MaxSpend   int `json:"max_spend" mapstructure:"max_spend"`
	MinPlayers int `json:"min_players" mapstructure:"min_players"`
	MaxPlayers int `json:"max_players" mapstructure:"max_players"`
}

// Player is a single auction lot. Status is authoritative; a team's squad
// points at the same record.
type Player struct {
	ID         string       `json:"id" db:"player_id"`
	Name       string       `json:"name" db:"name"`
	Role       Role         `json:"role" db:"role"`
	BaseTokens int          `json:"base_tokens" db:"base_tokens"`
	Status     PlayerStatus `json:"status" db:"status"`
	SoldTo     string       `json:"sold_to,omitempty" db:"sold_to"`       // team ID
	SoldPrice  int          `json:"sold_price,omitempty" db:"sold_price"` // bound price once sold
}

// CategoryBudget tracks spend against a role's MaxSpend.
type CategoryBudget struct {
	Spent     int `json:"spent"`
	Remaining int `json:"remaining"`
}

// Team is the per-team ledger.
// Invariant: TokensLeft == MaxTokens - Σ squad SoldPrice.
type Team struct {
	ID              string                  `json:"id" db:"team_id"`
	Name            string                  `json:"name" db:"team_name"`
	Logo            string                  `json:"logo,omitempty" db:"logo_file"`
	TokensLeft      int                     `json:"tokens_left" db:"tokens_left"`
	MaxTokens       int                     `json:"max_tokens" db:"max_tokens"`
	MaxSquadSize    int                     `json:"max_squad_size" db:"max_squad_size"`
	Squad           []*Player               `json:"squad"`
	RoleCount       map[Role]int            `json:"role_count"`
	CategoryBudgets map[Role]CategoryBudget `json:"category_budgets"`
}

// Clone returns a deep copy of the team. Squad members are copied too, so
// the result shares nothing with the receiver.
func (t *Team) Clone() *Team {
	c := *t
	c.Squad = make([]*Player, len(t.Squad))
	for i, p := range t.Squad {
		cp := *p
		c.Squad[i] = &cp
	}
	c.RoleCount = make(map[Role]int, len(t.RoleCount))
	for r, n := range t.RoleCount {
		c.RoleCount[r] = n
	}
	c.CategoryBudgets = make(map[Role]CategoryBudget, len(t.CategoryBudgets))
	for r, b := range t.CategoryBudgets {
		c.CategoryBudgets[r] = b
	}
	return &c
}

// HistoryEntry is an immutable record of a completed sale.
// Entries are appended once and never modified; a reset drops the whole log.
type HistoryEntry struct {
	ID                     string    `json:"id" db:"id"`
	PlayerID               string    `json:"player_id" db:"player_id"`
	PlayerName             string    `json:"player_name" db:"player_name"`
	Role                   Role      `json:"role" db:"role"`
	BasePrice              int       `json:"base_price" db:"base_price"`
	SoldPrice              int       `json:"sold_price" db:"sold_price"`
	TeamID                 string    `json:"team_id" db:"team_id"`
	TeamName               string    `json:"team_name" db:"team_name"`
	TokensLeftAfter        int       `json:"tokens_left_after" db:"tokens_left_after"`
	SquadSizeAfter         int       `json:"squad_size_after" db:"squad_size_after"`
	CategoryRemainingAfter int       `json:"category_remaining_after" db:"category_remaining_after"`
	Late                   bool      `json:"late" db:"late"` // assigned from the unsold pool
	At                     time.Time `json:"at" db:"created_at"`
}

// Snapshot is the persisted image of an auction as returned by a store.
// Team squads are not persisted; they are rebuilt from sold players.
type Snapshot struct {
	Players      []Player       `json:"players"`
	Teams        []Team         `json:"teams"`
	History      []HistoryEntry `json:"history"`
	CurrentIndex int            `json:"current_index"`
}

// SaleRecord is everything a store must write atomically for one sale.
type SaleRecord struct {
	Player    Player       `json:"player"`
	Team      Team         `json:"team"`
	Entry     HistoryEntry `json:"entry"`
	NextIndex int          `json:"next_index"`
}
