// Package importer validates the player/team feed before anything touches
// the ledger. A feed with any missing or malformed field is rejected whole.
package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/atmx/auction-engine/internal/model"
)

// Problem is one defect in the feed. Row is 1-based.
type Problem struct {
	Section string `json:"section"`
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Reason  string `json:"reason"`
}

func (p Problem) String() string {
	if p.Row == 0 {
		return fmt.Sprintf("%s: %s", p.Section, p.Reason)
	}
	return fmt.Sprintf("%s row %d: %s %s", p.Section, p.Row, p.Field, p.Reason)
}

// FormatError lists every defect found in a feed.
type FormatError struct {
	Problems []Problem
}

func (e *FormatError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("import: %d problem(s): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Feed is the raw import payload. Field names follow the source sheet
// columns; unknown columns are ignored.
type Feed struct {
	Players []PlayerRow `json:"players"`
	Teams   []TeamRow   `json:"teams"`
}

// PlayerRow is one row of the players sheet.
type PlayerRow struct {
	PlayerID   Text   `json:"PlayerID"`
	Name       string `json:"Name"`
	Role       string `json:"Role"`
	BaseTokens *int   `json:"BaseTokens"`
}

// TeamRow is one row of the teams sheet.
type TeamRow struct {
	TeamID   Text   `json:"TeamID"`
	TeamName string `json:"TeamName"`
	LogoFile string `json:"LogoFile"`
}

// Text accepts a JSON string or number; sheet exports often write IDs as numbers.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*t = Text(n.String())
	return nil
}

// Decode reads a JSON feed from r.
func Decode(r io.Reader) (*Feed, error) {
	var f Feed
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, &FormatError{Problems: []Problem{{Section: "feed", Reason: "invalid JSON: " + err.Error()}}}
	}
	return &f, nil
}

// Convert validates f and returns domain rows. Players come back Available;
// teams carry only identity, the caller initialises ledgers.
func (f *Feed) Convert() ([]model.Player, []model.Team, error) {
	var problems []Problem
	bad := func(section string, row int, field, reason string) {
		problems = append(problems, Problem{Section: section, Row: row, Field: field, Reason: reason})
	}

	if len(f.Players) == 0 {
		bad("players", 0, "", "no players in feed")
	}
	if len(f.Teams) == 0 {
		bad("teams", 0, "", "no teams in feed")
	}

	players := make([]model.Player, 0, len(f.Players))
	seenPlayers := make(map[string]int, len(f.Players))
	for i, row := range f.Players {
		n := i + 1
		id := strings.TrimSpace(string(row.PlayerID))
		name := strings.TrimSpace(row.Name)
		if id == "" {
			bad("players", n, "PlayerID", "is required")
		} else if prev, dup := seenPlayers[id]; dup {
			bad("players", n, "PlayerID", fmt.Sprintf("duplicates row %d", prev))
		} else {
			seenPlayers[id] = n
		}
		if name == "" {
			bad("players", n, "Name", "is required")
		}
		var role model.Role
		if strings.TrimSpace(row.Role) == "" {
			bad("players", n, "Role", "is required")
		} else if r, err := model.ParseRole(row.Role); err != nil {
			bad("players", n, "Role", err.Error())
		} else {
			role = r
		}
		base := 0
		if row.BaseTokens == nil {
			bad("players", n, "BaseTokens", "is required")
		} else if *row.BaseTokens <= 0 {
			bad("players", n, "BaseTokens", "must be positive")
		} else {
			base = *row.BaseTokens
		}
		players = append(players, model.Player{
			ID:         id,
			Name:       name,
			Role:       role,
			BaseTokens: base,
			Status:     model.StatusAvailable,
		})
	}

	teams := make([]model.Team, 0, len(f.Teams))
	seenIDs := make(map[string]int, len(f.Teams))
	seenNames := make(map[string]int, len(f.Teams))
	for i, row := range f.Teams {
		n := i + 1
		id := strings.TrimSpace(string(row.TeamID))
		name := strings.TrimSpace(row.TeamName)
		if id == "" {
			bad("teams", n, "TeamID", "is required")
		} else if prev, dup := seenIDs[id]; dup {
			bad("teams", n, "TeamID", fmt.Sprintf("duplicates row %d", prev))
		} else {
			seenIDs[id] = n
		}
		if name == "" {
			bad("teams", n, "TeamName", "is required")
		} else if prev, dup := seenNames[name]; dup {
			bad("teams", n, "TeamName", fmt.Sprintf("duplicates row %d", prev))
		} else {
			seenNames[name] = n
		}
		teams = append(teams, model.Team{ID: id, Name: name, Logo: strings.TrimSpace(row.LogoFile)})
	}

	if len(problems) > 0 {
		return nil, nil, &FormatError{Problems: problems}
	}
	return players, teams, nil
}
