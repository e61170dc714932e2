// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when a player or team row does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when the stored row no longer matches the
	// state the caller mutated from, e.g. a second writer already spent
	// the team's tokens or sold the player.
	ErrConflict = errors.New("store: stale ledger state")
)

// ImportMode selects how a bulk import treats existing rows.
type ImportMode string

const (
	// ImportMerge upserts rows, keeping the auction outcome of players and
	// the ledger of teams that already exist.
	ImportMerge ImportMode = "merge"

	// ImportReplace wipes players, teams, history and position first.
	ImportReplace ImportMode = "replace"
)

// ParseImportMode parses "merge" or "replace". Empty means merge.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportMerge:
		return ImportMerge, nil
	case ImportReplace:
		return ImportReplace, nil
	}
	return "", fmt.Errorf("store: unknown import mode %q", s)
}

// Store is the persistence interface. Every write is atomic: either the
// whole change is durable or none of it is.
type Store interface {
	// Load returns the persisted auction image.
	Load(ctx context.Context) (*model.Snapshot, error)

	// RecordSale persists a sold player, the buying team's ledger row, the
	// history entry and the next sequence position.
	RecordSale(ctx context.Context, rec *model.SaleRecord) error

	// RecordUnsold marks a player unsold and stores the next position.
	RecordUnsold(ctx context.Context, playerID string, nextIndex int) error

	// Reset clears history and outcomes, writes the given initial team
	// ledgers and rewinds the position to zero.
	Reset(ctx context.Context, teams []model.Team) error

	// Clear deletes every player, team and history entry and rewinds the
	// position to zero.
	Clear(ctx context.Context) error

	// Import loads players and teams using mode. New teams must arrive with
	// initialised ledgers.
	Import(ctx context.Context, players []model.Player, teams []model.Team, mode ImportMode) error
}
