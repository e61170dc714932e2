package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Team ledgers are stored flat, with one spent/remaining/count column
// triple per role.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ledgerColumns lists the team ledger columns in ledgerArgs order.
func ledgerColumns() []string {
	cols := []string{"tokens_left", "max_tokens", "max_squad_size"}
	for _, r := range model.Roles {
		k := r.Key()
		cols = append(cols, k+"_budget_spent", k+"_budget_remaining", k+"_count")
	}
	for i, c := range cols {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	return cols
}

func ledgerArgs(t *model.Team) []any {
	args := []any{t.TokensLeft, t.MaxTokens, t.MaxSquadSize}
	for _, r := range model.Roles {
		b := t.CategoryBudgets[r]
		args = append(args, b.Spent, b.Remaining, t.RoleCount[r])
	}
	return args
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &model.Snapshot{}
	if snap.Players, err = loadPlayers(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Teams, err = loadTeams(ctx, tx); err != nil {
		return nil, err
	}
	if snap.History, err = loadHistory(ctx, tx); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `SELECT current_index FROM auction_state WHERE id = 1`).Scan(&snap.CurrentIndex)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load auction state: %w", err)
	}
	return snap, nil
}

func loadPlayers(ctx context.Context, tx pgx.Tx) ([]model.Player, error) {
	const query = `
		SELECT player_id, name, role, base_tokens, status, COALESCE(sold_to, ''), sold_price
		FROM players
		ORDER BY auction_order, player_id`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.BaseTokens, &p.Status, &p.SoldTo, &p.SoldPrice); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func loadTeams(ctx context.Context, tx pgx.Tx) ([]model.Team, error) {
	query := fmt.Sprintf(`SELECT team_id, team_name, COALESCE(logo_file, ''), %s FROM teams ORDER BY team_id`,
		strings.Join(ledgerColumns(), ", "))

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t := model.Team{
			RoleCount:       make(map[model.Role]int, len(model.Roles)),
			CategoryBudgets: make(map[model.Role]model.CategoryBudget, len(model.Roles)),
		}
		spent := make([]int, len(model.Roles))
		remaining := make([]int, len(model.Roles))
		counts := make([]int, len(model.Roles))

		dest := []any{&t.ID, &t.Name, &t.Logo, &t.TokensLeft, &t.MaxTokens, &t.MaxSquadSize}
		for i := range model.Roles {
			dest = append(dest, &spent[i], &remaining[i], &counts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		for i, r := range model.Roles {
			t.CategoryBudgets[r] = model.CategoryBudget{Spent: spent[i], Remaining: remaining[i]}
			t.RoleCount[r] = counts[i]
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func loadHistory(ctx context.Context, tx pgx.Tx) ([]model.HistoryEntry, error) {
	const query = `
		SELECT id::text, player_id, player_name, role, base_price, sold_price, team_id, team_name,
		       tokens_left_after, squad_size_after, category_remaining_after, late, created_at
		FROM auction_history
		ORDER BY seq`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		if err := rows.Scan(&h.ID, &h.PlayerID, &h.PlayerName, &h.Role, &h.BasePrice, &h.SoldPrice,
			&h.TeamID, &h.TeamName, &h.TokensLeftAfter, &h.SquadSizeAfter, &h.CategoryRemainingAfter,
			&h.Late, &h.At); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// RecordSale writes the sale in one transaction. The team row is locked and
// its stored balance must match the balance the caller spent from.
func (s *PostgresStore) RecordSale(ctx context.Context, rec *model.SaleRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin sale: %w", err)
	}
	defer tx.Rollback(ctx)

	var stored int
	err = tx.QueryRow(ctx, `SELECT tokens_left FROM teams WHERE team_id = $1 FOR UPDATE`, rec.Team.ID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("team %s: %w", rec.Team.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock team %s: %w", rec.Team.ID, err)
	}
	if stored-rec.Player.SoldPrice != rec.Team.TokensLeft {
		return fmt.Errorf("team %s has %d tokens, sale expects %d: %w",
			rec.Team.ID, stored, rec.Team.TokensLeft+rec.Player.SoldPrice, ErrConflict)
	}

	const sellPlayer = `
		UPDATE players
		SET status = $2, sold_to = $3, sold_price = $4
		WHERE player_id = $1 AND status <> $2`
	tag, err := tx.Exec(ctx, sellPlayer, rec.Player.ID, model.StatusSold, rec.Team.ID, rec.Player.SoldPrice)
	if err != nil {
		return fmt.Errorf("update player %s: %w", rec.Player.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s missing or already sold: %w", rec.Player.ID, ErrConflict)
	}

	if err := updateLedger(ctx, tx, &rec.Team); err != nil {
		return err
	}

	const insertHistory = `
		INSERT INTO auction_history (id, player_id, player_name, role, base_price, sold_price,
			team_id, team_name, tokens_left_after, squad_size_after, category_remaining_after, late, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	e := rec.Entry
	if _, err := tx.Exec(ctx, insertHistory, e.ID, e.PlayerID, e.PlayerName, e.Role, e.BasePrice, e.SoldPrice,
		e.TeamID, e.TeamName, e.TokensLeftAfter, e.SquadSizeAfter, e.CategoryRemainingAfter, e.Late, e.At); err != nil {
		return fmt.Errorf("insert history %s: %w", e.ID, err)
	}

	if err := setIndex(ctx, tx, rec.NextIndex); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RecordUnsold(ctx context.Context, playerID string, nextIndex int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin unsold: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE players SET status = $2, sold_to = NULL, sold_price = 0 WHERE player_id = $1`,
		playerID, model.StatusUnsold)
	if err != nil {
		return fmt.Errorf("update player %s: %w", playerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	if err := setIndex(ctx, tx, nextIndex); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Reset(ctx context.Context, teams []model.Team) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM auction_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE players SET status = $1, sold_to = NULL, sold_price = 0`, model.StatusAvailable); err != nil {
		return fmt.Errorf("reset players: %w", err)
	}
	for i := range teams {
		if err := updateLedger(ctx, tx, &teams[i]); err != nil {
			return err
		}
	}
	if err := setIndex(ctx, tx, 0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Clear deletes every history entry, player and team and rewinds the position.
func (s *PostgresStore) Clear(ctx context.Context) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := wipe(ctx, tx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Import(ctx context.Context, players []model.Player, teams []model.Team, mode ImportMode) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	if mode == ImportReplace {
		if err := wipe(ctx, tx); err != nil {
			return fmt.Errorf("replace import: %w", err)
		}
	}

	cols := ledgerColumns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+4)
	}
	// Existing teams keep their ledger; only the descriptive fields change.
	upsertTeam := fmt.Sprintf(`
		INSERT INTO teams (team_id, team_name, logo_file, %s)
		VALUES ($1, $2, $3, %s)
		ON CONFLICT (team_id) DO UPDATE
		SET team_name = EXCLUDED.team_name, logo_file = EXCLUDED.logo_file`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	// New players are appended after the existing feed.
	var nextOrder int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(auction_order) + 1, 0) FROM players`).Scan(&nextOrder); err != nil {
		return fmt.Errorf("read auction order: %w", err)
	}
	// Outcome columns are never touched for an existing player; role and
	// base price only change while the player is still Available.
	const upsertPlayer = `
		INSERT INTO players (player_id, name, role, base_tokens, status, sold_price, auction_order)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (player_id) DO UPDATE
		SET name = EXCLUDED.name,
		    role = CASE WHEN players.status = $5 THEN EXCLUDED.role ELSE players.role END,
		    base_tokens = CASE WHEN players.status = $5 THEN EXCLUDED.base_tokens ELSE players.base_tokens END`

	batch := &pgx.Batch{}
	for i := range teams {
		t := &teams[i]
		args := append([]any{t.ID, t.Name, t.Logo}, ledgerArgs(t)...)
		batch.Queue(upsertTeam, args...)
	}
	for i, p := range players {
		batch.Queue(upsertPlayer, p.ID, p.Name, p.Role, p.BaseTokens, model.StatusAvailable, nextOrder+i)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("import row %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("import batch: %w", err)
	}
	return tx.Commit(ctx)
}

func updateLedger(ctx context.Context, tx pgx.Tx, t *model.Team) error {
	cols := ledgerColumns()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}
	query := fmt.Sprintf(`UPDATE teams SET %s WHERE team_id = $1`, strings.Join(sets, ", "))

	tag, err := tx.Exec(ctx, query, append([]any{t.ID}, ledgerArgs(t)...)...)
	if err != nil {
		return fmt.Errorf("update team %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// wipe removes all auction rows. History goes first; it references players and teams.
func wipe(ctx context.Context, tx pgx.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM auction_history`,
		`DELETE FROM players`,
		`DELETE FROM teams`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return setIndex(ctx, tx, 0)
}

func setIndex(ctx context.Context, tx pgx.Tx, idx int) error {
	const query = `
		INSERT INTO auction_state (id, current_index, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET current_index = EXCLUDED.current_index, updated_at = NOW()`
	if _, err := tx.Exec(ctx, query, idx); err != nil {
		return fmt.Errorf("update auction state: %w", err)
	}
	return nil
}
