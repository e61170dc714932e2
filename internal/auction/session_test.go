package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/atmx/auction-engine/internal/bid"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
	"github.com/atmx/auction-engine/internal/store"
)

// failingStore rejects writes while fail is set.
type failingStore struct {
	*store.MemoryStore
	fail bool
}

var errStoreDown = errors.New("store unavailable")

func (s *failingStore) RecordSale(ctx context.Context, rec *model.SaleRecord) error {
	if s.fail {
		return errStoreDown
	}
	return s.MemoryStore.RecordSale(ctx, rec)
}

func (s *failingStore) RecordUnsold(ctx context.Context, playerID string, next int) error {
	if s.fail {
		return errStoreDown
	}
	return s.MemoryStore.RecordUnsold(ctx, playerID, next)
}

func (s *failingStore) Reset(ctx context.Context, teams []model.Team) error {
	if s.fail {
		return errStoreDown
	}
	return s.MemoryStore.Reset(ctx, teams)
}

func (s *failingStore) Clear(ctx context.Context) error {
	if s.fail {
		return errStoreDown
	}
	return s.MemoryStore.Clear(ctx)
}

type recorder struct {
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixturePlayers() []model.Player {
	return []model.Player{
		{ID: "wk1", Name: "Keeper", Role: model.WicketKeeper, BaseTokens: 20},
		{ID: "ar1", Name: "Utility", Role: model.AllRounder, BaseTokens: 30},
		{ID: "bowl1", Name: "Quick", Role: model.Bowler, BaseTokens: 40},
		{ID: "bat2", Name: "Opener", Role: model.Batsman, BaseTokens: 50},
		{ID: "bat1", Name: "Captain", Role: model.Batsman, BaseTokens: 100},
	}
}

func fixtureTeams() []model.Team {
	return []model.Team{{ID: "t1", Name: "Strikers"}, {ID: "t2", Name: "Chargers"}}
}

// newTestSession returns a session loaded with the fixture. Auction order:
// bat1, bat2, bowl1, ar1, wk1.
func newTestSession(t *testing.T) (*Session, *failingStore, *recorder) {
	t.Helper()
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	rec := &recorder{}
	s := NewSession(st, Options{
		Rules:        rules.Default(),
		MaxTokens:    1000,
		MaxSquadSize: 15,
		Notifier:     rec,
		Logger:       quietLogger(),
	})
	if err := s.Import(context.Background(), fixturePlayers(), fixtureTeams(), store.ImportReplace); err != nil {
		t.Fatalf("import fixture: %v", err)
	}
	rec.events = nil
	return s, st, rec
}

func mustSell(t *testing.T, s *Session, playerID, team string, price int) *model.HistoryEntry {
	t.Helper()
	verdict, entry, err := s.Sell(context.Background(), SaleRequest{PlayerID: playerID, Team: team, Price: price})
	if err != nil {
		t.Fatalf("sell %s: %v", playerID, err)
	}
	if !verdict.Accepted {
		t.Fatalf("sell %s rejected: %s", playerID, verdict)
	}
	return entry
}

// checkLedgerInvariants asserts the ledger identities for every team.
func checkLedgerInvariants(t *testing.T, s *Session) {
	t.Helper()
	for _, team := range s.Teams() {
		spent := 0
		for _, p := range team.Squad {
			spent += p.SoldPrice
		}
		check.Equal(t, team.MaxTokens, team.TokensLeft+spent)
		for _, role := range model.Roles {
			rule, _ := s.Rules().Rule(role)
			b := team.CategoryBudgets[role]
			check.Equal(t, rule.MaxSpend, b.Spent+b.Remaining)
			check.True(t, team.RoleCount[role] <= rule.MaxPlayers)
		}
		check.True(t, len(team.Squad) <= team.MaxSquadSize)
	}
}

func TestSell_UpdatesLedger(t *testing.T) {
	s, _, rec := newTestSession(t)

	entry := mustSell(t, s, "bat1", "t1", 150)

	team := s.Teams()[0]
	check.Equal(t, 850, team.TokensLeft)
	check.Equal(t, model.CategoryBudget{Spent: 150, Remaining: 250}, team.CategoryBudgets[model.Batsman])
	check.Equal(t, 1, team.RoleCount[model.Batsman])
	check.Equal(t, 1, len(team.Squad))

	check.Equal(t, "bat1", entry.PlayerID)
	check.Equal(t, 850, entry.TokensLeftAfter)
	check.Equal(t, 1, entry.SquadSizeAfter)
	check.Equal(t, 250, entry.CategoryRemainingAfter)
	check.False(t, entry.Late)
	check.NotEqual(t, "", entry.ID)

	cur, _, ok := s.CurrentPlayer()
	check.True(t, ok)
	check.Equal(t, "bat2", cur.ID)
	check.Equal(t, 1, len(s.History()))
	check.Equal(t, []string{EventSold}, rec.types())
	checkLedgerInvariants(t, s)
}

func TestSell_RejectedLeavesStateUntouched(t *testing.T) {
	s, _, rec := newTestSession(t)

	verdict, entry, err := s.Sell(context.Background(), SaleRequest{PlayerID: "bat1", Team: "t1", Price: 450})

	check.NoError(t, err)
	check.Nil(t, entry)
	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(bid.CodeInsufficientCategory))
	check.Equal(t, 1000, s.Teams()[0].TokensLeft)
	check.Equal(t, 0, len(s.History()))
	cur, _, _ := s.CurrentPlayer()
	check.Equal(t, "bat1", cur.ID)
	check.Equal(t, 0, len(rec.events))
}

func TestSell_Preconditions(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()

	_, _, err := s.Sell(ctx, SaleRequest{PlayerID: "bat2", Team: "t1", Price: 60})
	check.True(t, errors.Is(err, ErrPreconditionViolation))

	_, _, err = s.Sell(ctx, SaleRequest{PlayerID: "bat1", Team: "t1", Price: 120, Role: model.Bowler})
	check.True(t, errors.Is(err, ErrRoleMismatch))

	_, _, err = s.Sell(ctx, SaleRequest{PlayerID: "ghost", Team: "t1", Price: 120})
	check.True(t, errors.Is(err, ErrPlayerNotFound))

	_, _, err = s.Sell(ctx, SaleRequest{PlayerID: "bat1", Team: "t9", Price: 120})
	check.True(t, errors.Is(err, ErrTeamNotFound))

	check.Equal(t, 0, s.Progress().Processed)
}

func TestSell_ByTeamName(t *testing.T) {
	s, _, _ := newTestSession(t)

	entry := mustSell(t, s, "bat1", "Chargers", 100)
	check.Equal(t, "t2", entry.TeamID)
}

func TestSell_PersistenceFailureRollsBack(t *testing.T) {
	s, st, rec := newTestSession(t)
	before := s.Snapshot()
	st.fail = true

	verdict, entry, err := s.Sell(context.Background(), SaleRequest{PlayerID: "bat1", Team: "t1", Price: 150})

	check.True(t, verdict.Accepted)
	check.Nil(t, entry)
	var perr *PersistenceError
	check.True(t, errors.As(err, &perr))
	check.True(t, perr.Retryable())
	check.True(t, errors.Is(err, errStoreDown))
	check.Equal(t, before, s.Snapshot())
	check.Equal(t, 0, len(s.History()))
	check.Equal(t, 0, len(rec.events))

	st.fail = false
	mustSell(t, s, "bat1", "t1", 150)
	check.Equal(t, 850, s.Teams()[0].TokensLeft)
}

func TestMarkUnsold(t *testing.T) {
	s, _, rec := newTestSession(t)
	before := s.Teams()

	check.NoError(t, s.MarkUnsold(context.Background(), "bat1"))

	check.Equal(t, before, s.Teams())
	unsold := s.Unsold()
	check.Equal(t, 1, len(unsold))
	check.Equal(t, "bat1", unsold[0].ID)
	check.Equal(t, model.StatusUnsold, unsold[0].Status)
	cur, _, _ := s.CurrentPlayer()
	check.Equal(t, "bat2", cur.ID)
	check.Equal(t, 1, s.Snapshot().CurrentIndex)
	check.Equal(t, []string{EventUnsold}, rec.types())
}

func TestMarkUnsold_NotCurrent(t *testing.T) {
	s, _, _ := newTestSession(t)

	err := s.MarkUnsold(context.Background(), "wk1")
	check.True(t, errors.Is(err, ErrPreconditionViolation))
	check.Equal(t, 0, len(s.Unsold()))
}

func TestMarkUnsold_PersistenceFailureRollsBack(t *testing.T) {
	s, st, _ := newTestSession(t)
	st.fail = true

	err := s.MarkUnsold(context.Background(), "bat1")

	var perr *PersistenceError
	check.True(t, errors.As(err, &perr))
	check.Equal(t, 0, len(s.Unsold()))
	cur, _, _ := s.CurrentPlayer()
	check.Equal(t, "bat1", cur.ID)
	check.Equal(t, model.StatusAvailable, cur.Status)
}

func TestAssignUnsold_IsValidatedAndKeepsPosition(t *testing.T) {
	s, _, rec := newTestSession(t)
	ctx := context.Background()

	check.NoError(t, s.MarkUnsold(ctx, "bat1"))
	mustSell(t, s, "bat2", "t1", 400) // exhausts the Strikers batsman budget

	verdict, entry, err := s.AssignUnsold(ctx, "bat1", "t1", 100)
	check.NoError(t, err)
	check.Nil(t, entry)
	check.False(t, verdict.Accepted)
	check.True(t, verdict.Has(bid.CodeInsufficientCategory))

	verdict, entry, err = s.AssignUnsold(ctx, "bat1", "t2", 100)
	check.NoError(t, err)
	check.True(t, verdict.Accepted)
	check.True(t, entry.Late)
	check.Equal(t, "t2", entry.TeamID)

	check.Equal(t, 0, len(s.Unsold()))
	check.Equal(t, 2, s.Snapshot().CurrentIndex)
	cur, _, _ := s.CurrentPlayer()
	check.Equal(t, "bowl1", cur.ID)
	check.Equal(t, []string{EventUnsold, EventSold, EventAssigned}, rec.types())
	checkLedgerInvariants(t, s)
}

func TestAssignUnsold_NotInPool(t *testing.T) {
	s, _, _ := newTestSession(t)

	_, _, err := s.AssignUnsold(context.Background(), "bat1", "t1", 100)
	check.True(t, errors.Is(err, ErrPreconditionViolation))
}

func TestAuctionCompletes(t *testing.T) {
	s, _, rec := newTestSession(t)
	ctx := context.Background()

	mustSell(t, s, "bat1", "t1", 100)
	mustSell(t, s, "bat2", "t2", 50)
	mustSell(t, s, "bowl1", "t1", 40)
	check.NoError(t, s.MarkUnsold(ctx, "ar1"))
	mustSell(t, s, "wk1", "t2", 20)

	check.True(t, s.IsComplete())
	_, _, ok := s.CurrentPlayer()
	check.False(t, ok)
	check.Equal(t, EventComplete, rec.events[len(rec.events)-1].Type)

	_, err := s.Validate("t1", 50)
	check.True(t, errors.Is(err, ErrAuctionComplete))

	// The unsold pool stays open after the live pass.
	_, entry, err := s.AssignUnsold(ctx, "ar1", "t1", 30)
	check.NoError(t, err)
	check.True(t, entry.Late)
	checkLedgerInvariants(t, s)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	s, _, _ := newTestSession(t)
	mustSell(t, s, "bat1", "t1", 150)

	err := s.Reset(context.Background(), false)

	check.True(t, errors.Is(err, ErrResetNotConfirmed))
	check.Equal(t, 1, len(s.History()))
}

func TestReset_FailureKeepsState(t *testing.T) {
	s, st, _ := newTestSession(t)
	mustSell(t, s, "bat1", "t1", 150)
	st.fail = true

	err := s.Reset(context.Background(), true)

	var perr *PersistenceError
	check.True(t, errors.As(err, &perr))
	check.Equal(t, 1, len(s.History()))
	check.Equal(t, 850, s.Teams()[0].TokensLeft)
}

func TestClear_RequiresConfirmation(t *testing.T) {
	s, _, _ := newTestSession(t)

	err := s.Clear(context.Background(), false)

	check.True(t, errors.Is(err, ErrClearNotConfirmed))
	check.Equal(t, 2, len(s.Teams()))
}

func TestClear_EmptiesEverything(t *testing.T) {
	s, st, rec := newTestSession(t)
	mustSell(t, s, "bat1", "t1", 150)
	check.NoError(t, s.MarkUnsold(context.Background(), "bat2"))
	rec.events = nil

	check.NoError(t, s.Clear(context.Background(), true))

	view := s.Snapshot()
	check.Equal(t, 0, len(view.Players))
	check.Equal(t, 0, len(view.Teams))
	check.Equal(t, 0, view.CurrentIndex)
	check.Equal(t, 0, len(s.History()))
	check.Equal(t, 0, len(s.Unsold()))
	check.Equal(t, []string{EventCleared}, rec.types())

	snap, err := st.Load(context.Background())
	check.NoError(t, err)
	check.Equal(t, 0, len(snap.Players))
	check.Equal(t, 0, len(snap.Teams))
	check.Equal(t, 0, len(snap.History))

	// A fresh feed can be imported afterwards.
	check.NoError(t, s.Import(context.Background(), fixturePlayers(), fixtureTeams(), store.ImportMerge))
	cur, _, ok := s.CurrentPlayer()
	check.True(t, ok)
	check.Equal(t, "bat1", cur.ID)
}

func TestClear_FailureKeepsState(t *testing.T) {
	s, st, _ := newTestSession(t)
	mustSell(t, s, "bat1", "t1", 150)
	st.fail = true

	err := s.Clear(context.Background(), true)

	var perr *PersistenceError
	check.True(t, errors.As(err, &perr))
	check.Equal(t, 2, len(s.Teams()))
	check.Equal(t, 1, len(s.History()))
}

func TestSell_ConcurrentBidsSpendOnce(t *testing.T) {
	s, st, _ := newTestSession(t)
	const bidders = 16

	type result struct {
		verdict bid.Verdict
		err     error
	}
	results := make([]result, bidders)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range bidders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			verdict, _, err := s.Sell(context.Background(), SaleRequest{PlayerID: "bat1", Team: "t1", Price: 150})
			results[i] = result{verdict, err}
		}(i)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.err == nil && r.verdict.Accepted {
			accepted++
			continue
		}
		check.True(t, errors.Is(r.err, ErrPreconditionViolation))
	}
	check.Equal(t, 1, accepted)

	team := s.Teams()[0]
	check.Equal(t, 850, team.TokensLeft)
	check.Equal(t, 1, team.RoleCount[model.Batsman])
	check.Equal(t, 1, len(team.Squad))
	check.Equal(t, 1, len(s.History()))
	check.Equal(t, 1, s.Snapshot().CurrentIndex)

	snap, err := st.Load(context.Background())
	check.NoError(t, err)
	check.Equal(t, 1, len(snap.History))
	check.Equal(t, 850, snap.Teams[0].TokensLeft)
	checkLedgerInvariants(t, s)
}

func TestSell_RacingUnsoldDecidesOnce(t *testing.T) {
	s, _, _ := newTestSession(t)

	var wg sync.WaitGroup
	var sellErr, unsoldErr error
	var verdict bid.Verdict
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		verdict, _, sellErr = s.Sell(context.Background(), SaleRequest{PlayerID: "bat1", Team: "t2", Price: 120})
	}()
	go func() {
		defer wg.Done()
		<-start
		unsoldErr = s.MarkUnsold(context.Background(), "bat1")
	}()
	close(start)
	wg.Wait()

	sold := sellErr == nil && verdict.Accepted
	unsold := unsoldErr == nil
	check.True(t, sold != unsold)
	check.Equal(t, 1, s.Snapshot().CurrentIndex)
	if sold {
		check.Equal(t, 880, s.Teams()[1].TokensLeft)
		check.Equal(t, 0, len(s.Unsold()))
	} else {
		check.Equal(t, 1000, s.Teams()[1].TokensLeft)
		check.Equal(t, 1, len(s.Unsold()))
	}
}

type step struct {
	unsold   bool
	late     bool
	playerID string
	team     string
	price    int
}

func replay(t *testing.T, s *Session, steps []step) {
	t.Helper()
	ctx := context.Background()
	for _, st := range steps {
		switch {
		case st.unsold:
			check.NoError(t, s.MarkUnsold(ctx, st.playerID))
		case st.late:
			v, _, err := s.AssignUnsold(ctx, st.playerID, st.team, st.price)
			check.NoError(t, err)
			check.True(t, v.Accepted)
		default:
			mustSell(t, s, st.playerID, st.team, st.price)
		}
	}
}

// historyFacts drops the fields that legitimately differ between runs.
func historyFacts(entries []model.HistoryEntry) []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(entries))
	for i, e := range entries {
		e.ID = ""
		e.At = time.Time{}
		out[i] = e
	}
	return out
}

func TestReset_ReplayReproducesLedgerAndHistory(t *testing.T) {
	s, _, _ := newTestSession(t)
	steps := []step{
		{playerID: "bat1", team: "t1", price: 150},
		{unsold: true, playerID: "bat2"},
		{playerID: "bowl1", team: "t2", price: 90},
		{playerID: "ar1", team: "t1", price: 60},
		{late: true, playerID: "bat2", team: "t2", price: 55},
		{playerID: "wk1", team: "t2", price: 25},
	}

	replay(t, s, steps)
	firstTeams := s.Teams()
	firstHistory := historyFacts(s.History())
	firstIndex := s.Snapshot().CurrentIndex

	check.NoError(t, s.Reset(context.Background(), true))
	check.Equal(t, 0, len(s.History()))
	check.Equal(t, 0, s.Progress().Processed)
	for _, team := range s.Teams() {
		check.Equal(t, 1000, team.TokensLeft)
		check.Equal(t, 0, len(team.Squad))
	}

	replay(t, s, steps)
	check.Equal(t, firstTeams, s.Teams())
	check.Equal(t, firstHistory, historyFacts(s.History()))
	check.Equal(t, firstIndex, s.Snapshot().CurrentIndex)
}

func TestLoad_RebuildsFromStore(t *testing.T) {
	s, st, _ := newTestSession(t)
	ctx := context.Background()

	mustSell(t, s, "bat1", "t1", 150)
	check.NoError(t, s.MarkUnsold(ctx, "bat2"))
	mustSell(t, s, "bowl1", "t2", 90)
	_, _, err := s.AssignUnsold(ctx, "bat2", "t2", 60)
	check.NoError(t, err)

	fresh := NewSession(st, Options{Rules: rules.Default(), MaxTokens: 1000, MaxSquadSize: 15, Logger: quietLogger()})
	check.NoError(t, fresh.Load(ctx))

	check.Equal(t, s.Teams(), fresh.Teams())
	check.Equal(t, s.History(), fresh.History())
	check.Equal(t, s.Snapshot().CurrentIndex, fresh.Snapshot().CurrentIndex)
	check.Equal(t, s.Unsold(), fresh.Unsold())
	cur, _, _ := fresh.CurrentPlayer()
	check.Equal(t, "ar1", cur.ID)
	checkLedgerInvariants(t, fresh)
}

func TestImport_MergeKeepsOutcomes(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()
	mustSell(t, s, "bat1", "t1", 150)

	players := append(fixturePlayers(), model.Player{ID: "bat0", Name: "Star", Role: model.Batsman, BaseTokens: 200})
	teams := append(fixtureTeams(), model.Team{ID: "t3", Name: "Titans"})
	check.NoError(t, s.Import(ctx, players, teams, store.ImportMerge))

	check.Equal(t, 6, s.Progress().Total)
	check.Equal(t, 1, s.Progress().Sold)
	check.Equal(t, 3, len(s.Teams()))
	check.Equal(t, 850, s.Teams()[0].TokensLeft)
	check.Equal(t, 1, len(s.History()))

	// The new star batsman is next; nobody already sold is offered again.
	cur, _, _ := s.CurrentPlayer()
	check.Equal(t, "bat0", cur.ID)
	check.Equal(t, 1, s.Snapshot().CurrentIndex)
	checkLedgerInvariants(t, s)
}

func TestImport_ReplaceStartsOver(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()
	mustSell(t, s, "bat1", "t1", 150)

	players := []model.Player{{ID: "x1", Name: "New", Role: model.Bowler, BaseTokens: 25}}
	check.NoError(t, s.Import(ctx, players, []model.Team{{ID: "t5", Name: "Royals"}}, store.ImportReplace))

	check.Equal(t, 1, s.Progress().Total)
	check.Equal(t, 0, len(s.History()))
	teams := s.Teams()
	check.Equal(t, 1, len(teams))
	check.Equal(t, 1000, teams[0].TokensLeft)
	check.Equal(t, 400, teams[0].CategoryBudgets[model.Bowler].Remaining)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	s, _, _ := newTestSession(t)
	before := s.Snapshot()

	verdict, err := s.Validate("t1", 150)

	check.NoError(t, err)
	check.True(t, verdict.Accepted)
	check.Equal(t, before, s.Snapshot())
}

func TestReports(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()
	mustSell(t, s, "bat1", "t1", 150)
	mustSell(t, s, "bat2", "t1", 70)
	check.NoError(t, s.MarkUnsold(ctx, "bowl1"))

	pr := s.Progress()
	check.Equal(t, 5, pr.Total)
	check.Equal(t, 3, pr.Processed)
	check.Equal(t, 2, pr.Sold)
	check.Equal(t, 1, pr.Unsold)
	check.Equal(t, 2, pr.Remaining)
	check.Equal(t, "60", pr.Percentage.String())

	stats := s.CategoryStats()
	check.Equal(t, model.Batsman, stats[0].Role)
	check.Equal(t, 2, stats[0].Sold)
	check.Equal(t, 220, stats[0].TotalSpent)
	check.Equal(t, "110", stats[0].AveragePrice.String())
	check.Equal(t, 150, stats[0].Highest)
	check.Equal(t, 0, stats[1].Sold)

	sum, err := s.TeamSummary("Strikers")
	check.NoError(t, err)
	check.Equal(t, 220, sum.TokensSpent)
	check.Equal(t, 780, sum.TokensRemaining)
	check.Equal(t, 2, sum.SquadSize)
	check.Equal(t, 50, sum.Players[0].Difference)
	check.Equal(t, 20, sum.Players[1].Difference)
	// Batsman minimum 4 is unmet, as are the other three roles.
	check.Equal(t, 4, len(sum.Issues))

	_, err = s.TeamSummary("nobody")
	check.True(t, errors.Is(err, ErrTeamNotFound))
}
