package auction

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/atmx/auction-engine/internal/bid"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
	"github.com/atmx/auction-engine/internal/store"
)

// Event types delivered to a Notifier after a change is committed.
const (
	EventLoaded   = "auction_loaded"
	EventSold     = "player_sold"
	EventUnsold   = "player_unsold"
	EventAssigned = "player_assigned"
	EventReset    = "auction_reset"
	EventCleared  = "auction_cleared"
	EventComplete = "auction_complete"
)

// Event describes a committed change.
type Event struct {
	Type         string     `json:"type"`
	PlayerID     string     `json:"player_id,omitempty"`
	PlayerName   string     `json:"player_name,omitempty"`
	Role         model.Role `json:"role,omitempty"`
	TeamID       string     `json:"team_id,omitempty"`
	TeamName     string     `json:"team_name,omitempty"`
	Price        int        `json:"price,omitempty"`
	TokensLeft   int        `json:"tokens_left,omitempty"`
	CurrentIndex int        `json:"current_index"`
	Complete     bool       `json:"complete"`
}

// Notifier receives committed events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Options configures a Session.
type Options struct {
	Rules        *rules.Table
	MaxTokens    int
	MaxSquadSize int
	Notifier     Notifier     // optional
	Logger       *slog.Logger // optional
}

// Session owns one auction: the ordered players, the team ledgers and the
// history. A single mutex serialises every read-modify-write, including the
// store write, so two sales can never both spend from a stale ledger.
type Session struct {
	store        store.Store
	rules        *rules.Table
	validator    *bid.Validator
	maxTokens    int
	maxSquadSize int
	notifier     Notifier
	log          *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	state   *State
	teams   []*model.Team
	players map[string]*model.Player
}

// NewSession creates an empty session. Call Load to pull persisted data.
func NewSession(st store.Store, opts Options) *Session {
	table := opts.Rules
	if table == nil {
		table = rules.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		store:        st,
		rules:        table,
		validator:    bid.NewValidator(table),
		maxTokens:    opts.MaxTokens,
		maxSquadSize: opts.MaxSquadSize,
		notifier:     opts.Notifier,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		state:        NewState(nil),
		players:      make(map[string]*model.Player),
	}
}

// SaleRequest asks to sell a player to a team. Team may be an ID or a name.
// Role is optional; when set it must match the player's role.
type SaleRequest struct {
	PlayerID string     `json:"player_id"`
	Team     string     `json:"team"`
	Price    int        `json:"price"`
	Role     model.Role `json:"role,omitempty"`
}

// Load replaces the session state with the store's persisted image.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	s.log.Info("auction loaded",
		"players", len(s.state.Players),
		"teams", len(s.teams),
		"current_index", s.state.CurrentIndex,
	)
	s.notify(Event{Type: EventLoaded})
	return nil
}

func (s *Session) loadLocked(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load auction data: %w", err)
	}

	players := make([]*model.Player, len(snap.Players))
	byID := make(map[string]*model.Player, len(snap.Players))
	for i := range snap.Players {
		p := snap.Players[i]
		players[i] = &p
		byID[p.ID] = &p
	}
	// Players already put up keep the head of the order, so a merge import
	// can never slot a new player behind the current position.
	ordered := make([]*model.Player, 0, len(players))
	var pending []*model.Player
	for _, p := range BuildOrder(players) {
		if p.Status == model.StatusAvailable {
			pending = append(pending, p)
		} else {
			ordered = append(ordered, p)
		}
	}
	processed := len(ordered)
	ordered = append(ordered, pending...)

	teams := make([]*model.Team, len(snap.Teams))
	teamsByID := make(map[string]*model.Team, len(snap.Teams))
	for i := range snap.Teams {
		t := snap.Teams[i].Clone()
		s.rules.InitTeam(t, t.MaxTokens, t.MaxSquadSize)
		teams[i] = t
		teamsByID[t.ID] = t
	}

	// Rebuild squads in sale order, then any sold player without history.
	attach := func(p *model.Player) {
		t, ok := teamsByID[p.SoldTo]
		if !ok {
			s.log.Warn("sold player references unknown team", "player", p.ID, "team", p.SoldTo)
			return
		}
		t.Squad = append(t.Squad, p)
		t.TokensLeft -= p.SoldPrice
		t.RoleCount[p.Role]++
		b := t.CategoryBudgets[p.Role]
		b.Spent += p.SoldPrice
		b.Remaining -= p.SoldPrice
		t.CategoryBudgets[p.Role] = b
	}
	attached := make(map[string]bool)
	for _, h := range snap.History {
		if p, ok := byID[h.PlayerID]; ok && p.Status == model.StatusSold && !attached[p.ID] {
			attach(p)
			attached[p.ID] = true
		}
	}
	state := NewState(ordered)
	for _, p := range ordered {
		switch p.Status {
		case model.StatusSold:
			if !attached[p.ID] {
				attach(p)
				attached[p.ID] = true
			}
		case model.StatusUnsold:
			state.Unsold = append(state.Unsold, p)
		}
	}

	// The ledger is derived from sales; persisted columns only confirm it.
	for i := range snap.Teams {
		if snap.Teams[i].TokensLeft != teams[i].TokensLeft {
			s.log.Warn("persisted ledger drift",
				"team", teams[i].ID,
				"persisted_tokens_left", snap.Teams[i].TokensLeft,
				"derived_tokens_left", teams[i].TokensLeft,
			)
		}
	}

	state.History = append([]model.HistoryEntry(nil), snap.History...)
	state.CurrentIndex = processed
	if snap.CurrentIndex != processed {
		s.log.Warn("persisted position drift",
			"persisted_index", snap.CurrentIndex,
			"derived_index", processed,
		)
	}

	s.state = state
	s.teams = teams
	s.players = byID
	metrics.PlayersRemaining.Set(float64(len(ordered) - state.CurrentIndex))
	return nil
}

// Validate checks a bid by team at price for the current player.
func (s *Session) Validate(teamRef string, price int) (bid.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.state.CurrentPlayer()
	if !ok {
		return bid.Verdict{}, ErrAuctionComplete
	}
	team, err := s.team(teamRef)
	if err != nil {
		return bid.Verdict{}, err
	}
	return s.validator.Validate(team, s.request(team, cur, price)), nil
}

// Sell validates and commits a sale of the current player. A rejected bid
// returns a verdict with Accepted false and a nil error.
func (s *Session) Sell(ctx context.Context, req SaleRequest) (bid.Verdict, *model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[req.PlayerID]
	if !ok {
		return bid.Verdict{}, nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, req.PlayerID)
	}
	if cur, ok := s.state.CurrentPlayer(); !ok {
		return bid.Verdict{}, nil, ErrAuctionComplete
	} else if cur != p {
		s.log.Error("sale attempted on player not up for auction",
			"player", p.ID, "current", cur.ID, "status", p.Status)
		return bid.Verdict{}, nil, fmt.Errorf("%w: player %s is not up for auction (current %s)",
			ErrPreconditionViolation, p.ID, cur.ID)
	}
	if req.Role != "" && req.Role != p.Role {
		return bid.Verdict{}, nil, fmt.Errorf("%w: %s is %s, not %s", ErrRoleMismatch, p.ID, p.Role, req.Role)
	}
	team, err := s.team(req.Team)
	if err != nil {
		return bid.Verdict{}, nil, err
	}

	return s.commitSale(ctx, p, team, req.Price, false)
}

// AssignUnsold sells a player from the unsold pool. The bid goes through
// the same validation as a live sale. The sequence position does not move.
func (s *Session) AssignUnsold(ctx context.Context, playerID, teamRef string, price int) (bid.Verdict, *model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return bid.Verdict{}, nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if !s.inUnsold(p) {
		return bid.Verdict{}, nil, fmt.Errorf("%w: player %s is not in the unsold pool",
			ErrPreconditionViolation, p.ID)
	}
	team, err := s.team(teamRef)
	if err != nil {
		return bid.Verdict{}, nil, err
	}

	return s.commitSale(ctx, p, team, price, true)
}

// commitSale must be called with mu held.
func (s *Session) commitSale(ctx context.Context, p *model.Player, team *model.Team, price int, late bool) (bid.Verdict, *model.HistoryEntry, error) {
	verdict := s.validator.Validate(team, s.request(team, p, price))
	if !verdict.Accepted {
		for _, v := range verdict.Violations {
			metrics.BidRejections.WithLabelValues(v.Code).Inc()
		}
		s.log.Info("bid rejected",
			"player", p.ID,
			"team", team.ID,
			"price", price,
			"reasons", verdict.Reasons(),
		)
		return verdict, nil, nil
	}

	entry, undo, err := applySale(s.state, p, team, price, late, s.now())
	if err != nil {
		s.log.Error("sale precondition failed", "player", p.ID, "err", err)
		return verdict, nil, err
	}

	ledger := team.Clone()
	ledger.Squad = nil
	rec := &model.SaleRecord{
		Player:    *p,
		Team:      *ledger,
		Entry:     entry,
		NextIndex: s.state.CurrentIndex,
	}
	if err := s.store.RecordSale(ctx, rec); err != nil {
		undo()
		metrics.PersistenceFailures.WithLabelValues("record_sale").Inc()
		s.log.Error("sale not persisted, reverted", "player", p.ID, "team", team.ID, "err", err)
		return verdict, nil, &PersistenceError{Op: "record sale", Err: err}
	}

	metrics.SalesTotal.WithLabelValues(string(p.Role), strconv.FormatBool(late)).Inc()
	metrics.SalePrice.WithLabelValues(string(p.Role)).Observe(float64(price))
	metrics.PlayersRemaining.Set(float64(len(s.state.Players) - s.state.CurrentIndex))

	s.log.Info("player sold",
		"history_id", entry.ID,
		"player", p.ID,
		"name", p.Name,
		"role", p.Role,
		"team", team.Name,
		"price", price,
		"tokens_left", team.TokensLeft,
		"late", late,
	)

	evType := EventSold
	if late {
		evType = EventAssigned
	}
	s.notify(Event{
		Type:       evType,
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Role:       p.Role,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Price:      price,
		TokensLeft: team.TokensLeft,
	})
	if !late && s.state.IsComplete() {
		s.notify(Event{Type: EventComplete})
	}
	return verdict, &entry, nil
}

// MarkUnsold passes the current player without a sale.
func (s *Session) MarkUnsold(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	undo, err := applyUnsold(s.state, p)
	if err != nil {
		s.log.Error("unsold precondition failed", "player", p.ID, "err", err)
		return err
	}
	if err := s.store.RecordUnsold(ctx, p.ID, s.state.CurrentIndex); err != nil {
		undo()
		metrics.PersistenceFailures.WithLabelValues("record_unsold").Inc()
		s.log.Error("unsold not persisted, reverted", "player", p.ID, "err", err)
		return &PersistenceError{Op: "record unsold", Err: err}
	}

	metrics.UnsoldTotal.Inc()
	metrics.PlayersRemaining.Set(float64(len(s.state.Players) - s.state.CurrentIndex))
	s.log.Info("player unsold", "player", p.ID, "name", p.Name, "role", p.Role)

	s.notify(Event{Type: EventUnsold, PlayerID: p.ID, PlayerName: p.Name, Role: p.Role})
	if s.state.IsComplete() {
		s.notify(Event{Type: EventComplete})
	}
	return nil
}

// Reset wipes every outcome and rewinds the auction. It is irreversible,
// so the caller must pass confirmed.
func (s *Session) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]*model.Player, len(s.state.Players))
	byID := make(map[string]*model.Player, len(s.state.Players))
	for i, p := range s.state.Players {
		fresh := *p
		fresh.Status = model.StatusAvailable
		fresh.SoldTo = ""
		fresh.SoldPrice = 0
		players[i] = &fresh
		byID[fresh.ID] = &fresh
	}
	teams := make([]*model.Team, len(s.teams))
	rows := make([]model.Team, len(s.teams))
	for i, t := range s.teams {
		fresh := &model.Team{ID: t.ID, Name: t.Name, Logo: t.Logo}
		s.rules.InitTeam(fresh, t.MaxTokens, t.MaxSquadSize)
		teams[i] = fresh
		rows[i] = *fresh.Clone()
	}

	if err := s.store.Reset(ctx, rows); err != nil {
		metrics.PersistenceFailures.WithLabelValues("reset").Inc()
		s.log.Error("reset not persisted", "err", err)
		return &PersistenceError{Op: "reset", Err: err}
	}

	s.state = NewState(BuildOrder(players))
	s.teams = teams
	s.players = byID
	metrics.PlayersRemaining.Set(float64(len(players)))

	s.log.Warn("auction reset", "players", len(players), "teams", len(teams))
	s.notify(Event{Type: EventReset})
	return nil
}

// Clear deletes every player, team and sale from the store and empties the
// session. Like Reset it needs confirmed.
func (s *Session) Clear(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrClearNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		metrics.PersistenceFailures.WithLabelValues("clear").Inc()
		s.log.Error("clear not persisted", "err", err)
		return &PersistenceError{Op: "clear", Err: err}
	}

	s.state = NewState(nil)
	s.teams = nil
	s.players = make(map[string]*model.Player)
	metrics.PlayersRemaining.Set(0)

	s.log.Warn("auction data cleared")
	s.notify(Event{Type: EventCleared})
	return nil
}

// Import writes a validated feed to the store and reloads. New teams get
// fresh ledgers and new players start Available.
func (s *Session) Import(ctx context.Context, players []model.Player, teams []model.Team, mode store.ImportMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]model.Team, len(teams))
	for i, t := range teams {
		fresh := &model.Team{ID: t.ID, Name: t.Name, Logo: t.Logo}
		s.rules.InitTeam(fresh, s.maxTokens, s.maxSquadSize)
		rows[i] = *fresh
	}
	fresh := make([]model.Player, len(players))
	for i, p := range players {
		p.Status = model.StatusAvailable
		p.SoldTo = ""
		p.SoldPrice = 0
		fresh[i] = p
	}

	if err := s.store.Import(ctx, fresh, rows, mode); err != nil {
		metrics.PersistenceFailures.WithLabelValues("import").Inc()
		return &PersistenceError{Op: "import", Err: err}
	}
	if err := s.loadLocked(ctx); err != nil {
		return err
	}

	s.log.Info("feed imported", "mode", mode, "players", len(players), "teams", len(teams))
	s.notify(Event{Type: EventLoaded})
	return nil
}

// request builds the validator input for p at price.
func (s *Session) request(team *model.Team, p *model.Player, price int) bid.Request {
	return bid.Request{TeamID: team.ID, Role: p.Role, Price: price, BaseTokens: p.BaseTokens}
}

// team resolves a team by ID, then by name. Must be called with mu held.
func (s *Session) team(ref string) (*model.Team, error) {
	for _, t := range s.teams {
		if t.ID == ref {
			return t, nil
		}
	}
	for _, t := range s.teams {
		if t.Name == ref {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, ref)
}

func (s *Session) inUnsold(p *model.Player) bool {
	for _, u := range s.state.Unsold {
		if u == p {
			return true
		}
	}
	return false
}

// notify must be called with mu held, after the change is durable.
func (s *Session) notify(ev Event) {
	if s.notifier == nil {
		return
	}
	ev.CurrentIndex = s.state.CurrentIndex
	ev.Complete = s.state.IsComplete()
	s.notifier.Notify(ev)
}
