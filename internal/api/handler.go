// Package api exposes an auction session over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/auction-engine/internal/auction"
	"github.com/atmx/auction-engine/internal/bid"
	"github.com/atmx/auction-engine/internal/importer"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/store"
)

const maxImportBytes = 10 << 20

// Handler serves the auction API for one session.
type Handler struct {
	session *auction.Session
	hub     *WSHub // optional
}

// NewHandler creates a handler. Pass nil for hub if WebSocket updates are
// not needed.
func NewHandler(session *auction.Session, hub *WSHub) *Handler {
	return &Handler{session: session, hub: hub}
}

// Mount registers every route on r. The caller picks the prefix.
func (h *Handler) Mount(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/state", h.GetState)
	r.Post("/load", h.Load)
	r.Get("/current", h.GetCurrent)
	r.Get("/progress", h.GetProgress)

	r.Post("/bids/validate", h.ValidateBid)
	r.Post("/sell", h.Sell)

	r.Get("/unsold", h.ListUnsold)
	r.Post("/unsold", h.MarkUnsold)
	r.Post("/unsold/{playerID}/assign", h.AssignUnsold)

	r.Get("/history", h.GetHistory)
	r.Get("/teams", h.ListTeams)
	r.Get("/teams/{teamID}", h.GetTeam)
	r.Get("/stats/categories", h.GetCategoryStats)

	r.Post("/import", h.Import)
	r.Post("/reset", h.Reset)
	r.Post("/clear", h.Clear)
}

// --- Request/Response types ---

// BidRequest is the JSON body for bid validation and late assignment.
type BidRequest struct {
	Team  string `json:"team"` // team ID or name
	Price int    `json:"price"`
}

// UnsoldRequest is the JSON body for POST /unsold.
type UnsoldRequest struct {
	PlayerID string `json:"player_id"`
}

// ResetRequest is the JSON body for POST /reset and POST /clear.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// SaleResponse is returned for an accepted sale.
type SaleResponse struct {
	Entry    model.HistoryEntry `json:"entry"`
	Progress auction.Progress   `json:"progress"`
	Complete bool               `json:"complete"`
}

// CurrentResponse describes the player under the hammer.
type CurrentResponse struct {
	Complete bool           `json:"complete"`
	Player   *model.Player  `json:"player,omitempty"`
	Phase    *auction.Phase `json:"phase,omitempty"`
}

// RejectionResponse is returned with 422 when a bid breaks a rule.
type RejectionResponse struct {
	Error      string          `json:"error"`
	Reasons    []string        `json:"reasons"`
	Violations []bid.Violation `json:"violations"`
}

// --- HTTP Handlers ---

// GetState handles GET /api/v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// Load handles POST /api/v1/load and re-reads the store.
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Load(r.Context()); err != nil {
		slog.Error("reload failed", "err", err)
		writeError(w, "failed to load auction data", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// GetCurrent handles GET /api/v1/current
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	p, phase, ok := h.session.CurrentPlayer()
	writeJSON(w, http.StatusOK, CurrentResponse{Complete: !ok, Player: p, Phase: phase})
}

// GetProgress handles GET /api/v1/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Progress())
}

// ValidateBid handles POST /api/v1/bids/validate. The verdict is returned
// with 200 whether or not the bid would be accepted.
func (h *Handler) ValidateBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	verdict, err := h.session.Validate(req.Team, req.Price)
	if err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// Sell handles POST /api/v1/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req auction.SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" || req.Team == "" {
		writeError(w, "player_id and team are required", http.StatusBadRequest)
		return
	}
	if req.Role != "" {
		role, err := model.ParseRole(string(req.Role))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Role = role
	}

	verdict, entry, err := h.session.Sell(r.Context(), req)
	h.writeSale(w, verdict, entry, err)
}

// AssignUnsold handles POST /api/v1/unsold/{playerID}/assign
func (h *Handler) AssignUnsold(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Team == "" {
		writeError(w, "team is required", http.StatusBadRequest)
		return
	}

	verdict, entry, err := h.session.AssignUnsold(r.Context(), playerID, req.Team, req.Price)
	h.writeSale(w, verdict, entry, err)
}

func (h *Handler) writeSale(w http.ResponseWriter, verdict bid.Verdict, entry *model.HistoryEntry, err error) {
	if err != nil {
		writeAuctionError(w, err)
		return
	}
	if !verdict.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
			Error:      "bid rejected",
			Reasons:    verdict.Reasons(),
			Violations: verdict.Violations,
		})
		return
	}
	writeJSON(w, http.StatusCreated, SaleResponse{
		Entry:    *entry,
		Progress: h.session.Progress(),
		Complete: h.session.IsComplete(),
	})
}

// MarkUnsold handles POST /api/v1/unsold
func (h *Handler) MarkUnsold(w http.ResponseWriter, r *http.Request) {
	var req UnsoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeError(w, "player_id is required", http.StatusBadRequest)
		return
	}
	if err := h.session.MarkUnsold(r.Context(), req.PlayerID); err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Progress())
}

// ListUnsold handles GET /api/v1/unsold
func (h *Handler) ListUnsold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Unsold())
}

// GetHistory handles GET /api/v1/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := h.session.History()
	if history == nil {
		history = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// ListTeams handles GET /api/v1/teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Teams())
}

// GetTeam handles GET /api/v1/teams/{teamID}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	summary, err := h.session.TeamSummary(chi.URLParam(r, "teamID"))
	if err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetCategoryStats handles GET /api/v1/stats/categories
func (h *Handler) GetCategoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.CategoryStats())
}

// Import handles POST /api/v1/import?mode=merge|replace. The body is a
// player/team feed; nothing is written unless every row is valid.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	mode, err := store.ParseImportMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	feed, err := importer.Decode(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeAuctionError(w, err)
		return
	}
	players, teams, err := feed.Convert()
	if err != nil {
		writeAuctionError(w, err)
		return
	}
	if err := h.session.Import(r.Context(), players, teams, mode); err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// Reset handles POST /api/v1/reset. The body must carry {"confirm": true}.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if err := h.session.Reset(r.Context(), req.Confirm); err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// Clear handles POST /api/v1/clear. It deletes every player, team and sale;
// the body must carry {"confirm": true}.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if err := h.session.Clear(r.Context(), req.Confirm); err != nil {
		writeAuctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// writeAuctionError maps session errors to HTTP statuses.
func writeAuctionError(w http.ResponseWriter, err error) {
	var formatErr *importer.FormatError
	var persistErr *auction.PersistenceError

	switch {
	case errors.As(err, &formatErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "invalid import feed",
			"problems": formatErr.Problems,
		})
	case errors.As(err, &persistErr):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     persistErr.Error(),
			"retryable": persistErr.Retryable(),
		})
	case errors.Is(err, auction.ErrResetNotConfirmed), errors.Is(err, auction.ErrClearNotConfirmed):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auction.ErrPlayerNotFound), errors.Is(err, auction.ErrTeamNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, auction.ErrPreconditionViolation), errors.Is(err, auction.ErrRoleMismatch):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("unhandled auction error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
