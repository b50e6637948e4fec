package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// CreatePortfolioRequest is the JSON body for POST /portfolios.
type CreatePortfolioRequest struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
}

// TransactionRequest is the JSON body for POST /portfolios/{id}/transactions.
type TransactionRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Type         string          `json:"type"` // "buy" or "sell"
	Quantity     decimal.Decimal `json:"quantity"`
	Message      *string         `json:"message,omitempty"`
	// Execute defaults to true; false leaves the transaction pending.
	Execute *bool `json:"execute,omitempty"`
}

// ExecutionResponse is returned for every executed trade.
type ExecutionResponse struct {
	*ledger.Execution
	XPEarned int64 `json:"xp_earned"`
}

// CreatePortfolio handles POST /portfolios
func (s *Service) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CharacterID == "" {
		writeError(w, "character_id is required", http.StatusBadRequest)
		return
	}
	p, err := s.Ledger.CreatePortfolio(r.Context(), userID(r), req.CharacterID, req.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPortfolio handles GET /portfolios/{portfolioID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Ledger.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPortfolios handles GET /users/{userID}/portfolios
func (s *Service) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "userID")
	if owner == "me" {
		owner = userID(r)
	}
	ps, err := s.Ledger.ListPortfolios(r.Context(), owner, userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(ps))
}

// UpdatePortfolio handles PATCH /portfolios/{portfolioID}
func (s *Service) UpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var upd ledger.PortfolioUpdate
	if !decode(w, r, &upd) {
		return
	}
	p, err := s.Ledger.UpdatePortfolio(r.Context(), chi.URLParam(r, "portfolioID"), userID(r), upd)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePortfolio handles DELETE /portfolios/{portfolioID}
func (s *Service) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.Ledger.DeletePortfolio(r.Context(), chi.URLParam(r, "portfolioID"), userID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// visiblePortfolio resolves the path portfolio for the caller, hiding
// private portfolios of other users.
func (s *Service) visiblePortfolio(w http.ResponseWriter, r *http.Request) (*model.Portfolio, bool) {
	p, err := s.Ledger.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"), userID(r))
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	return p, true
}

// ownedPortfolio resolves the path portfolio and requires the caller to own it.
func (s *Service) ownedPortfolio(w http.ResponseWriter, r *http.Request) (*model.Portfolio, bool) {
	p, ok := s.visiblePortfolio(w, r)
	if !ok {
		return nil, false
	}
	if p.UserID != userID(r) {
		fail(w, r, ledger.ErrNotOwner)
		return nil, false
	}
	return p, true
}

// ListHoldings handles GET /portfolios/{portfolioID}/holdings
// Sold-off positions are included with ?include_closed=true.
func (s *Service) ListHoldings(w http.ResponseWriter, r *http.Request) {
	p, ok := s.visiblePortfolio(w, r)
	if !ok {
		return
	}
	includeClosed := r.URL.Query().Get("include_closed") == "true"
	hs, err := s.Ledger.ListHoldings(r.Context(), p.ID, includeClosed)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hs))
}

// ListTransactions handles GET /portfolios/{portfolioID}/transactions
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.visiblePortfolio(w, r)
	if !ok {
		return
	}
	txs, err := s.Ledger.ListTransactions(r.Context(), p.ID, limitParam(r), offsetParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(txs))
}

// CreateTransaction handles POST /portfolios/{portfolioID}/transactions
// The trade is executed immediately unless execute is false.
func (s *Service) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !decode(w, r, &req) {
		return
	}
	typ, err := model.ParseTradeType(req.Type)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.InstrumentID == "" {
		writeError(w, "instrument_id is required", http.StatusBadRequest)
		return
	}
	p, ok := s.ownedPortfolio(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	t, err := s.Ledger.CreateTransaction(ctx, p.ID, &req.InstrumentID, typ, req.Quantity, req.Message)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.Execute != nil && !*req.Execute {
		writeJSON(w, http.StatusCreated, t)
		return
	}
	s.execute(w, r, t.ID)
}

// ExecuteTransaction handles POST /portfolios/{portfolioID}/transactions/{txID}/execute
func (s *Service) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := s.ownedPortfolio(w, r)
	if !ok {
		return
	}
	t, err := s.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if t.PortfolioID != p.ID {
		fail(w, r, store.ErrNotFound)
		return
	}
	s.execute(w, r, t.ID)
}

// execute runs the ledger transition, then the XP gates. XP never fails
// the request.
func (s *Service) execute(w http.ResponseWriter, r *http.Request, txID string) {
	ctx := r.Context()
	exec, err := s.Ledger.ExecuteTransaction(ctx, txID)
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := ExecutionResponse{Execution: exec}
	if s.XP != nil {
		resp.XPEarned = s.XP.AwardForExecution(ctx, &exec.Transaction)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /portfolios/{portfolioID}/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.visiblePortfolio(w, r)
	if !ok {
		return
	}
	st, err := s.Stats.Get(r.Context(), p.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PublicFeed handles GET /feed
func (s *Service) PublicFeed(w http.ResponseWriter, r *http.Request) {
	txs, err := s.Ledger.PublicFeed(r.Context(), limitParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(txs))
}

// PortfolioLeaderboard handles GET /leaderboards/portfolios
func (s *Service) PortfolioLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.Stats.Leaderboard(r.Context(), limitParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(out))
}

// GetPrice handles GET /instruments/{instrumentID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := s.Ledger.LatestPrice(r.Context(), chi.URLParam(r, "instrumentID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPriceHistory handles GET /instruments/{instrumentID}/history
// ?timeframe=1DAY&since=RFC3339; since defaults to 30 days ago.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tf := q.Get("timeframe")
	if tf == "" {
		tf = string(model.Timeframe1Day)
	}
	since := time.Now().UTC().AddDate(0, 0, -30)
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}
	bars, err := s.Ledger.PriceHistory(r.Context(), chi.URLParam(r, "instrumentID"), tf, since)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(bars))
}
