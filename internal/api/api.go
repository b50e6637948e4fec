// Package api exposes the engine call contracts over HTTP. Authentication
// happens upstream: the gateway forwards the caller in the X-User-ID header.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/snips/portfolio-engine/internal/account"
	"github.com/snips/portfolio-engine/internal/events"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/rewards"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/xp"
)

// UserHeader carries the authenticated caller.
const UserHeader = "X-User-ID"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service holds the engines behind the HTTP handlers.
type Service struct {
	Ledger   *ledger.Engine
	Stats    *stats.Aggregator
	Rewards  *rewards.Engine
	XP       *xp.Engine
	Accounts *account.Service
	Hub      *events.Hub // optional
}

// Routes mounts every endpoint on r.
func (s *Service) Routes(r chi.Router) {
	if s.Hub != nil {
		r.Get("/ws", s.Hub.HandleWS)
	}

	r.Get("/feed", s.PublicFeed)
	r.Get("/leaderboards/portfolios", s.PortfolioLeaderboard)
	r.Get("/leaderboards/xp/{board}", s.XPLeaderboard)
	r.Get("/instruments/{instrumentID}/price", s.GetPrice)
	r.Get("/instruments/{instrumentID}/history", s.GetPriceHistory)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/users", s.Signup)
		r.Get("/users/me", s.GetMe)
		r.Delete("/users/me", s.DeleteMe)
		r.Put("/users/me/referrer", s.SetReferrer)
		r.Put("/users/me/premium", s.SetPremium)
		r.Post("/users/me/ai-messages", s.ChargeAIMessage)
		r.Get("/users/me/xp", s.XPHistory)
		r.Post("/users/me/lessons/{lessonID}/complete", s.CompleteLesson)
		r.Get("/users/{userID}/portfolios", s.ListPortfolios)

		r.Post("/portfolios", s.CreatePortfolio)
		r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
			r.Get("/", s.GetPortfolio)
			r.Patch("/", s.UpdatePortfolio)
			r.Delete("/", s.DeletePortfolio)
			r.Get("/holdings", s.ListHoldings)
			r.Get("/transactions", s.ListTransactions)
			r.Post("/transactions", s.CreateTransaction)
			r.Post("/transactions/{txID}/execute", s.ExecuteTransaction)
			r.Get("/stats", s.GetStats)
			r.Get("/rewards", s.RewardStatus)
			r.Post("/rewards/claim-all", s.ClaimAllRewards)
			r.Post("/rewards/{tier}/claim", s.ClaimReward)
		})
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserHeader) == "" {
			writeError(w, "missing "+UserHeader, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func offsetParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
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

// fail maps an engine error onto a status code. Storage failures are logged
// and hidden from the caller.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientQuantity),
		errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, ledger.ErrPortfolioLimit),
		errors.Is(err, ledger.ErrPortfolioInactive),
		errors.Is(err, rewards.ErrNotEligible),
		errors.Is(err, account.ErrReferrerAlreadySet),
		errors.Is(err, account.ErrReferralCycle):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnsupportedType),
		errors.Is(err, ledger.ErrPriceUnavailable),
		errors.Is(err, account.ErrSelfReferral),
		errors.Is(err, model.ErrConfiguration):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// emptyIfNil keeps list responses as JSON arrays.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
