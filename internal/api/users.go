package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snips/portfolio-engine/internal/store"
)

// SignupRequest is the JSON body for POST /users.
type SignupRequest struct {
	DisplayName string `json:"display_name"`
	ReferrerID  string `json:"referrer_id,omitempty"`
}

// Signup handles POST /users
// The new user's id is the caller identity. An optional referrer is
// assigned right away.
func (s *Service) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	u, err := s.Accounts.Signup(ctx, userID(r), req.DisplayName)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.ReferrerID != "" {
		if err := s.Accounts.SetReferrer(ctx, u.ID, req.ReferrerID); err != nil {
			fail(w, r, err)
			return
		}
		if u, err = s.Accounts.GetUser(ctx, u.ID); err != nil {
			fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetMe handles GET /users/me
func (s *Service) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Accounts.GetUser(r.Context(), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteMe handles DELETE /users/me
func (s *Service) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.Accounts.DeleteAccount(r.Context(), userID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetReferrer handles PUT /users/me/referrer
func (s *Service) SetReferrer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferrerID string `json:"referrer_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ReferrerID == "" {
		writeError(w, "referrer_id is required", http.StatusBadRequest)
		return
	}
	if err := s.Accounts.SetReferrer(r.Context(), userID(r), req.ReferrerID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPremium handles PUT /users/me/premium
func (s *Service) SetPremium(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Premium bool `json:"premium"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, err := s.Accounts.SetPremium(r.Context(), userID(r), req.Premium)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ChargeAIMessage handles POST /users/me/ai-messages
func (s *Service) ChargeAIMessage(w http.ResponseWriter, r *http.Request) {
	balance, err := s.Accounts.ChargeAIMessage(r.Context(), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credit_balance": balance})
}

// XPHistory handles GET /users/me/xp
func (s *Service) XPHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.XP.History(r.Context(), userID(r), limitParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(out))
}

// CompleteLesson handles POST /users/me/lessons/{lessonID}/complete
func (s *Service) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	first, err := s.XP.CompleteLesson(r.Context(), userID(r), chi.URLParam(r, "lessonID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"first_completion": first})
}

// XPLeaderboard handles GET /leaderboards/xp/{board}
// board is weekly, season or total.
func (s *Service) XPLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := store.XPBoard(chi.URLParam(r, "board"))
	switch board {
	case store.BoardWeekly, store.BoardSeason, store.BoardTotal:
	default:
		writeError(w, "unknown leaderboard", http.StatusBadRequest)
		return
	}
	out, err := s.XP.Leaderboard(r.Context(), board, limitParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(out))
}
