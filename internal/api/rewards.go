package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snips/portfolio-engine/internal/model"
)

// RewardStatus handles GET /portfolios/{portfolioID}/rewards
func (s *Service) RewardStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Rewards.Status(r.Context(), chi.URLParam(r, "portfolioID"), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClaimReward handles POST /portfolios/{portfolioID}/rewards/{tier}/claim
func (s *Service) ClaimReward(w http.ResponseWriter, r *http.Request) {
	tier, err := model.ParseRewardTier(chi.URLParam(r, "tier"))
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := s.Rewards.Claim(r.Context(), chi.URLParam(r, "portfolioID"), userID(r), tier)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ClaimAllRewards handles POST /portfolios/{portfolioID}/rewards/claim-all
func (s *Service) ClaimAllRewards(w http.ResponseWriter, r *http.Request) {
	res, err := s.Rewards.ClaimAll(r.Context(), chi.URLParam(r, "portfolioID"), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
