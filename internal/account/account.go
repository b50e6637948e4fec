// Package account manages the user lifecycle around the ledger: signup,
// referrer assignment, AI credits, the premium flag and account deletion.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

var (
	ErrReferrerAlreadySet = errors.New("account: referrer already set")
	ErrSelfReferral       = errors.New("account: user cannot refer itself")
	// ErrReferralCycle is returned when the assignment would make the user
	// an ancestor of itself in the referral graph.
	ErrReferralCycle = errors.New("account: referral cycle")
)

// maxReferralDepth bounds the ancestor walk of the cycle check.
const maxReferralDepth = 1024

// Config holds the AI credit amounts.
type Config struct {
	NewUserCredits    int64 `env:"NEW_USER_CREDITS" envDefault:"1000"`
	PremiumCredits    int64 `env:"PREMIUM_CREDITS" envDefault:"15000"`
	AIMessageFee      int64 `env:"AI_MESSAGE_FEE" envDefault:"100"`
	CreditRefillFloor int64 `env:"CREDIT_REFILL_FLOOR" envDefault:"1000"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// XPCrediter credits the XP that accompanies account actions.
type XPCrediter interface {
	OnSignup(ctx context.Context, userID string) (int64, error)
	OnReferee(ctx context.Context, userID string) (int64, error)
	OnAIMessage(ctx context.Context, userID string) (int64, error)
}

// Service manages user accounts.
type Service struct {
	store store.Store
	cfg   Config
	xp    XPCrediter
	now   func() time.Time
}

// New creates an account service. A nil clock uses time.Now.
func New(st store.Store, cfg Config, xp XPCrediter, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: st, cfg: cfg, xp: xp, now: clock}
}

// Signup creates a user with the starting AI credits and credits SIGNUP XP.
func (s *Service) Signup(ctx context.Context, userID, displayName string) (*model.User, error) {
	now := s.now().UTC()
	u := &model.User{
		ID:            userID,
		DisplayName:   displayName,
		Status:        model.UserActive,
		CreditBalance: s.cfg.NewUserCredits,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastActiveAt:  now,
	}
	if err := s.store.RunInTx(ctx, func(q store.Queries) error {
		return q.CreateUser(ctx, u)
	}); err != nil {
		return nil, fmt.Errorf("signup %s: %w", userID, err)
	}
	slog.Info("user signed up", "user", userID)

	s.awardXP(ctx, model.XPSignup, userID, XPCrediter.OnSignup)
	return s.GetUser(ctx, userID)
}

// GetUser returns a user.
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u *model.User
	err := s.store.View(ctx, func(q store.Queries) error {
		var err error
		u, err = q.GetUser(ctx, userID)
		return err
	})
	return u, err
}

// SetReferrer assigns the user's referrer. It can be set once, and never so
// that the user becomes its own ancestor. The user earns REFEREE XP.
func (s *Service) SetReferrer(ctx context.Context, userID, referrerID string) error {
	if userID == referrerID {
		return ErrSelfReferral
	}
	err := s.store.RunInTx(ctx, func(q store.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.ReferrerID != nil {
			return fmt.Errorf("user %s referred by %s: %w", userID, *u.ReferrerID, ErrReferrerAlreadySet)
		}

		ancestor := referrerID
		for range maxReferralDepth {
			if ancestor == userID {
				return fmt.Errorf("%s is referred by %s: %w", referrerID, userID, ErrReferralCycle)
			}
			r, err := q.GetUser(ctx, ancestor)
			if err != nil {
				return err
			}
			if r.ReferrerID == nil {
				return q.SetReferrer(ctx, userID, referrerID)
			}
			ancestor = *r.ReferrerID
		}
		return fmt.Errorf("referral chain of %s too deep: %w", referrerID, ErrReferralCycle)
	})
	if err != nil {
		return fmt.Errorf("set referrer: %w", err)
	}
	slog.Info("referrer set", "user", userID, "referrer", referrerID)

	s.awardXP(ctx, model.XPReferee, userID, XPCrediter.OnReferee)
	return nil
}

// ChargeAIMessage charges the AI message fee, clamping the balance at zero,
// credits AI_MESSAGE XP and returns the remaining balance.
func (s *Service) ChargeAIMessage(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.store.RunInTx(ctx, func(q store.Queries) error {
		if err := q.AdjustCredits(ctx, userID, -s.cfg.AIMessageFee); err != nil {
			return err
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		balance = u.CreditBalance
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("charge ai message: %w", err)
	}

	s.awardXP(ctx, model.XPAIMessage, userID, XPCrediter.OnAIMessage)
	return balance, nil
}

// SetPremium sets the premium flag. Turning it on credits the premium AI
// credits once per activation.
func (s *Service) SetPremium(ctx context.Context, userID string, premium bool) (*model.User, error) {
	var u *model.User
	err := s.store.RunInTx(ctx, func(q store.Queries) error {
		cur, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if premium && !cur.IsPremium {
			if err := q.AdjustCredits(ctx, userID, s.cfg.PremiumCredits); err != nil {
				return err
			}
		}
		if err := q.SetPremium(ctx, userID, premium); err != nil {
			return err
		}
		u, err = q.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set premium: %w", err)
	}
	slog.Info("premium updated", "user", userID, "premium", premium)
	return u, nil
}

// RefillCredits lifts every AI credit balance below the refill floor to the
// floor and returns the number of users refilled.
func (s *Service) RefillCredits(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.RunInTx(ctx, func(q store.Queries) error {
		var err error
		n, err = q.RefillCredits(ctx, s.cfg.CreditRefillFloor)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("refill credits: %w", err)
	}
	slog.Info("credits refilled", "users", n, "floor", s.cfg.CreditRefillFloor)
	return n, nil
}

// DeleteAccount removes a user and everything it owns in one unit of work:
// XP log, snapshots, lessons, then per portfolio its stats, transactions,
// holdings and the portfolio itself. Referees keep their account with the
// referrer reference cleared.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	err := s.store.RunInTx(ctx, func(q store.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return err
		}
		if err := q.DeleteXPTransactions(ctx, userID); err != nil {
			return err
		}
		if err := q.DeleteXPSnapshots(ctx, userID); err != nil {
			return err
		}
		if err := q.DeleteUserLessons(ctx, userID); err != nil {
			return err
		}

		ids, err := q.ListUserPortfolioIDs(ctx, userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := q.DeleteStats(ctx, id); err != nil {
				return err
			}
			if err := q.DeleteTransactions(ctx, id); err != nil {
				return err
			}
			if err := q.DeleteHoldings(ctx, id); err != nil {
				return err
			}
			if err := q.DeletePortfolio(ctx, id); err != nil {
				return err
			}
		}

		if err := q.ClearReferrer(ctx, userID); err != nil {
			return err
		}
		return q.DeleteUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("delete account %s: %w", userID, err)
	}
	slog.Info("account deleted", "user", userID)
	return nil
}

func (s *Service) awardXP(ctx context.Context, reason model.XPReason, userID string, credit func(XPCrediter, context.Context, string) (int64, error)) {
	if s.xp == nil {
		return
	}
	if _, err := credit(s.xp, ctx, userID); err != nil {
		metrics.XPCreditFailures.WithLabelValues(string(reason)).Inc()
		slog.Warn("account xp credit failed", "user", userID, "reason", reason, "err", err)
	}
}
