// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStorage wraps every datastore failure. The enclosing unit of work is
	// rolled back when it surfaces; the whole call may be retried.
	ErrStorage = errors.New("store: storage failure")
)

// XPBoard selects the user XP counter a leaderboard is ordered by.
type XPBoard string

const (
	BoardWeekly XPBoard = "weekly"
	BoardSeason XPBoard = "season"
	BoardTotal  XPBoard = "total"
)

// Store is the persistence interface. Every engine call runs inside exactly
// one RunInTx (writes) or View (reads) scope.
type Store interface {
	// RunInTx executes fn in a single atomic unit of work. Rows loaded with
	// the Get* methods are locked for the duration. If fn returns an error
	// nothing it wrote is persisted.
	RunInTx(ctx context.Context, fn func(q Queries) error) error

	// View executes fn outside a transaction. Reads take no locks and may
	// observe concurrent commits between calls.
	View(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the set of reads and writes available inside a unit of work.
type Queries interface {
	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetReferrer(ctx context.Context, userID, referrerID string) error
	// ClearReferrer nulls the referrer reference of every referee of referrerID.
	ClearReferrer(ctx context.Context, referrerID string) error
	SetPremium(ctx context.Context, userID string, premium bool) error
	// AddUserXP increments all three XP counters by delta relative to the
	// stored values.
	AddUserXP(ctx context.Context, userID string, delta int64) error
	// AdjustCredits adds delta to the credit balance, clamping the result at zero.
	AdjustCredits(ctx context.Context, userID string, delta int64) error
	// RefillCredits lifts every balance below floor to floor and returns the
	// number of users touched.
	RefillCredits(ctx context.Context, floor int64) (int64, error)
	ResetWeeklyXP(ctx context.Context) error
	ResetSeasonXP(ctx context.Context) error
	SetWeeklyXP(ctx context.Context, userID string, xp int64) error
	TopUsersByXP(ctx context.Context, board XPBoard, limit int) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) error

	// --- Portfolios ---

	CreatePortfolio(ctx context.Context, p *model.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)
	// UpdatePortfolio writes every mutable column of p.
	UpdatePortfolio(ctx context.Context, p *model.Portfolio) error
	CountActivePortfolios(ctx context.Context, userID string) (int, error)
	// ListPortfolios returns the user's active portfolios, oldest first.
	ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error)
	ListActivePortfolioIDs(ctx context.Context) ([]string, error)
	// ListUserPortfolioIDs returns every portfolio of a user, deleted ones included.
	ListUserPortfolioIDs(ctx context.Context, userID string) ([]string, error)
	DeletePortfolio(ctx context.Context, id string) error

	// --- Holdings ---

	GetHolding(ctx context.Context, portfolioID, instrumentID string) (*model.Holding, error)
	InsertHolding(ctx context.Context, h *model.Holding) error
	UpdateHolding(ctx context.Context, h *model.Holding) error
	ListHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error)
	ListHoldingsByInstrument(ctx context.Context, instrumentID string) ([]model.Holding, error)
	DeleteHoldings(ctx context.Context, portfolioID string) error

	// --- Portfolio transactions ---

	InsertTransaction(ctx context.Context, t *model.PortfolioTransaction) error
	GetTransaction(ctx context.Context, id string) (*model.PortfolioTransaction, error)
	// UpdateTransaction writes the execution bookkeeping columns of t.
	UpdateTransaction(ctx context.Context, t *model.PortfolioTransaction) error
	// CountBuysSince counts executed buys of one instrument executed after since.
	CountBuysSince(ctx context.Context, portfolioID, instrumentID string, since time.Time) (int, error)
	// CountBuyInstrumentsSince counts distinct instruments bought after since.
	CountBuyInstrumentsSince(ctx context.Context, portfolioID string, since time.Time) (int, error)
	// CountMessagesSince counts executed instrument trades carrying a message
	// executed after since.
	CountMessagesSince(ctx context.Context, portfolioID string, since time.Time) (int, error)
	// SumTransactionValues sums value over executed transactions of one type.
	SumTransactionValues(ctx context.Context, portfolioID string, typ model.TransactionType) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, portfolioID string, limit, offset int) ([]model.PortfolioTransaction, error)
	// ListPublicTrades returns executed trades of public active portfolios,
	// newest first.
	ListPublicTrades(ctx context.Context, limit int) ([]model.PortfolioTransaction, error)
	DeleteTransactions(ctx context.Context, portfolioID string) error

	// --- Stats ---

	GetStats(ctx context.Context, portfolioID string) (*model.PortfolioStats, error)
	InsertStats(ctx context.Context, s *model.PortfolioStats) error
	UpdateStats(ctx context.Context, s *model.PortfolioStats) error
	TopPortfoliosByGain(ctx context.Context, limit int) ([]model.PortfolioStats, error)
	DeleteStats(ctx context.Context, portfolioID string) error

	// --- Pricing snapshots ---

	GetLatestPrice(ctx context.Context, instrumentID string) (*model.LatestPrice, error)
	PutLatestPrice(ctx context.Context, p *model.LatestPrice) error
	// ListPriceBars returns bars at or after since, oldest first.
	ListPriceBars(ctx context.Context, instrumentID string, tf model.Timeframe, since time.Time) ([]model.PriceBar, error)
	InsertPriceBar(ctx context.Context, b *model.PriceBar) error

	// --- XP ---

	InsertXPTransaction(ctx context.Context, x *model.XPTransaction) error
	// SumXPSince sums a user's XP for one reason credited after since.
	SumXPSince(ctx context.Context, userID string, reason model.XPReason, since time.Time) (int64, error)
	// SumXPByUserSince sums every user's XP credited at or after since.
	SumXPByUserSince(ctx context.Context, since time.Time) (map[string]int64, error)
	ListXPTransactions(ctx context.Context, userID string, limit int) ([]model.XPTransaction, error)
	InsertXPSnapshot(ctx context.Context, s *model.XPSnapshot) error
	DeleteXPTransactions(ctx context.Context, userID string) error
	DeleteXPSnapshots(ctx context.Context, userID string) error

	// --- Lessons ---

	GetUserLesson(ctx context.Context, userID, lessonID string) (*model.UserLesson, error)
	InsertUserLesson(ctx context.Context, l *model.UserLesson) error
	UpdateUserLesson(ctx context.Context, l *model.UserLesson) error
	DeleteUserLessons(ctx context.Context, userID string) error
}
