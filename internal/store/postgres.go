package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates any missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w: %w", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrStorage, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgQueries{db: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w: %w", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(q Queries) error) error {
	return fn(&pgQueries{db: s.pool})
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries implements Queries. Inside a transaction single-row reads take a
// row lock with SELECT ... FOR UPDATE.
type pgQueries struct {
	db   dbtx
	lock bool
}

func (q *pgQueries) forUpdate() string {
	if q.lock {
		return " FOR UPDATE"
	}
	return ""
}

// --- Users ---

const userColumns = `id, display_name, status, referrer_id, is_premium, credit_balance,
	xp_total, xp_current_week, xp_current_season, created_at, updated_at, last_active_at`

func (q *pgQueries) CreateUser(ctx context.Context, u *model.User) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.DisplayName, u.Status, u.ReferrerID, u.IsPremium, u.CreditBalance,
		u.XPTotal, u.XPCurrentWeek, u.XPCurrentSeason, u.CreatedAt, u.UpdatedAt, u.LastActiveAt,
	)
	return wrap("create user", err)
}

func (q *pgQueries) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`+q.forUpdate(), id)
	u, err := scanUser(row)
	if err != nil {
		return nil, wrap("get user "+id, err)
	}
	return u, nil
}

func (q *pgQueries) SetReferrer(ctx context.Context, userID, referrerID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET referrer_id = $2, updated_at = NOW() WHERE id = $1`, userID, referrerID)
	return affected("set referrer", tag, err)
}

func (q *pgQueries) ClearReferrer(ctx context.Context, referrerID string) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET referrer_id = NULL WHERE referrer_id = $1`, referrerID)
	return wrap("clear referrer", err)
}

func (q *pgQueries) SetPremium(ctx context.Context, userID string, premium bool) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET is_premium = $2, updated_at = NOW() WHERE id = $1`, userID, premium)
	return affected("set premium", tag, err)
}

func (q *pgQueries) AddUserXP(ctx context.Context, userID string, delta int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users
		 SET xp_total = xp_total + $2,
		     xp_current_week = xp_current_week + $2,
		     xp_current_season = xp_current_season + $2
		 WHERE id = $1`, userID, delta)
	return affected("add user xp", tag, err)
}

func (q *pgQueries) AdjustCredits(ctx context.Context, userID string, delta int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET credit_balance = GREATEST(credit_balance + $2, 0) WHERE id = $1`,
		userID, delta)
	return affected("adjust credits", tag, err)
}

func (q *pgQueries) RefillCredits(ctx context.Context, floor int64) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET credit_balance = $1 WHERE credit_balance < $1`, floor)
	if err != nil {
		return 0, wrap("refill credits", err)
	}
	return tag.RowsAffected(), nil
}

func (q *pgQueries) ResetWeeklyXP(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET xp_current_week = 0`)
	return wrap("reset weekly xp", err)
}

func (q *pgQueries) ResetSeasonXP(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET xp_current_season = 0`)
	return wrap("reset season xp", err)
}

func (q *pgQueries) SetWeeklyXP(ctx context.Context, userID string, xp int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET xp_current_week = $2 WHERE id = $1`, userID, xp)
	return affected("set weekly xp", tag, err)
}

func (q *pgQueries) TopUsersByXP(ctx context.Context, board XPBoard, limit int) ([]model.User, error) {
	column, err := boardColumn(board)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE status = 'active'
		 ORDER BY `+column+` DESC, id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("top users", err)
	}
	users, err := collect(rows, scanUser)
	return users, wrap("top users", err)
}

func (q *pgQueries) DeleteUser(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return affected("delete user", tag, err)
}

func boardColumn(board XPBoard) (string, error) {
	switch board {
	case BoardWeekly:
		return "xp_current_week", nil
	case BoardSeason:
		return "xp_current_season", nil
	case BoardTotal:
		return "xp_total", nil
	}
	return "", fmt.Errorf("%w: unknown leaderboard %q", model.ErrConfiguration, board)
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Status, &u.ReferrerID, &u.IsPremium, &u.CreditBalance,
		&u.XPTotal, &u.XPCurrentWeek, &u.XPCurrentSeason, &u.CreatedAt, &u.UpdatedAt, &u.LastActiveAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Portfolios ---

const portfolioColumns = `id, user_id, character_id, name, cash_balance::TEXT, status, is_public,
	created_at, updated_at, last_claimed_intraday_reward, last_claimed_daily_reward, last_claimed_weekly_reward`

func (q *pgQueries) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, character_id, name, cash_balance, status, is_public,
		        created_at, updated_at, last_claimed_intraday_reward, last_claimed_daily_reward, last_claimed_weekly_reward)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.CharacterID, p.Name, p.CashBalance.String(), string(p.Status), p.IsPublic,
		p.CreatedAt, p.UpdatedAt, p.LastClaimedIntraday, p.LastClaimedDaily, p.LastClaimedWeekly,
	)
	return wrap("create portfolio", err)
}

func (q *pgQueries) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	row := q.db.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`+q.forUpdate(), id)
	p, err := scanPortfolio(row)
	if err != nil {
		return nil, wrap("get portfolio "+id, err)
	}
	return p, nil
}

func (q *pgQueries) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE portfolios
		 SET character_id = $2, name = $3, cash_balance = $4::NUMERIC, status = $5, is_public = $6,
		     updated_at = $7, last_claimed_intraday_reward = $8, last_claimed_daily_reward = $9,
		     last_claimed_weekly_reward = $10
		 WHERE id = $1`,
		p.ID, p.CharacterID, p.Name, p.CashBalance.String(), string(p.Status), p.IsPublic,
		p.UpdatedAt, p.LastClaimedIntraday, p.LastClaimedDaily, p.LastClaimedWeekly,
	)
	return affected("update portfolio", tag, err)
}

func (q *pgQueries) CountActivePortfolios(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM portfolios WHERE user_id = $1 AND status = 'active'`, userID).Scan(&n)
	return n, wrap("count portfolios", err)
}

func (q *pgQueries) ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios
		 WHERE user_id = $1 AND status = 'active' ORDER BY created_at`, userID)
	if err != nil {
		return nil, wrap("list portfolios", err)
	}
	portfolios, err := collect(rows, scanPortfolio)
	return portfolios, wrap("list portfolios", err)
}

func (q *pgQueries) ListActivePortfolioIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM portfolios WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, wrap("list portfolio ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrap("list portfolio ids", err)
}

func (q *pgQueries) ListUserPortfolioIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM portfolios WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, wrap("list user portfolio ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrap("list user portfolio ids", err)
}

func (q *pgQueries) DeletePortfolio(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	return affected("delete portfolio", tag, err)
}

func scanPortfolio(row rowScanner) (*model.Portfolio, error) {
	var p model.Portfolio
	var cash, status string
	if err := row.Scan(&p.ID, &p.UserID, &p.CharacterID, &p.Name, &cash, &status, &p.IsPublic,
		&p.CreatedAt, &p.UpdatedAt, &p.LastClaimedIntraday, &p.LastClaimedDaily, &p.LastClaimedWeekly); err != nil {
		return nil, err
	}
	p.CashBalance, _ = decimal.NewFromString(cash)
	p.Status = model.PortfolioStatus(status)
	return &p, nil
}

// --- Holdings ---

const holdingColumns = `portfolio_id, instrument_id, quantity::TEXT, average_price::TEXT, created_at, updated_at`

func (q *pgQueries) GetHolding(ctx context.Context, portfolioID, instrumentID string) (*model.Holding, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE portfolio_id = $1 AND instrument_id = $2`+q.forUpdate(), portfolioID, instrumentID)
	h, err := scanHolding(row)
	if err != nil {
		return nil, wrap("get holding", err)
	}
	return h, nil
}

func (q *pgQueries) InsertHolding(ctx context.Context, h *model.Holding) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO holdings (portfolio_id, instrument_id, quantity, average_price, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		h.PortfolioID, h.InstrumentID, h.Quantity.String(), h.AveragePrice.String(), h.CreatedAt, h.UpdatedAt,
	)
	return wrap("insert holding", err)
}

func (q *pgQueries) UpdateHolding(ctx context.Context, h *model.Holding) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE holdings SET quantity = $3::NUMERIC, average_price = $4::NUMERIC, updated_at = $5
		 WHERE portfolio_id = $1 AND instrument_id = $2`,
		h.PortfolioID, h.InstrumentID, h.Quantity.String(), h.AveragePrice.String(), h.UpdatedAt,
	)
	return affected("update holding", tag, err)
}

func (q *pgQueries) ListHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE portfolio_id = $1 ORDER BY instrument_id`, portfolioID)
	if err != nil {
		return nil, wrap("list holdings", err)
	}
	holdings, err := collect(rows, scanHolding)
	return holdings, wrap("list holdings", err)
}

func (q *pgQueries) ListHoldingsByInstrument(ctx context.Context, instrumentID string) ([]model.Holding, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE instrument_id = $1 ORDER BY portfolio_id`+q.forUpdate(),
		instrumentID)
	if err != nil {
		return nil, wrap("list holdings by instrument", err)
	}
	holdings, err := collect(rows, scanHolding)
	return holdings, wrap("list holdings by instrument", err)
}

func (q *pgQueries) DeleteHoldings(ctx context.Context, portfolioID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM holdings WHERE portfolio_id = $1`, portfolioID)
	return wrap("delete holdings", err)
}

func scanHolding(row rowScanner) (*model.Holding, error) {
	var h model.Holding
	var qty, avg string
	if err := row.Scan(&h.PortfolioID, &h.InstrumentID, &qty, &avg, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Quantity, _ = decimal.NewFromString(qty)
	h.AveragePrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

// --- Portfolio transactions ---

const transactionColumns = `t.id, t.portfolio_id, t.instrument_id, t.transaction_type, t.quantity::TEXT,
	t.value::TEXT, t.ex_avg_price::TEXT, t.status, t.message, t.created_at, t.executed_at`

func (q *pgQueries) InsertTransaction(ctx context.Context, t *model.PortfolioTransaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO portfolio_transactions (id, portfolio_id, instrument_id, transaction_type, quantity,
		        value, ex_avg_price, status, message, created_at, executed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		t.ID, t.PortfolioID, t.InstrumentID, string(t.Type), t.Quantity.String(),
		nullDecimalArg(t.Value), nullDecimalArg(t.ExAvgPrice), string(t.Status), t.Message,
		t.CreatedAt, t.ExecutedAt,
	)
	return wrap("insert transaction", err)
}

func (q *pgQueries) GetTransaction(ctx context.Context, id string) (*model.PortfolioTransaction, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM portfolio_transactions t WHERE t.id = $1`+q.forUpdate(), id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, wrap("get transaction "+id, err)
	}
	return t, nil
}

func (q *pgQueries) UpdateTransaction(ctx context.Context, t *model.PortfolioTransaction) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE portfolio_transactions
		 SET value = $2::NUMERIC, ex_avg_price = $3::NUMERIC, status = $4, executed_at = $5
		 WHERE id = $1`,
		t.ID, nullDecimalArg(t.Value), nullDecimalArg(t.ExAvgPrice), string(t.Status), t.ExecutedAt,
	)
	return affected("update transaction", tag, err)
}

func (q *pgQueries) CountBuysSince(ctx context.Context, portfolioID, instrumentID string, since time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM portfolio_transactions
		 WHERE portfolio_id = $1 AND instrument_id = $2 AND transaction_type = 'buy'
		   AND status = 'executed' AND executed_at > $3`,
		portfolioID, instrumentID, since).Scan(&n)
	return n, wrap("count buys", err)
}

func (q *pgQueries) CountBuyInstrumentsSince(ctx context.Context, portfolioID string, since time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT instrument_id) FROM portfolio_transactions
		 WHERE portfolio_id = $1 AND instrument_id IS NOT NULL AND transaction_type = 'buy'
		   AND status = 'executed' AND executed_at > $2`,
		portfolioID, since).Scan(&n)
	return n, wrap("count buy instruments", err)
}

func (q *pgQueries) CountMessagesSince(ctx context.Context, portfolioID string, since time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM portfolio_transactions
		 WHERE portfolio_id = $1 AND instrument_id IS NOT NULL AND message IS NOT NULL AND message <> ''
		   AND status = 'executed' AND executed_at > $2`,
		portfolioID, since).Scan(&n)
	return n, wrap("count messages", err)
}

func (q *pgQueries) SumTransactionValues(ctx context.Context, portfolioID string, typ model.TransactionType) (decimal.Decimal, error) {
	var sum string
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0)::TEXT FROM portfolio_transactions
		 WHERE portfolio_id = $1 AND transaction_type = $2 AND status = 'executed'`,
		portfolioID, string(typ)).Scan(&sum)
	if err != nil {
		return decimal.Zero, wrap("sum transaction values", err)
	}
	d, _ := decimal.NewFromString(sum)
	return d, nil
}

func (q *pgQueries) ListTransactions(ctx context.Context, portfolioID string, limit, offset int) ([]model.PortfolioTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM portfolio_transactions t
		 WHERE t.portfolio_id = $1
		 ORDER BY t.created_at DESC, t.id
		 LIMIT $2 OFFSET $3`, portfolioID, limit, offset)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	txs, err := collect(rows, scanTransaction)
	return txs, wrap("list transactions", err)
}

func (q *pgQueries) ListPublicTrades(ctx context.Context, limit int) ([]model.PortfolioTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM portfolio_transactions t
		 JOIN portfolios p ON p.id = t.portfolio_id
		 WHERE p.is_public AND p.status = 'active'
		   AND t.status = 'executed' AND t.transaction_type IN ('buy', 'sell')
		 ORDER BY t.executed_at DESC, t.id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("list public trades", err)
	}
	txs, err := collect(rows, scanTransaction)
	return txs, wrap("list public trades", err)
}

func (q *pgQueries) DeleteTransactions(ctx context.Context, portfolioID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM portfolio_transactions WHERE portfolio_id = $1`, portfolioID)
	return wrap("delete transactions", err)
}

func scanTransaction(row rowScanner) (*model.PortfolioTransaction, error) {
	var t model.PortfolioTransaction
	var typ, qty, status string
	var value, exAvg *string
	if err := row.Scan(&t.ID, &t.PortfolioID, &t.InstrumentID, &typ, &qty,
		&value, &exAvg, &status, &t.Message, &t.CreatedAt, &t.ExecutedAt); err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	t.Quantity, _ = decimal.NewFromString(qty)
	t.Value = nullDecimal(value)
	t.ExAvgPrice = nullDecimal(exAvg)
	return &t, nil
}

// --- Helpers ---

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// wrap maps pgx errors onto the store error taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func affected(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return wrap(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func nullDecimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
