package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

// --- Stats ---

const statsColumns = `s.portfolio_id, s.total_net_worth::TEXT, s.total_book_value::TEXT, s.total_gain::TEXT, s.updated_at`

func (q *pgQueries) GetStats(ctx context.Context, portfolioID string) (*model.PortfolioStats, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM portfolio_stats s WHERE s.portfolio_id = $1`+q.forUpdate(), portfolioID)
	s, err := scanStats(row)
	if err != nil {
		return nil, wrap("get stats "+portfolioID, err)
	}
	return s, nil
}

func (q *pgQueries) InsertStats(ctx context.Context, s *model.PortfolioStats) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO portfolio_stats (portfolio_id, total_net_worth, total_book_value, total_gain, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)`,
		s.PortfolioID, s.NetWorth.String(), s.BookValue.String(), s.Gain.String(), s.UpdatedAt,
	)
	return wrap("insert stats", err)
}

func (q *pgQueries) UpdateStats(ctx context.Context, s *model.PortfolioStats) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE portfolio_stats
		 SET total_net_worth = $2::NUMERIC, total_book_value = $3::NUMERIC, total_gain = $4::NUMERIC, updated_at = $5
		 WHERE portfolio_id = $1`,
		s.PortfolioID, s.NetWorth.String(), s.BookValue.String(), s.Gain.String(), s.UpdatedAt,
	)
	return affected("update stats", tag, err)
}

func (q *pgQueries) TopPortfoliosByGain(ctx context.Context, limit int) ([]model.PortfolioStats, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+statsColumns+` FROM portfolio_stats s
		 JOIN portfolios p ON p.id = s.portfolio_id
		 WHERE p.is_public AND p.status = 'active'
		 ORDER BY s.total_gain DESC, s.portfolio_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("top portfolios", err)
	}
	stats, err := collect(rows, scanStats)
	return stats, wrap("top portfolios", err)
}

func (q *pgQueries) DeleteStats(ctx context.Context, portfolioID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM portfolio_stats WHERE portfolio_id = $1`, portfolioID)
	return wrap("delete stats", err)
}

func scanStats(row rowScanner) (*model.PortfolioStats, error) {
	var s model.PortfolioStats
	var netWorth, book, gain string
	if err := row.Scan(&s.PortfolioID, &netWorth, &book, &gain, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.NetWorth, _ = decimal.NewFromString(netWorth)
	s.BookValue, _ = decimal.NewFromString(book)
	s.Gain, _ = decimal.NewFromString(gain)
	return &s, nil
}

// --- Pricing snapshots ---

func (q *pgQueries) GetLatestPrice(ctx context.Context, instrumentID string) (*model.LatestPrice, error) {
	var p model.LatestPrice
	var price string
	err := q.db.QueryRow(ctx,
		`SELECT instrument_id, price::TEXT, as_of FROM latest_prices WHERE instrument_id = $1`, instrumentID).
		Scan(&p.InstrumentID, &price, &p.AsOf)
	if err != nil {
		return nil, wrap("get latest price "+instrumentID, err)
	}
	p.Price, _ = decimal.NewFromString(price)
	return &p, nil
}

func (q *pgQueries) PutLatestPrice(ctx context.Context, p *model.LatestPrice) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO latest_prices (instrument_id, price, as_of)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (instrument_id) DO UPDATE SET price = EXCLUDED.price, as_of = EXCLUDED.as_of`,
		p.InstrumentID, p.Price.String(), p.AsOf,
	)
	return wrap("put latest price", err)
}

func (q *pgQueries) ListPriceBars(ctx context.Context, instrumentID string, tf model.Timeframe, since time.Time) ([]model.PriceBar, error) {
	rows, err := q.db.Query(ctx,
		`SELECT instrument_id, timeframe, as_of, price_open::TEXT, price_high::TEXT,
		        price_low::TEXT, price_close::TEXT, volume::TEXT
		 FROM price_bars
		 WHERE instrument_id = $1 AND timeframe = $2 AND as_of >= $3
		 ORDER BY as_of`, instrumentID, string(tf), since)
	if err != nil {
		return nil, wrap("list price bars", err)
	}
	bars, err := collect(rows, scanPriceBar)
	return bars, wrap("list price bars", err)
}

func (q *pgQueries) InsertPriceBar(ctx context.Context, b *model.PriceBar) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO price_bars (instrument_id, timeframe, as_of, price_open, price_high, price_low, price_close, volume)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)
		 ON CONFLICT (instrument_id, timeframe, as_of) DO NOTHING`,
		b.InstrumentID, string(b.Timeframe), b.AsOf,
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
	)
	return wrap("insert price bar", err)
}

func scanPriceBar(row rowScanner) (*model.PriceBar, error) {
	var b model.PriceBar
	var tf, open, high, low, closePrice, volume string
	if err := row.Scan(&b.InstrumentID, &tf, &b.AsOf, &open, &high, &low, &closePrice, &volume); err != nil {
		return nil, err
	}
	b.Timeframe = model.Timeframe(tf)
	b.Open, _ = decimal.NewFromString(open)
	b.High, _ = decimal.NewFromString(high)
	b.Low, _ = decimal.NewFromString(low)
	b.Close, _ = decimal.NewFromString(closePrice)
	b.Volume, _ = decimal.NewFromString(volume)
	return &b, nil
}

// --- XP ---

func (q *pgQueries) InsertXPTransaction(ctx context.Context, x *model.XPTransaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO xp_transactions (id, user_id, amount, reason, detail, credited_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		x.ID, x.UserID, x.Amount, string(x.Reason), x.Detail, x.CreditedAt,
	)
	return wrap("insert xp transaction", err)
}

func (q *pgQueries) SumXPSince(ctx context.Context, userID string, reason model.XPReason, since time.Time) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_transactions
		 WHERE user_id = $1 AND reason = $2 AND credited_at > $3`,
		userID, string(reason), since).Scan(&sum)
	return sum, wrap("sum xp", err)
}

func (q *pgQueries) SumXPByUserSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id, SUM(amount) FROM xp_transactions
		 WHERE credited_at >= $1 GROUP BY user_id`, since)
	if err != nil {
		return nil, wrap("sum xp by user", err)
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var userID string
		var sum int64
		if err := rows.Scan(&userID, &sum); err != nil {
			return nil, wrap("sum xp by user", err)
		}
		sums[userID] = sum
	}
	return sums, wrap("sum xp by user", rows.Err())
}

func (q *pgQueries) ListXPTransactions(ctx context.Context, userID string, limit int) ([]model.XPTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, amount, reason, detail, credited_at FROM xp_transactions
		 WHERE user_id = $1 ORDER BY credited_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, wrap("list xp transactions", err)
	}
	xs, err := collect(rows, func(row rowScanner) (*model.XPTransaction, error) {
		var x model.XPTransaction
		var reason string
		if err := row.Scan(&x.ID, &x.UserID, &x.Amount, &reason, &x.Detail, &x.CreditedAt); err != nil {
			return nil, err
		}
		x.Reason = model.XPReason(reason)
		return &x, nil
	})
	return xs, wrap("list xp transactions", err)
}

func (q *pgQueries) InsertXPSnapshot(ctx context.Context, s *model.XPSnapshot) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO xp_snapshots (user_id, timeframe, as_of, xp) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, timeframe, as_of) DO UPDATE SET xp = EXCLUDED.xp`,
		s.UserID, s.Timeframe, s.AsOf, s.XP,
	)
	return wrap("insert xp snapshot", err)
}

func (q *pgQueries) DeleteXPTransactions(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM xp_transactions WHERE user_id = $1`, userID)
	return wrap("delete xp transactions", err)
}

func (q *pgQueries) DeleteXPSnapshots(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM xp_snapshots WHERE user_id = $1`, userID)
	return wrap("delete xp snapshots", err)
}

// --- Lessons ---

func (q *pgQueries) GetUserLesson(ctx context.Context, userID, lessonID string) (*model.UserLesson, error) {
	var l model.UserLesson
	err := q.db.QueryRow(ctx,
		`SELECT user_id, lesson_id, completed_at FROM user_lessons
		 WHERE user_id = $1 AND lesson_id = $2`+q.forUpdate(), userID, lessonID).
		Scan(&l.UserID, &l.LessonID, &l.CompletedAt)
	if err != nil {
		return nil, wrap("get user lesson", err)
	}
	return &l, nil
}

func (q *pgQueries) InsertUserLesson(ctx context.Context, l *model.UserLesson) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO user_lessons (user_id, lesson_id, completed_at) VALUES ($1, $2, $3)`,
		l.UserID, l.LessonID, l.CompletedAt,
	)
	return wrap("insert user lesson", err)
}

func (q *pgQueries) UpdateUserLesson(ctx context.Context, l *model.UserLesson) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE user_lessons SET completed_at = $3 WHERE user_id = $1 AND lesson_id = $2`,
		l.UserID, l.LessonID, l.CompletedAt,
	)
	return affected("update user lesson", tag, err)
}

func (q *pgQueries) DeleteUserLessons(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_lessons WHERE user_id = $1`, userID)
	return wrap("delete user lessons", err)
}
