package xp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// SeasonSnapshotSize is the number of users archived per season snapshot.
const SeasonSnapshotSize = 100

// ResetWeekly zeroes every user's weekly XP counter.
func (e *Engine) ResetWeekly(ctx context.Context) error {
	if err := e.store.RunInTx(ctx, func(q store.Queries) error {
		return q.ResetWeeklyXP(ctx)
	}); err != nil {
		return fmt.Errorf("reset weekly xp: %w", err)
	}
	slog.Info("weekly xp reset")
	return nil
}

// SnapshotSeason archives the season XP of the top limit users under the
// given timeframe label, then zeroes every season counter. Both happen in
// one unit of work.
func (e *Engine) SnapshotSeason(ctx context.Context, timeframe string, limit int) (int, error) {
	if limit <= 0 {
		limit = SeasonSnapshotSize
	}
	asOf := e.now().UTC()
	var n int

	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		top, err := q.TopUsersByXP(ctx, store.BoardSeason, limit)
		if err != nil {
			return err
		}
		for _, u := range top {
			s := &model.XPSnapshot{UserID: u.ID, Timeframe: timeframe, AsOf: asOf, XP: u.XPCurrentSeason}
			if err := q.InsertXPSnapshot(ctx, s); err != nil {
				return err
			}
		}
		n = len(top)
		return q.ResetSeasonXP(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("snapshot season %s: %w", timeframe, err)
	}
	slog.Info("season xp archived", "timeframe", timeframe, "users", n)
	return n, nil
}

// RecalcWeekly rebuilds every weekly counter from the XP log since Monday
// 00:00 UTC of the current week. Users with no XP this week are zeroed.
func (e *Engine) RecalcWeekly(ctx context.Context) (int, error) {
	since := WeekStart(e.now())
	var n int

	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		sums, err := q.SumXPByUserSince(ctx, since)
		if err != nil {
			return err
		}
		if err := q.ResetWeeklyXP(ctx); err != nil {
			return err
		}
		for userID, xp := range sums {
			if err := q.SetWeeklyXP(ctx, userID, xp); err != nil {
				return err
			}
		}
		n = len(sums)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recalculate weekly xp: %w", err)
	}
	slog.Info("weekly xp recalculated", "since", since, "users", n)
	return n, nil
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}
