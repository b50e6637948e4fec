// Package jobs runs the periodic maintenance of the engine on cron
// schedules: XP counter resets, season archiving, credit refills and a
// sweep of stale portfolio stats.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/xp"
)

// Disabled turns a job off when used as its schedule.
const Disabled = "off"

// Config holds the cron schedules, with seconds. Each job is disabled by
// setting its schedule to "off".
type Config struct {
	WeeklyReset    string `env:"CRON_WEEKLY_RESET" envDefault:"0 0 0 * * MON"`
	SeasonSnapshot string `env:"CRON_SEASON_SNAPSHOT" envDefault:"0 0 0 1 * *"`
	CreditRefill   string `env:"CRON_CREDIT_REFILL" envDefault:"0 0 0 * * *"`
	StatsRefresh   string `env:"CRON_STATS_REFRESH" envDefault:"0 */15 * * * *"`
}

// XPMaintainer resets and archives the XP counters.
type XPMaintainer interface {
	ResetWeekly(ctx context.Context) error
	SnapshotSeason(ctx context.Context, timeframe string, limit int) (int, error)
}

// CreditRefiller tops up AI credit balances.
type CreditRefiller interface {
	RefillCredits(ctx context.Context) (int64, error)
}

// StatsRefresher recomputes stale stats of every active portfolio.
type StatsRefresher interface {
	RefreshAll(ctx context.Context, timeout time.Duration) (int, error)
}

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler whose jobs run with ctx.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		ctx:  ctx,
	}
}

// Add registers a job. An empty or "off" spec skips it.
func (s *Scheduler) Add(name, spec string, job func(context.Context) error) error {
	if spec == "" || spec == Disabled {
		slog.Info("job disabled", "job", name)
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(name, job) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	slog.Info("job registered", "job", name, "schedule", spec)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string, job func(context.Context) error) error {
	start := time.Now()
	err := job(s.ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		slog.Error("job failed", "job", name, "err", err)
		return err
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	slog.Debug("job completed", "job", name, "took", time.Since(start))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Deps are the engines the maintenance jobs drive.
type Deps struct {
	XP           XPMaintainer
	Accounts     CreditRefiller
	Stats        StatsRefresher
	StatsTimeout time.Duration
	Now          func() time.Time
}

// Job is one named maintenance task and its schedule.
type Job struct {
	Name string
	Spec string
	Run  func(context.Context) error
}

// Jobs returns the maintenance jobs driven by d.
func Jobs(cfg Config, d Deps) []Job {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []Job{
		{"xp_weekly_reset", cfg.WeeklyReset, d.XP.ResetWeekly},
		{"xp_season_snapshot", cfg.SeasonSnapshot, func(ctx context.Context) error {
			_, err := d.XP.SnapshotSeason(ctx, SeasonLabel(d.Now()), xp.SeasonSnapshotSize)
			return err
		}},
		{"credit_refill", cfg.CreditRefill, func(ctx context.Context) error {
			_, err := d.Accounts.RefillCredits(ctx)
			return err
		}},
		{"stats_refresh", cfg.StatsRefresh, func(ctx context.Context) error {
			_, err := d.Stats.RefreshAll(ctx, d.StatsTimeout)
			return err
		}},
	}
}

// Register adds every maintenance job to s.
func Register(s *Scheduler, cfg Config, d Deps) error {
	for _, j := range Jobs(cfg, d) {
		if err := s.Add(j.Name, j.Spec, j.Run); err != nil {
			return err
		}
	}
	return nil
}

// SeasonLabel names the season that ended just before t, one season per
// calendar month: "season-2006-01".
func SeasonLabel(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return "season-" + first.AddDate(0, 0, -1).Format("2006-01")
}
