package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/config"
	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/llm"
	"github.com/panelsim/panelsim/internal/llm/driver"
	"github.com/panelsim/panelsim/internal/llm/driver/gemini"
	"github.com/panelsim/panelsim/internal/llm/driver/openai"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
	"github.com/panelsim/panelsim/internal/stats"
	"github.com/panelsim/panelsim/internal/survey"
)

// runtime holds the components shared by serve and the CLI commands.
type runtime struct {
	cfg     *config.Config
	roster  *respondent.Roster
	tracker *quota.Tracker
	archive *archive.Archive
	stats   stats.Recorder
	redis   *stats.Redis
	survey  *survey.Service
}

type runtimeOptions struct {
	// requireArchive fails the build when the archive cannot be opened.
	// Otherwise the archive is skipped with a warning.
	requireArchive bool
	// skipStats leaves the stats sink unconfigured.
	skipStats bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	logger := observability.Logger()

	roster, err := respondent.Load(cfg.Roster.Path)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	tracker := quota.NewTracker(quota.Limits{
		RPM:    cfg.Quota.RPMLimit,
		RPD:    cfg.Quota.RPDLimit,
		Margin: cfg.Quota.PacingMargin,
	})

	drv, err := newDriver(cfg.LLM)
	if err != nil {
		return nil, err
	}
	temperature := cfg.LLM.Temperature
	asker := &llm.Asker{
		Driver:      drv,
		Model:       cfg.LLM.Model,
		Quota:       tracker,
		Temperature: &temperature,
	}

	rt := &runtime{cfg: cfg, roster: roster, tracker: tracker}
	var observers []dispatch.Observer

	if cfg.Store.Enabled {
		arc, err := archive.Open(ctx, cfg.Store)
		switch {
		case err == nil:
			rt.archive = arc
			observers = append(observers, arc)
		case opts.requireArchive:
			return nil, fmt.Errorf("open archive: %w", err)
		default:
			logger.Warn("Batch archive unavailable, outcomes will not be persisted", zap.Error(err))
		}
	} else if opts.requireArchive {
		return nil, errors.New("batch archive is disabled (store.enabled=false)")
	}

	if !opts.skipStats {
		rec, err := rt.openStats(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if rec != nil {
			rt.stats = rec
			observers = append(observers, stats.Observer{Recorder: rec})
		}
	}

	rt.survey = &survey.Service{
		Roster:      roster,
		Quota:       tracker,
		Dispatcher:  dispatch.New(tracker, observers...),
		Asker:       asker,
		Concurrency: cfg.Dispatch.Concurrency,
	}

	logger.Debug("Runtime ready",
		zap.Int("respondents", roster.Len()),
		zap.Int("rpm_limit", cfg.Quota.RPMLimit),
		zap.Int("rpd_limit", cfg.Quota.RPDLimit),
		zap.String("provider", drv.Name()),
		zap.Bool("archive", rt.archive != nil),
		zap.String("stats", cfg.Stats.Backend))
	return rt, nil
}

func (rt *runtime) openStats(ctx context.Context) (stats.Recorder, error) {
	switch rt.cfg.Stats.Backend {
	case "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     rt.cfg.Stats.RedisAddr,
			Password: rt.cfg.Stats.RedisPassword,
			DB:       rt.cfg.Stats.RedisDB,
		})
		rec := stats.NewRedis(client, stats.WithPrefix(rt.cfg.Stats.Prefix), stats.WithTTL(rt.cfg.Stats.TTL))
		if err := rec.Ping(ctx); err != nil {
			_ = rec.Close()
			return nil, fmt.Errorf("connect stats redis %s: %w", rt.cfg.Stats.RedisAddr, err)
		}
		rt.redis = rec
		return rec, nil
	default:
		return stats.NewMemory(), nil
	}
}

// Close releases the archive and the stats connection.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.archive != nil {
		if err := rt.archive.Close(); err != nil {
			observability.Logger().Warn("Failed to close archive", zap.Error(err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			observability.Logger().Warn("Failed to close stats redis", zap.Error(err))
		}
	}
}

func newDriver(cfg config.LLMConfig) (driver.Driver, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		observability.Logger().Warn("No generation API key configured; calls will fail",
			zap.String("provider", cfg.Provider))
	}
	switch cfg.Provider {
	case "gemini":
		c := gemini.NewClient(cfg.BaseURL, cfg.APIKey)
		c.Timeout = cfg.Timeout
		return c, nil
	case "openai":
		c := openai.NewClient(cfg.BaseURL, cfg.APIKey)
		c.Timeout = cfg.Timeout
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
