package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/adapters/datadog"
	"github.com/incidentwatch/sentinel/internal/adapters/dbinvest"
	"github.com/incidentwatch/sentinel/internal/adapters/gitlab"
	"github.com/incidentwatch/sentinel/internal/adapters/llm"
	"github.com/incidentwatch/sentinel/internal/adapters/sourcegraph"
	"github.com/incidentwatch/sentinel/internal/adapters/teams"
	"github.com/incidentwatch/sentinel/internal/analysis"
	"github.com/incidentwatch/sentinel/internal/baseline"
	"github.com/incidentwatch/sentinel/internal/cache"
	"github.com/incidentwatch/sentinel/internal/circuit"
	"github.com/incidentwatch/sentinel/internal/config"
	"github.com/incidentwatch/sentinel/internal/investigation"
	"github.com/incidentwatch/sentinel/internal/logging"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/persistence"
	"github.com/incidentwatch/sentinel/internal/registry"
	"github.com/incidentwatch/sentinel/internal/scheduler"
	"github.com/incidentwatch/sentinel/internal/telemetry"
	"github.com/incidentwatch/sentinel/internal/workflow"
)

const memoryCacheSize = 10000

func runServer() {
	// Baseline defaults for early startup logs; re-initialized from config.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "sentinel",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "sentinel",
	})
	log.Info().Str("version", Version).Msg("Starting Sentinel incident-response server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm := telemetry.Get()
	startMetricsServer(ctx, cfg.ListenAddr)

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open incident store")
	}
	defer store.Close()

	reg := registry.New(cfg.MonitorsFile)
	if err := reg.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load monitors")
	}

	kv := buildCache(ctx, cfg, tm)

	ddClient := datadog.New(datadog.Config{
		BaseURL: cfg.DatadogBaseURL,
		APIKey:  cfg.DatadogAPIKey,
		AppKey:  cfg.DatadogAppKey,
		Timeout: cfg.MetricsTimeout,
	})
	gitClient := gitlab.New(gitlab.Config{
		BaseURL: cfg.GitlabBaseURL,
		Token:   cfg.GitlabToken,
		Timeout: cfg.GitTimeout,
	})

	var searcher investigation.CodeSearcher
	if cfg.SourcegraphBaseURL != "" {
		searcher = sourcegraph.New(sourcegraph.Config{
			BaseURL: cfg.SourcegraphBaseURL,
			Token:   cfg.SourcegraphToken,
			Timeout: cfg.CodeSearchTimeout,
		})
	}

	var dbProbe investigation.DBInvestigator
	if cfg.InvestigationDSN != "" {
		investigator, err := dbinvest.New(dbinvest.Config{
			DSN:          cfg.InvestigationDSN,
			QueryTimeout: cfg.DBQueryTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open investigation database")
		}
		defer investigator.Close()
		dbProbe = investigator
	}

	baselines := baseline.New(ddClient, kv, cfg.BaselineTTL)

	orchestrator := investigation.New(ddClient, gitClient, searcher, dbProbe, tm, investigation.Config{
		CollectorTimeout:       cfg.CollectorTimeout,
		RecentDeploymentWindow: cfg.RecentDeploymentWindow,
		CommitLookbackWindow:   cfg.CommitLookbackWindow,
	})

	breaker := circuit.NewBreaker("llm", circuit.DefaultConfig())
	breaker.SetOnStateChange(func(from, to circuit.State) {
		tm.BreakerChanges.WithLabelValues(from.String(), to.String()).Inc()
	})

	provider := llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel, 0)
	analyzer := analysis.New(provider, breaker, kv, store, tm, analysis.Config{
		ResponseTTL:     cfg.LLMResponseTTL,
		CostPer1KInput:  cfg.LLMCostPer1KInput,
		CostPer1KOutput: cfg.LLMCostPer1KOutput,
	})

	var notifier workflow.Notifier
	if cfg.TeamsWebhookURL != "" {
		notifier = teams.New(teams.Config{DefaultWebhookURL: cfg.TeamsWebhookURL})
	} else {
		notifier = teams.New(teams.Config{})
	}

	pipeline := workflow.New(reg, orchestrator, analyzer, notifier, tm)

	sched := scheduler.New(reg, ddClient, baselines, store, func(ctx context.Context, incident *models.Incident, monitor *models.Monitor) {
		pipeline.Run(ctx, incident)
	}, tm)
	sched.Start(ctx)
	defer sched.Stop()

	watcher := registry.NewWatcher(reg, cfg.MonitorsFile, sched.Reload)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("Monitor file watcher stopped")
		}
	}()

	// SIGHUP reloads monitors; SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP received, reloading monitors")
			if err := reg.Reload(); err != nil {
				log.Error().Err(err).Msg("Monitor reload failed, previous set kept")
				continue
			}
			sched.Reload()
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		break
	}
}

// buildCache selects the Redis backend when an address is configured and
// the in-process TTL map otherwise.
func buildCache(ctx context.Context, cfg *config.Config, tm *telemetry.Metrics) cache.Cache {
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis cache")
		return cache.Instrument(redisCache, tm)
	}
	log.Info().Msg("Using in-memory cache")
	return cache.Instrument(cache.NewMemory(memoryCacheSize), tm)
}
