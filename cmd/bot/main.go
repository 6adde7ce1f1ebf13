// Command bot is the trading process: it wires the broker, market-data
// stack, play store, and strategies together and runs the evaluation cycle
// until stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/capital"
	"github.com/eddiefleurent/michael_scarn/internal/clock"
	"github.com/eddiefleurent/michael_scarn/internal/config"
	"github.com/eddiefleurent/michael_scarn/internal/dashboard"
	"github.com/eddiefleurent/michael_scarn/internal/lifecycle"
	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
	"github.com/eddiefleurent/michael_scarn/internal/orchestrator"
	"github.com/eddiefleurent/michael_scarn/internal/orders"
	"github.com/eddiefleurent/michael_scarn/internal/store"
	"github.com/eddiefleurent/michael_scarn/internal/strategy"
	"github.com/eddiefleurent/michael_scarn/internal/trailing"
)

// Bot owns the wired components for one trading process.
type Bot struct {
	config       *config.Config
	store        store.Interface
	broker       broker.Broker
	orchestrator *orchestrator.Orchestrator
	reconciler   *Reconciler
	dashboard    *dashboard.Server
	cron         *cron.Cron
	logger       *log.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	logger.Printf("Starting bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := buildBot(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build bot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received %s, shutting down at cycle boundary", sig)
		cancel()
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Bot stopped: %v", err)
	}
	logger.Println("Shutdown complete")
}

// buildBot constructs the full dependency graph from the config tree.
func buildBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	st, err := store.NewStore(cfg.StoreRoot())
	if err != nil {
		return nil, fmt.Errorf("opening play store: %w", err)
	}

	tradier, err := broker.NewTradier(broker.TradierConfig{
		APIKey:    cfg.Broker.APIKey,
		AccountID: cfg.Broker.AccountID,
		BaseURL:   cfg.Broker.APIEndpoint,
		Sandbox:   cfg.IsPaperTrading(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building broker client: %w", err)
	}
	brk := broker.NewCircuitBreakerBroker(tradier)

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	cache := marketdata.NewCache(cfg.MarketData.Cache.Enabled, cfg.MarketData.Cache.MaxItems)
	md, err := marketdata.NewManager(providers, marketdata.ManagerConfig{
		Primary:         cfg.MarketData.PrimaryProvider,
		FallbackEnabled: cfg.MarketData.Fallback.Enabled,
		FallbackOrder:   cfg.MarketData.Fallback.Order,
		MaxAttempts:     cfg.MarketData.Fallback.MaxAttempts,
	}, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("building market data manager: %w", err)
	}

	clk := clock.Real{}
	start, end := cfg.SessionHours()
	session := clock.NewYorkSession(start, end)

	exec := orders.NewExecutor(brk, md, logger, orders.ExecutorConfig{
		ContingencyMaxWait: cfg.GetContingencyMaxWait(),
	})
	engine := lifecycle.NewEngine(st, brk, exec, md, clk, logger)
	capitalMgr := capital.NewManager(brk, st, cfg.Capital.Config, logger)
	trailingEngine := trailing.NewEngine(cfg.Trailing, logger)

	var strategies []strategy.Strategy
	if cfg.Orchestration.Enabled {
		strategies, err = strategy.Build(strategy.Deps{
			MarketData: md,
			Broker:     brk,
			Clock:      clk,
			Session:    session,
			Trailing:   trailingEngine,
			Logger:     logger,
		}, cfg.StrategySections())
		if err != nil {
			return nil, fmt.Errorf("building strategies: %w", err)
		}
		for _, s := range strategies {
			logger.Printf("strategy enabled: %s (priority %d)", s.Name(), s.Priority())
		}
	} else {
		logger.Println("strategy orchestration disabled: lifecycle maintenance only")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Strategies: strategies,
		MarketData: md,
		Capital:    capitalMgr,
		Store:      st,
		Executor:   exec,
		Lifecycle:  engine,
		Trailing:   trailingEngine,
		Clock:      clk,
		Session:    session,
		Logger:     logger,
		Limits:     cfg.PlaybookLimits,
	}, orchestrator.Config{
		Mode:               cfg.Orchestration.Mode,
		MaxParallelWorkers: cfg.Orchestration.MaxParallelWorkers,
		DryRun:             cfg.Orchestration.DryRun,
		CycleInterval:      cfg.GetCycleInterval(),
		MaxCycles:          cfg.Schedule.MaxCycles,
	})

	bot := &Bot{
		config:       cfg,
		store:        st,
		broker:       brk,
		orchestrator: orch,
		reconciler:   NewReconciler(brk, st, clk, logger),
		logger:       logger,
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(level)
		}
		bot.dashboard = dashboard.NewServer(dashboard.Config{
			ListenAddr: cfg.Dashboard.ListenAddr,
		}, st, brk, dashLogger)
	}

	if spec := cfg.Schedule.EODRatchetCron; spec != "" {
		c := cron.New(cron.WithLocation(session.Location))
		_, err := c.AddFunc(spec, func() {
			if err := orch.RunEODRatchet(context.Background()); err != nil {
				logger.Printf("end-of-day ratchet failed: %v", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling end-of-day ratchet %q: %w", spec, err)
		}
		bot.cron = c
	}

	return bot, nil
}

// buildProviders instantiates every enabled market-data provider.
func buildProviders(cfg *config.Config) ([]marketdata.Provider, error) {
	var providers []marketdata.Provider
	for name, pc := range cfg.MarketData.Providers {
		if !pc.Enabled {
			continue
		}
		switch name {
		case "tradier":
			p, err := marketdata.NewTradierProvider(marketdata.TradierConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.APIEndpoint,
				Sandbox: cfg.IsPaperTrading(),
			})
			if err != nil {
				return nil, fmt.Errorf("building provider %s: %w", name, err)
			}
			providers = append(providers, p)
		case "yahoo":
			providers = append(providers, marketdata.NewYahooProvider(marketdata.YahooConfig{
				BaseURL: pc.APIEndpoint,
			}))
		default:
			return nil, fmt.Errorf("unknown market data provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no market data providers enabled")
	}
	return providers, nil
}

// Run reconciles the store against the account, starts the auxiliary
// services, and drives trading cycles until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.reconciler.Run(ctx); err != nil {
		// The lifecycle engine re-polls every cycle, so a failed pass here
		// delays recovery rather than losing it.
		b.logger.Printf("startup reconciliation failed: %v", err)
	}

	if b.dashboard != nil {
		go func() {
			if err := b.dashboard.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Printf("dashboard stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.dashboard.Shutdown(shutdownCtx); err != nil {
				b.logger.Printf("dashboard shutdown: %v", err)
			}
		}()
	}

	if b.cron != nil {
		b.cron.Start()
		defer b.cron.Stop()
	}

	return b.orchestrator.Run(ctx)
}
