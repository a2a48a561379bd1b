package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/api"
	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/history"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/monitor"
	"codeberg.org/mutker/cpufreqctl/internal/notify"
	"codeberg.org/mutker/cpufreqctl/internal/pid"
	"codeberg.org/mutker/cpufreqctl/internal/power"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const historyEventBuffer = 256

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 2
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Str("path", cfg.PIDFile).Msg("Failed to take the pid file")
		return 1
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("cpufreqctl stopped with an error")
		return 1
	}

	logger.Info().Msg("Shutdown complete")
	return 0
}

// serve wires the components and blocks until ctx is done or a component
// fails.
func serve(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()
	fs := afero.NewOsFs()

	bus := events.NewBus()
	notifier := notify.Multi{notify.NewLog(logger.With("notify")), notify.NewBus(bus)}

	store, err := config.NewStore(fs, cfg.Settings)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	plans := power.New(power.ExecRunner{})

	actions, err := action.NewService(action.NewFileStore(fs, cfg.Actions), plans, store, notifier, bus)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	store.AddValidator(config.KeyTriggerActionEnabled, actions.ValidateMasterSwitch)
	store.OnAnyChange(func(key string, value any) {
		bus.Publish(events.SettingsChanged, events.SettingPayload{Key: key, Value: value})
	})

	histCfg := history.DefaultConfig(cfg.HistoryDB)
	histCfg.Enabled = cfg.History
	hist, err := history.NewService(histCfg)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close history")
		}
	}()

	engine := monitor.New(monitor.Deps{
		Settings:  store,
		Source:    sampler.New(fs),
		Actions:   actions,
		Executor:  action.NewExecutor(plans, notifier, bus),
		Notifier:  notifier,
		Publisher: bus,
	})
	engine.Bind(store)

	// Subscribe before anything publishes so history sees the first sample.
	evs, unsubscribe := bus.Subscribe(historyEventBuffer)
	defer unsubscribe()

	if disabled, err := actions.Reconcile(ctx); err != nil {
		logger.Warn().Err(err).Msg("Startup reconciliation failed")
	} else if len(disabled) > 0 {
		logger.Info().Strs("ids", disabled).Msg("Startup reconciliation disabled trigger actions")
	}

	if cfg.Watch {
		if err := store.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("Not watching settings file")
		}
	}

	engine.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hist.Consume(gctx, evs)
	})

	if cfg.Listen != "" {
		server := api.New(api.Deps{
			Engine:   engine,
			Settings: store,
			Plans:    plans,
			Actions:  actions,
			History:  hist,
			Events:   bus,
		})
		g.Go(func() error {
			return server.Serve(gctx, cfg.Listen)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Stopping sampling engine")
		engine.Close()
		return nil
	})

	logger.Info().
		Str("settings", store.Path()).
		Str("listen", cfg.Listen).
		Bool("history", cfg.History).
		Msg("cpufreqctl started")

	return g.Wait()
}
