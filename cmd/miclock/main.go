package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/miclock/internal/audio"
	"github.com/petems/miclock/internal/config"
	"github.com/petems/miclock/internal/dock"
	"github.com/petems/miclock/internal/engine"
	"github.com/petems/miclock/internal/logging"
	"github.com/petems/miclock/internal/store"
	"github.com/petems/miclock/internal/tray"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "miclock",
	Short: "Keep your chosen microphone as the default input device",
	Long: `miclock runs in the menu bar and switches the system default input back
to the microphone you picked whenever the OS, a hot-plugged device or
another application changes it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE:         runAgent,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func initConfig() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// First run: leave an editable config behind
	if !cfg.FromFile() {
		if err := config.WriteDefault(cfg.Path()); err != nil {
			log.Warn().Err(err).Str("path", cfg.Path()).Msg("Failed to write default config")
		} else {
			log.Info().Str("path", cfg.Path()).Msg("Wrote default config")
		}
	}

	// Menu bar only, no Dock icon
	if cfg.HideDockIcon {
		if err := dock.Hide(); err != nil {
			log.Warn().Err(err).Msg("Failed to hide Dock icon")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize audio bridge
	bridge, err := audio.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}
	defer bridge.Close()

	selection := store.NewSelection(store.NewFileBackend(cfg.SelectionPath()))

	enforcer := engine.New(engine.Config{
		Bridge:          bridge,
		Catalog:         audio.NewCatalog(bridge, log),
		Store:           selection,
		Logger:          log,
		PollInterval:    cfg.PollInterval.Std(),
		CatalogInterval: cfg.CatalogInterval.Std(),
		CallTimeout:     cfg.CallTimeout.Std(),
	})
	if err := enforcer.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("Starting with incomplete state")
	}

	trayUI := tray.New(enforcer, Version, Commit, log)
	trayUI.OnQuit(cancel)

	log.Info().
		Str("backend", cfg.PlatformBackend()).
		Str("selection", cfg.SelectionPath()).
		Msg("miclock starting...")

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		enforcer.Run(ctx)
	}()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Tray error")
		return err
	}

	cancel()
	<-loopDone
	return nil
}
