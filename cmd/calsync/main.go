// Calsync mirrors remote third-party calendars into the local booking store.
// It keeps one booking row per remote appointment, updated incrementally via
// provider webhooks with a polling fallback for missed notifications.
//
// Usage:
//
//	calsync serve [--config <path>]      # webhook listener + fallback poller
//	calsync sync-once [--config <path>]  # single sync pass then exit
//	calsync status [--config <path>]     # show config and cursor state
//	calsync version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chairtime/calsync/internal/calendar"
	"github.com/chairtime/calsync/internal/config"
	"github.com/chairtime/calsync/internal/store"
	syncp "github.com/chairtime/calsync/internal/sync"
	"github.com/chairtime/calsync/internal/telemetry"
	"github.com/chairtime/calsync/internal/webhook"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// failureThreshold is the number of consecutive failed passes for one
// calendar before the failure is logged at error level for operators.
const failureThreshold = 3

// httpTimeout bounds a single provider API round trip. Pass-level deadlines
// come from sync_timeout in the config.
const httpTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("calsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'calsync' for usage", cmd)
	}
}

// printUsage shows help and hints at the config location if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "calsync — mirror remote calendars into the booking store")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  calsync serve [--config ...]      Webhook listener + fallback poller")
	fmt.Fprintln(os.Stderr, "  calsync sync-once [--config ...]  Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  calsync status [--config ...]     Show config and cursor state")
	fmt.Fprintln(os.Stderr, "  calsync version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "serve" and "sync-once".
func runSync(args []string, serve bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, serve)
}

// runStatus prints the current configuration and per-calendar cursor state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Calsync Status")
	fmt.Println("──────────────")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (invalid: %v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Provider:  %s\n", cfg.ProviderURL)
	fmt.Printf("  Calendars: %d mapping(s)\n", len(cfg.Calendars))
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  Database:  not found (no sync has run yet)")
		return nil
	}
	fmt.Printf("  Database:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer st.Close()

	ctx := context.Background()
	for barberID, calendarID := range cfg.Calendars {
		bookings, err := st.ListByCalendar(ctx, calendarID)
		if err != nil {
			fmt.Printf("  %-10s %s: error: %v\n", barberID+":", calendarID, err)
			continue
		}
		cur, err := st.LoadCursor(ctx, calendarID)
		switch {
		case err != nil:
			fmt.Printf("  %-10s %s: cursor error: %v\n", barberID+":", calendarID, err)
		case cur == nil:
			fmt.Printf("  %-10s %s: %d booking(s), never synced\n",
				barberID+":", calendarID, len(bookings))
		default:
			fmt.Printf("  %-10s %s: %d booking(s), last synced %s\n",
				barberID+":", calendarID, len(bookings), cur.LastSyncedAt.Format(time.RFC3339))
		}
	}

	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for serve and sync-once modes.
func startSync(cfgPath string, verbose, serve bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"provider_url", cfg.ProviderURL,
		"poll_interval", cfg.PollInterval,
		"calendars", len(cfg.Calendars),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Booking store -------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", dbPath)

	// --- Calendar client -----------------------------------------------------

	client := calendar.NewClient(cfg.ProviderURL, cfg.APIToken, httpTimeout, logger)

	// --- Trigger and engine --------------------------------------------------

	trigger := syncp.NewTrigger(syncp.TriggerConfig{
		Source:           client,
		Bookings:         st,
		Cursors:          st,
		Calendars:        cfg.CalendarToBarber(),
		PageSize:         cfg.PageSize,
		PassTimeout:      cfg.SyncTimeout,
		FailureThreshold: failureThreshold,
		Logger:           logger,
	})
	engine := syncp.NewEngine(trigger, cfg.PollInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !serve {
		logger.Info("running single sync pass")
		stats, err := engine.RunOnce(ctx)
		logger.Info("sync complete",
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
		return err
	}

	// serve mode: webhook listener alongside the engine.
	hooks := webhook.NewServer(engine, cfg.WebhookSecret, logger)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           hooks.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("webhook listener starting", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	engineErr := make(chan error, 1)
	go func() {
		logger.Info("sync engine starting", "poll_interval", cfg.PollInterval)
		engineErr <- engine.Run(ctx)
	}()

	select {
	case err := <-httpErr:
		stop()
		<-engineErr
		return fmt.Errorf("webhook listener: %w", err)
	case err := <-engineErr:
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutErr := httpSrv.Shutdown(shutCtx); shutErr != nil {
			logger.Error("webhook listener shutdown error", "error", shutErr)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
