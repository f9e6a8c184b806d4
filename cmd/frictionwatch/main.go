// Command frictionwatch observes user friction on web pages.
//
// Usage:
//
//	frictionwatch observe -c frictionwatch.yaml        # drive Chrome tabs from config
//	frictionwatch observe --url https://example.com    # quick single-page observation
//	frictionwatch serve --addr :8790 --echo            # HTTP bridge for the page shim
//	frictionwatch replay recording.json                # run a recorded page view
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hazyhaar/frictionwatch/bridge"
	"github.com/hazyhaar/frictionwatch/browserhost"
	"github.com/hazyhaar/frictionwatch/config"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/shim"
	"github.com/hazyhaar/frictionwatch/storage"
)

type options struct {
	configPath string
	logLevel   string
	addr       string
	url        string
	siteID     string
	echo       bool
	settle     time.Duration
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("frictionwatch", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to frictionwatch.yaml")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&opts.addr, "addr", "", "bridge listen address (serve)")
	fs.StringVar(&opts.url, "url", "", "observe a single URL (observe)")
	fs.StringVar(&opts.siteID, "site-id", "", "site id stamped on every event")
	fs.BoolVar(&opts.echo, "echo", false, "mount the validating echo collector on /v1/collect (serve)")
	fs.DurationVar(&opts.settle, "settle", 5*time.Second, "time to let pending timers fire after the last record (replay)")
	fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(fs)
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if help, _ := fs.GetBool("help"); help || fs.NArg() == 0 {
		usage(fs)
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode, args := fs.Arg(0), fs.Args()[1:]
	switch mode {
	case "observe":
		err = runObserve(ctx, logger, cfg)
	case "serve":
		err = runServe(ctx, logger, cfg)
	case "replay":
		err = runReplay(logger, cfg, args, opts.settle)
	default:
		usage(fs)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("frictionwatch: fatal", "mode", mode, "error", err)
		os.Exit(1)
	}
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `frictionwatch detects rage clicks, dead clicks, mouse thrashing, skipped
fields and abandoned forms, and sends them to a collector.

Usage:
  frictionwatch [flags] observe        drive Chrome tabs (pages from config or --url)
  frictionwatch [flags] serve          run the HTTP bridge for the page shim
  frictionwatch [flags] replay FILE    run a recorded page view (- for stdin)

Flags:
%s`, fs.FlagUsages())
}

// loadConfig reads the config file (or defaults plus environment) and
// applies flag overrides. A file must be valid on its own; the site id
// can come from FRICTIONWATCH_SITE_ID.
func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(os.Getenv)
	}
	if opts.siteID != "" {
		cfg.SiteID = opts.siteID
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.addr != "" {
		cfg.Bridge.Addr = opts.addr
	}
	if opts.echo {
		cfg.Bridge.Echo = true
	}
	if opts.url != "" {
		cfg.Pages = []config.PageConfig{{ID: "page_1", URL: opts.url}}
	}
	if cfg.SiteID == "" {
		cfg.SiteID = "local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDurable opens the visitor database when a storage path is set.
func openDurable(cfg *config.Config) (*sql.DB, error) {
	if cfg.Storage.Path == "" {
		return nil, nil
	}
	return storage.Open(cfg.Storage.Path)
}

func runObserve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if len(cfg.Pages) == 0 {
		return fmt.Errorf("observe: no pages (set pages in config or --url)")
	}
	db, err := openDurable(cfg)
	if err != nil {
		return err
	}
	var durable host.Storage = storage.NewMemory()
	if db != nil {
		defer db.Close()
		durable = storage.NewKV(db, "visitor:"+cfg.SiteID, logger)
	}

	sink := cfg.BuildSink(os.Stdout, logger)
	defer sink.Close()

	mgr := browserhost.NewManager(browserhost.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         *cfg.Browser.Headless,
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	// Closing the manager ends every page view before Chrome exits.
	defer mgr.Close()

	for _, pc := range cfg.Pages {
		_, err := mgr.Open(ctx, browserhost.PageConfig{
			ID:           pc.ID,
			URL:          pc.URL,
			Engine:       cfg.EngineConfig(sink, logger),
			DurableStore: durable,
			Logger:       logger,
		})
		if err != nil {
			logger.Warn("frictionwatch: open page", "page_id", pc.ID, "url", pc.URL, "error", err)
		}
	}
	if len(mgr.Pages()) == 0 {
		return fmt.Errorf("observe: no page could be opened")
	}

	<-ctx.Done()
	logger.Info("frictionwatch: shutting down", "pages", len(mgr.Pages()))
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	db, err := openDurable(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// With the echo collector and no collector configured, the bridge
	// delivers to itself.
	if cfg.Bridge.Echo && cfg.Collector.URL == "" {
		base := "http://" + loopback(cfg.Bridge.Addr)
		cfg.Collector.URL = base + "/v1/collect"
		cfg.Collector.ScreenshotURL = base + "/v1/collect/screenshots"
		cfg.Sinks = []config.SinkConfig{{Type: config.SinkBeacon, URL: cfg.Collector.URL}}
	}
	sink := cfg.BuildSink(os.Stdout, logger)
	defer sink.Close()

	srv := bridge.New(bridge.Config{
		Engine:         cfg.EngineConfig(sink, logger),
		IdleTimeout:    cfg.Bridge.IdleTimeout,
		MaxPages:       cfg.Bridge.MaxPages,
		MaxBody:        cfg.Bridge.MaxBody,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		DB:             db,
		Echo:           cfg.Bridge.Echo,
		Logger:         logger,
	})
	defer srv.Close()
	go srv.Run(ctx)

	hs := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("frictionwatch: bridge listening", "addr", cfg.Bridge.Addr, "echo", cfg.Bridge.Echo)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	logger.Info("frictionwatch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("frictionwatch: shutdown", "error", err)
	}
	return nil
}

// loopback turns a listen address into one a local client can dial.
func loopback(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return strings.Replace(addr, "0.0.0.0", "127.0.0.1", 1)
}

func runReplay(logger *slog.Logger, cfg *config.Config, args []string, settle time.Duration) error {
	if len(args) != 1 {
		return fmt.Errorf("replay: expected one recording file")
	}
	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		defer f.Close()
		in = f
	}
	rec, err := shim.ReadRecording(in)
	if err != nil {
		return err
	}

	// The session closes the sink when the page view ends.
	sink := cfg.BuildSink(os.Stdout, logger)
	res, err := shim.Replay(rec, shim.Config{Engine: cfg.EngineConfig(sink, logger), Logger: logger}, settle)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	logger.Info("frictionwatch: replay done", "applied", res.Applied, "skipped", res.Skipped)
	return nil
}
