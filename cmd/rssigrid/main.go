// Rssigrid is a Home Assistant companion daemon that maintains a live
// grid of wireless devices and their signal strength.
//
// It joins RSSI sensor entities with their device trackers, keeps the
// grid current over the Home Assistant WebSocket event stream, and
// exposes it through a local HTTP API with a WebSocket push channel.
// Weak-signal devices can be bulk-reconnected through the wireless
// integration, and device names can be synced from a TP-Link Omada
// controller. Configuration is a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	rssigrid serve           Start the daemon
//	rssigrid sync            Run one controller name sync and exit
//	rssigrid init            Write an example config file and exit
//	rssigrid version         Print version and build information
//	rssigrid -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rmfaria/rssigrid/internal/buildinfo"
	"github.com/rmfaria/rssigrid/internal/config"
	"github.com/rmfaria/rssigrid/internal/grid"
	"github.com/rmfaria/rssigrid/internal/health"
	"github.com/rmfaria/rssigrid/internal/homeassistant"
	"github.com/rmfaria/rssigrid/internal/mqtt"
	"github.com/rmfaria/rssigrid/internal/navigate"
	"github.com/rmfaria/rssigrid/internal/notify"
	"github.com/rmfaria/rssigrid/internal/omada"
	"github.com/rmfaria/rssigrid/internal/reconnect"
	"github.com/rmfaria/rssigrid/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals (flag.CommandLine), which
// makes it impossible to call run() concurrently from tests, and the
// argument surface is small enough that manual parsing is clearer
// than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "sync":
		return runSync(ctx, stdout, configPath)
	case "init":
		return runInit(stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "rssigrid - Wireless device grid daemon for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: rssigrid [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the daemon")
	fmt.Fprintln(w, "  sync         Run one controller name sync and exit")
	fmt.Fprintln(w, "  init         Write an example config file and exit")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./rssigrid.yaml, ~/.config/rssigrid/rssigrid.yaml, /etc/rssigrid/rssigrid.yaml")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist);
// otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func joinOptions(g config.GridConfig) grid.JoinOptions {
	opts := grid.DefaultJoinOptions()
	if g.SuffixToken != "" {
		opts.SuffixToken = g.SuffixToken
	}
	if g.SuffixWord != "" {
		opts.SuffixWord = g.SuffixWord
	}
	if len(g.PresentStates) > 0 {
		opts.PresentStates = g.PresentStates
	}
	if len(g.AbsentStates) > 0 {
		opts.AbsentStates = g.AbsentStates
	}
	opts.ShowOffline = g.ShowOffline
	return opts
}

func initialSort(g config.GridConfig) grid.SortState {
	return grid.SortState{
		Column:     g.SortBy,
		Descending: g.SortOrder == "desc",
	}
}

// gridCounts adapts the web view to the MQTT publisher's summary
// interface.
type gridCounts struct {
	view *web.GridView
}

func (g gridCounts) Counts() (int, int) {
	s := g.view.Snapshot()
	return s.Total, s.WeakCount
}

// recordingSyncer wraps the Omada syncer so every run is reported to
// the MQTT publisher.
type recordingSyncer struct {
	inner *omada.Syncer
	pub   *mqtt.Publisher
}

func (r recordingSyncer) Sync(ctx context.Context, devices []grid.Device) (omada.SyncResult, error) {
	result, err := r.inner.Sync(ctx, devices)
	if err == nil && r.pub != nil {
		r.pub.RecordSync(mqtt.SyncOutcome{
			At:      time.Now(),
			Applied: result.Applied,
			Errors:  len(result.Errors),
		})
	}
	return result, err
}

// runServe is the primary operating mode: it connects to Home
// Assistant, primes the state mirror, starts the reconciler and web
// server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting rssigrid",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the level and format are known.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			level, err = config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	if !cfg.HomeAssistant.Configured() {
		return fmt.Errorf("homeassistant.url and homeassistant.token are required")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err := ha.Ping(ctx); err != nil {
		return fmt.Errorf("home assistant unreachable: %w", err)
	}

	// Grid pipeline: hub <- view <- reconciler <- state stream.
	hub := web.NewHub(logger)
	notifier := notify.New(ha, logger)

	var publisher *mqtt.Publisher
	broadcast := hub.Broadcast
	if cfg.MQTT.Enabled {
		// The publisher's grid source is the view, created below; wire
		// the kick through the broadcast path so every render or patch
		// refreshes the summary sensors.
		inner := hub.Broadcast
		broadcast = func(v any) {
			inner(v)
			if publisher != nil {
				publisher.GridChanged()
			}
		}
	}

	view := web.NewGridView(cfg.Grid.WeakSignalThreshold, broadcast)
	if cfg.MQTT.Enabled {
		publisher = mqtt.New(cfg.MQTT, gridCounts{view}, logger)
	}

	reconciler := grid.NewReconciler(grid.ReconcilerConfig{
		Options:        joinOptions(cfg.Grid),
		MaxDevices:     cfg.Grid.MaxDevices,
		InitialSort:    initialSort(cfg.Grid),
		CoalesceWindow: time.Duration(cfg.Grid.CoalesceWindowMS) * time.Millisecond,
		View:           view,
		Logger:         logger,
	})

	ws := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	stream := homeassistant.NewStateStream(ha, ws, reconciler.Notify, logger)

	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer ws.Close()

	if err := stream.Prime(ctx); err != nil {
		return fmt.Errorf("prime state mirror: %w", err)
	}
	go stream.RunWithReconnect(ctx)

	// Bulk reconnect queue.
	queue := reconnect.NewQueue(reconnect.Config{
		Domain:     cfg.Reconnect.ServiceDomain,
		Action:     cfg.Reconnect.ServiceAction,
		MACParam:   cfg.Reconnect.MACParam,
		FormatMAC:  cfg.Reconnect.FormatMAC,
		StepDelay:  time.Duration(cfg.Reconnect.StepDelayMS) * time.Millisecond,
		Caller:     ha,
		Logger:     logger,
		OnFinished: func(count int) {
			notifier.Notify(ctx, "Reconnect complete",
				fmt.Sprintf("Reconnected %d device(s)", count))
			reconciler.Invalidate()
		},
	})

	// Dependency health. A Home Assistant recovery forces a full grid
	// rebuild since state changes were missed during the outage.
	probes := []health.Probe{{
		Name:    "home_assistant",
		Check:   ha.Ping,
		OnReady: reconciler.Invalidate,
	}}

	// Optional controller name sync.
	var syncer web.NameSyncer
	if cfg.Omada.Configured() {
		controller := omada.NewClient(cfg.Omada.URL, cfg.Omada.Username,
			cfg.Omada.Password, cfg.Omada.Site, cfg.Omada.VerifySSL, logger)
		probes = append(probes, health.Probe{
			Name:  "omada",
			Check: controller.EnsureAuthenticated,
		})
		syncer = recordingSyncer{
			inner: &omada.Syncer{
				Controller: controller,
				Strategies: ha.RenameStrategies(),
				SuffixWord: cfg.Grid.SuffixWord,
				ReportOnly: !cfg.Omada.UpdateNames,
				Logger:     logger,
				OnApplied: func(ctx context.Context) {
					if err := stream.RefreshRegistry(ctx); err != nil {
						logger.Warn("registry refresh after sync failed", "error", err)
					}
					reconciler.Invalidate()
				},
			},
			pub: publisher,
		}
		logger.Info("omada controller sync enabled",
			"url", cfg.Omada.URL, "site", cfg.Omada.Site,
			"update_names", cfg.Omada.UpdateNames)
	}

	monitor := health.NewMonitor(probes, logger)
	go monitor.Run(ctx)

	server := web.NewServer(web.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		View:            view,
		Reconciler:      reconciler,
		Hub:             hub,
		Queue:           queue,
		Caller:          ha,
		ReconnectDomain: cfg.Reconnect.ServiceDomain,
		ReconnectAction: cfg.Reconnect.ServiceAction,
		MACParam:        cfg.Reconnect.MACParam,
		FormatMAC:       cfg.Reconnect.FormatMAC,
		WeakThreshold:   cfg.Grid.WeakSignalThreshold,
		Syncer:          syncer,
		FallbackReload: func(ctx context.Context) error {
			return ha.ReloadIntegration(ctx, cfg.Reconnect.ServiceDomain)
		},
		Navigator:       navigate.New(ha, ha, logger),
		Notifier:        notifier,
		Health:          monitor,
		Logger:          logger,
	})

	if publisher != nil {
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Warn("mqtt publisher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if publisher != nil {
		_ = publisher.Stop(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

// runSync performs one controller name sync from the command line and
// prints the result. Uses a one-shot snapshot pull instead of the live
// event stream.
func runSync(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	if !cfg.HomeAssistant.Configured() {
		return fmt.Errorf("homeassistant.url and homeassistant.token are required")
	}
	if !cfg.Omada.Configured() {
		return fmt.Errorf("omada.url, omada.username and omada.password are required for sync")
	}

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	stream := homeassistant.NewStateStream(ha, nil, nil, logger)
	if err := stream.Prime(ctx); err != nil {
		return fmt.Errorf("pull state snapshot: %w", err)
	}

	devices := grid.Join(stream.Snapshot(), joinOptions(cfg.Grid))
	logger.Info("grid derived", "devices", len(devices))

	controller := omada.NewClient(cfg.Omada.URL, cfg.Omada.Username,
		cfg.Omada.Password, cfg.Omada.Site, cfg.Omada.VerifySSL, logger)
	syncer := &omada.Syncer{
		Controller: controller,
		Strategies: ha.RenameStrategies(),
		SuffixWord: cfg.Grid.SuffixWord,
		ReportOnly: !cfg.Omada.UpdateNames,
		Logger:     logger,
	}

	result, err := syncer.Sync(ctx, devices)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Controller clients: %d\n", result.TotalRemote)
	fmt.Fprintf(stdout, "Name differences:   %d\n", len(result.Planned))
	for _, u := range result.Planned {
		fmt.Fprintf(stdout, "  %-40s %q -> %q\n", u.EntityID, u.CurrentName, u.RemoteName)
	}
	if syncer.ReportOnly {
		fmt.Fprintln(stdout, "Report only (omada.update_names is false); nothing applied.")
		return nil
	}
	fmt.Fprintf(stdout, "Applied: %d, errors: %d\n", result.Applied, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(stdout, "  error: %s\n", e)
	}
	return nil
}
