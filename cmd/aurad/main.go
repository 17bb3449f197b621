// Aurad is the client synchronization daemon for the Aura companion.
//
// It keeps the shared emotional state vector consistent across the
// rendering surfaces: one realtime WebSocket channel per configured
// surface streams state deltas and events into the in-process store,
// and a scheduled job performs encrypted bulk reconciliation (state,
// memory, artifacts) against the configured sync endpoint.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	aurad serve              Run the sync core
//	aurad sync               Perform one bulk reconciliation and exit
//	aurad state              Print the last recorded state vector
//	aurad init [dir]         Initialize a working directory with defaults
//	aurad version            Print version and build information
//	aurad -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/halcyon-dev/aura-sync/internal/buildinfo"
	"github.com/halcyon-dev/aura-sync/internal/channel"
	"github.com/halcyon-dev/aura-sync/internal/config"
	"github.com/halcyon-dev/aura-sync/internal/envelope"
	"github.com/halcyon-dev/aura-sync/internal/limbic"
	"github.com/halcyon-dev/aura-sync/internal/syncmgr"
	"github.com/halcyon-dev/aura-sync/internal/syncstore"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the aurad command. All OS-level
// dependencies are injected as parameters so that run can be called
// concurrently from tests. Arguments are parsed by hand — the flag
// package relies on package-level globals (flag.CommandLine), and our
// argument surface is small enough that manual parsing is clearer than
// bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
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
		return runServe(ctx, stdout, configPath, outputFmt)
	case "sync":
		return runSync(ctx, stdout, configPath, outputFmt)
	case "state":
		return runState(stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe starts the full sync core: the local store, the state
// vector, one realtime channel per configured surface, and the
// scheduled sync manager. It blocks until the context is cancelled or
// a SIGINT/SIGTERM arrives, then shuts everything down in order.
func runServe(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	logger := newLogger(stdout, slog.LevelInfo, outputFmt)
	logger.Info("starting aurad",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the configured level is known.
	// The initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, outputFmt)
	}
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfgPath,
		"surfaces", len(cfg.Surfaces),
		"sync_enabled", cfg.Sync.Enabled,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Local store ---
	dbDir := filepath.Join(cfg.DataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	local, err := syncstore.Open(filepath.Join(dbDir, "sync.db"))
	if err != nil {
		return fmt.Errorf("open sync store: %w", err)
	}
	defer local.Close()

	// --- Shared state ---
	store := limbic.NewStore(neutralVector(), logger)
	defer store.Close()
	cancelLog := store.Subscribe(func(v limbic.Vector) {
		logger.Debug("state vector changed",
			"trust", v.Trust,
			"warmth", v.Warmth,
			"arousal", v.Arousal,
			"valence", v.Valence,
			"posture", string(v.Posture),
		)
		// Persist each snapshot so `aurad state` can report it from
		// another process. Deltas arrive at human pace; one small row
		// write per change is fine.
		if data, err := json.Marshal(v); err == nil {
			if err := local.SetSyncState(stateVectorKey, string(data)); err != nil {
				logger.Warn("persist state vector", "error", err)
			}
		}
	})
	defer cancelLog()

	// --- Realtime channels ---
	var channels []*channel.Channel
	for _, sc := range cfg.Surfaces {
		ch := channel.New(sc.URL, channel.Options{
			Name:   sc.Name,
			Logger: logger,
		})
		if err := wireHandlers(ch, store, logger); err != nil {
			return err
		}
		if err := ch.Connect(ctx); err != nil {
			return err
		}
		channels = append(channels, ch)
	}

	// --- Scheduled sync ---
	var mgr *syncmgr.Manager
	if cfg.Sync.Enabled && cfg.Sync.EncryptionKey != "" {
		exchange, err := syncmgr.NewExchange(cfg.Sync.Endpoint, cfg.Sync.EncryptionKey, local, store, nil, logger)
		if err != nil {
			return fmt.Errorf("configure sync: %w", err)
		}
		mgr = syncmgr.New(cfg.Sync, exchange, logger)
		mgr.Start(ctx)
	} else {
		logger.Info("bulk sync inactive",
			"enabled", cfg.Sync.Enabled,
			"has_key", cfg.Sync.EncryptionKey != "",
		)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	for _, ch := range channels {
		ch.Close()
	}
	if mgr != nil {
		mgr.Stop()
	}
	return nil
}

// wireHandlers connects the channel's inbound message types to their
// consumers. State deltas flow into the shared store (which fans out to
// surface adapters); chat-surface messages are logged here because
// rendering lives outside the core; badge grants are acknowledged back.
func wireHandlers(ch *channel.Channel, store *limbic.Store, logger *slog.Logger) error {
	subs := map[string]channel.Handler{
		envelope.TypeLimbicUpdate: func(m envelope.Message) {
			upd := m.(envelope.LimbicUpdate)
			store.Apply(upd.State)
		},
		envelope.TypeResponse: func(m envelope.Message) {
			r := m.(envelope.Response)
			logger.Info("companion response", "chars", len(r.Content))
		},
		envelope.TypeGhostTap: func(m envelope.Message) {
			g := m.(envelope.GhostTap)
			logger.Info("ghost tap", "chars", len(g.Content))
		},
		envelope.TypeBadgeUpdate: func(m envelope.Message) {
			b := m.(envelope.BadgeUpdate)
			logger.Info("badge granted", "badge", b.Badge)
			b.Acknowledged = true
			if err := ch.Send(b); err != nil {
				logger.Debug("badge ack dropped", "badge", b.Badge, "error", err)
			}
		},
	}
	for msgType, h := range subs {
		if err := ch.Subscribe(msgType, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", msgType, err)
		}
	}
	return nil
}

// neutralVector is the state shown before the first update arrives.
func neutralVector() limbic.Vector {
	return limbic.Vector{
		Trust:   0.5,
		Warmth:  0.5,
		Arousal: 0.5,
		Valence: 0.5,
		Posture: limbic.PostureCompanion,
	}
}

// runSync performs a single bulk reconciliation outside the schedule
// and reports the outcome. Useful for testing a new sync profile.
func runSync(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	logger := newLogger(stdout, slog.LevelInfo, outputFmt)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	if !cfg.Sync.Enabled || cfg.Sync.EncryptionKey == "" {
		return syncmgr.ErrSyncDisabled
	}

	dbDir := filepath.Join(cfg.DataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	local, err := syncstore.Open(filepath.Join(dbDir, "sync.db"))
	if err != nil {
		return fmt.Errorf("open sync store: %w", err)
	}
	defer local.Close()

	store := limbic.NewStore(neutralVector(), logger)
	defer store.Close()

	exchange, err := syncmgr.NewExchange(cfg.Sync.Endpoint, cfg.Sync.EncryptionKey, local, store, nil, logger)
	if err != nil {
		return fmt.Errorf("configure sync: %w", err)
	}

	mgr := syncmgr.New(cfg.Sync, exchange, logger)
	if err := mgr.TriggerNow(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintln(stdout, "sync complete")
	return nil
}

// stateVectorKey is the sync_state key holding the last state vector
// snapshot written by serve.
const stateVectorKey = "state_vector"

// runState prints the most recent state vector recorded by a running
// (or previously run) serve process. Before any update has arrived the
// neutral vector is shown.
func runState(stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	local, err := syncstore.Open(filepath.Join(cfg.DataDir, "db", "sync.db"))
	if err != nil {
		return fmt.Errorf("open sync store: %w", err)
	}
	defer local.Close()

	vec := neutralVector()
	raw, err := local.GetSyncState(stateVectorKey)
	if err != nil {
		return fmt.Errorf("read state vector: %w", err)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return fmt.Errorf("parse stored state vector: %w", err)
		}
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(vec)
	}
	fmt.Fprintf(stdout, "trust:   %.3f\n", vec.Trust)
	fmt.Fprintf(stdout, "warmth:  %.3f\n", vec.Warmth)
	fmt.Fprintf(stdout, "arousal: %.3f\n", vec.Arousal)
	fmt.Fprintf(stdout, "valence: %.3f\n", vec.Valence)
	fmt.Fprintf(stdout, "posture: %s\n", vec.Posture)
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
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// aurad is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Aurad - Aura companion sync core")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: aurad [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the realtime channels and sync schedule")
	fmt.Fprintln(w, "  sync         Perform one bulk reconciliation and exit")
	fmt.Fprintln(w, "  state        Print the last recorded state vector")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./aura.yaml, ~/.config/aura/aura.yaml, /etc/aura/aura.yaml")
	return nil
}

// newLogger builds a structured logger writing to w.
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

// loadConfig locates and parses the YAML configuration file, then
// validates it. Returns the parsed config, the path loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
