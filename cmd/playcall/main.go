// Command playcall is the main entry point for the Playcall commentary
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/playcall/internal/app"
	"github.com/MrWong99/playcall/internal/commentary"
	"github.com/MrWong99/playcall/internal/config"
	"github.com/MrWong99/playcall/internal/observe"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	source := flag.String("source", "", "media file to commentate (overrides config)")
	favTeam := flag.String("fav-team", "", "viewer's favorite team (overrides config)")
	team1 := flag.String("team1", "", "first team name (overrides config)")
	team2 := flag.String("team2", "", "second team name (overrides config)")
	level := flag.String("level", "", "audience knowledge level: beginner, intermediate, expert")
	style := flag.String("style", "", "commentary style: enthusiastic, analytical, casual, roasting")
	mode := flag.String("mode", "", "scheduling mode: periodic, event")
	logLevel := flag.String("log-level", "", "log verbosity: debug, info, warn, error")
	inspect := flag.Bool("inspect", false, "probe the media source, print its streams, and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "playcall: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "playcall: %v\n", err)
			}
			return 1
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	applyFlagOverrides(cfg, *source, *favTeam, *team1, *team2, *level, *style, *mode, *logLevel)

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *inspect {
		return runInspect(ctx, cfg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	slog.Info("playcall starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyFlagOverrides lets CLI flags win over the config file so a quick
// session never needs YAML edits. Empty flags leave the config untouched.
func applyFlagOverrides(cfg *config.Config, source, favTeam, team1, team2, level, style, mode, logLevel string) {
	if source != "" {
		cfg.Media.Source = source
	}
	if favTeam != "" {
		cfg.Commentary.FavoriteTeam = favTeam
	}
	if team1 != "" {
		cfg.Commentary.Team1.Name = team1
	}
	if team2 != "" {
		cfg.Commentary.Team2.Name = team2
	}
	if level != "" {
		cfg.Commentary.Level = commentary.Level(level)
	}
	if style != "" {
		cfg.Commentary.Style = commentary.Style(style)
	}
	if mode != "" {
		cfg.Commentary.Mode = commentary.Mode(mode)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Playcall — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Provider", cfg.Realtime.Provider+" / "+cfg.Realtime.Model)
	printField("Voice", cfg.Realtime.Voice)
	printField("Mode", string(cfg.Commentary.Mode))
	printField("Style", string(cfg.Commentary.Style))
	printField("Level", string(cfg.Commentary.Level))
	printField("Matchup", cfg.Commentary.Team1.Name+" vs "+cfg.Commentary.Team2.Name)
	if cfg.Media.Source != "" {
		printField("Media", cfg.Media.Source)
	} else {
		printField("Media", "(none — commentary only)")
	}
	if cfg.Archive.PostgresDSN != "" {
		printField("Archive", "postgres")
	} else {
		printField("Archive", "(disabled)")
	}
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
