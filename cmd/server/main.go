// mudcore-server boots one Raft node, the persistence layer, every
// in-memory manager, the HTTP/WebSocket edge, and the per-tick timer/
// heartbeat driver.
//
// Grounded on the teacher's cmd/l1jgo/main.go startup sequence (load
// config -> init logger -> connect DB + migrate -> construct repos ->
// construct managers -> start network -> tick loop -> graceful shutdown
// on SIGINT/SIGTERM), generalized from Lineage's YAML game-data loading
// to this domain's class/universe bootstrap from Postgres itself.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mudd/mudcore/internal/class"
	"github.com/mudd/mudcore/internal/combat"
	"github.com/mudd/mudcore/internal/config"
	"github.com/mudd/mudcore/internal/conn"
	"github.com/mudd/mudcore/internal/credit"
	"github.com/mudd/mudcore/internal/effects"
	"github.com/mudd/mudcore/internal/engine"
	"github.com/mudd/mudcore/internal/gameapi"
	"github.com/mudd/mudcore/internal/httpapi"
	"github.com/mudd/mudcore/internal/persist"
	"github.com/mudd/mudcore/internal/player"
	"github.com/mudd/mudcore/internal/raftwrite"
	"github.com/mudd/mudcore/internal/timer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers (teacher's cmd/l1jgo/main.go idiom) ────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            mudcore  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m   sandboxed Lua MUD engine · Go server    \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) { fmt.Printf("  \033[32m✓\033[0m %s\n", msg) }

func printReady(msg string) { fmt.Printf("  \033[32m▶\033[0m %s\n", msg) }

// ── Main server logic ───────────────────────────────────────────────────

func run() error {
	cfgPath := "config/server.toml"
	if p := os.Getenv("MUDCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	printSection("database")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("postgres connected")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")

	printSection("raft")
	pool := db.Pool
	node, err := raftwrite.Bootstrap(raftwrite.Config{
		NodeID: cfg.Raft.NodeID, BindAddr: cfg.Raft.BindAddress,
		Peers: cfg.Raft.Peers, SnapshotDir: cfg.Raft.SnapshotDir,
	}, pool, log)
	if err != nil {
		return fmt.Errorf("raft bootstrap: %w", err)
	}
	printOK(fmt.Sprintf("node %s started (single-node: %v)", cfg.Raft.NodeID, len(cfg.Raft.Peers) == 0))
	fmt.Println()

	// Repositories
	accounts := persist.NewAccountRepo(db)
	universes := persist.NewUniverseRepo(db, node.Writer)
	objects := persist.NewObjectStore(db, node.Writer)
	grants := persist.NewGrantRepo(db, node.Writer)
	classRepo := persist.NewClassRepo(db, node.Writer)
	timerRepo := persist.NewTimerRepo(db, node.Writer)
	creditRepo := persist.NewCreditRepo(db, node.Writer)
	creditWAL := persist.NewCreditWALRepo(db)

	// In-memory managers
	classes := class.NewRegistry()
	defs, err := classRepo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load classes: %w", err)
	}
	for _, def := range defs {
		classes.Register(def)
	}

	timerMgr := timer.NewManager(timerRepo)
	if err := timerMgr.LoadFromDB(ctx); err != nil {
		return fmt.Errorf("load timers: %w", err)
	}

	creditMgr := credit.NewManager(creditRepo)
	creditMgr.SetWAL(creditWAL)
	if unapplied, err := creditWAL.RecoverUnapplied(ctx); err != nil {
		log.Warn("credit WAL recovery query failed", zap.Error(err))
	} else if len(unapplied) > 0 {
		log.Warn("unapplied credit WAL entries found at startup", zap.Int("count", len(unapplied)))
	}

	clock := gameapi.NewClock()
	combatMgr := combat.NewManager(combat.RNGRoller{Rng: clock.Rand()})
	effectsMgr := effects.NewManager()

	printSection("game data")
	printStat("classes loaded", len(defs))

	playersMgr := player.NewManager(objects, universes, combatMgr, cfg.Session.DisconnectGrace)

	connsMgr := conn.NewManager(cfg.Session.SendQueueCap, log)

	deps := gameapi.Deps{
		Objects: objects, Universes: universes, Grants: grants,
		Classes: classes, ClassRepo: classRepo, Timers: timerMgr,
		Combat: combatMgr, Effects: effectsMgr, Credits: creditMgr,
		Clock: clock,
		MaxDBQueries: cfg.Sandbox.MaxDBQueries, MaxLLMCalls: cfg.Sandbox.MaxLLMCalls,
	}
	budgets := engine.Budgets{
		MaxInstructions: cfg.Sandbox.MaxInstructions, MaxMemoryBytes: cfg.Sandbox.MaxMemoryBytes,
		Timeout: cfg.Sandbox.Timeout, MaxDBQueries: cfg.Sandbox.MaxDBQueries, MaxLLMCalls: cfg.Sandbox.MaxLLMCalls,
	}
	eng := engine.New(objects, universes, grants, deps, connsMgr, playersMgr, budgets, log)

	httpServer := httpapi.NewServer(accounts, universes, playersMgr, connsMgr, eng, log)
	srv := &http.Server{
		Addr: cfg.HTTP.BindAddress, Handler: httpServer.Handler(),
		ReadTimeout: cfg.HTTP.ReadTimeout, WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	tickRate := 200 * time.Millisecond
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("http listening on %s", cfg.HTTP.BindAddress))
	printReady(fmt.Sprintf("tick rate %s", tickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			for _, u := range listActiveUniverses(ctx, universes, log) {
				eng.Tick(ctx, u, nil)
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			cancel()
			node.Raft.Shutdown()
			log.Info("server stopped")
			return nil
		}
	}
}

// listActiveUniverses returns no universe ids, so the tick loop above calls
// Engine.Tick for none of them: timers, heartbeats and the disconnect-grace
// sweep are not driven from this loop.
func listActiveUniverses(ctx context.Context, universes *persist.UniverseRepo, log *zap.Logger) []string {
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
