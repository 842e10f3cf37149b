package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/vcworld/vcworld/internal/config"
	"github.com/vcworld/vcworld/internal/core/event"
	"github.com/vcworld/vcworld/internal/data"
	"github.com/vcworld/vcworld/internal/persist"
	"github.com/vcworld/vcworld/internal/scripting"
	"github.com/vcworld/vcworld/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Display helpers ───────────────────────────────────────────────

var numbers = message.NewPrinter(language.English)

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              vcworld  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         spatial occupancy index          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := numbers.Sprintf("%d", count)
	dotsLen := 42 - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printWarn(msg string) {
	fmt.Printf("  \033[33m!\033[0m %s\n", msg)
}

// ── Main logic ────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/vcworld.toml"
	if p := os.Getenv("VCWORLD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Archetype table and index
	printSection("Data")
	table := loadArchetypes(cfg.Data.Archetypes, log)
	printStat("archetypes", table.Count())

	tree, err := world.NewTree(cfg.World.Tree, cfg.World.MaxCells)
	if err != nil {
		return fmt.Errorf("cell tree: %w", err)
	}
	idx := world.NewIndex(world.NewArena(table), tree, log)
	defer idx.Destroy()
	fmt.Println()

	// 4. Optional Postgres snapshots
	var repo *persist.WorldRepo
	if cfg.Database.Enabled {
		printSection("Database")
		db, err := openDB(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = persist.NewWorldRepo(db)
		fmt.Println()
	}

	// 5. Load the world
	printSection("World")
	loaded, err := loadWorld(ctx, cfg, idx, repo, log)
	if err != nil {
		return err
	}
	printStat("entities loaded", loaded)

	// 6. World scripts, with their changes journaled on the bus
	bus := event.NewBus()
	churn := subscribeChurn(bus)
	idx.SetEvents(bus)
	engine := scripting.NewEngine(idx, log)
	defer engine.Close()
	engine.SetStacking(cfg.World.AllowStacking)
	scripts, err := engine.RunDir(cfg.Scripting.Dir)
	if err != nil {
		return fmt.Errorf("world scripts: %w", err)
	}
	printStat("scripts run", scripts)
	bus.Flush()
	idx.SetEvents(nil)
	printStat("inserted by scripts", churn.inserted)
	printStat("removed by scripts", churn.removed)
	printStat("moved by scripts", churn.moved)

	if err := idx.Validate(); err != nil {
		return fmt.Errorf("validate world: %w", err)
	}
	printOK("index consistent")
	fmt.Println()

	// 7. Stats
	printSection("Stats")
	printStat("entities", idx.Count())
	printStat("cells", idx.Cells())
	for _, s := range colorStats(idx, table) {
		printStat(s.label, s.count)
	}
	fmt.Println()

	// 8. Save
	printSection("Save")
	if cfg.World.SaveFile != "" {
		if err := world.SaveFile(cfg.World.SaveFile, idx); err != nil {
			return fmt.Errorf("save world: %w", err)
		}
		printOK("world file written: " + cfg.World.SaveFile)
	}
	if repo != nil {
		written, err := repo.SaveSnapshot(ctx, cfg.Database.Snapshot, idx)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if written {
			printOK("snapshot saved: " + cfg.Database.Snapshot)
		} else {
			printOK("snapshot unchanged: " + cfg.Database.Snapshot)
		}
	}
	fmt.Println()

	log.Info("world closed", zap.Int("entities", idx.Count()), zap.Int("cells", idx.Cells()))
	return nil
}

// loadArchetypes reads the override table; a missing or broken file falls
// back to the builtin defaults.
func loadArchetypes(path string, log *zap.Logger) *data.ArchetypeTable {
	if path == "" {
		return data.DefaultArchetypes()
	}
	table, err := data.LoadArchetypeTable(path)
	if err != nil {
		log.Warn("archetype table unavailable, using builtin defaults",
			zap.String("path", path), zap.Error(err))
		printWarn("builtin archetypes")
		return data.DefaultArchetypes()
	}
	printOK("archetype table: " + path)
	return table
}

func openDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*persist.DB, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(dbCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	printOK("PostgreSQL connected")
	printStat("pool size", int(db.Stats().MaxConns))

	version, err := persist.RunMigrations(dbCtx, db.Pool)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	printOK(fmt.Sprintf("schema version %d", version))
	return db, nil
}

// loadWorld restores the configured snapshot, falling back to the world
// file when the database is off or the snapshot does not exist yet.
func loadWorld(ctx context.Context, cfg *config.Config, idx *world.Index, repo *persist.WorldRepo, log *zap.Logger) (int, error) {
	if repo != nil {
		n, err := repo.LoadSnapshot(ctx, cfg.Database.Snapshot, idx)
		switch {
		case err == nil:
			printOK("snapshot: " + cfg.Database.Snapshot)
			return n, nil
		case errors.Is(err, persist.ErrSnapshotNotFound):
			log.Info("no snapshot yet, reading world file", zap.String("snapshot", cfg.Database.Snapshot))
		default:
			return n, err
		}
	}

	if cfg.World.File == "" {
		printOK("new world")
		return 0, nil
	}
	n, err := world.LoadFile(cfg.World.File, idx)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("world file missing, starting empty", zap.String("file", cfg.World.File))
		printOK("new world")
		return 0, nil
	}
	if err != nil {
		return n, fmt.Errorf("load world: %w", err)
	}
	printOK("world file: " + cfg.World.File)
	return n, nil
}

type churnStats struct {
	inserted int
	removed  int
	moved    int
}

func subscribeChurn(bus *event.Bus) *churnStats {
	c := &churnStats{}
	event.Subscribe(bus, func(event.EntityIndexed) { c.inserted++ })
	event.Subscribe(bus, func(event.EntityRemoved) { c.removed++ })
	event.Subscribe(bus, func(event.EntityMoved) { c.moved++ })
	return c
}

type colorStat struct {
	label string
	count int
}

// colorStats counts entities by colour, named after the archetype that
// carries the colour by default.
func colorStats(idx *world.Index, table *data.ArchetypeTable) []colorStat {
	counts := make(map[string]int)
	idx.Each(func(e *world.Entity) bool {
		c := e.Attr(data.AttrColor)
		label := fmt.Sprintf("color #%08x", uint32(c))
		if a, ok := table.ByColor(c); ok {
			label = "color " + a.String()
		}
		counts[label]++
		return true
	})

	out := make([]colorStat, 0, len(counts))
	for label, n := range counts {
		out = append(out, colorStat{label: label, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	return out
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
