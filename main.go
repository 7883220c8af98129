package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventide-games/seasonal/seasonal"
	"github.com/eventide-games/seasonal/seasonal/archive"
	"github.com/eventide-games/seasonal/seasonal/database"
	"github.com/eventide-games/seasonal/seasonal/logger"
	"github.com/eventide-games/seasonal/seasonal/migration"
	"github.com/eventide-games/seasonal/seasonal/world"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	importLegacy := flag.Bool("import-legacy", false, "import quest state from the legacy Mongo store before starting")
	exportArchive := flag.Bool("export-archive", false, "export season standings to object storage and exit")
	flag.Parse()

	cfg, err := seasonal.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting seasonal event engine",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("event", cfg.Event.Name))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStart)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}

	engine, err := seasonal.New(*cfg, db, placerStub{}, spawnerStub{}, teleporterStub{}, messengerStub{})
	if err != nil {
		slog.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(-1)
	}

	if *importLegacy {
		importer, err := migration.NewImporter(ctx, cfg.Legacy.MongoURI, cfg.Legacy.Database, engine.ProgressRepo)
		if err != nil {
			slog.Error("Failed to open legacy store", slog.Any("error", err))
			os.Exit(-1)
		}
		if _, err := importer.ImportAll(ctx); err != nil {
			slog.Error("Legacy import failed", slog.Any("error", err))
			os.Exit(-1)
		}
	}

	if *exportArchive {
		exporter, err := archive.NewExporter(ctx, cfg.Archive.Key, cfg.Archive.Secret,
			cfg.Archive.Region, cfg.Archive.Bucket, cfg.Archive.Root)
		if err != nil {
			slog.Error("Failed to open archive storage", slog.Any("error", err))
			os.Exit(-1)
		}
		standings, err := engine.ProgressRepo.CompletionStandings(ctx)
		if err != nil {
			slog.Error("Failed to load standings", slog.Any("error", err))
			os.Exit(-1)
		}
		if err := exporter.ExportStandings(ctx, cfg.Event.Name, standings); err != nil {
			slog.Error("Archive export failed", slog.Any("error", err))
			os.Exit(-1)
		}
		return
	}

	if err := engine.Start(context.Background()); err != nil {
		slog.Error("Failed to start engine", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.Info("Engine is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down engine...")
	engine.Shutdown(10 * time.Second)
}

// Standalone runs have no host world attached; the stubs below log what the
// collaborators would have done, which is enough for config, schema and
// import soak runs. The embedding server supplies real implementations.

type placerStub struct{}

func (placerStub) Place(_ context.Context, contentID string, origin world.Coordinate) (*world.PasteResult, error) {
	slog.Info("Placement requested (standalone stub)",
		slog.String("content_id", contentID),
		slog.Int("x", origin.X),
		slog.Int("z", origin.Z))
	return &world.PasteResult{
		RegionSize: world.Size{Width: 1, Depth: 1},
		Markers: world.MarkerSet{
			world.MarkerPlayerSpawn: {origin},
		},
	}, nil
}

func (placerStub) Clear(_ context.Context, region world.Region) error {
	slog.Info("Clear requested (standalone stub)",
		slog.Int("min_x", region.MinX),
		slog.Int("min_z", region.MinZ))
	return nil
}

type spawnerStub struct{}

func (spawnerStub) Spawn(mobTypeID string, at world.Coordinate, _ world.Tag) {
	slog.Info("Spawn requested (standalone stub)",
		slog.String("mob_type", mobTypeID),
		slog.Int("x", at.X),
		slog.Int("z", at.Z))
}

func (spawnerStub) Despawn(id world.EntityID) {
	slog.Info("Despawn requested (standalone stub)", slog.String("entity", string(id)))
}

type teleporterStub struct{}

func (teleporterStub) Teleport(playerID string, to world.Coordinate) {
	slog.Info("Teleport requested (standalone stub)",
		slog.String("player_id", playerID),
		slog.Int("x", to.X),
		slog.Int("z", to.Z))
}

type messengerStub struct{}

func (messengerStub) Notify(playerID string, message string) {
	slog.Info("Notify requested (standalone stub)",
		slog.String("player_id", playerID),
		slog.String("message", message))
}
