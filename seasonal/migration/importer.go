package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eventide-games/seasonal/seasonal/database/repositories"
)

// Importer copies quest state out of the previous event plugin's Mongo
// database into the Postgres tables. One-shot, run at most once per event
// from the daemon's -import-legacy flag; upsert semantics make reruns safe.
type Importer struct {
	repo  repositories.ProgressRepository
	mongo *mongo.Database

	stats ImportStats
}

type ImportStats struct {
	Progress  int
	Accepted  int
	Completed int
	Claimed   int
	Skipped   int
	Started   time.Time
}

func NewImporter(ctx context.Context, uri, database string, repo repositories.ProgressRepository) (*Importer, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to legacy store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("legacy store unreachable: %w", err)
	}

	return &Importer{
		repo:  repo,
		mongo: client.Database(database),
	}, nil
}

type legacyRecord struct {
	Player string `bson:"player"`
	Quest  string `bson:"quest"`
	Amount int    `bson:"amount"`
}

// ImportAll runs the four collections in dependency order. Malformed
// documents are counted and skipped, never fatal.
func (i *Importer) ImportAll(ctx context.Context) (ImportStats, error) {
	i.stats = ImportStats{Started: time.Now()}

	steps := []struct {
		collection string
		apply      func(ctx context.Context, rec legacyRecord) error
		counter    *int
	}{
		{"quest_progress", func(ctx context.Context, rec legacyRecord) error {
			return i.repo.UpsertAmount(ctx, rec.Player, rec.Quest, rec.Amount)
		}, &i.stats.Progress},
		{"quest_accepted", func(ctx context.Context, rec legacyRecord) error {
			return i.repo.MarkAccepted(ctx, rec.Player, rec.Quest)
		}, &i.stats.Accepted},
		{"quest_completed", func(ctx context.Context, rec legacyRecord) error {
			return i.repo.MarkCompleted(ctx, rec.Player, rec.Quest)
		}, &i.stats.Completed},
		{"quest_claimed", func(ctx context.Context, rec legacyRecord) error {
			return i.repo.MarkClaimed(ctx, rec.Player, rec.Quest)
		}, &i.stats.Claimed},
	}

	for _, step := range steps {
		if err := i.importCollection(ctx, step.collection, step.apply, step.counter); err != nil {
			return i.stats, fmt.Errorf("importing %s: %w", step.collection, err)
		}
	}

	slog.Info("Legacy import finished",
		slog.String("type", "db"),
		slog.Int("progress", i.stats.Progress),
		slog.Int("accepted", i.stats.Accepted),
		slog.Int("completed", i.stats.Completed),
		slog.Int("claimed", i.stats.Claimed),
		slog.Int("skipped", i.stats.Skipped),
		slog.Duration("took", time.Since(i.stats.Started)))

	return i.stats, nil
}

func (i *Importer) importCollection(ctx context.Context, name string, apply func(context.Context, legacyRecord) error, counter *int) error {
	cursor, err := i.mongo.Collection(name).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to open cursor: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec legacyRecord
		if err := cursor.Decode(&rec); err != nil {
			i.stats.Skipped++
			continue
		}
		if rec.Player == "" || rec.Quest == "" {
			i.stats.Skipped++
			continue
		}

		if err := apply(ctx, rec); err != nil {
			slog.Error("Failed to import legacy record",
				slog.String("type", "db"),
				slog.String("collection", name),
				slog.String("player_id", rec.Player),
				slog.String("quest_id", rec.Quest),
				slog.Any("error", err))
			i.stats.Skipped++
			continue
		}
		*counter++
	}

	return cursor.Err()
}
