package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/eventide-games/seasonal/seasonal/database/models"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	// Probe reachability before handing the DSN to the pool so startup
	// failures surface as one clear error instead of pool churn.
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	var conn net.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(buildConnString(cfg) + "&sslmode=disable")))
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	return &DB{pool: pool, bunDB: bunDB}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	if db.bunDB != nil {
		db.bunDB.Close()
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// InitializeSchema creates the event tables and indexes.
func (db *DB) InitializeSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.QuestChain)(nil),
		(*models.QuestDefinition)(nil),
		(*models.QuestReward)(nil),
		(*models.QuestProgress)(nil),
		(*models.QuestAccepted)(nil),
		(*models.QuestCompleted)(nil),
		(*models.QuestClaimed)(nil),
	}

	for _, model := range tables {
		_, err := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_quest_definitions_chain ON quest_definitions(chain_id, order_index);",
		"CREATE INDEX IF NOT EXISTS idx_quest_definitions_target ON quest_definitions(target_key);",
		"CREATE INDEX IF NOT EXISTS idx_quest_rewards_quest ON quest_rewards(quest_id);",
		"CREATE INDEX IF NOT EXISTS idx_quest_progress_player ON quest_progress(player_id);",
		"CREATE INDEX IF NOT EXISTS idx_quest_completed_player ON quest_completed(player_id);",
	}

	for _, idx := range indexes {
		if _, err := db.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	slog.Info("Database schema initialized",
		slog.String("type", "db"),
		slog.Int("tables", len(tables)))

	return nil
}
