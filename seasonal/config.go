package seasonal

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/eventide-games/seasonal/seasonal/world"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	if err = cfg.Event.validate(); err != nil {
		return nil, fmt.Errorf("invalid event config: %w", err)
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	Event   EventConfig   `toml:"event"`
	Archive ArchiveConfig `toml:"archive"`
	Legacy  LegacyConfig  `toml:"legacy"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// EventConfig holds the per-variant parameters of a seasonal event. One
// engine process runs one event; changing variants is a config change, not a
// code change.
type EventConfig struct {
	Name      string `toml:"name"`
	ContentID string `toml:"content_id"`

	AreaMinX   int `toml:"area_min_x"`
	AreaMinZ   int `toml:"area_min_z"`
	AreaMaxX   int `toml:"area_max_x"`
	AreaMaxZ   int `toml:"area_max_z"`
	BaseHeight int `toml:"base_height"`

	MaxInstances   int `toml:"max_instances"`
	FootprintWidth int `toml:"footprint_width"`
	FootprintDepth int `toml:"footprint_depth"`
	Spacing        int `toml:"spacing"`

	ExpiryMinutes        int   `toml:"expiry_minutes"`
	ReminderOffsetsSec   []int `toml:"reminder_offsets_sec"`
	CleanupDelaySeconds  int   `toml:"cleanup_delay_seconds"`
	MiniBossCount        int   `toml:"mini_boss_count"`
	NormalSpawnSampling  int   `toml:"normal_spawn_sampling"` // use every Nth normal marker
	ProgressDropratePct  int   `toml:"progress_droprate_pct"` // 0..100, 0 means always
	TrashMobType         string `toml:"trash_mob_type"`
	MiniBossMobType      string `toml:"mini_boss_mob_type"`
	FinalBossMobType     string `toml:"final_boss_mob_type"`

	SafeX int `toml:"safe_x"`
	SafeY int `toml:"safe_y"`
	SafeZ int `toml:"safe_z"`
}

func (c EventConfig) validate() error {
	if c.MaxInstances <= 0 {
		return fmt.Errorf("max_instances must be positive, got %d", c.MaxInstances)
	}
	if c.AreaMaxX <= c.AreaMinX || c.AreaMaxZ <= c.AreaMinZ {
		return fmt.Errorf("event area is empty")
	}
	if c.FootprintWidth <= 0 || c.FootprintDepth <= 0 {
		return fmt.Errorf("footprint must be positive")
	}
	if c.ProgressDropratePct < 0 || c.ProgressDropratePct > 100 {
		return fmt.Errorf("progress_droprate_pct must be within 0..100, got %d", c.ProgressDropratePct)
	}
	return nil
}

func (c EventConfig) Area() world.Region {
	return world.Region{MinX: c.AreaMinX, MinZ: c.AreaMinZ, MaxX: c.AreaMaxX, MaxZ: c.AreaMaxZ}
}

func (c EventConfig) SafeLocation() world.Coordinate {
	return world.Coordinate{X: c.SafeX, Y: c.SafeY, Z: c.SafeZ}
}

func (c EventConfig) Expiry() time.Duration {
	if c.ExpiryMinutes <= 0 {
		return 12 * time.Minute
	}
	return time.Duration(c.ExpiryMinutes) * time.Minute
}

func (c EventConfig) CleanupDelay() time.Duration {
	if c.CleanupDelaySeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CleanupDelaySeconds) * time.Second
}

func (c EventConfig) ReminderOffsets() []time.Duration {
	offsets := make([]time.Duration, 0, len(c.ReminderOffsetsSec))
	for _, sec := range c.ReminderOffsetsSec {
		if sec > 0 {
			offsets = append(offsets, time.Duration(sec)*time.Second)
		}
	}
	return offsets
}

type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Key     string `toml:"key"`
	Secret  string `toml:"secret"`
	Region  string `toml:"region"`
	Bucket  string `toml:"bucket"`
	Root    string `toml:"root"`
}

type LegacyConfig struct {
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}
