package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"fablecast/server/internal/models"
)

// Config is the full server configuration, loaded from YAML with
// environment overrides for secrets.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Storage   StorageConfig            `yaml:"storage"`
	Provider  ProviderConfig           `yaml:"provider"`
	Speech    SpeechConfig             `yaml:"speech"`
	Recall    RecallConfig             `yaml:"recall"`
	Models    []models.ModelDescriptor `yaml:"models"`
	Routing   RoutingConfig            `yaml:"routing"`
	Narrative NarrativeConfig          `yaml:"narrative"`
	Logging   LoggingConfig            `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the session repository backend. The memory
// backend is the reference; redis and mysql are the durable swap-ins.
type StorageConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis | mysql
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
	MySQL         MySQLConfig   `yaml:"mysql"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ProviderConfig points at an OpenAI-compatible generation backend.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecallConfig wires the Qdrant event-memory index.
type RecallConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
	Limit      int    `yaml:"limit"`
}

// RoutingConfig is the orchestrator's model and channel posture.
type RoutingConfig struct {
	Priority         string        `yaml:"priority"` // quality | speed | balanced
	PreferUncensored bool          `yaml:"prefer_uncensored"`
	DefaultChannel   string        `yaml:"default_channel"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	GenerateTimeout  time.Duration `yaml:"generate_timeout"`
}

// NarrativeConfig covers content loading and engine tuning.
type NarrativeConfig struct {
	StoriesDir      string        `yaml:"stories_dir"`
	PersonasFile    string        `yaml:"personas_file"`
	ArchiveDir      string        `yaml:"archive_dir"`
	RenderTTL       time.Duration `yaml:"render_ttl"`
	RenderCacheSize int           `yaml:"render_cache_size"`
	AssetsDir       string        `yaml:"assets_dir"`
	VisualWorkers   int           `yaml:"visual_workers"`
	Seed            int64         `yaml:"seed"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file, applies environment
// overrides for secrets, then fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if apiKey := os.Getenv("FABLECAST_API_KEY"); apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Recall.APIKey = apiKey
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Storage.Redis.Password = pw
	}
	if pw := os.Getenv("MYSQL_PASSWORD"); pw != "" {
		cfg.Storage.MySQL.Password = pw
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration the server runs with when no file
// is given: in-memory storage, text channel, canned generation.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.SessionTTL == 0 {
		cfg.Storage.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.Storage.SweepInterval == 0 {
		cfg.Storage.SweepInterval = time.Hour
	}
	if cfg.Storage.Redis.Port == 0 {
		cfg.Storage.Redis.Port = 6379
	}
	if cfg.Storage.MySQL.Port == 0 {
		cfg.Storage.MySQL.Port = 3306
	}

	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 120 * time.Second
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Speech.Timeout == 0 {
		cfg.Speech.Timeout = 60 * time.Second
	}

	if cfg.Recall.Port == 0 {
		cfg.Recall.Port = 6334
	}
	if cfg.Recall.Collection == "" {
		cfg.Recall.Collection = "fablecast_events"
	}
	if cfg.Recall.VectorSize == 0 {
		cfg.Recall.VectorSize = 1536
	}
	if cfg.Recall.Limit == 0 {
		cfg.Recall.Limit = 5
	}

	if cfg.Routing.Priority == "" {
		cfg.Routing.Priority = "quality"
	}
	if cfg.Routing.DefaultChannel == "" {
		cfg.Routing.DefaultChannel = "text"
	}
	if cfg.Routing.HealthInterval == 0 {
		cfg.Routing.HealthInterval = time.Minute
	}
	if cfg.Routing.ProbeTimeout == 0 {
		cfg.Routing.ProbeTimeout = 10 * time.Second
	}
	if cfg.Routing.GenerateTimeout == 0 {
		cfg.Routing.GenerateTimeout = 15 * time.Second
	}

	if cfg.Narrative.RenderTTL == 0 {
		cfg.Narrative.RenderTTL = 5 * time.Minute
	}
	if cfg.Narrative.RenderCacheSize == 0 {
		cfg.Narrative.RenderCacheSize = 500
	}
	if cfg.Narrative.VisualWorkers == 0 {
		cfg.Narrative.VisualWorkers = 2
	}
	if cfg.Narrative.AssetsDir == "" {
		cfg.Narrative.AssetsDir = "assets"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	switch cfg.Routing.Priority {
	case "quality", "speed", "cost", "balanced":
	default:
		return fmt.Errorf("unknown routing priority %q", cfg.Routing.Priority)
	}
	return nil
}
