package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	GitHub   GitHubConfig   `yaml:"github" mapstructure:"github"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Graph    GraphConfig    `yaml:"graph" mapstructure:"graph"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Ledger   LedgerConfig   `yaml:"ledger" mapstructure:"ledger"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

type GitHubConfig struct {
	Tokens            []string `yaml:"tokens" mapstructure:"tokens"`
	RateLimit         int      `yaml:"rate_limit" mapstructure:"rate_limit"` // Requests per second
	APIURL            string   `yaml:"api_url" mapstructure:"api_url"`
	GraphQLURL        string   `yaml:"graphql_url" mapstructure:"graphql_url"`
	DetailConcurrency int      `yaml:"detail_concurrency" mapstructure:"detail_concurrency"`
	MaxRetries        int      `yaml:"max_retries" mapstructure:"max_retries"` // 0 = retry forever
}

type StorageConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"` // memory, sqlite, bolt, postgres, mongo
	UpsertMode    string `yaml:"upsert_mode" mapstructure:"upsert_mode"`
	PostgresDSN   string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	BoltPath      string `yaml:"bolt_path" mapstructure:"bolt_path"`
	MongoURI      string `yaml:"mongo_uri" mapstructure:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" mapstructure:"mongo_database"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type GraphConfig struct {
	Neo4jURI      string `yaml:"neo4j_uri" mapstructure:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user" mapstructure:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password" mapstructure:"neo4j_password"`
	Neo4jDatabase string `yaml:"neo4j_database" mapstructure:"neo4j_database"`
}

type PipelineConfig struct {
	ScraperDir      string   `yaml:"scraper_dir" mapstructure:"scraper_dir"`
	MinerBinary     string   `yaml:"miner_binary" mapstructure:"miner_binary"`
	OutputDir       string   `yaml:"output_dir" mapstructure:"output_dir"`
	ArchiveDir      string   `yaml:"archive_dir" mapstructure:"archive_dir"`
	PexGeneratorDir string   `yaml:"pex_generator_dir" mapstructure:"pex_generator_dir"`
	ForecastCommand []string `yaml:"forecast_command" mapstructure:"forecast_command"`
	ReactCommand    []string `yaml:"react_command" mapstructure:"react_command"`
	ReactAPIDir     string   `yaml:"react_api_dir" mapstructure:"react_api_dir"`
	Tasks           []string `yaml:"tasks" mapstructure:"tasks"`
	MonthRange      []int    `yaml:"month_range" mapstructure:"month_range"`
}

type DataConfig struct {
	StaticDir string `yaml:"static_dir" mapstructure:"static_dir"` // root of the new/ tree
	OutDir    string `yaml:"out_dir" mapstructure:"out_dir"`       // GitHub fetch output
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LedgerConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// ReactSetPath is the reference document handed to the ReACT extractor.
func (p PipelineConfig) ReactSetPath() string {
	return filepath.Join(p.ReactAPIDir, "react_extractor", "react_set.json")
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		GitHub: GitHubConfig{
			RateLimit:         10,
			APIURL:            "https://api.github.com/",
			GraphQLURL:        "https://api.github.com/graphql",
			DetailConcurrency: 10,
		},
		Storage: StorageConfig{
			Backend:       "sqlite",
			UpsertMode:    "replace",
			SQLitePath:    filepath.Join(homeDir, ".osspulse", "pulse.db"),
			BoltPath:      filepath.Join(homeDir, ".osspulse", "pulse.bolt"),
			MongoDatabase: "decal-db",
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Graph: GraphConfig{
			Neo4jUser:     "neo4j",
			Neo4jDatabase: "neo4j",
		},
		Pipeline: PipelineConfig{
			ScraperDir:      "OSS-Scraper",
			MinerBinary:     "target/debug/miner",
			OutputDir:       "output",
			ArchiveDir:      "archive",
			PexGeneratorDir: "pex-forecaster",
			ForecastCommand: []string{"python3", "-m", "decalfc.app.server"},
			ReactCommand:    []string{"python3", "-m", "react_extractor"},
			ReactAPIDir:     "ReACT-API",
			Tasks:           []string{"ALL"},
			MonthRange:      []int{0, -1},
		},
		Data: DataConfig{
			StaticDir: "data",
			OutDir:    "out",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("pipeline", cfg.Pipeline)
	v.SetDefault("data", cfg.Data)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("log", cfg.Log)

	v.SetEnvPrefix("PULSE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".osspulse")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".osspulse"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".osspulse", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// CollectGitHubTokens reads GITHUB_TOKEN_1, GITHUB_TOKEN_2, ... stopping at
// the first missing index.
func CollectGitHubTokens() []string {
	var tokens []string
	for i := 1; ; i++ {
		token := strings.TrimSpace(os.Getenv(fmt.Sprintf("GITHUB_TOKEN_%d", i)))
		if token == "" {
			break
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if tokens := CollectGitHubTokens(); len(tokens) > 0 {
		cfg.GitHub.Tokens = tokens
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Tokens = []string{token}
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	if backend := os.Getenv("PULSE_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if mode := os.Getenv("PULSE_UPSERT_MODE"); mode != "" {
		cfg.Storage.UpsertMode = mode
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
		if cfg.Ledger.PostgresDSN == "" {
			cfg.Ledger.PostgresDSN = dsn
		}
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = expandPath(path)
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.Storage.MongoURI = uri
	}
	if db := os.Getenv("MONGODB_DB_NAME"); db != "" {
		cfg.Storage.MongoDatabase = db
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.Neo4jURI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Graph.Neo4jUser = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Graph.Neo4jPassword = password
	}

	if dir := os.Getenv("DATA_DIR_STATIC"); dir != "" {
		cfg.Data.StaticDir = expandPath(dir)
	}
	if dir := os.Getenv("PEX_GENERATOR_DIR"); dir != "" {
		cfg.Pipeline.PexGeneratorDir = expandPath(dir)
	}
	if dir := os.Getenv("REACT_API_DIR"); dir != "" {
		cfg.Pipeline.ReactAPIDir = expandPath(dir)
	}
	if dir := os.Getenv("OSS_SCRAPER_DIR"); dir != "" {
		cfg.Pipeline.ScraperDir = expandPath(dir)
	}

	if addr := os.Getenv("PULSE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("PULSE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("github", c.GitHub)
	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("graph", c.Graph)
	v.Set("pipeline", c.Pipeline)
	v.Set("data", c.Data)
	v.Set("server", c.Server)
	v.Set("ledger", c.Ledger)
	v.Set("log", c.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
