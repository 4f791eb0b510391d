// Package config loads the metastore TOML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultPath is read when neither a flag nor METASTORE_CONFIG names a
	// file. Its absence is not an error.
	DefaultPath = "config/metastore.toml"
	PathEnv     = "METASTORE_CONFIG"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemgraph = "memgraph"
)

// Duration reads TOML strings such as "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type StoreConfig struct {
	Backend              string   `toml:"backend"`
	DSN                  string   `toml:"dsn"`
	MetadataCollectionID string   `toml:"metadata_collection_id"`
	StartupTimeout       Duration `toml:"startup_timeout"`
	MaxRetries           int      `toml:"max_retries"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type SearchConfig struct {
	CaseInsensitive bool `toml:"case_insensitive"`
	StrictNone      bool `toml:"strict_none"`
	MaxPageSize     int  `toml:"max_page_size"`
}

type TraversalConfig struct {
	Timeout         Duration `toml:"timeout"`
	MaxPathsDefault int      `toml:"max_paths_default"`
	MaxDepthDefault int      `toml:"max_depth_default"`
}

type RegistryConfig struct {
	TypedefsPath string `toml:"typedefs_path"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

type Config struct {
	Store     StoreConfig     `toml:"store"`
	Memgraph  MemgraphConfig  `toml:"memgraph"`
	Search    SearchConfig    `toml:"search"`
	Traversal TraversalConfig `toml:"traversal"`
	Registry  RegistryConfig  `toml:"registry"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// Default is the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:              BackendMemory,
			MetadataCollectionID: "metastore-local",
			StartupTimeout:       Duration{60 * time.Second},
			MaxRetries:           5,
		},
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		Search:   SearchConfig{MaxPageSize: 1000},
		Traversal: TraversalConfig{
			Timeout:         Duration{30 * time.Second},
			MaxPathsDefault: 10,
			MaxDepthDefault: 5,
		},
		Registry: RegistryConfig{TypedefsPath: "config/typedefs.yaml"},
		Server:   ServerConfig{Port: "8080"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// Resolve finds the config file (flagPath, then METASTORE_CONFIG, then
// DefaultPath), loads it, applies environment overrides and validates the
// result. Only a missing DefaultPath falls back to defaults.
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(PathEnv)
	}

	var cfg *Config
	var err error
	if path == "" {
		cfg, err = Load(DefaultPath)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = Default(), nil
		}
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("METASTORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("METASTORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("METASTORE_COLLECTION_ID"); v != "" {
		c.Store.MetadataCollectionID = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		c.Memgraph.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		c.Memgraph.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		c.Memgraph.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("METASTORE_TYPEDEFS"); v != "" {
		c.Registry.TypedefsPath = v
	}
	if v := os.Getenv("METASTORE_STRICT_NONE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METASTORE_STRICT_NONE %q: %w", v, err)
		}
		c.Search.StrictNone = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
		}
	case BackendMemgraph:
		if c.Memgraph.URI == "" {
			return fmt.Errorf("memgraph.uri is required for the memgraph backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.MetadataCollectionID == "" {
		return fmt.Errorf("store.metadata_collection_id must not be empty")
	}
	if c.Search.MaxPageSize < 0 {
		return fmt.Errorf("search.max_page_size must not be negative")
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store.max_retries must not be negative")
	}
	return nil
}
