package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Cache backends
const (
	CacheMemory   = "memory"
	CacheLevelDB  = "leveldb"
	CachePostgres = "postgres"
)

// Queue backends
const (
	QueueInProcess = "inprocess"
	QueuePostgres  = "postgres"
)

// Duration is a time.Duration written as a string such as "4h" or "90s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Listen      string `toml:"listen" yaml:"listen"`
	ApiToken    string `toml:"api_token" yaml:"api_token"`
	CorsOrigins string `toml:"cors_origins" yaml:"cors_origins"`

	// Zero disables the DMFR response cache
	DMFRCacheExpiration Duration `toml:"dmfr_cache_expiration" yaml:"dmfr_cache_expiration"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Name     string `toml:"name" yaml:"name"`
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

// URL renders the settings as a postgres:// URL understood by both lib/pq
// and golang-migrate
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// CacheConfig selects the shared cache store
type CacheConfig struct {
	Backend    string   `toml:"backend" yaml:"backend"`
	Path       string   `toml:"path" yaml:"path"`
	Expiration Duration `toml:"expiration" yaml:"expiration"`

	// How often the memory backend drops expired entries
	CleanupInterval Duration `toml:"cleanup_interval" yaml:"cleanup_interval"`
}

// QueueConfig selects how fetch info tasks reach workers
type QueueConfig struct {
	Backend      string   `toml:"backend" yaml:"backend"`
	Workers      int      `toml:"workers" yaml:"workers"`
	Size         int      `toml:"size" yaml:"size"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	JobLease     Duration `toml:"job_lease" yaml:"job_lease"`
	MaxAttempts  int      `toml:"max_attempts" yaml:"max_attempts"`
	Retention    Duration `toml:"retention" yaml:"retention"`
}

// FetchConfig controls downloads of upstream feeds
type FetchConfig struct {
	Timeout     Duration `toml:"timeout" yaml:"timeout"`
	MaxSize     int64    `toml:"max_size" yaml:"max_size"`
	UserAgent   string   `toml:"user_agent" yaml:"user_agent"`
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
}

// Config represents the top-level configuration
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Cache    CacheConfig    `toml:"cache" yaml:"cache"`
	Queue    QueueConfig    `toml:"queue" yaml:"queue"`
	Fetch    FetchConfig    `toml:"fetch" yaml:"fetch"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:              ":3000",
			CorsOrigins:         "*",
			DMFRCacheExpiration: Duration{time.Minute},
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "transitland",
			Password: "transitland",
			Name:     "transitland",
			SSLMode:  "disable",
		},
		Cache: CacheConfig{
			Backend:         CacheMemory,
			Path:            "cache.db",
			Expiration:      Duration{4 * time.Hour},
			CleanupInterval: Duration{10 * time.Minute},
		},
		Queue: QueueConfig{
			Backend:      QueueInProcess,
			Workers:      4,
			Size:         1000,
			PollInterval: Duration{5 * time.Second},
			JobLease:     Duration{10 * time.Minute},
			MaxAttempts:  3,
			Retention:    Duration{7 * 24 * time.Hour},
		},
		Fetch: FetchConfig{
			Timeout:     Duration{60 * time.Second},
			MaxSize:     512 * 1024 * 1024,
			UserAgent:   "transitland-datastore",
			MaxAttempts: 3,
		},
	}
}

// LoadConfig reads a TOML file, or YAML when the extension is .yaml or .yml,
// over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = toml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidConfig, "error parsing config file"), "path", path)
	}

	return config, nil
}

// Validate checks backends and limits
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Listen == "" {
		problems = append(problems, "server.listen must be set")
	}
	if c.Server.DMFRCacheExpiration.Duration < 0 {
		problems = append(problems, "server.dmfr_cache_expiration must not be negative")
	}
	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.CleanupInterval.Duration <= 0 {
			problems = append(problems, "cache.cleanup_interval must be positive for the memory backend")
		}
	case CachePostgres:
	case CacheLevelDB:
		if c.Cache.Path == "" {
			problems = append(problems, "cache.path must be set for the leveldb backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.Expiration.Duration <= 0 {
		problems = append(problems, "cache.expiration must be positive")
	}
	switch c.Queue.Backend {
	case QueueInProcess:
	case QueuePostgres:
		// workers in other processes must see the records they write
		if c.Cache.Backend != CachePostgres {
			problems = append(problems, "queue.backend postgres requires cache.backend postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown queue.backend %q", c.Queue.Backend))
	}
	if c.Queue.Workers < 1 {
		problems = append(problems, "queue.workers must be at least 1")
	}
	if c.Queue.Size < 1 {
		problems = append(problems, "queue.size must be at least 1")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		problems = append(problems, "fetch.timeout must be positive")
	}
	if c.Fetch.MaxSize <= 0 {
		problems = append(problems, "fetch.max_size must be positive")
	}

	if len(problems) > 0 {
		return errors.WithContext(
			errors.New(errors.CodeInvalidConfig, "invalid configuration: "+strings.Join(problems, "; ")),
			"problems", problems)
	}
	return nil
}
