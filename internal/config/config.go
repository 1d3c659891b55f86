package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds service settings. Values come from the environment (and an
// optional YAML file passed with -config); the env names for the cache dir,
// API keys, CORS hosts and listen address are kept compatible with the
// original deployment's .env.
type Config struct {
	// HTTP listener
	Host string `yaml:"host" env:"HOST" env-default:"0.0.0.0"`
	Port int    `yaml:"port" env:"PORT" env-default:"8000"`
	// MaxConns caps concurrently accepted connections (0 = unlimited).
	MaxConns int `yaml:"max_conns" env:"NANOVIDEO_MAX_CONNS" env-default:"256"`

	// Cache
	DownloadsDir string `yaml:"downloads_dir" env:"DOWNLOADS_DIR" env-default:"downloads"`

	// Auth / CORS. Empty APIKeys means every authed endpoint returns 401.
	APIKeys      []string `yaml:"api_keys" env:"API_KEYS"`
	AllowedHosts []string `yaml:"allowed_hosts" env:"ALLOWED_HOSTS"`

	// Extractor
	YtdlpPath     string        `yaml:"ytdlp_path" env:"NANOVIDEO_YTDLP_PATH" env-default:"yt-dlp"`
	DefaultFormat string        `yaml:"default_format" env:"NANOVIDEO_DEFAULT_FORMAT" env-default:"best"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" env:"NANOVIDEO_FETCH_TIMEOUT" env-default:"30m"`
	// MaxConcurrentFetches bounds simultaneous extractor processes.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" env:"NANOVIDEO_MAX_CONCURRENT_FETCHES" env-default:"4"`
	// FetchStartInterval/FetchStartBurst feed the token bucket that paces
	// extraction starts so a request burst cannot spawn a process storm.
	FetchStartInterval time.Duration `yaml:"fetch_start_interval" env:"NANOVIDEO_FETCH_START_INTERVAL" env-default:"500ms"`
	FetchStartBurst    int           `yaml:"fetch_start_burst" env:"NANOVIDEO_FETCH_START_BURST" env-default:"4"`

	// Metadata cache for /info responses.
	InfoCacheTTL time.Duration `yaml:"info_cache_ttl" env:"NANOVIDEO_INFO_CACHE_TTL" env-default:"5m"`

	// History ledger. Empty = <downloads_dir>/.nanovideo-history.db.
	HistoryPath string `yaml:"history_path" env:"NANOVIDEO_HISTORY_DB"`

	// FUSE mount point for the mount subcommand.
	MountPoint string `yaml:"mount_point" env:"NANOVIDEO_MOUNT" env-default:"/mnt/nanovideo"`
}

// Load reads config from the environment, optionally merging a YAML file
// first. Call LoadEnvFile(".env") beforehand to honour a dotenv file.
func Load(configPath string) (*Config, error) {
	c := &Config{}
	var err error
	if configPath != "" {
		err = cleanenv.ReadConfig(configPath, c)
	} else {
		err = cleanenv.ReadEnv(c)
	}
	if err != nil {
		return nil, err
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 4
	}
	if c.FetchStartBurst <= 0 {
		c.FetchStartBurst = c.MaxConcurrentFetches
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Minute
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(c.DownloadsDir, ".nanovideo-history.db")
	}
	return c, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// HasAPIKey reports whether key is one of the configured keys. Exact string
// membership; the key set is fixed at startup.
func (c *Config) HasAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.APIKeys {
		if k != "" && k == key {
			return true
		}
	}
	return false
}

// LoadEnvFile loads KEY=VALUE lines from path into the process environment.
// Missing file is not an error. Lines starting with # and blank lines are
// skipped; a leading "export " is tolerated. Existing env vars win.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k == "" {
			continue
		}
		if _, exists := os.LookupEnv(k); !exists {
			os.Setenv(k, v)
		}
	}
	return sc.Err()
}
