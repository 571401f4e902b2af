// Package config loads process settings from the environment and per-project
// settings from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrUnknownProject is returned for project ids with no configuration.
var ErrUnknownProject = errors.New("unknown project")

// Config holds process settings.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	// DatabaseURL selects the store: postgres:// or postgresql:// for
	// PostgreSQL, sqlite:// or a file path for SQLite.
	DatabaseURL string
	// RedisURL enables the read cache when set.
	RedisURL string
	CacheTTL time.Duration

	AllowedOrigins []string
	UserAgent      string

	MaxConcurrent  int
	ReleaseDelay   time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	BatchSize  int
	BatchPause time.Duration
	ChunkSize  int

	// PageTimeout bounds one page including its retries. Zero disables it.
	PageTimeout time.Duration
	// MaxTotalPages rejects reports announcing more pages than this.
	MaxTotalPages int

	InventoryInterval time.Duration

	ProjectsDir string
	Projects    map[string]*Project
}

// Project is one upstream account and its device table.
type Project struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	DeviceGroupID string `yaml:"device_group_id"`
	TableName     string `yaml:"table"`
	Udise         bool   `yaml:"udise"`

	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`
}

// Target returns the upstream target of the project.
func (p *Project) Target() client.Target {
	return client.Target{
		Key:           p.ID,
		BaseURL:       p.BaseURL,
		APIKey:        p.APIKey,
		DeviceGroupID: p.DeviceGroupID,
	}
}

// Table returns the project's device table.
func (p *Project) Table() storage.Table {
	return storage.Table{Name: p.TableName, Udise: p.Udise}
}

// Validate checks the project for required fields.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("project %s: base_url is required", p.ID)
	}
	if p.APIKey == "" {
		return fmt.Errorf("project %s: api key not set (env %s)", p.ID, p.APIKeyEnv)
	}
	if err := p.Table().Validate(); err != nil {
		return fmt.Errorf("project %s: %w", p.ID, err)
	}
	return nil
}

// Load reads .env (if present), the environment and the project files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getEnvBool("LOG_PRETTY", false),
		DatabaseURL:       getEnv("DATABASE_URL", "sqlite://fleet.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		CacheTTL:          getEnvDuration("CACHE_TTL", 30*time.Second),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		UserAgent:         getEnv("USER_AGENT", "fleet-activity-sync/0.1.0"),
		MaxConcurrent:     getEnvInt("FLEET_MAX_CONCURRENT", 10),
		ReleaseDelay:      getEnvDuration("FLEET_RELEASE_DELAY", 70*time.Millisecond),
		RequestTimeout:    getEnvDuration("FLEET_REQUEST_TIMEOUT", 30*time.Second),
		MaxAttempts:       getEnvInt("FLEET_MAX_ATTEMPTS", 5),
		InitialBackoff:    getEnvDuration("FLEET_INITIAL_BACKOFF", time.Second),
		BatchSize:         getEnvInt("FLEET_BATCH_SIZE", 5),
		BatchPause:        getEnvDuration("FLEET_BATCH_PAUSE", 2*time.Second),
		PageTimeout:       getEnvDuration("FLEET_PAGE_TIMEOUT", 0),
		MaxTotalPages:     getEnvInt("FLEET_MAX_TOTAL_PAGES", client.DefaultMaxTotalPages),
		ChunkSize:         getEnvInt("DB_CHUNK_SIZE", storage.DefaultChunkSize),
		InventoryInterval: getEnvDuration("INVENTORY_INTERVAL", 5*time.Minute),
		ProjectsDir:       getEnv("PROJECTS_DIR", "config/projects"),
	}

	projects, err := LoadProjects(cfg.ProjectsDir)
	if err != nil {
		return nil, err
	}
	cfg.Projects = projects

	return cfg, nil
}

// LoadProjects reads every *.yaml file in dir. A missing directory yields no
// projects.
func LoadProjects(dir string) (map[string]*Project, error) {
	projects := make(map[string]*Project)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return projects, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || (filepath.Ext(entry.Name()) != ".yaml" && filepath.Ext(entry.Name()) != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var p Project
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if p.TableName == "" {
			p.TableName = "project_" + p.ID + "_db"
		}
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := projects[p.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate project id %s", path, p.ID)
		}

		projects[p.ID] = &p
	}

	return projects, nil
}

// Project returns the configuration of id.
func (c *Config) Project(id string) (*Project, error) {
	p, ok := c.Projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, id)
	}
	return p, nil
}

// ProjectIDs returns the configured project ids in order.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RetryConfig returns the client retry policy.
func (c *Config) RetryConfig() client.RetryConfig {
	retry := client.DefaultRetryConfig()
	retry.MaxAttempts = c.MaxAttempts
	retry.InitialBackoff = c.InitialBackoff
	return retry
}

// InventorySchedule returns the cron spec of the inventory sync.
func (c *Config) InventorySchedule() string {
	return "@every " + c.InventoryInterval.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
