package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig               `yaml:"global"`
	Memory     MemoryConfig               `yaml:"memory"`
	Store      StoreConfig                `yaml:"store"`
	Dedup      DedupConfig                `yaml:"dedup"`
	Batch      BatchConfig                `yaml:"batch"`
	Breaker    BreakerConfig              `yaml:"breaker"`
	Prefetch   PrefetchConfig             `yaml:"prefetch"`
	Namespaces map[string]NamespaceConfig `yaml:"namespaces"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// MemoryConfig represents L1 cache settings
type MemoryConfig struct {
	MaxMemoryMB     int           `yaml:"max_memory_mb"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StoreConfig selects and configures the durable backend
type StoreConfig struct {
	Backend     string            `yaml:"backend"` // "redis" or "coordinator"
	Redis       RedisConfig       `yaml:"redis"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// RedisConfig represents Redis L2 settings
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CoordinatorConfig represents coordinator service settings
type CoordinatorConfig struct {
	BaseURL          string        `yaml:"base_url"`
	ListenAddr       string        `yaml:"listen_addr"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// DedupConfig represents deduplicator settings
type DedupConfig struct {
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	DefaultCacheTTL  time.Duration `yaml:"default_cache_ttl"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

// BatchConfig represents batch scheduler settings
type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// BreakerConfig represents circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// PrefetchConfig represents prefetch engine settings
type PrefetchConfig struct {
	Enabled             bool          `yaml:"enabled"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	BatchSize           int           `yaml:"batch_size"`
	MaxPredictionWindow time.Duration `yaml:"max_prediction_window"`
}

// NamespaceConfig represents per-namespace cache policy
type NamespaceConfig struct {
	L1TTL               time.Duration `yaml:"l1_ttl"`
	MaxMemoryMB         int           `yaml:"max_memory_mb"`
	MaxEntries          int           `yaml:"max_entries"`
	Priority            string        `yaml:"priority"` // high, medium, low
	RealtimePatterns    []string      `yaml:"realtime_patterns"`
	PredictivePatterns  []string      `yaml:"predictive_patterns"`
	PrefetchThreshold   int           `yaml:"prefetch_threshold"`
	PriorityKeyPatterns []string      `yaml:"priority_key_patterns"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsAddr: "localhost:9191",
		},
		Memory: MemoryConfig{
			MaxMemoryMB:     256,
			MaxEntries:      100000,
			DefaultTTL:      5 * time.Minute,
			GracePeriod:     30 * time.Second,
			CleanupInterval: time.Minute,
		},
		Store: StoreConfig{
			Backend: "redis",
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				KeyPrefix:  "tiercache:",
				DefaultTTL: time.Hour,
			},
			Coordinator: CoordinatorConfig{
				BaseURL:          "http://localhost:9190",
				ListenAddr:       "localhost:9190",
				SnapshotPath:     "/var/lib/tiercache/coordinator.json",
				SnapshotInterval: 30 * time.Second,
				RequestTimeout:   5 * time.Second,
			},
		},
		Dedup: DedupConfig{
			DefaultTimeout:   30 * time.Second,
			DefaultCacheTTL:  30 * time.Second,
			BatchConcurrency: 8,
		},
		Batch: BatchConfig{
			MaxConcurrency: 8,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          60 * time.Second,
		},
		Prefetch: PrefetchConfig{
			Enabled:             true,
			TickInterval:        time.Second,
			BatchSize:           10,
			MaxPredictionWindow: 5 * time.Minute,
		},
		Namespaces: map[string]NamespaceConfig{
			"default": DefaultNamespace(),
		},
	}
}

// DefaultNamespace returns the namespace policy applied when no
// explicit entry exists
func DefaultNamespace() NamespaceConfig {
	return NamespaceConfig{
		L1TTL:             5 * time.Minute,
		MaxMemoryMB:       64,
		MaxEntries:        10000,
		Priority:          "medium",
		PrefetchThreshold: 3,
	}
}

// Namespace resolves the policy for a namespace, falling back to the
// default entry and then to built-in defaults
func (c *Configuration) Namespace(name string) NamespaceConfig {
	if ns, ok := c.Namespaces[name]; ok {
		return ns
	}
	if ns, ok := c.Namespaces["default"]; ok {
		return ns
	}
	return DefaultNamespace()
}

// Load reads configuration from a YAML file over defaults, then applies
// environment overrides
func Load(filename string) (*Configuration, error) {
	c := NewDefault()
	if filename != "" {
		if err := c.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("TIERCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("TIERCACHE_BACKEND"); val != "" {
		c.Store.Backend = val
	}
	if val := os.Getenv("TIERCACHE_REDIS_ADDR"); val != "" {
		c.Store.Redis.Addr = val
	}
	if val := os.Getenv("TIERCACHE_REDIS_PASSWORD"); val != "" {
		c.Store.Redis.Password = val
	}
	if val := os.Getenv("TIERCACHE_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if val := os.Getenv("TIERCACHE_COORDINATOR_URL"); val != "" {
		c.Store.Coordinator.BaseURL = val
	}
	if val := os.Getenv("TIERCACHE_COORDINATOR_LISTEN"); val != "" {
		c.Store.Coordinator.ListenAddr = val
	}
	if val := os.Getenv("TIERCACHE_SNAPSHOT_PATH"); val != "" {
		c.Store.Coordinator.SnapshotPath = val
	}
	if val := os.Getenv("TIERCACHE_MAX_MEMORY_MB"); val != "" {
		if mb, err := strconv.Atoi(val); err == nil {
			c.Memory.MaxMemoryMB = mb
		}
	}
	if val := os.Getenv("TIERCACHE_DEFAULT_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Memory.DefaultTTL = duration
		}
	}
	if val := os.Getenv("TIERCACHE_PREFETCH_ENABLED"); val != "" {
		c.Prefetch.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. A missing or unknown backend
// selection is fatal at startup.
func (c *Configuration) Validate() error {
	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required when backend is redis")
		}
	case "coordinator":
		if c.Store.Coordinator.BaseURL == "" {
			return fmt.Errorf("store.coordinator.base_url is required when backend is coordinator")
		}
	case "":
		return fmt.Errorf("store.backend is required (redis or coordinator)")
	default:
		return fmt.Errorf("invalid store.backend: %s (must be redis or coordinator)", c.Store.Backend)
	}

	if c.Memory.MaxMemoryMB <= 0 {
		return fmt.Errorf("memory.max_memory_mb must be greater than 0")
	}
	if c.Memory.MaxEntries <= 0 {
		return fmt.Errorf("memory.max_entries must be greater than 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be greater than 0")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	for name, ns := range c.Namespaces {
		if ns.Priority != "" && ns.Priority != "high" && ns.Priority != "medium" && ns.Priority != "low" {
			return fmt.Errorf("namespace %s: invalid priority %s", name, ns.Priority)
		}
	}

	return nil
}
