package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	JWT           JWTConfig          `yaml:"jwt"`
	Maintainers   []MaintainerConfig `yaml:"maintainers"`
	LDAP          LDAPConfig         `yaml:"ldap"`
	OpenAI        OpenAIConfig       `yaml:"openai"`
	LLM           []LLMProvider      `yaml:"llm"`
	Redis         RedisConfig        `yaml:"redis"`
	GitHub        GitHubConfig       `yaml:"github"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Thresholds    ThresholdsConfig   `yaml:"thresholds"`
	Notifications NotificationConfig `yaml:"notifications"`
	Log           LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// AllowedOrigins lists dashboard origins; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// JWTConfig signs maintainer tokens for the manual actions API
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// MaintainerConfig is a local maintainer account. PasswordHash is a bcrypt hash.
type MaintainerConfig struct {
	Login        string `yaml:"login"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"` // maintainer, admin
}

// LDAPConfig enables directory login for maintainers. Anyone the filter
// matches is treated as a maintainer.
type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	UseSSL       bool   `yaml:"use_ssl"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	BaseDN       string `yaml:"base_dn"`
	UserFilter   string `yaml:"user_filter"` // e.g. (uid=%s)
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// LLMProvider is seeded into the llm_configs table on startup
type LLMProvider struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"` // openai, azure, anthropic, gemini, ollama
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	IsDefault   bool    `yaml:"is_default"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GitHubConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"token"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

type MonitorConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Schedule             string        `yaml:"schedule"` // cron spec or @every <duration>
	Concurrency          int           `yaml:"concurrency"`
	AssignmentTimeout    time.Duration `yaml:"assignment_timeout"`
	RunDeadline          time.Duration `yaml:"run_deadline"`
	LeaseTTL             time.Duration `yaml:"lease_ttl"`
	MaxTransientFailures int           `yaml:"max_transient_failures"`
	MaxPermanentFailures int           `yaml:"max_permanent_failures"`
	ForkCacheTTL         time.Duration `yaml:"fork_cache_ttl"`
	HolidayCountry       string        `yaml:"holiday_country"` // empty = calendar time
	BotLogin             string        `yaml:"bot_login"`       // our own GitHub login, ignored as activity
}

// ThresholdsConfig selects the staleness regime. Custom durations are only read
// when Regime is "custom".
type ThresholdsConfig struct {
	Regime          string             `yaml:"regime"` // strict, lenient, testing, custom
	Warning         time.Duration      `yaml:"warning"`
	Alert           time.Duration      `yaml:"alert"`
	AutoUnassign    time.Duration      `yaml:"auto_unassign"`
	ConfidenceFloor float64            `yaml:"confidence_floor"`
	Multipliers     map[string]float64 `yaml:"multipliers"` // keyed by work type, plus "blocked"
}

type NotificationConfig struct {
	Channels []NotificationChannel `yaml:"channels"`
}

type NotificationChannel struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // wechat_work, dingtalk, feishu, slack, discord, teams, telegram, generic
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
	Extra   string `yaml:"extra"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console; empty picks by level
}

var validRegimes = map[string]bool{
	"strict":  true,
	"lenient": true,
	"testing": true,
	"custom":  true,
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "claimwatch.db",
		},
		JWT: JWTConfig{
			Secret:     "claimwatch-secret-key-change-in-production",
			ExpireHour: 24,
		},
		LDAP: LDAPConfig{
			Port:       389,
			UserFilter: "(uid=%s)",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		GitHub: GitHubConfig{
			BaseURL:           "https://api.github.com",
			RequestsPerSecond: 1,
			Burst:             5,
			Timeout:           30 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:              true,
			Schedule:             "@every 1h",
			Concurrency:          4,
			AssignmentTimeout:    2 * time.Minute,
			RunDeadline:          45 * time.Minute,
			LeaseTTL:             5 * time.Minute,
			MaxTransientFailures: 3,
			MaxPermanentFailures: 2,
			ForkCacheTTL:         12 * time.Hour,
		},
		Thresholds: ThresholdsConfig{
			Regime:          "strict",
			ConfidenceFloor: 0.5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if ldapHost := os.Getenv("LDAP_HOST"); ldapHost != "" {
		c.LDAP.Enabled = true
		c.LDAP.Host = ldapHost
	}
	if bindPassword := os.Getenv("LDAP_BIND_PASSWORD"); bindPassword != "" {
		c.LDAP.BindPassword = bindPassword
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if secret := os.Getenv("GITHUB_WEBHOOK_SECRET"); secret != "" {
		c.GitHub.WebhookSecret = secret
	}
	if baseURL := os.Getenv("GITHUB_BASE_URL"); baseURL != "" {
		c.GitHub.BaseURL = baseURL
	}
	if regime := os.Getenv("THRESHOLD_REGIME"); regime != "" {
		c.Thresholds.Regime = regime
	}
	if schedule := os.Getenv("MONITOR_SCHEDULE"); schedule != "" {
		c.Monitor.Schedule = schedule
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	regime := strings.ToLower(c.Thresholds.Regime)
	if regime == "" {
		regime = "strict"
	}
	if !validRegimes[regime] {
		return fmt.Errorf("unknown threshold regime: %s", c.Thresholds.Regime)
	}
	c.Thresholds.Regime = regime

	if regime == "custom" {
		t := c.Thresholds
		if t.Warning <= 0 || t.Alert <= t.Warning || t.AutoUnassign <= t.Alert {
			return fmt.Errorf("custom thresholds must be positive and increasing: warning=%s alert=%s auto_unassign=%s",
				t.Warning, t.Alert, t.AutoUnassign)
		}
	}
	if c.Thresholds.ConfidenceFloor < 0 || c.Thresholds.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be within [0,1], got %v", c.Thresholds.ConfidenceFloor)
	}
	for key, m := range c.Thresholds.Multipliers {
		if m <= 0 {
			return fmt.Errorf("multiplier for %q must be positive", key)
		}
	}
	for i, m := range c.Maintainers {
		if m.Login == "" || m.PasswordHash == "" {
			return fmt.Errorf("maintainer #%d needs login and password_hash", i+1)
		}
		if m.Role == "" {
			c.Maintainers[i].Role = "maintainer"
		}
	}
	if c.LDAP.Enabled && (c.LDAP.Host == "" || c.LDAP.BaseDN == "" || !strings.Contains(c.LDAP.UserFilter, "%s")) {
		return fmt.Errorf("ldap needs host, base_dn and a user_filter containing %%s")
	}
	if c.Monitor.Concurrency <= 0 {
		c.Monitor.Concurrency = 1
	}
	if c.Monitor.MaxTransientFailures <= 0 {
		c.Monitor.MaxTransientFailures = 3
	}
	if c.Monitor.MaxPermanentFailures <= 0 {
		c.Monitor.MaxPermanentFailures = 2
	}
	return nil
}
