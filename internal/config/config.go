package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the case engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	SES       SESConfig       `yaml:"ses"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds optional Redis settings. When Addr is empty the engine
// falls back to PostgreSQL advisory locks and skips snapshot caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig holds the decision-policy knobs of the case graph.
type EngineConfig struct {
	MaxFollowups      int     `yaml:"max_followups"`
	FollowupDelayDays int     `yaml:"followup_delay_days"`
	FeeAutoApproveMax float64 `yaml:"fee_auto_approve_max"`
	FeeModerateMax    float64 `yaml:"fee_moderate_max"`
	MaxIterations     int     `yaml:"max_iterations"`
	AutopilotMode     string  `yaml:"autopilot_mode"`
	ExecutionMode     string  `yaml:"execution_mode"`
	CaseLockTTLMins   int     `yaml:"case_lock_ttl_mins"`
}

// DryRun reports whether side effects should be logged instead of performed.
func (e EngineConfig) DryRun() bool {
	return strings.EqualFold(e.ExecutionMode, "DRY")
}

// CaseLockTTL returns the distributed-lock TTL for one graph run.
func (e EngineConfig) CaseLockTTL() time.Duration {
	return time.Duration(e.CaseLockTTLMins) * time.Minute
}

// QueueConfig holds job queue worker settings.
type QueueConfig struct {
	Workers             int `yaml:"workers"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxAttempts         int `yaml:"max_attempts"`
	BackoffBaseSeconds  int `yaml:"backoff_base_seconds"`
	JobTimeoutSeconds   int `yaml:"job_timeout_seconds"`
}

// PollInterval returns the queue poll cadence.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

// BackoffBase returns the base delay for retry backoff.
func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

// JobTimeout returns the per-job execution timeout.
func (q QueueConfig) JobTimeout() time.Duration {
	return time.Duration(q.JobTimeoutSeconds) * time.Second
}

// SchedulerConfig holds the follow-up scan loop settings.
type SchedulerConfig struct {
	Enabled             bool `yaml:"enabled"`
	ScanIntervalSeconds int  `yaml:"scan_interval_seconds"`
}

// ScanInterval returns the follow-up scan cadence.
func (s SchedulerConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalSeconds) * time.Second
}

// BedrockConfig holds the LLM provider settings.
type BedrockConfig struct {
	Region         string  `yaml:"region"`
	ModelID        string  `yaml:"model_id"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the LLM request timeout.
func (b BedrockConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// SESConfig holds outbound email settings.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// AlertsConfig holds escalation notification settings. With no SMTP host the
// notifier degrades to log-only.
type AlertsConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// AuthConfig holds Google OAuth authentication configuration.
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// WebhookConfig holds inbound-mail webhook settings.
type WebhookConfig struct {
	Token string `yaml:"token"`
}

// ArchiveConfig holds S3 raw-payload archival settings.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	Prefix   string `yaml:"prefix"`
	Compress bool   `yaml:"compress"`
}

// WarehouseConfig holds the optional Snowflake metrics export settings.
type WarehouseConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Account           string `yaml:"account"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	Database          string `yaml:"database"`
	Schema            string `yaml:"schema"`
	Warehouse         string `yaml:"warehouse"`
	SyncIntervalHours int    `yaml:"sync_interval_hours"`
}

// SyncInterval returns the warehouse export cadence.
func (w WarehouseConfig) SyncInterval() time.Duration {
	return time.Duration(w.SyncIntervalHours) * time.Hour
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Engine.MaxFollowups == 0 {
		cfg.Engine.MaxFollowups = 2
	}
	if cfg.Engine.FollowupDelayDays == 0 {
		cfg.Engine.FollowupDelayDays = 7
	}
	if cfg.Engine.FeeAutoApproveMax == 0 {
		cfg.Engine.FeeAutoApproveMax = 100
	}
	if cfg.Engine.FeeModerateMax == 0 {
		cfg.Engine.FeeModerateMax = 500
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 5
	}
	if cfg.Engine.AutopilotMode == "" {
		cfg.Engine.AutopilotMode = "SUPERVISED"
	}
	if cfg.Engine.ExecutionMode == "" {
		cfg.Engine.ExecutionMode = "LIVE"
	}
	if cfg.Engine.CaseLockTTLMins == 0 {
		cfg.Engine.CaseLockTTLMins = 10
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.PollIntervalSeconds == 0 {
		cfg.Queue.PollIntervalSeconds = 5
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBaseSeconds == 0 {
		cfg.Queue.BackoffBaseSeconds = 5
	}
	if cfg.Queue.JobTimeoutSeconds == 0 {
		cfg.Queue.JobTimeoutSeconds = 300
	}
	if cfg.Scheduler.ScanIntervalSeconds == 0 {
		cfg.Scheduler.ScanIntervalSeconds = 300
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Bedrock.MaxTokens == 0 {
		cfg.Bedrock.MaxTokens = 4096
	}
	if cfg.Bedrock.TimeoutSeconds == 0 {
		cfg.Bedrock.TimeoutSeconds = 120
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Alerts.SMTPPort == 0 {
		cfg.Alerts.SMTPPort = 587
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "case_engine_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "inbound/"
	}
	if cfg.Warehouse.SyncIntervalHours == 0 {
		cfg.Warehouse.SyncIntervalHours = 24
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	// Decision-policy overrides.
	if v := os.Getenv("MAX_FOLLOWUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxFollowups = n
		}
	}
	if v := os.Getenv("FOLLOWUP_DELAY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.FollowupDelayDays = n
		}
	}
	if v := os.Getenv("FEE_AUTO_APPROVE_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.FeeAutoApproveMax = f
		}
	}
	if v := os.Getenv("FEE_MODERATE_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.FeeModerateMax = f
		}
	}
	if v := os.Getenv("LANGGRAPH_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxIterations = n
		}
	}
	if v := os.Getenv("AUTOPILOT_MODE"); v != "" {
		cfg.Engine.AutopilotMode = strings.ToUpper(v)
	}
	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		cfg.Engine.ExecutionMode = strings.ToUpper(v)
	}

	// Provider overrides.
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Bedrock.ModelID = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}

	// Alerting overrides.
	if v := os.Getenv("ALERT_SMTP_HOST"); v != "" {
		cfg.Alerts.SMTPHost = v
	}
	if v := os.Getenv("ALERT_SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.SMTPPort = n
		}
	}
	if v := os.Getenv("ALERT_FROM"); v != "" {
		cfg.Alerts.From = v
	}
	if v := os.Getenv("ALERT_TO"); v != "" {
		cfg.Alerts.To = strings.Split(v, ",")
	}

	// Auth overrides.
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("AUTH_ALLOWED_DOMAIN"); v != "" {
		cfg.Auth.AllowedDomain = v
	}

	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		cfg.Webhook.Token = v
	}

	// Archive overrides.
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	// Warehouse overrides.
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Warehouse.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}

	return cfg, nil
}
