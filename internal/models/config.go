package models

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

type ServerConfig struct {
	Port               int `json:"port" env:"PORT"`
	ReadTimeoutSec     int `json:"readTimeoutSec" env:"READ_TIMEOUT_SEC"`
	WriteTimeoutSec    int `json:"writeTimeoutSec" env:"WRITE_TIMEOUT_SEC"`
	IdleTimeoutSec     int `json:"idleTimeoutSec" env:"IDLE_TIMEOUT_SEC"`
	IngestRatePerMin   int `json:"ingestRatePerMin" env:"INGEST_RATE_PER_MIN"`
	GracefulTimeoutSec int `json:"gracefulTimeoutSec" env:"GRACEFUL_TIMEOUT_SEC"`
}

type DatabaseConfig struct {
	// Driver selects the job store backend: "sqlite" (default) or "redis".
	// Alerts, webhooks and channels are always kept in sqlite.
	Driver    string `json:"driver" env:"DB_DRIVER"`
	Path      string `json:"path" env:"DB_PATH"`
	RedisAddr string `json:"redisAddr" env:"REDIS_ADDR"`
	RedisDB   int    `json:"redisDb" env:"REDIS_DB"`
}

type QueueConfig struct {
	PollIntervalSec int `json:"pollIntervalSec" env:"QUEUE_POLL_INTERVAL_SEC"`
	Concurrency     int `json:"concurrency" env:"QUEUE_CONCURRENCY"`
	JobTimeoutSec   int `json:"jobTimeoutSec" env:"QUEUE_JOB_TIMEOUT_SEC"`
	MaxAttempts     int `json:"maxAttempts" env:"QUEUE_MAX_ATTEMPTS"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" env:"RETRY_INITIAL_BACKOFF_MS"`
	MaxBackoffMs     int `json:"maxBackoffMs" env:"RETRY_MAX_BACKOFF_MS"`
}

type CleanupConfig struct {
	RetentionDays int `json:"retentionDays" env:"CLEANUP_RETENTION_DAYS"`
	IntervalHours int `json:"intervalHours" env:"CLEANUP_INTERVAL_HOURS"`
}

type TracingConfig struct {
	Enabled      bool    `json:"enabled" env:"TRACING_ENABLED"`
	UseStdout    bool    `json:"useStdout" env:"TRACING_USE_STDOUT"`
	OTLPEndpoint string  `json:"otlpEndpoint" env:"TRACING_OTLP_ENDPOINT"`
	SampleRate   float64 `json:"sampleRate" env:"TRACING_SAMPLE_RATE"`
	Environment  string  `json:"environment" env:"TRACING_ENVIRONMENT"`
}

type SendersConfig struct {
	TimeoutSec             int    `json:"timeoutSec" env:"SENDER_TIMEOUT_SEC"`
	BreakerMaxFailures     int    `json:"breakerMaxFailures" env:"SENDER_BREAKER_MAX_FAILURES"`
	BreakerResetTimeoutSec int    `json:"breakerResetTimeoutSec" env:"SENDER_BREAKER_RESET_TIMEOUT_SEC"`
	MailGatewayURL         string `json:"mailGatewayUrl" env:"MAIL_GATEWAY_URL"`
	MailAPIKey             string `json:"mailApiKey,omitempty" env:"MAIL_API_KEY"`
	MailFrom               string `json:"mailFrom" env:"MAIL_FROM"`
}

type Config struct {
	LogLevel string         `json:"logLevel" env:"LOG_LEVEL"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Retry    RetryConfig    `json:"retry"`
	Cleanup  CleanupConfig  `json:"cleanup"`
	Tracing  TracingConfig  `json:"tracing"`
	Senders  SendersConfig  `json:"senders"`
}
