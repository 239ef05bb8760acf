package constants

import "time"

// Default job queue configuration values
const (
	DefaultPollIntervalSec  = 5
	DefaultConcurrency      = 5
	DefaultMaxAttempts      = 3
	DefaultJobTimeoutSec    = 60
	DefaultRetryBaseDelay   = time.Second
	DefaultRetryMaxDelay    = 5 * time.Minute
	DefaultRetryJitter      = time.Second
	DefaultCleanupDays      = 30
	DefaultCleanupEveryHrs  = 24
	DefaultJobRetentionDays = 30
)

// Default server configuration values
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultIngestRatePerMinute   = 120
)

// Default store configuration values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
)

// Default channel sender configuration values
const (
	DefaultSendTimeoutSec         = 30
	DefaultBreakerMaxFailures     = 5
	DefaultBreakerResetTimeoutSec = 60
)

// Encryption parameters for channel configs at rest
const (
	EncryptionSalt       = "hookrelay-channel-config-salt-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)
