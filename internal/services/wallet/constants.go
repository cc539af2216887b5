package wallet

import "time"

// Default configuration values
const (
	DefaultLockTTL         = 30 * time.Second
	DefaultProviderTimeout = 20 * time.Second
	DefaultPendingMaxAge   = 10 * time.Minute
	DefaultHistoryPageSize = 20
	MaxHistoryPageSize     = 100

	staleSweepBatch = 50
)
