// internal/workers/orders/sync-order-sheet/config.go
package syncordersheet

import "time"

type Config struct {
	Timeout   time.Duration
	BatchSize int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:   60 * time.Second,
		BatchSize: 100,
	}
}
