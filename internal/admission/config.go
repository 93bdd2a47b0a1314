package admission

import (
	"fmt"
	"net/http"
)

const (
	DefaultDropResponseCode = http.StatusTooManyRequests
	DefaultBufferCapacity   = 1000
	DefaultStrategy         = StrategyDropLatest
	DefaultWorkers          = 16
)

// Config is the admission configuration. It is resolved once at startup and not
// mutated afterwards.
type Config struct {
	// DropRequests enables buffering and dropping. When false every request is
	// admitted without buffering.
	DropRequests bool

	// DropResponseCode is the status code answered for dropped requests.
	DropResponseCode int

	// BufferCapacity bounds the number of admitted requests waiting for a worker.
	BufferCapacity int

	// Strategy is applied when the buffer is full.
	Strategy OverflowStrategy

	// Workers is the number of dispatch workers draining the buffer.
	Workers int
}

// DefaultConfig returns the defaults: dropping disabled, 429, capacity 1000, DROP_LATEST.
func DefaultConfig() Config {
	return Config{
		DropRequests:     false,
		DropResponseCode: DefaultDropResponseCode,
		BufferCapacity:   DefaultBufferCapacity,
		Strategy:         DefaultStrategy,
		Workers:          DefaultWorkers,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer capacity must be > 0, got %d", c.BufferCapacity)
	}
	if c.DropResponseCode < 100 || c.DropResponseCode > 599 {
		return fmt.Errorf("drop response code must be a valid HTTP status, got %d", c.DropResponseCode)
	}
	if _, err := ParseOverflowStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	}
	return nil
}
