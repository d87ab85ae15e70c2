package query

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/queryops/procedure"
)

// Config is the environment-driven subset of coordinator settings.
type Config struct {
	// StaleTime is how long fetched data is served without revalidation.
	StaleTime time.Duration `env:"QUERYOPS_STALE_TIME" envDefault:"0s"`

	// CacheTime is how long unobserved entries stay in the memory store.
	CacheTime time.Duration `env:"QUERYOPS_CACHE_TIME" envDefault:"5m"`

	// CursorField is the response field infinite queries read cursors from.
	CursorField string `env:"QUERYOPS_CURSOR_FIELD" envDefault:"nextCursor"`

	// PageInputField is the input field infinite queries write cursors to.
	PageInputField string `env:"QUERYOPS_PAGE_INPUT_FIELD" envDefault:"cursor"`
}

// ConfigFromEnv loads Config from QUERYOPS_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("query: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StaleTime < 0 {
		return fmt.Errorf("%w: stale time %s", ErrNegativeDuration, c.StaleTime)
	}
	if c.CacheTime < 0 {
		return fmt.Errorf("%w: cache time %s", ErrNegativeDuration, c.CacheTime)
	}
	if c.CursorField == "" {
		return ErrMissingCursorField
	}
	if c.PageInputField == "" {
		return ErrMissingPageInputField
	}
	return nil
}

// Coordinator builds a CoordinatorConfig from the env config, backed by a
// memory store with the configured cache time.
func (c Config) Coordinator(client procedure.Client) CoordinatorConfig {
	return CoordinatorConfig{
		Client:        client,
		Store:         NewMemoryStore(MemoryStoreConfig{CacheTime: c.CacheTime}),
		StaleTime:     c.StaleTime,
		NextPageParam: NextCursorField(c.CursorField),
		PageInput:     InjectCursorField(c.PageInputField),
	}
}
