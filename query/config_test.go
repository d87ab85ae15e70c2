package query

import (
	"errors"
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	if cfg.StaleTime != 0 {
		t.Errorf("StaleTime = %v, want 0", cfg.StaleTime)
	}
	if cfg.CacheTime != 5*time.Minute {
		t.Errorf("CacheTime = %v, want 5m", cfg.CacheTime)
	}
	if cfg.CursorField != "nextCursor" {
		t.Errorf("CursorField = %q, want %q", cfg.CursorField, "nextCursor")
	}
	if cfg.PageInputField != "cursor" {
		t.Errorf("PageInputField = %q, want %q", cfg.PageInputField, "cursor")
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("QUERYOPS_STALE_TIME", "30s")
	t.Setenv("QUERYOPS_CACHE_TIME", "10m")
	t.Setenv("QUERYOPS_CURSOR_FIELD", "next")
	t.Setenv("QUERYOPS_PAGE_INPUT_FIELD", "after")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	if cfg.StaleTime != 30*time.Second {
		t.Errorf("StaleTime = %v, want 30s", cfg.StaleTime)
	}
	if cfg.CacheTime != 10*time.Minute {
		t.Errorf("CacheTime = %v, want 10m", cfg.CacheTime)
	}
	if cfg.CursorField != "next" {
		t.Errorf("CursorField = %q, want %q", cfg.CursorField, "next")
	}
	if cfg.PageInputField != "after" {
		t.Errorf("PageInputField = %q, want %q", cfg.PageInputField, "after")
	}
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"negative stale time", "QUERYOPS_STALE_TIME", "-5s", ErrNegativeDuration},
		{"negative cache time", "QUERYOPS_CACHE_TIME", "-1m", ErrNegativeDuration},
		{"empty cursor field", "QUERYOPS_CURSOR_FIELD", "", ErrMissingCursorField},
		{"empty page input field", "QUERYOPS_PAGE_INPUT_FIELD", "", ErrMissingPageInputField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ConfigFromEnv()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ConfigFromEnv() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Coordinator(t *testing.T) {
	cfg := Config{
		StaleTime:      45 * time.Second,
		CacheTime:      time.Minute,
		CursorField:    "nextCursor",
		PageInputField: "cursor",
	}

	client := newFakeClient(nil)
	c, err := NewCoordinator(cfg.Coordinator(client))
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	if c.staleTime != 45*time.Second {
		t.Errorf("coordinator stale time = %v, want 45s", c.staleTime)
	}
	if _, ok := c.store.(*MemoryStore); !ok {
		t.Errorf("coordinator store = %T, want *MemoryStore", c.store)
	}
}
