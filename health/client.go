package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/queryops/procedure"
)

// ClientCheckerConfig configures the client health checker.
type ClientCheckerConfig struct {
	// Path is the procedure invoked as a ping.
	// Default: "health.ping"
	Path string

	// Input is the JSON input sent with the ping. Default: nil
	Input json.RawMessage

	// Timeout bounds a single ping. Default: 2 seconds
	Timeout time.Duration

	// SlowThreshold marks the client degraded when the ping takes longer
	// than this. Default: 1 second
	SlowThreshold time.Duration
}

// ClientChecker verifies a procedure client by invoking a ping procedure.
// A backend that answers slowly is degraded; one that errors is unhealthy.
type ClientChecker struct {
	config ClientCheckerConfig
	client procedure.Client
}

// NewClientChecker creates a new client health checker.
func NewClientChecker(client procedure.Client, config ClientCheckerConfig) *ClientChecker {
	if config.Path == "" {
		config.Path = "health.ping"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = time.Second
	}

	return &ClientChecker{config: config, client: client}
}

// Name returns the name of this checker.
func (c *ClientChecker) Name() string {
	return "client"
}

// Check pings the backend procedure.
func (c *ClientChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	if c.client == nil {
		return Unhealthy("no client configured", procedure.ErrNilClient)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := c.client.Invoke(ctx, c.config.Path, c.config.Input)
	elapsed := time.Since(start)

	details := map[string]any{
		"path":    c.config.Path,
		"ping_ms": float64(elapsed.Microseconds()) / 1000,
	}

	if err != nil {
		return Unhealthy("ping failed", err).WithDetails(details)
	}

	if elapsed >= c.config.SlowThreshold {
		return Degraded(
			fmt.Sprintf("ping slow: took %v", elapsed),
		).WithDetails(details)
	}

	return Healthy("ping ok").WithDetails(details)
}

// Ping invokes the ping procedure and reports only the error.
func (c *ClientChecker) Ping(ctx context.Context) error {
	if c.client == nil {
		return procedure.ErrNilClient
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	_, err := c.client.Invoke(ctx, c.config.Path, c.config.Input)
	return err
}

var _ PingChecker = (*ClientChecker)(nil)
