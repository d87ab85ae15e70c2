package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonwraymond/queryops/resilience"
)

// BenchmarkValidatePath measures path validation.
func BenchmarkValidatePath(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidatePath("admin.users.list")
	}
}

// BenchmarkRegistry_Lookup measures registry lookup.
func BenchmarkRegistry_Lookup(b *testing.B) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		_ = r.Register(MustDescriptor[struct{}, struct{}](fmt.Sprintf("proc.n%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Lookup("proc.n50")
	}
}

// BenchmarkRegistry_Paths measures sorted path enumeration.
func BenchmarkRegistry_Paths(b *testing.B) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		_ = r.Register(MustDescriptor[struct{}, struct{}](fmt.Sprintf("proc.n%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Paths()
	}
}

// BenchmarkClientFunc_Invoke measures the function adapter.
func BenchmarkClientFunc_Invoke(b *testing.B) {
	c := ClientFunc(func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})
	ctx := context.Background()
	input := json.RawMessage(`{"id":1}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Invoke(ctx, "post.byId", input)
	}
}

// BenchmarkChain measures middleware traversal overhead.
func BenchmarkChain(b *testing.B) {
	base := ClientFunc(func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})

	passthrough := func(next Client) Client {
		return ClientFunc(func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
			return next.Invoke(ctx, path, input)
		})
	}

	c := Chain(base, passthrough, passthrough, passthrough)
	ctx := context.Background()
	input := json.RawMessage(`{"id":1}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Invoke(ctx, "post.byId", input)
	}
}

// BenchmarkWithResilience measures the resilience wrapper on the happy path.
func BenchmarkWithResilience(b *testing.B) {
	base := ClientFunc(func(ctx context.Context, path string, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})

	exec := resilience.NewExecutor(
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  100,
			ResetTimeout: time.Minute,
		})),
		resilience.WithTimeout(time.Second),
	)

	c := Chain(base, WithResilience(exec))
	ctx := context.Background()
	input := json.RawMessage(`{"id":1}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Invoke(ctx, "post.byId", input)
	}
}

// BenchmarkConcurrent_RegistryLookup measures parallel lookups.
func BenchmarkConcurrent_RegistryLookup(b *testing.B) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		_ = r.Register(MustDescriptor[struct{}, struct{}](fmt.Sprintf("proc.n%d", i)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = r.Lookup("proc.n50")
		}
	})
}
