//go:build integration

package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})

	return client
}

func TestIntegration_RedisStore(t *testing.T) {
	runStoreChecks(t, NewRedisStore(setupRedisContainer(t)))
}

func TestIntegration_BindingsShareRedis(t *testing.T) {
	store := NewRedisStore(setupRedisContainer(t))
	ctx := context.Background()
	logger := zerolog.Nop()

	var calls atomic.Int32
	producer := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b", "c"}, nil
	}

	first := NewBinding(Config{Store: store, Logger: &logger})
	defer first.Close()
	if _, err := Run(ctx, first, "drf:blog/posts", producer).Wait(ctx); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	second := NewBinding(Config{Store: store, Logger: &logger})
	defer second.Close()
	got, err := Run(ctx, second, "drf:blog/posts", producer).Wait(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if len(got) != 3 || got[2] != "c" {
		t.Errorf("second binding value = %v, want [a b c]", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("producer calls = %d, want 1", n)
	}
}
