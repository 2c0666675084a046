package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/steviebd/swole-tracker-sub007/internal/domain"
)

var (
	testRedisURL string
	redContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	defer func() {
		if err := redContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()
	os.Exit(m.Run())
}

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := NewClient(testRedisURL)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}

	ctx := context.Background()
	if err := client.Underlying().FlushAll(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	client, err := NewClient("not-a-redis-url")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestRotationLock_AcquireRelease(t *testing.T) {
	client := setupTestClient(t)
	lock := NewRotationLock(client.Underlying())
	ctx := context.Background()

	userID := uuid.New()

	acquired, err := lock.Acquire(ctx, userID, domain.ProviderWhoop)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second caller loses while the lock is held.
	acquired, err = lock.Acquire(ctx, userID, domain.ProviderWhoop)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, lock.Release(ctx, userID, domain.ProviderWhoop))

	acquired, err = lock.Acquire(ctx, userID, domain.ProviderWhoop)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRotationLock_KeyedPerUserAndProvider(t *testing.T) {
	client := setupTestClient(t)
	lock := NewRotationLock(client.Underlying())
	ctx := context.Background()

	userA := uuid.New()
	userB := uuid.New()

	acquired, err := lock.Acquire(ctx, userA, domain.ProviderWhoop)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A different user's rotation is not blocked.
	acquired, err = lock.Acquire(ctx, userB, domain.ProviderWhoop)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Neither is the same user on a different provider.
	acquired, err = lock.Acquire(ctx, userA, "other-provider")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRotationLock_ReleaseWithoutHoldIsHarmless(t *testing.T) {
	client := setupTestClient(t)
	lock := NewRotationLock(client.Underlying())

	assert.NoError(t, lock.Release(context.Background(), uuid.New(), domain.ProviderWhoop))
}
