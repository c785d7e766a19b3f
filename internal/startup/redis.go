package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/HasheemYodhin/ys/internal/logger"
	redisstorage "github.com/HasheemYodhin/ys/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами в пределах maxWait.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(connCtx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		if err := wait(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
