package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HasheemYodhin/ys/internal/logger"
)

const maxBackoff = 30 * time.Second

// PoolConfig разбирает DATABASE_URL и задаёт размер пула.
func PoolConfig(url string, maxConns int) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = min(4, poolCfg.MaxConns)
	return poolCfg, nil
}

// ConnectDBWithRetry подключается к Postgres с повторами (2s, 4s, ... до 30s) в пределах maxWait.
// Отмена ctx прерывает ожидание.
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pool, err := connectOnce(ctx, poolCfg)
		if err == nil {
			return pool, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect to db (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("db connect failed, retry in %v: %v", backoff, err)
		if err := wait(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func connectOnce(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	cancel()
	if err != nil {
		return nil, err
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	pingCancel()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Join(errors.New("startup cancelled"), ctx.Err())
	case <-t.C:
		return nil
	}
}
