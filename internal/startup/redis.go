package startup

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/internal/logger"
)

// ConnectRedisWithRetry connects to Redis with exponential backoff.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration) *redis.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		client, err := connectRedis(redisURL)
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis (gave up after %v): %v", maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func connectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
