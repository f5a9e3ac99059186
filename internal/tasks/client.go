package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"medfinder/internal/billing"
	"medfinder/internal/config"
	"medfinder/internal/utils/logger"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

var _ billing.Enqueuer = (*TaskClient)(nil)

// TaskClient enqueues background work and owns the shared Redis connection.
type TaskClient struct {
	client      enqueuer
	logger      *logger.Logger
	redisClient *redis.Client
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewTaskClient creates a new TaskClient with the given Redis configuration
func NewTaskClient(cfg config.RedisConfig) *TaskClient {
	return &TaskClient{
		client: asynq.NewClient(redisOpt(cfg)),
		redisClient: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger: logger.New("TASKS"),
	}
}

// Redis returns the go-redis client for components that need Redis
// directly, such as the generation rate limiter.
func (c *TaskClient) Redis() *redis.Client {
	return c.redisClient
}

// EnqueueBillingTrack implements billing.Enqueuer.
func (c *TaskClient) EnqueueBillingTrack(ctx context.Context, p billing.TrackPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal billing payload: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeBillingTrack, payload), billingTrackOptions()...)
	if err != nil {
		return c.logger.Error("Failed to enqueue billing report for %s", err, p.CustomerID)
	}

	c.logger.Debug("Enqueued %s %s on %s", TaskTypeBillingTrack, info.ID, info.Queue)
	return nil
}

// Close closes the underlying asynq client
func (c *TaskClient) Close() error {
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	return c.client.Close()
}
