// Package messaging provides the Redis Streams sync job queue.
package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamSyncJobs = "mail:sync:jobs"

	// 지연 재시도용 sorted set (score = 실행 시각 unix ms)
	delayedSyncJobs = "mail:sync:delayed"

	// 스트림 최대 길이 (근사치 트리밍)
	streamMaxLen = 100000
)

// RedisProducer publishes sync jobs to a Redis stream.
type RedisProducer struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client, now: time.Now}
}

// PublishSyncJob publishes a sync job for immediate processing.
func (p *RedisProducer) PublishSyncJob(ctx context.Context, job *domain.SyncJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = p.now().UTC()
	}
	return p.publish(ctx, StreamSyncJobs, job)
}

// ScheduleSyncJob parks job until delay has passed; PromoteDue moves it
// onto the stream.
func (p *RedisProducer) ScheduleSyncJob(ctx context.Context, job *domain.SyncJob, delay time.Duration) error {
	if delay <= 0 {
		return p.PublishSyncJob(ctx, job)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := p.now().Add(delay).UnixMilli()
	if err := p.client.ZAdd(ctx, delayedSyncJobs, redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	return nil
}

// PromoteDue publishes every delayed job whose time has come. A job is only
// published by the worker that removed it from the set.
func (p *RedisProducer) PromoteDue(ctx context.Context) (int, error) {
	max := strconv.FormatInt(p.now().UnixMilli(), 10)
	due, err := p.client.ZRangeByScore(ctx, delayedSyncJobs, &redis.ZRangeBy{Min: "-inf", Max: max, Count: 100}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range due {
		removed, err := p.client.ZRem(ctx, delayedSyncJobs, member).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue // 다른 워커가 가져감
		}
		if err := p.add(ctx, StreamSyncJobs, member); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return p.add(ctx, stream, string(data))
}

func (p *RedisProducer) add(ctx context.Context, stream, data string) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"data": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

var (
	_ out.SyncJobPublisher = (*RedisProducer)(nil)
	_ out.SyncJobScheduler = (*RedisProducer)(nil)
)
