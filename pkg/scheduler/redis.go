package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evergreenhq/journeys/pkg/models"
)

const (
	pendingKey      = "journeys:schedule:pending"
	leasesKey       = "journeys:schedule:leases"
	itemsKey        = "journeys:schedule:items"
	byEnrollmentKey = "journeys:schedule:enrollment:"
)

// Redis is a Scheduler over a Redis sorted set. Pending items are scored by
// DueAt in milliseconds; members are prefixed with the enqueue timestamp so
// equal scores order FIFO lexically. Leased items move to a second sorted
// set scored by lease expiry, and expired leases are folded back into the
// pending set on the next poll.
type Redis struct {
	client       *redis.Client
	logger       *slog.Logger
	leaseTimeout time.Duration
}

// NewRedis creates a Redis-backed scheduler from a redis URL.
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Redis{
		client:       redis.NewClient(opts),
		logger:       logger.With("module", "scheduler", "provider", "redis"),
		leaseTimeout: defaultLeaseTimeout,
	}, nil
}

func member(item *models.WorkItem) string {
	return fmt.Sprintf("%020d:%s", item.EnqueuedAt.UnixNano(), item.ID)
}

func memberItemID(m string) string {
	if idx := strings.IndexByte(m, ':'); idx >= 0 {
		return m[idx+1:]
	}

	return m
}

func (r *Redis) Enqueue(ctx context.Context, item *models.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode work item %s: %w", item.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, itemsKey, item.ID, payload)
	pipe.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(item.DueAt.UnixMilli()),
		Member: member(item),
	})
	pipe.SAdd(ctx, byEnrollmentKey+item.EnrollmentID, member(item))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue %s: %w", ErrUnavailable, item.ID, err)
	}

	return nil
}

func (r *Redis) DueBefore(ctx context.Context, now time.Time) ([]*models.WorkItem, error) {
	if err := r.reapExpiredLeases(ctx, now); err != nil {
		return nil, err
	}

	nowScore := strconv.FormatInt(now.UnixMilli(), 10)

	members, err := r.client.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: "0",
		Max: nowScore,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range due items: %w", ErrUnavailable, err)
	}

	items := make([]*models.WorkItem, 0, len(members))

	for _, m := range members {
		item, err := r.lease(ctx, m, now)
		if err != nil {
			return nil, err
		}

		if item != nil {
			items = append(items, item)
		}
	}

	return items, nil
}

// lease atomically moves one member from pending to the lease set; losing a
// race to another poller is not an error.
func (r *Redis) lease(ctx context.Context, m string, now time.Time) (*models.WorkItem, error) {
	removed, err := r.client.ZRem(ctx, pendingKey, m).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lease item: %w", ErrUnavailable, err)
	}

	if removed == 0 {
		return nil, nil
	}

	err = r.client.ZAdd(ctx, leasesKey, redis.Z{
		Score:  float64(now.Add(r.leaseTimeout).UnixMilli()),
		Member: m,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: lease item: %w", ErrUnavailable, err)
	}

	payload, err := r.client.HGet(ctx, itemsKey, memberItemID(m)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Cancelled between range and lease.
			r.client.ZRem(ctx, leasesKey, m)

			return nil, nil
		}

		return nil, fmt.Errorf("%w: load item: %w", ErrUnavailable, err)
	}

	var item models.WorkItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("failed to decode work item %s: %w", memberItemID(m), err)
	}

	return &item, nil
}

func (r *Redis) reapExpiredLeases(ctx context.Context, now time.Time) error {
	nowScore := strconv.FormatInt(now.UnixMilli(), 10)

	expired, err := r.client.ZRangeByScore(ctx, leasesKey, &redis.ZRangeBy{
		Min: "0",
		Max: nowScore,
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: reap leases: %w", ErrUnavailable, err)
	}

	for _, m := range expired {
		payload, err := r.client.HGet(ctx, itemsKey, memberItemID(m)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				r.client.ZRem(ctx, leasesKey, m)

				continue
			}

			return fmt.Errorf("%w: reap leases: %w", ErrUnavailable, err)
		}

		var item models.WorkItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return fmt.Errorf("failed to decode leased work item: %w", err)
		}

		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, leasesKey, m)
		pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(item.DueAt.UnixMilli()), Member: m})

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: reap leases: %w", ErrUnavailable, err)
		}

		r.logger.Warn("Returned expired lease to pending queue",
			"work_item_id", item.ID, "enrollment_id", item.EnrollmentID)
	}

	return nil
}

func (r *Redis) Ack(ctx context.Context, item *models.WorkItem) error {
	m := member(item)

	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, leasesKey, m)
	pipe.ZRem(ctx, pendingKey, m)
	pipe.HDel(ctx, itemsKey, item.ID)
	pipe.SRem(ctx, byEnrollmentKey+item.EnrollmentID, m)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: ack %s: %w", ErrUnavailable, item.ID, err)
	}

	return nil
}

func (r *Redis) Release(ctx context.Context, item *models.WorkItem) error {
	m := member(item)

	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, leasesKey, m)
	pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(item.DueAt.UnixMilli()), Member: m})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrUnavailable, item.ID, err)
	}

	return nil
}

func (r *Redis) Cancel(ctx context.Context, enrollmentID string) error {
	setKey := byEnrollmentKey + enrollmentID

	members, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("%w: cancel enrollment %s: %w", ErrUnavailable, enrollmentID, err)
	}

	pipe := r.client.TxPipeline()

	for _, m := range members {
		pipe.ZRem(ctx, pendingKey, m)
		pipe.ZRem(ctx, leasesKey, m)
		pipe.HDel(ctx, itemsKey, memberItemID(m))
	}

	pipe.Del(ctx, setKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cancel enrollment %s: %w", ErrUnavailable, enrollmentID, err)
	}

	return nil
}

func (r *Redis) Close(_ context.Context) error {
	return r.client.Close()
}
