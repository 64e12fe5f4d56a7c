package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis Streams consumer-group operations the consumer
// loop needs: group creation, stalled-entry reclamation, long-poll reads,
// acknowledgement, and retry enqueue.
type Client struct {
	rdb *redis.Client
}

// NewClient wraps an already-connected Redis client. The caller owns the
// connection lifecycle (see internal/lifecycle's two-connection pattern).
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// EnsureStream verifies the target stream exists, aborting startup
// otherwise.
func (c *Client) EnsureStream(ctx context.Context, streamName string) error {
	exists, err := c.rdb.Exists(ctx, streamName).Result()
	if err != nil {
		return fmt.Errorf("check stream %q exists: %w", streamName, err)
	}
	if exists == 0 {
		return fmt.Errorf("stream %q does not exist", streamName)
	}
	return nil
}

// EnsureGroup creates the consumer group anchored at sequence 0 if it does
// not already exist. Idempotent.
func (c *Client) EnsureGroup(ctx context.Context, streamName, group string) error {
	err := c.rdb.XGroupCreate(ctx, streamName, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return fmt.Errorf("create group %q on %q: %w", group, streamName, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		containsBusyGroup(err.Error()))
}

func containsBusyGroup(s string) bool {
	for i := 0; i+9 <= len(s); i++ {
		if s[i:i+9] == "BUSYGROUP" {
			return true
		}
	}
	return false
}

// Entry is one claimed or read stream entry paired with its raw values.
type Entry struct {
	ID     string
	Values map[string]string
}

// PendingCount reports how many entries are delivered-but-unacknowledged
// for the group, used to decide whether reclamation (XAUTOCLAIM) is worth
// attempting on startup.
func (c *Client) PendingCount(ctx context.Context, streamName, group string) (int64, error) {
	summary, err := c.rdb.XPending(ctx, streamName, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("XPENDING %s %s: %w", streamName, group, err)
	}
	return summary.Count, nil
}

// AutoClaim reassigns entries idle longer than minIdle to consumerName,
// starting the claim cursor at "0-0".
func (c *Client) AutoClaim(ctx context.Context, streamName, group, consumerName string, minIdle time.Duration, count int64) ([]Entry, error) {
	messages, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName,
		Group:    group,
		Consumer: consumerName,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("XAUTOCLAIM %s %s: %w", streamName, group, err)
	}
	return toEntries(messages), nil
}

// ReadNew long-polls for entries never delivered to this group ("the > id").
func (c *Client) ReadNew(ctx context.Context, streamName, group, consumerName string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerName,
		Streams:  []string{streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("XREADGROUP %s %s: %w", streamName, group, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

func toEntries(messages []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(messages))
	for _, m := range messages {
		out = append(out, Entry{ID: m.ID, Values: FlattenXMessage(m.Values)})
	}
	return out
}

// Ack acknowledges and removes an entry from the stream (XACK then XDEL
// so the entry does not linger in the stream's backlog once terminal).
func (c *Client) Ack(ctx context.Context, streamName, group, entryID string) error {
	if err := c.rdb.XAck(ctx, streamName, group, entryID).Err(); err != nil {
		return fmt.Errorf("XACK %s %s %s: %w", streamName, group, entryID, err)
	}
	if err := c.rdb.XDel(ctx, streamName, entryID).Err(); err != nil {
		return fmt.Errorf("XDEL %s %s: %w", streamName, entryID, err)
	}
	return nil
}

// Enqueue appends msg to streamName with an auto-assigned id, returning
// the new entry id.
func (c *Client) Enqueue(ctx context.Context, streamName string, msg Message) (string, error) {
	values, err := msg.Encode()
	if err != nil {
		return "", err
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("XADD %s: %w", streamName, err)
	}
	return id, nil
}
