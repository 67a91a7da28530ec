package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatTTL is how long a forwarder counts as active after its last heartbeat
const HeartbeatTTL = 60 * time.Second

// ForwarderHeartbeat represents the heartbeat data for a forwarder process
type ForwarderHeartbeat struct {
	ForwarderID   string    `json:"forwarder_id"`
	Stream        string    `json:"stream"`
	Status        string    `json:"status"` // "idle", "processing"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (q *Queue) heartbeatKey(forwarderID string) string {
	return fmt.Sprintf("forwarder:heartbeat:%s:%s", q.stream, forwarderID)
}

// Heartbeat stores or updates a forwarder's heartbeat
// Forwarders that stop sending heartbeats disappear after HeartbeatTTL
func (q *Queue) Heartbeat(ctx context.Context, forwarderID, status string) error {
	heartbeat := ForwarderHeartbeat{
		ForwarderID:   forwarderID,
		Stream:        q.stream,
		Status:        status,
		LastHeartbeat: time.Now().UTC(),
	}

	data, err := json.Marshal(heartbeat)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	err = q.client.Set(ctx, q.heartbeatKey(forwarderID), data, HeartbeatTTL).Err()
	if err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}

	return nil
}

// ActiveForwarders retrieves every forwarder with a live heartbeat on this stream
func (q *Queue) ActiveForwarders(ctx context.Context) ([]ForwarderHeartbeat, error) {
	pattern := q.heartbeatKey("*")
	var forwarders []ForwarderHeartbeat

	var cursor uint64
	for {
		keys, nextCursor, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning heartbeat keys: %w", err)
		}

		for _, key := range keys {
			data, err := q.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting forwarder heartbeat: %w", err)
			}

			var heartbeat ForwarderHeartbeat
			if err := json.Unmarshal([]byte(data), &heartbeat); err != nil {
				continue
			}

			forwarders = append(forwarders, heartbeat)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return forwarders, nil
}
