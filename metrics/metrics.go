package metrics

import (
	"context"
	"time"
)

// Snapshot represents the current state of the relay queue.
type Snapshot struct {
	// QueueDepth is the number of messages waiting or leased in the queue
	QueueDepth int64 `json:"queue_depth"`

	// Forwarders lists the forwarder processes with a live heartbeat
	Forwarders []ForwarderInfo `json:"forwarders"`

	// Timestamp when the snapshot was collected
	Timestamp time.Time `json:"timestamp"`
}

// ForwarderInfo represents information about an active forwarder.
type ForwarderInfo struct {
	// ForwarderID is a unique identifier for the forwarder process
	ForwarderID string `json:"forwarder_id"`

	// Status is the current status of the forwarder (e.g., "idle", "processing")
	Status string `json:"status"`

	// LastHeartbeat is the timestamp of the last heartbeat
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// StateCollector defines the interface for reading queue state for the gauges.
type StateCollector interface {
	// Collect gathers the current state
	Collect(ctx context.Context) (Snapshot, error)

	// QueueDepth returns the number of messages in the queue
	QueueDepth(ctx context.Context) (int64, error)

	// ActiveForwarders returns the forwarders with a live heartbeat
	ActiveForwarders(ctx context.Context) ([]ForwarderInfo, error)
}
