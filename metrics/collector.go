package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

// ErrUnsupported is returned when the queue backend cannot report a value
var ErrUnsupported = errors.New("not supported by queue backend")

// ForwarderLister lists forwarders with a live heartbeat
type ForwarderLister interface {
	ActiveForwarders(ctx context.Context) ([]ForwarderInfo, error)
}

// ForwarderListerFunc adapts a function to ForwarderLister
type ForwarderListerFunc func(ctx context.Context) ([]ForwarderInfo, error)

func (f ForwarderListerFunc) ActiveForwarders(ctx context.Context) ([]ForwarderInfo, error) {
	return f(ctx)
}

// QueueCollector implements StateCollector on top of the queue backend
// Either source may be nil when the backend cannot provide it
type QueueCollector struct {
	depth      webhook.DepthReporter
	forwarders ForwarderLister
}

// NewQueueCollector creates a new queue state collector
func NewQueueCollector(depth webhook.DepthReporter, forwarders ForwarderLister) *QueueCollector {
	return &QueueCollector{
		depth:      depth,
		forwarders: forwarders,
	}
}

// Collect gathers all state the backend supports
func (c *QueueCollector) Collect(ctx context.Context) (Snapshot, error) {
	s := Snapshot{Timestamp: time.Now()}

	depth, err := c.QueueDepth(ctx)
	if err != nil && !errors.Is(err, ErrUnsupported) {
		return Snapshot{}, fmt.Errorf("getting queue depth: %w", err)
	}
	s.QueueDepth = depth

	forwarders, err := c.ActiveForwarders(ctx)
	if err != nil && !errors.Is(err, ErrUnsupported) {
		return Snapshot{}, fmt.Errorf("getting active forwarders: %w", err)
	}
	s.Forwarders = forwarders

	return s, nil
}

// QueueDepth returns the number of messages in the queue
func (c *QueueCollector) QueueDepth(ctx context.Context) (int64, error) {
	if c.depth == nil {
		return 0, ErrUnsupported
	}
	return c.depth.Depth(ctx)
}

// ActiveForwarders returns the forwarders with a live heartbeat
func (c *QueueCollector) ActiveForwarders(ctx context.Context) ([]ForwarderInfo, error) {
	if c.forwarders == nil {
		return nil, ErrUnsupported
	}
	return c.forwarders.ActiveForwarders(ctx)
}
