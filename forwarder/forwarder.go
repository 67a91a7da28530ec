package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
)

// Poll intervals of the run loop
const (
	DefaultIdleInterval      = 1 * time.Second
	DefaultErrorInterval     = 5 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
)

// Upper bound on how much of an error response body is read for logging
const maxResponseBody = 4 << 10

// Queue is the part of the queue the forwarder consumes from
type Queue interface {
	webhook.Receiver
	webhook.Deleter
}

// Heartbeater is implemented by backends that track live forwarders
type Heartbeater interface {
	Heartbeat(ctx context.Context, forwarderID, status string) error
}

// Sleeper waits for d or until ctx is done, whichever comes first
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper, backed by a timer
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds the delivery settings of a forwarder
type Config struct {
	ID            string
	QueueType     string
	TargetURL     string
	Headers       map[string]string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// Result describes how a message delivery ended
type Result struct {
	Outcome  Outcome
	Attempts int
	// Err is the last delivery error, nil when delivered
	Err error
}

/* Forwarder pulls messages from the queue and POSTs them to a single target URL
 * A message is deleted only after a 2xx/3xx response; anything else leaves it
 * in the queue for redelivery once its lease expires.
 */
type Forwarder struct {
	queue    Queue
	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	recorder *metrics.Recorder
	target   string

	heartbeater   Heartbeater
	lastStatus    string
	lastHeartbeat time.Time

	// Sleep is used for backoff and poll delays
	Sleep Sleeper
	// Now is the clock used for latency and heartbeat throttling
	Now func() time.Time

	IdleInterval      time.Duration
	ErrorInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Option customizes a Forwarder
type Option func(*Forwarder)

// WithHTTPClient replaces the default instrumented client
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithHeartbeater publishes idle/processing heartbeats through h
func WithHeartbeater(h Heartbeater) Option {
	return func(f *Forwarder) { f.heartbeater = h }
}

// WithSleeper replaces the timer-based sleep
func WithSleeper(s Sleeper) Option {
	return func(f *Forwarder) { f.Sleep = s }
}

// New creates a Forwarder. A nil recorder disables metrics.
func New(queue Queue, cfg Config, logger *zap.Logger, recorder *metrics.Recorder, opts ...Option) *Forwarder {
	if recorder == nil {
		recorder = metrics.NopRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	f := &Forwarder{
		queue:    queue,
		cfg:      cfg,
		logger:   logger.With(zap.String("target_url", cfg.TargetURL)),
		recorder: recorder,
		target:   TargetLabel(cfg.TargetURL),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Never follow redirects: a 3xx is a delivered response
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Sleep:             Sleep,
		Now:               time.Now,
		IdleInterval:      DefaultIdleInterval,
		ErrorInterval:     DefaultErrorInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TargetLabel returns host+path of a target URL, the value used as the metrics label
func TargetLabel(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host + u.Path
}

/* Run polls the queue until ctx is cancelled
 * An empty queue waits IdleInterval before polling again; a receive error waits ErrorInterval.
 * A message already being forwarded when ctx is cancelled finishes its current attempt.
 */
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info("starting webhook forwarder")
	f.recorder.SetUp(ctx, "forwarder", true)
	defer func() {
		f.recorder.SetUp(context.WithoutCancel(ctx), "forwarder", false)
		f.logger.Info("forwarder stopped")
	}()

	for ctx.Err() == nil {
		f.heartbeat(ctx, "idle")

		lease, err := f.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			f.logger.Error("error in forwarder loop", zap.Error(err))
			_ = f.Sleep(ctx, f.ErrorInterval)
			continue
		}
		if lease == nil {
			_ = f.Sleep(ctx, f.IdleInterval)
			continue
		}

		f.recorder.QueueReceived(ctx, f.cfg.QueueType)
		f.logger.Debug("received message",
			zap.String("message_id", lease.Message.ID),
			zap.Int("attempts", lease.Message.Attempts),
		)

		f.heartbeat(ctx, "processing")
		f.Process(ctx, lease)
	}
	return nil
}

// Process forwards one leased message and deletes it from the queue when delivered
func (f *Forwarder) Process(ctx context.Context, lease *webhook.Lease) Result {
	start := f.Now()
	res := f.Forward(ctx, lease.Message)
	log := f.logger.With(
		zap.String("message_id", lease.Message.ID),
		zap.String("outcome", res.Outcome.String()),
		zap.Int("attempts", res.Attempts),
	)

	if res.Outcome != Delivered {
		log.Error("webhook not delivered, leaving it in the queue", zap.Error(res.Err))
		return res
	}
	f.recorder.Forwarded(ctx, f.target, f.Now().Sub(start))

	// The delivery already happened: delete even if shutdown started meanwhile
	deleted, err := f.queue.Delete(context.WithoutCancel(ctx), lease.Receipt)
	switch {
	case err != nil:
		log.Error("failed to delete message from queue", zap.Error(err))
	case !deleted:
		log.Error("failed to delete message from queue, lease no longer held")
	default:
		f.recorder.QueueDeleted(ctx, f.cfg.QueueType)
		log.Debug("deleted message from queue")
	}
	return res
}

/* Forward POSTs the message to the target, retrying up to RetryAttempts times
 * Backoff doubles after every failed attempt: RetryDelay, 2*RetryDelay, 4*RetryDelay...
 * Cancelling ctx stops further retries but never aborts an attempt already in flight.
 */
func (f *Forwarder) Forward(ctx context.Context, msg webhook.Message) Result {
	body, err := msg.Payload.Content().Bytes()
	if err != nil {
		return Result{Outcome: Failed, Err: fmt.Errorf("encoding payload: %w", err)}
	}
	headers := BuildHeaders(f.cfg.Headers, msg)

	backoff := f.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= f.cfg.RetryAttempts; attempt++ {
		lastErr = f.post(ctx, body, headers)
		if lastErr == nil {
			f.logger.Info("webhook forwarded successfully",
				zap.String("message_id", msg.ID),
				zap.Int("attempt", attempt),
			)
			return Result{Outcome: Delivered, Attempts: attempt}
		}

		var de *webhook.DeliveryError
		statusCode := 0
		if errors.As(lastErr, &de) {
			statusCode = de.StatusCode
		}
		f.recorder.ForwardFailed(ctx, f.target, statusCode)
		f.logger.Error("failed to forward webhook",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Int("status_code", statusCode),
			zap.Error(lastErr),
		)

		if attempt == f.cfg.RetryAttempts {
			break
		}
		f.logger.Info("retrying webhook forward",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.cfg.RetryAttempts),
			zap.Duration("backoff", backoff),
		)
		if err := f.Sleep(ctx, backoff); err != nil {
			return Result{Outcome: Abandoned, Attempts: attempt, Err: lastErr}
		}
		f.recorder.ForwardRetried(ctx, f.target)
		backoff *= 2
	}

	f.logger.Error("giving up forwarding webhook",
		zap.String("message_id", msg.ID),
		zap.Int("attempts", f.cfg.RetryAttempts),
	)
	return Result{Outcome: Failed, Attempts: f.cfg.RetryAttempts, Err: lastErr}
}

// post performs a single delivery attempt bounded by the configured timeout
func (f *Forwarder) post(ctx context.Context, body []byte, headers http.Header) error {
	reqCtx := context.WithoutCancel(ctx)
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, f.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return &webhook.DeliveryError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header = headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		return &webhook.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return &webhook.DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("target responded %s: %s", resp.Status, bytes.TrimSpace(text)),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return nil
}

// heartbeat reports status when it changed or the last report is getting stale
func (f *Forwarder) heartbeat(ctx context.Context, status string) {
	if f.heartbeater == nil || f.cfg.ID == "" {
		return
	}
	now := f.Now()
	if status == f.lastStatus && now.Sub(f.lastHeartbeat) < f.HeartbeatInterval {
		return
	}
	if err := f.heartbeater.Heartbeat(ctx, f.cfg.ID, status); err != nil {
		f.logger.Warn("failed to send heartbeat", zap.Error(err))
		return
	}
	f.lastStatus = status
	f.lastHeartbeat = now
}
