package app

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/kafka"
	"github.com/marcelsud/webhook-relay/webhook/memory"
	"github.com/marcelsud/webhook-relay/webhook/pubsub"
	"github.com/marcelsud/webhook-relay/webhook/rabbitmq"
	"github.com/marcelsud/webhook-relay/webhook/redis"
	"github.com/marcelsud/webhook-relay/webhook/sqs"
)

// Role tells the queue factory which side of the queue a process uses
type Role int

const (
	// Publisher only sends (collector)
	Publisher Role = iota + 1
	// Consumer receives and deletes (forwarder)
	Consumer
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// NewQueue builds the backend selected by queue_type
func NewQueue(ctx context.Context, cfg config.Base, role Role) (webhook.Queue, error) {
	kind := webhook.NewKind(cfg.QueueType)
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("%w: unsupported queue_type: %s", config.ErrInvalid, cfg.QueueType)
	}

	var (
		q   webhook.Queue
		err error
	)
	switch kind {
	case webhook.Memory:
		q = memory.New(seconds(cfg.Memory.VisibilityTimeout))
	case webhook.Redis:
		q, err = redis.NewQueue(ctx, redis.Options{
			Addr:              cfg.Redis.Addr,
			Password:          cfg.Redis.Password,
			DB:                cfg.Redis.DB,
			Stream:            cfg.Redis.Stream,
			Group:             cfg.Redis.Group,
			Consumer:          cfg.Redis.Consumer,
			VisibilityTimeout: seconds(cfg.Redis.VisibilityTimeout),
		})
	case webhook.SQS:
		q, err = sqs.NewQueue(ctx, sqs.Options{
			Region:          cfg.AWS.RegionName,
			QueueURL:        cfg.AWS.QueueURL,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			RoleARN:         cfg.AWS.RoleARN,
			Endpoint:        cfg.AWS.Endpoint,
			WaitTimeSeconds: int32(cfg.AWS.WaitTimeSeconds),
		})
	case webhook.PubSub:
		opts := pubsub.Options{
			ProjectID:       cfg.GCP.ProjectID,
			TopicID:         cfg.GCP.TopicID,
			CredentialsFile: cfg.GCP.CredentialsFile,
			Endpoint:        cfg.GCP.Endpoint,
		}
		if role == Consumer {
			opts.SubscriptionID = cfg.GCP.SubscriptionID
		}
		q, err = pubsub.NewQueue(ctx, opts)
	case webhook.RabbitMQ:
		q, err = rabbitmq.NewQueue(ctx, rabbitmq.Options{
			URL:               cfg.RabbitMQ.URL,
			Queue:             cfg.RabbitMQ.Queue,
			VisibilityTimeout: seconds(cfg.RabbitMQ.VisibilityTimeout),
		})
	case webhook.Kafka:
		opts := kafka.Options{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			VisibilityTimeout: seconds(cfg.Kafka.VisibilityTimeout),
		}
		// Only consumers join the group
		if role == Consumer {
			opts.GroupID = cfg.Kafka.GroupID
		}
		q, err = kafka.NewQueue(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s queue: %w", kind, err)
	}
	return q, nil
}

// StateCollector exposes whatever queue state the backend can report
func StateCollector(q webhook.Queue) *metrics.QueueCollector {
	depth, _ := q.(webhook.DepthReporter)

	var lister metrics.ForwarderLister
	if rq, ok := q.(*redis.Queue); ok {
		lister = heartbeatLister(rq)
	}
	return metrics.NewQueueCollector(depth, lister)
}

// heartbeatLister adapts Redis forwarder heartbeats to the metrics view
func heartbeatLister(q *redis.Queue) metrics.ForwarderLister {
	return metrics.ForwarderListerFunc(func(ctx context.Context) ([]metrics.ForwarderInfo, error) {
		beats, err := q.ActiveForwarders(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]metrics.ForwarderInfo, 0, len(beats))
		for _, b := range beats {
			out = append(out, metrics.ForwarderInfo{
				ForwarderID:   b.ForwarderID,
				Status:        b.Status,
				LastHeartbeat: b.LastHeartbeat,
			})
		}
		return out, nil
	})
}
