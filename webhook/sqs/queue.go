package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/marcelsud/webhook-relay/webhook"
)

/* AWS SQS implementation of webhook.Queue
 * The SQS receipt handle is the lease token; ApproximateReceiveCount is the attempt count.
 */

// API is the subset of the SQS client used by Queue
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Options configures the SQS queue
type Options struct {
	Region          string
	QueueURL        string
	AccessKeyID     string
	SecretAccessKey string
	// RoleARN, when set, is assumed through STS on top of the base credentials
	RoleARN  string
	Endpoint string
	// WaitTimeSeconds enables long polling on Receive (0-20)
	WaitTimeSeconds int32
}

type Queue struct {
	api      API
	queueURL string
	waitTime int32
}

// NewQueue builds an SQS client from opts
// Credentials: static keys when given, otherwise the default AWS chain; optionally wrapped in an assumed role
func NewQueue(ctx context.Context, opts Options) (*Queue, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "webhook-relay"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return New(client, opts.QueueURL, opts.WaitTimeSeconds), nil
}

// New creates a Queue on top of an existing client
func New(api API, queueURL string, waitTimeSeconds int32) *Queue {
	if waitTimeSeconds < 0 {
		waitTimeSeconds = 0
	}
	if waitTimeSeconds > 20 {
		waitTimeSeconds = 20
	}
	return &Queue{
		api:      api,
		queueURL: queueURL,
		waitTime: waitTimeSeconds,
	}
}

// Send publishes a new message to the queue
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	_, err = q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return "", webhook.PublishError(fmt.Errorf("sending SQS message: %w", err))
	}

	return msg.ID, nil
}

// Receive fetches at most one message, long polling up to the configured wait time
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.waitTime,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, webhook.ReceiveError(fmt.Errorf("receiving SQS message: %w", err))
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	msg, err := webhook.DecodeMessage([]byte(aws.ToString(m.Body)))
	if err != nil {
		return nil, webhook.ReceiveError(fmt.Errorf("message %s: %w", aws.ToString(m.MessageId), err))
	}

	msg.Attempts = receiveCount(m.Attributes)

	return &webhook.Lease{
		Message: msg,
		Receipt: webhook.Receipt{MessageID: msg.ID, Handle: aws.ToString(m.ReceiptHandle)},
	}, nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Delete removes the message held by the receipt handle
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	if r.Handle == "" {
		return false, nil
	}

	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(r.Handle),
	})
	if err != nil {
		var invalid *types.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, fmt.Errorf("deleting SQS message: %w", err)
	}

	return true, nil
}

// Depth returns the approximate number of visible and in-flight messages
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	out, err := q.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading SQS queue attributes: %w", err)
	}

	var total int64
	for _, name := range []types.QueueAttributeName{
		types.QueueAttributeNameApproximateNumberOfMessages,
		types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
	} {
		n, err := strconv.ParseInt(out.Attributes[string(name)], 10, 64)
		if err == nil {
			total += n
		}
	}
	return total, nil
}

// Close is a no-op; the SQS client holds no connection state
func (q *Queue) Close() error {
	return nil
}
