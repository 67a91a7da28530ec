package webhook

import "fmt"

/* Kind identifies a queue backend
 * Selected once at startup from the queue_type setting
 */
type Kind int

const (
	Memory Kind = iota + 1
	Redis
	SQS
	PubSub
	RabbitMQ
	Kafka
)

// String returns the configuration name of the backend
func (k Kind) String() string {
	switch k {
	case Memory:
		return "memory"
	case Redis:
		return "redis"
	case SQS:
		return "aws_sqs"
	case PubSub:
		return "gcp_pubsub"
	case RabbitMQ:
		return "rabbitmq"
	case Kafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// NewKind creates a Kind from its configuration name; unknown names yield an invalid Kind
func NewKind(s string) Kind {
	switch s {
	case "memory":
		return Memory
	case "redis":
		return Redis
	case "aws_sqs":
		return SQS
	case "gcp_pubsub":
		return PubSub
	case "rabbitmq":
		return RabbitMQ
	case "kafka":
		return Kafka
	default:
		return Kind(0)
	}
}

// Validate checks if the kind is a supported backend
func (k Kind) Validate() error {
	if k < Memory || k > Kafka {
		return fmt.Errorf("unsupported queue type: %d", k)
	}
	return nil
}
