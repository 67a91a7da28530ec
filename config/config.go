package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

/* Config loads the relay settings from a YAML file with environment overrides
 * Environment variables use the WEBHOOK_RELAY_ prefix and "__" between nested keys,
 * e.g. WEBHOOK_RELAY_AWS_CONFIG__REGION_NAME
 */

const EnvPrefix = "WEBHOOK_RELAY"

// ErrInvalid marks configuration problems; the process must not start
var ErrInvalid = errors.New("invalid configuration")

type GCPPubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	TopicID         string `mapstructure:"topic_id"`
	SubscriptionID  string `mapstructure:"subscription_id"` // Only needed for the forwarder
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

type AWSSQSConfig struct {
	RegionName      string `mapstructure:"region_name"`
	QueueURL        string `mapstructure:"queue_url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	Endpoint        string `mapstructure:"endpoint"`
	WaitTimeSeconds int    `mapstructure:"wait_time_seconds"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
	// VisibilityTimeout is how long a received message stays leased, in seconds
	VisibilityTimeout int `mapstructure:"visibility_timeout"`
}

type RabbitMQConfig struct {
	URL               string `mapstructure:"url"`
	Queue             string `mapstructure:"queue"`
	VisibilityTimeout int    `mapstructure:"visibility_timeout"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	GroupID           string   `mapstructure:"group_id"`
	VisibilityTimeout int      `mapstructure:"visibility_timeout"`
}

type MemoryConfig struct {
	VisibilityTimeout int `mapstructure:"visibility_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Addr returns the listen address of the metrics server
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// WebhookSourceConfig is a named inbound identity
type WebhookSourceConfig struct {
	Name            string `mapstructure:"name" yaml:"name"`
	Secret          string `mapstructure:"secret" yaml:"secret"`
	SignatureHeader string `mapstructure:"signature_header" yaml:"signature_header"`
}

// Base holds the settings shared by the collector and the forwarder
type Base struct {
	LogLevel  string          `mapstructure:"log_level"`
	QueueType string          `mapstructure:"queue_type"`
	GCP       GCPPubSubConfig `mapstructure:"gcp_config"`
	AWS       AWSSQSConfig    `mapstructure:"aws_config"`
	Redis     RedisConfig     `mapstructure:"redis_config"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq_config"`
	Kafka     KafkaConfig     `mapstructure:"kafka_config"`
	Memory    MemoryConfig    `mapstructure:"memory_config"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type Collector struct {
	Base           `mapstructure:",squash"`
	Host           string                `mapstructure:"host"`
	Port           int                   `mapstructure:"port"`
	WebhookSources []WebhookSourceConfig `mapstructure:"webhook_sources"`
	// SourcesFile optionally points to a YAML file with additional sources
	SourcesFile string `mapstructure:"sources_file"`
}

// Addr returns the listen address of the collector
func (c Collector) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Forwarder struct {
	Base          `mapstructure:",squash"`
	TargetURL     string            `mapstructure:"target_url"`
	Headers       map[string]string `mapstructure:"headers"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    int               `mapstructure:"retry_delay"` // seconds
	Timeout       int               `mapstructure:"timeout"`     // seconds
}

// RetryDelayDuration returns the base backoff delay
func (f Forwarder) RetryDelayDuration() time.Duration {
	return time.Duration(f.RetryDelay) * time.Second
}

// TimeoutDuration returns the per-attempt request timeout
func (f Forwarder) TimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setBaseDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

func setBaseDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can see it during Unmarshal
	v.SetDefault("log_level", "INFO")
	v.SetDefault("queue_type", "")
	v.SetDefault("gcp_config.project_id", "")
	v.SetDefault("gcp_config.topic_id", "")
	v.SetDefault("gcp_config.subscription_id", "")
	v.SetDefault("gcp_config.credentials_file", "")
	v.SetDefault("gcp_config.endpoint", "")
	v.SetDefault("aws_config.region_name", "")
	v.SetDefault("aws_config.queue_url", "")
	v.SetDefault("aws_config.access_key_id", "")
	v.SetDefault("aws_config.secret_access_key", "")
	v.SetDefault("aws_config.role_arn", "")
	v.SetDefault("aws_config.endpoint", "")
	v.SetDefault("aws_config.wait_time_seconds", 5)
	v.SetDefault("redis_config.addr", "")
	v.SetDefault("redis_config.password", "")
	v.SetDefault("redis_config.db", 0)
	v.SetDefault("redis_config.stream", "webhook-relay")
	v.SetDefault("redis_config.group", "webhook-relay-forwarders")
	v.SetDefault("redis_config.consumer", "")
	v.SetDefault("redis_config.visibility_timeout", 30)
	v.SetDefault("rabbitmq_config.url", "")
	v.SetDefault("rabbitmq_config.queue", "")
	v.SetDefault("rabbitmq_config.visibility_timeout", 30)
	v.SetDefault("kafka_config.brokers", []string{})
	v.SetDefault("kafka_config.topic", "")
	v.SetDefault("kafka_config.group_id", "webhook-relay-forwarders")
	v.SetDefault("kafka_config.visibility_timeout", 30)
	v.SetDefault("memory_config.visibility_timeout", 30)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}

// LoadCollector reads the collector configuration from path and the environment
func LoadCollector(path string) (*Collector, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("sources_file", "")

	var cfg Collector
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &cfg, nil
}

// LoadForwarder reads the forwarder configuration from path and the environment
func LoadForwarder(path string) (*Forwarder, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("target_url", "")
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay", 5)
	v.SetDefault("timeout", 10)

	var cfg Forwarder
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return &cfg, nil
}

// ValidateQueue checks that the selected backend has its settings
func (b Base) ValidateQueue() error {
	var problems []string
	switch b.QueueType {
	case "gcp_pubsub":
		if b.GCP.ProjectID == "" || b.GCP.TopicID == "" {
			problems = append(problems, "GCP PubSub selected but no GCP configuration provided")
		}
	case "aws_sqs":
		if b.AWS.RegionName == "" || b.AWS.QueueURL == "" {
			problems = append(problems, "AWS SQS selected but no AWS configuration provided")
		}
	case "redis":
		if b.Redis.Addr == "" {
			problems = append(problems, "Redis selected but no Redis configuration provided")
		}
	case "rabbitmq":
		if b.RabbitMQ.URL == "" || b.RabbitMQ.Queue == "" {
			problems = append(problems, "RabbitMQ selected but no RabbitMQ configuration provided")
		}
	case "kafka":
		if len(b.Kafka.Brokers) == 0 || b.Kafka.Topic == "" {
			problems = append(problems, "Kafka selected but no Kafka configuration provided")
		}
	case "memory":
	case "":
		problems = append(problems, "queue_type is required")
	default:
		problems = append(problems, fmt.Sprintf("unsupported queue_type: %s", b.QueueType))
	}
	return joinProblems(problems)
}

// Validate checks the collector configuration
func (c Collector) Validate() error {
	var problems []string
	if err := c.ValidateQueue(); err != nil {
		problems = append(problems, unwrapProblems(err)...)
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port must be between 1 and 65535 (got %d)", c.Port))
	}
	seen := make(map[string]bool, len(c.WebhookSources))
	for _, src := range c.WebhookSources {
		if err := src.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if seen[src.Name] {
			problems = append(problems, fmt.Sprintf("duplicate webhook source: %s", src.Name))
		}
		seen[src.Name] = true
	}
	return joinProblems(problems)
}

// Validate checks a single source definition
func (s WebhookSourceConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("webhook source name cannot be empty")
	}
	if s.Secret != "" && s.SignatureHeader == "" {
		return fmt.Errorf("signature_header is required when a secret is set for source %s", s.Name)
	}
	return nil
}

// Validate checks the forwarder configuration
func (f Forwarder) Validate() error {
	var problems []string
	if err := f.ValidateQueue(); err != nil {
		problems = append(problems, unwrapProblems(err)...)
	}
	if f.QueueType == "gcp_pubsub" && f.GCP.SubscriptionID == "" {
		problems = append(problems, "gcp_config.subscription_id is required for the forwarder")
	}
	if f.TargetURL == "" {
		problems = append(problems, "target_url is required")
	} else if u, err := url.Parse(f.TargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("target_url must be an absolute URL (got %q)", f.TargetURL))
	}
	if f.RetryAttempts < 1 {
		problems = append(problems, "retry_attempts must be at least 1")
	}
	if f.RetryDelay < 0 {
		problems = append(problems, "retry_delay cannot be negative")
	}
	if f.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	return joinProblems(problems)
}

type problemsError struct {
	problems []string
}

func (e *problemsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.problems, "; "))
}

func (e *problemsError) Unwrap() error { return ErrInvalid }

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &problemsError{problems: problems}
}

func unwrapProblems(err error) []string {
	var pe *problemsError
	if errors.As(err, &pe) {
		return pe.problems
	}
	return []string{err.Error()}
}
