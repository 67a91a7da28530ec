package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCollector(t *testing.T) {
	t.Run("success - file values and defaults", func(t *testing.T) {
		path := writeConfig(t, `
queue_type: aws_sqs
aws_config:
  region_name: us-east-1
  queue_url: https://sqs.us-east-1.amazonaws.com/123/relay
webhook_sources:
  - name: github
    secret: gh
    signature_header: X-Hub-Signature-256
  - name: custom
`)

		cfg, err := config.LoadCollector(path)
		require.NoError(t, err)

		assert.Equal(t, "aws_sqs", cfg.QueueType)
		assert.Equal(t, "us-east-1", cfg.AWS.RegionName)
		assert.Equal(t, 5, cfg.AWS.WaitTimeSeconds)
		assert.Equal(t, "0.0.0.0", cfg.Host)
		assert.Equal(t, 8000, cfg.Port)
		assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
		require.Len(t, cfg.WebhookSources, 2)
		assert.Equal(t, "X-Hub-Signature-256", cfg.WebhookSources[0].SignatureHeader)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr())
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
		require.NoError(t, cfg.Validate())
	})

	t.Run("success - environment overrides nested keys", func(t *testing.T) {
		path := writeConfig(t, `
queue_type: aws_sqs
aws_config:
  region_name: us-east-1
  queue_url: https://example.com/q
`)
		t.Setenv("WEBHOOK_RELAY_AWS_CONFIG__REGION_NAME", "eu-west-1")
		t.Setenv("WEBHOOK_RELAY_PORT", "9000")

		cfg, err := config.LoadCollector(path)
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", cfg.AWS.RegionName)
		assert.Equal(t, 9000, cfg.Port)
	})

	t.Run("error - missing file", func(t *testing.T) {
		_, err := config.LoadCollector(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config file")
	})
}

func TestLoadForwarder(t *testing.T) {
	t.Run("success - defaults", func(t *testing.T) {
		path := writeConfig(t, `
queue_type: memory
target_url: http://localhost:8080/hook
headers:
  Authorization: Bearer token
`)

		cfg, err := config.LoadForwarder(path)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.RetryAttempts)
		assert.Equal(t, 5*time.Second, cfg.RetryDelayDuration())
		assert.Equal(t, 10*time.Second, cfg.TimeoutDuration())
		assert.Len(t, cfg.Headers, 1)
		require.NoError(t, cfg.Validate())
	})

	t.Run("success - no headers yields empty map", func(t *testing.T) {
		path := writeConfig(t, `
queue_type: memory
target_url: http://localhost:8080/hook
`)
		cfg, err := config.LoadForwarder(path)
		require.NoError(t, err)
		assert.NotNil(t, cfg.Headers)
	})
}

func TestBase_ValidateQueue(t *testing.T) {
	tests := []struct {
		name    string
		base    config.Base
		wantErr string
	}{
		{name: "memory", base: config.Base{QueueType: "memory"}},
		{name: "redis", base: config.Base{QueueType: "redis", Redis: config.RedisConfig{Addr: "localhost:6379"}}},
		{name: "gcp missing", base: config.Base{QueueType: "gcp_pubsub"}, wantErr: "GCP PubSub selected but no GCP configuration provided"},
		{name: "aws missing", base: config.Base{QueueType: "aws_sqs"}, wantErr: "AWS SQS selected but no AWS configuration provided"},
		{name: "redis missing", base: config.Base{QueueType: "redis"}, wantErr: "Redis selected but no Redis configuration provided"},
		{name: "rabbitmq missing", base: config.Base{QueueType: "rabbitmq"}, wantErr: "RabbitMQ selected but no RabbitMQ configuration provided"},
		{name: "kafka missing", base: config.Base{QueueType: "kafka"}, wantErr: "Kafka selected but no Kafka configuration provided"},
		{name: "empty", base: config.Base{}, wantErr: "queue_type is required"},
		{name: "unknown", base: config.Base{QueueType: "sns"}, wantErr: "unsupported queue_type: sns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.base.ValidateQueue()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCollector_Validate(t *testing.T) {
	base := config.Base{QueueType: "memory"}

	t.Run("error - secret without header", func(t *testing.T) {
		cfg := config.Collector{Base: base, Port: 8000, WebhookSources: []config.WebhookSourceConfig{
			{Name: "github", Secret: "s"},
		}}
		err := cfg.Validate()
		require.ErrorIs(t, err, config.ErrInvalid)
		assert.Contains(t, err.Error(), "signature_header is required")
	})

	t.Run("success - header without secret", func(t *testing.T) {
		cfg := config.Collector{Base: base, Port: 8000, WebhookSources: []config.WebhookSourceConfig{
			{Name: "custom", SignatureHeader: "X-Sig"},
		}}
		require.NoError(t, cfg.Validate())
	})

	t.Run("error - duplicate sources and bad port are all reported", func(t *testing.T) {
		cfg := config.Collector{Base: base, Port: 0, WebhookSources: []config.WebhookSourceConfig{
			{Name: "a"}, {Name: "a"},
		}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate webhook source: a")
		assert.Contains(t, err.Error(), "port must be between 1 and 65535")
	})
}

func TestForwarder_Validate(t *testing.T) {
	valid := config.Forwarder{
		Base:          config.Base{QueueType: "memory"},
		TargetURL:     "https://example.com/hook",
		RetryAttempts: 3,
		RetryDelay:    5,
		Timeout:       10,
	}

	t.Run("success", func(t *testing.T) {
		require.NoError(t, valid.Validate())
	})

	t.Run("error - relative target url", func(t *testing.T) {
		cfg := valid
		cfg.TargetURL = "/hook"
		err := cfg.Validate()
		require.ErrorIs(t, err, config.ErrInvalid)
		assert.Contains(t, err.Error(), "target_url must be an absolute URL")
	})

	t.Run("error - zero attempts", func(t *testing.T) {
		cfg := valid
		cfg.RetryAttempts = 0
		assert.ErrorContains(t, cfg.Validate(), "retry_attempts must be at least 1")
	})

	t.Run("error - pubsub without subscription", func(t *testing.T) {
		cfg := valid
		cfg.QueueType = "gcp_pubsub"
		cfg.GCP = config.GCPPubSubConfig{ProjectID: "p", TopicID: "t"}
		assert.ErrorContains(t, cfg.Validate(), "gcp_config.subscription_id is required")
	})
}

func TestExampleConfigs(t *testing.T) {
	t.Run("success - collector example is valid", func(t *testing.T) {
		cfg, err := config.LoadCollector(filepath.Join("..", "configs", "collector.example.yaml"))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "redis", cfg.QueueType)
		assert.Len(t, cfg.WebhookSources, 2)
	})

	t.Run("success - forwarder example is valid", func(t *testing.T) {
		cfg, err := config.LoadForwarder(filepath.Join("..", "configs", "forwarder.example.yaml"))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 5*time.Second, cfg.RetryDelayDuration())
		assert.Equal(t, "Bearer change-me", cfg.Headers["authorization"])
	})
}
