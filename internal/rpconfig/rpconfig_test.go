package rpconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "eu-west-1", cfg.LambdaRegion)
	assert.Equal(t, "RuleCache.fifo", cfg.QueueName)
	assert.Equal(t, 2*time.Second, cfg.TokenRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.RuleStatusTimeout)
	assert.Nil(t, cfg.SupportedRegions)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LAMBDA_REGION", "us-east-1")
	t.Setenv("QUEUE_NAME", "Custom.fifo")
	t.Setenv("SUPPORTED_REGIONS", "eu-west-1, us-east-1,ap-southeast-2")
	t.Setenv("TOKEN_RETRY_DELAY", "5")
	t.Setenv("RULE_STATUS_TIMEOUT", "45")

	cfg := Load()
	require.Equal(t, "us-east-1", cfg.LambdaRegion)
	require.Equal(t, "Custom.fifo", cfg.QueueName)
	require.Equal(t, []string{"eu-west-1", "us-east-1", "ap-southeast-2"}, cfg.SupportedRegions)
	require.Equal(t, 5*time.Second, cfg.TokenRetryDelay)
	require.Equal(t, 45*time.Second, cfg.RuleStatusTimeout)
}

func TestLoadDurationIgnoresGarbage(t *testing.T) {
	t.Setenv("TOKEN_RETRY_DELAY", "not-a-number")
	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.TokenRetryDelay)
}

func TestLogGroupName(t *testing.T) {
	cfg := Config{NamePrefix: "ruleplane", Stage: "prod"}
	assert.Equal(t, "cw-ruleplane-CustomerLog-prod", cfg.LogGroupName())
}
