// Package rpconfig loads the Lambda runtime configuration from environment
// variables.
package rpconfig

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of environment-driven knobs both Lambda
// entrypoints read at cold start.
type Config struct {
	LambdaRegion      string
	QueueName         string
	XAccountRole      string
	NamePrefix        string
	Stage             string
	SupportedRegions  []string
	RuleOrder         string
	VPCID             string
	TokenRetryDelay   time.Duration
	RuleStatusTimeout time.Duration
}

// Load reads Config from the process environment, applying built-in
// defaults where a variable is unset.
func Load() Config {
	return Config{
		LambdaRegion:      getEnv("LAMBDA_REGION", "eu-west-1"),
		QueueName:         getEnv("QUEUE_NAME", "RuleCache.fifo"),
		XAccountRole:      os.Getenv("XACCOUNT_ROLE"),
		NamePrefix:        os.Getenv("NAME_PREFIX"),
		Stage:             os.Getenv("STAGE"),
		SupportedRegions:  splitCSV(os.Getenv("SUPPORTED_REGIONS")),
		RuleOrder:         os.Getenv("RULE_ORDER"),
		VPCID:             os.Getenv("VPC_ID"),
		TokenRetryDelay:   getDuration("TOKEN_RETRY_DELAY", 2*time.Second),
		RuleStatusTimeout: getDuration("RULE_STATUS_TIMEOUT", 30*time.Second),
	}
}

// LogGroupName builds the tenant-facing log group name convention:
// cw-<prefix>-CustomerLog-<stage>.
func (c Config) LogGroupName() string {
	return "cw-" + c.NamePrefix + "-CustomerLog-" + c.Stage
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
