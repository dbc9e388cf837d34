package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArnToName(t *testing.T) {
	arn := "arn:aws:network-firewall:eu-west-1:123456789012:stateful-rulegroup/rg-1-abcd1234"
	assert.Equal(t, "rg-1-abcd1234", ArnToName(arn))
}

func TestArnToNameNoSlash(t *testing.T) {
	assert.Equal(t, "bare-name", ArnToName("bare-name"))
}

func TestRegisterAddsToCache(t *testing.T) {
	r := New(nil)
	assert.Empty(t, r.AllGroupARNs())

	arn := "arn:aws:network-firewall:eu-west-1:123456789012:stateful-rulegroup/rg-2-ef567890"
	r.Register(arn, "rg-2-ef567890")
	assert.Equal(t, []string{arn}, r.AllGroupARNs())
}

func TestNew(t *testing.T) {
	// Refresh/SmallestFit/Associate all call the live NetworkFirewall API
	// and need real or emulated AWS credentials to exercise; no test in this
	// repository exercises them.
	if testing.Short() {
		t.Skip("skipping networkfirewall-backed registry test in short mode")
	}
}
