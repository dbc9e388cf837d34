package ruleconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

func testProtocols() *Protocols {
	return &Protocols{
		PredfinedRuleProtocols: map[string]string{
			"https": "tls.sni",
			"http":  "http.host",
			"tls":   "tls.sni",
		},
		CustomRuleProtocols: []string{"tls.sni", "http.host", "custom"},
	}
}

func TestAddRuleEntryPredefinedDotPrefix(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	require.NoError(t, e.AddRuleEntry("https", ".example.com"))

	require.Len(t, e.Rules(), 1)
	for name, rule := range e.Rules() {
		assert.Contains(t, rule, "pass tls $a123456789012abcdef123 any -> $EXTERNAL_NET any")
		assert.Contains(t, rule, "tls.sni;")
		assert.Contains(t, rule, `dotprefix; content:".example.com"; endswith;`)
		assert.Contains(t, rule, "metadata: rule_name "+name+";")
	}
}

func TestAddRuleEntryPredefinedWithPort(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	require.NoError(t, e.AddRuleEntry("https", "example.com:8443"))

	for _, rule := range e.Rules() {
		assert.Contains(t, rule, "-> $EXTERNAL_NET 8443")
		assert.Contains(t, rule, `content:"example.com"; startswith; endswith;`)
	}
}

func TestAddRuleEntryPredefinedRejectsLoneTLD(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	err := e.AddRuleEntry("https", ".com")
	require.Error(t, err)
	assert.True(t, rperrors.IsFormat(err))
}

func TestAddRuleEntryPredefinedPriorityOrder(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "DEFAULT_ACTION_ORDER")
	require.NoError(t, e.AddRuleEntry("http", "example.com"))
	for _, rule := range e.Rules() {
		assert.Contains(t, rule, "priority:100;")
	}
}

func TestAddRuleEntryIdempotent(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	require.NoError(t, e.AddRuleEntry("https", "example.com"))
	require.NoError(t, e.AddRuleEntry("https", "example.com"))
	assert.Len(t, e.Rules(), 1, "re-adding identical intent must not duplicate the rule")
}

func TestAddRuleEntryCustom(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	rule := `pass tls.sni $a123456789012abcdef123 any -> $EXTERNAL_NET any (content:"example.net"; startswith; endswith;)`
	require.NoError(t, e.AddRuleEntry("custom", rule))

	for name, compiled := range e.Rules() {
		assert.Contains(t, compiled, "sid:")
		assert.Contains(t, compiled, "rev:1;")
		assert.Contains(t, compiled, "metadata: rule_name "+name+";")
	}
}

func TestAddRuleEntryCustomRejectsReservedKeyword(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	rule := `pass tls.sni $a123456789012abcdef123 any -> $EXTERNAL_NET any (content:"example.net"; sid:9999;)`
	err := e.AddRuleEntry("custom", rule)
	require.Error(t, err)
	assert.True(t, rperrors.IsFormat(err))
}

func TestAddRuleEntryCustomRejectsMissingContent(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	rule := `pass tls.sni $a123456789012abcdef123 any -> $EXTERNAL_NET any (flow:to_server;)`
	err := e.AddRuleEntry("custom", rule)
	require.Error(t, err)
}

func TestAddRuleEntryCustomRejectsWrongIPSetVariable(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	rule := `pass tls.sni $aWRONGSCOPE any -> $EXTERNAL_NET any (content:"example.net";)`
	err := e.AddRuleEntry("custom", rule)
	require.Error(t, err)
}

func TestAddRuleEntryCustomRejectsLoneTLDContent(t *testing.T) {
	e := NewEntry("vpc-abcdef123", "123456789012", "eu-west-1", "1", testProtocols(), "")
	rule := `pass tls.sni $a123456789012abcdef123 any -> $EXTERNAL_NET any (content:".net";)`
	err := e.AddRuleEntry("custom", rule)
	require.Error(t, err)
}
