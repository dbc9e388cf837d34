package reconciler

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

func TestSplitRulesStringFiltersEmptyLines(t *testing.T) {
	group := &types.RuleGroup{
		RulesSource: &types.RulesSource{
			RulesString: aws.String("rule one\n\nrule two\n\n\nrule three"),
		},
	}
	lines := splitRulesString(group)
	assert.Equal(t, []string{"rule one", "rule two", "rule three"}, lines)
}

func TestSplitRulesStringNilGroup(t *testing.T) {
	assert.Nil(t, splitRulesString(nil))
	assert.Nil(t, splitRulesString(&types.RuleGroup{}))
	assert.Nil(t, splitRulesString(&types.RuleGroup{RulesSource: &types.RulesSource{}}))
}

func TestEnsureIPSetCreatesMissingVariables(t *testing.T) {
	group := &types.RuleGroup{RulesSource: &types.RulesSource{}}
	group = ensureIPSet(group, "a123456789012abcdef123", "10.0.0.0/24")
	require.NotNil(t, group.RuleVariables)
	ipset, ok := group.RuleVariables.IPSets["a123456789012abcdef123"]
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.0/24"}, ipset.Definition)
}

func TestEnsureIPSetOverwritesExisting(t *testing.T) {
	group := &types.RuleGroup{
		RuleVariables: &types.RuleVariables{
			IPSets: map[string]types.IPSet{
				"a123456789012abcdef123": {Definition: []string{"10.0.0.0/16"}},
			},
		},
	}
	group = ensureIPSet(group, "a123456789012abcdef123", "10.0.0.0/24")
	assert.Equal(t, []string{"10.0.0.0/24"}, group.RuleVariables.IPSets["a123456789012abcdef123"].Definition)
}

func TestGenerateGroupNameIsUniqueAndTimestamped(t *testing.T) {
	a := generateGroupName()
	b := generateGroupName()
	assert.NotEqual(t, a, b, "concurrent bin-packing must not collide on name within the same second")
	assert.Contains(t, a, "rg-")
	assert.Regexp(t, `^rg-[0-9]+-[0-9a-f]{8}$`, a)
}

func TestBuildReservedRulesStringStampsEachProtocol(t *testing.T) {
	rules := &ruleconfig.DefaultDeny{
		Rules: []string{
			"drop tcp any any -> any any",
			"drop udp any any -> any any",
			"drop icmp any any -> any any",
		},
	}
	body := buildReservedRulesString(rules, "111122223333", "abcdef123")
	lines := splitRulesString(&types.RuleGroup{RulesSource: &types.RulesSource{RulesString: aws.String(body)}})
	require.Len(t, lines, 3)

	for _, line := range lines {
		name, ok := ruleconfig.ParseRuleName(line)
		require.True(t, ok)
		assert.Contains(t, name, "111122223333-abcdef123-")
		assert.Contains(t, line, "priority:255;")
		assert.Contains(t, line, "flow:to_server, established;")
	}
	assert.Contains(t, lines[0], `msg:"Drop all TCP";`)
	assert.Contains(t, lines[1], `msg:"Drop all UDP";`)
	assert.Contains(t, lines[2], `msg:"Drop all ICMP";`)
}

func TestBuildReservedRulesStringDeterministic(t *testing.T) {
	rules := &ruleconfig.DefaultDeny{Rules: []string{"drop tcp any any -> any any"}}
	a := buildReservedRulesString(rules, "111122223333", "abcdef123")
	b := buildReservedRulesString(rules, "111122223333", "abcdef123")
	assert.Equal(t, a, b, "re-synthesizing the baseline must reproduce identical rule_name and sid")
}

func TestWithTokenRetryRetriesExactlyOnce(t *testing.T) {
	r := New(nil, nil, 0, 0)
	calls := 0
	err := r.withTokenRetry(func() error {
		calls++
		return &types.InvalidTokenException{}
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls, "a persistent token conflict gets a single retry, not a loop")
}

func TestWithTokenRetrySucceedsOnSecondAttempt(t *testing.T) {
	r := New(nil, nil, 0, 0)
	calls := 0
	err := r.withTokenRetry(func() error {
		calls++
		if calls == 1 {
			return &types.InvalidTokenException{}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithTokenRetryDoesNotRetryOtherErrors(t *testing.T) {
	r := New(nil, nil, 0, 0)
	calls := 0
	err := r.withTokenRetry(func() error {
		calls++
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestComputePlanInsertDeleteUnchanged(t *testing.T) {
	target := map[string]string{
		"A-V-1": "pass tls ... 1",
		"A-V-2": "pass tls ... 2",
	}
	live := map[string]string{
		"A-V-2": "pass tls ... 2",
		"A-V-3": "pass tls ... 3",
	}
	plan := ComputePlan(target, live)
	assert.Equal(t, []string{"A-V-1"}, plan.Insert)
	assert.Equal(t, []string{"A-V-3"}, plan.Delete)
	assert.Equal(t, []string{"A-V-2"}, plan.Unchanged)
}

func TestComputePlanIdenticalIsNoOp(t *testing.T) {
	rules := map[string]string{"A-V-1": "pass tls ... 1"}
	plan := ComputePlan(rules, rules)
	assert.Empty(t, plan.Insert)
	assert.Empty(t, plan.Delete)
	assert.Equal(t, []string{"A-V-1"}, plan.Unchanged)
}
