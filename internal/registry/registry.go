// Package registry is the invocation-scoped read-through cache of live
// rule-group and policy ARNs within a region, and the smallest-fit
// placement and policy-association helpers that sit on top of it.
package registry

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall/types"
	"github.com/google/uuid"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

const (
	// CapRuleGroup is the typical non-reserved rule group capacity.
	CapRuleGroup = 2000
	// CapReserved is the capacity given to the default-deny group.
	CapReserved = 100
	// MaxRulesPerPolicy bounds how many rule-group references a single
	// firewall policy may hold (vendor soft limit 20; one slot is kept
	// free by convention).
	MaxRulesPerPolicy = 19
	// ReservedSuffix marks the one rule group per scope carrying the
	// default-deny baseline.
	ReservedSuffix = "-reserved"
)

// Registry is a read-through cache over one region's live rule groups and
// policies, scoped to one Reconciler invocation (it is never held across
// invocations).
type Registry struct {
	nf       *networkfirewall.Client
	groups   []types.RuleGroupMetadata
	policies []types.FirewallPolicyMetadata
}

// New builds a Registry bound to the given NetworkFirewall client. Callers
// must call Refresh before using any operation.
func New(nf *networkfirewall.Client) *Registry {
	return &Registry{nf: nf}
}

// Refresh re-lists all rule groups and policies in the region, replacing
// any previously cached ARNs. Call this once at the start of each scope's
// reconciliation pass.
func (r *Registry) Refresh(ctx context.Context) error {
	groups, err := r.listAllGroups(ctx)
	if err != nil {
		return err
	}
	policies, err := r.listAllPolicies(ctx)
	if err != nil {
		return err
	}
	r.groups = groups
	r.policies = policies
	return nil
}

func (r *Registry) listAllGroups(ctx context.Context) ([]types.RuleGroupMetadata, error) {
	var out []types.RuleGroupMetadata
	var nextToken *string
	scope := types.ResourceManagedStatusAccount
	for {
		resp, err := r.nf.ListRuleGroups(ctx, &networkfirewall.ListRuleGroupsInput{
			Scope:      scope,
			MaxResults: aws.Int32(100),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, rperrors.InternalWrap(err, "list rule groups")
		}
		out = append(out, resp.RuleGroups...)
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}
	return out, nil
}

func (r *Registry) listAllPolicies(ctx context.Context) ([]types.FirewallPolicyMetadata, error) {
	var out []types.FirewallPolicyMetadata
	var nextToken *string
	for {
		resp, err := r.nf.ListFirewallPolicies(ctx, &networkfirewall.ListFirewallPoliciesInput{
			MaxResults: aws.Int32(100),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, rperrors.InternalWrap(err, "list firewall policies")
		}
		out = append(out, resp.FirewallPolicies...)
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}
	return out, nil
}

// Register adds a freshly created rule group to the cache so subsequent
// SmallestFit calls within the same invocation can place into it.
func (r *Registry) Register(arn, name string) {
	r.groups = append(r.groups, types.RuleGroupMetadata{Arn: aws.String(arn), Name: aws.String(name)})
}

// AllGroupARNs returns every cached rule-group ARN.
func (r *Registry) AllGroupARNs() []string {
	out := make([]string, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, aws.ToString(g.Arn))
	}
	return out
}

// AllPolicyARNs returns every cached policy ARN.
func (r *Registry) AllPolicyARNs() []string {
	out := make([]string, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, aws.ToString(p.Arn))
	}
	return out
}

// SmallestFit describes the result of DescribeRuleGroup for a placement
// candidate.
type SmallestFit struct {
	ARN         string
	UpdateToken string
	ConsumedCap int32
	RuleGroup   *types.RuleGroup
}

// SmallestFit returns the non-reserved, non-DELETING rule group with the
// lowest ConsumedCapacity strictly below CapRuleGroup, or ok=false if no
// such group exists (caller must create a new one).
func (r *Registry) SmallestFit(ctx context.Context) (*SmallestFit, bool, error) {
	var best *SmallestFit
	for _, g := range r.groups {
		name := aws.ToString(g.Name)
		if strings.HasSuffix(name, ReservedSuffix) {
			continue
		}
		resp, err := r.nf.DescribeRuleGroup(ctx, &networkfirewall.DescribeRuleGroupInput{
			RuleGroupArn: g.Arn,
		})
		if err != nil {
			return nil, false, rperrors.InternalWrap(err, "describe rule group %s", name)
		}
		if resp.RuleGroupResponse != nil && resp.RuleGroupResponse.RuleGroupStatus == types.ResourceStatusDeleting {
			continue
		}
		consumed := int32(0)
		if resp.RuleGroupResponse != nil && resp.RuleGroupResponse.ConsumedCapacity != nil {
			consumed = *resp.RuleGroupResponse.ConsumedCapacity
		}
		if consumed >= CapRuleGroup {
			continue
		}
		if best == nil || consumed < best.ConsumedCap {
			best = &SmallestFit{
				ARN:         aws.ToString(g.Arn),
				UpdateToken: aws.ToString(resp.UpdateToken),
				ConsumedCap: consumed,
				RuleGroup:   resp.RuleGroup,
			}
		}
	}
	return best, best != nil, nil
}

// Describe fetches the current UpdateToken and body for a single rule
// group by ARN - used for the race-proof re-fetch before every mutation.
func (r *Registry) Describe(ctx context.Context, arn string) (*types.RuleGroup, string, error) {
	resp, err := r.nf.DescribeRuleGroup(ctx, &networkfirewall.DescribeRuleGroupInput{RuleGroupArn: aws.String(arn)})
	if err != nil {
		return nil, "", rperrors.InternalWrap(err, "describe rule group %s", arn)
	}
	return resp.RuleGroup, aws.ToString(resp.UpdateToken), nil
}

// DescribePolicy fetches the current UpdateToken and body for a policy.
func (r *Registry) DescribePolicy(ctx context.Context, arn string) (*types.FirewallPolicy, string, error) {
	resp, err := r.nf.DescribeFirewallPolicy(ctx, &networkfirewall.DescribeFirewallPolicyInput{FirewallPolicyArn: aws.String(arn)})
	if err != nil {
		return nil, "", rperrors.InternalWrap(err, "describe firewall policy %s", arn)
	}
	return resp.FirewallPolicy, aws.ToString(resp.UpdateToken), nil
}

// Associate references groupArn from the first policy with a free
// reference slot, creating a new policy if none has room. Returns the ARN
// of the policy the group ended up associated with.
func (r *Registry) Associate(ctx context.Context, groupArn string) (string, error) {
	for _, p := range r.policies {
		policy, token, err := r.DescribePolicy(ctx, aws.ToString(p.Arn))
		if err != nil {
			return "", err
		}
		if len(policy.StatefulRuleGroupReferences) >= MaxRulesPerPolicy {
			continue
		}
		policy.StatefulRuleGroupReferences = append(policy.StatefulRuleGroupReferences, types.StatefulRuleGroupReference{
			ResourceArn: aws.String(groupArn),
		})
		_, err = r.nf.UpdateFirewallPolicy(ctx, &networkfirewall.UpdateFirewallPolicyInput{
			FirewallPolicyArn: p.Arn,
			FirewallPolicy:    policy,
			UpdateToken:       aws.String(token),
		})
		if err != nil {
			return "", rperrors.InternalWrap(err, "associate group %s to policy %s", groupArn, aws.ToString(p.Arn))
		}
		return aws.ToString(p.Arn), nil
	}

	name := "Policy-" + uuid.NewString()[:8]
	resp, err := r.nf.CreateFirewallPolicy(ctx, &networkfirewall.CreateFirewallPolicyInput{
		FirewallPolicyName: aws.String(name),
		FirewallPolicy: &types.FirewallPolicy{
			StatelessDefaultActions:         []string{"aws:forward_to_sfe"},
			StatelessFragmentDefaultActions: []string{"aws:pass"},
			StatefulRuleGroupReferences: []types.StatefulRuleGroupReference{
				{ResourceArn: aws.String(groupArn)},
			},
		},
	})
	if err != nil {
		return "", rperrors.InternalWrap(err, "create new firewall policy for group %s", groupArn)
	}
	arn := aws.ToString(resp.FirewallPolicyResponse.FirewallPolicyArn)
	r.policies = append(r.policies, types.FirewallPolicyMetadata{Arn: resp.FirewallPolicyResponse.FirewallPolicyArn, Name: aws.String(name)})
	return arn, nil
}

// Disassociate removes any reference to groupArn from every cached policy.
func (r *Registry) Disassociate(ctx context.Context, groupArn string) error {
	for _, p := range r.policies {
		policy, token, err := r.DescribePolicy(ctx, aws.ToString(p.Arn))
		if err != nil {
			return err
		}
		filtered := policy.StatefulRuleGroupReferences[:0]
		changed := false
		for _, ref := range policy.StatefulRuleGroupReferences {
			if aws.ToString(ref.ResourceArn) == groupArn {
				changed = true
				continue
			}
			filtered = append(filtered, ref)
		}
		if !changed {
			continue
		}
		policy.StatefulRuleGroupReferences = filtered
		_, err = r.nf.UpdateFirewallPolicy(ctx, &networkfirewall.UpdateFirewallPolicyInput{
			FirewallPolicyArn: p.Arn,
			FirewallPolicy:    policy,
			UpdateToken:       aws.String(token),
		})
		if err != nil {
			return rperrors.InternalWrap(err, "disassociate group %s from policy %s", groupArn, aws.ToString(p.Arn))
		}
	}
	return nil
}

// ArnToName returns the resource name portion of arn (substring after the
// first "/").
func ArnToName(arn string) string {
	idx := strings.Index(arn, "/")
	if idx < 0 {
		return arn
	}
	return arn[idx+1:]
}
