// Package reconciler implements the differential reconciliation engine:
// given one compilation message plus its event kind, compute the target
// rule set for the affected scope and converge the live firewall to it
// under optimistic-concurrency update tokens.
package reconciler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall/types"
	"github.com/google/uuid"

	"github.com/ruleplane/ruleplane/internal/queue"
	"github.com/ruleplane/ruleplane/internal/registry"
	"github.com/ruleplane/ruleplane/internal/rperrors"
	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

// Reconciler converges live NetworkFirewall state to a target rule set for
// one scope at a time.
type Reconciler struct {
	nf              *networkfirewall.Client
	reg             *registry.Registry
	tokenRetryDelay time.Duration
	statusTimeout   time.Duration
	now             func() time.Time
}

// New builds a Reconciler bound to nf, using reg as its Resource Registry.
func New(nf *networkfirewall.Client, reg *registry.Registry, tokenRetryDelay, statusTimeout time.Duration) *Reconciler {
	return &Reconciler{
		nf:              nf,
		reg:             reg,
		tokenRetryDelay: tokenRetryDelay,
		statusTimeout:   statusTimeout,
		now:             time.Now,
	}
}

// liveRule pairs a rule's group ARN with its full rule string.
type liveRule struct {
	groupARN   string
	ruleString string
}

// Reconcile applies msg to live state per its event kind.
func (r *Reconciler) Reconcile(ctx context.Context, msg queue.Message) error {
	if err := r.reg.Refresh(ctx); err != nil {
		return err
	}

	switch msg.Event {
	case queue.EventUpdate:
		return r.reconcileUpdate(ctx, msg)
	case queue.EventDeleteVpc:
		scope := ruleconfig.Scope{Account: msg.Account, VPC: msg.Body.VPC}
		if err := r.deleteScope(ctx, scope); err != nil {
			return err
		}
		return r.cleanupIPSets(ctx, scope)
	case queue.EventDeleteS3:
		scope := ruleconfig.Scope{Account: msg.Account}
		if err := r.deleteScope(ctx, scope); err != nil {
			return err
		}
		return r.cleanupIPSets(ctx, scope)
	case queue.EventDeleteAccount:
		scope := ruleconfig.Scope{Account: msg.Account}
		if err := r.deleteScope(ctx, scope); err != nil {
			return err
		}
		return r.cleanupIPSets(ctx, scope)
	default:
		return rperrors.Internal("unrecognized event kind %q", msg.Event)
	}
}

// Plan is the offline, AWS-free diff between a target rule set and a
// snapshot of live rule_name -> rule_string pairs for the same scope. It
// backs the "ruleplane reconcile-plan" CLI command, which prints what a
// live Reconcile call would do without touching NetworkFirewall.
type Plan struct {
	Insert    []string `json:"insert"`
	Delete    []string `json:"delete"`
	Unchanged []string `json:"unchanged"`
}

// ComputePlan diffs target against live by rule_name, the same logic
// reconcileUpdate applies against a live Registry (rule_name is
// content-addressed, so a name match needs no text comparison).
func ComputePlan(target, live map[string]string) Plan {
	plan := Plan{}
	for name := range target {
		if _, ok := live[name]; ok {
			plan.Unchanged = append(plan.Unchanged, name)
		} else {
			plan.Insert = append(plan.Insert, name)
		}
	}
	for name := range live {
		if _, ok := target[name]; !ok {
			plan.Delete = append(plan.Delete, name)
		}
	}
	sort.Strings(plan.Insert)
	sort.Strings(plan.Delete)
	sort.Strings(plan.Unchanged)
	return plan
}

func (r *Reconciler) reconcileUpdate(ctx context.Context, msg queue.Message) error {
	scope := ruleconfig.Scope{Account: msg.Account, VPC: msg.Body.VPC}

	live, err := r.liveRulesInScope(ctx, scope)
	if err != nil {
		return err
	}

	for ruleName, ruleString := range msg.Body.Rules {
		if _, exists := live[ruleName]; exists {
			continue // content-addressed rule_name already covers an identical-text match
		}
		if err := r.insertRule(ctx, scope, msg.Body.CIDR, ruleName, ruleString); err != nil {
			return err
		}
	}

	for ruleName, entry := range live {
		if _, wanted := msg.Body.Rules[ruleName]; !wanted {
			if err := r.deleteRule(ctx, entry.groupARN, ruleName); err != nil {
				return err
			}
		}
	}
	return nil
}

// liveRulesInScope scans every rule group's rules-string, extracting
// rule_name and keeping entries whose rule_name's prefix matches scope.
func (r *Reconciler) liveRulesInScope(ctx context.Context, scope ruleconfig.Scope) (map[string]liveRule, error) {
	out := make(map[string]liveRule)
	prefix := scope.Prefix()
	for _, arn := range r.reg.AllGroupARNs() {
		group, _, err := r.reg.Describe(ctx, arn)
		if err != nil {
			return nil, err
		}
		for _, line := range splitRulesString(group) {
			name, ok := ruleconfig.ParseRuleName(line)
			if !ok {
				continue
			}
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			out[name] = liveRule{groupARN: arn, ruleString: line}
		}
	}
	return out, nil
}

func splitRulesString(group *types.RuleGroup) []string {
	if group == nil || group.RulesSource == nil || group.RulesSource.RulesString == nil {
		return nil
	}
	lines := strings.Split(aws.ToString(group.RulesSource.RulesString), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// insertRule places a new rule into the smallest-fit non-reserved group,
// creating one if none has room, and ensures the scope's IP-set is present.
func (r *Reconciler) insertRule(ctx context.Context, scope ruleconfig.Scope, cidr, ruleName, ruleString string) error {
	fit, ok, err := r.reg.SmallestFit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return r.createGroupWithRule(ctx, scope, cidr, ruleString)
	}
	return r.appendRuleToGroup(ctx, fit.ARN, scope, cidr, ruleString)
}

// withTokenRetry runs fn once and, on InvalidTokenException, retries it a
// single time after tokenRetryDelay. fn re-describes its group on every
// call, so the retry applies the intended diff against a fresh token.
func (r *Reconciler) withTokenRetry(fn func() error) error {
	err := fn()
	if isInvalidToken(err) {
		time.Sleep(r.tokenRetryDelay)
		err = fn()
	}
	return err
}

// appendRuleToGroup re-fetches the group (race-proof), appends ruleString,
// ensures the IP-set, and retries once on InvalidTokenException.
func (r *Reconciler) appendRuleToGroup(ctx context.Context, arn string, scope ruleconfig.Scope, cidr, ruleString string) error {
	return r.withTokenRetry(func() error {
		group, token, err := r.reg.Describe(ctx, arn)
		if err != nil {
			return err
		}
		group = ensureIPSet(group, scope.IPSetPrefix(), cidr)
		lines := splitRulesString(group)
		lines = append(lines, ruleString)
		if group.RulesSource == nil {
			group.RulesSource = &types.RulesSource{}
		}
		group.RulesSource.RulesString = aws.String(strings.Join(lines, "\n"))

		_, err = r.nf.UpdateRuleGroup(ctx, &networkfirewall.UpdateRuleGroupInput{
			RuleGroupArn: aws.String(arn),
			RuleGroup:    group,
			UpdateToken:  aws.String(token),
			Type:         types.RuleGroupTypeStateful,
		})
		if err != nil {
			return rperrors.InternalWrap(err, "update rule group %s", arn)
		}
		return nil
	})
}

func (r *Reconciler) createGroupWithRule(ctx context.Context, scope ruleconfig.Scope, cidr, ruleString string) error {
	name := generateGroupName()
	group := &types.RuleGroup{
		RulesSource: &types.RulesSource{RulesString: aws.String(ruleString)},
		RuleVariables: &types.RuleVariables{
			IPSets: map[string]types.IPSet{
				scope.IPSetPrefix(): {Definition: []string{cidr}},
			},
		},
	}
	resp, err := r.nf.CreateRuleGroup(ctx, &networkfirewall.CreateRuleGroupInput{
		RuleGroupName: aws.String(name),
		Type:          types.RuleGroupTypeStateful,
		Capacity:      aws.Int32(registry.CapRuleGroup),
		RuleGroup:     group,
		Description:   aws.String("Autogenerated - managed by RulePlane"),
	})
	if err != nil {
		return rperrors.InternalWrap(err, "create rule group %s", name)
	}
	arn := aws.ToString(resp.RuleGroupResponse.RuleGroupArn)
	r.reg.Register(arn, name)
	if _, err := r.reg.Associate(ctx, arn); err != nil {
		return err
	}
	return nil
}

func ensureIPSet(group *types.RuleGroup, setName, cidr string) *types.RuleGroup {
	if group.RuleVariables == nil {
		group.RuleVariables = &types.RuleVariables{IPSets: map[string]types.IPSet{}}
	}
	if group.RuleVariables.IPSets == nil {
		group.RuleVariables.IPSets = map[string]types.IPSet{}
	}
	group.RuleVariables.IPSets[setName] = types.IPSet{Definition: []string{cidr}}
	return group
}

// deleteRule removes ruleName from arn's rules-string. If the resulting
// rules-string is empty, the group is disassociated and deleted.
func (r *Reconciler) deleteRule(ctx context.Context, arn, ruleName string) error {
	return r.withTokenRetry(func() error {
		group, token, err := r.reg.Describe(ctx, arn)
		if err != nil {
			return err
		}
		remaining := make([]string, 0)
		for _, line := range splitRulesString(group) {
			name, ok := ruleconfig.ParseRuleName(line)
			if ok && name == ruleName {
				continue
			}
			remaining = append(remaining, line)
		}

		if len(remaining) == 0 {
			return r.drainGroup(ctx, arn)
		}

		group.RulesSource.RulesString = aws.String(strings.Join(remaining, "\n"))
		_, err = r.nf.UpdateRuleGroup(ctx, &networkfirewall.UpdateRuleGroupInput{
			RuleGroupArn: aws.String(arn),
			RuleGroup:    group,
			UpdateToken:  aws.String(token),
			Type:         types.RuleGroupTypeStateful,
		})
		if err != nil {
			return rperrors.InternalWrap(err, "update rule group %s", arn)
		}
		return nil
	})
}

func (r *Reconciler) drainGroup(ctx context.Context, arn string) error {
	if err := r.reg.Disassociate(ctx, arn); err != nil {
		return err
	}
	name := registry.ArnToName(arn)
	_, err := r.nf.DeleteRuleGroup(ctx, &networkfirewall.DeleteRuleGroupInput{
		RuleGroupName: aws.String(name),
		Type:          types.RuleGroupTypeStateful,
	})
	if isInvalidOperation(err) {
		time.Sleep(10 * time.Second)
		_, err = r.nf.DeleteRuleGroup(ctx, &networkfirewall.DeleteRuleGroupInput{
			RuleGroupName: aws.String(name),
			Type:          types.RuleGroupTypeStateful,
		})
	}
	if err != nil {
		return rperrors.InternalWrap(err, "delete rule group %s", name)
	}
	return r.waitForDeletion(ctx, arn)
}

// waitForDeletion polls DescribeRuleGroupMetadata until
// ResourceNotFoundException or statusTimeout elapses, whichever comes
// first.
func (r *Reconciler) waitForDeletion(ctx context.Context, arn string) error {
	deadline := r.now().Add(r.statusTimeout)
	for {
		_, err := r.nf.DescribeRuleGroupMetadata(ctx, &networkfirewall.DescribeRuleGroupMetadataInput{
			RuleGroupArn: aws.String(arn),
		})
		if isResourceNotFound(err) {
			return nil
		}
		if err != nil {
			return rperrors.InternalWrap(err, "poll rule group %s deletion status", arn)
		}
		if r.now().After(deadline) {
			return rperrors.Internal("timed out waiting for rule group %s to delete", arn)
		}
		time.Sleep(2 * time.Second)
	}
}

// deleteScope removes every live rule whose rule_name prefix matches
// scope. The regional account-delete sweep loops this per region; see
// cmd/executelambda, which catches ResourceNotFoundException per region.
func (r *Reconciler) deleteScope(ctx context.Context, scope ruleconfig.Scope) error {
	live, err := r.liveRulesInScope(ctx, scope)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic order, easier to reason about in tests
	for _, name := range names {
		if err := r.deleteRule(ctx, live[name].groupARN, name); err != nil {
			return err
		}
	}
	return nil
}

// cleanupIPSets removes every IP-set whose name starts with scope's
// IP-set prefix from every rule group.
func (r *Reconciler) cleanupIPSets(ctx context.Context, scope ruleconfig.Scope) error {
	prefix := scope.IPSetPrefix()
	for _, arn := range r.reg.AllGroupARNs() {
		if err := r.cleanupIPSetsInGroup(ctx, arn, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) cleanupIPSetsInGroup(ctx context.Context, arn, prefix string) error {
	return r.withTokenRetry(func() error {
		group, token, err := r.reg.Describe(ctx, arn)
		if err != nil {
			return err
		}
		if group.RuleVariables == nil || len(group.RuleVariables.IPSets) == 0 {
			return nil
		}
		filtered := map[string]types.IPSet{}
		changed := false
		for name, def := range group.RuleVariables.IPSets {
			if strings.HasPrefix(name, prefix) {
				changed = true
				continue
			}
			filtered[name] = def
		}
		if !changed {
			return nil
		}
		group.RuleVariables.IPSets = filtered
		_, err = r.nf.UpdateRuleGroup(ctx, &networkfirewall.UpdateRuleGroupInput{
			RuleGroupArn: aws.String(arn),
			RuleGroup:    group,
			UpdateToken:  aws.String(token),
			Type:         types.RuleGroupTypeStateful,
		})
		if err != nil {
			return rperrors.InternalWrap(err, "clean up ip sets in group %s", arn)
		}
		return nil
	})
}

// SyncReservedGroup keeps the account's default-deny rule group in sync
// with the baked-in baseline, creating it on first use.
func (r *Reconciler) SyncReservedGroup(ctx context.Context, rules *ruleconfig.DefaultDeny, fwAccount, fwVPC string) error {
	body := buildReservedRulesString(rules, fwAccount, fwVPC)

	for _, arn := range r.reg.AllGroupARNs() {
		if strings.HasSuffix(registry.ArnToName(arn), registry.ReservedSuffix) {
			return r.withTokenRetry(func() error {
				group, token, err := r.reg.Describe(ctx, arn)
				if err != nil {
					return err
				}
				if group.RulesSource == nil {
					group.RulesSource = &types.RulesSource{}
				}
				group.RulesSource.RulesString = aws.String(body)
				_, err = r.nf.UpdateRuleGroup(ctx, &networkfirewall.UpdateRuleGroupInput{
					RuleGroupArn: aws.String(arn),
					RuleGroup:    group,
					UpdateToken:  aws.String(token),
					Type:         types.RuleGroupTypeStateful,
				})
				if err != nil {
					return rperrors.InternalWrap(err, "update reserved rule group %s", arn)
				}
				return nil
			})
		}
	}

	name := generateGroupName() + registry.ReservedSuffix
	resp, err := r.nf.CreateRuleGroup(ctx, &networkfirewall.CreateRuleGroupInput{
		RuleGroupName: aws.String(name),
		Type:          types.RuleGroupTypeStateful,
		Capacity:      aws.Int32(registry.CapReserved),
		Description:   aws.String("Autogenerated Reserved Group - DONT CHANGE"),
		RuleGroup: &types.RuleGroup{
			RulesSource: &types.RulesSource{RulesString: aws.String(body)},
		},
	})
	if err != nil {
		return rperrors.InternalWrap(err, "create reserved rule group %s", name)
	}
	arn := aws.ToString(resp.RuleGroupResponse.RuleGroupArn)
	_, err = r.reg.Associate(ctx, arn)
	return err
}

// generateGroupName builds a "seconds since 2006-01-01" name with a short
// random suffix to avoid same-second collisions when concurrent Reconciler
// invocations create groups simultaneously.
func generateGroupName() string {
	epoch := time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC)
	seconds := int64(time.Now().UTC().Sub(epoch).Seconds())
	return "rg-" + strconv.FormatInt(seconds, 10) + "-" + uuid.NewString()[:8]
}

// buildReservedRulesString synthesizes the default-deny rule list from the
// baked-in baseline config, stamping each rule with a deterministic sid and
// a rule_name under the firewall's own account/VPC scope, both derived from
// the digest of the base rule text.
func buildReservedRulesString(rules *ruleconfig.DefaultDeny, fwAccount, fwVPC string) string {
	lines := make([]string, 0, len(rules.Rules))
	scope := ruleconfig.Scope{Account: fwAccount, VPC: fwVPC}
	for _, base := range rules.Rules {
		fields := strings.Fields(base)
		proto := "ip"
		if len(fields) > 1 {
			proto = fields[1]
		}
		digest := ruleconfig.HashContent(base)
		ruleName := ruleconfig.RuleName(scope.Account, scope.VPC, digest)
		sid := ruleconfig.SidFromDigest(digest)

		options := strings.Join([]string{
			`msg:"Drop all ` + strings.ToUpper(proto) + `";`,
			"priority:255;",
			"flow:to_server, established;",
			"sid:" + strconv.FormatUint(uint64(sid), 10) + ";",
			"rev:1;",
			"metadata: rule_name " + ruleName + ";",
		}, " ")

		lines = append(lines, base+" ("+options+")")
	}
	return strings.Join(lines, "\n")
}

func isInvalidToken(err error) bool {
	var e *types.InvalidTokenException
	return asNFWError(err, &e)
}

func isInvalidOperation(err error) bool {
	var e *types.InvalidOperationException
	return asNFWError(err, &e)
}

func isResourceNotFound(err error) bool {
	var e *types.ResourceNotFoundException
	return asNFWError(err, &e)
}

// IsResourceNotFound reports whether err wraps a NetworkFirewall
// ResourceNotFoundException, unwrapping through rperrors.Error. The
// DeleteAccount per-region sweep uses this to skip a region with no
// resources for the account instead of failing the whole invocation.
func IsResourceNotFound(err error) bool {
	return isResourceNotFound(err)
}

func asNFWError[T error](err error, target *T) bool {
	for err != nil {
		if e, ok := err.(T); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
