package ruleconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

// reservedMetaKeywords are the Suricata meta-keywords the compiler itself
// stamps onto every rule; a tenant-supplied custom rule may not use any of
// them. See https://suricata.readthedocs.io/en/latest/rules/meta.html
var reservedMetaKeywords = []string{
	"msg", "sid", "rev", "gid", "classtype", "reference", "priority", "metadata", "target",
}

// loneTLD matches a domain consisting only of a dot followed by a top-level
// domain, e.g. ".com" - rejected because it would allow-list an entire TLD.
var loneTLD = regexp.MustCompile(`^\.[a-zA-Z]{2,}$`)

var portSuffix = regexp.MustCompile(`^.+:\d+$`)

// Entry accumulates the compiled rules for one (account, vpc) pair within
// one region, mirroring one per-VPC policy block of the intent document.
// It is the unit the Intent Compiler emits as a CompilationMessage.
type Entry struct {
	Scope     Scope
	Region    string
	Version   string
	CIDR      string
	protocols *Protocols
	priority  string // "priority:100;" when RULE_ORDER=DEFAULT_ACTION_ORDER, else ""
	rules     map[string]string
}

// NewEntry builds an Entry for vpc (accepts either the bare id or the
// "vpc-" prefixed form). ruleOrder should be the raw RULE_ORDER environment
// value; "DEFAULT_ACTION_ORDER" turns on explicit rule prioritization.
func NewEntry(vpc, account, region, version string, protocols *Protocols, ruleOrder string) *Entry {
	priority := ""
	if ruleOrder == "DEFAULT_ACTION_ORDER" {
		priority = "priority:100;"
	}
	return &Entry{
		Scope:     Scope{Account: account, VPC: strings.TrimPrefix(vpc, "vpc-")},
		Region:    region,
		Version:   version,
		protocols: protocols,
		priority:  priority,
		rules:     make(map[string]string),
	}
}

// Rules returns the accumulated rule_name -> rule_string map.
func (e *Entry) Rules() map[string]string { return e.rules }

// AddRuleEntry compiles one rule spec under the given protocol-key bucket
// and folds it into the Entry's rule map. ruleKey is matched
// case-insensitively; "custom" and any key not in the predefined table are
// treated as custom Suricata rules.
func (e *Entry) AddRuleEntry(ruleKey, rule string) error {
	key := strings.ToLower(ruleKey)
	if e.protocols.IsPredefined(key) {
		domain := strings.ToLower(strings.ReplaceAll(rule, " ", ""))
		return e.generatePredefinedRule(key, domain)
	}
	return e.generateCustomRule(rule)
}

func isValidDomain(domain string) bool {
	return !loneTLD.MatchString(domain)
}

func (e *Entry) generatePredefinedRule(ruleKey, domain string) error {
	suricataKeyword, ok := e.protocols.SuricataKeyword(ruleKey)
	if !ok {
		return rperrors.Format("unsupported protocol: %s", ruleKey)
	}
	proto := strings.SplitN(suricataKeyword, ".", 2)[0]

	port := "any"
	bareDomain := domain
	if portSuffix.MatchString(domain) {
		idx := strings.LastIndex(domain, ":")
		bareDomain, port = domain[:idx], domain[idx+1:]
	}

	if !isValidDomain(bareDomain) {
		return rperrors.Format("domain contains only TLD: %s", bareDomain)
	}

	// Hash the protocol key alongside the bare domain: content-addressed so
	// re-stamping an unchanged intent reproduces the same rule_name.
	digest := hash10(ruleKey + ":" + bareDomain)
	ruleName := RuleName(e.Scope.Account, e.Scope.VPC, digest)
	sid := sidFromDigest(digest)

	var contentClause string
	if strings.HasPrefix(bareDomain, ".") {
		contentClause = fmt.Sprintf(`dotprefix; content:"%s"; endswith;`, bareDomain)
	} else {
		contentClause = fmt.Sprintf(`content:"%s"; startswith; endswith;`, bareDomain)
	}

	ruleString := fmt.Sprintf(
		"pass %s $a%s%s any -> $EXTERNAL_NET %s (%s; %s %sflow:to_server, established; sid:%d; rev:1; metadata: rule_name %s;)",
		proto, e.Scope.Account, e.Scope.VPC, port, suricataKeyword, contentClause, e.priority, sid, ruleName,
	)

	e.rules[ruleName] = ruleString
	return nil
}

var customBaseRegexCache = map[string]*regexp.Regexp{}

func (e *Entry) customBaseRegex() *regexp.Regexp {
	protoAlt := strings.Join(e.protocols.AllowedProtocols(), "|")
	key := protoAlt + "|" + e.Scope.Account + e.Scope.VPC
	if re, ok := customBaseRegexCache[key]; ok {
		return re
	}
	pattern := fmt.Sprintf(
		`(?i)^pass\s+(%s)\s+\$a%s%s\s+(any|\d+)\s+(->|<>)\s+\$EXTERNAL_NET\s+(any|\d+)\s+\(.*\)$`,
		protoAlt, regexp.QuoteMeta(e.Scope.Account), regexp.QuoteMeta(e.Scope.VPC),
	)
	re := regexp.MustCompile(pattern)
	customBaseRegexCache[key] = re
	return re
}

var contentField = regexp.MustCompile(`content:\s*(.*?)\s*;`)
var ruleOptionsRe = regexp.MustCompile(`\((.*)\)$`)

func (e *Entry) generateCustomRule(rule string) error {
	loc := ruleOptionsRe.FindStringSubmatchIndex(rule)
	if loc == nil {
		return rperrors.Format("missing rule options in: %s", rule)
	}
	optionsBody := rule[loc[2]:loc[3]]

	if err := e.validateCustomRuleFormat(rule, optionsBody); err != nil {
		return err
	}

	digest := hash10(rule)
	ruleName := RuleName(e.Scope.Account, e.Scope.VPC, digest)
	sid := sidFromDigest(digest)

	newOptions := fmt.Sprintf("(%s%ssid:%d;rev:1;metadata: rule_name %s;)", optionsBody, e.priority, sid, ruleName)
	compiled := rule[:loc[0]] + newOptions

	e.rules[ruleName] = compiled
	return nil
}

func (e *Entry) validateCustomRuleFormat(rulestring, optionsBody string) error {
	if !e.customBaseRegex().MatchString(rulestring) {
		return rperrors.Format("invalid base format for rule: %s", rulestring)
	}

	stripped := strings.ReplaceAll(optionsBody, " ", "")
	protocolKey := strings.SplitN(stripped, ";", 2)[0]

	fields := strings.Fields(rulestring)
	baseProto := ""
	if len(fields) > 1 {
		baseProto = strings.ToLower(fields[1])
	}

	match := contentField.FindStringSubmatch(optionsBody)
	if match == nil {
		return rperrors.Format("content keyword missing in: %s", optionsBody)
	}

	if protocolKey == "tls.sni" || protocolKey == "http.host" || baseProto == "tls.sni" || baseProto == "http.host" {
		domain := strings.Trim(match[1], `'"`)
		if domain == "" {
			return rperrors.Format("domain is empty in: %s", optionsBody)
		}
		if !isValidDomain(domain) {
			return rperrors.Format("domain contains only TLD: %s", optionsBody)
		}
	}

	if len(fields) < 3 || fields[2] != "$a"+e.Scope.Account+e.Scope.VPC {
		return rperrors.Format("invalid IP-set variable name in rule: %s", rulestring)
	}

	for _, kw := range reservedMetaKeywords {
		if strings.Contains(stripped, kw+":") {
			return rperrors.Format("reserved keyword %q found in rule: %s", kw, rulestring)
		}
	}

	return nil
}
