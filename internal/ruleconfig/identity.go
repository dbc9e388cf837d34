package ruleconfig

import (
	"fmt"
	"regexp"

	"github.com/cespare/xxhash/v2"
)

// ruleNamePattern matches the embedded metadata rule_name stamp. Every
// live rule-string carries exactly one match.
var ruleNamePattern = regexp.MustCompile(`rule_name\s+([0-9]+-[0-9a-zA-Z]+-[0-9a-zA-Z]+)`)

// Scope identifies the tenant namespace a rule or IP-set belongs to: the
// rule_name prefix is "<account>-<vpc>-" and the IP-set name is
// "a<account><vpc>". VPC is empty for account/region-wide scopes.
type Scope struct {
	Account string
	VPC     string
}

// Prefix returns the rule_name prefix for this scope.
func (s Scope) Prefix() string {
	if s.VPC == "" {
		return s.Account + "-"
	}
	return s.Account + "-" + s.VPC + "-"
}

// IPSetPrefix returns the IP-set name prefix for this scope.
func (s Scope) IPSetPrefix() string {
	return "a" + s.Account + s.VPC
}

// hash10 returns the 64-bit non-cryptographic digest of content; hash10Hex
// renders its first 10 hex digits for the rule_name. Re-hashing identical
// content always yields the identical digest, which is what makes
// rule_name content-addressed.
func hash10(content string) uint64 {
	return xxhash.Sum64String(content)
}

// HashContent is the exported form of hash10, for callers outside this
// package that need to stamp a rule_name/sid pair from raw content (the
// reserved default-deny baseline, synthesized by the reconciler).
func HashContent(content string) uint64 {
	return hash10(content)
}

// SidFromDigest is the exported form of sidFromDigest.
func SidFromDigest(digest uint64) uint32 {
	return sidFromDigest(digest)
}

// hash10Hex renders digest as the first 10 hex digits used in a rule_name.
func hash10Hex(digest uint64) string {
	return fmt.Sprintf("%016x", digest)[:10]
}

// RuleName builds the deterministic rule_name "<account>-<vpc>-<hash10>" for
// a rule whose defining content hashes to digest.
func RuleName(account, vpc string, digest uint64) string {
	return fmt.Sprintf("%s-%s-%s", account, vpc, hash10Hex(digest))
}

// sidFromDigest derives a Suricata sid deterministically from the same
// digest used for the rule_name: the decimal form of the digest's low 24
// bits. Pinning sid to the digest keeps two compilations of an unchanged
// intent byte-identical, so reinsertion stays idempotent.
func sidFromDigest(digest uint64) uint32 {
	return uint32(digest & 0xFFFFFF)
}

// ParseRuleName extracts the rule_name metadata stamp from a Suricata rule
// string. Used by the reconciler to recover rule identity from live state.
func ParseRuleName(ruleString string) (string, bool) {
	m := ruleNamePattern.FindStringSubmatch(ruleString)
	if m == nil {
		return "", false
	}
	return m[1], true
}
