package ruleconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocols is the decoded shape of data/protocols.yaml: the static table
// mapping a predefined rule_key (e.g. "https") to its Suricata keyword
// (e.g. "tls.sni"), plus the list of protocol keywords a custom rule's base
// line is allowed to use.
type Protocols struct {
	PredfinedRuleProtocols map[string]string `yaml:"PredfinedRuleProtocols"`
	CustomRuleProtocols    []string          `yaml:"CustomRuleProtocols"`
}

// LoadProtocols reads and parses the protocol table from disk once at
// startup; callers hold the result for the lifetime of the process.
func LoadProtocols(path string) (*Protocols, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocols file %s: %w", path, err)
	}
	var p Protocols
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse protocols file %s: %w", path, err)
	}
	return &p, nil
}

// AllowedProtocols returns the union of predefined rule_keys and the custom
// protocol keywords list, used to validate a custom rule's base protocol.
func (p *Protocols) AllowedProtocols() []string {
	out := make([]string, 0, len(p.PredfinedRuleProtocols)+len(p.CustomRuleProtocols))
	for k := range p.PredfinedRuleProtocols {
		out = append(out, k)
	}
	out = append(out, p.CustomRuleProtocols...)
	return out
}

// SuricataKeyword maps a predefined rule_key to its Suricata keyword, e.g.
// "https" -> "tls.sni".
func (p *Protocols) SuricataKeyword(ruleKey string) (string, bool) {
	kw, ok := p.PredfinedRuleProtocols[ruleKey]
	return kw, ok
}

// IsPredefined reports whether ruleKey names a predefined rule_key.
func (p *Protocols) IsPredefined(ruleKey string) bool {
	_, ok := p.PredfinedRuleProtocols[ruleKey]
	return ok
}

// DefaultDeny is the decoded shape of data/defaultdeny.yaml: the baseline
// rule bodies synthesized into the reserved rule group.
type DefaultDeny struct {
	Rules []string `yaml:"Rules"`
}

// LoadDefaultDeny reads and parses the default-deny baseline from disk.
func LoadDefaultDeny(path string) (*DefaultDeny, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read default-deny file %s: %w", path, err)
	}
	var d DefaultDeny
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse default-deny file %s: %w", path, err)
	}
	return &d, nil
}
