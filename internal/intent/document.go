// Package intent decodes and validates tenant-authored intent documents:
// the YAML per-VPC allow-list configuration dropped into the object store,
// named "<region>-config.yaml".
package intent

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

// keyPattern matches the object key naming convention: <aws-region>-config.yaml|yml.
var keyPattern = regexp.MustCompile(`^((?:us(?:-gov)?|ap|ca|cn|eu|sa)-(?:central|(?:north|south)?(?:east|west)?)-\d)-config\.ya?ml$`)

// PropertyBlock is a single-key map: protocol-key -> rule specs.
type PropertyBlock map[string][]string

// VPCConfig is one per-VPC entry in the document.
type VPCConfig struct {
	VPC        string          `yaml:"VPC"`
	Properties []PropertyBlock `yaml:"Properties"`
}

// Document is the decoded shape of a tenant's "<region>-config.yaml".
type Document struct {
	Version string      `yaml:"Version"`
	Config  []VPCConfig `yaml:"Config"`
}

// RegionFromKey extracts the region from an object key, enforcing the
// naming convention before any other parsing is attempted.
func RegionFromKey(key string) (string, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", rperrors.Format("object key %q does not match the region-config naming convention", key)
	}
	return m[1], nil
}

// Validator holds the parsed intent-document JSON schema, loaded once at
// process startup and reused for every document.
type Validator struct {
	schema *gojsonschema.Schema
}

// LoadValidator reads and compiles the JSON schema at path.
func LoadValidator(path string) (*Validator, error) {
	loader := gojsonschema.NewReferenceLoader("file://" + path)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, rperrors.InternalWrap(err, "compile intent document schema %s", path)
	}
	return &Validator{schema: schema}, nil
}

// Parse decodes raw YAML bytes, validates the result against the schema,
// and returns the typed Document. Schema validation failures and YAML
// syntax errors both surface as FormatError: a malformed tenant document
// is the tenant's fault, not ours.
func (v *Validator) Parse(raw []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, rperrors.FormatWrap(err, "intent document is not valid YAML")
	}

	// gojsonschema validates JSON-shaped data; round-trip through JSON so
	// YAML's richer type set (e.g. non-string map keys) doesn't trip it up.
	normalized := normalizeForJSON(generic)
	asJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, rperrors.InternalWrap(err, "normalize intent document for schema validation")
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(asJSON))
	if err != nil {
		return nil, rperrors.InternalWrap(err, "run schema validation")
	}
	if !result.Valid() {
		return nil, rperrors.Format("intent document failed schema validation: %s", describeErrors(result))
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, rperrors.FormatWrap(err, "intent document does not match the expected shape")
	}
	return &doc, nil
}

func describeErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, e := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += e.String()
	}
	return msg
}

// normalizeForJSON recursively converts map[string]interface{} trees
// produced by yaml.v3 (which may nest map[any]any for older documents)
// into JSON-marshalable shapes.
func normalizeForJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeForJSON(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeForJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForJSON(val)
		}
		return out
	default:
		return t
	}
}
