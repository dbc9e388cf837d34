package intent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := LoadValidator(filepath.Join("..", "..", "schema.json"))
	require.NoError(t, err)
	return v
}

func TestRegionFromKey(t *testing.T) {
	region, err := RegionFromKey("eu-west-1-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", region)

	region, err = RegionFromKey("us-east-1-config.yml")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", region)
}

func TestRegionFromKeyRejectsUnknownConvention(t *testing.T) {
	_, err := RegionFromKey("not-a-region-key.yaml")
	assert.Error(t, err)
}

func TestParseValidDocument(t *testing.T) {
	v := testValidator(t)
	doc, err := v.Parse([]byte(`
Version: "1"
Config:
  - VPC: vpc-abcdef123
    Properties:
      - https:
          - example.com
          - .example.net
`))
	require.NoError(t, err)
	require.Equal(t, "1", doc.Version)
	require.Len(t, doc.Config, 1)
	assert.Equal(t, "vpc-abcdef123", doc.Config[0].VPC)
	assert.Equal(t, []string{"example.com", ".example.net"}, doc.Config[0].Properties[0]["https"])
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	v := testValidator(t)
	_, err := v.Parse([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestParseRejectsSchemaViolation(t *testing.T) {
	v := testValidator(t)
	_, err := v.Parse([]byte(`
Version: "1"
Config:
  - VPC: not-a-valid-vpc-id
    Properties: []
`))
	assert.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	v := testValidator(t)
	_, err := v.Parse([]byte(`
Version: "1"
Config: []
Extra: "not allowed"
`))
	assert.Error(t, err)
}

func TestLoadValidatorMissingFile(t *testing.T) {
	_, err := LoadValidator(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadValidatorAbsolutePath(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "schema.json"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	v, err := LoadValidator(path)
	require.NoError(t, err)
	_, err = v.Parse([]byte("Version: \"1\"\nConfig: []\n"))
	require.NoError(t, err)
}
