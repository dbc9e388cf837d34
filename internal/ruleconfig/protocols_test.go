package ruleconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadProtocols(t *testing.T) {
	path := writeTempFile(t, "protocols.yaml", `
PredfinedRuleProtocols:
  https: tls.sni
  http: http.host
CustomRuleProtocols:
  - tls.sni
  - http.host
  - custom
`)

	p, err := LoadProtocols(path)
	require.NoError(t, err)

	kw, ok := p.SuricataKeyword("https")
	require.True(t, ok)
	require.Equal(t, "tls.sni", kw)
	require.True(t, p.IsPredefined("http"))
	require.False(t, p.IsPredefined("custom"))
	require.ElementsMatch(t, []string{"tls.sni", "http.host", "custom", "https", "http"}, p.AllowedProtocols())
}

func TestLoadDefaultDeny(t *testing.T) {
	path := writeTempFile(t, "defaultdeny.yaml", `
Rules:
  - "drop tcp any any -> any any"
  - "drop udp any any -> any any"
`)

	d, err := LoadDefaultDeny(path)
	require.NoError(t, err)
	require.Len(t, d.Rules, 2)
	require.Equal(t, "drop tcp any any -> any any", d.Rules[0])
}

func TestLoadProtocolsMissingFile(t *testing.T) {
	_, err := LoadProtocols(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
