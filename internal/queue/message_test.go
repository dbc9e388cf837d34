package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyJSONShape(t *testing.T) {
	body := Body{
		VPC:     "abcdef123",
		Account: "123456789012",
		Region:  "eu-west-1",
		CIDR:    "10.0.0.0/16",
		Rules:   map[string]string{"123456789012-abcdef123-0a1b2c3d4e": "pass tls ..."},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "abcdef123", decoded["VPC"])
	assert.Equal(t, "123456789012", decoded["Account"])
	assert.Contains(t, decoded, "Rules")
}

func TestStringAttr(t *testing.T) {
	a := stringAttr("Update")
	require.NotNil(t, a.StringValue)
	assert.Equal(t, "Update", *a.StringValue)
	require.NotNil(t, a.DataType)
	assert.Equal(t, "String", *a.DataType)
}

func TestEventKindConstants(t *testing.T) {
	assert.Equal(t, EventKind("Update"), EventUpdate)
	assert.Equal(t, EventKind("DeleteVpc"), EventDeleteVpc)
	assert.Equal(t, EventKind("DeleteS3"), EventDeleteS3)
	assert.Equal(t, EventKind("DeleteAccount"), EventDeleteAccount)
}
