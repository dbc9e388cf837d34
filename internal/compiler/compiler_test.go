package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ruleplane/ruleplane/internal/queue"
)

func TestDeleteS3Message(t *testing.T) {
	c := New(nil, nil, nil, nil, "", nil)
	msg := c.deleteS3Message(Event{Account: "123456789012"})
	assert.Equal(t, queue.EventDeleteS3, msg.Event)
	assert.Equal(t, "123456789012", msg.Account)
	assert.Equal(t, "delete", msg.Version)
	assert.Empty(t, msg.Body.Rules)
}

func TestDeleteVpcMessage(t *testing.T) {
	c := New(nil, nil, nil, nil, "", nil)
	msg := c.deleteVpcMessage(Event{Account: "123456789012", VpcID: "vpc-abcdef123"})
	assert.Equal(t, queue.EventDeleteVpc, msg.Event)
	assert.Equal(t, "123456789012", msg.Account)
	assert.Equal(t, "abcdef123", msg.Body.VPC, "deletion scope must carry the unprefixed vpc id rule names embed")
	assert.Equal(t, "vpc-abcdef123", msg.Version)
}

func TestCompileDispatchesDeleteEvents(t *testing.T) {
	c := New(nil, nil, nil, nil, "", nil)

	result, err := c.Compile(nil, Event{Source: SourceS3DeleteObject, Account: "111122223333"})
	assert.NoError(t, err)
	assert.Len(t, result.Messages, 1)
	assert.Equal(t, queue.EventDeleteS3, result.Messages[0].Event)

	result, err = c.Compile(nil, Event{Source: SourceEC2DeleteVpc, Account: "111122223333", VpcID: "vpc-abcdef123"})
	assert.NoError(t, err)
	assert.Len(t, result.Messages, 1)
	assert.Equal(t, queue.EventDeleteVpc, result.Messages[0].Event)
}

func TestCompileRejectsUnrecognizedSource(t *testing.T) {
	c := New(nil, nil, nil, nil, "", nil)
	_, err := c.Compile(nil, Event{Source: EventSource(99)})
	assert.Error(t, err)
}
