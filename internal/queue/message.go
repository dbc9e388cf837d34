// Package queue defines the compilation-message wire shape and the FIFO
// send path connecting the Intent Compiler to the Reconciler.
package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

// EventKind is an explicit enum carried on every message as an attribute,
// so the Reconciler never has to infer the event from which body fields
// happen to be populated.
type EventKind string

const (
	EventUpdate        EventKind = "Update"
	EventDeleteVpc     EventKind = "DeleteVpc"
	EventDeleteS3      EventKind = "DeleteS3"
	EventDeleteAccount EventKind = "DeleteAccount"
)

// Body is the JSON message body (one per VPC per event).
type Body struct {
	VPC     string            `json:"VPC"`
	Account string            `json:"Account"`
	Region  string            `json:"Region"`
	CIDR    string            `json:"CIDR"`
	Rules   map[string]string `json:"Rules"`
}

// Message is a full compilation message: body plus the attributes used for
// FIFO routing and Reconciler dispatch.
type Message struct {
	Body          Body
	Event         EventKind
	Account       string
	Region        string
	Version       string
	LogstreamName string
}

// Sender sends compilation messages onto the account-partitioned FIFO
// queue.
type Sender struct {
	sqs      *sqs.Client
	queueURL string
}

// NewSender builds a Sender bound to queueURL.
func NewSender(client *sqs.Client, queueURL string) *Sender {
	return &Sender{sqs: client, queueURL: queueURL}
}

// ResolveQueueURL looks up the queue URL for a queue name (the QUEUE_NAME
// environment variable carries a name, not a URL).
func ResolveQueueURL(ctx context.Context, client *sqs.Client, queueName string) (string, error) {
	resp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return "", rperrors.InternalWrap(err, "resolve queue url for %s", queueName)
	}
	return aws.ToString(resp.QueueUrl), nil
}

// Send submits one compilation message, partitioned by account via
// MessageGroupId so all of one account's events are processed in
// submission order.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return rperrors.InternalWrap(err, "marshal compilation message body")
	}

	_, err = s.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(s.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(msg.Account),
		MessageDeduplicationId: aws.String(uuid.NewString()),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Event":         stringAttr(string(msg.Event)),
			"Account":       stringAttr(msg.Account),
			"Region":        stringAttr(msg.Region),
			"Version":       stringAttr(msg.Version),
			"LogstreamName": stringAttr(msg.LogstreamName),
		},
	})
	if err != nil {
		return rperrors.InternalWrap(err, "send compilation message for account %s", msg.Account)
	}
	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
