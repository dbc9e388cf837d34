// Package compiler implements the Intent Compiler: decode an event, load
// and validate a tenant's intent document, synthesize canonical Suricata
// rules for each TGW-attached VPC, and emit one compilation message per
// VPC.
package compiler

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ruleplane/ruleplane/internal/intent"
	"github.com/ruleplane/ruleplane/internal/queue"
	"github.com/ruleplane/ruleplane/internal/rperrors"
	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

// EventSource distinguishes the two EventBridge sources the Compiler
// accepts: S3 object events and EC2 VPC-lifecycle events.
type EventSource int

const (
	SourceS3PutObject EventSource = iota
	SourceS3DeleteObject
	SourceEC2DeleteVpc
)

// Event is the decoded, demultiplexed input to Compile. Decoding the raw
// EventBridge envelope into this shape is the event demux's job; the
// Lambda entrypoint owns that translation.
type Event struct {
	Source  EventSource
	Account string
	Bucket  string // object bucket, for S3 events
	Key     string // object key, for S3 events
	Version string // object version-id (S3) or vpc-id (DeleteVpc)
	VpcID   string // for DeleteVpc
}

// Compiler synthesizes compilation messages from intent documents.
type Compiler struct {
	ec2        *ec2.Client
	s3         *s3.Client
	validator  *intent.Validator
	protocols  *ruleconfig.Protocols
	ruleOrder  string
	skipNotify func(vpc string)
}

// Result is the outcome of compiling one PutObject event.
type Result struct {
	Messages    []queue.Message
	SkippedVPCs []string
}

// New builds a Compiler. skipNotify, if non-nil, is called once per
// TGW-unattached VPC so the caller can log a WARN line to the tenant sink.
func New(ec2Client *ec2.Client, s3Client *s3.Client, validator *intent.Validator, protocols *ruleconfig.Protocols, ruleOrder string, skipNotify func(vpc string)) *Compiler {
	return &Compiler{
		ec2:        ec2Client,
		s3:         s3Client,
		validator:  validator,
		protocols:  protocols,
		ruleOrder:  ruleOrder,
		skipNotify: skipNotify,
	}
}

// Compile dispatches on ev.Source and returns the compilation messages it
// should emit onto the queue.
func (c *Compiler) Compile(ctx context.Context, ev Event) (*Result, error) {
	switch ev.Source {
	case SourceS3PutObject:
		return c.compilePutObject(ctx, ev)
	case SourceS3DeleteObject:
		return &Result{Messages: []queue.Message{c.deleteS3Message(ev)}}, nil
	case SourceEC2DeleteVpc:
		return &Result{Messages: []queue.Message{c.deleteVpcMessage(ev)}}, nil
	default:
		return nil, rperrors.Internal("unrecognized event source")
	}
}

func (c *Compiler) compilePutObject(ctx context.Context, ev Event) (*Result, error) {
	region, err := intent.RegionFromKey(ev.Key)
	if err != nil {
		return nil, err
	}

	body, err := c.getObjectBody(ctx, ev)
	if err != nil {
		return nil, err
	}

	doc, err := c.validator.Parse(body)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	// No partial emission: accumulate every message before returning any
	// of them, so a failure partway through rejects the whole event.
	var messages []queue.Message

	for _, vpcCfg := range doc.Config {
		cidr, err := c.resolveCIDR(ctx, vpcCfg.VPC)
		if err != nil {
			return nil, err
		}

		attached, err := c.isAttachedToTransitGateway(ctx, vpcCfg.VPC)
		if err != nil {
			return nil, err
		}
		if !attached {
			result.SkippedVPCs = append(result.SkippedVPCs, vpcCfg.VPC)
			if c.skipNotify != nil {
				c.skipNotify(vpcCfg.VPC)
			}
			continue
		}

		entry := ruleconfig.NewEntry(vpcCfg.VPC, ev.Account, region, ev.Version, c.protocols, c.ruleOrder)
		for _, block := range vpcCfg.Properties {
			for ruleKey, specs := range block {
				for _, spec := range specs {
					if err := entry.AddRuleEntry(ruleKey, spec); err != nil {
						return nil, err
					}
				}
			}
		}

		messages = append(messages, queue.Message{
			Body: queue.Body{
				VPC:     entry.Scope.VPC,
				Account: entry.Scope.Account,
				Region:  region,
				CIDR:    cidr,
				Rules:   entry.Rules(),
			},
			Event:   queue.EventUpdate,
			Account: ev.Account,
			Region:  region,
			Version: doc.Version,
		})
	}

	result.Messages = messages
	return result, nil
}

func (c *Compiler) getObjectBody(ctx context.Context, ev Event) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(ev.Bucket),
		Key:    aws.String(ev.Key),
	}
	if ev.Version != "" {
		input.VersionId = aws.String(ev.Version)
	}
	resp, err := c.s3.GetObject(ctx, input)
	if err != nil {
		return nil, rperrors.InternalWrap(err, "fetch intent document %s", ev.Key)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rperrors.InternalWrap(err, "read intent document %s", ev.Key)
	}
	return body, nil
}

func (c *Compiler) resolveCIDR(ctx context.Context, vpcID string) (string, error) {
	resp, err := c.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{vpcID}})
	if err != nil {
		return "", rperrors.InternalWrap(err, "describe vpc %s", vpcID)
	}
	if len(resp.Vpcs) == 0 {
		return "", rperrors.Format("vpc %s does not exist", vpcID)
	}
	return aws.ToString(resp.Vpcs[0].CidrBlock), nil
}

func (c *Compiler) isAttachedToTransitGateway(ctx context.Context, vpcID string) (bool, error) {
	var nextToken *string
	for {
		resp, err := c.ec2.DescribeTransitGatewayAttachments(ctx, &ec2.DescribeTransitGatewayAttachmentsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("resource-id"), Values: []string{vpcID}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return false, rperrors.InternalWrap(err, "describe transit gateway attachments for vpc %s", vpcID)
		}
		if len(resp.TransitGatewayAttachments) > 0 {
			return true, nil
		}
		if resp.NextToken == nil {
			return false, nil
		}
		nextToken = resp.NextToken
	}
}

func (c *Compiler) deleteS3Message(ev Event) queue.Message {
	return queue.Message{
		Body:    queue.Body{Account: ev.Account},
		Event:   queue.EventDeleteS3,
		Account: ev.Account,
		Version: "delete",
	}
}

func (c *Compiler) deleteVpcMessage(ev Event) queue.Message {
	return queue.Message{
		// Rule names and IP-set names embed the unprefixed VPC id, so the
		// deletion scope must carry it the same way.
		Body:    queue.Body{Account: ev.Account, VPC: strings.TrimPrefix(ev.VpcID, "vpc-")},
		Event:   queue.EventDeleteVpc,
		Account: ev.Account,
		Version: ev.VpcID,
	}
}
