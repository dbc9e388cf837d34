// Command collectlambda is the Intent Compiler's Lambda entrypoint: it
// demultiplexes EventBridge envelopes for S3 object events and EC2
// DeleteVpc events, assumes the tenant's cross-account role, compiles the
// intent, and sends one message per VPC onto the FIFO queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	lambdacontext "github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/ruleplane/ruleplane/internal/awsenv"
	"github.com/ruleplane/ruleplane/internal/compiler"
	"github.com/ruleplane/ruleplane/internal/customerlog"
	"github.com/ruleplane/ruleplane/internal/intent"
	"github.com/ruleplane/ruleplane/internal/queue"
	"github.com/ruleplane/ruleplane/internal/rperrors"
	"github.com/ruleplane/ruleplane/internal/rpconfig"
	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

var cfg = rpconfig.Load()

// diagLog is process-level operational logging (cold start, role
// assumption failures, invocation outcome) -
// distinct from the tenant-facing customerlog.Handler channel, which
// carries only the fixed {"level","version","message"} line shape.
var diagLog = slog.Default()

// coldStart marks when this execution environment was initialized, so the
// first invocation can log its own cold-start latency.
var coldStart = time.Now()

type ec2DeleteVpcDetail struct {
	RequestParameters struct {
		VpcID string `json:"vpcId"`
	} `json:"requestParameters"`
}

type s3EventDetail struct {
	Reason string `json:"reason"`
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key       string `json:"key"`
		VersionID string `json:"version-id"`
	} `json:"object"`
}

func handler(ctx context.Context, raw events.CloudWatchEvent) error {
	start := time.Now()
	lc, _ := lambdacontext.FromContext(ctx)
	if !coldStart.IsZero() {
		diagLog.Info("cold start", "init_to_first_invoke", start.Sub(coldStart).String())
		coldStart = time.Time{}
	}

	account := raw.AccountID
	env, err := awsenv.NewCrossAccount(ctx, cfg.LambdaRegion, cfg.XAccountRole)
	if err != nil {
		diagLog.Warn("cross-account role assumption failed", "account", account, "error", err)
		return err
	}

	logHandler := customerlog.New(env.CloudWatchLogs, cfg.LogGroupName(), time.Now())

	var ev compiler.Event
	switch raw.Source {
	case "aws.ec2":
		var detail ec2DeleteVpcDetail
		if err := json.Unmarshal(raw.Detail, &detail); err != nil {
			return logAndReraise(ctx, logHandler, rperrors.FormatWrap(err, "decode ec2 event detail"))
		}
		ev = compiler.Event{
			Source:  compiler.SourceEC2DeleteVpc,
			Account: account,
			VpcID:   detail.RequestParameters.VpcID,
			Version: detail.RequestParameters.VpcID,
		}
	case "aws.s3":
		var detail s3EventDetail
		if err := json.Unmarshal(raw.Detail, &detail); err != nil {
			return logAndReraise(ctx, logHandler, rperrors.FormatWrap(err, "decode s3 event detail"))
		}
		switch detail.Reason {
		case "PutObject":
			ev = compiler.Event{
				Source:  compiler.SourceS3PutObject,
				Account: account,
				Bucket:  detail.Bucket.Name,
				Key:     detail.Object.Key,
				Version: detail.Object.VersionID,
			}
		case "DeleteObject":
			ev = compiler.Event{Source: compiler.SourceS3DeleteObject, Account: account}
		default:
			return logAndReraise(ctx, logHandler, rperrors.Format("unsupported s3 event reason %q", detail.Reason))
		}
	default:
		return logAndReraise(ctx, logHandler, rperrors.Format("unsupported event source %q", raw.Source))
	}

	protocols, err := ruleconfig.LoadProtocols("data/protocols.yaml")
	if err != nil {
		return logAndReraise(ctx, logHandler, rperrors.InternalWrap(err, "load protocol table"))
	}
	validator, err := intent.LoadValidator("schema.json")
	if err != nil {
		return logAndReraise(ctx, logHandler, rperrors.InternalWrap(err, "load intent document schema"))
	}

	skipNotify := func(vpc string) {
		_ = logHandler.Send(ctx, customerlog.LevelWarn, ev.Version, fmt.Sprintf("vpc %s is not attached to a transit gateway, skipping", vpc))
	}

	c := compiler.New(env.EC2, env.S3, validator, protocols, cfg.RuleOrder, skipNotify)
	result, err := c.Compile(ctx, ev)
	if err != nil {
		return logAndReraise(ctx, logHandler, err)
	}

	queueURL, err := queue.ResolveQueueURL(ctx, env.SQS, cfg.QueueName)
	if err != nil {
		return logAndReraise(ctx, logHandler, err)
	}
	sender := queue.NewSender(env.SQS, queueURL)
	for _, msg := range result.Messages {
		if msg.Region == "" {
			// Delete events carry no object key to derive a region from.
			msg.Region = cfg.LambdaRegion
		}
		msg.LogstreamName = customerlog.GenerateLogStreamName(time.Now())
		if err := sender.Send(ctx, msg); err != nil {
			return logAndReraise(ctx, logHandler, err)
		}
	}

	_ = logHandler.Send(ctx, customerlog.LevelInfo, "", fmt.Sprintf("compiled %d message(s) for %s (function %s)", len(result.Messages), account, functionName(lc)))
	diagLog.Info("invocation complete", "account", account, "messages", len(result.Messages), "skipped_vpcs", len(result.SkippedVPCs), "duration", time.Since(start).String())
	return nil
}

func functionName(lc *lambdacontext.LambdaContext) string {
	if lc == nil {
		return ""
	}
	return lc.InvokedFunctionArn
}

func logAndReraise(ctx context.Context, h *customerlog.Handler, err error) error {
	level := customerlog.LevelError
	if rperrors.IsInternal(err) {
		level = customerlog.LevelCritical
	}
	_ = h.Send(ctx, level, "", rperrors.TenantMessage(err))
	return err
}

func main() {
	lambda.Start(handler)
}
