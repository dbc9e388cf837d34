// Command executelambda is the Reconciler's Lambda entrypoint: it consumes
// compilation messages from the FIFO queue's SQS event source mapping,
// assumes the tenant's cross-account role, and converges the live
// firewall to the message's target state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/ruleplane/ruleplane/internal/awsenv"
	"github.com/ruleplane/ruleplane/internal/customerlog"
	"github.com/ruleplane/ruleplane/internal/queue"
	"github.com/ruleplane/ruleplane/internal/reconciler"
	"github.com/ruleplane/ruleplane/internal/registry"
	"github.com/ruleplane/ruleplane/internal/rperrors"
	"github.com/ruleplane/ruleplane/internal/rpconfig"
	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

var cfg = rpconfig.Load()

// diagLog is process-level operational logging (role assumption failures,
// reconciliation outcome and duration), kept separate from the tenant-facing customerlog.Handler
// channel which carries only the fixed JSON-line contract.
var diagLog = slog.Default()

func handler(ctx context.Context, event events.SQSEvent) error {
	defaultDeny, err := ruleconfig.LoadDefaultDeny(defaultDenyPath())
	if err != nil {
		return rperrors.InternalWrap(err, "load default-deny baseline")
	}

	for _, record := range event.Records {
		start := time.Now()
		msg, err := decodeMessage(record)
		if err != nil {
			return err
		}

		env, err := awsenv.NewCrossAccount(ctx, msg.Region, cfg.XAccountRole)
		if err != nil {
			diagLog.Warn("cross-account role assumption failed", "account", msg.Account, "region", msg.Region, "error", err)
			return err
		}
		logHandler := customerlog.New(env.CloudWatchLogs, cfg.LogGroupName(), time.Now())

		if err := processMessage(ctx, env, logHandler, msg, defaultDeny, firewallAccount(ctx)); err != nil {
			level := customerlog.LevelError
			if rperrors.IsInternal(err) {
				level = customerlog.LevelCritical
			}
			_ = logHandler.Send(ctx, level, msg.Version, rperrors.TenantMessage(err))
			diagLog.Error("reconciliation failed", "account", msg.Account, "event", string(msg.Event), "error", err)
			return err
		}
		_ = logHandler.Send(ctx, customerlog.LevelInfo, msg.Version, fmt.Sprintf("rule change processed for account %s", msg.Account))
		diagLog.Info("reconciliation complete", "account", msg.Account, "event", string(msg.Event), "duration", time.Since(start).String())
	}
	return nil
}

func processMessage(ctx context.Context, env *awsenv.Env, logHandler *customerlog.Handler, msg queue.Message, defaultDeny *ruleconfig.DefaultDeny, fwAccount string) error {
	if msg.Event == queue.EventDeleteAccount {
		for _, region := range cfg.SupportedRegions {
			regional := env.WithRegion(region)
			reg := registry.New(regional.NetworkFirewall)
			rec := reconciler.New(regional.NetworkFirewall, reg, cfg.TokenRetryDelay, cfg.RuleStatusTimeout)
			if err := rec.Reconcile(ctx, msg); err != nil {
				if reconciler.IsResourceNotFound(err) {
					_ = logHandler.Send(ctx, customerlog.LevelWarn, msg.Version, fmt.Sprintf("DeleteAccount - no resources for %s in %s, skipping", msg.Account, region))
					continue
				}
				return err
			}
		}
		return nil
	}

	reg := registry.New(env.NetworkFirewall)
	rec := reconciler.New(env.NetworkFirewall, reg, cfg.TokenRetryDelay, cfg.RuleStatusTimeout)
	if err := rec.Reconcile(ctx, msg); err != nil {
		return err
	}

	fwVPC := strings.TrimPrefix(cfg.VPCID, "vpc-")
	return rec.SyncReservedGroup(ctx, defaultDeny, fwAccount, fwVPC)
}

func decodeMessage(record events.SQSMessage) (queue.Message, error) {
	var body queue.Body
	if err := json.Unmarshal([]byte(record.Body), &body); err != nil {
		return queue.Message{}, rperrors.InternalWrap(err, "decode sqs message body")
	}
	return queue.Message{
		Body:          body,
		Event:         queue.EventKind(attr(record, "Event")),
		Account:       attr(record, "Account"),
		Region:        attr(record, "Region"),
		Version:       attr(record, "Version"),
		LogstreamName: attr(record, "LogstreamName"),
	}, nil
}

func attr(record events.SQSMessage, name string) string {
	if a, ok := record.MessageAttributes[name]; ok && a.StringValue != nil {
		return *a.StringValue
	}
	return ""
}

// firewallAccount extracts the firewall's own account id from the
// invoked-function ARN.
func firewallAccount(ctx context.Context) string {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return ""
	}
	parts := strings.Split(lc.InvokedFunctionArn, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}

func defaultDenyPath() string {
	return "data/defaultdeny.yaml"
}

func main() {
	lambda.Start(handler)
}
