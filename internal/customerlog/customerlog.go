// Package customerlog writes tenant-facing log lines to a CloudWatch Logs
// group owned by the tenant account, so tenants can see exactly why their
// intent document was accepted, skipped, or rejected.
package customerlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/ruleplane/ruleplane/internal/rperrors"
)

// Level is the tenant-facing log severity written into each JSON line.
type Level int

const (
	LevelInfo     Level = 0
	LevelWarn     Level = 1
	LevelError    Level = 2
	LevelCritical Level = 3
	LevelDebug    Level = 99
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Handler writes JSON-line log events to one tenant-owned log group and a
// stream named for the moment the Handler was constructed.
type Handler struct {
	logs       *cloudwatchlogs.Client
	logGroup   string
	logStream  string
	streamOpen bool
}

// New builds a Handler bound to logGroup, using a stream name derived from
// now (YYYY/MM/DD/HH/MM/<epoch-ms>).
func New(logs *cloudwatchlogs.Client, logGroup string, now time.Time) *Handler {
	return &Handler{
		logs:      logs,
		logGroup:  logGroup,
		logStream: GenerateLogStreamName(now),
	}
}

// GenerateLogStreamName builds the "YYYY/MM/DD/HH/MM/<epoch-ms>" stream
// name convention the tenant-facing sink uses.
func GenerateLogStreamName(now time.Time) string {
	return fmt.Sprintf("%s/%d", now.Format("2006/01/02/15/04"), now.UnixMilli())
}

type logLine struct {
	Level   string `json:"level"`
	Version string `json:"version"`
	Message string `json:"message"`
}

// Send writes one JSON-line log event at the given level.
func (h *Handler) Send(ctx context.Context, level Level, version, message string) error {
	if err := h.ensureStream(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(logLine{Level: level.String(), Version: version, Message: message})
	if err != nil {
		return rperrors.InternalWrap(err, "marshal tenant log line")
	}

	_, err = h.logs.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(h.logGroup),
		LogStreamName: aws.String(h.logStream),
		LogEvents: []types.InputLogEvent{
			{
				Message:   aws.String(string(body)),
				Timestamp: aws.Int64(time.Now().UnixMilli()),
			},
		},
	})
	if err != nil {
		return rperrors.InternalWrap(err, "put tenant log event")
	}
	return nil
}

func (h *Handler) ensureStream(ctx context.Context) error {
	if h.streamOpen {
		return nil
	}
	_, err := h.logs.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(h.logGroup),
		LogStreamName: aws.String(h.logStream),
	})
	if err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !asResourceAlreadyExists(err, &exists) {
			return rperrors.InternalWrap(err, "create tenant log stream %s", h.logStream)
		}
	}
	h.streamOpen = true
	return nil
}

func asResourceAlreadyExists(err error, target **types.ResourceAlreadyExistsException) bool {
	for err != nil {
		if e, ok := err.(*types.ResourceAlreadyExistsException); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExportToS3 triggers an export of the tenant's log group to an S3
// destination. Not on any event path; an operational escape hatch.
func (h *Handler) ExportToS3(ctx context.Context, destinationBucket, destinationPrefix string, from, to time.Time) error {
	_, err := h.logs.CreateExportTask(ctx, &cloudwatchlogs.CreateExportTaskInput{
		LogGroupName:      aws.String(h.logGroup),
		Destination:       aws.String(destinationBucket),
		DestinationPrefix: aws.String(destinationPrefix),
		From:              aws.Int64(from.UnixMilli()),
		To:                aws.Int64(to.UnixMilli()),
	})
	if err != nil {
		return rperrors.InternalWrap(err, "export log group %s to s3", h.logGroup)
	}
	return nil
}
