package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentry/internal/hub"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/services"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// Backend is the service surface both transports expose.
type Backend interface {
	DetectOne(ctx context.Context, service, metric string) (*models.Incident, error)
	Refresh(ctx context.Context) (services.RefreshReport, error)
	ListOpen(ctx context.Context, limit int) ([]models.Incident, error)
	ListRecent(ctx context.Context, limit int) ([]models.Incident, error)
	GetIncident(ctx context.Context, id int64) (models.Incident, error)
	Resolve(ctx context.Context, id int64) (models.Incident, error)
	Analyze(ctx context.Context, id int64) (models.Analysis, error)
	ComposePostmortem(ctx context.Context, id int64) (models.Artifacts, error)
	Timeline(ctx context.Context, id int64) (models.IncidentTimeline, error)
	IngestMetrics(ctx context.Context, points []models.MetricPoint) (services.IngestReport, error)
	IngestLogs(ctx context.Context, entries []models.LogEntry) (services.IngestReport, error)
	IngestLogFile(ctx context.Context, r io.Reader) (services.IngestReport, error)
	ServiceSummaries(ctx context.Context) ([]models.ServiceSummary, error)
	Subscribe() (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
	HealthCheck(ctx context.Context) (string, error)
}

// ToStruct converts any JSON-encodable value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// IncidentID reads a positive integer "id" field.
func IncidentID(s *structpb.Struct) (int64, error) {
	v, ok := s.GetFields()["id"]
	if !ok {
		return 0, fmt.Errorf("id is required")
	}
	var id float64
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		id = kind.NumberValue
	case *structpb.Value_StringValue:
		parsed, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("id must be an integer")
		}
		id = float64(parsed)
	default:
		return 0, fmt.Errorf("id must be an integer")
	}
	if id <= 0 || id != math.Trunc(id) {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return int64(id), nil
}

// Limit reads an optional non-negative "limit" field, falling back to def.
func Limit(s *structpb.Struct, def int) int {
	v, ok := s.GetFields()["limit"]
	if !ok {
		return def
	}
	n := int(v.GetNumberValue())
	if n <= 0 {
		return def
	}
	return n
}

// GRPCError maps an application error onto a gRPC status. Only not_found and
// invalid errors carry their message to the caller.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, context.Canceled.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, context.DeadlineExceeded.Error())
	}
	switch utils.KindOf(err) {
	case utils.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case utils.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case utils.KindUnavailable:
		return status.Error(codes.Unavailable, "service unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// HTTPStatus maps an application error onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch utils.KindOf(err) {
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindInvalid:
		return http.StatusBadRequest
	case utils.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
