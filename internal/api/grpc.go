package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.sentry.v1.SentryEngine"

const defaultListLimit = 50

// SentryEngineServer is the gRPC contract. Requests and responses are Struct messages.
type SentryEngineServer interface {
	DetectOne(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOpenIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListRecentIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AnalyzeIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ComposePostmortem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamEvents(req *structpb.Struct, stream grpc.ServerStream) error
}

// GRPCService adapts the backend to SentryEngineServer.
type GRPCService struct {
	backend   Backend
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewGRPCService constructs the gRPC adapter.
func NewGRPCService(logger *slog.Logger, backend Backend, keepAlive time.Duration) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &GRPCService{backend: backend, logger: logger, keepAlive: keepAlive}
}

// DetectOne evaluates {service, metric}.
func (s *GRPCService) DetectOne(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	service := req.GetFields()["service"].GetStringValue()
	metric := req.GetFields()["metric"].GetStringValue()
	if service == "" || metric == "" {
		return nil, status.Error(codes.InvalidArgument, "service and metric are required")
	}
	inc, err := s.backend.DetectOne(ctx, service, metric)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(map[string]any{"anomalous": inc != nil, "incident": inc})
}

// Refresh sweeps every candidate pair.
func (s *GRPCService) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	report, err := s.backend.Refresh(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(report)
}

// ListOpenIncidents returns {incidents} honouring an optional limit.
func (s *GRPCService) ListOpenIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	incidents, err := s.backend.ListOpen(ctx, Limit(req, defaultListLimit))
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(incidentList(incidents))
}

// ListRecentIncidents returns {incidents} honouring an optional limit.
func (s *GRPCService) ListRecentIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	incidents, err := s.backend.ListRecent(ctx, Limit(req, defaultListLimit))
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(incidentList(incidents))
}

// GetIncident returns one incident by {id}.
func (s *GRPCService) GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := IncidentID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	inc, err := s.backend.GetIncident(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(inc)
}

// ResolveIncident resolves {id}.
func (s *GRPCService) ResolveIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := IncidentID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	inc, err := s.backend.Resolve(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(inc)
}

// AnalyzeIncident returns ranked hypotheses for {id}.
func (s *GRPCService) AnalyzeIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := IncidentID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	analysis, err := s.backend.Analyze(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(analysis)
}

// ComposePostmortem renders artifacts for {id}.
func (s *GRPCService) ComposePostmortem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := IncidentID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	artifacts, err := s.backend.ComposePostmortem(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	return respond(artifacts)
}

func (s *GRPCService) fail(err error) error {
	st := GRPCError(err)
	switch status.Code(st) {
	case codes.Internal, codes.Unavailable:
		s.logger.Error("rpc failed", slog.Any("error", err))
	}
	return st
}

// HealthCheck returns the current health state.
func (s *GRPCService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state, err := s.backend.HealthCheck(ctx)
	if err != nil {
		s.logger.Warn("health check failed", slog.Any("error", err))
	}
	return respond(map[string]any{"status": state})
}

// StreamEvents forwards hub events to the caller. Idle periods produce ping events.
func (s *GRPCService) StreamEvents(_ *structpb.Struct, stream grpc.ServerStream) error {
	sub, err := s.backend.Subscribe()
	if err != nil {
		return s.fail(err)
	}
	defer s.backend.Unsubscribe(sub)

	return pump(stream.Context(), sub, s.keepAlive,
		func(event models.Event) error {
			msg, err := ToStruct(event)
			if err != nil {
				return err
			}
			return stream.SendMsg(msg)
		},
		func() error {
			return stream.SendMsg(&structpb.Struct{Fields: map[string]*structpb.Value{
				"type": structpb.NewStringValue(PingEvent),
			}})
		},
	)
}

func respond(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func incidentList(incidents []models.Incident) map[string]any {
	if incidents == nil {
		incidents = []models.Incident{}
	}
	return map[string]any{"incidents": incidents}
}

func unaryMethod(name string, call func(SentryEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SentryEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SentryEngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SentryEngineServer).StreamEvents(in, stream)
}

// SentryEngineServiceDesc describes the service for grpc.Server registration and clients.
var SentryEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SentryEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("DetectOne", SentryEngineServer.DetectOne),
		unaryMethod("Refresh", SentryEngineServer.Refresh),
		unaryMethod("ListOpenIncidents", SentryEngineServer.ListOpenIncidents),
		unaryMethod("ListRecentIncidents", SentryEngineServer.ListRecentIncidents),
		unaryMethod("GetIncident", SentryEngineServer.GetIncident),
		unaryMethod("ResolveIncident", SentryEngineServer.ResolveIncident),
		unaryMethod("AnalyzeIncident", SentryEngineServer.AnalyzeIncident),
		unaryMethod("ComposePostmortem", SentryEngineServer.ComposePostmortem),
		unaryMethod("HealthCheck", SentryEngineServer.HealthCheck),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "mirador/sentry/v1/sentry.proto",
}

// RegisterSentryEngineServer registers srv on s.
func RegisterSentryEngineServer(s grpc.ServiceRegistrar, srv SentryEngineServer) {
	s.RegisterService(&SentryEngineServiceDesc, srv)
}
