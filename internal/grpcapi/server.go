package grpcapi

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Argus/internal/argus/relay"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/auth"
)

const (
	ServiceName = "argus.v1.Monitor"
	WatchMethod = "/argus.v1.Monitor/Watch"

	// StatusHeader carries the exam status at subscription time.
	StatusHeader = "x-argus-exam-status"
)

// MonitorServer streams relay alerts for one exam. Requests are a
// StringValue holding the exam id; each response is a Struct with the alert
// fields.
type MonitorServer interface {
	Watch(*wrapperspb.StringValue, grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "argus/v1/monitor.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MonitorServer).Watch(in, stream)
}

type Dependencies struct {
	Logger      *log.Logger
	Addr        string
	ExamService *service.ExamService
	Relay       *relay.Relay
	Validator   *auth.Validator
}

type Server struct {
	grpcServer  *grpc.Server
	logger      *log.Logger
	addr        string
	examService *service.ExamService
	relay       *relay.Relay
	validator   *auth.Validator
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		logger:      logger,
		addr:        d.Addr,
		examService: d.ExamService,
		relay:       d.Relay,
		validator:   d.Validator,
	}
	s.grpcServer = grpc.NewServer(grpc.StreamInterceptor(s.logStream))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Shutdown drains streams gracefully until ctx expires, then forces them
// closed.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

func (s *Server) logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now().UTC()
	err := handler(srv, ss)
	s.logger.Printf("grpc %s dur=%s code=%s", info.FullMethod, time.Since(start), status.Code(err))
	return err
}

func (s *Server) Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ctx := stream.Context()

	caller, err := s.authenticate(ctx)
	if err != nil {
		return err
	}
	examID := strings.TrimSpace(req.GetValue())
	if examID == "" {
		return status.Error(codes.InvalidArgument, "exam id is required")
	}

	sub := s.relay.Subscribe(examID)
	defer s.relay.Unsubscribe(sub)

	exam, err := s.examService.Get(ctx, caller, examID)
	if err != nil {
		return toStatus(err)
	}
	// Headers go out only once the subscription is live.
	if err := stream.SendHeader(metadata.Pairs(StatusHeader, string(exam.Status))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, "alert relay closed")
			}
			msg, err := alertToStruct(a)
			if err != nil {
				return status.Errorf(codes.Internal, "encode alert: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) authenticate(ctx context.Context) (types.Caller, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	for _, v := range md.Get("authorization") {
		if t, ok := auth.BearerToken(v); ok {
			token = t
			break
		}
	}
	if token == "" {
		return types.Caller{}, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	caller, err := s.validator.Validate(token)
	if err != nil {
		return types.Caller{}, status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	if !caller.IsAdmin() {
		return types.Caller{}, status.Error(codes.PermissionDenied, "admin role required")
	}
	return caller, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidExamID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "unexpected server error")
	}
}
