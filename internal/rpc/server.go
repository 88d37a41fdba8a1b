package rpc

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/464xlat/clatd-coordinator/coordinator"
)

// ServiceName is the gRPC service name exposed on the control surface.
const ServiceName = "clatd.coordinator.ControlService"

// Server implements the control surface on top of a *coordinator.Coordinator.
type Server struct {
	coord *coordinator.Coordinator
	log   *zap.SugaredLogger
}

// NewServer builds a control-surface server.
func NewServer(coord *coordinator.Coordinator, log *zap.SugaredLogger) *Server {
	return &Server{coord: coord, log: log}
}

// Register attaches the control surface to srv.
func (s *Server) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

func (s *Server) start(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	pfx, err := parsePrefix(req.NAT64Prefix)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("rejecting start request: bad nat64 prefix", "prefix", req.NAT64Prefix, "error", err)
		}
		return nil, status.Errorf(codes.InvalidArgument, "parsing nat64 prefix: %v", err)
	}

	v6, err := s.coord.Start(ctx, req.Iface, req.NetID, pfx)
	if err != nil {
		if s.log != nil {
			s.log.Errorw("start request failed", "iface", req.Iface, "net_id", req.NetID, "error", err)
		}
		return nil, status.Errorf(codes.Internal, "starting clat: %v", err)
	}
	if s.log != nil {
		s.log.Infow("start request served", "iface", req.Iface, "v6", v6)
	}
	return &StartResponse{V6: v6.String()}, nil
}

func (s *Server) stop(ctx context.Context, _ *StopRequest) (*StopResponse, error) {
	if err := s.coord.Stop(ctx); err != nil {
		if s.log != nil {
			s.log.Errorw("stop request failed", "error", err)
		}
		return nil, status.Errorf(codes.Internal, "stopping clat: %v", err)
	}
	if s.log != nil {
		s.log.Infow("stop request served")
	}
	return &StopResponse{}, nil
}

func (s *Server) dump(_ context.Context, _ *DumpRequest) (*DumpResponse, error) {
	var buf bytes.Buffer
	if err := s.coord.Dump(&buf); err != nil {
		return nil, status.Errorf(codes.Internal, "dumping: %v", err)
	}
	return &DumpResponse{Text: buf.String()}, nil
}

func (s *Server) getTracker(_ context.Context, _ *GetTrackerRequest) (*GetTrackerResponse, error) {
	tr, running := s.coord.GetTracker()
	return &GetTrackerResponse{
		Running:       running,
		UplinkIface:   tr.UplinkIface,
		UplinkIfindex: tr.UplinkIfindex,
		V4Iface:       tr.V4Iface,
		V4Ifindex:     tr.V4Ifindex,
		V4:            tr.V4.String(),
		V6:            tr.V6.String(),
		Pfx96:         tr.Pfx96.String(),
		DaemonPID:     tr.DaemonPID,
		Cookie:        tr.Cookie,
		MTU:           tr.MTU,
	}, nil
}

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StartRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).start(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Start", ServiceName)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).start(ctx, req.(*StartRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StopRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).stop(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Stop", ServiceName)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).stop(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func dumpHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(DumpRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).dump(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Dump", ServiceName)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).dump(ctx, req.(*DumpRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getTrackerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetTrackerRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).getTracker(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/GetTracker", ServiceName)}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).getTracker(ctx, req.(*GetTrackerRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: startHandler},
		{MethodName: "Stop", Handler: stopHandler},
		{MethodName: "Dump", Handler: dumpHandler},
		{MethodName: "GetTracker", Handler: getTrackerHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/server.go",
}
