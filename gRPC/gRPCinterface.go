package proto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"LaneDetServer/engine"
	iface "LaneDetServer/interface"
	"LaneDetServer/lane"
	"LaneDetServer/logger"
	"LaneDetServer/monitor"
	"LaneDetServer/session"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type JobPackage struct {
	worker iface.Backend
	image  []byte
	Result chan jobResult
}

type jobResult struct {
	Data iface.RetData
	Err  error
}

// Server implements LaneServiceServer on top of a session registry. Detect
// jobs are decoded and run by a fixed pool of workers.
type Server struct {
	Sessions *session.Registry
	Defaults iface.EngineConfig

	JobQueue  chan JobPackage
	closing   chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func NewServer(reg *session.Registry, defaults iface.EngineConfig, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Server{
		Sessions: reg,
		Defaults: defaults,
		JobQueue: make(chan JobPackage, queueSize),
		closing:  make(chan struct{}),
		log:      logger.Named("grpc"),
	}
}

// Done is closed once a Shutdown request has been accepted.
func (s *Server) Done() <-chan struct{} {
	return s.closing
}

func (s *Server) StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go s.runWorker(i)
	}
}

func (s *Server) runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			time.Sleep(1 * time.Second)
			go s.runWorker(workerID)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.log.Info("worker created", zap.Int("worker", workerID))
	for {
		select {
		case <-s.closing:
			s.log.Info("worker stopped", zap.Int("worker", workerID))
			return
		case job := <-s.JobQueue:
			job.Result <- s.process(workerID, job)
		}
	}
}

func (s *Server) process(workerID int, job JobPackage) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panic", zap.Int("worker", workerID), zap.Any("panic", r))
			res = jobResult{Err: fmt.Errorf("worker %d panic: %v", workerID, r)}
		}
	}()
	img, err := engine.DecodeGray(job.image)
	if err != nil {
		monitor.ObserveError()
		return jobResult{Err: err}
	}
	return jobResult{Data: job.worker.Detect(img)}
}

// submit queues one frame and waits for its result.
func (s *Server) submit(ctx context.Context, b iface.Backend, image []byte) (*structpb.Struct, error) {
	job := JobPackage{worker: b, image: image, Result: make(chan jobResult, 1)}
	select {
	case s.JobQueue <- job:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-s.closing:
		return nil, status.Error(codes.Unavailable, "server is shutting down")
	}

	var res jobResult
	select {
	case res = <-job.Result:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-s.closing:
		// workers may exit with this job still queued
		return nil, status.Error(codes.Unavailable, "server is shutting down")
	}
	if res.Err != nil {
		return nil, toStatus(res.Err)
	}
	if !res.Data.Success {
		err, ok := res.Data.Data.(error)
		if !ok {
			err = fmt.Errorf("detect failed: %v", res.Data.Data)
		}
		return nil, toStatus(err)
	}
	return toStruct(res.Data.Data)
}

func (s *Server) Open(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	open, err := session.DecodeOpenRequest(raw, s.Defaults)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.Sessions.Open(open.Engine(), open.Description)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(id), nil
}

func (s *Server) Detect(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	b, err := s.backendFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, b, req.GetValue())
}

// Stream runs every received frame through the session named in the
// metadata and sends one result per frame, in order.
func (s *Server) Stream(stream LaneService_StreamServer) error {
	b, err := s.backendFromContext(stream.Context())
	if err != nil {
		return err
	}
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err := s.submit(stream.Context(), b, in.GetValue())
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func (s *Server) Reset(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	b, err := s.Sessions.Get(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	b.Reset()
	return &emptypb.Empty{}, nil
}

func (s *Server) Close(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Sessions.Close(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Check(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	info, err := s.Sessions.Info(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(info)
}

func (s *Server) CheckAll(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"sessions": s.Sessions.List()})
}

func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	s.log.Warn("shutdown requested")
	s.closeOnce.Do(func() { close(s.closing) })
	return &emptypb.Empty{}, nil
}

func (s *Server) backendFromContext(ctx context.Context) (iface.Backend, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(SessionHeader)
	if len(ids) == 0 || ids[0] == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s metadata", SessionHeader)
	}
	b, err := s.Sessions.Get(ids[0])
	if err != nil {
		return nil, toStatus(err)
	}
	return b, nil
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, session.ErrLimit):
		code = codes.ResourceExhausted
	case errors.Is(err, engine.ErrBusy):
		code = codes.Unavailable
	case errors.Is(err, engine.ErrNotLoaded), errors.Is(err, engine.ErrNotRegistered):
		code = codes.FailedPrecondition
	case errors.Is(err, engine.ErrBadImage), errors.Is(err, lane.ErrEmptyFrame):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// toStruct converts any JSON-encodable value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func countRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.GRPCTotal.Inc()
	return handler(ctx, req)
}

func countStreams(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	monitor.GRPCTotal.Inc()
	return handler(srv, ss)
}

// StartGRPCServer listens on port (0 picks a free one) and serves srv in the
// background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	s := grpc.NewServer(
		grpc.UnaryInterceptor(countRequests),
		grpc.StreamInterceptor(countStreams),
	)
	RegisterLaneServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, lis.Addr(), nil
}
