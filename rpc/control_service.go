// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package rpc

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"

	"github.com/devicelab/core/control"
	"github.com/devicelab/core/logfan"
	"github.com/devicelab/core/structs"
)

// ControlServer implements the control-plane half of the RPC facade:
// kill-server, heartbeat, get-log, set-log-level.
type ControlServer struct {
	controller *control.Controller
	logfan     *logfan.Manager
	logger     hclog.Logger
}

func NewControlServer(controller *control.Controller, logfanMgr *logfan.Manager, logger hclog.Logger) *ControlServer {
	return &ControlServer{controller: controller, logfan: logfanMgr, logger: logger}
}

func (s *ControlServer) KillServer(ctx context.Context, req *KillServerRequest) (*KillServerResponse, error) {
	res := s.controller.KillServer(ctx, req.ClientID)
	return &KillServerResponse{
		ShuttingDown:            res.ShuttingDown,
		UnfinishedNotAbortedIDs: res.UnfinishedNotAbortedIDs,
		AliveClientIDs:          res.AliveClientIDs,
		PID:                     res.PID,
	}, nil
}

func (s *ControlServer) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	s.controller.Heartbeat(req.ClientID)
	return &HeartbeatResponse{}, nil
}

func (s *ControlServer) SetLogLevel(ctx context.Context, req *SetLogLevelRequest) (*SetLogLevelResponse, error) {
	if err := control.SetLogLevel(s.logger, req.Level); err != nil {
		return nil, statusFromError(err)
	}
	return &SetLogLevelResponse{}, nil
}

// GetLog is a bidi stream: request frames toggle enable/client_id
// filtering; response frames carry filtered record batches, one per
// underlying log record (batching at the transport layer is left to the
// client's own read cadence).
func (s *ControlServer) GetLog(stream grpc.ServerStream) error {
	logStream := control.NewLogStream(s.logfan)
	defer logStream.Close()

	recvDone := make(chan error, 1)
	go func() {
		for {
			var req GetLogRequest
			if err := stream.RecvMsg(&req); err != nil {
				recvDone <- err
				return
			}
			logStream.SetFilter(req.Enable, req.ClientID)
		}
	}()

	for {
		select {
		case err := <-recvDone:
			return err
		case rec, ok := <-logStream.Records():
			if !ok {
				continue
			}
			filtered := logStream.FilterBatch([]*structs.LogRecord{rec})
			if len(filtered) == 0 {
				continue
			}
			if err := stream.SendMsg(&GetLogResponse{Records: filtered}); err != nil {
				return err
			}
		}
	}
}

func controlUnaryHandler(
	fn func(*ControlServer, context.Context, interface{}) (interface{}, error),
	newReq func() interface{},
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*ControlServer)
		if interceptor == nil {
			resp, err := fn(s, ctx, req)
			return resp, statusFromError(err)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/devicelab.ControlService/"}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			resp, err := fn(s, ctx, req)
			return resp, statusFromError(err)
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ControlServiceDesc wires ControlServer into a grpc.Server the same way
// SessionServiceDesc does.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "devicelab.ControlService",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KillServer", Handler: controlUnaryHandler(func(s *ControlServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.KillServer(ctx, req.(*KillServerRequest))
		}, func() interface{} { return new(KillServerRequest) })},
		{MethodName: "Heartbeat", Handler: controlUnaryHandler(func(s *ControlServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Heartbeat(ctx, req.(*HeartbeatRequest))
		}, func() interface{} { return new(HeartbeatRequest) })},
		{MethodName: "SetLogLevel", Handler: controlUnaryHandler(func(s *ControlServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.SetLogLevel(ctx, req.(*SetLogLevelRequest))
		}, func() interface{} { return new(SetLogLevelRequest) })},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetLog",
			Handler:       func(srv interface{}, stream grpc.ServerStream) error { return srv.(*ControlServer).GetLog(stream) },
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "devicelab/control.proto",
}
