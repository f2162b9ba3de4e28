// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/devicelab/core/session"
)

// SessionServer implements the session half of the RPC facade (spec
// §4.3). It is a thin adapter: all the real logic lives in
// *session.Manager.
type SessionServer struct {
	manager *session.Manager
}

func NewSessionServer(manager *session.Manager) *SessionServer {
	return &SessionServer{manager: manager}
}

func (s *SessionServer) AddSession(ctx context.Context, req *AddSessionRequest) (*AddSessionResponse, error) {
	h, err := s.manager.AddSession(ctx, req.Config)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &AddSessionResponse{Detail: h.Detail}, nil
}

func (s *SessionServer) GetSession(ctx context.Context, req *GetSessionRequest) (*GetSessionResponse, error) {
	detail, err := s.manager.GetSession(req.SessionID, maskFromPaths(req.FieldMask))
	if err != nil {
		return nil, statusFromError(err)
	}
	return &GetSessionResponse{Detail: detail}, nil
}

func (s *SessionServer) GetAllSessions(ctx context.Context, req *GetAllSessionsRequest) (*GetAllSessionsResponse, error) {
	details := s.manager.GetAllSessions(maskFromPaths(req.FieldMask), req.Filter)
	return &GetAllSessionsResponse{Details: details}, nil
}

func (s *SessionServer) NotifySessions(ctx context.Context, req *NotifySessionsRequest) (*NotifySessionsResponse, error) {
	delivered := s.manager.NotifySessions(req.SessionIDs, req.Notification)
	return &NotifySessionsResponse{DeliveredIDs: delivered}, nil
}

func (s *SessionServer) AbortSessions(ctx context.Context, req *AbortSessionsRequest) (*AbortSessionsResponse, error) {
	s.manager.AbortSessions(req.SessionIDs)
	return &AbortSessionsResponse{}, nil
}

func (s *SessionServer) HasUnarchivedSessions(ctx context.Context, req *struct{}) (*HasUnarchivedSessionsResponse, error) {
	return &HasUnarchivedSessionsResponse{HasUnarchived: s.manager.HasUnarchivedSessions()}, nil
}

// SubscribeSession is a bidi stream: the client sends re-selection
// frames, the server streams matching session updates. Dispatch is
// serial per stream but runs concurrently across streams.
func (s *SessionServer) SubscribeSession(stream grpc.ServerStream) error {
	subCh := make(chan *session.Subscription, 1)
	recvDone := make(chan error, 1)

	go func() {
		var sub *session.Subscription
		for {
			var req SubscribeSessionRequest
			if err := stream.RecvMsg(&req); err != nil {
				recvDone <- err
				return
			}
			mask := maskFromPaths(req.FieldMask)
			if sub == nil {
				sub = s.manager.Subscribe(mask, req.Filter)
				subCh <- sub
			} else {
				s.manager.UpdateFilter(sub, mask, req.Filter)
			}
		}
	}()

	var sub *session.Subscription
	defer func() {
		if sub != nil {
			s.manager.Unsubscribe(sub)
		}
	}()

	select {
	case sub = <-subCh:
	case err := <-recvDone:
		return err
	}

	for {
		select {
		case update, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&SubscribeSessionResponse{Detail: update}); err != nil {
				return err
			}
		case err := <-recvDone:
			return err
		}
	}
}

func maskFromPaths(paths []string) *session.FieldMask {
	if paths == nil {
		return nil
	}
	return session.NewFieldMask(paths...)
}

// SessionServiceDesc wires SessionServer into a grpc.Server without any
// protoc-generated stub, dispatching each method by decoding into the
// matching request struct.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "devicelab.SessionService",
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddSession", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.AddSession(ctx, req.(*AddSessionRequest))
		}, func() interface{} { return new(AddSessionRequest) })},
		{MethodName: "GetSession", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetSession(ctx, req.(*GetSessionRequest))
		}, func() interface{} { return new(GetSessionRequest) })},
		{MethodName: "GetAllSessions", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetAllSessions(ctx, req.(*GetAllSessionsRequest))
		}, func() interface{} { return new(GetAllSessionsRequest) })},
		{MethodName: "NotifySessions", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.NotifySessions(ctx, req.(*NotifySessionsRequest))
		}, func() interface{} { return new(NotifySessionsRequest) })},
		{MethodName: "AbortSessions", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.AbortSessions(ctx, req.(*AbortSessionsRequest))
		}, func() interface{} { return new(AbortSessionsRequest) })},
		{MethodName: "HasUnarchivedSessions", Handler: sessionUnaryHandler(func(s *SessionServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.HasUnarchivedSessions(ctx, req.(*struct{}))
		}, func() interface{} { return new(struct{}) })},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeSession",
			Handler:       func(srv interface{}, stream grpc.ServerStream) error { return srv.(*SessionServer).SubscribeSession(stream) },
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "devicelab/session.proto",
}

// sessionUnaryHandler builds a grpc.MethodDesc handler that decodes into
// a fresh request value of the shape newReq produces, then calls fn.
func sessionUnaryHandler(
	fn func(*SessionServer, context.Context, interface{}) (interface{}, error),
	newReq func() interface{},
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*SessionServer)
		if interceptor == nil {
			resp, err := fn(s, ctx, req)
			return resp, statusFromError(err)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/devicelab.SessionService/"}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			resp, err := fn(s, ctx, req)
			return resp, statusFromError(err)
		}
		return interceptor(ctx, req, info, handler)
	}
}
