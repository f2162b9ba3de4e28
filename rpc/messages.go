// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package rpc is the gRPC facade over the session manager, the control
// plane, and the log pipeline. Messages are plain Go structs carried
// over gRPC using the msgpack codec in rpc/codec, instead of generated
// protobuf types.
package rpc

import (
	"github.com/devicelab/core/session"
	"github.com/devicelab/core/structs"
)

// AddSessionRequest/Response back addSession.
type AddSessionRequest struct {
	Config structs.SessionConfig
}

type AddSessionResponse struct {
	Detail *structs.Session
}

// GetSessionRequest/Response back getSession.
type GetSessionRequest struct {
	SessionID string
	FieldMask []string
}

type GetSessionResponse struct {
	Detail *structs.Session
}

// GetAllSessionsRequest/Response back getAllSessions.
type GetAllSessionsRequest struct {
	FieldMask []string
	Filter    *structs.SessionFilter
}

type GetAllSessionsResponse struct {
	Details []*structs.Session
}

// NotifySessionsRequest/Response back notifySessions.
type NotifySessionsRequest struct {
	SessionIDs   []string
	Notification session.Notification
}

type NotifySessionsResponse struct {
	DeliveredIDs []string
}

// AbortSessionsRequest backs abortSessions.
type AbortSessionsRequest struct {
	SessionIDs []string
}

type AbortSessionsResponse struct{}

// HasUnarchivedSessionsResponse backs hasUnarchivedSessions.
type HasUnarchivedSessionsResponse struct {
	HasUnarchived bool
}

// SubscribeSessionRequest is one frame of the subscribeSession bidi
// stream's request side: the client re-selects which sessions it
// follows.
type SubscribeSessionRequest struct {
	FieldMask []string
	Filter    *structs.SessionFilter
}

// SubscribeSessionResponse is one frame of the server-streamed side.
type SubscribeSessionResponse struct {
	Detail *structs.Session
}

// KillServerRequest/Response back the kill-server operation.
type KillServerRequest struct {
	ClientID string
}

type KillServerResponse struct {
	ShuttingDown            bool
	UnfinishedNotAbortedIDs []string
	AliveClientIDs          []string
	PID                     int
}

// HeartbeatRequest backs the heartbeat operation.
type HeartbeatRequest struct {
	ClientID string
}

type HeartbeatResponse struct{}

// GetLogRequest is one frame of the get-log bidi stream's request side.
type GetLogRequest struct {
	Enable   bool
	ClientID string
}

// GetLogResponse is one frame of the server-streamed side: a batch of
// records already filtered for this stream.
type GetLogResponse struct {
	Records []*structs.LogRecord
}

// SetLogLevelRequest backs the set-log-level operation.
type SetLogLevelRequest struct {
	Level string
}

type SetLogLevelResponse struct{}
