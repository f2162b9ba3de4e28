// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package control implements the control-plane operations: kill-server
// gating, heartbeat-backed alive-client tracking, the get-log bidi
// stream, and set-log-level.
package control

import (
	"context"
	"os"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/logfan"
	"github.com/devicelab/core/session"
	"github.com/devicelab/core/structs"
)

// aliveClientTTL is the heartbeat cache TTL: a client's entry in the
// alive-clients cache is refreshed on every heartbeat and expires after
// this long without one.
const aliveClientTTL = time.Minute

// shutdownGrace is the window between a soft shutdown signal and a
// forced one.
const shutdownGrace = 3 * time.Second

// KillServerResult is returned whether or not the shutdown actually
// proceeds; the caller always learns the two blocking lists and the
// server PID.
type KillServerResult struct {
	ShuttingDown            bool
	UnfinishedNotAbortedIDs []string
	AliveClientIDs          []string
	PID                     int
}

// Controller owns the alive-clients cache and the shutdown decision.
type Controller struct {
	sessions *session.Manager
	logger   hclog.Logger

	alive *lru.LRU[string, struct{}]

	onEviction func(clientID string)
	shutdown   func(ctx context.Context)
}

func New(sessions *session.Manager, shutdown func(ctx context.Context), logger hclog.Logger) *Controller {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("control")

	c := &Controller{sessions: sessions, logger: logger, shutdown: shutdown}
	c.alive = lru.NewLRU[string, struct{}](0, func(key string, _ struct{}) {
		c.logger.Info("alive-client cache entry evicted", "client_id", key)
	}, aliveClientTTL)
	return c
}

// Heartbeat refreshes clientID's entry in the alive-clients cache.
func (c *Controller) Heartbeat(clientID string) {
	c.alive.Add(clientID, struct{}{})
}

// aliveClientIDs snapshots the cache's current keys.
func (c *Controller) aliveClientIDs() []string {
	return c.alive.Keys()
}

// KillServer performs the kill-server sequence:
//  1. abort all unfinished sessions whose client_id matches clientID (or
//     all unfinished sessions if clientID is empty);
//  2. query again for unfinished-and-not-aborted sessions;
//  3. remove the caller from the alive-clients set and read the
//     remainder;
//  4. if both lists are empty, shut the server down (soft, then forced
//     after shutdownGrace); otherwise report the two lists.
func (c *Controller) KillServer(ctx context.Context, clientID string) KillServerResult {
	filter := &structs.SessionFilter{StatusRegex: "SUBMITTED|RUNNING"}
	if clientID != "" {
		filter.ClientIDInclude = clientID
	}

	unfinished := c.sessions.GetAllSessions(nil, filter)
	ids := make([]string, 0, len(unfinished))
	for _, s := range unfinished {
		ids = append(ids, s.SessionID)
	}
	c.sessions.AbortSessions(ids)

	stillRunning := c.sessions.GetAllSessions(nil, &structs.SessionFilter{StatusRegex: "SUBMITTED|RUNNING"})
	remainingIDs := make([]string, 0, len(stillRunning))
	for _, s := range stillRunning {
		if !s.AbortedFlag {
			remainingIDs = append(remainingIDs, s.SessionID)
		}
	}

	c.alive.Remove(clientID)
	remainingClients := c.aliveClientIDs()

	result := KillServerResult{
		UnfinishedNotAbortedIDs: remainingIDs,
		AliveClientIDs:          remainingClients,
		PID:                     os.Getpid(),
	}

	if len(remainingIDs) > 0 || len(remainingClients) > 0 {
		return result
	}

	result.ShuttingDown = true
	go c.runShutdown(ctx)
	return result
}

func (c *Controller) runShutdown(ctx context.Context) {
	softCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	c.shutdown(softCtx)

	<-softCtx.Done()
	c.logger.Warn("forcing shutdown after grace period")
	c.shutdown(context.Background())
}

// SetLogLevel parses a severity name case-insensitively and applies it to
// the process-wide logger.
func SetLogLevel(logger hclog.Logger, name string) error {
	level := hclog.LevelFromString(name)
	if level == hclog.NoLevel {
		return corerr.New(corerr.InvalidArgument, "unknown log level: "+name)
	}
	logger.SetLevel(level)
	return nil
}

// LogStream is one get-log bidi subscriber's filter state.
type LogStream struct {
	enabled  bool
	clientID string

	consumer *logfan.Consumer
	manager  *logfan.Manager
}

// NewLogStream creates a not-yet-enabled stream bound to manager.
func NewLogStream(manager *logfan.Manager) *LogStream {
	return &LogStream{manager: manager}
}

// SetFilter implements the request-stream side of get-log: "{enable,
// client_id?}" records.
func (s *LogStream) SetFilter(enable bool, clientID string) {
	if enable && !s.enabled {
		s.consumer = s.manager.AddConsumer(256)
	}
	if !enable && s.enabled {
		s.manager.RemoveConsumer(s.consumer)
		s.consumer = nil
	}
	s.enabled = enable
	s.clientID = clientID
}

// Close unsubscribes the stream's consumer, if any.
func (s *LogStream) Close() {
	if s.consumer != nil {
		s.manager.RemoveConsumer(s.consumer)
		s.consumer = nil
	}
	s.enabled = false
}

// Records returns the stream's current consumer channel, or nil when the
// stream isn't enabled (a nil channel blocks forever in a select, which
// is exactly "no records until enabled").
func (s *LogStream) Records() <-chan *structs.LogRecord {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Records
}

// FilterBatch drops records whose client_id field is present and does
// not match the stream's filter; records without client_id pass
// unconditionally. It walks the batch twice to avoid allocation when all
// or none are accepted.
func (s *LogStream) FilterBatch(batch []*structs.LogRecord) []*structs.LogRecord {
	allPass := true
	nonePass := true
	for _, r := range batch {
		if r.MatchesClient(s.clientID) {
			nonePass = false
		} else {
			allPass = false
		}
	}
	if allPass {
		return batch
	}
	if nonePass {
		return nil
	}

	out := make([]*structs.LogRecord, 0, len(batch))
	for _, r := range batch {
		if r.MatchesClient(s.clientID) {
			out = append(out, r)
		}
	}
	return out
}
