// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package session implements the session manager: session lifecycle,
// per-session plugin execution, field-mask-aware queries, and
// abort/notify/subscribe.
package session

import (
	"context"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/sync/semaphore"

	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// Notification is an arbitrary payload delivered to a running session's
// plugin chain via notifySessions.
type Notification struct {
	Kind    string
	Payload map[string]string
}

// Config bundles the manager's tunables.
type Config struct {
	// MaxConcurrentSessions bounds the session-execution worker pool.
	MaxConcurrentSessions int64
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 32
	}
	return c
}

// Manager owns session records, drives their plugin-based execution, and
// forwards control operations.
type Manager struct {
	cfg    Config
	store  *store
	bus    *bus
	logger hclog.Logger
	sem    *semaphore.Weighted

	mu            sync.Mutex
	cancels       map[string]context.CancelFunc
	notifications map[string]chan Notification

	subsMu  sync.Mutex
	subs    map[int]*Subscription
	nextSub int
}

func New(cfg Config, logger hclog.Logger) (*Manager, error) {
	st, err := newStore()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:           cfg,
		store:         st,
		bus:           newBus(),
		logger:        logger.Named("session"),
		sem:           semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		cancels:       make(map[string]context.CancelFunc),
		notifications: make(map[string]chan Notification),
		subs:          make(map[int]*Subscription),
	}, nil
}

// RegisterPlugin registers p to run when events of the given types fire.
// Plugins are registered at construction time and hold no back-reference
// to the Manager.
func (m *Manager) RegisterPlugin(p Plugin, types ...EventType) {
	m.bus.Register(p, types...)
}

// Handle is returned by AddSession: the initial detail plus a future that
// completes once the session reaches FINISHED.
type Handle struct {
	Detail *structs.Session
	done   chan struct{}
	result *structs.Session
}

// Result blocks until the session finishes or ctx is done, whichever
// comes first.
func (h *Handle) Result(ctx context.Context) (*structs.Session, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddSession assigns a session id, persists the session in SUBMITTED, and
// spawns its execution on the bounded worker pool. The returned Handle's
// Result completes on FINISHED.
func (m *Manager) AddSession(ctx context.Context, cfg structs.SessionConfig) (*Handle, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, "generate session id", err)
	}

	sess := &structs.Session{
		SessionID: id,
		Config:    cfg,
		Status:    structs.SessionSubmitted,
		Output: structs.SessionOutput{
			Properties: map[string]string{},
			SubmitTime: time.Now(),
		},
		ClientID: clientIDFromContext(ctx),
	}

	if err := m.store.insert(sess); err != nil {
		return nil, corerr.Wrap(corerr.Internal, "persist session", err)
	}

	m.mu.Lock()
	m.notifications[id] = make(chan Notification, 16)
	m.mu.Unlock()

	if err := m.bus.dispatch(ctx, Event{Type: EventSubmitted, Session: sess.Clone()}); err != nil {
		m.logger.Warn("submitted-event plugin failed", "session_id", id, "error", err)
	}

	h := &Handle{Detail: sess.Clone(), done: make(chan struct{})}
	go m.run(id, h)

	return h, nil
}

// run drives one session's lifecycle on the bounded worker pool. It
// acquires a semaphore slot (blocking if the pool is saturated), executes
// the plugin chain for EventStarted, then transitions to FINISHED exactly
// once.
func (m *Manager) run(id string, h *Handle) {
	defer close(h.done)

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		close(m.notifications[id])
		delete(m.notifications, id)
		m.mu.Unlock()
		cancel()
	}()

	if err := m.sem.Acquire(runCtx, 1); err != nil {
		// Context was cancelled (aborted) before a slot freed up; finish
		// immediately with that as the terminal error.
		m.finish(id, h, err)
		return
	}
	defer m.sem.Release(1)

	if err := m.transition(id, structs.SessionRunning); err != nil {
		m.finish(id, h, err)
		return
	}
	m.publishUpdate(id)

	sess, _ := m.store.get(id)
	if err := m.bus.dispatch(runCtx, Event{Type: EventStarted, Session: sess.Clone()}); err != nil {
		m.finish(id, h, err)
		return
	}
	m.finish(id, h, nil)
}

func (m *Manager) finish(id string, h *Handle, execErr error) {
	_ = m.store.withWriteTxn(id, func(sess *structs.Session) error {
		sess.Status = structs.SessionFinished
		sess.Output.EndTime = time.Now()
		if execErr != nil {
			sess.Output.Error = execErr.Error()
		}
		return nil
	})
	final, _ := m.store.get(id)
	h.result = final.Clone()

	_ = m.bus.dispatch(context.Background(), Event{Type: EventFinished, Session: final.Clone(), Err: execErr})
	m.publishUpdate(id)
}

// transition moves sess to status, enforcing the monotonic lifecycle:
// terminal status is permanent.
func (m *Manager) transition(id string, status structs.SessionStatus) error {
	return m.store.withWriteTxn(id, func(sess *structs.Session) error {
		if sess.Status == structs.SessionFinished {
			return corerr.New(corerr.InvalidArgument, "session already finished")
		}
		if !sess.Status.Less(status) {
			return corerr.New(corerr.InvalidArgument, "non-monotonic session status transition")
		}
		if status == structs.SessionRunning {
			sess.Output.StartTime = time.Now()
		}
		sess.Status = status
		return nil
	})
}

// GetSession looks up a session by id and applies mask to the result.
func (m *Manager) GetSession(id string, mask *FieldMask) (*structs.Session, error) {
	sess, ok := m.store.get(id)
	if !ok {
		return nil, errNotFound(id)
	}
	return applyFieldMask(sess.Clone(), mask), nil
}

// GetAllSessions returns every session matching filter, field-masked.
func (m *Manager) GetAllSessions(mask *FieldMask, filter *structs.SessionFilter) []*structs.Session {
	var out []*structs.Session
	for _, sess := range m.store.all() {
		if !filter.Matches(sess) {
			continue
		}
		out = append(out, applyFieldMask(sess.Clone(), mask))
	}
	return out
}

// HasUnarchivedSessions reports whether any session is still outstanding.
func (m *Manager) HasUnarchivedSessions() bool {
	return m.store.hasUnarchived()
}

// NotifySessions delivers n to every running session in ids that still
// has an open notification channel, returning the ids actually delivered.
func (m *Manager) NotifySessions(ids []string, n Notification) []string {
	var delivered []string
	for _, id := range ids {
		m.mu.Lock()
		ch, ok := m.notifications[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- n:
			delivered = append(delivered, id)
		default:
			// Consumer (the session's plugin chain) isn't reading;
			// don't block the caller over one slow session.
		}
	}
	return delivered
}

// Notifications returns the channel a session's plugins should read
// deliveries from. Returns nil if the session is unknown or finished.
func (m *Manager) Notifications(id string) <-chan Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id]
}

// AbortSessions sets aborted_flag and signals cancellation to the
// execution context. Calling it twice for the same session is idempotent:
// the second call finds the flag already set, cancelling an
// already-cancelled context does nothing, and EventAborted is dispatched
// only when the flag is first set.
func (m *Manager) AbortSessions(ids []string) {
	for _, id := range ids {
		newlyAborted := false
		_ = m.store.withWriteTxn(id, func(sess *structs.Session) error {
			if sess.Status == structs.SessionFinished || sess.AbortedFlag {
				return nil
			}
			sess.AbortedFlag = true
			newlyAborted = true
			return nil
		})

		m.mu.Lock()
		cancel, ok := m.cancels[id]
		m.mu.Unlock()
		if ok {
			cancel()
		}

		if !newlyAborted {
			continue
		}
		if err := m.bus.dispatch(context.Background(), Event{Type: EventAborted}); err != nil {
			m.logger.Warn("aborted-event plugin failed", "session_id", id, "error", err)
		}
	}
}

type clientIDKey struct{}

// WithClientID attaches a client id to ctx so AddSession can stamp it onto
// the created session.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

func clientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientIDKey{}).(string)
	return v
}
