// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/structs"
)

// blockingPlugin holds EventStarted open until release is closed, so
// tests can observe a session sitting in RUNNING.
type blockingPlugin struct {
	release chan struct{}
	err     error
}

func (p *blockingPlugin) OnEvent(ctx context.Context, e Event) error {
	if e.Type != EventStarted {
		return nil
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.err
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{MaxConcurrentSessions: 2}, hclog.NewNullLogger())
	require.NoError(t, err)
	return m
}

func TestManager_AddSessionReachesFinished(t *testing.T) {
	m := newTestManager(t)
	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)
	require.Equal(t, structs.SessionSubmitted, h.Detail.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	final, err := h.Result(ctx)
	require.NoError(t, err)
	require.Equal(t, structs.SessionFinished, final.Status)
	require.Empty(t, final.Output.Error)
}

func TestManager_PluginFailureRecordedAsOutputError(t *testing.T) {
	m := newTestManager(t)
	boom := &blockingPlugin{release: make(chan struct{})}
	close(boom.release)
	boom.err = errBoom
	m.RegisterPlugin(boom, EventStarted)

	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	final, err := h.Result(ctx)
	require.NoError(t, err)
	require.Equal(t, structs.SessionFinished, final.Status)
	require.Equal(t, errBoom.Error(), final.Output.Error)
}

func TestManager_AbortSessionsIsIdempotentAndCancelsExecution(t *testing.T) {
	m := newTestManager(t)
	p := &blockingPlugin{release: make(chan struct{})}
	m.RegisterPlugin(p, EventStarted)

	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)

	// Wait until the session is RUNNING and stuck in the plugin chain.
	require.Eventually(t, func() bool {
		sess, err := m.GetSession(h.Detail.SessionID, nil)
		return err == nil && sess.Status == structs.SessionRunning
	}, time.Second, time.Millisecond)

	m.AbortSessions([]string{h.Detail.SessionID})
	m.AbortSessions([]string{h.Detail.SessionID}) // idempotent

	sess, err := m.GetSession(h.Detail.SessionID, nil)
	require.NoError(t, err)
	require.True(t, sess.AbortedFlag)

	close(p.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	final, err := h.Result(ctx)
	require.NoError(t, err)
	require.Equal(t, structs.SessionFinished, final.Status)
}

func TestManager_GetAllSessionsAppliesFilter(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "a", Properties: map[string]string{"team": "x"}})
	require.NoError(t, err)
	_, err = m.AddSession(context.Background(), structs.SessionConfig{Name: "b", Properties: map[string]string{"team": "y"}})
	require.NoError(t, err)

	filter := &structs.SessionFilter{IncludedPropertyKVs: map[string]string{"team": "x"}}
	got := m.GetAllSessions(nil, filter)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Config.Name)
}

func TestManager_FieldMaskTrimsOutputAndConfig(t *testing.T) {
	m := newTestManager(t)
	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1", Properties: map[string]string{"k": "v"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.Result(ctx)
	require.NoError(t, err)

	mask := NewFieldMask("status")
	trimmed, err := m.GetSession(h.Detail.SessionID, mask)
	require.NoError(t, err)
	require.Equal(t, structs.SessionFinished, trimmed.Status)
	require.Empty(t, trimmed.Config.Name)
	require.Zero(t, trimmed.Output)

	full, err := m.GetSession(h.Detail.SessionID, nil)
	require.NoError(t, err)
	require.Equal(t, "s1", full.Config.Name)
}

func TestManager_NotifySessionsOnlyDeliversToOpenSessions(t *testing.T) {
	m := newTestManager(t)
	p := &blockingPlugin{release: make(chan struct{})}
	m.RegisterPlugin(p, EventStarted)
	defer close(p.release)

	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sess, err := m.GetSession(h.Detail.SessionID, nil)
		return err == nil && sess.Status == structs.SessionRunning
	}, time.Second, time.Millisecond)

	delivered := m.NotifySessions([]string{h.Detail.SessionID, "unknown"}, Notification{Kind: "ping"})
	require.Equal(t, []string{h.Detail.SessionID}, delivered)
}

func TestManager_HasUnarchivedSessions(t *testing.T) {
	m := newTestManager(t)
	require.False(t, m.HasUnarchivedSessions())

	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)
	require.True(t, m.HasUnarchivedSessions())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.Result(ctx)
	require.NoError(t, err)
	require.False(t, m.HasUnarchivedSessions())
}

func TestManager_SubscribeReceivesLifecycleUpdates(t *testing.T) {
	m := newTestManager(t)
	sub := m.Subscribe(nil, nil)
	defer m.Unsubscribe(sub)

	h, err := m.AddSession(context.Background(), structs.SessionConfig{Name: "s1"})
	require.NoError(t, err)

	var sawRunning, sawFinished bool
	deadline := time.After(time.Second)
	for !sawFinished {
		select {
		case update := <-sub.Updates:
			if update.SessionID != h.Detail.SessionID {
				continue
			}
			switch update.Status {
			case structs.SessionRunning:
				sawRunning = true
			case structs.SessionFinished:
				sawFinished = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for subscription updates")
		}
	}
	require.True(t, sawRunning)
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "plugin boom" }
