// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/allocstore"
	"github.com/devicelab/core/planner"
	"github.com/devicelab/core/scheduler"
	"github.com/devicelab/core/session"
	"github.com/devicelab/core/structs"
)

type noModules struct{}

func (noModules) LocalModules() []string                    { return nil }
func (noModules) AllTestsInModule(string) ([]string, error) { return nil, nil }

type noopBus struct{}

func (noopBus) PublishAllocation(scheduler.AllocationEvent) {}

func newTestSetup(t *testing.T) (*scheduler.Scheduler, *session.Manager) {
	t.Helper()
	store := allocstore.New(allocstore.NoopPersistence{}, hclog.NewNullLogger())
	sched := scheduler.New(store, noopBus{}, scheduler.Config{}, hclog.NewNullLogger())
	mgr, err := session.New(session.Config{}, hclog.NewNullLogger())
	require.NoError(t, err)
	return sched, mgr
}

func TestExecutionPlugin_BlocksSessionUntilJobRemoved(t *testing.T) {
	sched, mgr := newTestSetup(t)

	plug := New(sched, planner.New(planner.Config{GenRoot: t.TempDir()}), noModules{}, hclog.NewNullLogger())
	mgr.RegisterPlugin(plug, session.EventStarted)

	handle, err := mgr.AddSession(context.Background(), structs.SessionConfig{})
	require.NoError(t, err)

	// The plugin submits exactly one tradefed job for a bare request and
	// then blocks; the session must stay out of FINISHED until it's torn
	// down by an external executor calling RemoveJob.
	require.Never(t, func() bool {
		sess, err := mgr.GetSession(handle.Detail.SessionID, nil)
		return err != nil || sess.Status == structs.SessionFinished
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sess, err := mgr.GetSession(handle.Detail.SessionID, nil)
		return err == nil && sess.Status == structs.SessionRunning
	}, time.Second, 10*time.Millisecond)
}

func TestExecutionPlugin_AbortUnblocksSession(t *testing.T) {
	sched, mgr := newTestSetup(t)
	plug := New(sched, planner.New(planner.Config{GenRoot: t.TempDir()}), noModules{}, hclog.NewNullLogger())
	mgr.RegisterPlugin(plug, session.EventStarted)

	handle, err := mgr.AddSession(context.Background(), structs.SessionConfig{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sess, err := mgr.GetSession(handle.Detail.SessionID, nil)
		return err == nil && sess.Status == structs.SessionRunning
	}, time.Second, 10*time.Millisecond)

	mgr.AbortSessions([]string{handle.Detail.SessionID})

	require.Eventually(t, func() bool {
		sess, err := mgr.GetSession(handle.Detail.SessionID, nil)
		return err == nil && sess.Status == structs.SessionFinished
	}, time.Second, 10*time.Millisecond)
}
