// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"

	"github.com/devicelab/core/structs"
)

// EventType tags the kind of lifecycle event a Plugin subscribes to.
// Dispatch to plugins is explicit interface registration by tag; there is
// no reflection involved.
type EventType string

const (
	EventSubmitted EventType = "SUBMITTED"
	EventStarted   EventType = "STARTED"
	EventAborted   EventType = "ABORTED"
	EventFinished  EventType = "FINISHED"
)

// Event is published to every Plugin registered for its Type.
type Event struct {
	Type    EventType
	Session *structs.Session
	// Err is set on EventFinished when execution failed.
	Err error
}

// Plugin is the capability interface a session execution subscriber
// implements. It holds no back-reference to the Manager or Scheduler;
// wiring is plain value registration, with no cyclic dependency graph.
type Plugin interface {
	OnEvent(ctx context.Context, e Event) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, e Event) error

func (f PluginFunc) OnEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// bus fans lifecycle events out to plugins registered per EventType. A
// session's plugin chain runs serially, since per-session I/O is
// serialized; the bus makes no promise across concurrent sessions, which
// run their own chains in parallel.
type bus struct {
	subscribers map[EventType][]Plugin
}

func newBus() *bus {
	return &bus{subscribers: make(map[EventType][]Plugin)}
}

// Register adds p as a subscriber for every type in types.
func (b *bus) Register(p Plugin, types ...EventType) {
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], p)
	}
}

// dispatch runs every subscriber for e.Type in registration order,
// serially, stopping at the first error so a mis-behaving plugin can't
// leave the session in an inconsistent state silently.
func (b *bus) dispatch(ctx context.Context, e Event) error {
	for _, p := range b.subscribers[e.Type] {
		if err := p.OnEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
