// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package logfan

import (
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/structs"
)

func TestManager_PublishFansOutToAllConsumers(t *testing.T) {
	m := New(hclog.NewNullLogger())
	c1 := m.AddConsumer(4)
	c2 := m.AddConsumer(4)
	require.Equal(t, 2, m.ConsumerCount())

	rec := &structs.LogRecord{Message: "hello"}
	m.Publish(rec)

	select {
	case got := <-c1.Records:
		require.Equal(t, "hello", got.Message)
	case <-time.After(time.Second):
		t.Fatal("c1 did not receive record")
	}
	select {
	case got := <-c2.Records:
		require.Equal(t, "hello", got.Message)
	case <-time.After(time.Second):
		t.Fatal("c2 did not receive record")
	}
}

func TestManager_RemoveConsumerStopsDelivery(t *testing.T) {
	m := New(hclog.NewNullLogger())
	c := m.AddConsumer(1)
	m.RemoveConsumer(c)
	require.Equal(t, 0, m.ConsumerCount())

	// Second removal is a no-op, not a panic.
	m.RemoveConsumer(c)

	m.Publish(&structs.LogRecord{Message: "after remove"})
}

func TestManager_SlowConsumerDropsWithoutBlockingPublish(t *testing.T) {
	m := New(hclog.NewNullLogger())
	c := m.AddConsumer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Publish(&structs.LogRecord{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow consumer")
	}
	require.Equal(t, 1, len(c.Records))
}
