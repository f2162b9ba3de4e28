// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package logfan implements the process-wide log tap-off: a set of
// consumers every LogRecord is fanned out to, each of which must be
// non-blocking so one slow consumer never backpressures the logger.
package logfan

import (
	"sync"
	"sync/atomic"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/devicelab/core/structs"
)

// defaultDroppedLogInterval throttles the "dropped messages" warning so a
// consumer stuck for a long time doesn't itself become a logging flood.
const defaultDroppedLogInterval = 3 * time.Second

// Consumer is a live tap-off registration. Records arrives in publish
// order; while a Consumer's buffer is full, each newly published record
// is dropped for it (with a throttled warning) rather than stalling
// Manager.Publish.
type Consumer struct {
	id      uint64
	Records chan *structs.LogRecord

	dropped         atomic.Uint64
	lastDroppedWarn atomic.Int64 // unix nanos, 0 = never
}

// Manager is the process-wide fan-out point. Adding/removing a consumer
// takes the write lock briefly; Publish holds the read lock for the whole
// fan-out, whose sends never block.
type Manager struct {
	logger hclog.Logger

	mu     sync.RWMutex
	nextID uint64
	consumers map[uint64]*Consumer

	droppedLogInterval time.Duration
}

func New(logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		logger:             logger.Named("logfan"),
		consumers:          make(map[uint64]*Consumer),
		droppedLogInterval: defaultDroppedLogInterval,
	}
}

// AddConsumer registers a new consumer with a channel buffered to
// bufSize records.
func (m *Manager) AddConsumer(bufSize int) *Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := &Consumer{id: m.nextID, Records: make(chan *structs.LogRecord, bufSize)}
	m.consumers[c.id] = c
	return c
}

// RemoveConsumer unregisters c. Safe to call more than once.
func (m *Manager) RemoveConsumer(c *Consumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[c.id]; !ok {
		return
	}
	delete(m.consumers, c.id)
	close(c.Records)
}

// Publish fans record out to every registered consumer. Delivery is
// non-blocking per consumer: log fan-out runs on the publishing thread,
// so consumer callbacks must never block it.
func (m *Manager) Publish(record *structs.LogRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.consumers {
		select {
		case c.Records <- record:
		default:
			m.recordDrop(c)
		}
	}
}

func (m *Manager) recordDrop(c *Consumer) {
	n := c.dropped.Add(1)
	now := time.Now().UnixNano()
	last := c.lastDroppedWarn.Load()
	if last != 0 && time.Duration(now-last) < m.droppedLogInterval {
		return
	}
	if !c.lastDroppedWarn.CompareAndSwap(last, now) {
		return
	}
	m.logger.Warn("log fan-out dropped messages for slow consumer", "consumer_id", c.id, "dropped_total", n)
}

// ConsumerCount reports the number of currently registered consumers;
// used by tests and diagnostics.
func (m *Manager) ConsumerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consumers)
}
