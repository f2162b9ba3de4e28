// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package monitor implements the periodic pull/batch/publish pipeline:
// snapshot the lab, batch under size/count caps, serialize as canonical
// JSON, and publish with a success/failure callback per batch.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/cronexpr"
	hclog "github.com/hashicorp/go-hclog"
)

// Batch caps: size <= 9 MiB and <= 1000 messages per batch.
const (
	maxBatchBytes    = 9 * 1024 * 1024
	maxBatchMessages = 1000
	publishDeadline  = 10 * time.Second
)

// Entry is one message in a pull snapshot: a host or device entry with
// arbitrary attributes, serialized as canonical JSON before publish.
type Entry struct {
	Kind       string // "host" or "device"
	ID         string
	Attributes map[string]string
}

// Puller produces one snapshot of the lab's current host/device entries.
type Puller interface {
	Pull(ctx context.Context) ([]Entry, error)
}

// Sink publishes a batch of already-serialized messages and returns an id
// per message.
type Sink interface {
	Publish(ctx context.Context, messages [][]byte) (ids []string, err error)
}

// Config bundles the monitor's cadence and callbacks.
type Config struct {
	// Cadence is a cron expression controlling pull frequency. Empty
	// means PullInterval is used instead (spec leaves cadence mechanism
	// open; cron support is this core's enrichment).
	Cadence      string
	PullInterval time.Duration

	OnBatchSuccess func(ids []string)
	OnBatchFailure func(err error)
}

func (c Config) withDefaults() Config {
	if c.PullInterval <= 0 {
		c.PullInterval = 30 * time.Second
	}
	if c.OnBatchSuccess == nil {
		c.OnBatchSuccess = func([]string) {}
	}
	if c.OnBatchFailure == nil {
		c.OnBatchFailure = func(error) {}
	}
	return c
}

// Monitor drives Puller -> batch -> Sink on a timer.
type Monitor struct {
	cfg    Config
	puller Puller
	sink   Sink
	logger hclog.Logger
	sched  *cronexpr.Expression
}

func New(cfg Config, puller Puller, sink Sink, logger hclog.Logger) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m := &Monitor{cfg: cfg, puller: puller, sink: sink, logger: logger.Named("monitor")}
	if cfg.Cadence != "" {
		expr, err := cronexpr.Parse(cfg.Cadence)
		if err != nil {
			return nil, err
		}
		m.sched = expr
	}
	return m, nil
}

// Run loops pull/batch/publish until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		wait := m.nextWait()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err := m.tick(ctx); err != nil {
			m.logger.Warn("pull/publish tick failed", "error", err)
		}
	}
}

func (m *Monitor) nextWait() time.Duration {
	if m.sched == nil {
		return m.cfg.PullInterval
	}
	return time.Until(m.sched.Next(time.Now()))
}

func (m *Monitor) tick(ctx context.Context) error {
	entries, err := m.puller.Pull(ctx)
	if err != nil {
		return err
	}

	for _, batch := range batchEntries(entries, m.logger) {
		m.publishBatch(ctx, batch)
	}
	return nil
}

func (m *Monitor) publishBatch(ctx context.Context, batch [][]byte) {
	pubCtx, cancel := context.WithTimeout(ctx, publishDeadline)
	defer cancel()

	ids, err := m.sink.Publish(pubCtx, batch)
	if err != nil {
		m.cfg.OnBatchFailure(err)
		return
	}
	m.cfg.OnBatchSuccess(ids)
}

// batchEntries serializes entries as canonical JSON and groups them into
// batches respecting maxBatchBytes/maxBatchMessages. An entry that alone
// exceeds the byte cap is dropped with a warning rather than ever being
// published.
func batchEntries(entries []Entry, logger hclog.Logger) [][][]byte {
	var batches [][][]byte
	var current [][]byte
	var currentBytes int

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
	}

	for _, e := range entries {
		msg, err := json.Marshal(e)
		if err != nil {
			logger.Warn("dropping unmarshalable monitor entry", "id", e.ID, "error", err)
			continue
		}
		if len(msg) > maxBatchBytes {
			logger.Warn("dropping oversized monitor entry", "id", e.ID, "bytes", len(msg))
			continue
		}
		if len(current) >= maxBatchMessages || currentBytes+len(msg) > maxBatchBytes {
			flush()
		}
		current = append(current, msg)
		currentBytes += len(msg)
	}
	flush()

	return batches
}
