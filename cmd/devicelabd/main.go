// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Command devicelabd is the server entrypoint: it wires persistence, the
// scheduler, the session manager, the planner, the log fan-out, the
// monitor pipeline, the file resolver chain, and the control plane into
// one process and serves the RPC facade over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/devicelab/core/allocstore"
	"github.com/devicelab/core/config"
	"github.com/devicelab/core/control"
	"github.com/devicelab/core/logfan"
	"github.com/devicelab/core/monitor"
	"github.com/devicelab/core/orchestrator"
	"github.com/devicelab/core/planner"
	"github.com/devicelab/core/resolver"
	"github.com/devicelab/core/rpc"
	"github.com/devicelab/core/rpc/codec"
	"github.com/devicelab/core/scheduler"
	"github.com/devicelab/core/session"
	"github.com/devicelab/core/structs"
)

func main() {
	configPath := flag.String("config", "", "path to an HCL config file, merged over compiled-in defaults")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "devicelabd",
		Level: hclog.Info,
	})

	if err := run(*configPath, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger hclog.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if level := hclog.LevelFromString(cfg.LogLevel); level != hclog.NoLevel {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persist, err := newPersistence(cfg.Persistence, logger)
	if err != nil {
		return fmt.Errorf("open persistence backend: %w", err)
	}
	defer persist.Close()

	store := allocstore.New(persist, logger)
	if err := store.Restore(); err != nil {
		return fmt.Errorf("restore allocation store: %w", err)
	}
	defer store.Close()

	logs := logfan.New(logger)

	sched := scheduler.New(store, schedulerBus{logs: logs, logger: logger.Named("scheduler.bus")}, scheduler.Config{
		ShuffleLabs:      cfg.Scheduler.ShuffleLabs,
		IdlePassInterval: cfg.Scheduler.IdlePassInterval,
		JobYieldInterval: cfg.Scheduler.JobYieldInterval,
	}, logger)

	sessions, err := session.New(session.Config{
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
	}, logger)
	if err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	plan := planner.New(planner.Config{
		XTSRoot: cfg.Planner.XTSRoot,
		GenRoot: cfg.Planner.GenRoot,
	})
	modules := orchestrator.FilesystemModuleSource{
		TestcasesDir: planner.NonTradefedTestcasesDir(cfg.Planner.XTSRoot),
	}
	sessions.RegisterPlugin(orchestrator.New(sched, plan, modules, logger), session.EventStarted)

	resolverChain := resolver.NewChain(
		resolver.NewCachingResolver(resolver.NewGetterResolver(os.TempDir())),
	)
	_ = resolverChain // constructed only: no plugin is handed the chain, and planning does not resolve artifacts through it.

	mon, err := monitor.New(monitor.Config{
		Cadence:      cfg.Monitor.Cadence,
		PullInterval: cfg.Monitor.PullInterval,
		OnBatchFailure: func(err error) {
			logger.Error("monitor batch publish failed", "error", err)
		},
	}, labPuller{scheduler: sched}, logSink{logger: logger.Named("monitor.sink")}, logger)
	if err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(codec.Codec{}))
	listener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.BindAddr, err)
	}

	controller := control.New(sessions, func(shutdownCtx context.Context) {
		logger.Info("control plane requested shutdown")
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}, logger)

	grpcServer.RegisterService(&rpc.SessionServiceDesc, rpc.NewSessionServer(sessions))
	grpcServer.RegisterService(&rpc.ControlServiceDesc, rpc.NewControlServer(controller, logs, logger))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(groupCtx)
	})
	group.Go(func() error {
		return mon.Run(groupCtx)
	})
	group.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- grpcServer.Serve(listener) }()
		select {
		case <-groupCtx.Done():
			grpcServer.GracefulStop()
			<-errCh
			return groupCtx.Err()
		case err := <-errCh:
			return err
		}
	})

	logger.Info("devicelabd started", "bind_addr", cfg.BindAddr)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newPersistence selects the allocation store's backend per
// config.PersistenceConfig.Backend.
func newPersistence(cfg config.PersistenceConfig, logger hclog.Logger) (allocstore.Persistence, error) {
	switch cfg.Backend {
	case "", "mem":
		return allocstore.NewMemPersistence(), nil
	case "noop":
		return allocstore.NoopPersistence{}, nil
	case "bolt":
		return allocstore.NewBoltPersistence(cfg.BoltDB, logger)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

// schedulerBus adapts the scheduler's allocation events onto the log
// fan-out as structured records, giving GetLog subscribers visibility
// into placement activity without the scheduler importing logfan itself.
type schedulerBus struct {
	logs   *logfan.Manager
	logger hclog.Logger
}

func (b schedulerBus) PublishAllocation(evt scheduler.AllocationEvent) {
	b.logger.Debug("allocation placed",
		"job_id", evt.Allocation.TestLocator.JobID,
		"test_id", evt.Allocation.TestLocator.TestID,
		"devices", evt.Allocation.DeviceUniversalIDs())
	b.logs.Publish(&structs.LogRecord{
		Level:      "DEBUG",
		Timestamp:  time.Now(),
		Message:    fmt.Sprintf("allocated %s/%s to %v", evt.Allocation.TestLocator.JobID, evt.Allocation.TestLocator.TestID, evt.Allocation.DeviceUniversalIDs()),
		Importance: structs.LogServer,
	})
}

// labPuller adapts the scheduler's device snapshot to monitor.Puller.
type labPuller struct {
	scheduler *scheduler.Scheduler
}

func (p labPuller) Pull(ctx context.Context) ([]monitor.Entry, error) {
	devices := p.scheduler.Devices()
	entries := make([]monitor.Entry, 0, len(devices))
	for _, d := range devices {
		attrs := map[string]string{
			"lab_ip": d.LabIP,
			"status": string(d.Status),
		}
		for k, v := range d.Dimensions {
			attrs[k] = v
		}
		entries = append(entries, monitor.Entry{
			Kind:       "device",
			ID:         d.UniversalID,
			Attributes: attrs,
		})
	}
	for _, lab := range p.scheduler.Labs() {
		entries = append(entries, monitor.Entry{
			Kind:       "host",
			ID:         lab.IP,
			Attributes: lab.Labels,
		})
	}
	return entries, nil
}

// logSink implements monitor.Sink by writing each batch's canonical JSON
// messages to the structured logger; a real deployment points this at
// whatever inventory service ingests the snapshot instead.
type logSink struct {
	logger hclog.Logger
}

func (s logSink) Publish(ctx context.Context, messages [][]byte) ([]string, error) {
	ids := make([]string, len(messages))
	for i, msg := range messages {
		id := fmt.Sprintf("%d-%d", time.Now().UnixNano(), i)
		ids[i] = id
		s.logger.Debug("monitor snapshot", "id", id, "bytes", len(msg))
	}
	return ids, nil
}
