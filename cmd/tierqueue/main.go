// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command tierqueue runs one or more tiered message queues described by
// a YAML configuration file, wiring each to a badger-backed persistent
// message store, an in-memory transient store, and an on-disk
// append-only queue index.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxqueue/tierstore/config"
	"github.com/fluxqueue/tierstore/internal/msgstore"
	"github.com/fluxqueue/tierstore/internal/qindex"
	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tierqueue:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("tierqueue exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func run(cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	var metricsReg prometheus.Registerer = reg
	if !cfg.Metrics.Enabled {
		metricsReg = nil
	}
	metrics := tierqueue.NewMetrics(metricsReg)

	persistent, err := msgstore.NewBadgerStore(msgstore.BadgerConfig{Dir: cfg.Storage.BadgerDir})
	if err != nil {
		return fmt.Errorf("open persistent store: %w", err)
	}
	defer persistent.Close()

	transient := msgstore.NewMemoryStore()
	if err := tierqueue.BrokerStartup(transient, "transient", cfg.Storage.BadgerDir); err != nil {
		return fmt.Errorf("broker startup: %w", err)
	}

	queues := make(map[string]*tierqueue.Queue, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		idx, err := qindex.NewFileQueueIndex(filepath.Join(cfg.Index.Dir, qc.Name), cfg.Index.SegmentSize)
		if err != nil {
			return fmt.Errorf("open index for queue %s: %w", qc.Name, err)
		}
		pacer := tierqueue.NewIOPacer(qc.PhaseChangeIOPerSecond, qc.IOBatchBurst)
		q, err := tierqueue.InitQueue(tierqueue.Config{
			QueueName:              qc.Name,
			Durable:                qc.Durable,
			PhaseChangeIOPerSecond: qc.PhaseChangeIOPerSecond,
			IOBatchBurst:           qc.IOBatchBurst,
		}, log, idx, persistent, transient, metrics, pacer)
		if err != nil {
			return fmt.Errorf("init queue %s: %w", qc.Name, err)
		}
		if err := q.SetRamDurationTarget(context.Background(), qc.RAMDurationTarget.Seconds()); err != nil {
			return fmt.Errorf("set ram duration target for queue %s: %w", qc.Name, err)
		}
		queues[qc.Name] = q
		log.Info("queue ready", "queue", qc.Name, "ram_duration_target", qc.RAMDurationTarget)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idleIntervals := make(map[string]time.Duration, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		idleIntervals[qc.Name] = qc.IdleTimeoutInterval
	}
	stopIdle := runIdleTimeoutLoop(ctx, log, queues, idleIntervals)

	<-ctx.Done()
	log.Info("shutting down")
	close(stopIdle)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	for name, q := range queues {
		if _, err := q.Terminate(context.Background()); err != nil {
			log.Error("terminate queue failed", "queue", name, "error", err)
		}
	}
	return nil
}

// runIdleTimeoutLoop drives each queue's idle_timeout call on its
// configured interval, giving the phase-change engine a chance to make
// forward progress toward its RAM-duration target even when the queue
// sees no publish/fetch traffic. Returns a channel the caller closes to
// stop every loop.
func runIdleTimeoutLoop(ctx context.Context, log *slog.Logger, queues map[string]*tierqueue.Queue, intervals map[string]time.Duration) chan struct{} {
	stop := make(chan struct{})
	for name, q := range queues {
		interval := intervals[name]
		if interval <= 0 {
			interval = time.Second
		}
		go func(name string, q *tierqueue.Queue, interval time.Duration) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stop:
					return
				case <-ticker.C:
					if err := q.IdleTimeout(ctx); err != nil {
						log.Warn("idle timeout pass failed", "queue", name, "error", err)
					}
				}
			}
		}(name, q, interval)
	}
	return stop
}
