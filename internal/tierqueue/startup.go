// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// BrokerStartup performs the one-time, broker-wide step of 4.I: the
// transient message store's directory is wiped unconditionally, since
// transient messages never survive a restart.
func BrokerStartup(transient MessageStore, transientStoreName, transientDir string) error {
	if err := transient.Clean(transientStoreName, transientDir); err != nil {
		return fmt.Errorf("tierqueue: clean transient store: %w", err)
	}
	return nil
}

func mintOrUse(has bool, ref GUID) GUID {
	if has {
		return ref
	}
	return uuid.New()
}

// InitQueue performs the per-queue steps of 4.I and returns a ready-to-use
// Queue: obtain (low, next) bounds and checkpoint terms from the queue
// index, mint fresh client handles when the terms are incomplete (a
// missing persistent_ref or transient_ref means the previous shutdown
// was not clean), construct the priming Delta range, and run one
// delta->beta pass to warm Q3.
func InitQueue(cfg Config, log *slog.Logger, index QueueIndex, persistent, transient MessageStore, metrics *Metrics, pacer *IOPacer) (*Queue, error) {
	cfg = cfg.withDefaults()

	recovered := persistent.SuccessfullyRecoveredState(cfg.QueueName)
	contains := func(g GUID) bool {
		ok, cerr := persistent.Contains(cfg.QueueName, g)
		if cerr != nil {
			if log != nil {
				log.Warn("contains check failed during queue-index init", "queue", cfg.QueueName, "error", cerr)
			}
			return false
		}
		return ok
	}
	deltaCount, terms, err := index.Init(cfg.QueueName, recovered, contains)
	if err != nil {
		return nil, fmt.Errorf("tierqueue: queue index init: %w", err)
	}
	low, next, err := index.Bounds()
	if err != nil {
		return nil, fmt.Errorf("tierqueue: queue index bounds: %w", err)
	}

	// A dirty restart, or terms missing either ref, means the terms
	// cannot be trusted: discard persistent_count and fall back to
	// delta_count from the queue index itself.
	trustTerms := recovered && terms.HasPersistentRef && terms.HasTransientRef
	persistentCount := deltaCount
	if trustTerms {
		persistentCount = terms.PersistentCount
	}

	persistentHandle, err := persistent.ClientInit(cfg.QueueName, mintOrUse(trustTerms, terms.PersistentRef))
	if err != nil {
		return nil, fmt.Errorf("tierqueue: persistent client init: %w", err)
	}
	transientHandle, err := transient.ClientInit(cfg.QueueName, mintOrUse(trustTerms, terms.TransientRef))
	if err != nil {
		return nil, fmt.Errorf("tierqueue: transient client init: %w", err)
	}

	pipeline := &Pipeline{Delta: DeltaRange{Start: low, End: next, Count: persistentCount}}
	engine := &PhaseChangeEngine{
		queueName:          cfg.QueueName,
		pipeline:           pipeline,
		index:              index,
		persistent:         persistent,
		persistentHandle:   persistentHandle,
		transient:          transient,
		transientHandle:    transientHandle,
		pacer:              pacer,
		metrics:            metrics,
		transientThreshold: next,
		log:                log,
	}
	if _, err := engine.DeltaToBeta(); err != nil {
		return nil, fmt.Errorf("tierqueue: prime Q3: %w", err)
	}

	rate := NewRateEstimator(time.Now(), deltaCount)
	q := newQueue(cfg, log, pipeline, engine, rate, index, persistent, transient, next)
	if err := checkInvariants(pipeline); err != nil {
		return nil, err
	}
	metrics.observe(cfg.QueueName, pipeline)
	return q, nil
}
