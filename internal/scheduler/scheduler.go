// Package scheduler drives repeated sourceindexer cycles on a ticker,
// grounded on internal/jobs/worker.go's Start(ctx) method (ticker +
// select + panic recovery per unit of work), generalized from "claim one
// job" to "run one source's full indexing cycle".
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/platform/logger"
)

// Cycle runs one full indexing cycle for a source, matching
// *sourceindexer.Indexer.Run's signature.
type Cycle func(ctx context.Context) error

// Scheduler runs one source's Cycle on a fixed interval, skipping a tick
// if the previous cycle is still in flight (spec §9's "single in-flight
// cycle per source" resolution of the live-update overlap open
// question).
type Scheduler struct {
	Name     string
	Interval time.Duration
	Run      Cycle
	Log      *logger.Logger

	running atomic.Bool
	skipped atomic.Int64
	lastErr atomic.Value // holds errHolder
}

// errHolder wraps an error so atomic.Value can store a nil error without
// tripping its "no nil values" panic.
type errHolder struct{ err error }

// NewScheduler returns a Scheduler for name, ticking every interval.
func NewScheduler(name string, interval time.Duration, cycle Cycle, log *logger.Logger) *Scheduler {
	return &Scheduler{Name: name, Interval: interval, Run: cycle, Log: log}
}

// Start launches the ticker loop in its own goroutine and returns
// immediately, mirroring internal/jobs/worker.go's Start(ctx).
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.Log != nil {
			s.Log.Warn("skipping cycle, previous cycle still in flight", "source", s.Name)
		}
		return
	}
	defer s.running.Store(false)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("scheduler: %s: cycle panicked: %v", s.Name, r)
				s.lastErr.Store(errHolder{err})
				if s.Log != nil {
					s.Log.Error("source cycle panic", "source", s.Name, "panic", r)
				}
			}
		}()
		if err := s.Run(ctx); err != nil {
			s.lastErr.Store(errHolder{err})
			if s.Log != nil {
				s.Log.Warn("source cycle failed", "source", s.Name, "error", err)
			}
		} else {
			s.lastErr.Store(errHolder{})
		}
	}()
}

// SkippedCycles reports how many ticks were skipped because the previous
// cycle had not yet finished.
func (s *Scheduler) SkippedCycles() int64 { return s.skipped.Load() }

// LastError returns the most recent cycle's error, or nil.
func (s *Scheduler) LastError() error {
	v := s.lastErr.Load()
	if v == nil {
		return nil
	}
	h, _ := v.(errHolder)
	return h.err
}
