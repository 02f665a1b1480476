package holds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-checkout/internal/logger"
)

// Sweeper reclaims capacity from holds nobody touches again.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	log      *logger.Logger
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	onPass   func(expired int, took time.Duration)
}

func NewSweeper(manager *Manager, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// OnPass registers a callback run after every sweep pass. Call before Start.
func (s *Sweeper) OnPass(fn func(expired int, took time.Duration)) {
	s.onPass = fn
}

// Start runs one pass immediately, then one per interval until Stop or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.LogProcess("hold-sweeper", fmt.Sprintf("Starting, interval=%s", s.interval))
	s.ticker = time.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
		for {
			select {
			case <-s.ticker.C:
				s.RunOnce(ctx)
			case <-s.done:
				s.log.LogProcess("hold-sweeper", "Stopped")
				return
			case <-ctx.Done():
				s.log.LogProcess("hold-sweeper", "Context cancelled")
				return
			}
		}
	}()
}

// RunOnce executes a single pass. Passes never overlap when driven by Start.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	started := time.Now()
	expired, err := s.manager.ExpireDue(ctx)
	if err != nil {
		s.log.Error("SWEEP", fmt.Sprintf("Sweep pass failed: %v", err))
	} else if expired > 0 {
		s.log.Info("SWEEP", fmt.Sprintf("Expired %d holds", expired))
	}
	if s.onPass != nil {
		s.onPass(expired, time.Since(started))
	}
	return expired
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.done)
	})
	s.wg.Wait()
}
