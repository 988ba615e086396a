/*
sweeper.go - Expiry of abandoned payment setups

PURPOSE:
  A guest who never completes the setup redirect leaves a Pending
  reservation occupying its unit. The sweeper periodically moves those past
  their setup deadline to AuthorizationFailed, freeing the unit.

USAGE:
  sweeper := NewSetupSweeper(workflow, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()
*/
package booking

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type SetupSweeper struct {
	Workflow *PaymentWorkflow
	Interval time.Duration
	Log      logrus.FieldLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSetupSweeper(w *PaymentWorkflow, log logrus.FieldLogger) *SetupSweeper {
	return &SetupSweeper{
		Workflow: w,
		Interval: time.Minute,
		Log:      log,
	}
}

// Start begins sweeping. It runs once immediately.
func (ss *SetupSweeper) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.ticker != nil {
		return
	}
	if ss.Interval <= 0 {
		ss.Interval = time.Minute
	}
	ss.ticker = time.NewTicker(ss.Interval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)
	go ss.run()
	logOr(ss.Log).WithField("interval", ss.Interval.String()).Info("setup sweeper started")
}

// Stop halts the sweeper and waits for an in-progress sweep.
func (ss *SetupSweeper) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.ticker == nil {
		return
	}
	ss.ticker.Stop()
	close(ss.stop)
	ss.wg.Wait()
	ss.ticker = nil
	logOr(ss.Log).Info("setup sweeper stopped")
}

func (ss *SetupSweeper) run() {
	defer ss.wg.Done()
	ss.RunOnce(context.Background())
	for {
		select {
		case <-ss.ticker.C:
			ss.RunOnce(context.Background())
		case <-ss.stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns how many setups expired.
func (ss *SetupSweeper) RunOnce(ctx context.Context) int {
	n, err := ss.Workflow.ExpireSetups(ctx)
	log := logOr(ss.Log)
	if err != nil {
		log.WithError(err).Error("setup sweep failed")
	}
	if n > 0 {
		log.WithField("expired", n).Info("expired abandoned payment setups")
	}
	return n
}
