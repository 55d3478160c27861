package renewal

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerConfig holds configuration for the background renewal worker
type WorkerConfig struct {
	Enabled     bool
	IntervalSec int
	Settings    Settings
}

// Worker periodically runs an auto-renewal batch through the scheduler
type Worker struct {
	scheduler   *Scheduler
	config      WorkerConfig
	logger      *logrus.Entry
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a new renewal worker
func NewWorker(scheduler *Scheduler, config WorkerConfig, logger *logrus.Entry) *Worker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		scheduler:   scheduler,
		config:      config,
		logger:      logger.WithField("component", "renewal-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker
func (w *Worker) Start() {
	if !w.config.Enabled {
		w.logger.Info("Disabled, not starting")
		close(w.stoppedChan)
		return
	}

	w.logger.Infof("Starting with interval=%ds, maxTasksPerBatch=%d",
		w.config.IntervalSec, w.config.Settings.MaxTasksPerBatch)

	go w.run()
}

// Stop stops the worker and waits for the current batch to wind down
func (w *Worker) Stop() {
	if !w.config.Enabled {
		return
	}

	w.logger.Info("Stopping...")
	close(w.stopChan)
	<-w.stoppedChan
	w.logger.Info("Stopped")
}

// run is the main worker loop
func (w *Worker) run() {
	defer close(w.stoppedChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopChan
		cancel()
	}()

	ticker := time.NewTicker(time.Duration(w.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	w.tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

// tick runs one auto-renewal batch
func (w *Worker) tick(ctx context.Context) {
	results, err := w.scheduler.PerformRenewAll(ctx, ModeAuto, nil, w.config.Settings)
	if err != nil {
		w.logger.Errorf("Renewal batch failed: %v", err)
		return
	}

	if len(results) == 0 {
		return
	}

	failures := 0
	for _, r := range results {
		if !r.IsSuccess {
			failures++
		}
	}
	w.logger.Infof("Batch complete: %d attempted, %d failed", len(results), failures)
}
