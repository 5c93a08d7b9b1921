package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/as775116191/ragflow/internal/telemetry"
)

// JobProcessor is one unit of periodic background work: draining the
// ingestion queue or sweeping knowledge bases due for sync.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor on a fixed interval until stopped.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// NewWorker creates a Worker. name prefixes every log line.
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Name returns the worker's log name.
func (w *Worker) Name() string { return w.name }

// Start runs the polling loop until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("%s worker started with poll interval: %v", w.name, w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("%s worker stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("%s worker stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				log.Printf("%s worker: %v", w.name, err)
				telemetry.CaptureError(ctx, err)
			}
		}
	}
}

// tick runs one pass; a panic in the processor is reported and the loop
// keeps going.
func (w *Worker) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s worker panic: %v", w.name, r)
		}
	}()
	return w.processor.ProcessJobs(ctx)
}

// Stop signals the loop and waits for it to exit. Safe to call more than
// once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	log.Printf("%s worker shutdown complete", w.name)
}
