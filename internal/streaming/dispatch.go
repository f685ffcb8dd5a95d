// Package streaming implements the Streaming Dispatch layer (spec §4.8):
// a bounded queue between the orchestrator's worker and the HTTP
// handler, and a text/event-stream writer.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cih1996/AI-intelligent-agent-system/internal/orchestrator"
)

// queueCapacity bounds the event channel; back-pressure is acceptable
// (spec §9, "no event drop is permitted"), so producers block rather
// than drop once the queue fills.
const queueCapacity = 64

// Worker runs fn on a bounded event queue and reports completion on
// done. The worker is never killed if the HTTP caller disconnects
// (spec §5, "Cancellation & timeouts") — it always drains to completion,
// even if its terminal events are ultimately discarded by the caller.
type Worker struct {
	events chan orchestrator.Event
	done   chan error
}

// Run spawns fn (an orchestrator turn) against a queue-backed Emitter and
// returns the Worker immediately; fn runs on its own goroutine.
func Run(ctx context.Context, fn func(ctx context.Context, emit orchestrator.Emitter) error) *Worker {
	w := &Worker{
		events: make(chan orchestrator.Event, queueCapacity),
		done:   make(chan error, 1),
	}

	go func() {
		err := fn(ctx, func(e orchestrator.Event) {
			w.events <- e
		})
		close(w.events)
		w.done <- err
	}()

	return w
}

// Events returns the channel events are delivered on, in FIFO order
// (spec §5, "Ordering guarantees"). The channel closes when fn returns.
func (w *Worker) Events() <-chan orchestrator.Event {
	return w.events
}

// Err blocks until the worker has finished and returns its result. Only
// meaningful once Events() has been fully drained.
func (w *Worker) Err() error {
	return <-w.done
}

// WriteSSE drains events off w and serialises each as
// "data: <json>\n\n" over an http.ResponseWriter configured per spec
// §4.8 (Cache-Control: no-cache, buffering disabled). It stops at the
// first terminal `response` or `error` event, or when the queue closes.
func WriteSSE(w http.ResponseWriter, worker *Worker) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for event := range worker.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			drainDiscarding(worker)
			return fmt.Errorf("streaming: marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client disconnected. The worker is not killed (spec §5): it
			// keeps running to completion on its own goroutine, and we
			// drain its remaining events here so it never blocks trying
			// to push past the bounded queue. Those events are discarded.
			drainDiscarding(worker)
			return fmt.Errorf("streaming: write event: %w", err)
		}
		if canFlush {
			flusher.Flush()
		}
		if event.Type == orchestrator.EventResponse || event.Type == orchestrator.EventError {
			return nil
		}
	}
	return nil
}

// drainDiscarding consumes the remainder of a worker's event queue
// without writing, so the orchestrator's worker goroutine is never
// blocked sending into a channel nobody is reading after the client has
// gone away.
func drainDiscarding(worker *Worker) {
	go func() {
		for range worker.Events() {
		}
	}()
}
