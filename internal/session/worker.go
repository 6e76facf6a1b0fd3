package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// worker runs submitted functions one at a time in submission order. All
// engine calls except Cancel go through it.
type worker struct {
	q    *fifo[func()]
	done chan struct{}
	log  zerolog.Logger
}

func newWorker(log zerolog.Logger) *worker {
	w := &worker{q: newFIFO[func()](), done: make(chan struct{}), log: log}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		fn, ok, _ := w.q.pop(context.Background())
		if !ok {
			return
		}
		w.call(fn)
	}
}

// call keeps a panicking engine from taking the process down.
func (w *worker) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("panic", fmt.Sprint(r)).Msg("engine worker recovered from panic")
		}
	}()
	fn()
}

// submit queues fn and reports false once the worker is shut down.
func (w *worker) submit(fn func()) bool { return w.q.push(fn) }

// shutdown lets queued work drain, then stops the goroutine.
func (w *worker) shutdown() { w.q.close() }
