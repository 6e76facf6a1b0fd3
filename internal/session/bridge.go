package session

import (
	"context"
	"sync"

	"ragchat/internal/engine"
)

// EventKind tags a stream Event.
type EventKind int

const (
	EventToken EventKind = iota
	EventCompleted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of a generation stream. Text is set for tokens, Reason
// for errors.
type Event struct {
	Kind   EventKind
	Text   string
	Reason string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool { return e.Kind != EventToken }

// StartFunc launches the producer with the given callbacks. It follows the
// engine.Engine InferStreaming contract.
type StartFunc func(cb engine.Callbacks) error

// Stream adapts a callback producer into an ordered channel.
//
// spawn chooses where start runs. Producer callbacks never block. The channel
// carries at most one terminal event and is closed after it. When ctx is
// done before the terminal event has been delivered, nothing more is
// delivered and the channel is closed. cancel is only called while start is
// running: a producer that has returned, or never started, is not
// signalled. Each token produced after ctx is done repeats the signal, as an
// engine may clear its cancel flag when a run begins.
func Stream(ctx context.Context, spawn func(func()), start StartFunc, cancel func()) <-chan Event {
	q := newFIFO[Event]()
	out := make(chan Event)

	// mu guards terminal, running and stopped. cancel is invoked with mu
	// held so the producer cannot return between the decision and the call.
	var (
		mu       sync.Mutex
		terminal bool
		running  bool
		stopped  bool
	)
	halt := func(repeat bool) {
		mu.Lock()
		defer mu.Unlock()
		if stopped && !repeat {
			return
		}
		stopped = true
		if running && cancel != nil {
			cancel()
		}
	}
	finish := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if terminal {
			return
		}
		terminal = true
		q.push(ev)
		q.close()
	}
	cb := engine.Callbacks{
		OnToken: func(s string) {
			if ctx.Err() != nil {
				halt(true)
				return
			}
			mu.Lock()
			done := terminal
			mu.Unlock()
			if done {
				return
			}
			q.push(Event{Kind: EventToken, Text: s})
		},
		OnCompleted: func() { finish(Event{Kind: EventCompleted}) },
		OnError:     func(reason string) { finish(Event{Kind: EventError, Reason: reason}) },
	}

	spawn(func() {
		mu.Lock()
		if ctx.Err() != nil || stopped {
			mu.Unlock()
			q.close()
			return
		}
		running = true
		mu.Unlock()

		err := start(cb)

		mu.Lock()
		running = false
		mu.Unlock()
		switch {
		case err != nil:
			finish(Event{Kind: EventError, Reason: "failed to start: " + err.Error()})
		case ctx.Err() == nil:
			finish(Event{Kind: EventError, Reason: "stream ended without completion"})
		}
		q.close()
	})

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				halt(false)
				return
			}
			ev, ok, err := q.pop(ctx)
			if err != nil {
				halt(false)
				return
			}
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				halt(false)
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()
	return out
}
