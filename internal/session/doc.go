// Package session drives one chat conversation against an engine.
//
//   - controller.go: Controller, the single-writer state machine for user intents.
//   - worker.go: the FIFO goroutine every engine call runs on.
//   - bridge.go: Stream, which turns engine callbacks into an ordered event channel.
//   - fifo.go: unbounded queue shared by the bridge and the worker.
//   - state.go: phases and copy-on-write snapshot helpers.
//   - errors.go, metrics.go.
//
// The Controller never blocks on the engine: intents run on the loop
// goroutine, engine calls run on the worker, and results come back to the
// loop as commands. Engine.Cancel is the only call made off the worker.
package session
