// Package engine wraps the local inference runtime behind a narrow,
// synchronous interface. Files by concern:
//
//   - engine.go: Engine interface, Params, Callbacks.
//   - errors.go: InitError, InferError, dependency-unavailable helpers.
//   - prompt.go: chat template applied before inference.
//   - echo.go: Echo engine (no runtime needed; streams the prompt back).
//
// Build tags:
//
//   - In-process llama: go-llama.cpp backed, enabled with `-tags=llama`.
//     Files: llama.go, llama_cgo.go (linker rpath hints).
//   - Without the tag, llama_stub.go refuses to load models and reports a
//     dependency-unavailable error. Nothing is mocked in that build.
package engine
