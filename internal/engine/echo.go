package engine

import (
	"strings"
	"sync/atomic"
	"time"
)

// Echo streams the prompt back word by word. It needs no model runtime and
// backs `engine: echo` for smoke runs on machines without llama.cpp.
type Echo struct {
	// Delay is slept before each token.
	Delay time.Duration
	// Tokens, when set, replaces the echoed prompt words.
	Tokens []string
	// FailReason, when set, ends every run with OnError after the tokens.
	FailReason string
	// InitErr, when set, is returned (wrapped) from Init.
	InitErr error

	loaded    atomic.Bool
	cancelled atomic.Bool
}

func (e *Echo) Init(modelPath string, _, _ int) error {
	e.loaded.Store(false)
	if e.InitErr != nil {
		return &InitError{Path: modelPath, Err: e.InitErr}
	}
	e.loaded.Store(true)
	return nil
}

func (e *Echo) tokens(prompt string, max int) []string {
	toks := e.Tokens
	if toks == nil {
		for i, w := range strings.Fields(prompt) {
			if i > 0 {
				w = " " + w
			}
			toks = append(toks, w)
		}
	}
	if max > 0 && len(toks) > max {
		toks = toks[:max]
	}
	return toks
}

// sleep waits for Delay and reports false when cancelled meanwhile.
func (e *Echo) sleep() bool {
	if e.Delay <= 0 {
		return !e.cancelled.Load()
	}
	deadline := time.Now().Add(e.Delay)
	for time.Now().Before(deadline) {
		if e.cancelled.Load() {
			return false
		}
		time.Sleep(min(time.Millisecond, time.Until(deadline)))
	}
	return !e.cancelled.Load()
}

func (e *Echo) Infer(prompt string, p Params) (string, error) {
	if !e.loaded.Load() {
		return "", ErrNotInitialized
	}
	e.cancelled.Store(false)
	var b strings.Builder
	for _, t := range e.tokens(prompt, p.MaxTokens) {
		if !e.sleep() {
			return b.String(), nil
		}
		b.WriteString(t)
	}
	if e.FailReason != "" {
		return "", &InferError{Reason: e.FailReason}
	}
	return b.String(), nil
}

func (e *Echo) InferStreaming(prompt string, p Params, cb Callbacks) error {
	if !e.loaded.Load() {
		return ErrNotInitialized
	}
	e.cancelled.Store(false)
	for _, t := range e.tokens(prompt, p.MaxTokens) {
		if !e.sleep() {
			return nil
		}
		cb.token(t)
	}
	if e.cancelled.Load() {
		return nil
	}
	if e.FailReason != "" {
		cb.fail(e.FailReason)
		return nil
	}
	cb.completed()
	return nil
}

func (e *Echo) Cancel()  { e.cancelled.Store(true) }
func (e *Echo) Release() { e.loaded.Store(false) }
