//go:build llama

package engine

import (
	"errors"
	"strings"
	"sync/atomic"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// Llama runs models in-process through go-llama.cpp.
type Llama struct {
	model   *llama.LLama
	threads int
	// cancelled is polled from the token callback; Predict stops when the
	// callback returns false.
	cancelled atomic.Bool
	log       zerolog.Logger
}

// NewLlama returns an engine with no model loaded.
func NewLlama(log zerolog.Logger) *Llama {
	return &Llama{log: log.With().Str("component", "engine").Logger()}
}

func (e *Llama) Init(modelPath string, contextSize, threads int) error {
	if strings.TrimSpace(modelPath) == "" {
		return &InitError{Path: modelPath, Err: errors.New("model path is empty")}
	}
	e.Release()
	mo := []llama.ModelOption{}
	if contextSize > 0 {
		mo = append(mo, llama.SetContext(contextSize))
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return &InitError{Path: modelPath, Err: err}
	}
	e.model = m
	e.threads = max(1, threads)
	e.log.Info().Str("path", modelPath).Int("n_ctx", contextSize).Int("threads", e.threads).Msg("model loaded")
	return nil
}

func (e *Llama) Infer(prompt string, p Params) (string, error) {
	if e.model == nil {
		return "", ErrNotInitialized
	}
	e.cancelled.Store(false)
	e.model.SetTokenCallback(func(string) bool { return !e.cancelled.Load() })
	text, err := e.model.Predict(ChatPrompt(prompt), predictOptions(p, e.threads)...)
	if err != nil && !e.cancelled.Load() {
		return "", &InferError{Reason: err.Error()}
	}
	return text, nil
}

func (e *Llama) InferStreaming(prompt string, p Params, cb Callbacks) error {
	if e.model == nil {
		return ErrNotInitialized
	}
	e.cancelled.Store(false)
	e.model.SetTokenCallback(func(tok string) bool {
		if e.cancelled.Load() {
			return false
		}
		cb.token(tok)
		return true
	})
	_, err := e.model.Predict(ChatPrompt(prompt), predictOptions(p, e.threads)...)
	switch {
	case e.cancelled.Load():
		// Cancellation ends the run without a terminal callback.
	case err != nil:
		cb.fail(err.Error())
	default:
		cb.completed()
	}
	return nil
}

func (e *Llama) Cancel() { e.cancelled.Store(true) }

func (e *Llama) Release() {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options.
func predictOptions(p Params, threads int) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(zn(p.MaxTokens, llama.DefaultOptions.Tokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
		llama.SetStopWords("\nUser:"),
	}
}
