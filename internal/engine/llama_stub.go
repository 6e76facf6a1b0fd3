//go:build !llama

package engine

import "github.com/rs/zerolog"

const llamaBuilt = false

const missingLlama = "llama support not built (missing 'llama' build tag)"

// Llama is the no-CGO placeholder. It refuses to load models so default
// builds stay CGO-free without pretending to generate anything.
type Llama struct{}

func NewLlama(zerolog.Logger) *Llama { return &Llama{} }

func (e *Llama) Init(modelPath string, _, _ int) error {
	return &InitError{Path: modelPath, Err: ErrDependencyUnavailable(missingLlama)}
}

func (e *Llama) Infer(string, Params) (string, error) {
	return "", ErrDependencyUnavailable(missingLlama)
}

func (e *Llama) InferStreaming(string, Params, Callbacks) error {
	return ErrDependencyUnavailable(missingLlama)
}

func (e *Llama) Cancel()  {}
func (e *Llama) Release() {}
