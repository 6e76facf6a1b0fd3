package engine

// Engine is the inference capability consumed by the session controller.
//
// Init, Infer, InferStreaming and Release are never called concurrently with
// each other; the caller serializes them on one worker. Cancel may be called
// from any goroutine at any time.
type Engine interface {
	// Init loads the model, releasing any previously loaded one.
	Init(modelPath string, contextSize, threads int) error
	// Infer runs a blocking generation and returns the whole text.
	Infer(prompt string, p Params) (string, error)
	// InferStreaming runs a blocking generation, delivering tokens through cb.
	// A nil return means the run started: it ended with OnCompleted, with
	// OnError, or silently after Cancel. A non-nil return means it never
	// started and no callback fired.
	InferStreaming(prompt string, p Params, cb Callbacks) error
	// Cancel requests the in-flight generation to stop.
	Cancel()
	// Release frees the model. Only called with no call in flight.
	Release()
}

// Params are per-generation sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Callbacks receive streaming output. Any field may be nil.
type Callbacks struct {
	OnToken     func(string)
	OnCompleted func()
	OnError     func(string)
}

func (c Callbacks) token(s string) {
	if c.OnToken != nil {
		c.OnToken(s)
	}
}

func (c Callbacks) completed() {
	if c.OnCompleted != nil {
		c.OnCompleted()
	}
}

func (c Callbacks) fail(reason string) {
	if c.OnError != nil {
		c.OnError(reason)
	}
}

// LlamaAvailable reports whether this binary was built with the llama runtime.
func LlamaAvailable() bool { return llamaBuilt }
