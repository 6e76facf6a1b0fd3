package session

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ragchat/internal/engine"
	"ragchat/internal/events"
	"ragchat/pkg/types"
)

// Config configures a Controller.
type Config struct {
	// ModelPath is the verified artifact handed to Engine.Init.
	ModelPath string
	// ModelKey labels events and logs ("name@version").
	ModelKey string
	// Threads defaults to min(NumCPU, 4).
	Threads int
	// ContextHint is used for presets without a context length.
	ContextHint int
	// Presets defaults to types.DefaultPresets().
	Presets []types.GenerationPreset
	// Streaming selects InferStreaming; false uses Infer and delivers the
	// whole reply as one token.
	Streaming bool
	Logger    *zerolog.Logger
	Publisher events.Publisher
}

// DefaultThreads mirrors the chat screen: at most four inference threads.
func DefaultThreads() int { return min(runtime.NumCPU(), 4) }

type job struct {
	id         uuid.UUID
	botID      int64
	cancel     context.CancelFunc
	started    time.Time
	firstToken time.Time
	tokens     int
}

// Controller owns the conversation, the active preset and at most one
// generation job. All methods are safe for concurrent use.
type Controller struct {
	eng     engine.Engine
	cfg     Config
	threads int
	log     zerolog.Logger
	pub     events.Publisher

	cmds   chan func()
	quit   chan struct{}
	worker *worker
	snap   atomic.Pointer[types.SessionSnapshot]

	closeOnce sync.Once

	// Fields below are owned by the loop goroutine.
	st      state
	job     *job
	initGen uint64
	lastID  int64
	closed  bool
	subs    map[int]chan types.SessionSnapshot
	nextSub int
}

// New starts a controller in the uninitialized phase. Call SelectPreset to
// load the model.
func New(eng engine.Engine, cfg Config) *Controller {
	if len(cfg.Presets) == 0 {
		cfg.Presets = types.DefaultPresets()
	}
	c := &Controller{
		eng:     eng,
		cfg:     cfg,
		threads: cfg.Threads,
		log:     zerolog.Nop(),
		pub:     events.OrNop(cfg.Publisher),
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		subs:    make(map[int]chan types.SessionSnapshot),
		st:      state{phase: PhaseUninitialized},
	}
	if c.threads <= 0 {
		c.threads = DefaultThreads()
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "session").Str("model", cfg.ModelKey).Logger()
	}
	c.worker = newWorker(c.log)
	c.snap.Store(c.st.snapshot())
	go c.loop()
	return c
}

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.cmds <- func() { res <- fn() }:
	case <-c.quit:
		return ErrClosed
	}
	return <-res
}

// post runs fn on the loop without waiting. Dropped after shutdown.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.quit:
	}
}

// publish bumps the version and fans the snapshot out. Slow subscribers
// lose their older pending snapshot.
func (c *Controller) publish() {
	c.st.version++
	s := c.st.snapshot()
	c.snap.Store(s)
	for _, ch := range c.subs {
		select {
		case ch <- *s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *s:
			default:
			}
		}
	}
}

func (c *Controller) event(name string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	c.pub.Publish(events.Event{Name: name, Model: c.cfg.ModelKey, Fields: fields})
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() types.SessionSnapshot { return *c.snap.Load() }

// Phase returns the current phase.
func (c *Controller) Phase() Phase { return Phase(c.snap.Load().Phase) }

// Presets returns the configured presets.
func (c *Controller) Presets() []types.GenerationPreset {
	out := make([]types.GenerationPreset, len(c.cfg.Presets))
	copy(out, c.cfg.Presets)
	return out
}

func (c *Controller) findPreset(name string) (types.GenerationPreset, bool) {
	for _, p := range c.cfg.Presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return types.GenerationPreset{}, false
}

// SelectPreset switches the sampling preset and (re)initializes the engine
// with its context length. An active generation is cancelled first.
// Selecting the active preset again is a no-op unless the last init failed.
func (c *Controller) SelectPreset(name string) error {
	return c.do(func() error {
		if c.closed {
			return ErrClosed
		}
		p, ok := c.findPreset(name)
		if !ok {
			return UnknownPresetError{Name: name}
		}
		if c.st.preset != nil && c.st.preset.Name == p.Name &&
			c.st.phase != PhaseFailed && c.st.phase != PhaseUninitialized {
			return nil
		}
		c.abortJob(outcomeSuperseded)

		c.initGen++
		gen := c.initGen
		c.st.preset = &p
		c.st.phase = PhaseInitializing
		c.st.status = statusLoading
		c.publish()

		nCtx := p.ContextLength
		if nCtx <= 0 {
			nCtx = c.cfg.ContextHint
		}
		c.log.Info().Str("preset", p.Name).Int("n_ctx", nCtx).Int("threads", c.threads).Msg("preset selected")
		c.event("preset_selected", map[string]any{"preset": p.Name, "n_ctx": nCtx})
		c.worker.submit(func() {
			start := time.Now()
			err := c.eng.Init(c.cfg.ModelPath, nCtx, c.threads)
			dur := time.Since(start)
			c.post(func() { c.onInitDone(gen, p, err, dur) })
		})
		return nil
	})
}

func (c *Controller) onInitDone(gen uint64, p types.GenerationPreset, err error, dur time.Duration) {
	if c.closed || gen != c.initGen {
		c.log.Debug().Str("preset", p.Name).Msg("stale engine init result ignored")
		return
	}
	if err != nil {
		c.st.phase = PhaseFailed
		c.st.status = err.Error()
		c.log.Error().Err(err).Str("preset", p.Name).Dur("dur", dur).Msg("engine init failed")
		c.event("engine_failed", map[string]any{"preset": p.Name, "error": err.Error()})
	} else {
		c.st.phase = PhaseReady
		c.st.status = ""
		c.log.Info().Str("preset", p.Name).Dur("dur", dur).Msg("engine ready")
		c.event("engine_ready", map[string]any{"preset": p.Name})
	}
	c.publish()
}

// SetInput stores the pending input text.
func (c *Controller) SetInput(text string) error {
	return c.do(func() error {
		if c.closed {
			return ErrClosed
		}
		c.st.input = text
		c.publish()
		return nil
	})
}

// Send appends the user message and an empty bot message, then starts one
// generation job that streams into the bot message. An empty prompt sends
// the pending input. Outside the ready phase nothing changes and ErrBusy or
// a not-ready error is returned.
func (c *Controller) Send(prompt string) error {
	return c.do(func() error {
		if c.closed {
			return ErrClosed
		}
		switch {
		case c.job != nil || c.st.phase == PhaseGenerating:
			return ErrBusy
		case c.st.phase != PhaseReady:
			return notReadyError{phase: c.st.phase}
		}
		text := strings.TrimSpace(prompt)
		if text == "" {
			text = strings.TrimSpace(c.st.input)
		}
		if text == "" {
			return ErrEmptyPrompt
		}
		now := time.Now()
		user := types.Message{ID: c.nextID(now), Author: types.AuthorUser, Text: text, CreatedAt: now}
		bot := types.Message{ID: c.nextID(now), Author: types.AuthorBot, CreatedAt: now}
		c.st.appendMessages(user, bot)
		c.st.input = ""
		c.st.phase = PhaseGenerating
		c.st.status = ""
		c.startJob(text, bot.ID, now)
		c.publish()
		return nil
	})
}

// nextID keeps message ids unique and increasing even within one millisecond.
func (c *Controller) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return id
}

func (c *Controller) startJob(prompt string, botID int64, now time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{id: uuid.New(), botID: botID, cancel: cancel, started: now}
	c.job = j

	p := *c.st.preset
	params := engine.Params{MaxTokens: p.MaxTokens, Temperature: p.Temperature, TopP: p.TopP}
	streaming := c.cfg.Streaming
	start := func(cb engine.Callbacks) error {
		if streaming {
			return c.eng.InferStreaming(prompt, params, cb)
		}
		text, err := c.eng.Infer(prompt, params)
		if ctx.Err() != nil {
			return nil
		}
		var ierr *engine.InferError
		switch {
		case errors.As(err, &ierr):
			cb.OnError(ierr.Reason)
		case err != nil:
			return err
		default:
			cb.OnToken(text)
			cb.OnCompleted()
		}
		return nil
	}
	spawn := func(fn func()) {
		if !c.worker.submit(fn) {
			cancel()
		}
	}
	ch := Stream(ctx, spawn, start, c.eng.Cancel)
	go func() {
		for ev := range ch {
			ev := ev
			c.post(func() { c.onJobEvent(j, ev) })
		}
	}()
	c.log.Info().Str("job", j.id.String()).Str("preset", p.Name).Bool("streaming", streaming).Msg("generation start")
	c.event("generation_start", map[string]any{"job": j.id.String(), "preset": p.Name})
}

func (c *Controller) onJobEvent(j *job, ev Event) {
	if c.job != j {
		return
	}
	switch ev.Kind {
	case EventToken:
		if j.tokens == 0 {
			j.firstToken = time.Now()
			generationFirstToken.Observe(j.firstToken.Sub(j.started).Seconds())
		}
		j.tokens++
		generationTokensTotal.Inc()
		c.st.updateMessage(j.botID, func(m *types.Message) { m.Text += ev.Text })
	case EventCompleted:
		c.finishJob(j, outcomeCompleted)
		c.st.phase = PhaseReady
		c.st.status = ""
		c.log.Info().Str("job", j.id.String()).Int("tokens", j.tokens).Msg("generation done")
		c.event("generation_done", map[string]any{"job": j.id.String(), "tokens": j.tokens})
	case EventError:
		c.finishJob(j, outcomeError)
		c.st.phase = PhaseReady
		c.st.status = ev.Reason
		c.log.Warn().Str("job", j.id.String()).Str("reason", ev.Reason).Msg("generation error")
		c.event("generation_error", map[string]any{"job": j.id.String(), "reason": ev.Reason})
	}
	c.publish()
}

// finishJob detaches j and records its metrics on the bot message.
func (c *Controller) finishJob(j *job, outcome string) {
	j.cancel()
	c.job = nil
	generationsTotal.WithLabelValues(outcome).Inc()
	m := types.MessageMetrics{Tokens: j.tokens}
	if j.tokens > 0 {
		m.FirstTokenMs = j.firstToken.Sub(j.started).Milliseconds()
		if secs := time.Since(j.firstToken).Seconds(); secs > 0 {
			m.TokensPerSec = float64(j.tokens) / secs
		}
	}
	c.st.updateMessage(j.botID, func(msg *types.Message) { msg.Metrics = &m })
}

// abortJob cancels the active job, if any. Tokens it produced stay in the
// bot message; nothing it produces afterwards is applied.
func (c *Controller) abortJob(outcome string) bool {
	j := c.job
	if j == nil {
		return false
	}
	c.finishJob(j, outcome)
	c.eng.Cancel()
	c.log.Info().Str("job", j.id.String()).Str("outcome", outcome).Msg("generation cancelled")
	return true
}

// Stop cancels the active generation. It is a no-op when nothing runs.
func (c *Controller) Stop() error {
	return c.do(func() error {
		if c.closed {
			return ErrClosed
		}
		if c.st.phase != PhaseGenerating || c.job == nil {
			return nil
		}
		id := c.job.id.String()
		c.abortJob(outcomeStopped)
		c.st.phase = PhaseReady
		c.st.status = statusStopped
		c.event("generation_stopped", map[string]any{"job": id})
		c.publish()
		return nil
	})
}

// Subscribe returns a channel receiving the current snapshot and every
// later one. Delivery is latest-wins when the reader falls behind. The
// channel is closed on unsubscribe or Close.
func (c *Controller) Subscribe(buf int) (<-chan types.SessionSnapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan types.SessionSnapshot, buf)
	id := -1
	ran := false
	err := c.do(func() error {
		ran = true
		if c.closed {
			close(ch)
			return ErrClosed
		}
		id = c.nextSub
		c.nextSub++
		c.subs[id] = ch
		ch <- *c.snap.Load()
		return nil
	})
	if err != nil {
		if !ran {
			close(ch)
		}
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.post(func() {
				if sub, ok := c.subs[id]; ok {
					delete(c.subs, id)
					close(sub)
				}
			})
		})
	}
}

// Close tears the session down once: the active job is cancelled, the
// engine is cancelled and released after any in-flight engine call, and
// subscribers are closed. Later intents return ErrClosed. ctx bounds the
// wait for the release.
func (c *Controller) Close(ctx context.Context) error {
	released := make(chan struct{})
	err := c.do(func() error {
		if c.closed {
			return ErrClosed
		}
		c.closed = true
		c.initGen++
		c.abortJob(outcomeClosed)
		c.eng.Cancel()
		if !c.worker.submit(func() {
			c.eng.Release()
			close(released)
		}) {
			close(released)
		}
		c.worker.shutdown()
		c.st.phase = PhaseUninitialized
		c.st.status = statusClosed
		c.publish()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.log.Info().Msg("session teardown")
		c.event("teardown", nil)
		return nil
	})
	if err != nil {
		return err
	}
	defer c.closeOnce.Do(func() { close(c.quit) })
	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
