// Package app wires provisioning and the chat session together. It is the
// one place that knows about both, and the service the HTTP layer and the
// CLI talk to.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ragchat/internal/config"
	"ragchat/internal/engine"
	"ragchat/internal/events"
	"ragchat/internal/provision"
	"ragchat/internal/session"
	"ragchat/pkg/types"
)

// Provisioning stages reported in ProvisionStatus.Stage.
const (
	StageIdle      = "idle"
	StagePreparing = "preparing"
	StageCopying   = "copying"
	StageDone      = "done"
	StageCancelled = "cancelled"
	StageError     = "error"
)

var (
	// ErrNoSession is returned by session intents before the model is ready.
	ErrNoSession = errors.New("app: model not prepared")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("app: closed")
)

// IsNotReady reports whether err means the session cannot take input yet.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNoSession) || session.IsNotReady(err)
}

// Options configure a Service. Config must already have defaults applied.
type Options struct {
	Config config.Config
	// Engine overrides the engine selected by Config.Engine.
	Engine engine.Engine
	// Source overrides the source derived from Config.SourceURL/SourceDir.
	Source    provision.Source
	Logger    *zerolog.Logger
	Publisher events.Publisher
	// OnProvision, if set, observes every provisioning status change.
	OnProvision func(types.ProvisionStatus)
}

// Service owns the provisioner, the engine and, once the artifact is ready,
// the session controller.
type Service struct {
	cfg     config.Config
	prov    *provision.Provisioner
	eng     engine.Engine
	log     zerolog.Logger
	logPtr  *zerolog.Logger
	pub     events.Publisher
	observe func(types.ProvisionStatus)
	started time.Time

	mu      sync.Mutex
	status  types.ProvisionStatus
	model   string
	running bool
	cancel  context.CancelFunc
	ctrl    *session.Controller
	closed  bool
	bg      sync.WaitGroup
}

// New builds a Service. Nothing touches disk until Prepare.
func New(opts Options) *Service {
	cfg := opts.Config
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Service{
		cfg:     cfg,
		eng:     opts.Engine,
		log:     log.With().Str("component", "app").Logger(),
		logPtr:  &log,
		pub:     events.OrNop(opts.Publisher),
		observe: opts.OnProvision,
		started: time.Now(),
		status:  types.ProvisionStatus{Stage: StageIdle},
	}
	if s.eng == nil {
		s.eng = NewEngine(cfg, log)
	}
	src := opts.Source
	if src == nil {
		src = NewSource(cfg)
	}
	s.prov = provision.New(src, provision.Config{
		StoreDir:          cfg.StoreDir,
		ChunkSize:         cfg.ChunkSizeMB << 20,
		ProgressThreshold: int64(cfg.ProgressThresholdKB) << 10,
		Logger:            &log,
		Publisher:         s.pub,
	})
	return s
}

// NewEngine returns the engine named by cfg.Engine.
func NewEngine(cfg config.Config, log zerolog.Logger) engine.Engine {
	if cfg.Engine == config.EngineEcho {
		return &engine.Echo{Delay: 20 * time.Millisecond}
	}
	return engine.NewLlama(log)
}

// NewSource returns an HTTP source when a URL is configured, otherwise the
// bootstrap directory.
func NewSource(cfg config.Config) provision.Source {
	if cfg.SourceURL != "" {
		return provision.HTTPSource{BaseURL: cfg.SourceURL, Client: &http.Client{}}
	}
	return provision.DirSource{Root: cfg.SourceDir}
}

func (s *Service) setStatus(fn func(*types.ProvisionStatus)) {
	s.mu.Lock()
	fn(&s.status)
	st := s.status
	s.mu.Unlock()
	if s.observe != nil {
		s.observe(st)
	}
}

// Prepare provisions the configured model and starts the session once the
// artifact is verified. A call while another Prepare runs returns
// immediately with a zero Result. Cancellation (ctx or CancelPrepare) yields
// a Result with Cancelled set and a nil error.
func (s *Service) Prepare(ctx context.Context) (provision.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return provision.Result{}, ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return provision.Result{}, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	s.setStatus(func(st *types.ProvisionStatus) {
		*st = types.ProvisionStatus{Stage: StagePreparing, Message: "preparing model"}
	})
	d, res, err := s.prov.EnsureFromManifest(runCtx, s.cfg.ManifestPath, s.cfg.ModelName, func(copied, total int64) {
		s.setStatus(func(st *types.ProvisionStatus) {
			st.Stage = StageCopying
			st.CopiedBytes = copied
			st.TotalBytes = total
			if total > 0 {
				st.Progress = float64(copied) / float64(total)
			}
			st.Message = "copying model"
		})
	})
	if d.Name != "" {
		s.mu.Lock()
		s.model = d.Key()
		s.mu.Unlock()
	}
	switch {
	case err != nil:
		msg := res.Reason
		if msg == "" {
			msg = err.Error()
		}
		s.setStatus(func(st *types.ProvisionStatus) {
			st.Stage = StageError
			st.Message = msg
		})
		s.log.Error().Err(err).Msg("prepare failed")
		return res, err
	case res.Cancelled:
		s.setStatus(func(st *types.ProvisionStatus) {
			st.Stage = StageCancelled
			st.Message = res.Reason
			st.Progress = 0
			st.CopiedBytes = 0
		})
		return res, nil
	}

	s.setStatus(func(st *types.ProvisionStatus) {
		st.Stage = StageDone
		st.Progress = 1
		st.Resumed = res.Resumed
		st.Message = res.Reason
		st.ModelPath = res.Path
		st.ContextHint = res.ContextHint
		if st.TotalBytes == 0 {
			st.TotalBytes = d.SizeBytes
			st.CopiedBytes = d.SizeBytes
		}
	})
	s.log.Info().Str("model", d.Key()).Str("path", res.Path).Dur("dur", res.Duration).Msg("model ready")
	if err := s.startSession(d, res); err != nil {
		return res, err
	}
	return res, nil
}

// StartPrepare runs Prepare in the background. It reports false when a run
// is already in progress or the service is closed.
func (s *Service) StartPrepare() bool {
	s.mu.Lock()
	if s.closed || s.running {
		s.mu.Unlock()
		return false
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		_, _ = s.Prepare(context.Background())
	}()
	return true
}

// CancelPrepare cancels a running Prepare. The partial file is removed.
func (s *Service) CancelPrepare() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Service) startSession(d types.ModelDescriptor, res provision.Result) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.ctrl != nil {
		s.mu.Unlock()
		return nil
	}
	hint := 0
	if res.ContextHint != nil {
		hint = *res.ContextHint
	}
	ctrl := session.New(s.eng, session.Config{
		ModelPath:   res.Path,
		ModelKey:    d.Key(),
		Threads:     s.cfg.Threads,
		ContextHint: hint,
		Presets:     s.cfg.Presets,
		Streaming:   s.cfg.StreamingEnabled(),
		Logger:      s.logPtr,
		Publisher:   s.pub,
	})
	s.ctrl = ctrl
	s.mu.Unlock()
	if err := ctrl.SelectPreset(s.cfg.DefaultPreset); err != nil {
		return fmt.Errorf("select default preset: %w", err)
	}
	return nil
}

func (s *Service) controller() (*session.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.ctrl == nil {
		return nil, ErrNoSession
	}
	return s.ctrl, nil
}

// ProvisionStatus returns the latest provisioning snapshot.
func (s *Service) ProvisionStatus() types.ProvisionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Status combines provisioning and session state.
func (s *Service) Status() types.StatusResponse {
	s.mu.Lock()
	resp := types.StatusResponse{
		Model:          s.model,
		Provision:      s.status,
		Phase:          string(session.PhaseUninitialized),
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl != nil {
		snap := ctrl.Snapshot()
		resp.Phase = snap.Phase
		resp.StatusMessage = snap.StatusMessage
	}
	return resp
}

// Ready reports whether the session can take (or is serving) prompts.
func (s *Service) Ready() bool {
	ctrl, err := s.controller()
	if err != nil {
		return false
	}
	p := ctrl.Phase()
	return p == session.PhaseReady || p == session.PhaseGenerating
}

// Models lists verified artifacts in the store.
func (s *Service) Models() ([]types.InstalledArtifact, error) {
	return provision.ListInstalled(s.cfg.StoreDir)
}

// Presets returns the configured presets and the default name.
func (s *Service) Presets() types.PresetsResponse {
	out := make([]types.GenerationPreset, len(s.cfg.Presets))
	copy(out, s.cfg.Presets)
	return types.PresetsResponse{Presets: out, Default: s.cfg.DefaultPreset}
}

// Session returns the session snapshot; before Prepare it is empty and uninitialized.
func (s *Service) Session() types.SessionSnapshot {
	ctrl, err := s.controller()
	if err != nil {
		return types.SessionSnapshot{Phase: string(session.PhaseUninitialized), Messages: []types.Message{}}
	}
	snap := ctrl.Snapshot()
	if snap.Messages == nil {
		snap.Messages = []types.Message{}
	}
	return snap
}

func (s *Service) SelectPreset(name string) error {
	ctrl, err := s.controller()
	if err != nil {
		return err
	}
	return ctrl.SelectPreset(name)
}

func (s *Service) Send(prompt string) error {
	ctrl, err := s.controller()
	if err != nil {
		return err
	}
	return ctrl.Send(prompt)
}

func (s *Service) Stop() error {
	ctrl, err := s.controller()
	if err != nil {
		return err
	}
	return ctrl.Stop()
}

// Subscribe streams session snapshots; see session.Controller.Subscribe.
func (s *Service) Subscribe(buf int) (<-chan types.SessionSnapshot, func(), error) {
	ctrl, err := s.controller()
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := ctrl.Subscribe(buf)
	return ch, unsubscribe, nil
}

// Close cancels provisioning and tears the session down. Safe to call twice.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	ctrl := s.ctrl
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.bg.Wait()
	if ctrl != nil {
		if err := ctrl.Close(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
			return err
		}
	} else {
		s.eng.Release()
	}
	return nil
}
