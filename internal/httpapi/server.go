package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ragchat/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	Models() ([]types.InstalledArtifact, error)
	StartPrepare() bool
	CancelPrepare()
	Presets() types.PresetsResponse
	Session() types.SessionSnapshot
	SelectPreset(name string) error
	Send(prompt string) error
	Stop() error
	Subscribe(buf int) (<-chan types.SessionSnapshot, func(), error)
}

// NewMux builds the router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsConfig.enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsConfig.origins, []string{"*"}),
			AllowedMethods: orDefault(corsConfig.methods, []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsConfig.headers, []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"}),
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		r.Use(inflight)
		r.Get("/healthz", h.healthz)
		r.Get("/readyz", h.readyz)
		r.Get("/status", h.status)
		r.Get("/models", h.models)
		r.Post("/prepare", h.prepare)
		r.Delete("/prepare", h.cancelPrepare)
		r.Get("/presets", h.presets)
		r.Get("/session", h.session)
		r.Post("/session/preset", h.selectPreset)
		r.Post("/session/messages", h.send)
		r.Post("/session/stop", h.stop)
		r.Get("/session/events", h.events)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the content type and body limit, then decodes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail writes err with its mapped status and logs the outcome.
func fail(w http.ResponseWriter, r *http.Request, msg string, start time.Time, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusConflict:
		IncrementRejected("busy")
	case http.StatusServiceUnavailable:
		IncrementRejected("not_ready")
	}
	writeJSONError(w, status, err.Error())
	logEnd(r, requestLogLevel(r), msg, status, start, err)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// status godoc
// @Summary      Provisioning and session status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// models godoc
// @Summary      Installed artifacts
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ms, err := h.svc.Models()
	if err != nil {
		fail(w, r, "models", start, err)
		return
	}
	if ms == nil {
		ms = []types.InstalledArtifact{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: ms})
}

// prepare godoc
// @Summary      Start provisioning the configured model
// @Description  Idempotent while a run is in progress.
// @Tags         models
// @Produce      json
// @Success      202  {object}  types.ProvisionStatus
// @Router       /prepare [post]
func (h *handlers) prepare(w http.ResponseWriter, r *http.Request) {
	started := h.svc.StartPrepare()
	logEnd(r, requestLogLevel(r), "prepare", http.StatusAccepted, time.Now(), nil)
	if !started {
		w.Header().Set("X-Prepare", "already-running")
	}
	writeJSON(w, http.StatusAccepted, h.svc.Status().Provision)
}

// cancelPrepare godoc
// @Summary      Cancel provisioning
// @Description  Removes the partial file. A later prepare starts over.
// @Tags         models
// @Produce      json
// @Success      202  {object}  types.ProvisionStatus
// @Router       /prepare [delete]
func (h *handlers) cancelPrepare(w http.ResponseWriter, r *http.Request) {
	h.svc.CancelPrepare()
	writeJSON(w, http.StatusAccepted, h.svc.Status().Provision)
}

// presets godoc
// @Summary      Configured generation presets
// @Tags         session
// @Produce      json
// @Success      200  {object}  types.PresetsResponse
// @Router       /presets [get]
func (h *handlers) presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Presets())
}

// session godoc
// @Summary      Current session snapshot
// @Tags         session
// @Produce      json
// @Success      200  {object}  types.SessionSnapshot
// @Router       /session [get]
func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Session())
}

// selectPreset godoc
// @Summary      Select a preset (re-initializes the engine)
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      types.PresetRequest  true  "Preset"
// @Success      202   {object}  types.SessionSnapshot
// @Failure      404   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /session/preset [post]
func (h *handlers) selectPreset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.PresetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.svc.SelectPreset(req.Name); err != nil {
		fail(w, r, "select preset", start, err)
		return
	}
	logEnd(r, requestLogLevel(r), "select preset", http.StatusAccepted, start, nil)
	writeJSON(w, http.StatusAccepted, h.svc.Session())
}

// send godoc
// @Summary      Send a prompt
// @Description  Starts one generation. Progress is observed via /session or /session/events.
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      types.SendRequest  true  "Prompt"
// @Success      202   {object}  types.SessionSnapshot
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /session/messages [post]
func (h *handlers) send(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Send(req.Prompt); err != nil {
		fail(w, r, "send", start, err)
		return
	}
	logEnd(r, requestLogLevel(r), "send", http.StatusAccepted, start, nil)
	writeJSON(w, http.StatusAccepted, h.svc.Session())
}

// stop godoc
// @Summary      Stop the active generation
// @Tags         session
// @Produce      json
// @Success      200  {object}  types.SessionSnapshot
// @Failure      503  {object}  types.ErrorResponse
// @Router       /session/stop [post]
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.svc.Stop(); err != nil {
		fail(w, r, "stop", start, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Session())
}

// events godoc
// @Summary      Stream session snapshots
// @Description  NDJSON, one SessionSnapshot per line, until the client disconnects.
// @Tags         session
// @Produce      application/x-ndjson
// @Success      200  {object}  types.SessionSnapshot
// @Failure      503  {object}  types.ErrorResponse
// @Router       /session/events [get]
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ch, unsubscribe, err := h.svc.Subscribe(eventsBuffer)
	if err != nil {
		fail(w, r, "events", start, err)
		return
	}
	defer unsubscribe()
	eventStreams.Inc()
	defer eventStreams.Dec()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	out := io.Writer(w)
	lvl := requestLogLevel(r)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{prefix: "session"})
	}
	enc := json.NewEncoder(out)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if eventsTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, eventsTimeout)
		defer stop()
	}
	for {
		select {
		case <-ctx.Done():
			logEnd(r, lvl, "events end", http.StatusOK, start, nil)
			return
		case snap, ok := <-ch:
			if !ok {
				logEnd(r, lvl, "events closed", http.StatusOK, start, nil)
				return
			}
			if err := enc.Encode(snap); err != nil {
				logEnd(r, lvl, "events write", http.StatusOK, start, err)
				return
			}
			flush()
		}
	}
}
