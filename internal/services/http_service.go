package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/livefeed"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/utils"
)

// Pinger reports reachability of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HTTPService exposes the HTTP ingress: report submission, the live feed
// websocket attach point, and a health endpoint.
type HTTPService struct {
	port    int
	engine  *engine.Engine
	hub     *livefeed.Hub
	pingers map[string]Pinger
	logger  zerolog.Logger

	server  *http.Server
	wg      sync.WaitGroup
	started time.Time
	running bool
}

// NewHTTPService creates a new HTTPService instance. pingers maps a
// dependency name to its health probe.
func NewHTTPService(port int, eng *engine.Engine, hub *livefeed.Hub,
	pingers map[string]Pinger, logger zerolog.Logger) *HTTPService {
	return &HTTPService{
		port:    port,
		engine:  eng,
		hub:     hub,
		pingers: pingers,
		logger:  logger,
	}
}

// Start begins serving HTTP in a separate goroutine.
func (s *HTTPService) Start() error {
	if s.running {
		s.logger.Warn().Msg("HTTPService is already running")
		return errors.New("http service is already running")
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/reports", s.handleReport).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/live", s.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = time.Now()
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.logger.Info().Int("port", s.port).Msg("HTTPService started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *HTTPService) Stop() error {
	if !s.running {
		s.logger.Warn().Msg("HTTPService is not running")
		return errors.New("http service is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.running = false

	s.logger.Info().Msg("HTTPService stopped")
	return err
}

// handleReport accepts a JSON device report. The device always gets an
// acknowledgment once core processing was attempted; only a malformed
// payload (400) or a transient failure of the minimal state update (503)
// is surfaced.
func (s *HTTPService) handleReport(w http.ResponseWriter, r *http.Request) {
	var report models.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	err := s.engine.ProcessReport(r.Context(), report)
	switch {
	case errors.Is(err, models.ErrMalformedReport):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	case utils.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// handleLive upgrades the request into a live feed session for the owner.
func (s *HTTPService) handleLive(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}
	s.hub.ServeWS(w, r, ownerID)
}

func (s *HTTPService) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.pingers))
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	body := map[string]any{
		"status":         http.StatusText(status),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"dependencies":   deps,
	}

	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		body["cpu_percent"] = usage[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory_percent"] = vm.UsedPercent
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
