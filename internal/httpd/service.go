// Package httpd exposes a read-only status surface for the checkpoint and
// recovery subsystem: coordinator metrics, the retained checkpoint history,
// and the failure audit log.
package httpd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/recovery"
)

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func sendResponse(w http.ResponseWriter, statusCode int, success bool, data interface{}, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response{Success: success, Data: data, Error: errorMsg}); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}

// Service serves the status endpoints over HTTP.
type Service struct {
	addr  string
	srv   *http.Server
	coord *checkpoint.Coordinator
	rec   *recovery.Manager

	logger zerolog.Logger
}

// New creates a status service bound to addr.
func New(addr string, coord *checkpoint.Coordinator, rec *recovery.Manager) *Service {
	return &Service{
		addr:   addr,
		coord:  coord,
		rec:    rec,
		logger: logger.GetLogger("httpd"),
	}
}

// Start begins serving. It returns once the listener is handed to the
// server goroutine.
func (s *Service) Start() error {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/checkpoints", s.handleCheckpoints)
	r.Get("/checkpoints/latest", s.handleLatestCheckpoint)
	r.Get("/failures", s.handleFailures)

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status service listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("status service stopped")
		}
	}()
	return nil
}

// Close shuts the server down.
func (s *Service) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Running    bool               `json:"running"`
		Recovering bool               `json:"recovering"`
		Metrics    checkpoint.Metrics `json:"metrics"`
	}
	sendResponse(w, http.StatusOK, true, status{
		Running:    s.coord.Running(),
		Recovering: s.rec.Recovering(),
		Metrics:    s.coord.Metrics(),
	}, "")
}

func (s *Service) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, http.StatusOK, true, s.coord.RetainedCheckpoints(), "")
}

func (s *Service) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	meta := s.coord.LatestCheckpoint()
	if meta == nil {
		sendResponse(w, http.StatusNotFound, false, nil, checkpoint.ErrNoCheckpoint.Error())
		return
	}
	sendResponse(w, http.StatusOK, true, meta, "")
}

func (s *Service) handleFailures(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, http.StatusOK, true, s.rec.History(), "")
}
