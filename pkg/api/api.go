// Package api serves the gripper status page and its JSON endpoints.
package api

import (
	"context"
	_ "embed"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gwillem/gripper/pkg/control"
	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/telemetry"
)

//go:embed static/index.html
var indexHTML []byte

// InstanceHeader carries the controller instance id on every response.
const InstanceHeader = "X-Gripper-Instance"

// Controller is what the API needs from the control package.
type Controller interface {
	Telemetry(ctx context.Context) (telemetry.Snapshot, bool, error)
	Status() control.Status
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Current     int       `json:"current"`     // engineering units
	Position    int       `json:"position"`    // raw steps
	Voltage     float64   `json:"voltage"`     // volts, one decimal
	Torque      int       `json:"torque"`      // raw load
	Temperature int       `json:"temperature"` // raw
	CapturedAt  time.Time `json:"captured_at"`
	Stale       bool      `json:"stale"` // fresh read failed, this is the last good one
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Instance      string            `json:"instance"`
	Uptime        string            `json:"uptime"`
	State         gripper.State     `json:"state"`
	Primed        bool              `json:"primed"`
	Positions     gripper.Positions `json:"positions"`
	WriteFailures uint64            `json:"write_failures"`
	ReadFailures  uint64            `json:"read_failures"`
	BusSessions   uint64            `json:"bus_sessions"`
	BusContended  uint64            `json:"bus_contended"`
	BusAbandoned  uint64            `json:"bus_abandoned"`
}

// ErrorResponse is returned with non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server holds the HTTP handlers.
type Server struct {
	ctrl      Controller
	positions gripper.Positions
	log       zerolog.Logger
	instance  uuid.UUID
	started   time.Time
}

// NewServer creates a server for a controller.
func NewServer(ctrl Controller, positions gripper.Positions, log zerolog.Logger) *Server {
	return &Server{
		ctrl:      ctrl,
		positions: positions,
		log:       log,
		instance:  uuid.New(),
		started:   time.Now(),
	}
}

// Instance returns the id reported in InstanceHeader.
func (s *Server) Instance() uuid.UUID {
	return s.instance
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.instanceHeader)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Get("/", s.index)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/health", s.health)
	})

	return r
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.ctrl.Telemetry(r.Context())
	if !ok {
		if err != nil {
			s.log.Debug().Err(err).Msg("No telemetry available")
		}
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{Error: "no telemetry yet"})
		return
	}

	stale := err != nil
	if stale {
		s.log.Debug().Err(err).Dur("age", snap.Age(time.Now())).Msg("Serving cached telemetry")
	}
	render.JSON(w, r, newStatusResponse(snap, stale))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	render.JSON(w, r, HealthResponse{
		Instance:      s.instance.String(),
		Uptime:        time.Since(s.started).Truncate(time.Second).String(),
		State:         st.State,
		Primed:        st.Primed,
		Positions:     s.positions,
		WriteFailures: st.WriteFailures,
		ReadFailures:  st.ReadFailures,
		BusSessions:   st.Bus.Sessions,
		BusContended:  st.Bus.Contended,
		BusAbandoned:  st.Bus.Abandoned,
	})
}

func newStatusResponse(snap telemetry.Snapshot, stale bool) StatusResponse {
	return StatusResponse{
		Current:     snap.Sample.ScaledCurrent(),
		Position:    snap.Sample.Position,
		Voltage:     math.Round(snap.Sample.Volts()*10) / 10,
		Torque:      snap.Sample.Load,
		Temperature: snap.Sample.Temperature,
		CapturedAt:  snap.CapturedAt,
		Stale:       stale,
	}
}

func (s *Server) instanceHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(InstanceHeader, s.instance.String())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
