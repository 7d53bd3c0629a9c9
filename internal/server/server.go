// Package server exposes the HTTP surface: health, metrics, per-center
// call triggers and the provider's recording webhook.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/metrics"
	"colorcodely-go/internal/types"
)

type CallPlacer interface {
	PlaceCall(ctx context.Context, center types.TestingCenter) (types.CallAttempt, error)
}

type Submitter interface {
	Submit(center types.TestingCenter, rec types.Recording) error
}

// DayChecker reports whether a center already has today's record.
type DayChecker interface {
	AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error)
}

// RecordReader serves reads from the transcription log.
type RecordReader interface {
	Latest(ctx context.Context, center types.TestingCenter) (*types.TranscriptionRecord, error)
	History(ctx context.Context, center types.TestingCenter, limit int) ([]types.TranscriptionRecord, error)
}

type Options struct {
	Centers  []types.TestingCenter
	Calls    CallPlacer
	Pipeline Submitter
	Records  RecordReader
	Days     DayChecker // optional; skips calls on days already recorded
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	// Webhook signature checks; the signed url is PublicBaseURL + request uri.
	ValidateSignatures bool
	AuthToken          string
	PublicBaseURL      string

	TZName string
	Log    *logger.Logger
}

type Server struct {
	router  chi.Router
	opts    Options
	centers map[string]types.TestingCenter
	loc     *time.Location
	log     *logger.Logger
	now     func() time.Time
}

func New(opts Options) *Server {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	s := &Server{
		opts:    opts,
		centers: make(map[string]types.TestingCenter, len(opts.Centers)),
		loc:     time.UTC,
		log:     opts.Log.Component("server"),
		now:     time.Now,
	}
	for _, c := range opts.Centers {
		s.centers[strings.ToLower(c.ID)] = c
	}
	if loc, err := time.LoadLocation(opts.TZName); err == nil && opts.TZName != "" {
		s.loc = loc
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/centers/{centerID}", func(r chi.Router) {
		r.Post("/calls", s.handlePlaceCall)
		r.Get("/latest", s.handleLatest)
		r.Get("/summary", s.handleSummary)
	})

	r.Route("/webhooks", func(r chi.Router) {
		if s.opts.ValidateSignatures {
			r.Use(s.requireSignature)
		}
		r.Post("/recording/{centerID}", s.handleRecording)
	})

	s.router = r
}

func (s *Server) center(r *http.Request) (types.TestingCenter, bool) {
	c, ok := s.centers[strings.ToLower(chi.URLParam(r, "centerID"))]
	return c, ok
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		s.log.WithError(err).Error("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
