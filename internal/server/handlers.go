package server

import (
	"errors"
	"net/http"
	"strconv"

	"colorcodely-go/internal/aggregator"
	"colorcodely-go/internal/processor"
	"colorcodely-go/internal/types"
)

type healthResponse struct {
	OK   bool   `json:"ok"`
	Date string `json:"date"`
	TZ   string `json:"tz"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	s.writeJSON(w, http.StatusOK, healthResponse{
		OK:   true,
		Date: s.now().In(s.loc).Format("2006-01-02"),
		TZ:   s.loc.String(),
	})
}

type callResponse struct {
	CallSID  string `json:"call_sid"`
	CenterID string `json:"center_id"`
	Status   string `json:"status,omitempty"`
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "place_call")
	center, ok := s.center(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown testing center")
		return
	}
	reqLog = reqLog.WithField("center_id", center.ID)

	if s.opts.Days != nil {
		date := center.Now(s.now()).Format("2006-01-02")
		sent, err := s.opts.Days.AlreadySentToday(r.Context(), center, date)
		switch {
		case err != nil:
			// the pipeline re-checks and fails closed, so the call still goes out
			reqLog.WithError(err).Warn("day check failed; placing call anyway")
		case sent:
			s.opts.Metrics.Call(center.ID, "already_sent")
			reqLog.WithField("date", date).Info("already recorded today; call not placed")
			s.writeJSON(w, http.StatusOK, callResponse{CenterID: center.ID, Status: "already_sent"})
			return
		}
	}

	attempt, err := s.opts.Calls.PlaceCall(r.Context(), center)
	if err != nil {
		s.opts.Metrics.Call(center.ID, "error")
		reqLog.WithError(err).Error("call placement failed")
		s.writeError(w, http.StatusBadGateway, "call placement failed")
		return
	}
	s.opts.Metrics.Call(center.ID, "ok")
	reqLog.WithField("call_sid", attempt.CallID).Info("call placed")
	s.writeJSON(w, http.StatusOK, callResponse{CallSID: attempt.CallID, CenterID: center.ID, Status: attempt.Status})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	center, ok := s.center(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown testing center")
		return
	}
	rec, err := s.opts.Records.Latest(r.Context(), center)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("latest transcription lookup failed")
		s.writeError(w, http.StatusServiceUnavailable, "transcription log unavailable")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "no transcription recorded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

const (
	defaultSummaryDays = 30
	maxSummaryDays     = 366
)

// handleSummary rolls up the last ?days= entries of the center's log.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	center, ok := s.center(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown testing center")
		return
	}
	days := defaultSummaryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = min(n, maxSummaryDays)
	}
	recs, err := s.opts.Records.History(r.Context(), center, days)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("transcription history lookup failed")
		s.writeError(w, http.StatusServiceUnavailable, "transcription log unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, aggregator.Aggregate(center.ID, recs))
}

type webhookResponse struct {
	Status string `json:"status"`
}

// handleRecording receives the provider's recording-status callback. It only
// admits and queues the run, so the provider gets its 200 promptly.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "recording_webhook")
	center, ok := s.center(r)
	if !ok {
		s.opts.Metrics.Webhook("unknown_center")
		s.writeError(w, http.StatusNotFound, "unknown testing center")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.opts.Metrics.Webhook("malformed")
		s.writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	rec := types.Recording{
		RecordingID: r.PostForm.Get("RecordingSid"),
		CallID:      r.PostForm.Get("CallSid"),
		URL:         r.PostForm.Get("RecordingUrl"),
		Duration:    r.PostForm.Get("RecordingDuration"),
		Status:      r.PostForm.Get("RecordingStatus"),
	}
	reqLog = reqLog.WithField("center_id", center.ID).
		WithField("call_sid", rec.CallID).
		WithField("recording_sid", rec.RecordingID)

	if rec.Status != "" && rec.Status != "completed" {
		s.opts.Metrics.Webhook("ignored")
		reqLog.WithField("recording_status", rec.Status).Info("non-final recording status ignored")
		s.writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	if rec.RecordingID == "" || rec.URL == "" {
		s.opts.Metrics.Webhook("malformed")
		reqLog.Warn("recording callback missing RecordingSid or RecordingUrl")
		s.writeError(w, http.StatusBadRequest, "missing RecordingSid or RecordingUrl")
		return
	}

	switch err := s.opts.Pipeline.Submit(center, rec); {
	case err == nil:
		reqLog.Info("recording accepted")
		s.writeJSON(w, http.StatusOK, webhookResponse{Status: "accepted"})
	case errors.Is(err, processor.ErrDuplicate):
		s.writeJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
	case errors.Is(err, processor.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		reqLog.WithError(err).Error("recording submit failed")
		s.writeError(w, http.StatusInternalServerError, "submit failed")
	}
}
