package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/metrics"
	"colorcodely-go/internal/processor"
	"colorcodely-go/internal/telephony"
	"colorcodely-go/internal/types"
)

var huntsville = types.TestingCenter{ID: "huntsville", Name: "Huntsville", DialNumber: "+12565550100", LogName: "DailyTranscriptions"}

type fakeCalls struct {
	err    error
	placed *atomic.Int32
}

func (f fakeCalls) PlaceCall(_ context.Context, c types.TestingCenter) (types.CallAttempt, error) {
	if f.placed != nil {
		f.placed.Add(1)
	}
	if f.err != nil {
		return types.CallAttempt{}, f.err
	}
	return types.CallAttempt{CallID: "CA42", CenterID: c.ID, Status: "queued"}, nil
}

type fakePipeline struct {
	mu   sync.Mutex
	seen map[string]bool
	got  []types.Recording
	err  error
}

func (f *fakePipeline) Submit(_ types.TestingCenter, rec types.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[rec.RecordingID] {
		return processor.ErrDuplicate
	}
	f.seen[rec.RecordingID] = true
	f.got = append(f.got, rec)
	return nil
}

type fakeRecords struct {
	rec     *types.TranscriptionRecord
	history []types.TranscriptionRecord
	err     error
	limit   *int
}

func (f fakeRecords) Latest(context.Context, types.TestingCenter) (*types.TranscriptionRecord, error) {
	return f.rec, f.err
}

func (f fakeRecords) History(_ context.Context, _ types.TestingCenter, limit int) ([]types.TranscriptionRecord, error) {
	if f.limit != nil {
		*f.limit = limit
	}
	return f.history, f.err
}

func newTestServer(opts Options) *Server {
	reg := prometheus.NewRegistry()
	opts.Centers = []types.TestingCenter{huntsville}
	opts.Gatherer = reg
	opts.Metrics = metrics.New(reg)
	opts.Log = logger.Discard()
	if opts.Calls == nil {
		opts.Calls = fakeCalls{}
	}
	if opts.Pipeline == nil {
		opts.Pipeline = &fakePipeline{}
	}
	if opts.Records == nil {
		opts.Records = fakeRecords{}
	}
	if opts.TZName == "" {
		opts.TZName = "UTC"
	}
	s := New(opts)
	s.now = func() time.Time { return time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func recordingForm() url.Values {
	return url.Values{
		"CallSid":           {"CA1"},
		"RecordingSid":      {"RE1"},
		"RecordingUrl":      {"https://api.twilio.com/Recordings/RE1"},
		"RecordingDuration": {"42"},
		"RecordingStatus":   {"completed"},
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(Options{TZName: "America/Chicago"})

	rr := do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, true, got["ok"])
	require.Equal(t, "2026-10-13", got["date"], "03:00 UTC is still the previous day in Chicago")
	require.Equal(t, "America/Chicago", got["tz"])
}

func TestPlaceCall(t *testing.T) {
	t.Parallel()
	s := newTestServer(Options{})

	rr := do(t, s, http.MethodPost, "/centers/huntsville/calls", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got callResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "CA42", got.CallSID)
	require.Equal(t, "huntsville", got.CenterID)

	rr = do(t, s, http.MethodPost, "/centers/nowhere/calls", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, newTestServer(Options{Calls: fakeCalls{err: errors.New("boom")}}), http.MethodPost, "/centers/huntsville/calls", nil, nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

type fakeDays struct {
	sent map[string]bool
	err  error
}

func (f fakeDays) AlreadySentToday(_ context.Context, c types.TestingCenter, date string) (bool, error) {
	return f.sent[c.ID+"/"+date], f.err
}

func TestPlaceCallSkipsDayAlreadyRecorded(t *testing.T) {
	t.Parallel()

	var placed atomic.Int32
	// the test clock is 2026-10-14 03:00 UTC
	s := newTestServer(Options{
		Calls: fakeCalls{placed: &placed},
		Days:  fakeDays{sent: map[string]bool{"huntsville/2026-10-14": true}},
	})
	rr := do(t, s, http.MethodPost, "/centers/huntsville/calls", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got callResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "already_sent", got.Status)
	require.Empty(t, got.CallSID)
	require.Zero(t, placed.Load())

	rr = do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Contains(t, rr.Body.String(), `colorcodely_calls_total{center="huntsville",result="already_sent"} 1`)

	// a failing check does not block the call
	s = newTestServer(Options{
		Calls: fakeCalls{placed: &placed},
		Days:  fakeDays{err: errors.New("sheet locked")},
	})
	rr = do(t, s, http.MethodPost, "/centers/huntsville/calls", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, placed.Load())

	s = newTestServer(Options{
		Calls: fakeCalls{placed: &placed},
		Days:  fakeDays{sent: map[string]bool{"huntsville/2026-10-13": true}},
	})
	rr = do(t, s, http.MethodPost, "/centers/huntsville/calls", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 2, placed.Load())
}

func TestRecordingWebhookAcceptsOnceThenAbsorbsDuplicates(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	s := newTestServer(Options{Pipeline: p})

	rr := do(t, s, http.MethodPost, "/webhooks/recording/huntsville", recordingForm(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "accepted")

	rr = do(t, s, http.MethodPost, "/webhooks/recording/huntsville", recordingForm(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "duplicate")

	require.Len(t, p.got, 1)
	require.Equal(t, types.Recording{
		RecordingID: "RE1",
		CallID:      "CA1",
		URL:         "https://api.twilio.com/Recordings/RE1",
		Duration:    "42",
		Status:      "completed",
	}, p.got[0])
}

func TestRecordingWebhookFiltersAndValidates(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	s := newTestServer(Options{Pipeline: p})

	inProgress := recordingForm()
	inProgress.Set("RecordingStatus", "in-progress")
	rr := do(t, s, http.MethodPost, "/webhooks/recording/huntsville", inProgress, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ignored")

	noSid := recordingForm()
	noSid.Del("RecordingSid")
	rr = do(t, s, http.MethodPost, "/webhooks/recording/huntsville", noSid, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/webhooks/recording/nowhere", recordingForm(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	require.Empty(t, p.got)
}

func TestRecordingWebhookDuringShutdown(t *testing.T) {
	t.Parallel()
	s := newTestServer(Options{Pipeline: &fakePipeline{err: processor.ErrShuttingDown}})

	rr := do(t, s, http.MethodPost, "/webhooks/recording/huntsville", recordingForm(), nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRecordingWebhookSignature(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	s := newTestServer(Options{
		Pipeline:           p,
		ValidateSignatures: true,
		AuthToken:          "secret",
		PublicBaseURL:      "https://colorcodely.example/",
	})

	form := recordingForm()
	rr := do(t, s, http.MethodPost, "/webhooks/recording/huntsville", form, http.Header{
		telephony.SignatureHeader: {"bogus"},
	})
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, p.got)

	sig := telephony.Sign("secret", "https://colorcodely.example/webhooks/recording/huntsville", form)
	rr = do(t, s, http.MethodPost, "/webhooks/recording/huntsville", form, http.Header{
		telephony.SignatureHeader: {sig},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, p.got, 1)
}

func TestLatest(t *testing.T) {
	t.Parallel()

	rec := &types.TranscriptionRecord{ID: "r1", CenterID: "huntsville", Date: "2026-10-14", Colors: []string{"AMBER"}, Confidence: types.ConfidenceHigh}
	rr := do(t, newTestServer(Options{Records: fakeRecords{rec: rec}}), http.MethodGet, "/centers/huntsville/latest", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got types.TranscriptionRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, []string{"AMBER"}, got.Colors)

	rr = do(t, newTestServer(Options{}), http.MethodGet, "/centers/huntsville/latest", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, newTestServer(Options{Records: fakeRecords{err: errors.New("locked")}}), http.MethodGet, "/centers/huntsville/latest", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	var limit int
	history := []types.TranscriptionRecord{
		{Date: "2026-10-12", Colors: []string{"AMBER", "TEAL"}, Confidence: types.ConfidenceHigh},
		{Date: "2026-10-13", Colors: []string{}, Confidence: types.ConfidenceHigh},
		{Date: "2026-10-14", Colors: []string{"AMBER"}, Confidence: types.ConfidenceLow},
	}
	s := newTestServer(Options{Records: fakeRecords{history: history, limit: &limit}})

	rr := do(t, s, http.MethodGet, "/centers/huntsville/summary", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 30, limit)

	var got struct {
		CenterID    string         `json:"center_id"`
		Days        int            `json:"days"`
		NoColorDays int            `json:"no_color_days"`
		ColorCounts map[string]int `json:"color_counts"`
		LastDate    string         `json:"last_date"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "huntsville", got.CenterID)
	require.Equal(t, 3, got.Days)
	require.Equal(t, 1, got.NoColorDays)
	require.Equal(t, 2, got.ColorCounts["AMBER"])
	require.Equal(t, "2026-10-14", got.LastDate)

	rr = do(t, s, http.MethodGet, "/centers/huntsville/summary?days=1000", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 366, limit)

	rr = do(t, s, http.MethodGet, "/centers/huntsville/summary?days=-2", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, newTestServer(Options{Records: fakeRecords{err: errors.New("locked")}}), http.MethodGet, "/centers/huntsville/summary", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, s, http.MethodGet, "/centers/madison/summary", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(Options{})

	do(t, s, http.MethodPost, "/centers/huntsville/calls", nil, nil)
	rr := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `colorcodely_calls_total{center="huntsville",result="ok"} 1`)
}
