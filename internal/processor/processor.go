// Package processor owns the recording pipeline: one run per admitted
// recording, executed off the webhook request path.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"colorcodely-go/internal/announcement"
	"colorcodely-go/internal/email"
	"colorcodely-go/internal/extractor"
	"colorcodely-go/internal/guard"
	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/metrics"
	"colorcodely-go/internal/notify"
	"colorcodely-go/internal/transcription"
	"colorcodely-go/internal/types"
)

var (
	ErrDuplicate    = errors.New("recording already admitted")
	ErrShuttingDown = errors.New("processor shutting down")
)

type AudioFetcher interface {
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, string, error)
}

type Appender interface {
	AppendTranscription(ctx context.Context, center types.TestingCenter, rec types.TranscriptionRecord) error
}

type Notifier interface {
	Notify(ctx context.Context, center types.TestingCenter, msg types.Announcement) (notify.Report, error)
}

// Mailer delivers operator alerts.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeNoColors         Outcome = "no_colors"
	OutcomeAlreadySent      Outcome = "already_sent"
	OutcomeInFlight         Outcome = "in_flight"
	OutcomeGuardUnavailable Outcome = "guard_unavailable"
	OutcomeFailed           Outcome = "failed"
)

// Result describes one pipeline run.
type Result struct {
	CenterID    string           `json:"center_id"`
	RecordingID string           `json:"recording_id"`
	CallID      string           `json:"call_id"`
	Date        string           `json:"date"`
	Outcome     Outcome          `json:"outcome"`
	Stage       string           `json:"stage,omitempty"`
	Colors      []string         `json:"colors"`
	Confidence  types.Confidence `json:"confidence,omitempty"`
	Transcript  string           `json:"transcript,omitempty"`
	Report      notify.Report    `json:"-"`
	DurationMs  int64            `json:"duration_ms"`
	Error       string           `json:"error,omitempty"`
}

type Deps struct {
	Guard       *guard.Guard
	Audio       AudioFetcher
	Transcriber transcription.Transcriber
	Normalizer  *transcription.Normalizer
	Matcher     *extractor.Matcher
	Store       Appender
	Notifier    Notifier
	Alerts      Mailer // optional
	Metrics     *metrics.Metrics
}

type Config struct {
	OperatorAddress string
	RunTimeout      time.Duration
	// OnResult, when set, observes every finished run.
	OnResult func(Result)
}

type Processor struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
	now  func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func New(deps Deps, cfg Config, log *logger.Logger) *Processor {
	if deps.Normalizer == nil {
		deps.Normalizer = transcription.Default()
	}
	if deps.Matcher == nil {
		deps.Matcher = extractor.NewMatcher(extractor.DefaultVocabulary)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Processor{
		deps:   deps,
		cfg:    cfg,
		log:    log.Component("processor"),
		now:    time.Now,
		base:   base,
		cancel: cancel,
	}
}

// Submit admits the recording and starts its run in the background. Admission
// happens before any network I/O, so a redelivered webhook costs nothing.
func (p *Processor) Submit(center types.TestingCenter, rec types.Recording) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShuttingDown
	}
	if !p.deps.Guard.Admit(rec.RecordingID) {
		p.deps.Metrics.Webhook("duplicate")
		p.log.WithCenter(center).WithField("recording_sid", rec.RecordingID).Info("duplicate recording callback ignored")
		return ErrDuplicate
	}
	p.deps.Metrics.Webhook("admitted")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.base, p.cfg.RunTimeout)
		defer cancel()
		p.Run(ctx, center, rec)
	}()
	return nil
}

// Shutdown stops accepting recordings and waits for in-flight runs. When ctx
// expires first the runs are cancelled and ctx.Err() is returned.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes the pipeline for an already admitted recording: day-guard,
// download, transcribe, normalize, extract, format, persist, notify.
// Steps run strictly in order; any transient failure stops the run and
// alerts the operator, and nothing is retried.
func (p *Processor) Run(ctx context.Context, center types.TestingCenter, rec types.Recording) Result {
	start := p.now()
	local := center.Now(start)
	res := Result{
		CenterID:    center.ID,
		RecordingID: rec.RecordingID,
		CallID:      rec.CallID,
		Date:        local.Format("2006-01-02"),
		Colors:      []string{},
	}
	log := p.log.WithCenter(center).
		WithField("call_sid", rec.CallID).
		WithField("recording_sid", rec.RecordingID).
		WithField("date", res.Date)

	finish := func(o Outcome) Result {
		res.Outcome = o
		res.DurationMs = p.now().Sub(start).Milliseconds()
		p.deps.Metrics.Run(center.ID, string(o), p.now().Sub(start))
		if p.cfg.OnResult != nil {
			p.cfg.OnResult(res)
		}
		return res
	}
	fail := func(stage string, err error) Result {
		res.Stage, res.Error = stage, err.Error()
		log.WithField("stage", stage).WithError(err).Error("pipeline run failed")
		p.alert(ctx, center, rec, res.Date, stage, err)
		return finish(OutcomeFailed)
	}

	claim, err := p.deps.Guard.Claim(ctx, center, res.Date)
	switch {
	case errors.Is(err, guard.ErrAlreadySent):
		log.Info("already notified today; run skipped")
		return finish(OutcomeAlreadySent)
	case errors.Is(err, guard.ErrInFlight):
		log.Info("another run holds today; run skipped")
		return finish(OutcomeInFlight)
	case err != nil:
		res.Stage, res.Error = "guard", err.Error()
		log.WithError(err).Error("day-guard check failed; not notifying")
		p.alert(ctx, center, rec, res.Date, "guard", err)
		return finish(OutcomeGuardUnavailable)
	}
	defer claim.Release()

	audio, filename, err := p.deps.Audio.FetchRecording(ctx, rec.URL)
	if err != nil {
		return fail("download", err)
	}

	t0 := p.now()
	raw, err := p.deps.Transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return fail("transcribe", err)
	}
	p.deps.Metrics.Transcribed(p.now().Sub(t0))

	norm := p.deps.Normalizer.Normalize(raw)
	ex := p.deps.Matcher.Extract(norm.Match)
	res.Colors = ex.Colors
	res.Confidence = Confidence(ex, norm.Truncated)
	res.Transcript = norm.Text
	msg := announcement.Format(local, center, ex.Colors)

	record := types.TranscriptionRecord{
		ID:          uuid.NewString(),
		CenterID:    center.ID,
		Date:        res.Date,
		Time:        local.Format("15:04:05"),
		CallID:      rec.CallID,
		RecordingID: rec.RecordingID,
		Duration:    rec.Duration,
		Colors:      ex.Colors,
		Confidence:  res.Confidence,
		Text:        norm.Text,
	}
	if err := p.deps.Store.AppendTranscription(ctx, center, record); err != nil {
		return fail("persist", err)
	}
	// The day is spent once the record exists, even if fan-out is partial.
	claim.Commit()
	log.WithField("colors", strings.Join(ex.Colors, ",")).
		WithField("confidence", res.Confidence).
		Info("transcription recorded")

	report, err := p.deps.Notifier.Notify(ctx, center, msg)
	res.Report = report
	if err != nil {
		return fail("notify", err)
	}
	if len(ex.Colors) == 0 {
		return finish(OutcomeNoColors)
	}
	return finish(OutcomeSent)
}

// Confidence grades an extraction: high when colors were found in a full
// utterance, medium when the utterance was cut short or a color needed fuzzy
// matching, low when nothing was found.
func Confidence(ex extractor.Extraction, fullUtterance bool) types.Confidence {
	switch {
	case len(ex.Colors) == 0:
		return types.ConfidenceLow
	case ex.Fuzzy || !fullUtterance:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceHigh
	}
}

func (p *Processor) alert(ctx context.Context, center types.TestingCenter, rec types.Recording, date, stage string, cause error) {
	if p.deps.Alerts == nil || p.cfg.OperatorAddress == "" {
		return
	}
	body := fmt.Sprintf(
		"Date: %s (%s)\nTesting center: %s\nStage: %s\nCallSid: %s\nRecordingSid: %s\nRecordingUrl: %s\nRecordingDuration: %s\n\nERROR:\n%v\n",
		date, center.Timezone, center.ID, stage, rec.CallID, rec.RecordingID, rec.URL, rec.Duration, cause,
	)
	// the run context may already be spent
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := p.deps.Alerts.Send(actx, email.Message{
		To:      []string{p.cfg.OperatorAddress},
		Subject: fmt.Sprintf("ColorCodely ERROR: %s (%s)", center.ID, date),
		Body:    body,
	})
	if err != nil {
		p.log.WithCenter(center).WithError(err).Error("operator alert failed")
	}
}
