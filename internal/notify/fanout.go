// Package notify delivers an announcement to the active subscribers of one
// testing center over email and SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"colorcodely-go/internal/email"
	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/metrics"
	"colorcodely-go/internal/types"
)

type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type SubscriberSource interface {
	Subscribers(ctx context.Context, center types.TestingCenter) ([]types.Subscriber, error)
}

type Mode string

const (
	// ModeBCC sends one email addressed to the operator with every
	// subscriber in the envelope only.
	ModeBCC        Mode = "bcc"
	ModeIndividual Mode = "individual"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the delivery result for one subscriber on one channel.
type Outcome struct {
	Subscriber string
	Channel    string
	Address    string
	Status     Status
	Err        error
}

type Report struct {
	CenterID string
	Outcomes []Outcome
}

func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

type Config struct {
	Mode            Mode
	OperatorAddress string
	SMSEnabled      bool
	SMSPerSecond    float64
	Region          string
}

type FanOut struct {
	cfg     Config
	subs    SubscriberSource
	mail    Mailer
	sms     SMSSender
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New builds a fan-out. sms may be nil when SMS is disabled.
func New(cfg Config, subs SubscriberSource, mail Mailer, sms SMSSender, m *metrics.Metrics, log *logger.Logger) *FanOut {
	if cfg.Mode == "" {
		cfg.Mode = ModeBCC
	}
	if cfg.Mode == ModeBCC && cfg.OperatorAddress == "" {
		cfg.Mode = ModeIndividual
	}
	if cfg.SMSPerSecond <= 0 {
		cfg.SMSPerSecond = 1
	}
	if sms == nil {
		cfg.SMSEnabled = false
	}
	return &FanOut{
		cfg:     cfg,
		subs:    subs,
		mail:    mail,
		sms:     sms,
		limiter: rate.NewLimiter(rate.Limit(cfg.SMSPerSecond), 1),
		metrics: m,
		log:     log.Component("notify"),
	}
}

// Notify resolves the center's subscribers and delivers msg to each active
// one. A subscriber read failure aborts before anything is sent. Individual
// delivery failures are recorded in the report and never stop the others.
func (f *FanOut) Notify(ctx context.Context, center types.TestingCenter, msg types.Announcement) (Report, error) {
	report := Report{CenterID: center.ID}
	log := f.log.WithCenter(center)

	all, err := f.subs.Subscribers(ctx, center)
	if err != nil {
		return report, fmt.Errorf("resolve subscribers: %w", err)
	}

	var recipients []types.Subscriber
	for _, s := range all {
		if s.Active && center.Matches(s.CenterID) {
			recipients = append(recipients, s)
		}
	}
	log.WithField("listed", len(all)).WithField("active", len(recipients)).Info("subscribers resolved")

	report.Outcomes = append(report.Outcomes, f.sendEmail(ctx, recipients, msg)...)
	if f.cfg.SMSEnabled {
		report.Outcomes = append(report.Outcomes, f.sendSMS(ctx, recipients, msg)...)
	}

	for _, o := range report.Outcomes {
		f.metrics.Notification(o.Channel, string(o.Status))
		entry := log.WithField("subscriber", o.Subscriber).WithField("channel", o.Channel).WithField("status", o.Status)
		switch o.Status {
		case StatusFailed:
			entry.WithError(o.Err).Warn("delivery failed")
		case StatusSkipped:
			entry.WithError(o.Err).Info("delivery skipped")
		}
	}
	log.WithField("sent", report.Count(StatusSent)).
		WithField("failed", report.Count(StatusFailed)).
		WithField("skipped", report.Count(StatusSkipped)).
		Info("fan-out complete")
	return report, nil
}

func (f *FanOut) sendEmail(ctx context.Context, recipients []types.Subscriber, msg types.Announcement) []Outcome {
	var (
		out   []Outcome
		queue []Outcome
		seen  = make(map[string]struct{})
	)
	for _, s := range recipients {
		addr := strings.TrimSpace(s.Email)
		o := Outcome{Subscriber: s.FullName, Channel: ChannelEmail, Address: addr}
		if addr == "" {
			continue
		}
		if !strings.Contains(addr, "@") {
			o.Status, o.Err = StatusSkipped, errors.New("malformed email address")
			out = append(out, o)
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			o.Status, o.Err = StatusSkipped, errors.New("duplicate email address")
			out = append(out, o)
			continue
		}
		seen[key] = struct{}{}
		queue = append(queue, o)
	}
	if len(queue) == 0 {
		return out
	}

	if f.cfg.Mode == ModeIndividual {
		for _, o := range queue {
			err := safeSend(func() error {
				return f.mail.Send(ctx, email.Message{To: []string{o.Address}, Subject: msg.Subject, Body: msg.Body})
			})
			out = append(out, settle(o, err))
		}
		return out
	}

	bcc := make([]string, len(queue))
	for i, o := range queue {
		bcc[i] = o.Address
	}
	err := safeSend(func() error {
		return f.mail.Send(ctx, email.Message{
			To:      []string{f.cfg.OperatorAddress},
			Bcc:     bcc,
			Subject: msg.Subject,
			Body:    msg.Body,
		})
	})

	// per-recipient refusals fail only those subscribers
	var rerr *email.RecipientErrors
	perRecipient := errors.As(err, &rerr)
	for _, o := range queue {
		if perRecipient {
			out = append(out, settle(o, rerr.Failed[o.Address]))
			continue
		}
		out = append(out, settle(o, err))
	}
	return out
}

func (f *FanOut) sendSMS(ctx context.Context, recipients []types.Subscriber, msg types.Announcement) []Outcome {
	var out []Outcome
	seen := make(map[string]struct{})
	for _, s := range recipients {
		if strings.TrimSpace(s.Phone) == "" {
			continue
		}
		o := Outcome{Subscriber: s.FullName, Channel: ChannelSMS, Address: s.Phone}
		e164, err := NormalizePhone(s.Phone, f.cfg.Region)
		if err != nil {
			o.Status, o.Err = StatusSkipped, err
			out = append(out, o)
			continue
		}
		o.Address = e164
		if _, dup := seen[e164]; dup {
			o.Status, o.Err = StatusSkipped, errors.New("duplicate phone number")
			out = append(out, o)
			continue
		}
		seen[e164] = struct{}{}

		if err := f.limiter.Wait(ctx); err != nil {
			out = append(out, settle(o, fmt.Errorf("rate limiter: %w", err)))
			continue
		}
		err = safeSend(func() error {
			_, err := f.sms.SendSMS(ctx, e164, smsText(msg))
			return err
		})
		out = append(out, settle(o, err))
	}
	return out
}

func smsText(msg types.Announcement) string {
	return msg.Subject + "\n\n" + msg.Body
}

func settle(o Outcome, err error) Outcome {
	if err != nil {
		o.Status, o.Err = StatusFailed, err
		return o
	}
	o.Status = StatusSent
	return o
}

// safeSend turns a panicking transport into a failed outcome for that
// subscriber instead of taking down the run.
func safeSend(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return fn()
}
