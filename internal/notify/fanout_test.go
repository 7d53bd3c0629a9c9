package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"colorcodely-go/internal/email"
	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/types"
)

var huntsville = types.TestingCenter{ID: "huntsville", Name: "Huntsville Probation Office", LogName: "DailyTranscriptions"}

var announcement = types.Announcement{Subject: "ColorCodely Notification for Huntsville", Body: "🎨 COLOR CODES: Amber"}

type fakeSubs struct {
	subs []types.Subscriber
	err  error
}

func (f *fakeSubs) Subscribers(context.Context, types.TestingCenter) ([]types.Subscriber, error) {
	return f.subs, f.err
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []email.Message
	fail   map[string]bool
	reject map[string]bool // bcc-mode per-recipient refusals
	err    error
}

func (m *fakeMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, to := range msg.To {
		if m.fail[to] {
			return errors.New("550 no such user")
		}
	}
	m.sent = append(m.sent, msg)
	failed := map[string]error{}
	for _, b := range msg.Bcc {
		if m.reject[b] {
			failed[b] = errors.New("550 no such user")
		}
	}
	if len(failed) > 0 {
		return &email.RecipientErrors{Failed: failed}
	}
	return nil
}

func (m *fakeMailer) addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.sent {
		out = append(out, msg.To...)
		out = append(out, msg.Bcc...)
	}
	sort.Strings(out)
	return out
}

type fakeSMS struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	panic map[string]bool
}

func (s *fakeSMS) SendSMS(_ context.Context, to, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic[to] {
		panic("transport exploded")
	}
	if s.fail[to] {
		return "", errors.New("21610 unsubscribed recipient")
	}
	s.sent = append(s.sent, to)
	return "SM" + to, nil
}

func subscribers() []types.Subscriber {
	return []types.Subscriber{
		{FullName: "Ada", Email: "ada@example.com", Phone: "(650) 253-0000", CenterID: "huntsville", Active: true},
		{FullName: "Bob", Email: "bob@example.com", Phone: "650-253-0001", CenterID: "Huntsville Probation Office", Active: true},
		{FullName: "Cy", Email: "cy@example.com", Phone: "+1 650 253 0002", CenterID: "HUNTSVILLE", Active: true},
		{FullName: "Inactive", Email: "gone@example.com", Phone: "650-253-0003", CenterID: "huntsville", Active: false},
		{FullName: "Other", Email: "other@example.com", Phone: "650-253-0004", CenterID: "madison", Active: true},
	}
}

func TestNotifyBCCHidesSubscribersBehindOperator(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{}
	f := New(Config{Mode: ModeBCC, OperatorAddress: "ops@colorcodely.example"}, &fakeSubs{subs: subscribers()}, mail, nil, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	require.Equal(t, []string{"ops@colorcodely.example"}, mail.sent[0].To)
	require.Equal(t, []string{"ada@example.com", "bob@example.com", "cy@example.com"}, mail.sent[0].Bcc)
	require.Equal(t, announcement.Subject, mail.sent[0].Subject)
	require.Equal(t, 3, report.Count(StatusSent))
	require.Equal(t, "huntsville", report.CenterID)
}

func TestNotifyNeverSendsToInactiveSubscribers(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{}
	sms := &fakeSMS{}
	f := New(Config{Mode: ModeIndividual, SMSEnabled: true, SMSPerSecond: 1000}, &fakeSubs{subs: subscribers()}, mail, sms, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)

	require.NotContains(t, mail.addresses(), "gone@example.com")
	require.NotContains(t, mail.addresses(), "other@example.com")
	require.NotContains(t, sms.sent, "+16502530003")
	require.NotContains(t, sms.sent, "+16502530004")
	for _, o := range report.Outcomes {
		require.NotEqual(t, "Inactive", o.Subscriber)
		require.NotEqual(t, "Other", o.Subscriber)
	}
	require.ElementsMatch(t, []string{"+16502530000", "+16502530001", "+16502530002"}, sms.sent)
}

func TestNotifyOneFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{fail: map[string]bool{"bob@example.com": true}}
	sms := &fakeSMS{fail: map[string]bool{"+16502530000": true}, panic: map[string]bool{"+16502530001": true}}
	f := New(Config{Mode: ModeIndividual, SMSEnabled: true, SMSPerSecond: 1000}, &fakeSubs{subs: subscribers()}, mail, sms, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Equal(t, []string{"ada@example.com", "cy@example.com"}, mail.addresses())
	require.Equal(t, []string{"+16502530002"}, sms.sent)

	failed := report.Failed()
	require.Len(t, failed, 3)
	byKey := map[string]Outcome{}
	for _, o := range failed {
		byKey[o.Channel+"/"+o.Subscriber] = o
	}
	require.Contains(t, byKey, "email/Bob")
	require.Contains(t, byKey, "sms/Ada")
	require.ErrorContains(t, byKey["sms/Bob"].Err, "panicked")
	require.Equal(t, 2+1, report.Count(StatusSent))
}

func TestNotifyBCCPartialRejection(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{reject: map[string]bool{"cy@example.com": true}}
	f := New(Config{OperatorAddress: "ops@colorcodely.example"}, &fakeSubs{subs: subscribers()}, mail, nil, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Equal(t, 2, report.Count(StatusSent))
	failed := report.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "cy@example.com", failed[0].Address)
}

func TestNotifyBCCTransportFailureFailsEveryone(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{err: errors.New("connection refused")}
	f := New(Config{OperatorAddress: "ops@colorcodely.example"}, &fakeSubs{subs: subscribers()}, mail, nil, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Equal(t, 0, report.Count(StatusSent))
	require.Len(t, report.Failed(), 3)
}

func TestNotifySubscriberReadFailureSendsNothing(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{}
	sms := &fakeSMS{}
	f := New(Config{OperatorAddress: "ops@colorcodely.example", SMSEnabled: true}, &fakeSubs{subs: subscribers(), err: errors.New("sheet unreachable")}, mail, sms, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.ErrorContains(t, err, "sheet unreachable")
	require.Empty(t, report.Outcomes)
	require.Empty(t, mail.sent)
	require.Empty(t, sms.sent)
}

func TestNotifySkipsBadPhonesAndDuplicates(t *testing.T) {
	t.Parallel()

	subs := []types.Subscriber{
		{FullName: "Ada", Email: "ada@example.com", Phone: "12345", CenterID: "huntsville", Active: true},
		{FullName: "Ada again", Email: "ADA@example.com", Phone: "650-253-0000", CenterID: "huntsville", Active: true},
		{FullName: "Bob", Email: "bob-at-example", Phone: "+1 (650) 253-0000", CenterID: "huntsville", Active: true},
	}
	mail := &fakeMailer{}
	sms := &fakeSMS{}
	f := New(Config{Mode: ModeIndividual, SMSEnabled: true, SMSPerSecond: 1000}, &fakeSubs{subs: subs}, mail, sms, nil, logger.Discard())

	report, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Equal(t, []string{"ada@example.com"}, mail.addresses())
	require.Equal(t, []string{"+16502530000"}, sms.sent)
	require.Equal(t, 4, report.Count(StatusSkipped))
	require.Empty(t, report.Failed())
}

func TestNewFallsBackToIndividualWithoutOperator(t *testing.T) {
	t.Parallel()

	mail := &fakeMailer{}
	f := New(Config{Mode: ModeBCC}, &fakeSubs{subs: subscribers()}, mail, nil, nil, logger.Discard())
	_, err := f.Notify(context.Background(), huntsville, announcement)
	require.NoError(t, err)
	require.Len(t, mail.sent, 3)
	for _, m := range mail.sent {
		require.Empty(t, m.Bcc)
		require.Len(t, m.To, 1)
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	got, err := NormalizePhone("(650) 253-0000", "")
	require.NoError(t, err)
	require.Equal(t, "+16502530000", got)

	got, err = NormalizePhone("+44 20 7031 3000", "US")
	require.NoError(t, err)
	require.Equal(t, "+442070313000", got)

	for _, bad := range []string{"", "12345", "not a number"} {
		_, err := NormalizePhone(bad, "US")
		require.ErrorIs(t, err, ErrInvalidPhone, bad)
	}
}
