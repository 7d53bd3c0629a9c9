// Package telephony talks to the Twilio REST API: outbound call placement,
// recording download, SMS and webhook signature checks.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/types"
)

const defaultAPIBase = "https://api.twilio.com"

// ErrStatus wraps every non-2xx provider response.
var ErrStatus = errors.New("unexpected provider status")

type Config struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	APIBase       string // defaults to https://api.twilio.com
	PublicBaseURL string // where the provider can reach our webhooks
	CallTimeout   time.Duration
	TimeLimit     time.Duration
	Listen        time.Duration
	MaxRetryTime  time.Duration
	HTTPTimeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger

	initialInterval time.Duration
	now             func() time.Time
}

func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio credentials not configured")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 55 * time.Second
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = 180 * time.Second
	}
	if cfg.Listen <= 0 {
		cfg.Listen = 150 * time.Second
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Client{
		cfg:             cfg,
		http:            &http.Client{Timeout: cfg.HTTPTimeout},
		log:             log.Component("telephony"),
		initialInterval: 500 * time.Millisecond,
		now:             time.Now,
	}, nil
}

// CallbackURL is the recording-status webhook registered for a center.
func (c *Client) CallbackURL(centerID string) string {
	return c.cfg.PublicBaseURL + "/webhooks/recording/" + url.PathEscape(centerID)
}

type apiResource struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall asks the provider to dial the center's announcement line and
// record it. It returns as soon as the provider accepts the call; completion
// arrives through the recording webhook. Only failures where the provider
// cannot have accepted the call are retried: 5xx responses and failed dials.
// Timeouts and dropped connections after the request was sent are not, since
// a retry could place a second call.
func (c *Client) PlaceCall(ctx context.Context, center types.TestingCenter) (types.CallAttempt, error) {
	if center.DialNumber == "" {
		return types.CallAttempt{}, fmt.Errorf("center %s has no dial number", center.ID)
	}
	twiml, err := ListenTwiML(c.cfg.Listen)
	if err != nil {
		return types.CallAttempt{}, err
	}
	form := url.Values{
		"To":                            {center.DialNumber},
		"From":                          {c.cfg.FromNumber},
		"Twiml":                         {twiml},
		"Record":                        {"true"},
		"Trim":                          {"trim-silence"},
		"RecordingStatusCallback":       {c.CallbackURL(center.ID)},
		"RecordingStatusCallbackMethod": {http.MethodPost},
		"RecordingStatusCallbackEvent":  {"completed"},
		"Timeout":                       {strconv.Itoa(int(c.cfg.CallTimeout.Seconds()))},
		"TimeLimit":                     {strconv.Itoa(int(c.cfg.TimeLimit.Seconds()))},
	}
	log := c.log.WithCenter(center)

	var res apiResource
	op := func() error {
		r, err := c.postForm(ctx, "Calls.json", form)
		if err != nil {
			log.WithError(err).Warn("call placement failed")
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = c.cfg.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return types.CallAttempt{}, fmt.Errorf("place call: %w", err)
	}

	attempt := types.CallAttempt{
		CallID:    res.SID,
		CenterID:  center.ID,
		Status:    res.Status,
		CreatedAt: c.now().UTC(),
	}
	log.WithField("call_sid", attempt.CallID).WithField("status", attempt.Status).Info("call placed")
	return attempt, nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}

// SendSMS sends one text message. Not retried.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	res, err := c.postForm(ctx, "Messages.json", url.Values{
		"To":   {to},
		"From": {c.cfg.FromNumber},
		"Body": {body},
	})
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	return res.SID, nil
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%s: status=%d", ErrStatus, e.code)
	}
	return fmt.Sprintf("%s: status=%d: %s", ErrStatus, e.code, e.msg)
}

func (e *statusError) Unwrap() error { return ErrStatus }

func (c *Client) postForm(ctx context.Context, resource string, form url.Values) (apiResource, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.cfg.APIBase, url.PathEscape(c.cfg.AccountSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apiResource{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResource{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResource{}, fmt.Errorf("read response: %w", err)
	}
	var res apiResource
	_ = json.Unmarshal(body, &res)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiResource{}, &statusError{code: resp.StatusCode, msg: res.Message}
	}
	if res.SID == "" {
		return apiResource{}, errors.New("provider response missing sid")
	}
	return res, nil
}
