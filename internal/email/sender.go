// Package email delivers plain-text announcements over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"colorcodely-go/internal/logger"
)

var ErrNotConfigured = errors.New("smtp not configured")

// Config holds the SMTP relay settings.
type Config struct {
	Host     string // SMTP server hostname
	Port     string // 25, 587, 465
	From     string // envelope and header From
	Username string
	Password string
	TLS      string // "none", "starttls", "tls"
}

// Valid returns true if the minimum required fields are set.
func (c Config) Valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// Message is one outgoing email. Bcc recipients get an envelope RCPT but
// never appear in the headers.
type Message struct {
	To      []string
	Bcc     []string
	Subject string
	Body    string
}

func (m Message) recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Bcc))
	seen := make(map[string]struct{}, cap(out))
	for _, r := range append(append([]string{}, m.To...), m.Bcc...) {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RecipientErrors reports envelope recipients the server refused while the
// message was still delivered to the rest.
type RecipientErrors struct {
	Failed map[string]error
}

func (e *RecipientErrors) Error() string {
	addrs := make([]string, 0, len(e.Failed))
	for a := range e.Failed {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return fmt.Sprintf("smtp rejected %d recipient(s): %s", len(addrs), strings.Join(addrs, ", "))
}

// Sender sends email via SMTP.
type Sender struct {
	cfg Config
	log *logger.Logger
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
	now      func() time.Time
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

func NewSender(cfg Config, log *logger.Logger) *Sender {
	return &Sender{
		cfg:      cfg,
		log:      log.Component("email"),
		dialFunc: defaultDial,
		now:      time.Now,
	}
}

// From returns the configured sender address.
func (s *Sender) From() string { return s.cfg.From }

// Send delivers msg in one SMTP session. If some recipients are refused and
// at least one is accepted, the message is sent and a *RecipientErrors is
// returned. If every recipient is refused nothing is sent.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Valid() {
		return ErrNotConfigured
	}
	rcpts := msg.recipients()
	if len(rcpts) == 0 {
		return errors.New("no recipient email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}
	if strings.EqualFold(s.cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	failed := make(map[string]error)
	for _, r := range rcpts {
		if err := client.Rcpt(r); err != nil {
			failed[r] = err
		}
	}
	if len(failed) == len(rcpts) {
		return fmt.Errorf("smtp rcpt to: %w", &RecipientErrors{Failed: failed})
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.buildMessage(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	if err := client.Quit(); err != nil {
		s.log.WithError(err).Warn("smtp quit error (non-fatal)")
	}

	s.log.WithField("recipients", len(rcpts)-len(failed)).
		WithField("rejected", len(failed)).
		WithField("subject", msg.Subject).
		Info("email sent")

	if len(failed) > 0 {
		return &RecipientErrors{Failed: failed}
	}
	return nil
}

// defaultDial connects to the SMTP server using either plain TCP or implicit TLS.
func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

func (s *Sender) buildMessage(msg Message) []byte {
	var buf bytes.Buffer

	to := strings.Join(msg.To, ", ")
	if to == "" {
		to = "undisclosed-recipients:;"
	}
	body := strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n")

	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: 8bit\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\r\n") {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
