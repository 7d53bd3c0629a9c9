package types

import (
	"strings"
	"time"
)

// TestingCenter is one configured announcement source. Loaded once at startup.
type TestingCenter struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	DialNumber    string         `json:"dial_number" yaml:"dial_number"`
	AnnouncePhone string         `json:"announcement_phone" yaml:"announcement_phone"`
	LogName       string         `json:"log_name" yaml:"log_name"`
	Timezone      string         `json:"timezone" yaml:"timezone"`
	Location      *time.Location `json:"-" yaml:"-"`
}

// Now returns the current wall-clock time in the center's timezone.
func (c TestingCenter) Now(now time.Time) time.Time {
	if c.Location == nil {
		return now
	}
	return now.In(c.Location)
}

// Matches reports whether a subscriber affiliation refers to this center,
// by id or display name.
func (c TestingCenter) Matches(affiliation string) bool {
	a := strings.TrimSpace(affiliation)
	if a == "" {
		return false
	}
	return strings.EqualFold(a, c.ID) || (c.Name != "" && strings.EqualFold(a, c.Name))
}

// CallAttempt is one outbound call placed with the telephony provider.
type CallAttempt struct {
	CallID    string    `json:"call_id"`
	CenterID  string    `json:"center_id"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Recording is a completed audio capture delivered by the recording webhook.
type Recording struct {
	RecordingID string `json:"recording_id"`
	CallID      string `json:"call_id"`
	URL         string `json:"recording_url"`
	Duration    string `json:"recording_duration,omitempty"`
	Status      string `json:"recording_status,omitempty"`
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TranscriptionRecord is the append-only output of one successful pipeline run.
type TranscriptionRecord struct {
	ID          string     `json:"id"`
	CenterID    string     `json:"center_id"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	CallID      string     `json:"call_id"`
	RecordingID string     `json:"recording_id,omitempty"`
	Duration    string     `json:"recording_duration,omitempty"`
	Colors      []string   `json:"colors"`
	Confidence  Confidence `json:"confidence"`
	Text        string     `json:"transcription"`
}

// Subscriber is a person registered for alerts. Read-only for the pipeline.
type Subscriber struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	CenterID string `json:"testing_center"`
	Active   bool   `json:"active"`
}

// Announcement is the subscriber-facing message, built fresh per run.
type Announcement struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	NoColors bool   `json:"no_colors"`
}
