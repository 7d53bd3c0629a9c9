// Package store is the persistence log: transcription records are appended
// per testing center and subscribers are read for fan-out.
package store

import (
	"context"
	"errors"
	"strings"

	"colorcodely-go/internal/types"
)

var (
	ErrUnknownLog     = errors.New("unknown log")
	ErrNoSubscribers  = errors.New("subscriber list not found")
	ErrMissingColumns = errors.New("required column missing")
)

// Store is the source of truth for the day-guard and the subscriber list.
type Store interface {
	AppendTranscription(ctx context.Context, center types.TestingCenter, rec types.TranscriptionRecord) error
	Subscribers(ctx context.Context, center types.TestingCenter) ([]types.Subscriber, error)
	AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error)
	Latest(ctx context.Context, center types.TestingCenter) (*types.TranscriptionRecord, error)
	// History returns up to limit most recent records, oldest first.
	History(ctx context.Context, center types.TestingCenter, limit int) ([]types.TranscriptionRecord, error)
	Close() error
}

// transcriptionHeader is the column layout of every transcription log.
var transcriptionHeader = []string{
	"id", "date", "time", "testing_center", "call_sid", "recording_sid",
	"recording_duration", "colors", "confidence", "transcription",
}

// parseActive treats anything but an explicit yes as inactive.
func parseActive(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "active", "x":
		return true
	default:
		return false
	}
}

func joinColors(colors []string) string {
	return strings.Join(colors, ", ")
}

func splitColors(v string) []string {
	out := []string{}
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
