// Package guard absorbs duplicate webhook deliveries and caps notification
// to one successful run per testing center per local calendar day.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"colorcodely-go/internal/types"
)

var (
	ErrAlreadySent = errors.New("already sent today")
	ErrInFlight    = errors.New("run already in progress for today")
	ErrUnavailable = errors.New("day-guard unavailable")
)

// DayLog is the authoritative record of completed runs.
type DayLog interface {
	AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error)
}

// DefaultSeenLimit bounds how many recording ids Admit remembers.
const DefaultSeenLimit = 1000

// Guard holds the in-process fast path. It is rebuilt empty on restart; the
// DayLog covers what it forgets, including recording ids evicted once more
// than the seen limit have been admitted.
type Guard struct {
	log       DayLog
	seenLimit int

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string          // admission order, oldest first
	lastSent  map[string]string // center id -> date
	inFlight  map[string]string // center id -> date
}

type Option func(*Guard)

// WithSeenLimit sets how many admitted recording ids are kept. n <= 0 keeps
// the default.
func WithSeenLimit(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.seenLimit = n
		}
	}
}

func New(log DayLog, opts ...Option) *Guard {
	g := &Guard{
		log:       log,
		seenLimit: DefaultSeenLimit,
		seen:      make(map[string]struct{}),
		lastSent:  make(map[string]string),
		inFlight:  make(map[string]string),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Admit returns true exactly once per distinct recording id. It does no I/O.
func (g *Guard) Admit(recordingID string) bool {
	id := strings.TrimSpace(recordingID)
	if id == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = struct{}{}
	g.seenOrder = append(g.seenOrder, id)
	if len(g.seenOrder) > g.seenLimit {
		oldest := g.seenOrder[0]
		delete(g.seen, oldest)
		g.seenOrder[0] = ""
		g.seenOrder = g.seenOrder[1:]
	}
	return true
}

// AlreadySentToday checks memory first, then the persistence log. A log error
// is returned wrapped in ErrUnavailable; callers must not notify on error.
func (g *Guard) AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error) {
	g.mu.Lock()
	sent := g.lastSent[center.ID] == date
	g.mu.Unlock()
	if sent {
		return true, nil
	}

	ok, err := g.log.AlreadySentToday(ctx, center, date)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		g.markSent(center.ID, date)
	}
	return ok, nil
}

// Claim reserves the day for one run of the center. The returned Claim must
// be committed after the record is persisted, or released on failure.
func (g *Guard) Claim(ctx context.Context, center types.TestingCenter, date string) (*Claim, error) {
	g.mu.Lock()
	switch {
	case g.lastSent[center.ID] == date:
		g.mu.Unlock()
		return nil, ErrAlreadySent
	case g.inFlight[center.ID] == date:
		g.mu.Unlock()
		return nil, ErrInFlight
	}
	g.inFlight[center.ID] = date
	g.mu.Unlock()

	sent, err := g.AlreadySentToday(ctx, center, date)
	if err != nil {
		g.release(center.ID, date)
		return nil, err
	}
	if sent {
		g.release(center.ID, date)
		return nil, ErrAlreadySent
	}
	return &Claim{g: g, centerID: center.ID, date: date}, nil
}

func (g *Guard) markSent(centerID, date string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSent[centerID] = date
}

func (g *Guard) release(centerID, date string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[centerID] == date {
		delete(g.inFlight, centerID)
	}
}

// Claim is a held reservation of one center's day.
type Claim struct {
	g        *Guard
	centerID string
	date     string
	once     sync.Once
}

// Commit marks the day as sent and drops the reservation.
func (c *Claim) Commit() {
	c.once.Do(func() {
		c.g.markSent(c.centerID, c.date)
		c.g.release(c.centerID, c.date)
	})
}

// Release drops the reservation without marking the day; a later run may retry.
func (c *Claim) Release() {
	c.once.Do(func() {
		c.g.release(c.centerID, c.date)
	})
}
