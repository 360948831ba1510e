package service

import (
	"sync"
	"time"

	"github.com/andora/tokenledger/internal/monitoring/domain"
	"github.com/bwmarrin/snowflake"
)

const (
	queueCap    = 1000
	queueTrimTo = 500
)

// alertQueue is a bounded in-memory alert buffer. Appends beyond the cap
// trim to the newest half; expiry happens lazily on read, not via a sweep.
type alertQueue struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func newAlertQueue() *alertQueue {
	return &alertQueue{alerts: make([]domain.Alert, 0, queueTrimTo)}
}

func (q *alertQueue) append(alert domain.Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alerts = append(q.alerts, alert)
	if len(q.alerts) > queueCap {
		kept := make([]domain.Alert, queueTrimTo)
		copy(kept, q.alerts[len(q.alerts)-queueTrimTo:])
		q.alerts = kept
	}
}

// snapshot drops expired entries and returns matching alerts newest first.
// A zero userID matches everything.
func (q *alertQueue) snapshot(userID snowflake.ID, cutoff time.Time) []domain.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()

	live := q.alerts[:0]
	for _, a := range q.alerts {
		if a.CreatedAt.After(cutoff) {
			live = append(live, a)
		}
	}
	q.alerts = live

	out := make([]domain.Alert, 0, len(live))
	for i := len(live) - 1; i >= 0; i-- {
		if userID == 0 || live[i].UserID == userID {
			out = append(out, live[i])
		}
	}
	return out
}

// dropExpired prunes entries at or before cutoff and returns how many were
// removed.
func (q *alertQueue) dropExpired(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.alerts)
	live := q.alerts[:0]
	for _, a := range q.alerts {
		if a.CreatedAt.After(cutoff) {
			live = append(live, a)
		}
	}
	q.alerts = live
	return before - len(live)
}

func (q *alertQueue) countLive(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, a := range q.alerts {
		if a.CreatedAt.After(cutoff) {
			n++
		}
	}
	return n
}
