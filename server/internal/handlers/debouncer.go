package handlers

import (
	"sync"
	"time"

	"github.com/zhaobenny/picost/server/internal/database"
	"go.uber.org/zap"
)

// SummaryDebouncer delays summary rebuilds so bursts of syncs from one
// user trigger a single rebuild of the affected days
type SummaryDebouncer struct {
	db      *database.DB
	log     *zap.Logger
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingUpdate
	wg      sync.WaitGroup
}

type pendingUpdate struct {
	generation int
	days       map[string]struct{}
}

// NewSummaryDebouncer creates a debouncer with the specified delay
func NewSummaryDebouncer(db *database.DB, log *zap.Logger, delay time.Duration) *SummaryDebouncer {
	return &SummaryDebouncer{
		db:      db,
		log:     log,
		delay:   delay,
		pending: make(map[string]*pendingUpdate),
	}
}

// Schedule queues a rebuild of days for a user, resetting the timer if one is pending
func (d *SummaryDebouncer) Schedule(userID string, days []string) {
	if len(days) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, exists := d.pending[userID]
	if !exists {
		p = &pendingUpdate{days: make(map[string]struct{})}
		d.pending[userID] = p
	}
	for _, day := range days {
		p.days[day] = struct{}{}
	}
	// Bumping the generation invalidates the older timer
	p.generation++
	gen := p.generation

	d.wg.Add(1)
	time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.flush(userID, gen)
	})
}

// Wait blocks until all scheduled timers have fired
func (d *SummaryDebouncer) Wait() {
	d.wg.Wait()
}

func (d *SummaryDebouncer) flush(userID string, generation int) {
	d.mu.Lock()
	p, exists := d.pending[userID]
	if !exists || p.generation != generation {
		d.mu.Unlock()
		return
	}
	delete(d.pending, userID)
	d.mu.Unlock()

	days := make([]string, 0, len(p.days))
	for day := range p.days {
		days = append(days, day)
	}

	if err := d.db.UpdateSummaries(userID, days); err != nil {
		d.log.Error("summary update failed", zap.String("user", userID), zap.Error(err))
	}
}
