package monitor

import (
	"time"

	"github.com/polystatics/polystatics/internal/models"
)

// Snapshot is the rolling state kept for one market.
type Snapshot struct {
	MarketID      string
	History       *History
	CurrentPrice  float64
	LastUpdated   time.Time
	LastAlertTime time.Time // zero until the first alert
}

func (s *Snapshot) record(price float64, now time.Time) {
	s.History.Push(models.Sample{Time: now, Price: price})
	s.CurrentPrice = price
	s.LastUpdated = now
}

// markAlerted moves the cooldown clock forward; it never moves backwards.
func (s *Snapshot) markAlerted(now time.Time) {
	if now.After(s.LastAlertTime) {
		s.LastAlertTime = now
	}
}

// Store maps market IDs to snapshots. It is not safe for concurrent use;
// the monitor's cycle loop is its only owner.
type Store struct {
	historySize int
	snapshots   map[string]*Snapshot
}

func NewStore(historySize int) *Store {
	return &Store{
		historySize: historySize,
		snapshots:   make(map[string]*Snapshot),
	}
}

// Observe records price for marketID at now, creating the snapshot on first sight.
func (s *Store) Observe(marketID string, price float64, now time.Time) *Snapshot {
	snap, ok := s.snapshots[marketID]
	if !ok {
		snap = &Snapshot{
			MarketID: marketID,
			History:  NewHistory(s.historySize),
		}
		s.snapshots[marketID] = snap
	}
	snap.record(price, now)
	return snap
}

func (s *Store) Len() int {
	return len(s.snapshots)
}
