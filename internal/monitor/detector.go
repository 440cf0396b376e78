package monitor

import (
	"math"
	"time"

	"github.com/polystatics/polystatics/internal/models"
)

// Detector decides whether a market's price moved by at least Threshold
// (as a fraction of the reference price) over Window.
type Detector struct {
	Window    time.Duration
	Tolerance time.Duration
	Threshold float64
	Cooldown  time.Duration
}

// DefaultDetector watches a 5 minute window with a 10 second tolerance,
// a 10% threshold and a 5 minute cooldown.
func DefaultDetector() Detector {
	return Detector{
		Window:    5 * time.Minute,
		Tolerance: 10 * time.Second,
		Threshold: 0.10,
		Cooldown:  5 * time.Minute,
	}
}

// Evaluate checks snap's current price against its windowed reference. On a
// trigger it returns the alert and starts the snapshot's cooldown at now,
// whether or not the alert is later delivered.
func (d Detector) Evaluate(snap *Snapshot, market models.Market, now time.Time) (models.AlertEvent, bool) {
	if now.Sub(snap.LastAlertTime) < d.Cooldown {
		return models.AlertEvent{}, false
	}

	ref, ok := d.reference(snap.History, now)
	if !ok || ref.Price <= 0 {
		return models.AlertEvent{}, false
	}

	change := (snap.CurrentPrice - ref.Price) / ref.Price
	if math.Abs(change) < d.Threshold {
		return models.AlertEvent{}, false
	}

	snap.markAlerted(now)
	return models.NewAlertEvent(market, snap.CurrentPrice, ref.Price, d.Window, now), true
}

// reference returns the oldest sample whose age lies in
// [Window-Tolerance, Window+Tolerance].
func (d Detector) reference(h *History, now time.Time) (models.Sample, bool) {
	lo, hi := d.Window-d.Tolerance, d.Window+d.Tolerance

	var (
		ref   models.Sample
		found bool
	)
	h.Each(func(s models.Sample) bool {
		age := now.Sub(s.Time)
		if age >= lo && age <= hi {
			ref, found = s, true
			return false
		}
		return true
	})
	return ref, found
}
