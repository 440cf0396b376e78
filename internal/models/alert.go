package models

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Direction is the sign of a detected price swing.
type Direction string

const (
	Pump Direction = "pump"
	Dump Direction = "dump"
)

// DirectionOf returns Pump for a non-negative change and Dump otherwise.
func DirectionOf(change float64) Direction {
	if change < 0 {
		return Dump
	}
	return Pump
}

// AlertEvent is a windowed price swing that crossed the volatility threshold.
type AlertEvent struct {
	ID             string        `json:"id"`
	Market         Market        `json:"market"`
	Direction      Direction     `json:"direction"`
	Change         float64       `json:"change"` // fraction, e.g. 0.12 for +12%
	CurrentPrice   float64       `json:"current_price"`
	ReferencePrice float64       `json:"reference_price"`
	Window         time.Duration `json:"window"`
	DetectedAt     time.Time     `json:"detected_at"`
}

// NewAlertEvent builds an alert for market from a reference price to the current price.
func NewAlertEvent(market Market, current, reference float64, window time.Duration, now time.Time) AlertEvent {
	change := (current - reference) / reference
	return AlertEvent{
		ID:             uuid.New().String(),
		Market:         market,
		Direction:      DirectionOf(change),
		Change:         change,
		CurrentPrice:   current,
		ReferencePrice: reference,
		Window:         window,
		DetectedAt:     now,
	}
}

// Percent returns the change as a signed percentage.
func (a *AlertEvent) Percent() float64 {
	return a.Change * 100
}

// WindowLabel renders the window compactly, e.g. "5m", "1h" or "90s".
func (a *AlertEvent) WindowLabel() string {
	w := a.Window
	switch {
	case w >= time.Hour && w%time.Hour == 0:
		return strconv.FormatInt(int64(w/time.Hour), 10) + "h"
	case w >= time.Minute && w%time.Minute == 0:
		return strconv.FormatInt(int64(w/time.Minute), 10) + "m"
	default:
		return w.String()
	}
}

// Validate checks that all alert fields are consistent.
func (a *AlertEvent) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.Market.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if a.ReferencePrice <= 0 {
		return errors.New("reference price must be positive")
	}
	expected := (a.CurrentPrice - a.ReferencePrice) / a.ReferencePrice
	if math.Abs(a.Change-expected) > 1e-9 {
		return errors.New("change must equal (current - reference) / reference")
	}
	if a.Direction != DirectionOf(a.Change) {
		return errors.New("direction must match the sign of change")
	}
	if a.DetectedAt.IsZero() {
		return errors.New("detected at must be set")
	}
	return nil
}
