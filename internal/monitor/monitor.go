// Package monitor tracks per-market price history across polling cycles and
// raises alerts when a market swings past a threshold within a fixed window.
package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/metrics"
	"github.com/polystatics/polystatics/internal/models"
)

// MarketSource returns the current universe of markets. It must not fail;
// upstream errors are absorbed by the source.
type MarketSource interface {
	GetMarkets(ctx context.Context, limit int, sortField string, ascending bool) []models.Market
}

// Notifier delivers alerts. Delivery is fire-and-forget from the monitor's side.
type Notifier interface {
	Notify(alert models.AlertEvent) error
}

// CycleReporter is implemented by notifiers that also report monitoring failures.
type CycleReporter interface {
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// Journal records fired alerts.
type Journal interface {
	AddAlert(alert *models.AlertEvent) error
}

type Config struct {
	PollInterval   time.Duration
	UniverseLimit  int
	SortField      string
	Ascending      bool
	LiquidityFloor float64
	HistorySize    int
	Detector       Detector
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		UniverseLimit:  5700,
		SortField:      "volume24hr",
		Ascending:      false,
		LiquidityFloor: 5000,
		HistorySize:    200,
		Detector:       DefaultDetector(),
	}
}

// CycleStats summarises one cycle.
type CycleStats struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	BelowFloor int           `json:"below_floor"`
	NoPrice    int           `json:"no_price"`
	Observed   int           `json:"observed"`
	Alerts     int           `json:"alerts"`
}

// Status is a point-in-time view of the monitor, safe to read from other goroutines.
type Status struct {
	Running             bool       `json:"running"`
	Tracked             int        `json:"tracked"`
	Cycles              int        `json:"cycles"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCycle           CycleStats `json:"last_cycle"`
}

type Option func(*Monitor)

func WithJournal(j Journal) Option {
	return func(m *Monitor) { m.journal = j }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithClock replaces time.Now as the cycle timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type Monitor struct {
	source   MarketSource
	notifier Notifier
	journal  Journal
	metrics  *metrics.Metrics
	config   Config
	store    *Store
	now      func() time.Time

	running atomic.Bool

	mu                  sync.Mutex
	status              Status
	consecutiveFailures int
}

// New creates a monitor reading from source. A nil notifier logs alerts instead.
func New(source MarketSource, notifier Notifier, config Config, opts ...Option) *Monitor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	m := &Monitor{
		source:   source,
		notifier: notifier,
		config:   config,
		store:    NewStore(config.HistorySize),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunCycle fetches the market universe once and updates every eligible
// market's snapshot, evaluating each for a volatility alert.
func (m *Monitor) RunCycle(ctx context.Context) CycleStats {
	stats := CycleStats{StartedAt: m.now()}

	// Ordered by volume; the upstream liquidity sort is unreliable.
	markets := m.source.GetMarkets(ctx, m.config.UniverseLimit, m.config.SortField, m.config.Ascending)
	stats.Scanned = len(markets)
	logger.Info("Scanned %d markets (limit %d)", len(markets), m.config.UniverseLimit)

	now := m.now()
	for i := range markets {
		market := markets[i]

		if market.Liquidity < m.config.LiquidityFloor {
			stats.BelowFloor++
			continue
		}
		// No fallback to outcome prices: without a trade price there is no signal.
		if !market.HasPrice() {
			stats.NoPrice++
			continue
		}

		snap := m.store.Observe(market.ID, market.LastTradePrice, now)
		stats.Observed++

		if alert, ok := m.config.Detector.Evaluate(snap, market, now); ok {
			stats.Alerts++
			m.dispatch(alert)
		}
	}

	stats.Duration = m.now().Sub(stats.StartedAt)
	return stats
}

func (m *Monitor) dispatch(alert models.AlertEvent) {
	logger.Info("Triggering %s alert: %s (%+.2f%%, %.3f -> %.3f)",
		alert.Direction, alert.Market.Question, alert.Percent(), alert.ReferencePrice, alert.CurrentPrice)
	m.metrics.RecordAlert(string(alert.Direction))

	if m.journal != nil {
		if err := m.journal.AddAlert(&alert); err != nil {
			logger.Warn("Failed to journal alert for market %s: %v", alert.Market.ID, err)
		}
	}
	if err := m.notifier.Notify(alert); err != nil {
		logger.Warn("Failed to dispatch alert for market %s: %v", alert.Market.ID, err)
	}
}

// safeCycle runs one cycle and converts a panic into an error.
func (m *Monitor) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in monitor cycle: %v", r)
			logger.Debug("Recovered cycle panic:\n%s", debug.Stack())
		}
	}()
	return m.RunCycle(ctx), nil
}

func (m *Monitor) runOnce(ctx context.Context) {
	start := time.Now()
	stats, err := m.safeCycle(ctx)
	m.metrics.RecordCycle(time.Since(start).Seconds(), stats.Scanned, m.store.Len(), err)

	m.mu.Lock()
	m.status.Cycles++
	if err == nil {
		m.status.LastCycle = stats
		m.status.Tracked = m.store.Len()
	}
	m.mu.Unlock()

	m.handleCycleResult(err)
}

func (m *Monitor) handleCycleResult(err error) {
	reporter, _ := m.notifier.(CycleReporter)

	m.mu.Lock()
	if err != nil {
		m.consecutiveFailures++
	}
	failures := m.consecutiveFailures
	if err == nil {
		m.consecutiveFailures = 0
	}
	m.status.ConsecutiveFailures = m.consecutiveFailures
	m.mu.Unlock()

	if err != nil {
		logger.Error("Monitoring cycle failed: %v", err)
		if failures == 1 && reporter != nil {
			if sendErr := reporter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if failures > 0 && reporter != nil {
		if sendErr := reporter.SendRecovery(failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
}

// Run executes cycles until ctx is cancelled or Stop is called, sleeping
// PollInterval after each cycle. A cycle that is already running always
// completes; Stop only prevents the next one from starting.
func (m *Monitor) Run(ctx context.Context) {
	m.running.Store(true)
	m.setRunning(true)
	defer m.setRunning(false)

	logger.Info("Volatility monitor started (interval %v, floor $%.0f, threshold %.0f%%, window %v±%v)",
		m.config.PollInterval, m.config.LiquidityFloor, m.config.Detector.Threshold*100,
		m.config.Detector.Window, m.config.Detector.Tolerance)

	for m.running.Load() && ctx.Err() == nil {
		m.runOnce(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(m.config.PollInterval):
		}
	}

	m.running.Store(false)
	logger.Info("Volatility monitor stopped")
}

// Stop prevents the next cycle from starting.
func (m *Monitor) Stop() {
	m.running.Store(false)
}

func (m *Monitor) setRunning(v bool) {
	m.mu.Lock()
	m.status.Running = v
	m.mu.Unlock()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LogNotifier writes alerts to the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Notify(alert models.AlertEvent) error {
	logger.Info("[alert] %s %s %+.2f%% (%.3f -> %.3f) market=%s",
		alert.WindowLabel(), alert.Direction, alert.Percent(), alert.ReferencePrice, alert.CurrentPrice, alert.Market.ID)
	return nil
}
