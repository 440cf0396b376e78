// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/metrics"
	"github.com/polystatics/polystatics/internal/models"
)

var (
	ErrQueueFull = errors.New("telegram: outbox full")
	ErrClosed    = errors.New("telegram: client closed")
)

// Options tunes delivery.
type Options struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	SendInterval   time.Duration // minimum gap between queued alerts
	QueueSize      int
	DrainTimeout   time.Duration // how long Close keeps sending queued alerts
	Metrics        *metrics.Metrics
}

// Client handles Telegram notifications. Alerts are queued and sent by a
// single worker so bursts stay under the Bot API rate limit.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	sendInterval   time.Duration
	drainTimeout   time.Duration
	metrics        *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	outbox  chan string
	done    chan struct{}
	abort   chan struct{} // closed when the drain deadline passes
	dropped int           // written by the worker only
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, opts Options) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	// bounds each Bot API call, including the 60s getUpdates long poll
	httpClient := &http.Client{Timeout: 75 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, opts), nil
}

func newClient(bot *tgbotapi.BotAPI, chatID int64, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	if opts.SendInterval < 0 {
		opts.SendInterval = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}

	c := &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		sendInterval:   opts.SendInterval,
		drainTimeout:   opts.DrainTimeout,
		metrics:        opts.Metrics,
		outbox:         make(chan string, opts.QueueSize),
		done:           make(chan struct{}),
		abort:          make(chan struct{}),
	}
	go c.drain()
	return c
}

func (c *Client) drain() {
	defer close(c.done)
	for text := range c.outbox {
		select {
		case <-c.abort:
			c.dropped++
			c.metrics.RecordNotificationDropped()
			continue
		default:
		}

		if err := c.SendText(text); err != nil {
			logger.Error("Failed to send Telegram alert: %v", err)
		}
		if c.sendInterval > 0 {
			select {
			case <-time.After(c.sendInterval):
			case <-c.abort:
			}
		}
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status func() string) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		text := "status unavailable"
		if status != nil {
			text = status()
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		c.bot.Send(reply) //nolint:errcheck
	}
}

// SendText sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) SendText(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelayBase * time.Duration(i+1)):
			case <-c.abort:
				return fmt.Errorf("gave up after %d attempts on shutdown: %w", i+1, lastErr)
			}
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Notify queues an alert for delivery and returns without waiting for it.
func (c *Client) Notify(alert models.AlertEvent) error {
	text := FormatAlert(alert)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.outbox <- text:
		return nil
	default:
		c.metrics.RecordNotificationDropped()
		return ErrQueueFull
	}
}

// SendStartup announces that the monitor is running.
func (c *Client) SendStartup(threshold float64, window time.Duration, liquidityFloor float64) error {
	text := fmt.Sprintf("👀 *PolyStatics Monitor Started*\nScanning for moves ≥ %s over %s on markets with liquidity ≥ %s",
		escapeMarkdownV2(fmt.Sprintf("%.0f%%", threshold*100)),
		escapeMarkdownV2(window.String()),
		escapeMarkdownV2(formatUSD(liquidityFloor)),
	)
	return c.SendText(text)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.SendText(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.SendText(text)
}

// Close stops accepting alerts and keeps delivering queued ones for up to
// DrainTimeout. Alerts still queued after that are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.outbox)
	c.mu.Unlock()

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
	}

	close(c.abort)
	<-c.done // at most the in-flight request remains
	if c.dropped > 0 {
		return fmt.Errorf("telegram: drain timed out after %v, dropped %d queued alerts", c.drainTimeout, c.dropped)
	}
	return nil
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
