package telegram

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/polystatics/polystatics/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{`back\slash`, `back\\slash`},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// chat ID is parsed before any network call
	_, err := NewClient("", "not-a-number", Options{})
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func sampleAlert(change float64) models.AlertEvent {
	market := models.Market{
		ID:        "12345",
		Question:  "Will it rain (tomorrow)?",
		Slug:      "rain-tomorrow",
		EventSlug: "weather",
		Liquidity: 25000.4,
	}
	ref := 0.50
	return models.NewAlertEvent(market, ref*(1+change), ref, 5*time.Minute, time.Unix(1700000000, 0))
}

func TestFormatAlert(t *testing.T) {
	text := FormatAlert(sampleAlert(0.30))

	for _, want := range []string{
		"🚀 PUMP Alert \\(5m\\)",
		"Will it rain \\(tomorrow\\)?",
		"\\+30\\.00%",
		"$0\\.500 ➡️ $0\\.650",
		"$25,000",
		"(https://polymarket.com/event/weather?tid=12345)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("FormatAlert missing %q in:\n%s", want, text)
		}
	}

	dump := FormatAlert(sampleAlert(-0.20))
	if !strings.Contains(dump, "🔻 DUMP") || !strings.Contains(dump, "\\-20\\.00%") {
		t.Errorf("dump alert not labelled correctly:\n%s", dump)
	}
}

func TestMarketURL_FallsBackToSlug(t *testing.T) {
	m := models.Market{ID: "7", Slug: "some-market"}
	if got, want := MarketURL(m), "https://polymarket.com/event/some-market?tid=7"; got != want {
		t.Errorf("MarketURL = %q, want %q", got, want)
	}
}

// fakeBotServer answers the two Bot API methods the client uses.
type fakeBotServer struct {
	mu       sync.Mutex
	texts    []string
	modes    []string
	failures int // sendMessage calls to reject before succeeding
}

func (f *fakeBotServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"t","username":"t"}}`)) //nolint:errcheck
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		r.ParseForm() //nolint:errcheck
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			w.Write([]byte(`{"ok":false,"error_code":500,"description":"boom"}`)) //nolint:errcheck
			return
		}
		f.texts = append(f.texts, r.FormValue("text"))
		f.modes = append(f.modes, r.FormValue("parse_mode"))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)) //nolint:errcheck
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotServer) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestClient(t *testing.T, fake *fakeBotServer, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient: %v", err)
	}
	if opts.RetryDelayBase == 0 {
		opts.RetryDelayBase = time.Millisecond
	}
	return newClient(bot, 42, opts)
}

func TestSendText_RetriesThenSucceeds(t *testing.T) {
	fake := &fakeBotServer{failures: 2}
	c := newTestClient(t, fake, Options{MaxRetries: 3})
	defer c.Close()

	if err := c.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := fake.sent(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", got)
	}
	if fake.modes[0] != tgbotapi.ModeMarkdownV2 {
		t.Errorf("parse_mode = %q, want MarkdownV2", fake.modes[0])
	}
}

func TestSendText_GivesUp(t *testing.T) {
	fake := &fakeBotServer{failures: 10}
	c := newTestClient(t, fake, Options{MaxRetries: 2})
	defer c.Close()

	if err := c.SendText("hello"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestNotify_DeliversQueuedAlertsOnClose(t *testing.T) {
	fake := &fakeBotServer{}
	c := newTestClient(t, fake, Options{MaxRetries: 1, QueueSize: 8})

	for _, change := range []float64{0.2, -0.3, 0.4} {
		if err := c.Notify(sampleAlert(change)); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sent := fake.sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	if !strings.Contains(sent[1], "DUMP") {
		t.Errorf("alerts delivered out of order: %v", sent)
	}

	if err := c.Notify(sampleAlert(0.2)); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify after Close = %v, want ErrClosed", err)
	}
}

func TestNotify_DropsWhenQueueFull(t *testing.T) {
	fake := &fakeBotServer{}
	// a long interval keeps the worker parked after the first send
	c := newTestClient(t, fake, Options{MaxRetries: 1, QueueSize: 1, SendInterval: time.Hour, DrainTimeout: 50 * time.Millisecond})
	defer c.Close() //nolint:errcheck

	// fill the queue directly so the worker's timing does not matter
	c.mu.Lock()
	c.outbox <- "filler"
	c.mu.Unlock()

	var dropped bool
	for i := 0; i < 3; i++ {
		if err := c.Notify(sampleAlert(0.2)); errors.Is(err, ErrQueueFull) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Error("expected ErrQueueFull with a saturated outbox")
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	fake := &fakeBotServer{}
	c := newTestClient(t, fake, Options{MaxRetries: 1})
	defer c.Close()

	if err := c.SendError(errors.New("upstream 503.")); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if err := c.SendRecovery(4); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}

	sent := fake.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if !strings.Contains(sent[0], "upstream 503\\.") {
		t.Errorf("error text not escaped: %q", sent[0])
	}
	if !strings.Contains(sent[1], "4 consecutive") {
		t.Errorf("recovery text = %q", sent[1])
	}
}

func TestClose_DrainIsBounded(t *testing.T) {
	fake := &fakeBotServer{}
	c := newTestClient(t, fake, Options{
		MaxRetries:   1,
		QueueSize:    16,
		SendInterval: 200 * time.Millisecond,
		DrainTimeout: 300 * time.Millisecond,
	})

	for i := 0; i < 10; i++ {
		if err := c.Notify(sampleAlert(0.2)); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}

	start := time.Now()
	err := c.Close()
	elapsed := time.Since(start)

	if err == nil || !strings.Contains(err.Error(), "dropped") {
		t.Errorf("Close() = %v, want a drain timeout error", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Close took %v with a 300ms drain timeout", elapsed)
	}
	sent := len(fake.sent())
	if sent == 0 || sent >= 10 {
		t.Errorf("sent %d of 10 alerts, want some but not all", sent)
	}
	if sent+c.dropped != 10 {
		t.Errorf("sent %d + dropped %d != 10 queued", sent, c.dropped)
	}
}
