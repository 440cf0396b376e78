package telegram

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/polystatics/polystatics/internal/models"
)

// MarketURL links to the market on polymarket.com.
func MarketURL(m models.Market) string {
	return fmt.Sprintf("https://polymarket.com/event/%s?tid=%s", url.PathEscape(m.URLSlug()), url.QueryEscape(m.ID))
}

// FormatAlert formats an alert as a Telegram MarkdownV2 message.
func FormatAlert(a models.AlertEvent) string {
	direction := "🚀 PUMP"
	if a.Direction == models.Dump {
		direction = "🔻 DUMP"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s Alert \\(%s\\)*\n\n", direction, escapeMarkdownV2(a.WindowLabel()))
	fmt.Fprintf(&b, "❓ *Question:* %s\n", escapeMarkdownV2(a.Market.Question))
	fmt.Fprintf(&b, "📉 *Change:* %s\n", escapeMarkdownV2(fmt.Sprintf("%+.2f%%", a.Percent())))
	fmt.Fprintf(&b, "💲 *Price:* %s ➡️ %s\n",
		escapeMarkdownV2(fmt.Sprintf("$%.3f", a.ReferencePrice)),
		escapeMarkdownV2(fmt.Sprintf("$%.3f", a.CurrentPrice)))
	fmt.Fprintf(&b, "💧 *Liquidity:* %s\n", escapeMarkdownV2(formatUSD(a.Market.Liquidity)))
	fmt.Fprintf(&b, "🔗 [View Market](%s)", escapeLinkURL(MarketURL(a.Market)))
	return b.String()
}

// formatUSD renders whole dollars with thousands separators, e.g. "$12,345".
func formatUSD(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside (...) of a link.
func escapeLinkURL(u string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}
