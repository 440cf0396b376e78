// Package models defines the core domain entities: markets, price samples, and alerts.
package models

import "time"

// Outcome is one named outcome of a market with its quoted price.
type Outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Market is a single prediction market as observed in one polling cycle.
type Market struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	EventSlug      string    `json:"event_slug"`
	Volume24hr     float64   `json:"volume_24h"`
	Liquidity      float64   `json:"liquidity"`
	LastTradePrice float64   `json:"last_trade_price"`
	Spread         float64   `json:"spread"`
	Outcomes       []Outcome `json:"outcomes"`
	EndDate        string    `json:"end_date,omitempty"`
}

// HasPrice reports whether the market carries a usable last trade price.
func (m *Market) HasPrice() bool {
	return m.LastTradePrice > 0
}

// URLSlug returns the slug used for outbound links: the parent event slug
// when known, then the market slug, then "market".
func (m *Market) URLSlug() string {
	if m.EventSlug != "" {
		return m.EventSlug
	}
	if m.Slug != "" {
		return m.Slug
	}
	return "market"
}


// Sample is one observed price at a point in time.
type Sample struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}
