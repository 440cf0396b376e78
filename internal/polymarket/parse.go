package polymarket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/polystatics/polystatics/internal/models"
)

// gammaMarket is a market record as returned by the Gamma API. Numeric fields
// arrive as numbers or as decimal strings depending on the field.
type gammaMarket struct {
	ID             interface{}     `json:"id"`
	Question       string          `json:"question"`
	Slug           string          `json:"slug"`
	Volume24hr     interface{}     `json:"volume24hr"`
	Liquidity      interface{}     `json:"liquidity"`
	LastTradePrice interface{}     `json:"lastTradePrice"`
	Spread         interface{}     `json:"spread"`
	Outcomes       string          `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices  string          `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Events         json.RawMessage `json:"events"`
	EndDate        string          `json:"endDate"`
}

type gammaEvent struct {
	Slug string `json:"slug"`
}

// parseMarket converts one raw record into a Market. Any malformed field fails
// the whole record.
func parseMarket(raw json.RawMessage) (models.Market, error) {
	var gm gammaMarket
	if err := json.Unmarshal(raw, &gm); err != nil {
		return models.Market{}, fmt.Errorf("failed to decode record: %w", err)
	}

	id, err := cast.ToStringE(gm.ID)
	if err != nil {
		return models.Market{}, fmt.Errorf("invalid id: %w", err)
	}
	if id == "" {
		return models.Market{}, errors.New("missing id")
	}

	volume, err := toFloat(gm.Volume24hr)
	if err != nil {
		return models.Market{}, fmt.Errorf("invalid volume24hr: %w", err)
	}
	liquidity, err := toFloat(gm.Liquidity)
	if err != nil {
		return models.Market{}, fmt.Errorf("invalid liquidity: %w", err)
	}
	lastTradePrice, err := toFloat(gm.LastTradePrice)
	if err != nil {
		return models.Market{}, fmt.Errorf("invalid lastTradePrice: %w", err)
	}
	spread, err := toFloat(gm.Spread)
	if err != nil {
		return models.Market{}, fmt.Errorf("invalid spread: %w", err)
	}

	outcomes, err := parseOutcomes(gm.Outcomes, gm.OutcomePrices)
	if err != nil {
		return models.Market{}, err
	}

	question := gm.Question
	if question == "" {
		question = "Unknown"
	}

	return models.Market{
		ID:             id,
		Question:       question,
		Slug:           gm.Slug,
		EventSlug:      firstEventSlug(gm.Events),
		Volume24hr:     volume,
		Liquidity:      liquidity,
		LastTradePrice: lastTradePrice,
		Spread:         spread,
		Outcomes:       outcomes,
		EndDate:        gm.EndDate,
	}, nil
}

// parseOutcomes pairs the two JSON-encoded arrays. Arrays of different length
// yield no outcomes; an undecodable array or price is an error.
func parseOutcomes(namesJSON, pricesJSON string) ([]models.Outcome, error) {
	if namesJSON == "" {
		namesJSON = "[]"
	}
	if pricesJSON == "" {
		pricesJSON = "[]"
	}

	var names []string
	if err := json.Unmarshal([]byte(namesJSON), &names); err != nil {
		return nil, fmt.Errorf("failed to parse outcomes: %w", err)
	}
	// prices arrive as strings or as bare numbers
	var prices []interface{}
	if err := json.Unmarshal([]byte(pricesJSON), &prices); err != nil {
		return nil, fmt.Errorf("failed to parse outcome prices: %w", err)
	}

	outcomes := []models.Outcome{}
	if len(names) == 0 || len(names) != len(prices) {
		return outcomes, nil
	}
	for i, name := range names {
		price, err := cast.ToFloat64E(prices[i])
		if err != nil {
			return nil, fmt.Errorf("invalid price for outcome %q: %w", name, err)
		}
		outcomes = append(outcomes, models.Outcome{Name: name, Price: price})
	}
	return outcomes, nil
}

// firstEventSlug returns the slug of the first parent event, or "" when the
// events field is absent or not a list.
func firstEventSlug(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var events []gammaEvent
	if err := json.Unmarshal(raw, &events); err != nil || len(events) == 0 {
		return ""
	}
	return events[0].Slug
}

// toFloat treats missing, null and empty values as zero.
func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		if x == "" {
			return 0, nil
		}
	}
	return cast.ToFloat64E(v)
}
