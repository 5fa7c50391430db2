package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// jsonStringList decodes Gamma's doubly-encoded list fields, e.g.
// "[\"Yes\",\"No\"]". A plain JSON array is accepted too.
func jsonStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      bool        `json:"closed"`
	Tags        []APITag    `json:"tags"`
	Markets     []APIMarket `json:"markets"`
}

// APITag is a tag entry inside a Gamma event response.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Several list fields arrive doubly JSON-encoded as strings.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	EndDate       string   `json:"endDate"`
	Volume        string   `json:"volume"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToRawEvent converts a Gamma APIEvent to a domain.RawEvent.
func (e *APIEvent) ToRawEvent() domain.RawEvent {
	out := domain.RawEvent{
		ID:    e.ID,
		Title: e.Title,
	}
	for _, t := range e.Tags {
		if t.Slug != "" {
			out.Tags = append(out.Tags, t.Slug)
		} else if t.Label != "" {
			out.Tags = append(out.Tags, strings.ToLower(t.Label))
		}
	}
	out.Markets = make([]domain.RawMarket, 0, len(e.Markets))
	for i := range e.Markets {
		out.Markets = append(out.Markets, e.Markets[i].ToRawMarket())
	}
	return out
}

// ToRawMarket converts a Gamma APIMarket to a domain.RawMarket. Prices
// default to 0.5 when the outcomePrices field is missing or malformed.
func (m *APIMarket) ToRawMarket() domain.RawMarket {
	rm := domain.RawMarket{
		ID:             m.ID,
		Question:       m.Question,
		YesPrice:       0.5,
		NoPrice:        0.5,
		ResolutionDate: m.EndDate,
	}
	if rm.Question == "" {
		rm.Question = "Unknown"
	}
	prices := jsonStringList(m.OutcomePrices)
	if len(prices) >= 2 {
		if y, err := strconv.ParseFloat(prices[0], 64); err == nil {
			rm.YesPrice = y
		}
		if n, err := strconv.ParseFloat(prices[1], 64); err == nil {
			rm.NoPrice = n
		}
	}
	return rm
}

// ToMarketMetadata converts a Gamma APIMarket to the metadata record
// consumed by the token resolver.
func (m *APIMarket) ToMarketMetadata() domain.MarketMetadata {
	return domain.MarketMetadata{
		MarketID: m.ID,
		TokenIDs: jsonStringList(m.ClobTokenIDs),
		Outcomes: jsonStringList(m.Outcomes),
		Question: m.Question,
	}
}
