package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// flexFloat unmarshals from a JSON number or numeric string, which the feed
// mixes freely.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// wsEvent is the envelope of one feed event. Only the discriminator and the
// fields of the two shapes we act on are declared; everything else rides in
// raw form until the type is known.
type wsEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	PriceChanges []wsPriceChange `json:"price_changes"`
	Bids         []wsBookLevel   `json:"bids"`
	Asks         []wsBookLevel   `json:"asks"`
}

// wsPriceChange is one entry of a price_change event.
type wsPriceChange struct {
	AssetID string    `json:"asset_id"`
	BestBid flexPrice `json:"best_bid"`
	BestAsk flexPrice `json:"best_ask"`
}

// flexPrice is an optional quote field. The feed delivers it as a JSON
// number, a numeric string, an empty string, null, or not at all; the
// last three all mean absent, as does an unparseable value.
type flexPrice struct {
	val float64
	set bool
}

func (p *flexPrice) UnmarshalJSON(data []byte) error {
	*p = flexPrice{}
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		p.val = n
		p.set = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	p.val = n
	p.set = true
	return nil
}

// ptr returns the price as an optional, nil when absent.
func (p flexPrice) ptr() *float64 {
	if !p.set {
		return nil
	}
	v := p.val
	return &v
}

// wsBookLevel is one orderbook level. The feed delivers levels either as
// [price, size] arrays or as {"price":..., "size":...} objects.
type wsBookLevel struct {
	Price flexFloat
	Size  flexFloat
}

func (l *wsBookLevel) UnmarshalJSON(data []byte) error {
	var arr []flexFloat
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) > 0 {
			l.Price = arr[0]
		}
		if len(arr) > 1 {
			l.Size = arr[1]
		}
		return nil
	}
	var obj struct {
		Price flexFloat `json:"price"`
		Size  flexFloat `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.Price = obj.Price
	l.Size = obj.Size
	return nil
}

// parseMessage decodes one raw feed frame into normalized price events.
// Frames may carry a single event object or an array of them (snapshot
// burst). Unrecognized event types yield no events and no error; their
// type names come back in unknown so the caller can log them.
func parseMessage(raw []byte, receivedAt time.Time) (out []domain.PriceEvent, unknown []string, err error) {
	var events []wsEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, nil, fmt.Errorf("feed: decode message: %w", err)
		}
		events = []wsEvent{single}
	}

	for i := range events {
		evs, recognized := normalizeEvent(&events[i], receivedAt)
		if !recognized {
			unknown = append(unknown, events[i].EventType)
			continue
		}
		out = append(out, evs...)
	}
	return out, unknown, nil
}

// normalizeEvent converts one decoded event into zero or more price events.
// recognized is false only for event types the feed never documented;
// last_trade_price and tick_size_change are recognized and deliberately
// dropped.
func normalizeEvent(ev *wsEvent, receivedAt time.Time) (events []domain.PriceEvent, recognized bool) {
	switch ev.EventType {
	case "price_change":
		out := make([]domain.PriceEvent, 0, len(ev.PriceChanges))
		for _, pc := range ev.PriceChanges {
			if pc.AssetID == "" {
				continue
			}
			bid := pc.BestBid.ptr()
			ask := pc.BestAsk.ptr()
			if bid == nil && ask == nil {
				continue
			}
			out = append(out, domain.PriceEvent{
				Kind:       domain.PriceEventQuote,
				TokenID:    pc.AssetID,
				Bid:        bid,
				Ask:        ask,
				ReceivedAt: receivedAt,
			})
		}
		return out, true

	case "book":
		if ev.AssetID == "" {
			return nil, true
		}
		var bid, ask *float64
		if len(ev.Bids) > 0 {
			v := float64(ev.Bids[0].Price)
			bid = &v
		}
		if len(ev.Asks) > 0 {
			v := float64(ev.Asks[0].Price)
			ask = &v
		}
		if bid == nil && ask == nil {
			return nil, true
		}
		return []domain.PriceEvent{{
			Kind:       domain.PriceEventBook,
			TokenID:    ev.AssetID,
			Bid:        bid,
			Ask:        ask,
			ReceivedAt: receivedAt,
		}}, true

	case "last_trade_price", "tick_size_change":
		return nil, true
	}

	return nil, false
}

// subscribeCommand is the JSON payload declaring the token set on connect.
type subscribeCommand struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}
