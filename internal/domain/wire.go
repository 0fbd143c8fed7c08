package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Backend request/response endpoints.
const (
	EndpointLogin           = "/login"
	EndpointLogout          = "/logout"
	EndpointOrderBook       = "/reqOrderBook"
	EndpointTestOrder       = "/testOrderHandler"
	EndpointCancelOrder     = "/testCancelOrderHandler"
	EndpointOptionChain     = "/reqOptChain"
	EndpointReleaseUpdates  = "/releaseOptionUpdatesEvents"
	EndpointTrackOption     = "/trackOption"
	EndpointUntrackOption   = "/untrackOption"
	FeedPathOrderUpdates    = "/orderUpdateEvent"
	FeedPathPortfolioUpdate = "/portfolioUpdateEvent"
	FeedPathOptionUpdates   = "/optionUpdateEvent"
)

// chainResponse mirrors /reqOptChain:
// {"Expirations":{"2024-06-21":{"Strikes":{"100.00":{"Strike":"100.00","Date":"...","Option":{"CALL":{...}}}}}}}
type chainResponse struct {
	Expirations map[string]struct {
		Strikes map[string]struct {
			Strike string `json:"Strike"`
			Date   string `json:"Date"`
			Option map[string]struct {
				Bid    decimal.NullDecimal `json:"Bid"`
				Ask    decimal.NullDecimal `json:"Ask"`
				Ticker string              `json:"Ticker"`
			} `json:"Option"`
		} `json:"Strikes"`
	} `json:"Expirations"`
}

// DecodeOptionChain parses a /reqOptChain body into a chain for symbol.
// The strike key of the Strikes map is authoritative; the Strike field is only a fallback.
func DecodeOptionChain(symbol string, body []byte) (*OptionChain, error) {
	var resp chainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Source: EndpointOptionChain, Err: err}
	}

	chain := NewOptionChain(symbol)
	for exp, expiration := range resp.Expirations {
		for key, row := range expiration.Strikes {
			strike, err := decimal.NewFromString(key)
			if err != nil {
				if strike, err = decimal.NewFromString(row.Strike); err != nil {
					return nil, &DecodeError{Source: EndpointOptionChain, Err: fmt.Errorf("strike %q: %w", key, err)}
				}
			}
			for sideName, opt := range row.Option {
				side, err := ParseOptionSide(sideName)
				if err != nil {
					return nil, &DecodeError{Source: EndpointOptionChain, Err: err}
				}
				coord := NewCoordinate(exp, strike, side)
				if err := chain.Add(coord, opt.Ticker, opt.Bid.Decimal, opt.Ask.Decimal); err != nil {
					return nil, &DecodeError{Source: EndpointOptionChain, Err: err}
				}
			}
		}
	}
	return chain, nil
}

// orderBookResponse accepts both the map form {"UiOrderStatuses":{id:{...}}} and a plain list {"Orders":[...]}.
type orderBookResponse struct {
	UiOrderStatuses map[string]OrderStatus `json:"UiOrderStatuses"`
	Orders          []OrderStatus          `json:"Orders"`
}

// DecodeOrderBook parses a /reqOrderBook body. An empty object is an empty book.
func DecodeOrderBook(body []byte) (OrderBook, error) {
	var resp orderBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderBook{}, &DecodeError{Source: EndpointOrderBook, Err: err}
	}

	rows := make([]OrderStatus, 0, len(resp.UiOrderStatuses)+len(resp.Orders))
	for id, row := range resp.UiOrderStatuses {
		if row.OrderID == "" {
			row.OrderID = id
		}
		if row.OrderID != id {
			return OrderBook{}, &DecodeError{Source: EndpointOrderBook, Err: fmt.Errorf("key %s holds order %s", id, row.OrderID)}
		}
		rows = append(rows, row)
	}
	rows = append(rows, resp.Orders...)

	book, err := NewOrderBook(rows)
	if err != nil {
		return OrderBook{}, &DecodeError{Source: EndpointOrderBook, Err: err}
	}
	return book, nil
}

// trackedResponse accepts {"tracked":[...]} and the older {"Instrument":[...]}.
type trackedResponse struct {
	Tracked    *[]string `json:"tracked"`
	Instrument *[]string `json:"Instrument"`
}

// DecodeTrackedSet parses a /trackOption or /untrackOption body.
func DecodeTrackedSet(body []byte) (TrackedSet, error) {
	var resp trackedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TrackedSet{}, &DecodeError{Source: EndpointTrackOption, Err: err}
	}
	switch {
	case resp.Tracked != nil:
		return NewTrackedSet(*resp.Tracked...), nil
	case resp.Instrument != nil:
		return NewTrackedSet(*resp.Instrument...), nil
	}
	return TrackedSet{}, &DecodeError{Source: EndpointTrackOption, Err: errors.New("no tracked list in response")}
}

// LoginResponse is the /login body: exactly one of Token or Error is set.
type LoginResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}
