package feed

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"optiondesk/internal/domain"
	"optiondesk/internal/event"
)

// Feed message shapes. Numeric fields may arrive as JSON numbers or strings.
type orderMessage struct {
	OrderID    string `json:"OrderID"`
	OrderEvent string `json:"OrderEvent"`
}

type portfolioMessage struct {
	NetLiquidity      decimal.NullDecimal `json:"NetLiquidity"`
	OptionBuyingPower decimal.NullDecimal `json:"OptionBuyingPower"`
}

type optionMessage struct {
	Expiration   string              `json:"Expiration"`
	Strike       decimal.NullDecimal `json:"Strike"`
	OptionType   string              `json:"OptionType"`
	TickerSymbol string              `json:"TickerSymbol"`
	Bid          decimal.NullDecimal `json:"Bid"`
	Ask          decimal.NullDecimal `json:"Ask"`
}

var (
	errMissingField = errors.New("missing required field")
	errEmptyMessage = errors.New("empty message")
)

// decodeFunc turns one message into an event stamped with epoch.
type decodeFunc func(msg []byte, epoch uint64) (event.Event, error)

func decoderFor(k Kind) decodeFunc {
	switch k {
	case KindOrder:
		return decodeOrder
	case KindPortfolio:
		return decodePortfolio
	case KindOption:
		return decodeOption
	default:
		return nil
	}
}

// payload strips whitespace and an optional server-sent-events "data:" prefix.
func payload(msg []byte) ([]byte, error) {
	msg = bytes.TrimSpace(msg)
	msg = bytes.TrimSpace(bytes.TrimPrefix(msg, []byte("data:")))
	if len(msg) == 0 {
		return nil, errEmptyMessage
	}
	return msg, nil
}

func decodeOrder(msg []byte, epoch uint64) (event.Event, error) {
	body, err := payload(msg)
	if err != nil {
		return nil, &domain.DecodeError{Source: KindOrder.String(), Err: err}
	}
	var m orderMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &domain.DecodeError{Source: KindOrder.String(), Err: err}
	}
	if m.OrderEvent == "" {
		return nil, &domain.DecodeError{Source: KindOrder.String(), Err: errMissingField}
	}
	return &event.OrderUpdateEvent{
		BaseEvent: event.NewBase(epoch, false),
		OrderID:   m.OrderID,
		Event:     domain.ParseOrderEvent(m.OrderEvent),
	}, nil
}

func decodePortfolio(msg []byte, epoch uint64) (event.Event, error) {
	body, err := payload(msg)
	if err != nil {
		return nil, &domain.DecodeError{Source: KindPortfolio.String(), Err: err}
	}
	var m portfolioMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &domain.DecodeError{Source: KindPortfolio.String(), Err: err}
	}
	if !m.NetLiquidity.Valid || !m.OptionBuyingPower.Valid {
		return nil, &domain.DecodeError{Source: KindPortfolio.String(), Err: errMissingField}
	}
	return &event.PortfolioUpdateEvent{
		BaseEvent: event.NewBase(epoch, false),
		Metrics: domain.AccountMetrics{
			NetLiquidity:      m.NetLiquidity.Decimal,
			OptionBuyingPower: m.OptionBuyingPower.Decimal,
		},
	}, nil
}

// decodeOption returns a pooled QuoteUpdateEvent; the sequencer releases it.
func decodeOption(msg []byte, epoch uint64) (event.Event, error) {
	body, err := payload(msg)
	if err != nil {
		return nil, &domain.DecodeError{Source: KindOption.String(), Err: err}
	}
	var m optionMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &domain.DecodeError{Source: KindOption.String(), Err: err}
	}
	if m.Expiration == "" || !m.Strike.Valid || !m.Bid.Valid || !m.Ask.Valid {
		return nil, &domain.DecodeError{Source: KindOption.String(), Err: errMissingField}
	}
	side, err := domain.ParseOptionSide(m.OptionType)
	if err != nil {
		return nil, &domain.DecodeError{Source: KindOption.String(), Err: err}
	}

	ev := event.AcquireQuoteUpdateEvent()
	ev.BaseEvent = event.NewBase(epoch, false)
	ev.Coord = domain.NewCoordinate(m.Expiration, m.Strike.Decimal, side)
	ev.Bid = m.Bid.Decimal
	ev.Ask = m.Ask.Decimal
	return ev, nil
}
