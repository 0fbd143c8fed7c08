// Package feed runs the three push subscriptions (order, portfolio, option
// quote) and turns each inbound message into a sequencer event.
package feed

import "optiondesk/internal/domain"

// Kind identifies one of the three feeds.
type Kind int

const (
	KindOrder Kind = iota + 1
	KindPortfolio
	KindOption
)

// Kinds lists every feed in start order.
var Kinds = []Kind{KindOrder, KindPortfolio, KindOption}

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindPortfolio:
		return "portfolio"
	case KindOption:
		return "option"
	default:
		return "unknown"
	}
}

// Path is the subscription path appended to the feed base URL.
func (k Kind) Path() string {
	switch k {
	case KindOrder:
		return domain.FeedPathOrderUpdates
	case KindPortfolio:
		return domain.FeedPathPortfolioUpdate
	case KindOption:
		return domain.FeedPathOptionUpdates
	default:
		return ""
	}
}
