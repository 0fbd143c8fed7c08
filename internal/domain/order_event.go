package domain

// OrderEvent is the lifecycle event the order feed reports for one order.
type OrderEvent int

const (
	OrderEventUnknown OrderEvent = iota // anything the backend sends that is not listed below
	OrderEventInvalid
	OrderEventNil
	OrderBroken
	OrderManualExecution
	OrderActivation
	OrderCancelReplace
	OrderCancel
	OrderEntry
	OrderFill
	OrderPartialFill
	OrderRejection
	OrderTooLateToCancel
	OrderOut
)

var orderEventNames = map[OrderEvent]string{
	OrderEventInvalid:    "OrderEventInvalid",
	OrderEventNil:        "OrderEventNil",
	OrderBroken:          "OrderBroken",
	OrderManualExecution: "OrderManualExecution",
	OrderActivation:      "OrderActivation",
	OrderCancelReplace:   "OrderCancelReplace",
	OrderCancel:          "OrderCancel",
	OrderEntry:           "OrderEntry",
	OrderFill:            "OrderFill",
	OrderPartialFill:     "OrderPartialFill",
	OrderRejection:       "OrderRejection",
	OrderTooLateToCancel: "OrderTooLateToCancel",
	OrderOut:             "OrderOut",
}

var orderEventsByName = func() map[string]OrderEvent {
	m := make(map[string]OrderEvent, len(orderEventNames))
	for ev, name := range orderEventNames {
		m[name] = ev
	}
	return m
}()

func (e OrderEvent) String() string {
	if name, ok := orderEventNames[e]; ok {
		return name
	}
	return "OrderEventUnknown"
}

// ParseOrderEvent never fails: unrecognised names map to OrderEventUnknown.
func ParseOrderEvent(name string) OrderEvent {
	if ev, ok := orderEventsByName[name]; ok {
		return ev
	}
	return OrderEventUnknown
}

// RequiresRefetch reports whether the event changes the order book enough that
// a fresh snapshot has to be fetched. Everything else is ignored.
func (e OrderEvent) RequiresRefetch() bool {
	switch e {
	case OrderFill, OrderPartialFill, OrderBroken, OrderManualExecution,
		OrderEntry, OrderTooLateToCancel, OrderOut:
		return true
	}
	return false
}
