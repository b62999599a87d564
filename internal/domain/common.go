package domain

// OrderAction represents the direction of an order leg (BUY or SELL).
type OrderAction string

const (
	Buy  OrderAction = "BUY"
	Sell OrderAction = "SELL"
)

// IsValid reports whether the action is one of the known directions.
func (a OrderAction) IsValid() bool {
	return a == Buy || a == Sell
}

// ContractRight identifies an option contract as a call or a put.
type ContractRight string

const (
	Call ContractRight = "C"
	Put  ContractRight = "P"
)

// IsValid reports whether the right is a known option right.
func (r ContractRight) IsValid() bool {
	return r == Call || r == Put
}

// TradeStatus represents the lifecycle state of a trade record.
type TradeStatus string

const (
	StatusRequested TradeStatus = "REQUESTED"
	StatusRejected  TradeStatus = "REJECTED"
	StatusPending   TradeStatus = "PENDING"
	StatusSubmitted TradeStatus = "SUBMITTED"
	StatusFilled    TradeStatus = "FILLED"
	StatusFailed    TradeStatus = "FAILED"
	StatusClosed    TradeStatus = "CLOSED"
)

// tradeTransitions encodes the legal status machine:
// REQUESTED -> {REJECTED | PENDING}, PENDING -> {SUBMITTED | FAILED},
// SUBMITTED -> {FILLED | FAILED}, FILLED -> CLOSED.
// PENDING -> FAILED covers a broker rejection before acknowledgement.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	StatusRequested: {StatusRejected, StatusPending},
	StatusPending:   {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusFilled, StatusFailed},
	StatusFilled:    {StatusClosed},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	for _, allowed := range tradeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s TradeStatus) IsTerminal() bool {
	return len(tradeTransitions[s]) == 0
}
