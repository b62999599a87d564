package domain

import "fmt"

// Contract describes the instrument a leg trades. A nil Contract on a Leg
// means the leg trades the order's underlying equity directly.
type Contract struct {
	Symbol string        `json:"symbol"`
	Expiry string        `json:"expiry"` // YYYY-MM-DD
	Strike float64       `json:"strike"`
	Right  ContractRight `json:"right"`
}

// Leg is a single buy or sell instruction inside an order.
type Leg struct {
	Action      OrderAction `json:"action"`
	Contract    *Contract   `json:"contract,omitempty"`
	Quantity    int         `json:"quantity"`
	Price       float64     `json:"price"`
	SpreadWidth *float64    `json:"spread_width,omitempty"`
}

// OrderMetadata carries optional provenance for an order.
type OrderMetadata struct {
	SignalSource string  `json:"signal_source,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// Order is a candidate trade proposed by an upstream signal source.
// It is immutable once constructed; the execution gate only reads it.
type Order struct {
	Symbol          string         `json:"symbol"`
	Strategy        string         `json:"strategy"`
	Legs            []Leg          `json:"legs"`
	MaxRisk         float64        `json:"max_risk"`
	CapitalRequired float64        `json:"capital_required"`
	Metadata        *OrderMetadata `json:"metadata,omitempty"`
}

// Validate performs structural validation only: required fields present and
// enums/quantities well-formed. Policy checks (limits, exposure) are the
// safety validator's job and happen after this passes.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if o.Strategy == "" {
		return fmt.Errorf("order strategy is required")
	}
	if len(o.Legs) == 0 {
		return fmt.Errorf("order must have at least one leg")
	}
	if o.MaxRisk < 0 {
		return fmt.Errorf("order max_risk cannot be negative: %v", o.MaxRisk)
	}
	if o.CapitalRequired < 0 {
		return fmt.Errorf("order capital_required cannot be negative: %v", o.CapitalRequired)
	}
	for i := range o.Legs {
		if err := o.Legs[i].validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	return nil
}

func (l *Leg) validate() error {
	if !l.Action.IsValid() {
		return fmt.Errorf("invalid action %q", l.Action)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", l.Quantity)
	}
	if l.Price < 0 {
		return fmt.Errorf("price cannot be negative, got %v", l.Price)
	}
	if c := l.Contract; c != nil {
		if c.Symbol == "" {
			return fmt.Errorf("contract symbol is required")
		}
		if c.Expiry == "" {
			return fmt.Errorf("contract expiry is required")
		}
		if c.Strike <= 0 {
			return fmt.Errorf("contract strike must be positive, got %v", c.Strike)
		}
		if !c.Right.IsValid() {
			return fmt.Errorf("invalid contract right %q", c.Right)
		}
	}
	return nil
}

// InstrumentSymbol returns the symbol the leg actually trades.
func (l *Leg) InstrumentSymbol(order *Order) string {
	if l.Contract != nil && l.Contract.Symbol != "" {
		return l.Contract.Symbol
	}
	return order.Symbol
}
