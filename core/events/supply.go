package events

import (
	"math/big"
	"strings"
)

const (
	TypeTokenSupply = "tokens.supply"

	SupplyReasonMint = "mint"
	SupplyReasonBurn = "burn"
)

// TokenSupply reports a change to the outstanding supply of a ledger token,
// either the debt token or a collateral asset. Delta is negative for burns.
type TokenSupply struct {
	Token  string
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *Record {
	token := strings.ToUpper(strings.TrimSpace(e.Token))
	if token == "" {
		token = "UNKNOWN"
	}
	attrs := map[string]string{"token": token}
	setAmount(attrs, "total", e.Total)
	if e.Delta != nil {
		setAmount(attrs, "delta", e.Delta)
	}
	setString(attrs, "reason", e.Reason)
	return &Record{Type: TypeTokenSupply, Attributes: attrs}
}
