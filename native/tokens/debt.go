package tokens

import (
	"math/big"

	"vesselchain/crypto"
)

// DefaultDebtSymbol is the ticker of the protocol stablecoin.
const DefaultDebtSymbol = "VUSD"

// DebtToken binds the ledger to the protocol stablecoin symbol.
type DebtToken struct {
	ledger *Ledger
	symbol string
}

// NewDebtToken returns a debt token view over ledger. An empty symbol selects
// DefaultDebtSymbol.
func NewDebtToken(ledger *Ledger, symbol string) *DebtToken {
	if symbol == "" {
		symbol = DefaultDebtSymbol
	}
	return &DebtToken{ledger: ledger, symbol: symbol}
}

func (d *DebtToken) Symbol() string { return d.symbol }

func (d *DebtToken) Mint(to crypto.Address, amount *big.Int) error {
	return d.ledger.Mint(d.symbol, to, amount)
}

func (d *DebtToken) Burn(from crypto.Address, amount *big.Int) error {
	return d.ledger.Burn(d.symbol, from, amount)
}

func (d *DebtToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	return d.ledger.Transfer(d.symbol, from, to, amount)
}

func (d *DebtToken) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return d.ledger.BalanceOf(d.symbol, addr)
}

func (d *DebtToken) TotalSupply() (*big.Int, error) {
	return d.ledger.TotalSupply(d.symbol)
}
