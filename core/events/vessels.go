package events

import (
	"math/big"
	"sort"
	"strconv"
	"strings"
)

const (
	TypeVesselUpdated           = "vessels.updated"
	TypeVesselLiquidated        = "vessels.liquidated"
	TypeLiquidation             = "vessels.liquidation"
	TypeRedemption              = "vessels.redemption"
	TypeBaseRateUpdated         = "vessels.base_rate"
	TypeLTermsUpdated           = "vessels.l_terms"
	TypeBorrowingFeePaid        = "vessels.borrowing_fee"
	TypeCollateralSurplus       = "vessels.surplus"
	TypeStabilityDepositUpdated = "stability.deposit"
	TypeStabilityOffset         = "stability.offset"
)

func setAmount(attrs map[string]string, key string, value *big.Int) {
	if value == nil {
		attrs[key] = "0"
		return
	}
	attrs[key] = value.String()
}

func setString(attrs map[string]string, key, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		attrs[key] = trimmed
	}
}

// VesselUpdated is emitted whenever a vessel's debt, collateral or stake
// changes.
type VesselUpdated struct {
	Asset     string
	Owner     string
	Debt      *big.Int
	Coll      *big.Int
	Stake     *big.Int
	Status    string
	Operation string
}

func (VesselUpdated) EventType() string { return TypeVesselUpdated }

func (e VesselUpdated) Event() *Record {
	attrs := map[string]string{}
	attrs["asset"] = normalizeAsset(e.Asset)
	setString(attrs, "owner", e.Owner)
	setAmount(attrs, "debt", e.Debt)
	setAmount(attrs, "coll", e.Coll)
	setAmount(attrs, "stake", e.Stake)
	setString(attrs, "status", e.Status)
	setString(attrs, "operation", e.Operation)
	return &Record{Type: TypeVesselUpdated, Attributes: attrs}
}

// VesselLiquidated records the disposal of a single vessel.
type VesselLiquidated struct {
	Asset    string
	Owner    string
	Debt     *big.Int
	Coll     *big.Int
	Disposal string
	Recovery bool
}

func (VesselLiquidated) EventType() string { return TypeVesselLiquidated }

func (e VesselLiquidated) Event() *Record {
	attrs := map[string]string{}
	attrs["asset"] = normalizeAsset(e.Asset)
	setString(attrs, "owner", e.Owner)
	setAmount(attrs, "debt", e.Debt)
	setAmount(attrs, "coll", e.Coll)
	setString(attrs, "disposal", e.Disposal)
	attrs["recoveryMode"] = strconv.FormatBool(e.Recovery)
	return &Record{Type: TypeVesselLiquidated, Attributes: attrs}
}

// Liquidation summarises a liquidation call.
type Liquidation struct {
	Asset               string
	OperationID         string
	Liquidator          string
	Count               int
	LiquidatedDebt      *big.Int
	LiquidatedColl      *big.Int
	DebtOffset          *big.Int
	DebtRedistributed   *big.Int
	CollGasCompensation *big.Int
	DebtGasCompensation *big.Int
}

func (Liquidation) EventType() string { return TypeLiquidation }

func (e Liquidation) Event() *Record {
	attrs := map[string]string{}
	attrs["asset"] = normalizeAsset(e.Asset)
	setString(attrs, "operationId", e.OperationID)
	setString(attrs, "liquidator", e.Liquidator)
	attrs["count"] = strconv.Itoa(e.Count)
	setAmount(attrs, "liquidatedDebt", e.LiquidatedDebt)
	setAmount(attrs, "liquidatedColl", e.LiquidatedColl)
	setAmount(attrs, "debtOffset", e.DebtOffset)
	setAmount(attrs, "debtRedistributed", e.DebtRedistributed)
	setAmount(attrs, "collGasCompensation", e.CollGasCompensation)
	setAmount(attrs, "debtGasCompensation", e.DebtGasCompensation)
	return &Record{Type: TypeLiquidation, Attributes: attrs}
}

// Redemption summarises a redemption call.
type Redemption struct {
	Asset       string
	OperationID string
	Redeemer    string
	Attempted   *big.Int
	Actual      *big.Int
	CollSent    *big.Int
	Fee         *big.Int
	Outcome     string
}

func (Redemption) EventType() string { return TypeRedemption }

func (e Redemption) Event() *Record {
	attrs := map[string]string{}
	attrs["asset"] = normalizeAsset(e.Asset)
	setString(attrs, "operationId", e.OperationID)
	setString(attrs, "redeemer", e.Redeemer)
	setAmount(attrs, "attempted", e.Attempted)
	setAmount(attrs, "actual", e.Actual)
	setAmount(attrs, "collSent", e.CollSent)
	setAmount(attrs, "fee", e.Fee)
	setString(attrs, "outcome", e.Outcome)
	return &Record{Type: TypeRedemption, Attributes: attrs}
}

// BaseRateUpdated is emitted when the fee base rate changes.
type BaseRateUpdated struct {
	Asset    string
	BaseRate *big.Int
}

func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

func (e BaseRateUpdated) Event() *Record {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset)}
	setAmount(attrs, "baseRate", e.BaseRate)
	return &Record{Type: TypeBaseRateUpdated, Attributes: attrs}
}

// LTermsUpdated is emitted after a redistribution.
type LTermsUpdated struct {
	Asset string
	LColl *big.Int
	LDebt *big.Int
}

func (LTermsUpdated) EventType() string { return TypeLTermsUpdated }

func (e LTermsUpdated) Event() *Record {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset)}
	setAmount(attrs, "lColl", e.LColl)
	setAmount(attrs, "lDebt", e.LDebt)
	return &Record{Type: TypeLTermsUpdated, Attributes: attrs}
}

// BorrowingFeePaid records an origination or epoch borrowing fee.
type BorrowingFeePaid struct {
	Asset string
	Owner string
	Fee   *big.Int
	Epoch uint64
}

func (BorrowingFeePaid) EventType() string { return TypeBorrowingFeePaid }

func (e BorrowingFeePaid) Event() *Record {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset)}
	setString(attrs, "owner", e.Owner)
	setAmount(attrs, "fee", e.Fee)
	if e.Epoch > 0 {
		attrs["epoch"] = strconv.FormatUint(e.Epoch, 10)
	}
	return &Record{Type: TypeBorrowingFeePaid, Attributes: attrs}
}

// CollateralSurplus records a surplus credit or claim.
type CollateralSurplus struct {
	Asset   string
	Owner   string
	Amount  *big.Int
	Claimed bool
}

func (CollateralSurplus) EventType() string { return TypeCollateralSurplus }

func (e CollateralSurplus) Event() *Record {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset)}
	setString(attrs, "owner", e.Owner)
	setAmount(attrs, "amount", e.Amount)
	attrs["claimed"] = strconv.FormatBool(e.Claimed)
	return &Record{Type: TypeCollateralSurplus, Attributes: attrs}
}

// StabilityDepositUpdated records a deposit change and any gains paid.
type StabilityDepositUpdated struct {
	Depositor string
	Deposit   *big.Int
	Gains     map[string]*big.Int
}

func (StabilityDepositUpdated) EventType() string { return TypeStabilityDepositUpdated }

func (e StabilityDepositUpdated) Event() *Record {
	attrs := map[string]string{}
	setString(attrs, "depositor", e.Depositor)
	setAmount(attrs, "deposit", e.Deposit)
	assets := make([]string, 0, len(e.Gains))
	for asset := range e.Gains {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		setAmount(attrs, "gain."+normalizeAsset(asset), e.Gains[asset])
	}
	return &Record{Type: TypeStabilityDepositUpdated, Attributes: attrs}
}

// StabilityOffset records debt absorbed by the stability pool.
type StabilityOffset struct {
	Asset      string
	DebtOffset *big.Int
	CollAdded  *big.Int
	Epoch      uint64
	Scale      uint64
}

func (StabilityOffset) EventType() string { return TypeStabilityOffset }

func (e StabilityOffset) Event() *Record {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset)}
	setAmount(attrs, "debtOffset", e.DebtOffset)
	setAmount(attrs, "collAdded", e.CollAdded)
	attrs["epoch"] = strconv.FormatUint(e.Epoch, 10)
	attrs["scale"] = strconv.FormatUint(e.Scale, 10)
	return &Record{Type: TypeStabilityOffset, Attributes: attrs}
}
