package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/fixedpoint"
	"vesselchain/native/pricefeed"
	"vesselchain/native/stability"
	"vesselchain/native/vessels"
)

// VesselQuerier is the read side of the vessel engine.
type VesselQuerier interface {
	Snapshot(asset string) (vessels.SystemSnapshot, error)
	Vessel(asset string, owner crypto.Address) (*vessels.Vessel, error)
	EntireDebtAndColl(asset string, owner crypto.Address) (vessels.EntireDebtAndColl, error)
	BorrowingRate(asset string) (*big.Int, error)
	RedemptionRate(asset string) (*big.Int, error)
	GetRedemptionHints(asset string, amount, price *big.Int, maxIterations uint64) (vessels.RedemptionHints, error)
	FindInsertHints(asset string, nicr *big.Int, prevHint, nextHint crypto.Address) (crypto.Address, crypto.Address, error)
}

// AssetLister enumerates registered collateral.
type AssetLister interface {
	Assets() ([]string, error)
}

// StabilityQuerier is the read side of the stability pool.
type StabilityQuerier interface {
	Totals() (stability.Totals, error)
	CompoundedDeposit(addr crypto.Address) (*big.Int, error)
	DepositorGain(addr crypto.Address, asset string) (*big.Int, error)
}

type vesselRoutes struct {
	vessels   VesselQuerier
	assets    AssetLister
	stability StabilityQuerier
}

type assetSnapshotResponse struct {
	Asset          string `json:"asset"`
	Price          string `json:"price"`
	TCR            string `json:"tcr"`
	RecoveryMode   bool   `json:"recoveryMode"`
	Vessels        uint64 `json:"vessels"`
	ActiveColl     string `json:"activeColl"`
	ActiveDebt     string `json:"activeDebt"`
	DefaultColl    string `json:"defaultColl"`
	DefaultDebt    string `json:"defaultDebt"`
	SurplusColl    string `json:"surplusColl"`
	TotalStakes    string `json:"totalStakes"`
	LColl          string `json:"lColl"`
	LDebt          string `json:"lDebt"`
	BaseRate       string `json:"baseRate"`
	BorrowingRate  string `json:"borrowingRate"`
	RedemptionRate string `json:"redemptionRate"`
}

type vesselResponse struct {
	Asset       string         `json:"asset"`
	Owner       crypto.Address `json:"owner"`
	Status      string         `json:"status"`
	Coll        string         `json:"coll"`
	Debt        string         `json:"debt"`
	PendingColl string         `json:"pendingColl"`
	PendingDebt string         `json:"pendingDebt"`
	Stake       string         `json:"stake"`
	ICR         string         `json:"icr"`
	NominalICR  string         `json:"nominalIcr"`
}

type redemptionHintsResponse struct {
	Asset           string         `json:"asset"`
	Price           string         `json:"price"`
	FirstHint       crypto.Address `json:"firstHint"`
	PartialNICR     string         `json:"partialNicr"`
	TruncatedAmount string         `json:"truncatedAmount"`
	UpperPartial    crypto.Address `json:"upperPartialHint"`
	LowerPartial    crypto.Address `json:"lowerPartialHint"`
}

type stabilityDepositResponse struct {
	Depositor     crypto.Address    `json:"depositor"`
	Deposit       string            `json:"deposit"`
	TotalDeposits string            `json:"totalDeposits"`
	Gains         map[string]string `json:"gains"`
}

func (vr *vesselRoutes) listAssets(w http.ResponseWriter, r *http.Request) {
	if vr.assets == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("collateral registry unavailable"))
		return
	}
	assets, err := vr.assets.Assets()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assets": assets})
}

func (vr *vesselRoutes) snapshot(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	snap, err := vr.vessels.Snapshot(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	borrowing, err := vr.vessels.BorrowingRate(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	redemption, err := vr.vessels.RedemptionRate(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	state := snap.State
	writeJSON(w, http.StatusOK, assetSnapshotResponse{
		Asset:          snap.Asset,
		Price:          fixedpoint.Format(snap.Price),
		TCR:            fixedpoint.Format(snap.TCR),
		RecoveryMode:   snap.RecoveryMode,
		Vessels:        snap.Vessels,
		ActiveColl:     fixedpoint.Format(state.ActiveColl),
		ActiveDebt:     fixedpoint.Format(state.ActiveDebt),
		DefaultColl:    fixedpoint.Format(state.DefaultColl),
		DefaultDebt:    fixedpoint.Format(state.DefaultDebt),
		SurplusColl:    fixedpoint.Format(state.SurplusColl),
		TotalStakes:    fixedpoint.Format(state.TotalStakes),
		LColl:          fixedpoint.Format(state.LColl),
		LDebt:          fixedpoint.Format(state.LDebt),
		BaseRate:       fixedpoint.Format(snap.Fees.BaseRate),
		BorrowingRate:  fixedpoint.Format(borrowing),
		RedemptionRate: fixedpoint.Format(redemption),
	})
}

func (vr *vesselRoutes) vessel(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("owner: %w", err))
		return
	}
	v, err := vr.vessels.Vessel(asset, owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if v.Status == vessels.StatusNonExistent {
		writeJSONError(w, http.StatusNotFound, vessels.ErrPositionNotActive)
		return
	}
	entire, err := vr.vessels.EntireDebtAndColl(asset, owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	snap, err := vr.vessels.Snapshot(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vesselResponse{
		Asset:       snap.Asset,
		Owner:       owner,
		Status:      v.Status.String(),
		Coll:        fixedpoint.Format(entire.Coll),
		Debt:        fixedpoint.Format(entire.Debt),
		PendingColl: fixedpoint.Format(entire.PendingColl),
		PendingDebt: fixedpoint.Format(entire.PendingDebt),
		Stake:       fixedpoint.Format(v.Stake),
		ICR:         fixedpoint.Format(fixedpoint.ComputeCR(entire.Coll, entire.Debt, snap.Price)),
		NominalICR:  fixedpoint.ComputeNominalCR(entire.Coll, entire.Debt).String(),
	})
}

func (vr *vesselRoutes) redemptionHints(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	query := r.URL.Query()
	amount, err := fixedpoint.ParseDecimal(query.Get("amount"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("amount: %w", err))
		return
	}
	var maxIterations uint64
	if raw := strings.TrimSpace(query.Get("maxIterations")); raw != "" {
		maxIterations, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("maxIterations: %w", err))
			return
		}
	}
	snap, err := vr.vessels.Snapshot(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	hints, err := vr.vessels.GetRedemptionHints(asset, amount, snap.Price, maxIterations)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := redemptionHintsResponse{
		Asset:           snap.Asset,
		Price:           fixedpoint.Format(snap.Price),
		FirstHint:       hints.FirstHint,
		PartialNICR:     hints.PartialNICR.String(),
		TruncatedAmount: fixedpoint.Format(hints.TruncatedAmount),
	}
	if hints.PartialNICR != nil && hints.PartialNICR.Sign() > 0 {
		upper, lower, err := vr.vessels.FindInsertHints(asset, hints.PartialNICR, crypto.Address{}, crypto.Address{})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.UpperPartial = upper
		resp.LowerPartial = lower
	}
	writeJSON(w, http.StatusOK, resp)
}

func (vr *vesselRoutes) stabilityDeposit(w http.ResponseWriter, r *http.Request) {
	if vr.stability == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("stability pool unavailable"))
		return
	}
	depositor, err := crypto.DecodeAddress(chi.URLParam(r, "depositor"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("depositor: %w", err))
		return
	}
	deposit, err := vr.stability.CompoundedDeposit(depositor)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	totals, err := vr.stability.Totals()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	resp := stabilityDepositResponse{
		Depositor:     depositor,
		Deposit:       fixedpoint.Format(deposit),
		TotalDeposits: fixedpoint.Format(totals.Deposits),
		Gains:         map[string]string{},
	}
	if vr.assets != nil {
		assets, err := vr.assets.Assets()
		if err != nil {
			writeInternalError(w, err)
			return
		}
		for _, asset := range assets {
			gain, err := vr.stability.DepositorGain(depositor, asset)
			if err != nil {
				writeInternalError(w, err)
				return
			}
			if gain.Sign() > 0 {
				resp.Gains[asset] = fixedpoint.Format(gain)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeEngineError maps engine and collaborator errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collateral.ErrUnknownAsset),
		errors.Is(err, vessels.ErrPositionNotActive):
		writeJSONError(w, http.StatusNotFound, err)
	case errors.Is(err, vessels.ErrInvalidAsset),
		errors.Is(err, vessels.ErrZeroAmount),
		errors.Is(err, vessels.ErrZeroOwner):
		writeBadRequest(w, err)
	case errors.Is(err, pricefeed.ErrNoPrice),
		errors.Is(err, pricefeed.ErrStalePrice),
		errors.Is(err, vessels.ErrNotConfigured):
		writeJSONError(w, http.StatusServiceUnavailable, err)
	default:
		writeInternalError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
