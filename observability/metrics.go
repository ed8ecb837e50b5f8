package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vessels"

type apiMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	vesselMetricsOnce sync.Once
	vesselRegistry    *VesselMetrics

	stabilityMetricsOnce sync.Once
	stabilityRegistry    *StabilityMetrics
)

// API returns the lazily-initialised registry recording daemon HTTP activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total read-only API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for read-only API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelRoute(route)
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *apiMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelRoute(route)).Inc()
}

// VesselMetrics wraps collectors tracking the vessel engine.
type VesselMetrics struct {
	operations     *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	liquidatedDebt *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	redeemedDebt   *prometheus.CounterVec
	baseRate       *prometheus.GaugeVec
	tcr            *prometheus.GaugeVec
}

// Vessels exposes the metrics registry for the vessel engine.
func Vessels() *VesselMetrics {
	vesselMetricsOnce.Do(func() {
		vesselRegistry = &VesselMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Vessel operations segmented by asset, operation and outcome.",
			}, []string{"asset", "operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Liquidated vessels segmented by asset, system mode and disposal.",
			}, []string{"asset", "mode", "disposal"}),
			liquidatedDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "liquidated_debt_total",
				Help:      "Debt removed from vessels by liquidation, in whole debt tokens.",
			}, []string{"asset"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "redemptions_total",
				Help:      "Redemptions segmented by asset and stop outcome.",
			}, []string{"asset", "outcome"}),
			redeemedDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "redeemed_debt_total",
				Help:      "Debt tokens burned by redemptions, in whole tokens.",
			}, []string{"asset"}),
			baseRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fees",
				Name:      "base_rate",
				Help:      "Current fee base rate per asset (0-1).",
			}, []string{"asset"}),
			tcr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "total_collateral_ratio",
				Help:      "Total collateralisation ratio per asset observed at the last operation.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			vesselRegistry.operations,
			vesselRegistry.liquidations,
			vesselRegistry.liquidatedDebt,
			vesselRegistry.redemptions,
			vesselRegistry.redeemedDebt,
			vesselRegistry.baseRate,
			vesselRegistry.tcr,
		)
	})
	return vesselRegistry
}

// RecordOperation counts an engine call and its outcome.
func (m *VesselMetrics) RecordOperation(asset, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(labelAsset(asset), operation, outcome).Inc()
}

// RecordLiquidation counts a single liquidated vessel.
func (m *VesselMetrics) RecordLiquidation(asset string, recovery bool, disposal string, debt *big.Int) {
	if m == nil {
		return
	}
	mode := "normal"
	if recovery {
		mode = "recovery"
	}
	label := labelAsset(asset)
	m.liquidations.WithLabelValues(label, mode, disposal).Inc()
	m.liquidatedDebt.WithLabelValues(label).Add(scaledToFloat(debt))
}

// RecordRedemption counts a redemption and the debt it burned.
func (m *VesselMetrics) RecordRedemption(asset, outcome string, redeemed *big.Int) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	label := labelAsset(asset)
	m.redemptions.WithLabelValues(label, outcome).Inc()
	m.redeemedDebt.WithLabelValues(label).Add(scaledToFloat(redeemed))
}

// SetBaseRate records the stored base rate of asset.
func (m *VesselMetrics) SetBaseRate(asset string, rate *big.Int) {
	if m == nil {
		return
	}
	m.baseRate.WithLabelValues(labelAsset(asset)).Set(scaledToFloat(rate))
}

// SetTCR records the total collateralisation ratio of asset. The max
// sentinel reported for debt-free systems is exported as +Inf.
func (m *VesselMetrics) SetTCR(asset string, tcr *big.Int) {
	if m == nil {
		return
	}
	value := scaledToFloat(tcr)
	if tcr != nil && tcr.BitLen() >= 256 {
		value = math.Inf(1)
	}
	m.tcr.WithLabelValues(labelAsset(asset)).Set(value)
}

// StabilityMetrics tracks stability pool activity.
type StabilityMetrics struct {
	deposits prometheus.Gauge
	offsets  *prometheus.CounterVec
}

// Stability exposes the metrics registry for the stability pool.
func Stability() *StabilityMetrics {
	stabilityMetricsOnce.Do(func() {
		stabilityRegistry = &StabilityMetrics{
			deposits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "total_deposits",
				Help:      "Debt tokens held by the stability pool, in whole tokens.",
			}),
			offsets: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stability",
				Name:      "offset_debt_total",
				Help:      "Debt cancelled against stability pool deposits, in whole tokens.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(stabilityRegistry.deposits, stabilityRegistry.offsets)
	})
	return stabilityRegistry
}

// SetDeposits records the pool's total deposits.
func (m *StabilityMetrics) SetDeposits(total *big.Int) {
	if m == nil {
		return
	}
	m.deposits.Set(scaledToFloat(total))
}

// RecordOffset adds debt cancelled by an offset.
func (m *StabilityMetrics) RecordOffset(asset string, debt *big.Int) {
	if m == nil {
		return
	}
	m.offsets.WithLabelValues(labelAsset(asset)).Add(scaledToFloat(debt))
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelRoute(route string) string {
	if trimmed := strings.TrimSpace(route); trimmed != "" {
		return trimmed
	}
	return "unknown"
}

var scale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// scaledToFloat converts an 18-decimal fixed point value to float64.
func scaledToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).Quo(new(big.Float).SetInt(value), scale).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
