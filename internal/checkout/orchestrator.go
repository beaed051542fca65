package checkout

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/cart"
	"github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/requestctx"
)

// ErrPurchaseRejected is returned when the backend answered 2xx with success=false.
var ErrPurchaseRejected = errors.New("checkout: purchase rejected")

var errPurchaserRequired = errors.New("checkout: purchaser is required")

const metricNamespace = "github.com/hanko-field/pos/checkout"

// Outcome labels recorded on the checkout metrics.
const (
	outcomeConfirmed = "confirmed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// Purchaser submits a purchase request to the backend.
type Purchaser interface {
	Purchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResult, error)
}

// Orchestrator turns cart lines into a purchase and reports the backend's confirmation. It never
// mutates cart state; clearing the cart after success is left to the caller.
type Orchestrator struct {
	purchaser Purchaser
	outcomes  metric.Int64Counter
	latency   metric.Float64Histogram
}

// OrchestratorOption customises the orchestrator.
type OrchestratorOption func(*orchestratorConfig)

type orchestratorConfig struct {
	meter metric.Meter
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		cfg.meter = m
	}
}

// NewOrchestrator wires the orchestrator to a purchaser. Metrics are recorded on the global meter
// provider unless WithMeter is supplied.
func NewOrchestrator(purchaser Purchaser, opts ...OrchestratorOption) (*Orchestrator, error) {
	if purchaser == nil {
		return nil, errPurchaserRequired
	}
	var cfg orchestratorConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	outcomes, err := meter.Int64Counter(
		"pos.checkout.outcomes",
		metric.WithDescription("Count of checkout attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"pos.checkout.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for purchase submissions"),
	)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{purchaser: purchaser, outcomes: outcomes, latency: latency}, nil
}

// Checkout submits lines for the given station. Empty carts are submitted as-is. On success the
// returned TotalAmount is the amount of record, regardless of the local subtotal. A rejected
// purchase returns the backend result together with ErrPurchaseRejected; transport failures are
// returned as *PurchaseError.
func (o *Orchestrator) Checkout(ctx context.Context, lines []domain.CartLine, station domain.Station) (domain.PurchaseResult, error) {
	req := BuildRequest(lines, station)
	subtotal := cart.Subtotal(lines)
	logger := requestctx.Logger(ctx).With(
		zap.String("register_no", station.RegisterNo),
		zap.Int("lines", len(req.Items)),
		zap.Int64("subtotal", subtotal),
	)

	start := time.Now()
	result, err := o.purchaser.Purchase(ctx, req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		o.record(ctx, outcomeFailed, elapsed)
		logger.Warn("purchase submission failed", zap.Error(err))
		return domain.PurchaseResult{}, err
	}
	if !result.Success {
		o.record(ctx, outcomeRejected, elapsed)
		logger.Warn("purchase rejected by backend", zap.Int64("total_amount", result.TotalAmount))
		return result, ErrPurchaseRejected
	}
	o.record(ctx, outcomeConfirmed, elapsed)

	if result.TotalAmount != subtotal {
		logger.Info("backend total differs from local subtotal", zap.Int64("total_amount", result.TotalAmount))
	} else {
		logger.Info("purchase confirmed", zap.Int64("total_amount", result.TotalAmount))
	}
	return result, nil
}

func (o *Orchestrator) record(ctx context.Context, outcome string, elapsedMS float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	o.outcomes.Add(ctx, 1, attrs)
	o.latency.Record(ctx, elapsedMS, attrs)
}

// BuildRequest maps cart lines, in order, to the purchase wire shape.
func BuildRequest(lines []domain.CartLine, station domain.Station) domain.PurchaseRequest {
	items := make([]domain.PurchaseItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.PurchaseItem{
			ProductID: line.ProductID,
			Code:      line.Code,
			Name:      line.Name,
			Price:     line.Price,
			Qty:       line.Qty,
		})
	}
	return domain.PurchaseRequest{
		EmployeeCode: station.EmployeeCode,
		StoreCode:    station.StoreCode,
		RegisterNo:   station.RegisterNo,
		Items:        items,
	}
}
