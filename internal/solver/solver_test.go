package solver

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

const priceTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= priceTolerance
}

func TestPureBundleExactness(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "iron-ore", Quantity: 2}}},
		{TotalPrice: 14, Lines: []BundleLine{{ItemTypeID: "iron-ore", Quantity: 2}}},
		{TotalPrice: 9, Lines: []BundleLine{{ItemTypeID: "timber", Quantity: 3}}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected a pure-only dataset to converge")
	}

	tests := []struct {
		item      string
		unitPrice float64
		quantity  int
		bundles   int
	}{
		{"iron-ore", 6.0, 4, 2}, // (10+14)/(2+2)
		{"timber", 3.0, 3, 1},
	}
	for _, tt := range tests {
		estimate, ok := result.Prices[tt.item]
		if !ok {
			t.Fatalf("missing estimate for %s", tt.item)
		}
		if !almostEqual(estimate.UnitPrice, tt.unitPrice) {
			t.Errorf("%s unit price = %v, want %v", tt.item, estimate.UnitPrice, tt.unitPrice)
		}
		if estimate.TotalQuantityObserved != tt.quantity {
			t.Errorf("%s quantity = %d, want %d", tt.item, estimate.TotalQuantityObserved, tt.quantity)
		}
		if estimate.BundleCount != tt.bundles {
			t.Errorf("%s bundle count = %d, want %d", tt.item, estimate.BundleCount, tt.bundles)
		}
	}
}

func TestResidualInference(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 15, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "shield", Quantity: 1},
		}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence")
	}
	if got := result.Prices["sword"].UnitPrice; !almostEqual(got, 10) {
		t.Errorf("sword unit price = %v, want 10", got)
	}
	if got := result.Prices["shield"].UnitPrice; !almostEqual(got, 5) {
		t.Errorf("shield unit price = %v, want 5", got)
	}
}

func TestResidualInferenceWithQuantities(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 20, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 2}}},
		{TotalPrice: 30, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "arrow", Quantity: 4},
		}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence")
	}
	if got := result.Prices["sword"].UnitPrice; !almostEqual(got, 10) {
		t.Errorf("sword unit price = %v, want 10", got)
	}
	// (30 - 1*10) / 4
	if got := result.Prices["arrow"].UnitPrice; !almostEqual(got, 5) {
		t.Errorf("arrow unit price = %v, want 5", got)
	}
	if got := result.Prices["arrow"].TotalQuantityObserved; got != 4 {
		t.Errorf("arrow quantity = %d, want 4", got)
	}
}

func TestPropagationThroughMixedBundles(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 15, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "shield", Quantity: 1},
		}},
		{TotalPrice: 11, Lines: []BundleLine{
			{ItemTypeID: "shield", Quantity: 1},
			{ItemTypeID: "arrow", Quantity: 2},
		}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence")
	}
	// shield is unknown in both mixed bundles in the first round, so its
	// price blends the two residual shares: (5 + 11/3) / 2.
	if got, want := result.Prices["shield"].UnitPrice, 13.0/3.0; !almostEqual(got, want) {
		t.Errorf("shield unit price = %v, want %v", got, want)
	}
	if got, want := result.Prices["arrow"].UnitPrice, 11.0/3.0; !almostEqual(got, want) {
		t.Errorf("arrow unit price = %v, want %v", got, want)
	}
}

func TestDeterminismAcrossOrderings(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 12, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 30, Lines: []BundleLine{
			{ItemTypeID: "shield", Quantity: 2},
			{ItemTypeID: "sword", Quantity: 1},
		}},
		{TotalPrice: 7, Lines: []BundleLine{
			{ItemTypeID: "arrow", Quantity: 5},
			{ItemTypeID: "shield", Quantity: 1},
		}},
	}

	reordered := []BundleObservation{bundles[3], bundles[1], bundles[2], bundles[0]}
	// Line order within a bundle must not matter either.
	reordered[2] = BundleObservation{TotalPrice: 30, Lines: []BundleLine{
		{ItemTypeID: "sword", Quantity: 1},
		{ItemTypeID: "shield", Quantity: 2},
	}}

	first, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	second, err := InferItemPrices(logger, reordered)
	if err != nil {
		t.Fatalf("InferItemPrices on reordered input failed: %v", err)
	}

	if !reflect.DeepEqual(first.Prices, second.Prices) {
		t.Errorf("reordered input changed prices:\n%v\nvs\n%v", first.Prices, second.Prices)
	}
	if first.Converged != second.Converged || first.Iterations != second.Iterations {
		t.Errorf("reordered input changed run outcome: %+v vs %+v", first, second)
	}

	// Idempotence on the identical list.
	third, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("repeat InferItemPrices failed: %v", err)
	}
	if !reflect.DeepEqual(first.Prices, third.Prices) {
		t.Error("identical input produced different prices across runs")
	}
}

func TestDiscountBundleNonNegativity(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		// The sword alone is worth more than this promotional bundle.
		{TotalPrice: 5, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "sticker", Quantity: 2},
		}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}

	sticker, ok := result.Prices["sticker"]
	if !ok {
		t.Fatal("expected the sticker to appear in the estimate map")
	}
	if sticker.UnitPrice != 0 {
		t.Errorf("sticker unit price = %v, want 0 (never negative, never fabricated)", sticker.UnitPrice)
	}
	if sticker.UnitPrice < 0 {
		t.Error("inferred price must never be negative")
	}
	if sticker.BundleCount != 1 || sticker.TotalQuantityObserved != 2 {
		t.Errorf("sticker evidence = %d bundles / %d qty, want 1 / 2",
			sticker.BundleCount, sticker.TotalQuantityObserved)
	}
	if sticker.ConfidenceScore <= 0 {
		t.Error("sticker should still accrue confidence from bundle participation")
	}
}

func TestDiscountBundleWithoutUnpricedEvidence(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 5, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "sticker", Quantity: 2},
		}},
	}

	opts := DefaultOptions()
	opts.CountUnpricedEvidence = false
	result, err := InferItemPricesWithOptions(logger, bundles, opts)
	if err != nil {
		t.Fatalf("InferItemPricesWithOptions failed: %v", err)
	}

	if _, ok := result.Prices["sticker"]; ok {
		t.Error("sticker should not accrue evidence when unpriced participation is disabled")
	}
	if got := result.Prices["sword"].UnitPrice; !almostEqual(got, 10) {
		t.Errorf("sword unit price = %v, want 10", got)
	}
}

func TestEmptyBundleListSignalsNoData(t *testing.T) {
	logger := zap.NewNop()

	if _, err := InferItemPrices(logger, nil); !errors.Is(err, ErrNoBundles) {
		t.Errorf("nil input: got %v, want ErrNoBundles", err)
	}
	if _, err := InferItemPrices(logger, []BundleObservation{}); !errors.Is(err, ErrNoBundles) {
		t.Errorf("empty input: got %v, want ErrNoBundles", err)
	}

	// A list that sanitizes down to nothing is also "no data".
	junk := []BundleObservation{
		{TotalPrice: 5, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 0}}},
	}
	if _, err := InferItemPrices(logger, junk); !errors.Is(err, ErrNoBundles) {
		t.Errorf("fully-anomalous input: got %v, want ErrNoBundles", err)
	}
}

func TestAnomalousLinesAreSkippedNotFatal(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "glitch", Quantity: -3},
		}},
	}

	result, err := InferItemPrices(logger, bundles)
	if err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	// With the bad line gone the bundle is pure.
	if got := result.Prices["sword"].UnitPrice; !almostEqual(got, 10) {
		t.Errorf("sword unit price = %v, want 10", got)
	}
	if _, ok := result.Prices["glitch"]; ok {
		t.Error("skipped line must not produce an estimate")
	}
	if len(result.Anomalies) != 1 {
		t.Errorf("anomalies = %v, want exactly one entry", result.Anomalies)
	}
}

func TestIterationCapReturnsEstimatesUnconverged(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
		{TotalPrice: 15, Lines: []BundleLine{
			{ItemTypeID: "sword", Quantity: 1},
			{ItemTypeID: "shield", Quantity: 1},
		}},
	}

	opts := DefaultOptions()
	opts.MaxIterations = 1
	result, err := InferItemPricesWithOptions(logger, bundles, opts)
	if err != nil {
		t.Fatalf("InferItemPricesWithOptions failed: %v", err)
	}
	if result.Converged {
		t.Error("one iteration cannot confirm stability for a newly priced item")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	// The last computed estimates are still returned.
	if got := result.Prices["shield"].UnitPrice; !almostEqual(got, 5) {
		t.Errorf("shield unit price = %v, want 5", got)
	}
	for _, estimate := range result.Prices {
		if estimate.Converged {
			t.Errorf("%s flagged converged on a capped run", estimate.ItemTypeID)
		}
	}

	opts.MaxIterations = 2
	settled, err := InferItemPricesWithOptions(logger, bundles, opts)
	if err != nil {
		t.Fatalf("InferItemPricesWithOptions failed: %v", err)
	}
	if !settled.Converged {
		t.Error("two iterations should confirm stability here")
	}
}

func TestInputIsNotMutated(t *testing.T) {
	logger := zap.NewNop()

	bundles := []BundleObservation{
		{TotalPrice: 15, Lines: []BundleLine{
			{ItemTypeID: "shield", Quantity: 1},
			{ItemTypeID: "sword", Quantity: 1},
		}},
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
	}
	snapshot := []BundleObservation{
		{TotalPrice: 15, Lines: []BundleLine{
			{ItemTypeID: "shield", Quantity: 1},
			{ItemTypeID: "sword", Quantity: 1},
		}},
		{TotalPrice: 10, Lines: []BundleLine{{ItemTypeID: "sword", Quantity: 1}}},
	}

	if _, err := InferItemPrices(logger, bundles); err != nil {
		t.Fatalf("InferItemPrices failed: %v", err)
	}
	if !reflect.DeepEqual(bundles, snapshot) {
		t.Error("solver mutated its input slice")
	}
}
