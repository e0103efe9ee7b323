package solver

import "github.com/packworth/packworth/pkg/constants"

// BundleLine is one item type entry within a bundle.
type BundleLine struct {
	ItemTypeID string `json:"itemTypeId" yaml:"itemTypeId"`
	Quantity   int    `json:"quantity" yaml:"quantity"`
}

// BundleObservation is one priced transaction: a total price paid for a
// multiset of item types. Observations are immutable for the duration of a
// solver run.
type BundleObservation struct {
	TotalPrice float64      `json:"totalPrice" yaml:"totalPrice"`
	Lines      []BundleLine `json:"lines" yaml:"lines"`
}

// Pure reports whether the bundle contains exactly one distinct item type.
func (b BundleObservation) Pure() bool {
	return len(b.Lines) == 1
}

// ItemPriceEstimate is the solver output for a single item type.
type ItemPriceEstimate struct {
	ItemTypeID            string  `json:"itemTypeId"`
	UnitPrice             float64 `json:"unitPrice"`
	TotalQuantityObserved int     `json:"totalQuantityObserved"`
	BundleCount           int     `json:"bundleCount"`
	ConfidenceScore       float64 `json:"confidenceScore"`
	Converged             bool    `json:"converged"`
}

// Result is the complete outcome of one solver run. Prices is always a full
// replacement map; the solver never exposes partially updated state.
type Result struct {
	Prices     map[string]ItemPriceEstimate `json:"prices"`
	Converged  bool                         `json:"converged"`
	Iterations int                          `json:"iterations"`
	Anomalies  []string                     `json:"anomalies,omitempty"`
}

// Options tunes a solver run.
type Options struct {
	// Epsilon is the maximum absolute per-item price delta between
	// iterations for the run to be considered stable.
	Epsilon float64

	// MaxIterations caps the fixed-point loop.
	MaxIterations int

	// CountUnpricedEvidence controls whether an unknown item inside a
	// fully-discounted mixed bundle (known lines already cover the whole
	// price) still counts toward that item's bundleCount and observed
	// quantity. The upstream behavior counts it; disabling keeps such
	// bundles out of the confidence inputs.
	CountUnpricedEvidence bool
}

// DefaultOptions returns the standard solver tuning.
func DefaultOptions() Options {
	return Options{
		Epsilon:               constants.DefaultEpsilon,
		MaxIterations:         constants.DefaultMaxIterations,
		CountUnpricedEvidence: true,
	}
}
