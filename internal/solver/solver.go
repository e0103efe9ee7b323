// Package solver computes self-consistent per-item unit prices from bundle
// observations via iterative propagation from pure (single-item) bundles into
// mixed (multi-item) bundles.
package solver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/packworth/packworth/pkg/confidence"
	"github.com/packworth/packworth/pkg/mathutil"
	"go.uber.org/zap"
)

// ErrNoBundles signals that no observations were supplied. An empty dataset
// is an expected caller-visible state, not a crash.
var ErrNoBundles = errors.New("no bundle observations provided")

// itemStats is the per-item accumulator rebuilt from the pure-bundle seed on
// every iteration. Plain value type; copying the seed map is the whole
// snapshot mechanism.
type itemStats struct {
	totalCost     float64
	totalQuantity int
	bundleCount   int
}

// InferItemPrices runs the fixed-point solver with default options.
func InferItemPrices(logger *zap.Logger, bundles []BundleObservation) (*Result, error) {
	return InferItemPricesWithOptions(logger, bundles, DefaultOptions())
}

// InferItemPricesWithOptions computes a complete price estimate map from the
// given observations. The input slice is never mutated, and the result is
// independent of the ordering of bundles or lines.
func InferItemPricesWithOptions(logger *zap.Logger, bundles []BundleObservation, opts Options) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(bundles) == 0 {
		return nil, ErrNoBundles
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultOptions().Epsilon
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}

	sanitized, anomalies := sanitize(logger, bundles)
	if len(sanitized) == 0 {
		return nil, ErrNoBundles
	}

	// Canonical processing order makes floating-point accumulation
	// independent of the caller's list ordering.
	sort.SliceStable(sanitized, func(i, j int) bool {
		return sanitized[i].key < sanitized[j].key
	})

	seed := make(map[string]itemStats)
	var mixed []canonicalBundle
	for _, b := range sanitized {
		if len(b.lines) == 1 {
			line := b.lines[0]
			st := seed[line.ItemTypeID]
			st.totalCost += b.totalPrice
			st.totalQuantity += line.Quantity
			st.bundleCount++
			seed[line.ItemTypeID] = st
		} else {
			mixed = append(mixed, b)
		}
	}

	prices := pricesFrom(seed)

	converged := false
	iterations := 0
	stats := seed
	for iterations < opts.MaxIterations {
		iterations++

		// Rebuild the accumulator from the pure-bundle seed; only the
		// price map carries forward between iterations.
		stats = make(map[string]itemStats, len(seed))
		for id, st := range seed {
			stats[id] = st
		}

		for _, b := range mixed {
			accumulateMixed(b, prices, stats, opts)
		}

		next := pricesFrom(stats)
		if stable(prices, next, opts.Epsilon) {
			prices = next
			converged = true
			break
		}
		prices = next
	}

	estimates := make(map[string]ItemPriceEstimate, len(stats))
	for id, st := range stats {
		unitPrice := 0.0
		if st.totalQuantity > 0 {
			unitPrice = st.totalCost / float64(st.totalQuantity)
		}
		estimates[id] = ItemPriceEstimate{
			ItemTypeID:            id,
			UnitPrice:             unitPrice,
			TotalQuantityObserved: st.totalQuantity,
			BundleCount:           st.bundleCount,
			ConfidenceScore:       confidence.Score(st.bundleCount, float64(st.totalQuantity)),
			Converged:             converged,
		}
	}

	if !converged {
		logger.Warn("price inference reached iteration cap without stabilizing",
			zap.String("op", "solver.InferItemPrices"),
			zap.Int("iterations", iterations),
			zap.Float64("epsilon", opts.Epsilon),
		)
	}
	logger.Debug("price inference complete",
		zap.String("op", "solver.InferItemPrices"),
		zap.Int("bundles", len(sanitized)),
		zap.Int("items", len(estimates)),
		zap.Int("iterations", iterations),
		zap.Bool("converged", converged),
	)

	return &Result{
		Prices:     estimates,
		Converged:  converged,
		Iterations: iterations,
		Anomalies:  anomalies,
	}, nil
}

// canonicalBundle is a sanitized observation with lines sorted by item type
// and a stable sort key.
type canonicalBundle struct {
	totalPrice float64
	lines      []BundleLine
	key        string
}

// sanitize drops lines with non-positive quantities and bundles left with no
// usable lines, recording each anomaly. Lines are sorted by item type so the
// later per-bundle arithmetic has one canonical order.
func sanitize(logger *zap.Logger, bundles []BundleObservation) ([]canonicalBundle, []string) {
	var out []canonicalBundle
	var anomalies []string
	for i, b := range bundles {
		lines := make([]BundleLine, 0, len(b.Lines))
		for _, line := range b.Lines {
			if line.Quantity <= 0 {
				msg := fmt.Sprintf("bundle %d: skipped line for item %s with non-positive quantity %d", i, line.ItemTypeID, line.Quantity)
				anomalies = append(anomalies, msg)
				logger.Warn("skipping bundle line",
					zap.String("op", "solver.InferItemPrices"),
					zap.String("itemTypeId", line.ItemTypeID),
					zap.Int("quantity", line.Quantity),
				)
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			msg := fmt.Sprintf("bundle %d: no usable lines", i)
			anomalies = append(anomalies, msg)
			logger.Warn("skipping bundle with no usable lines",
				zap.String("op", "solver.InferItemPrices"),
				zap.Int("bundle", i),
			)
			continue
		}
		sort.Slice(lines, func(a, b int) bool { return lines[a].ItemTypeID < lines[b].ItemTypeID })
		out = append(out, canonicalBundle{
			totalPrice: b.TotalPrice,
			lines:      lines,
			key:        bundleKey(b.TotalPrice, lines),
		})
	}
	return out, anomalies
}

func bundleKey(totalPrice float64, lines []BundleLine) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line.ItemTypeID)
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(line.Quantity))
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatFloat(totalPrice, 'g', -1, 64))
	return sb.String()
}

// accumulateMixed folds one mixed bundle into the per-item accumulator.
// Lines whose item already has a price explain part of the bundle total and
// contribute at that price, which leaves their own unit price unchanged while
// still counting the bundle as evidence. The unexplained remainder is split
// across unpriced lines in proportion to quantity.
func accumulateMixed(b canonicalBundle, prices map[string]float64, stats map[string]itemStats, opts Options) {
	knownValue := 0.0
	var unknown []BundleLine
	totalUnknownQty := 0
	for _, line := range b.lines {
		if price, ok := prices[line.ItemTypeID]; ok {
			knownValue += price * float64(line.Quantity)
			st := stats[line.ItemTypeID]
			st.totalCost += price * float64(line.Quantity)
			st.totalQuantity += line.Quantity
			st.bundleCount++
			stats[line.ItemTypeID] = st
		} else {
			unknown = append(unknown, line)
			totalUnknownQty += line.Quantity
		}
	}
	if len(unknown) == 0 {
		return
	}

	remaining := mathutil.Max(0, b.totalPrice-knownValue)
	if remaining > 0 && totalUnknownQty > 0 {
		for _, line := range unknown {
			st := stats[line.ItemTypeID]
			st.totalCost += remaining * float64(line.Quantity) / float64(totalUnknownQty)
			st.totalQuantity += line.Quantity
			st.bundleCount++
			stats[line.ItemTypeID] = st
		}
		return
	}

	// Known items already account for the full price (a promotional or
	// discount bundle). The unknown items are seen but contribute no cost,
	// which keeps inferred prices from going negative.
	if opts.CountUnpricedEvidence {
		for _, line := range unknown {
			st := stats[line.ItemTypeID]
			st.totalQuantity += line.Quantity
			st.bundleCount++
			stats[line.ItemTypeID] = st
		}
	}
}

// pricesFrom derives the unit price view of an accumulator. Items with no
// observed quantity stay unpriced.
func pricesFrom(stats map[string]itemStats) map[string]float64 {
	prices := make(map[string]float64, len(stats))
	for id, st := range stats {
		if st.totalQuantity > 0 {
			prices[id] = st.totalCost / float64(st.totalQuantity)
		}
	}
	return prices
}

// stable reports whether no item's price moved by more than epsilon and no
// item gained or lost a price entirely.
func stable(prev, next map[string]float64, epsilon float64) bool {
	if len(prev) != len(next) {
		return false
	}
	for id, price := range next {
		before, ok := prev[id]
		if !ok {
			return false
		}
		if !mathutil.WithinTolerance(before, price, epsilon) {
			return false
		}
	}
	return true
}
