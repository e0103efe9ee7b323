// Package confidence scores how much corroborating bundle evidence supports
// a price estimate.
package confidence

import (
	"github.com/packworth/packworth/pkg/constants"
	"github.com/packworth/packworth/pkg/mathutil"
)

// Score maps an item's evidence tallies to a bounded 0-100 score.
//
// Each distinct corroborating bundle is weighted heavily to reward breadth of
// evidence; raw quantity is weighted lightly and capped, since one bundle
// with an enormous quantity is not the same as independent corroboration.
//
// Formula:
//
//	score = clamp(0, 100, bundleCount*10 + min(totalQuantity, 100)*0.5)
//
// Pure and total; defined for any input.
func Score(bundleCount int, totalQuantity float64) float64 {
	raw := float64(bundleCount)*constants.BundleWeight +
		mathutil.Min(totalQuantity, constants.QuantityCap)*constants.QuantityWeight
	return mathutil.Clamp(raw, 0, constants.MaxConfidence)
}
