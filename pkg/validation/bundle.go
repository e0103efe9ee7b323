// Package validation provides bundle record validation utilities.
package validation

import (
	"fmt"
	"strings"

	"github.com/packworth/packworth/internal/solver"
)

// ValidateBundle checks a single bundle observation. It returns an error for
// records that cannot contribute to a run at all, and warnings for lines the
// solver will skip on its own.
func ValidateBundle(b solver.BundleObservation) ([]string, error) {
	if b.TotalPrice <= 0 {
		return nil, fmt.Errorf("bundle total price must be positive, got %v", b.TotalPrice)
	}
	if len(b.Lines) == 0 {
		return nil, fmt.Errorf("bundle must contain at least one line")
	}

	var warnings []string
	seen := make(map[string]struct{}, len(b.Lines))
	for _, line := range b.Lines {
		id := strings.TrimSpace(line.ItemTypeID)
		if id == "" {
			return nil, fmt.Errorf("bundle line is missing an item type id")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("item type %s appears more than once in the bundle", id)
		}
		seen[id] = struct{}{}
		if line.Quantity <= 0 {
			warnings = append(warnings, fmt.Sprintf("line for item %s has non-positive quantity %d and will be skipped",
				id, line.Quantity))
		}
	}
	return warnings, nil
}

// ValidateBundles validates a whole observation list, prefixing warnings and
// errors with the bundle's position.
func ValidateBundles(bundles []solver.BundleObservation) ([]string, error) {
	if len(bundles) == 0 {
		return nil, fmt.Errorf("no bundle observations provided")
	}

	var warnings []string
	for i, b := range bundles {
		w, err := ValidateBundle(b)
		if err != nil {
			return warnings, fmt.Errorf("bundle %d: %w", i, err)
		}
		for _, warning := range w {
			warnings = append(warnings, fmt.Sprintf("bundle %d: %s", i, warning))
		}
	}
	return warnings, nil
}
