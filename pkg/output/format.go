// Package output provides utilities for formatting and displaying price
// estimates.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/packworth/packworth/internal/solver"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// sortedItems returns the estimates ordered by item type id.
func sortedItems(result *solver.Result) []solver.ItemPriceEstimate {
	items := make([]solver.ItemPriceEstimate, 0, len(result.Prices))
	for _, estimate := range result.Prices {
		items = append(items, estimate)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemTypeID < items[j].ItemTypeID })
	return items
}

// PrettyFormat outputs a human-readable rather than machine-readable table.
func PrettyFormat(result *solver.Result) {
	p := message.NewPrinter(language.English)
	fmt.Printf("--- Estimated unit prices (%d items, %d iterations", len(result.Prices), result.Iterations)
	if result.Converged {
		fmt.Printf(", converged) ---\n")
	} else {
		fmt.Printf(", did not converge) ---\n")
	}
	fmt.Printf("Item                 | Unit Price    | Qty   | Bundles | Confidence\n")
	fmt.Printf("____                 | __________    | ___   | _______ | __________\n")
	for _, item := range sortedItems(result) {
		_, _ = p.Printf("%-20s | $%.2f | %d | %d | %.1f\n",
			item.ItemTypeID, item.UnitPrice, item.TotalQuantityObserved, item.BundleCount, item.ConfidenceScore)
	}
	for _, anomaly := range result.Anomalies {
		fmt.Printf("warning: %s\n", anomaly)
	}
}

// CsvFormat outputs in comma-separated value format.
func CsvFormat(result *solver.Result) {
	fmt.Print(CsvString(result))
}

// CsvString renders the CSV form of a result.
func CsvString(result *solver.Result) string {
	var sb strings.Builder
	sb.WriteString(`"itemTypeId","unitPrice","totalQuantityObserved","bundleCount","confidenceScore","converged"` + "\n")
	for _, item := range sortedItems(result) {
		sb.WriteString(fmt.Sprintf(`"%s","%.2f","%d","%d","%.1f","%t"`,
			item.ItemTypeID, item.UnitPrice, item.TotalQuantityObserved, item.BundleCount, item.ConfidenceScore, item.Converged))
		sb.WriteString("\n")
	}
	return sb.String()
}

// JSONFormat outputs the full result as indented JSON.
func JSONFormat(result *solver.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
