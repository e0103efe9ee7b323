// Package bundlefile reads YAML bundle observation documents used by the CLI
// and the appraise API.
package bundlefile

import (
	"fmt"
	"os"

	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of a bundle observation list.
type Document struct {
	Bundles []Record `yaml:"bundles"`
}

// Record is one bundle entry. Name is kept for diagnostics only; the solver
// never sees it.
type Record struct {
	Name       string              `yaml:"name,omitempty"`
	TotalPrice float64             `yaml:"totalPrice"`
	Lines      []solver.BundleLine `yaml:"lines"`
}

// Parse decodes and validates a bundle document. Validation warnings are
// returned alongside the observations; a validation error rejects the whole
// document.
func Parse(data []byte) ([]solver.BundleObservation, []string, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse bundle document: %w", err)
	}
	if len(doc.Bundles) == 0 {
		return nil, nil, fmt.Errorf("bundle document contains no bundles")
	}

	observations := make([]solver.BundleObservation, 0, len(doc.Bundles))
	for _, record := range doc.Bundles {
		observations = append(observations, solver.BundleObservation{
			TotalPrice: record.TotalPrice,
			Lines:      record.Lines,
		})
	}

	warnings, err := validation.ValidateBundles(observations)
	if err != nil {
		return nil, warnings, err
	}
	return observations, warnings, nil
}

// Load reads and parses a bundle document from disk.
func Load(path string) ([]solver.BundleObservation, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read bundle file %s: %w", path, err)
	}
	return Parse(data)
}
