package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/pkg/constants"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const snapshotPrefix = "prices-"
const snapshotSuffix = ".yaml"

// Snapshot is the persisted form of one appraisal, keyed by date for trend
// reporting.
type Snapshot struct {
	Date       string         `yaml:"date"`
	Converged  bool           `yaml:"converged"`
	Iterations int            `yaml:"iterations"`
	Items      []SnapshotItem `yaml:"items"`
}

// SnapshotItem is one item's estimate inside a snapshot.
type SnapshotItem struct {
	ItemTypeID            string  `yaml:"itemTypeId"`
	UnitPrice             float64 `yaml:"unitPrice"`
	TotalQuantityObserved int     `yaml:"totalQuantityObserved"`
	BundleCount           int     `yaml:"bundleCount"`
	ConfidenceScore       float64 `yaml:"confidenceScore"`
}

// SnapshotStore writes dated appraisal snapshots to a directory.
type SnapshotStore struct {
	dir    string
	logger *zap.Logger
}

// NewSnapshotStore creates the snapshot directory when missing.
func NewSnapshotStore(dir string, logger *zap.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", clean, err)
	}
	return &SnapshotStore{dir: clean, logger: logger}, nil
}

// Write persists one appraisal under its date. A second write on the same
// date replaces the earlier snapshot.
func (s *SnapshotStore) Write(result *solver.Result, at time.Time) (string, error) {
	if result == nil {
		return "", fmt.Errorf("cannot snapshot a nil result")
	}

	date := at.UTC().Format(constants.DateLayout)
	snapshot := Snapshot{
		Date:       date,
		Converged:  result.Converged,
		Iterations: result.Iterations,
	}
	for _, estimate := range result.Prices {
		snapshot.Items = append(snapshot.Items, SnapshotItem{
			ItemTypeID:            estimate.ItemTypeID,
			UnitPrice:             estimate.UnitPrice,
			TotalQuantityObserved: estimate.TotalQuantityObserved,
			BundleCount:           estimate.BundleCount,
			ConfidenceScore:       estimate.ConfidenceScore,
		})
	}
	sort.Slice(snapshot.Items, func(i, j int) bool {
		return snapshot.Items[i].ItemTypeID < snapshot.Items[j].ItemTypeID
	})

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := filepath.Join(s.dir, snapshotPrefix+date+snapshotSuffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}

	s.logger.Info("appraisal snapshot written",
		zap.String("op", "cache.SnapshotStore.Write"),
		zap.String("date", date),
		zap.Int("items", len(snapshot.Items)),
	)
	return date, nil
}

// List returns the dates of all stored snapshots in ascending order.
func (s *SnapshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		dates = append(dates, strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix))
	}
	sort.Strings(dates)
	return dates, nil
}

// Load reads the snapshot for a given date.
func (s *SnapshotStore) Load(date string) (*Snapshot, error) {
	if _, err := time.Parse(constants.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid snapshot date %q: %w", date, err)
	}

	path := filepath.Join(s.dir, snapshotPrefix+date+snapshotSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}
