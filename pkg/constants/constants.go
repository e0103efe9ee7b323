// Package constants provides shared constants for the packworth application.
package constants

// DateLayout is the date format used for snapshot file names and trend keys.
const DateLayout = "2006-01-02"

// Solver defaults
const (
	// DefaultEpsilon is the maximum per-item price change, in currency
	// units, for an iteration to be considered stable.
	DefaultEpsilon = 0.001

	// DefaultMaxIterations caps the fixed-point loop; reaching it without
	// stability is reported, not fatal.
	DefaultMaxIterations = 10

	// DecimalPrecision is the precision for currency rounding (2 decimal places)
	DecimalPrecision = 100
)

// Confidence scoring weights
const (
	// BundleWeight is the score contribution of each corroborating bundle.
	BundleWeight = 10.0

	// QuantityWeight is the score contribution per observed unit.
	QuantityWeight = 0.5

	// QuantityCap caps the quantity considered by the scorer so a single
	// bulk bundle cannot substitute for independent corroboration.
	QuantityCap = 100.0

	// MaxConfidence is the upper bound of the confidence scale.
	MaxConfidence = 100.0
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the machine-readable JSON output format
	OutputFormatJSON = "json"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// DefaultDatabaseFile is the default bundle store location
	DefaultDatabaseFile = "packworth.db"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for
	// bundle documents (256 KB)
	DefaultMaxUploadSizeBytes int64 = 256 * 1024
)

// Bundle moderation statuses stored alongside submissions.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)
