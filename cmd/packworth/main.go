package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/packworth/packworth/internal/cache"
	"github.com/packworth/packworth/internal/config"
	"github.com/packworth/packworth/internal/server"
	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/internal/store"
	"github.com/packworth/packworth/pkg/bundlefile"
	"github.com/packworth/packworth/pkg/constants"
	"github.com/packworth/packworth/pkg/output"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// initializeLogger creates a zap logger based on configuration and CLI override
func initializeLogger(loggingConfig config.LoggingConfig, logLevelOverride string) (*zap.Logger, error) {
	// Determine log level (CLI override takes precedence)
	level := loggingConfig.Level
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	if level == "" {
		level = "info" // Default to info level
	}

	// Parse log level
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	// Determine output format
	format := loggingConfig.Format
	if format == "" {
		format = "json" // Default to JSON for production
	}

	// Configure encoder
	var zapConfig zap.Config
	switch format {
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	case "json":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	// Configure output file if specified
	if loggingConfig.OutputFile != "" {
		// Ensure the directory exists
		if dir := filepath.Dir(loggingConfig.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
			}
		}

		// Test if we can create/write to the file
		if file, err := os.OpenFile(loggingConfig.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %v", loggingConfig.OutputFile, err)
		} else {
			_ = file.Close()
		}

		zapConfig.OutputPaths = []string{loggingConfig.OutputFile}
		zapConfig.ErrorOutputPaths = []string{loggingConfig.OutputFile}
	}

	return zapConfig.Build()
}

func loadConfiguration(path string) (*config.Configuration, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// No config file is fine; defaults apply.
			return config.Default(), nil
		}
		return nil, err
	}
	return config.LoadConfiguration(path)
}

func main() {
	// Process command line flags first to get config location
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	bundlesFile := flag.String("bundles", "", "path to a YAML bundle document (bypasses the bundle store)")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv, json")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	serve := flag.Bool("serve", false, "run the HTTP API server instead of a one-shot appraisal")
	flag.Parse()

	conf, err := loadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		return
	}

	// Initialize logging based on config and CLI override
	logger, err := initializeLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Validate configuration and display any warnings
	warnings := conf.ValidateConfiguration()
	for _, warning := range warnings {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	if *serve {
		runServer(logger, conf)
		return
	}

	runAppraisal(logger, conf, *bundlesFile, *outputFormatFlag)
}

func runAppraisal(logger *zap.Logger, conf *config.Configuration, bundlesFile, outputFormatFlag string) {
	// Determine output format (CLI override takes precedence over config)
	outputFormat := conf.Output.Format
	if outputFormatFlag != "" {
		outputFormat = outputFormatFlag
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty
	}
	switch outputFormat {
	case constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatJSON:
	default:
		logger.Fatal(fmt.Sprintf("invalid output format: %s", outputFormat),
			zap.String("op", "main"),
		)
	}

	bundles, err := collectBundles(logger, conf, bundlesFile)
	if err != nil {
		logger.Fatal("failed to collect bundle observations",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	result, err := solver.InferItemPricesWithOptions(logger, bundles, conf.SolverOptions())
	if err != nil {
		if errors.Is(err, solver.ErrNoBundles) {
			fmt.Println("No bundle data available; nothing to appraise.")
			return
		}
		logger.Fatal("failed to compute price estimates",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	// Handle output.
	switch outputFormat {
	case constants.OutputFormatPretty:
		output.PrettyFormat(result)
	case constants.OutputFormatCSV:
		output.CsvFormat(result)
	case constants.OutputFormatJSON:
		if err := output.JSONFormat(result); err != nil {
			logger.Fatal("failed to render result",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
	}
}

func collectBundles(logger *zap.Logger, conf *config.Configuration, bundlesFile string) ([]solver.BundleObservation, error) {
	if bundlesFile != "" {
		bundles, warnings, err := bundlefile.Load(bundlesFile)
		for _, warning := range warnings {
			logger.Warn("Bundle warning: "+warning,
				zap.String("op", "main"),
			)
		}
		return bundles, err
	}

	path := conf.Storage.Path
	if path == "" {
		path = constants.DefaultDatabaseFile
	}
	st, err := store.Open(path, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = st.Close()
	}()
	return st.ApprovedObservations(context.Background())
}

func runServer(logger *zap.Logger, conf *config.Configuration) {
	serverConfig, err := server.NewConfig(conf.Server)
	if err != nil {
		logger.Fatal("invalid server configuration",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	path := conf.Storage.Path
	if path == "" {
		path = constants.DefaultDatabaseFile
	}
	st, err := store.Open(path, logger)
	if err != nil {
		logger.Fatal("failed to open bundle store",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
	defer func() {
		_ = st.Close()
	}()

	var snapshots *cache.SnapshotStore
	if serverConfig.SnapshotDir != "" {
		snapshots, err = cache.NewSnapshotStore(serverConfig.SnapshotDir, logger)
		if err != nil {
			logger.Fatal("failed to prepare snapshot store",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
	}

	handler := server.NewHandler(logger, server.Deps{
		Store:     st,
		Cache:     cache.New(),
		Snapshots: snapshots,
		Options:   conf.SolverOptions(),
	}, serverConfig.UploadSizeBytes(), version)

	logger.Info("starting packworth API server",
		zap.String("op", "main"),
		zap.String("address", serverConfig.Address),
	)
	if err := http.ListenAndServe(serverConfig.Address, handler); err != nil {
		logger.Fatal("server stopped",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}
