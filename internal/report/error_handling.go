package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with enhanced error handling
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("report"),
	}, nil
}

// GenerateReportSafely generates a report with fallbacks when the
// requested format or output destination fails
func (srg *SafeReportGenerator) GenerateReportSafely(report *RunReport, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if err := srg.validateInputs(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Info("Report generation completed successfully")
	return nil
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(report *RunReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"report",
			nil,
			nil,
		).WithSuggestion("Provide a valid run report")
	}

	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}

	return nil
}

// generateWithFallback attempts to generate the report with fallback strategies
func (srg *SafeReportGenerator) generateWithFallback(report *RunReport, writer io.Writer) error {
	err := srg.GenerateReport(report, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	// JSON and CSV failures fall back to the console rendering, which
	// has no serialization surface of its own.
	if srg.config.Format != FormatConsole {
		return srg.generateWithFormatFallback(report, writer, err)
	}

	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(report, writer, err)
	}

	return srg.wrapGenerationError(err)
}

// generateWithFormatFallback attempts to generate with the console format
func (srg *SafeReportGenerator) generateWithFormatFallback(report *RunReport, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(report, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

// shouldAttemptOutputFallback determines if an output fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" {
		return isFileError(err)
	}
	return false
}

// generateWithOutputFallback attempts to write the report to a backup file
func (srg *SafeReportGenerator) generateWithOutputFallback(report *RunReport, writer io.Writer, originalErr error) error {
	file, ok := writer.(*os.File)
	if !ok {
		return srg.wrapGenerationError(originalErr)
	}

	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	fmt.Fprintf(backupFile, "NOTE: Report saved to backup location due to error with original output\n")
	fmt.Fprintf(backupFile, "Original file: %s\n", originalPath)
	fmt.Fprintf(backupFile, "Original error: %v\n\n", originalErr)

	if err := srg.GenerateReport(report, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report generated successfully using output fallback")

	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)

	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if detectorErr, ok := errors.AsDetectorError(err); ok {
		return detectorErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

// Utility functions

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

// generateBackupPath creates a backup file path next to the original
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
