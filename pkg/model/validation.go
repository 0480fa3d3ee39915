package model

import (
	"errors"
	"fmt"

	"github.com/gorhill/cronexpr"
)

// ErrInvalidConfiguration marks a chart request whose shape cannot be
// defaulted around. It is reported before any rendering work starts.
var ErrInvalidConfiguration = errors.New("invalid chart configuration")

// chartTypes is the closed set of publicly accepted chart types.
// "donut" is an accepted alias, rewritten to "doughnut" by normalization.
var chartTypes = map[string]bool{
	"bar":         true,
	"line":        true,
	"radar":       true,
	"pie":         true,
	"doughnut":    true,
	"donut":       true,
	"polarArea":   true,
	"scatter":     true,
	"bubble":      true,
	"radialGauge": true,
}

// ValidateChartType checks that t is one of the supported chart types.
func ValidateChartType(t string) error {
	if t == "" {
		return fmt.Errorf("chart type is required: %w", ErrInvalidConfiguration)
	}
	if !chartTypes[t] {
		return fmt.Errorf("unsupported chart type %q: %w", t, ErrInvalidConfiguration)
	}
	return nil
}

// ValidateChartRequest validates the parts of a request that defaults
// cannot repair: the type and the presence of data.
func ValidateChartRequest(r *ChartRequest) error {
	if err := ValidateChartType(r.Type); err != nil {
		return err
	}
	if len(r.Data.Datasets) == 0 {
		return fmt.Errorf("chart data requires at least one dataset: %w", ErrInvalidConfiguration)
	}
	return nil
}

// ValidateSnapshot validates a stored snapshot definition.
func ValidateSnapshot(s *Snapshot) error {
	if s.Name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if err := ValidateChartRequest(&s.Chart); err != nil {
		return err
	}
	if s.CronExpr != "" {
		if err := ValidateCronExpression(s.CronExpr); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCronExpression validates a cron expression format.
// Returns an error if the expression cannot be parsed.
func ValidateCronExpression(cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	_, err := cronexpr.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s': %v", cronExpr, err)
	}

	return nil
}
