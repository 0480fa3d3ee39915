package model

import (
	"errors"
	"testing"
)

func TestValidateChartType(t *testing.T) {
	tests := []struct {
		name        string
		chartType   string
		expectError bool
	}{
		{"bar", "bar", false},
		{"line", "line", false},
		{"radar", "radar", false},
		{"pie", "pie", false},
		{"doughnut", "doughnut", false},
		{"donut alias", "donut", false},
		{"polarArea", "polarArea", false},
		{"scatter", "scatter", false},
		{"bubble", "bubble", false},
		{"radialGauge", "radialGauge", false},
		{"empty type", "", true},
		{"unknown type", "treemap", true},
		{"wrong case", "Bar", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChartType(tt.chartType)
			if tt.expectError && err == nil {
				t.Errorf("ValidateChartType(%q) = nil, want error", tt.chartType)
			}
			if !tt.expectError && err != nil {
				t.Errorf("ValidateChartType(%q) = %v, want nil", tt.chartType, err)
			}
			if tt.expectError && !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("ValidateChartType(%q) error is not ErrInvalidConfiguration: %v", tt.chartType, err)
			}
		})
	}
}

func TestValidateChartRequest(t *testing.T) {
	tests := []struct {
		name        string
		request     ChartRequest
		expectError bool
	}{
		{
			name: "valid bar chart",
			request: ChartRequest{
				Type: "bar",
				Data: ChartData{Datasets: []Dataset{{"data": []interface{}{1, 2}}}},
			},
			expectError: false,
		},
		{
			name: "missing type",
			request: ChartRequest{
				Data: ChartData{Datasets: []Dataset{{"data": []interface{}{1}}}},
			},
			expectError: true,
		},
		{
			name:        "no datasets",
			request:     ChartRequest{Type: "line"},
			expectError: true,
		},
		{
			name: "unsupported type",
			request: ChartRequest{
				Type: "candlestick",
				Data: ChartData{Datasets: []Dataset{{"data": []interface{}{1}}}},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChartRequest(&tt.request)
			if tt.expectError && !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("got %v, want ErrInvalidConfiguration", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("got %v, want nil", err)
			}
		})
	}
}

func TestValidateSnapshot(t *testing.T) {
	chart := ChartRequest{
		Type: "bar",
		Data: ChartData{Datasets: []Dataset{{"data": []interface{}{1}}}},
	}

	tests := []struct {
		name        string
		snapshot    Snapshot
		expectError bool
	}{
		{
			name:        "valid without schedule",
			snapshot:    Snapshot{Name: "weekly revenue", Chart: chart},
			expectError: false,
		},
		{
			name:        "valid with schedule",
			snapshot:    Snapshot{Name: "daily", Chart: chart, CronExpr: "0 8 * * *"},
			expectError: false,
		},
		{
			name:        "missing name",
			snapshot:    Snapshot{Chart: chart},
			expectError: true,
		},
		{
			name:        "invalid chart",
			snapshot:    Snapshot{Name: "broken", Chart: ChartRequest{Type: "nope"}},
			expectError: true,
		},
		{
			name:        "invalid cron expression",
			snapshot:    Snapshot{Name: "bad cron", Chart: chart, CronExpr: "not a cron"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshot(&tt.snapshot)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		name        string
		expression  string
		expectError bool
	}{
		{"every morning", "0 8 * * *", false},
		{"every five minutes", "*/5 * * * *", false},
		{"six fields with seconds", "0 0 8 * * *", false},
		{"empty", "", true},
		{"garbage", "every day at noon", true},
		{"too many fields", "* * * * * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronExpression(tt.expression)
			if tt.expectError && err == nil {
				t.Errorf("ValidateCronExpression(%q) = nil, want error", tt.expression)
			}
			if !tt.expectError && err != nil {
				t.Errorf("ValidateCronExpression(%q) = %v, want nil", tt.expression, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		req := ChartRequest{Type: "bar"}
		req.ApplyDefaults()

		if req.Width != DefaultWidth || req.Height != DefaultHeight {
			t.Errorf("size = %dx%d, want %dx%d", req.Width, req.Height, DefaultWidth, DefaultHeight)
		}
		if req.DeviceScaleFactor != DefaultDeviceScaleFactor {
			t.Errorf("scale = %v, want %v", req.DeviceScaleFactor, DefaultDeviceScaleFactor)
		}
		if req.FontSize != DefaultFontSize || req.FontColor != DefaultFontColor {
			t.Errorf("font = %d %q, want %d %q", req.FontSize, req.FontColor, DefaultFontSize, DefaultFontColor)
		}
		if req.Style != DefaultStyle {
			t.Errorf("style = %q, want %q", req.Style, DefaultStyle)
		}
		if req.Roughness == nil || *req.Roughness != DefaultRoughness {
			t.Errorf("roughness = %v, want %v", req.Roughness, DefaultRoughness)
		}
		if req.FillStyle != DefaultFillStyle {
			t.Errorf("fillStyle = %q, want %q", req.FillStyle, DefaultFillStyle)
		}
		if req.HachureAngle == nil || *req.HachureAngle != DefaultHachureAngle {
			t.Errorf("hachureAngle = %v, want %v", req.HachureAngle, DefaultHachureAngle)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		zero := 0.0
		req := ChartRequest{
			Type:      "bar",
			Width:     900,
			Style:     StyleNormal,
			Roughness: &zero,
		}
		req.ApplyDefaults()

		if req.Width != 900 {
			t.Errorf("width = %d, want 900", req.Width)
		}
		if req.Style != StyleNormal {
			t.Errorf("style = %q, want %q", req.Style, StyleNormal)
		}
		// An explicit zero pointer must not be replaced by the default.
		if req.Roughness == nil || *req.Roughness != 0 {
			t.Errorf("roughness = %v, want explicit 0", req.Roughness)
		}
	})
}
