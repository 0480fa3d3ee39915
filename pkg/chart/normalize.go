// Package chart turns a possibly-incomplete chart request into the fully
// specified configuration the embedded chart engine expects. It applies
// chart-type conventions (palette cycling, scale defaults, plugin blocks)
// so reasonable charts render without engine-specific boilerplate from the
// caller.
package chart

import (
	"fmt"
	"math"
	"strconv"

	"github.com/yourusername/chartsnap/pkg/model"
)

// Config is the normalized structure handed to the rendering engine:
// type + data + options, serialized verbatim into the chart page.
type Config struct {
	Type    string                 `json:"type"`
	Data    model.ChartData        `json:"data"`
	Options map[string]interface{} `json:"options"`
}

// defaultPalette is the fixed 7-color palette cycled when a dataset carries
// no explicit backgroundColor.
var defaultPalette = []string{
	"#7cb5ec", "#434348", "#90ed7d", "#f7a35c", "#8085e9", "#f15c80", "#e4d354",
}

// roundTypes render each data point as its own sector, so colors are
// assigned per point rather than per dataset. The outlabeled variants are
// reserved for the out-labels plugin.
var roundTypes = map[string]bool{
	"pie":                true,
	"doughnut":           true,
	"polarArea":          true,
	"outlabeledPie":      true,
	"outlabeledDoughnut": true,
}

// zeroBasedTypes get a y axis starting at zero when the caller supplies no
// scale configuration at all.
var zeroBasedTypes = map[string]bool{
	"bar":     true,
	"line":    true,
	"scatter": true,
	"bubble":  true,
}

// Sparkline is the internal shortcut type, rewritten to a minimal line
// chart. It is not part of the public type enum.
const Sparkline = "sparkline"

// Normalize produces the configuration for req. Caller-supplied options
// always win over computed defaults, with one exception: animation is
// unconditionally disabled so the engine settles on a single deterministic
// frame for the still capture.
func Normalize(req *model.ChartRequest) (*Config, error) {
	// Default a copy: the caller's request must come back untouched.
	defaulted := *req
	defaulted.ApplyDefaults()
	req = &defaulted

	chartType := req.Type
	if chartType == "donut" {
		chartType = "doughnut"
	}

	data := cloneData(req.Data)
	options := cloneMap(req.Options)
	if options == nil {
		options = map[string]interface{}{}
	}

	if chartType == Sparkline {
		var err error
		chartType, err = normalizeSparkline(&data, options)
		if err != nil {
			return nil, err
		}
	}

	if zeroBasedTypes[chartType] {
		if _, ok := options["scales"]; !ok {
			options["scales"] = map[string]interface{}{
				"yAxes": []interface{}{
					map[string]interface{}{
						"ticks": map[string]interface{}{"beginAtZero": true},
					},
				},
			}
		}
	}

	assignColors(chartType, data.Datasets)

	if chartType == "line" {
		for _, ds := range data.Datasets {
			// Straight segments between points unless the caller asked for a curve.
			if _, ok := ds["lineTension"]; !ok {
				if _, ok := ds["tension"]; !ok {
					ds["lineTension"] = 0
				}
			}
		}
	}

	plugins := subMap(options, "plugins")
	if _, ok := plugins["datalabels"]; !ok {
		plugins["datalabels"] = map[string]interface{}{
			"display": chartType == "pie" || chartType == "doughnut",
		}
	}
	// Sketch parameters ride along for every type; they are inert unless the
	// rough style is selected at page build time.
	plugins["rough"] = roughOptions(req)

	disableAnimation(options)

	return &Config{Type: chartType, Data: data, Options: options}, nil
}

// normalizeSparkline rewrites the sparkline shortcut into a line chart with
// no chrome: hidden axes, no legend, y range fit to the series.
func normalizeSparkline(data *model.ChartData, options map[string]interface{}) (string, error) {
	if len(data.Datasets) != 1 {
		return "", fmt.Errorf("sparkline requires exactly one dataset, got %d: %w",
			len(data.Datasets), model.ErrInvalidConfiguration)
	}
	ds := data.Datasets[0]
	raw, _ := ds["data"].([]interface{})

	if len(data.Labels) == 0 {
		labels := make([]interface{}, len(raw))
		for i := range labels {
			labels[i] = ""
		}
		data.Labels = labels
	}

	if _, ok := ds["borderWidth"]; !ok {
		ds["borderWidth"] = 0
	}
	if _, ok := ds["pointRadius"]; !ok {
		ds["pointRadius"] = 0
	}

	if _, ok := options["legend"]; !ok {
		options["legend"] = map[string]interface{}{"display": false}
	}

	if _, ok := options["scales"]; !ok {
		min, max := seriesBounds(raw)
		// Expand by 5% of each bound's magnitude so extreme points are not
		// clipped at the pixel boundary.
		min -= 0.05 * math.Abs(min)
		max += 0.05 * math.Abs(max)
		options["scales"] = map[string]interface{}{
			"xAxes": []interface{}{
				map[string]interface{}{"display": false},
			},
			"yAxes": []interface{}{
				map[string]interface{}{
					"display": false,
					"ticks":   map[string]interface{}{"min": min, "max": max},
				},
			},
		}
	}

	return "line", nil
}

// assignColors fills backgroundColor for datasets that lack one, cycling
// the default palette: per point for round types, per dataset otherwise.
func assignColors(chartType string, datasets []model.Dataset) {
	for i, ds := range datasets {
		if hasBackgroundColor(ds) {
			continue
		}
		if roundTypes[chartType] {
			raw, _ := ds["data"].([]interface{})
			colors := make([]interface{}, len(raw))
			for j := range colors {
				colors[j] = defaultPalette[j%len(defaultPalette)]
			}
			ds["backgroundColor"] = colors
		} else {
			ds["backgroundColor"] = defaultPalette[i%len(defaultPalette)]
		}
	}
}

func hasBackgroundColor(ds model.Dataset) bool {
	v, ok := ds["backgroundColor"]
	if !ok || v == nil {
		return false
	}
	switch c := v.(type) {
	case string:
		return c != ""
	case []interface{}:
		return len(c) > 0
	}
	return true
}

func roughOptions(req *model.ChartRequest) map[string]interface{} {
	return map[string]interface{}{
		"roughness":      *req.Roughness,
		"bowing":         *req.Bowing,
		"fillStyle":      req.FillStyle,
		"fillWeight":     *req.FillWeight,
		"hachureAngle":   *req.HachureAngle,
		"hachureGap":     *req.HachureGap,
		"curveStepCount": *req.CurveStepCount,
		"simplification": *req.Simplification,
	}
}

// disableAnimation zeroes every animation phase. This runs after the caller
// options are merged in: the still capture depends on it, so it is the one
// default the caller cannot override.
func disableAnimation(options map[string]interface{}) {
	subMap(options, "animation")["duration"] = 0
	subMap(options, "hover")["animationDuration"] = 0
	options["responsiveAnimationDuration"] = 0
}

// subMap returns options[key] as a map, creating (or replacing a non-map
// value) as needed.
func subMap(options map[string]interface{}, key string) map[string]interface{} {
	if m, ok := options[key].(map[string]interface{}); ok {
		return m
	}
	m := map[string]interface{}{}
	options[key] = m
	return m
}

// seriesBounds returns the numeric [min, max] of a raw data array.
func seriesBounds(raw []interface{}) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	found := false
	for _, v := range raw {
		n, ok := toFloat(v)
		if !ok {
			continue
		}
		found = true
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if !found {
		return 0, 0
	}
	return min, max
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// cloneData deep-copies the request data so normalization never mutates the
// caller's structures.
func cloneData(data model.ChartData) model.ChartData {
	out := model.ChartData{}
	if data.Labels != nil {
		out.Labels = cloneSlice(data.Labels)
	}
	out.Datasets = make([]model.Dataset, len(data.Datasets))
	for i, ds := range data.Datasets {
		cp := make(model.Dataset, len(ds))
		for k, v := range ds {
			cp[k] = cloneValue(v)
		}
		out.Datasets[i] = cp
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		return cloneSlice(t)
	default:
		return v
	}
}
