// Package page assembles the self-contained HTML document that hosts a
// chart. The browser backend loads this document, waits for the readiness
// sentinel and captures the canvas.
package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/yourusername/chartsnap/pkg/chart"
	"github.com/yourusername/chartsnap/pkg/model"
)

const (
	chartJSURL      = "https://cdn.jsdelivr.net/npm/chart.js@2.9.4/dist/Chart.min.js"
	datalabelsURL   = "https://cdn.jsdelivr.net/npm/chartjs-plugin-datalabels@0.7.0/dist/chartjs-plugin-datalabels.min.js"
	roughURL        = "https://cdn.jsdelivr.net/npm/chartjs-plugin-rough@0.2.0/dist/chartjs-plugin-rough.min.js"
	annotationURL   = "https://cdn.jsdelivr.net/npm/chartjs-plugin-annotation@0.5.7/chartjs-plugin-annotation.min.js"
	radialGaugeURL  = "https://cdn.jsdelivr.net/npm/chartjs-chart-radial-gauge@1.0.3/build/Chart.RadialGauge.umd.min.js"
	googleFontsBase = "https://fonts.googleapis.com/css?family="
)

// ReadySelector is the element the renderer waits for before capturing.
// The page script appends it only after the chart constructor returns.
const ReadySelector = "#chart-ready"

type pageData struct {
	Width        int
	Height       int
	FontLink     template.URL
	FontFamily   string
	FontFamilies []string
	FontSize     int
	FontColor    string
	FontStyle    string
	Rough        bool
	RadialGauge  bool
	ChartJS      string
	Datalabels   string
	RoughJS      string
	Annotation   string
	RadialJS     string
	Config       template.JS
}

var pageTmpl = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
{{if .FontLink}}<link rel="stylesheet" href="{{.FontLink}}">
{{end}}<style>
html, body { margin: 0; padding: 0; background: transparent; }
#wrapper { width: {{.Width}}px; height: {{.Height}}px; }
</style>
<script src="{{.ChartJS}}"></script>
<script src="{{.Datalabels}}"></script>
<script src="{{.Annotation}}"></script>
{{if .Rough}}<script src="{{.RoughJS}}"></script>
{{end}}{{if .RadialGauge}}<script src="{{.RadialJS}}"></script>
{{end}}</head>
<body>
<div id="wrapper"><canvas id="chart" width="{{.Width}}" height="{{.Height}}"></canvas></div>
<script>
Chart.defaults.global.defaultFontSize = {{.FontSize}};
Chart.defaults.global.defaultFontColor = {{.FontColor}};
Chart.defaults.global.defaultFontStyle = {{.FontStyle}};
{{if .FontFamily}}Chart.defaults.global.defaultFontFamily = {{.FontFamily}};
{{end}}{{if .Rough}}Chart.plugins.register(ChartRough);
{{end}}var families = {{.FontFamilies}};
var loads = families.map(function (f) {
  return document.fonts.load({{.FontSize}} + 'px "' + f + '"');
});
Promise.all(loads).then(function () {
  var config = {{.Config}};
  new Chart(document.getElementById('chart').getContext('2d'), config);
  var ready = document.createElement('div');
  ready.id = 'chart-ready';
  document.body.appendChild(ready);
});
</script>
</body>
</html>
`))

// BuildHTML renders the document for a normalized chart configuration.
// The request supplies the page-level knobs: canvas size, typography and
// sketch style.
func BuildHTML(cfg *chart.Config, req *model.ChartRequest) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode chart config: %w", err)
	}

	families := splitFamilies(req.FontFamily)
	if families == nil {
		// Renders as [] in the script, so Promise.all resolves immediately.
		families = []string{}
	}
	data := pageData{
		Width:        req.Width,
		Height:       req.Height,
		FontLink:     template.URL(fontLink(families)),
		FontFamily:   strings.Join(families, ", "),
		FontFamilies: families,
		FontSize:     req.FontSize,
		FontColor:    req.FontColor,
		FontStyle:    req.FontStyle,
		Rough:        req.Style == model.StyleRough,
		RadialGauge:  cfg.Type == "radialGauge",
		ChartJS:      chartJSURL,
		Datalabels:   datalabelsURL,
		RoughJS:      roughURL,
		Annotation:   annotationURL,
		RadialJS:     radialGaugeURL,
		Config:       template.JS(raw),
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render chart page: %w", err)
	}
	return buf.String(), nil
}

// splitFamilies parses the comma-separated font list from the request.
func splitFamilies(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	families := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			families = append(families, f)
		}
	}
	return families
}

// fontLink builds the Google Fonts stylesheet URL, with families joined by
// "|" and spaces written as "+" per the fonts API convention.
func fontLink(families []string) string {
	if len(families) == 0 {
		return ""
	}
	escaped := make([]string, len(families))
	for i, f := range families {
		escaped[i] = strings.ReplaceAll(f, " ", "+")
	}
	return googleFontsBase + strings.Join(escaped, "|")
}
