package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Dataset is a single chart.js dataset. It is kept as a free-form map so
// caller-supplied fields (stacking, labels, per-point styles, ...) survive
// normalization untouched.
type Dataset map[string]interface{}

// ChartData holds the labels and datasets of a chart request.
type ChartData struct {
	Labels   []interface{} `json:"labels,omitempty"`
	Datasets []Dataset     `json:"datasets"`
}

// ChartRequest is a user-supplied chart description. Every field except
// Type and Data is optional; ApplyDefaults fills the documented defaults.
type ChartRequest struct {
	Type    string                 `json:"type"`
	Data    ChartData              `json:"data"`
	Options map[string]interface{} `json:"options,omitempty"`

	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty"`

	FontFamily string `json:"font_family,omitempty"` // comma-separated list of web font families
	FontSize   int    `json:"font_size,omitempty"`
	FontColor  string `json:"font_color,omitempty"`
	FontStyle  string `json:"font_style,omitempty"`

	// Style selects the rendering style variant: "normal" or "rough".
	Style string `json:"style,omitempty"`

	// Sketch parameters, passed verbatim to the rough plugin. Pointers so an
	// explicit zero (e.g. hachure_angle=0) is distinguishable from "absent".
	Roughness      *float64 `json:"roughness,omitempty"`
	Bowing         *float64 `json:"bowing,omitempty"`
	FillStyle      string   `json:"fill_style,omitempty"`
	FillWeight     *float64 `json:"fill_weight,omitempty"`
	HachureAngle   *float64 `json:"hachure_angle,omitempty"`
	HachureGap     *float64 `json:"hachure_gap,omitempty"`
	CurveStepCount *float64 `json:"curve_step_count,omitempty"`
	Simplification *float64 `json:"simplification,omitempty"`
}

// Rendering style variants.
const (
	StyleNormal = "normal"
	StyleRough  = "rough"
)

// Documented request defaults.
const (
	DefaultWidth             = 512
	DefaultHeight            = 320
	DefaultDeviceScaleFactor = 2.0
	DefaultFontSize          = 12
	DefaultFontColor         = "#666"
	DefaultFontStyle         = "normal"
	DefaultStyle             = StyleRough
	DefaultRenderTimeoutMS   = 30000

	DefaultRoughness      = 1.0
	DefaultBowing         = 1.0
	DefaultFillStyle      = "hachure"
	DefaultFillWeight     = 0.5
	DefaultHachureAngle   = -41.0
	DefaultHachureGap     = 4.0
	DefaultCurveStepCount = 9.0
	// The upstream docs describe simplification as a 0-1 range, yet the
	// documented default is 9. The value is passed through verbatim either
	// way, so the default is kept as documented.
	DefaultSimplification = 9.0
)

// ApplyDefaults fills every unset field with its documented default.
func (r *ChartRequest) ApplyDefaults() {
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.DeviceScaleFactor == 0 {
		r.DeviceScaleFactor = DefaultDeviceScaleFactor
	}
	if r.FontSize == 0 {
		r.FontSize = DefaultFontSize
	}
	if r.FontColor == "" {
		r.FontColor = DefaultFontColor
	}
	if r.FontStyle == "" {
		r.FontStyle = DefaultFontStyle
	}
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	if r.FillStyle == "" {
		r.FillStyle = DefaultFillStyle
	}
	if r.Roughness == nil {
		r.Roughness = f(DefaultRoughness)
	}
	if r.Bowing == nil {
		r.Bowing = f(DefaultBowing)
	}
	if r.FillWeight == nil {
		r.FillWeight = f(DefaultFillWeight)
	}
	if r.HachureAngle == nil {
		r.HachureAngle = f(DefaultHachureAngle)
	}
	if r.HachureGap == nil {
		r.HachureGap = f(DefaultHachureGap)
	}
	if r.CurveStepCount == nil {
		r.CurveStepCount = f(DefaultCurveStepCount)
	}
	if r.Simplification == nil {
		r.Simplification = f(DefaultSimplification)
	}
}

func f(x float64) *float64 { return &x }

// Snapshot is a stored chart definition rendered on a schedule.
type Snapshot struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Chart        ChartRequest `json:"chart"`
	IntervalType string       `json:"interval_type"`
	CronExpr     string       `json:"cron_expr,omitempty"`
	Timezone     string       `json:"timezone"`
	Recipients   Recipients   `json:"recipients,omitempty"`
	EmailSubject string       `json:"email_subject,omitempty"`
	EmailBody    string       `json:"email_body,omitempty"`
	Enabled      bool         `json:"enabled"`
	LastRunAt    *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time   `json:"next_run_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Recipients holds email recipient information for snapshot delivery.
type Recipients struct {
	To  []string `json:"to"`
	CC  []string `json:"cc,omitempty"`
	BCC []string `json:"bcc,omitempty"`
}

// Render represents a single snapshot render execution.
type Render struct {
	ID           int64      `json:"id"`
	SnapshotID   int64      `json:"snapshot_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ErrorText    string     `json:"error_text,omitempty"`
	ArtifactData []byte     `json:"-"` // PNG bytes, served via the artifact endpoint
	Bytes        int64      `json:"bytes"`
	Checksum     string     `json:"checksum,omitempty"`
	EmailSent    bool       `json:"email_sent"`
	EmailError   string     `json:"email_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Settings holds service settings (single row).
type Settings struct {
	ID             int64          `json:"id"`
	SMTPConfig     *SMTPConfig    `json:"smtp_config,omitempty"`
	RendererConfig RendererConfig `json:"renderer_config"`
	Limits         Limits         `json:"limits"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SMTPConfig holds SMTP configuration for snapshot delivery.
type SMTPConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	From          string `json:"from"`
	UseTLS        bool   `json:"use_tls"`
	SkipTLSVerify bool   `json:"skip_tls_verify"`
}

// RendererConfig holds browser renderer configuration.
type RendererConfig struct {
	Backend      string `json:"backend"`       // "chromium" (default) or "playwright"
	TimeoutMS    int    `json:"timeout_ms"`    // bound on the chart-ready wait
	DelayMS      int    `json:"delay_ms"`      // extra settle delay after readiness
	ChromiumPath string `json:"chromium_path"` // path to Chrome/Chromium binary (auto-detect if empty)
	Headless     bool   `json:"headless"`
	DisableGPU   bool   `json:"disable_gpu"`
	NoSandbox    bool   `json:"no_sandbox"`
}

// Limits holds usage limits.
type Limits struct {
	MaxWidth             int `json:"max_width"`
	MaxHeight            int `json:"max_height"`
	MaxConcurrentRenders int `json:"max_concurrent_renders"`
	RetentionDays        int `json:"retention_days"`
}

// DefaultSettings returns the settings used before any are stored.
func DefaultSettings() *Settings {
	return &Settings{
		RendererConfig: RendererConfig{
			Backend:    "chromium",
			TimeoutMS:  DefaultRenderTimeoutMS,
			Headless:   true,
			NoSandbox:  true,
			DisableGPU: true,
		},
		Limits: Limits{
			MaxWidth:             3000,
			MaxHeight:            3000,
			MaxConcurrentRenders: 5,
			RetentionDays:        30,
		},
	}
}

// Scan implements sql.Scanner for ChartRequest (stored as a JSON column)
func (c *ChartRequest) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// Value implements driver.Valuer for ChartRequest
func (c ChartRequest) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for Recipients
func (r *Recipients) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// Value implements driver.Valuer for Recipients
func (r Recipients) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for SMTPConfig
func (s *SMTPConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer for SMTPConfig
func (s *SMTPConfig) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for RendererConfig
func (r *RendererConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// Value implements driver.Valuer for RendererConfig
func (r RendererConfig) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for Limits
func (l *Limits) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer for Limits
func (l Limits) Value() (driver.Value, error) {
	return json.Marshal(l)
}
