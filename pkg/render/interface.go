package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/chartsnap/pkg/model"
)

// ErrRenderTimeout is returned when the chart page never signals readiness
// within the configured render timeout.
var ErrRenderTimeout = errors.New("chart render timed out")

// Backend defines the interface for rendering backends
type Backend interface {
	// RenderChart renders a chart request to a PNG image
	RenderChart(ctx context.Context, req *model.ChartRequest) ([]byte, error)

	// Close cleans up resources used by the backend
	Close() error

	// Name returns the name of the backend
	Name() string
}

// NewBackend creates a rendering backend from the renderer settings.
func NewBackend(config model.RendererConfig) (Backend, error) {
	switch config.Backend {
	case "", "chromium":
		return NewChromiumRenderer(config), nil
	case "playwright":
		return NewPlaywrightRenderer(config)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", config.Backend)
	}
}
