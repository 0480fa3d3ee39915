package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/yourusername/chartsnap/pkg/chart"
	"github.com/yourusername/chartsnap/pkg/model"
	"github.com/yourusername/chartsnap/pkg/page"
)

// PlaywrightRenderer captures chart pages using Playwright-driven Chromium.
type PlaywrightRenderer struct {
	config     model.RendererConfig
	mu         sync.Mutex // Protects pw and browser (shared by concurrent renders)
	pw         *playwright.Playwright
	browser    playwright.Browser
	instanceID string
}

// NewPlaywrightRenderer creates a new Playwright renderer instance
func NewPlaywrightRenderer(config model.RendererConfig) (*PlaywrightRenderer, error) {
	if config.TimeoutMS == 0 {
		config.TimeoutMS = model.DefaultRenderTimeoutMS
	}

	instanceID := generateInstanceID()
	log.Printf("DEBUG: Created new PlaywrightRenderer instance: %s", instanceID)

	return &PlaywrightRenderer{
		config:     config,
		pw:         nil, // Lazy initialization
		browser:    nil,
		instanceID: instanceID,
	}, nil
}

// getBrowser initializes or returns the existing browser instance. A single
// browser is shared by all concurrent renders, so initialization is guarded:
// only one caller launches, the rest wait and reuse it.
func (r *PlaywrightRenderer) getBrowser() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	log.Printf("DEBUG: Initializing Playwright (instance: %s)", r.instanceID)

	// Playwright needs a writable cache for its driver and browsers. In
	// containers the home directory is often read-only.
	playwrightCache := os.Getenv("PLAYWRIGHT_BROWSERS_PATH")
	if playwrightCache == "" {
		playwrightCache = "/tmp/.playwright-cache"
		os.Setenv("PLAYWRIGHT_BROWSERS_PATH", playwrightCache)
	}
	if err := os.MkdirAll(playwrightCache, 0755); err != nil {
		log.Printf("WARNING: Failed to create Playwright cache directory: %v", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %w (consider the chromium backend instead)", err)
	}
	r.pw = pw

	args := []string{
		"--disable-dev-shm-usage",
		"--no-first-run",
		"--no-default-browser-check",
		"--no-proxy-server",
		"--disable-breakpad",
	}
	if r.config.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if r.config.DisableGPU {
		args = append(args, "--disable-gpu")
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.config.Headless),
		Args:     args,
	}

	// Prefer the configured or a system Chromium over Playwright's download.
	chromiumPath := r.config.ChromiumPath
	if chromiumPath == "" {
		for _, path := range []string{
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
		} {
			if _, err := os.Stat(path); err == nil {
				chromiumPath = path
				break
			}
		}
	}
	if chromiumPath != "" {
		launchOptions.ExecutablePath = playwright.String(chromiumPath)
		log.Printf("DEBUG: Using Chromium binary: %s", chromiumPath)
	}

	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chromium: %w", err)
	}

	r.browser = browser
	log.Printf("Playwright Chromium browser initialized successfully")
	return browser, nil
}

// RenderChart normalizes the request, loads the chart page in a fresh
// browser context and screenshots the canvas to PNG.
func (r *PlaywrightRenderer) RenderChart(ctx context.Context, req *model.ChartRequest) ([]byte, error) {
	// Work on a defaulted copy so the caller's request is left untouched.
	defaulted := *req
	defaulted.ApplyDefaults()
	req = &defaulted

	cfg, err := chart.Normalize(req)
	if err != nil {
		return nil, err
	}
	html, err := page.BuildHTML(cfg, req)
	if err != nil {
		return nil, err
	}

	browser, err := r.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  req.Width,
			Height: req.Height,
		},
		DeviceScaleFactor: playwright.Float(req.DeviceScaleFactor),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer browserContext.Close()

	tab, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer tab.Close()

	timeout := time.Duration(r.config.TimeoutMS) * time.Millisecond
	tab.SetDefaultTimeout(float64(r.config.TimeoutMS))

	if err := tab.SetContent(html); err != nil {
		return nil, fmt.Errorf("failed to load chart page: %w", err)
	}

	// The page script appends the sentinel only after the chart has drawn.
	if _, err := tab.WaitForSelector(page.ReadySelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(r.config.TimeoutMS)),
		State:   playwright.WaitForSelectorStateAttached,
	}); err != nil {
		if isPlaywrightTimeout(err) {
			return nil, fmt.Errorf("chart not ready after %v: %w", timeout, ErrRenderTimeout)
		}
		return nil, fmt.Errorf("failed waiting for chart: %w", err)
	}

	if r.config.DelayMS > 0 {
		time.Sleep(time.Duration(r.config.DelayMS) * time.Millisecond)
	}

	canvas, err := tab.QuerySelector("#chart")
	if err != nil || canvas == nil {
		return nil, fmt.Errorf("chart canvas not found: %v", err)
	}
	defer canvas.Dispose()

	png, err := canvas.Screenshot(playwright.ElementHandleScreenshotOptions{
		Type:           playwright.ScreenshotTypePng,
		OmitBackground: playwright.Bool(true),
	})
	if err != nil {
		if isPlaywrightTimeout(err) {
			return nil, fmt.Errorf("screenshot timed out after %v: %w", timeout, ErrRenderTimeout)
		}
		return nil, fmt.Errorf("failed to capture chart: %w", err)
	}

	if len(png) < 4 || string(png[:4]) != "\x89PNG" {
		return nil, fmt.Errorf("output is not a PNG (got %d bytes)", len(png))
	}
	return png, nil
}

// isPlaywrightTimeout reports whether err is Playwright's deadline error.
func isPlaywrightTimeout(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Timeout")
}

// Close closes the browser instance
func (r *PlaywrightRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		log.Printf("Closing Playwright browser (instance: %s)", r.instanceID)
		if err := r.browser.Close(); err != nil {
			return err
		}
		r.browser = nil
	}
	if r.pw != nil {
		log.Printf("Stopping Playwright (instance: %s)", r.instanceID)
		if err := r.pw.Stop(); err != nil {
			return err
		}
		r.pw = nil
	}
	return nil
}

// Name returns the backend name
func (r *PlaywrightRenderer) Name() string {
	return "playwright"
}
