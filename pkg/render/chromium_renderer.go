package render

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/yourusername/chartsnap/pkg/chart"
	"github.com/yourusername/chartsnap/pkg/model"
	"github.com/yourusername/chartsnap/pkg/page"
)

// ChromiumRenderer captures chart pages using Chromium via rod.
type ChromiumRenderer struct {
	config     model.RendererConfig
	mu         sync.Mutex // Protects browser (shared by concurrent renders)
	browser    *rod.Browser
	instanceID string // Unique ID for this renderer instance
	profileDir string // Unique profile directory for this instance
}

// findChromeBinary tries to locate a Chrome binary in common locations
func (r *ChromiumRenderer) findChromeBinary() string {
	candidatePaths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",

		// macOS
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}

	for _, path := range candidatePaths {
		if info, err := os.Stat(path); err == nil && info.Mode()&0111 != 0 {
			return path
		}
	}
	return ""
}

// generateInstanceID creates a unique identifier for this renderer instance
func generateInstanceID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewChromiumRenderer creates a new Chromium renderer instance
func NewChromiumRenderer(config model.RendererConfig) *ChromiumRenderer {
	if config.TimeoutMS == 0 {
		config.TimeoutMS = model.DefaultRenderTimeoutMS
	}

	instanceID := generateInstanceID()
	profileDir := fmt.Sprintf("/tmp/.chromium-profile-%s", instanceID)

	log.Printf("DEBUG: Created new ChromiumRenderer instance: %s, profile dir: %s", instanceID, profileDir)

	return &ChromiumRenderer{
		config:     config,
		browser:    nil, // Lazy initialization
		instanceID: instanceID,
		profileDir: profileDir,
	}
}

// getBrowser initializes or returns the existing browser instance. A single
// browser is shared by all concurrent renders, so initialization is guarded:
// only one caller launches, the rest wait and reuse it.
func (r *ChromiumRenderer) getBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	// Crashpad needs writable config and cache directories.
	os.Setenv("XDG_CONFIG_HOME", "/tmp/.chromium-config")
	os.Setenv("XDG_CACHE_HOME", "/tmp/.chromium-cache")
	os.MkdirAll("/tmp/.chromium-config", 0755)
	os.MkdirAll("/tmp/.chromium-cache", 0755)
	os.MkdirAll("/tmp/chrome-crashes", 0755)
	os.MkdirAll(r.profileDir, 0755)

	l := launcher.New()

	chromePath := r.config.ChromiumPath
	if chromePath == "" {
		chromePath = r.findChromeBinary()
		if chromePath != "" {
			log.Printf("Auto-detected Chrome binary at: %s", chromePath)
		}
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
		log.Printf("Using Chrome binary: %s", chromePath)
	} else {
		log.Printf("WARNING: No Chrome binary configured. Attempting to use system default or auto-download.")
	}

	// Flags for server and container environments.
	if r.config.NoSandbox {
		l = l.Set("no-sandbox")
		l = l.Set("disable-setuid-sandbox")
	}
	if r.config.DisableGPU {
		l = l.Set("disable-gpu")
	}
	l = l.Set("disable-dev-shm-usage") // Use /tmp instead of /dev/shm (prevents crashes in Docker)
	l = l.Set("no-first-run")
	l = l.Set("no-default-browser-check")
	l = l.Set("no-proxy-server")
	l = l.Set("crash-dumps-dir", "/tmp/chrome-crashes")
	l = l.Set("disable-breakpad")

	// Unique user data directory per instance avoids SingletonLock errors.
	l = l.Set("user-data-dir", r.profileDir)

	l = l.Headless(r.config.Headless)
	if r.config.Headless {
		l = l.Set("headless", "new")
	}

	log.Printf("DEBUG: Launching Chrome browser (instance: %s)...", r.instanceID)
	launchURL, err := l.Launch()
	if err != nil {
		if chromePath == "" {
			return nil, fmt.Errorf("failed to launch browser: %w (no Chrome/Chromium binary found, set CHARTSNAP_CHROMIUM_PATH)", err)
		}
		return nil, fmt.Errorf("failed to launch browser at %q: %w", chromePath, err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.browser = browser
	log.Printf("Chromium browser initialized successfully")
	return browser, nil
}

// RenderChart normalizes the request, builds the chart page, loads it in a
// fresh tab and screenshots the canvas to PNG.
func (r *ChromiumRenderer) RenderChart(ctx context.Context, req *model.ChartRequest) ([]byte, error) {
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

	tab, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer tab.Close()

	if err := tab.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: req.DeviceScaleFactor,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	// Transparent page background so PNGs composite cleanly.
	alpha := 0.0
	if err := (proto.EmulationSetDefaultBackgroundColorOverride{
		Color: &proto.DOMRGBA{R: 0, G: 0, B: 0, A: &alpha},
	}).Call(tab); err != nil {
		return nil, fmt.Errorf("failed to set transparent background: %w", err)
	}

	timeout := time.Duration(r.config.TimeoutMS) * time.Millisecond
	tab = tab.Context(ctx).Timeout(timeout)

	if err := tab.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("failed to load chart page: %w", err)
	}

	// The page script appends the sentinel only after the chart has drawn.
	if _, err := tab.Element(page.ReadySelector); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("chart not ready after %v: %w", timeout, ErrRenderTimeout)
		}
		return nil, fmt.Errorf("failed waiting for chart: %w", err)
	}

	if r.config.DelayMS > 0 {
		time.Sleep(time.Duration(r.config.DelayMS) * time.Millisecond)
	}

	canvas, err := tab.Element("#chart")
	if err != nil {
		return nil, fmt.Errorf("chart canvas not found: %w", err)
	}
	png, err := canvas.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("screenshot timed out after %v: %w", timeout, ErrRenderTimeout)
		}
		return nil, fmt.Errorf("failed to capture chart: %w", err)
	}

	if len(png) < 4 || string(png[:4]) != "\x89PNG" {
		return nil, fmt.Errorf("output is not a PNG (got %d bytes)", len(png))
	}
	return png, nil
}

// Close closes the browser instance
func (r *ChromiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		log.Printf("Closing Chromium browser (instance: %s)", r.instanceID)
		err := r.browser.Close()
		r.browser = nil

		// Clean up profile directory to free disk space
		if r.profileDir != "" {
			os.RemoveAll(r.profileDir)
		}

		return err
	}
	return nil
}

// Name returns the backend name
func (r *ChromiumRenderer) Name() string {
	return "chromium"
}
