package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/ScanGo/internal/config"
	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/camera"
	"github.com/cjeanneret/ScanGo/internal/hw/display"
	"github.com/cjeanneret/ScanGo/internal/hw/gpio"
	"github.com/cjeanneret/ScanGo/internal/hw/light"
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
	"github.com/cjeanneret/ScanGo/internal/logic/scanner"
	"github.com/cjeanneret/ScanGo/internal/web"
)

// defaultViewport is used when the config has no view size.
var defaultViewport = image.Pt(1280, 720)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1 // runtime failure (hardware, web server, no result)
	exitUsage   = 2 // bad config or flags
)

// runOptions carries the parsed command line.
type runOptions struct {
	configPath string
	webPort    *webPortFlag
	overrides  Overrides
	timeout    time.Duration
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	cameraID := flag.Int("camera", -1, "override camera index (-1 = use config)")
	formats := flag.String("formats", "", "override barcode formats, comma separated (e.g. QR_CODE,EAN_13)")
	timeout := flag.Duration("timeout", 0, "give up scanning after this long (0 = wait forever)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, runOptions{
		configPath: *cfgPath,
		webPort:    webPort,
		overrides:  Overrides{CameraID: *cameraID, Formats: splitList(*formats)},
		timeout:    *timeout,
	}, os.Stdout)
	cancel()
	os.Exit(code)
}

// run wires the application and returns the process exit code. Every
// failure returns, so the camera, the view and GPIO are always released.
func run(ctx context.Context, o runOptions, stdout io.Writer) int {
	if err := config.ValidateConfigPath(o.configPath); err != nil {
		log.Printf("invalid config path: %v", err)
		return exitUsage
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		log.Printf("load config failed: %v", err)
		return exitUsage
	}
	if err := validateCLIOverrides(o.overrides, o.timeout); err != nil {
		log.Printf("invalid CLI override: %v", err)
		return exitUsage
	}
	applyOverrides(cfg, o.overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", o.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Printf("init GPIO failed: %v", err)
		return exitFailure
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing camera provider")
	provider, err := camera.NewProviderFromConfig(cfg)
	if err != nil {
		log.Printf("init camera failed: %v", err)
		return exitFailure
	}
	debug.Value("Camera type", cfg.Camera.Type)

	debug.Step(3, "Creating scanner")
	opts, err := scannerOptions(cfg, gpioDriver)
	if err != nil {
		log.Printf("configure scanner: %v", err)
		return exitUsage
	}
	view := newViewFromConfig(cfg)
	defer view.Close()
	sc := scanner.New(provider, view, opts...)
	defer sc.ReleaseResources()

	// The headless surface exists for the whole run.
	size, _ := view.Size()
	view.Surfaces().Create(size)

	if port := webPortOrConfig(o.webPort, cfg); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stdout)
		sc.SetDecodeCallback(broadcaster.BroadcastResult)

		srv, err := web.NewServer(webAddr, broadcaster, sc, configView(cfg))
		if err != nil {
			log.Printf("web server: %v", err)
			return exitFailure
		}
		if err := srv.Run(ctx); err != nil {
			log.Printf("web server: %v", err)
			return exitFailure
		}
		return exitOK
	}

	// Scan once and print the first result
	res, err := scanOnce(ctx, sc, o.timeout)
	if err != nil {
		log.Printf("scan failed: %v", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "%s\t%s\n", res.Format, res.Text)
	return exitOK
}

// Overrides holds CLI values that replace config settings.
type Overrides struct {
	CameraID int      // -1 = keep config
	Formats  []string // empty = keep config
}

// validateCLIOverrides checks override values before they touch the config.
func validateCLIOverrides(o Overrides, timeout time.Duration) error {
	if o.CameraID < -1 {
		return fmt.Errorf("camera must be >= 0 (or -1 for config), got %d", o.CameraID)
	}
	for _, f := range o.Formats {
		if _, err := decode.ParseFormat(f); err != nil {
			return err
		}
	}
	if timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", timeout)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set values are applied.
func applyOverrides(cfg *config.Config, o Overrides) {
	if o.CameraID >= 0 {
		id := o.CameraID
		cfg.Camera.ID = &id
	}
	if len(o.Formats) > 0 {
		cfg.Scanner.Formats = append([]string(nil), o.Formats...)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newViewFromConfig builds the headless view the scanner is attached to.
func newViewFromConfig(cfg *config.Config) *display.Headless {
	size, ok := cfg.Viewport()
	if !ok {
		size = defaultViewport
	}
	return display.NewHeadless(size, cfg.Camera.Rotation, cfg.View.SquareFrame)
}

// scannerOptions translates the config into scanner options.
func scannerOptions(cfg *config.Config, g gpio.Driver) ([]scanner.Option, error) {
	formats, err := decode.ParseFormats(cfg.Scanner.Formats)
	if err != nil {
		return nil, fmt.Errorf("scanner.formats: %w", err)
	}
	opts := []scanner.Option{
		scanner.WithCameraID(cfg.CameraID()),
		scanner.WithFormats(formats...),
	}
	if cfg.Light != nil && cfg.Light.Enabled {
		debug.Value("Light pin", cfg.Light.Pin)
		l, err := light.NewGPIOLight(g, cfg.Light.Pin)
		if err != nil {
			return nil, fmt.Errorf("light: %w", err)
		}
		opts = append(opts, scanner.WithLight(l))
	}
	return opts, nil
}

func configView(cfg *config.Config) web.ConfigView {
	cv := web.ConfigView{
		Camera:      cfg.Camera.Type,
		CameraID:    cfg.CameraID(),
		Rotation:    cfg.Camera.Rotation,
		SquareFrame: cfg.View.SquareFrame,
		Formats:     cfg.Scanner.Formats,
		Light:       cfg.Light != nil && cfg.Light.Enabled,
	}
	if vp, ok := cfg.Viewport(); ok {
		cv.Viewport = fmt.Sprintf("%dx%d", vp.X, vp.Y)
	}
	return cv
}

// previewer is the part of the scanner a one-shot scan needs.
type previewer interface {
	SetDecodeCallback(cb decode.Callback)
	StartPreview()
}

// errNoResult is returned when a scan ends without a decoded code.
var errNoResult = errors.New("no barcode decoded")

// scanOnce starts the preview and waits for the first decoded result.
func scanOnce(ctx context.Context, p previewer, timeout time.Duration) (decode.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	results := make(chan decode.Result, 1)
	p.SetDecodeCallback(func(r decode.Result) {
		select {
		case results <- r:
		default:
		}
	})
	p.StartPreview()

	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		return decode.Result{}, fmt.Errorf("%w: %w", errNoResult, ctx.Err())
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// webPortOrConfig prefers -web and falls back to web.port from the config.
func webPortOrConfig(w *webPortFlag, cfg *config.Config) int {
	if w != nil && w.port() > 0 {
		return w.port()
	}
	return cfg.Web.Port
}
