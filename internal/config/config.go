package config

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes the capture resource.
// Type selects a concrete driver ("mock" or "screen").
type CameraConfig struct {
	Type             string   `yaml:"type"`              // e.g., "mock"
	ID               *int     `yaml:"id,omitempty"`      // explicit camera index; nil = first back-facing
	FPS              int      `yaml:"fps"`               // frame delivery rate (mock/screen)
	Rotation         int      `yaml:"rotation"`          // host device rotation in degrees (0, 90, 180, 270)
	MountOrientation int      `yaml:"mount_orientation"` // sensor mount orientation (mock only)
	Facing           string   `yaml:"facing"`            // "back" or "front" (mock only)
	Image            string   `yaml:"image"`             // still image filmed by the mock camera (optional)
	PreviewSizes     []string `yaml:"preview_sizes"`     // supported preview sizes, "WxH" (mock only)
}

// ViewConfig describes the host viewport the preview is laid out in.
type ViewConfig struct {
	Width       int  `yaml:"width"`
	Height      int  `yaml:"height"`
	SquareFrame bool `yaml:"square_frame"` // scan a square frame of interest
}

// ScannerConfig holds decoding parameters.
type ScannerConfig struct {
	Formats []string `yaml:"formats"` // empty = all formats
}

// LightConfig is optional: an illumination LED on a GPIO pin.
type LightConfig struct {
	Enabled bool `yaml:"enabled"`
	Pin     int  `yaml:"pin"` // BCM pin number
}

// WebConfig holds the HTTP control surface settings.
type WebConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	View     ViewConfig     `yaml:"view"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Light    *LightConfig   `yaml:"light,omitempty"` // optional
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path is a .yaml file located directly in a
// configs/ directory and does not escape it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if c.Camera.ID != nil && *c.Camera.ID < 0 {
		return fmt.Errorf("camera.id must be >= 0, got %d", *c.Camera.ID)
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 15 // reasonable default
	}
	if c.Camera.FPS > 120 {
		return fmt.Errorf("camera.fps must be <= 120, got %d", c.Camera.FPS)
	}
	if c.Camera.Rotation%90 != 0 || c.Camera.Rotation < 0 || c.Camera.Rotation >= 360 {
		return fmt.Errorf("camera.rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation)
	}
	if c.Camera.MountOrientation%90 != 0 || c.Camera.MountOrientation < 0 || c.Camera.MountOrientation >= 360 {
		return fmt.Errorf("camera.mount_orientation must be 0, 90, 180 or 270, got %d", c.Camera.MountOrientation)
	}
	switch c.Camera.Facing {
	case "":
		c.Camera.Facing = "back"
	case "back", "front":
	default:
		return fmt.Errorf("camera.facing must be \"back\" or \"front\", got %q", c.Camera.Facing)
	}
	if _, err := c.PreviewSizes(); err != nil {
		return err
	}

	// Viewport: 0x0 means "not laid out yet"; both or neither.
	if c.View.Width < 0 || c.View.Height < 0 {
		return fmt.Errorf("view size must be >= 0, got %dx%d", c.View.Width, c.View.Height)
	}
	if (c.View.Width == 0) != (c.View.Height == 0) {
		return fmt.Errorf("view.width and view.height must both be set, got %dx%d", c.View.Width, c.View.Height)
	}

	if c.Light != nil && c.Light.Enabled && c.Light.Pin <= 0 {
		return fmt.Errorf("light.pin must be > 0 when light is enabled")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 0-65535, got %d", c.Web.Port)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PreviewSizes parses camera.preview_sizes.
func (c *Config) PreviewSizes() ([]image.Point, error) {
	sizes := make([]image.Point, 0, len(c.Camera.PreviewSizes))
	for _, s := range c.Camera.PreviewSizes {
		p, err := ParseSize(s)
		if err != nil {
			return nil, fmt.Errorf("camera.preview_sizes: %w", err)
		}
		sizes = append(sizes, p)
	}
	return sizes, nil
}

// FrameInterval returns the delay between two delivered frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.FPS)
}

// Viewport returns the configured viewport size; ok is false if unset.
func (c *Config) Viewport() (image.Point, bool) {
	if c.View.Width == 0 || c.View.Height == 0 {
		return image.Point{}, false
	}
	return image.Pt(c.View.Width, c.View.Height), true
}

// CameraID returns the explicit camera index, or -1 for "first back-facing".
func (c *Config) CameraID() int {
	if c.Camera.ID == nil {
		return -1
	}
	return *c.Camera.ID
}

// ParseSize parses a "WxH" string (e.g. "1280x720").
func ParseSize(s string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("invalid size %q, want WxH", s)
	}
	wi, err := strconv.Atoi(w)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	hi, err := strconv.Atoi(h)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if wi <= 0 || hi <= 0 {
		return image.Point{}, fmt.Errorf("size %q must be positive", s)
	}
	return image.Pt(wi, hi), nil
}
