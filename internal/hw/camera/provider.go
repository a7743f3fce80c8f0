package camera

import (
	"fmt"

	"github.com/cjeanneret/ScanGo/internal/config"
)

// NewProviderFromConfig selects a camera driver based on configuration.
func NewProviderFromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Camera.Type {
	case "mock":
		spec := DefaultMockSpec()
		facing, err := ParseFacing(cfg.Camera.Facing)
		if err != nil {
			return nil, err
		}
		spec.Info = Info{Facing: facing, Orientation: cfg.Camera.MountOrientation}
		sizes, err := cfg.PreviewSizes()
		if err != nil {
			return nil, err
		}
		if len(sizes) > 0 {
			spec.PreviewSizes = sizes
		}
		p := NewMockProvider(cfg.FrameInterval(), spec)
		if cfg.Camera.Image != "" {
			if err := p.LoadStill(cfg.Camera.Image); err != nil {
				return nil, err
			}
		}
		return p, nil
	case "screen":
		return NewScreenProvider(cfg.FrameInterval()), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
