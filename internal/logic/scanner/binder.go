package scanner

import (
	"encoding/json"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/display"
)

// Bind sequence steps.
const (
	stepSetCallback  = "set-preview-callback"
	stepSetDisplay   = "set-preview-display"
	stepStartPreview = "start-preview"
	stepStopPreview  = "stop-preview"
)

// maxOutcomes bounds the bind outcomes kept for Status.
const maxOutcomes = 16

// BindOutcome is the result of one hardware call made while binding the
// preview to a surface. Failures are recorded and otherwise ignored.
type BindOutcome struct {
	Step string
	Err  error
}

// OK reports whether the step succeeded.
func (o BindOutcome) OK() bool { return o.Err == nil }

func (o BindOutcome) MarshalJSON() ([]byte, error) {
	v := struct {
		Step  string `json:"step"`
		Error string `json:"error,omitempty"`
	}{Step: o.Step}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return json.Marshal(v)
}

type surfaceEvent int

const (
	surfaceCreated surfaceEvent = iota
	surfaceChanged
	surfaceDestroyed
)

func (e surfaceEvent) String() string {
	return [...]string{"created", "changed", "destroyed"}[e]
}

// surfaceBinder receives surface notifications on the host's goroutine and
// hands them to the scanner loop.
type surfaceBinder struct {
	scanner *Scanner
}

func (b *surfaceBinder) SurfaceCreated(s display.Surface) {
	b.scanner.post(evSurface{kind: surfaceCreated, surface: s})
}

func (b *surfaceBinder) SurfaceChanged(s display.Surface, width, height int) {
	b.scanner.post(evSurface{kind: surfaceChanged, surface: s, width: width, height: height})
}

func (b *surfaceBinder) SurfaceDestroyed(s display.Surface) {
	b.scanner.post(evSurface{kind: surfaceDestroyed, surface: s})
}

func (s *Scanner) handleSurface(e evSurface) {
	debug.Surface(e.kind.String(), e.width, e.height)
	// Notifications queued before the binder was removed are stale.
	if !s.armed || !s.State().hasHandle() {
		return
	}
	switch e.kind {
	case surfaceCreated:
		if s.State() == PreviewActive && s.bound == e.surface {
			return
		}
		s.bind(e.surface)
	case surfaceChanged:
		if e.surface == nil || !e.surface.Valid() {
			s.transition(PreviewInactive)
			return
		}
		dev := s.handle.Device
		s.record(stepStopPreview, dev.StopPreview())
		s.transition(PreviewInactive)
		dev.SetPreviewCallback(s.gate.onFrame)
		s.record(stepSetCallback, nil)
		s.bind(e.surface)
	case surfaceDestroyed:
		s.record(stepStopPreview, s.handle.Device.StopPreview())
		s.bound = nil
		s.transition(PreviewInactive)
	}
}

// bind attaches the preview to surface and starts it. The session is
// PreviewActive only if both calls succeed.
func (s *Scanner) bind(surface display.Surface) {
	dev := s.handle.Device
	if !s.record(stepSetDisplay, dev.SetPreviewDisplay(surface)) {
		s.transition(PreviewInactive)
		return
	}
	if !s.record(stepStartPreview, dev.StartPreview()) {
		s.transition(PreviewInactive)
		return
	}
	s.bound = surface
	s.transition(PreviewActive)
}

// record keeps the outcome of step and reports whether it succeeded.
func (s *Scanner) record(step string, err error) bool {
	if err != nil {
		debug.Live("Bind step %s failed: %v", step, err)
	}
	s.outcomes = append(s.outcomes, BindOutcome{Step: step, Err: err})
	if n := len(s.outcomes); n > maxOutcomes {
		s.outcomes = append(s.outcomes[:0:0], s.outcomes[n-maxOutcomes:]...)
	}
	return err == nil
}

var _ display.SurfaceCallback = (*surfaceBinder)(nil)
