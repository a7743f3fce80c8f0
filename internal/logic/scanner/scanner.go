// Package scanner runs a barcode scanning session: it initializes a camera in
// the background, keeps its preview bound to the host surface and forwards
// live frames to a decoder without ever queueing them.
//
// Every state change happens on one goroutine owned by the Scanner, which
// consumes commands, initialization results, layout, surface and decoder
// notifications from a single event channel.
package scanner

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/camera"
	"github.com/cjeanneret/ScanGo/internal/hw/display"
	"github.com/cjeanneret/ScanGo/internal/hw/light"
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
	"github.com/cjeanneret/ScanGo/internal/logic/geometry"
)

// DecoderFactory builds the decode coordinator, wired to the scanner's
// state listener.
type DecoderFactory func(listener decode.StateListener) decode.Coordinator

// Option configures a Scanner.
type Option func(*Scanner)

// WithCameraID selects an explicit camera instead of the first back-facing one.
func WithCameraID(id int) Option {
	return func(s *Scanner) { s.cameraID = id }
}

// WithDecoder replaces the default gozxing decoder.
func WithDecoder(f DecoderFactory) Option {
	return func(s *Scanner) { s.newDecoder = f }
}

// WithFormats sets the initial format list (default: all formats).
func WithFormats(formats ...decode.Format) Option {
	return func(s *Scanner) { s.initialFormats = formats }
}

// WithLight switches l on while the preview runs.
func WithLight(l light.Light) Option {
	return func(s *Scanner) { s.light = l }
}

// Scanner is the session controller.
type Scanner struct {
	view           display.View
	run            func(ctx context.Context, t Target) (*Handle, error)
	cameraID       int
	newDecoder     DecoderFactory
	initialFormats []decode.Format
	light          light.Light

	decoder  decode.Coordinator
	gate     *frameGate
	binder   *surfaceBinder
	events   chan any
	released chan struct{} // closed on entering Released
	exited   chan struct{} // closed when the loop returns

	// Published for other goroutines.
	state    atomic.Int32
	geometry atomic.Pointer[geometry.Geometry]
	callback atomic.Pointer[decode.Callback]
	formats  atomic.Pointer[[]decode.Format]

	// Owned by the loop.
	handle     *Handle
	cancelInit context.CancelFunc
	launched   bool            // initialization started for the current Initializing state
	armed      bool            // binder registered with the surface holder
	bound      display.Surface // surface the running preview is bound to
	initRuns   int
	initErr    error
	outcomes   []BindOutcome
	decodes    int
}

// New creates a scanner for view and starts its event loop. No hardware is
// touched before the first StartPreview.
func New(provider camera.Provider, view display.View, opts ...Option) *Scanner {
	s := &Scanner{
		view:     view,
		run:      Initializer{Provider: provider}.Run,
		cameraID: AnyBackCamera,
		newDecoder: func(l decode.StateListener) decode.Coordinator {
			return decode.NewDecoder(decode.ZXingEngine{}, l)
		},
		events:   make(chan any, 64),
		released: make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.decoder = s.newDecoder(s.onDecoderState)
	s.gate = &frameGate{scanner: s}
	s.binder = &surfaceBinder{scanner: s}

	formats := decode.AllFormats
	if s.initialFormats != nil {
		formats = s.initialFormats
	}
	s.SetFormats(formats)

	go s.loop()
	return s
}

// SetFormats replaces the decoded formats. It only affects decoding.
func (s *Scanner) SetFormats(formats []decode.Format) {
	f := append([]decode.Format(nil), formats...)
	s.formats.Store(&f)
	s.decoder.SetFormats(f)
	debug.Verbose("Scanner formats: %v", f)
}

// SetFormat restricts decoding to a single format.
func (s *Scanner) SetFormat(format decode.Format) {
	s.SetFormats([]decode.Format{format})
}

// SetDecodeCallback replaces the result callback; nil removes it. The next
// forwarded frame uses the new callback.
func (s *Scanner) SetDecodeCallback(cb decode.Callback) {
	if cb == nil {
		s.callback.Store(nil)
		return
	}
	s.callback.Store(&cb)
}

// StartPreview initializes the camera on first use, then binds and starts
// the preview. It is a no-op while initializing, previewing or released.
func (s *Scanner) StartPreview() { s.command(cmdStart) }

// StopPreview stops an active preview; otherwise it does nothing.
func (s *Scanner) StopPreview() { s.command(cmdStop) }

// ReleaseResources releases the camera and shuts the decoder down. Later
// calls do nothing.
func (s *Scanner) ReleaseResources() { s.command(cmdRelease) }

// State returns the current state.
func (s *Scanner) State() State { return State(s.state.Load()) }

// Geometry returns the geometry of the completed initialization.
func (s *Scanner) Geometry() (geometry.Geometry, bool) {
	g := s.geometry.Load()
	if g == nil {
		return geometry.Geometry{}, false
	}
	return *g, true
}

// Done is closed once the scanner is released.
func (s *Scanner) Done() <-chan struct{} { return s.released }

// Status returns a snapshot of the session.
func (s *Scanner) Status() Status {
	reply := make(chan Status, 1)
	select {
	case s.events <- evStatus{reply: reply}:
	case <-s.exited:
		return s.snapshot()
	}
	select {
	case st := <-reply:
		return st
	case <-s.exited:
		return s.snapshot()
	}
}

type command int

const (
	cmdStart command = iota
	cmdStop
	cmdRelease
)

func (c command) String() string {
	return [...]string{"start", "stop", "release"}[c]
}

// events
type (
	evCommand struct {
		cmd   command
		reply chan struct{}
	}
	evStatus   struct{ reply chan Status }
	evLayout   struct{ size image.Point }
	evInitDone struct {
		handle *Handle
		err    error
	}
	evSurface struct {
		kind          surfaceEvent
		surface       display.Surface
		width, height int
	}
	evDecoded struct{ ack chan struct{} }
)

// command runs c on the loop and waits for it to be applied.
func (s *Scanner) command(c command) {
	reply := make(chan struct{})
	select {
	case s.events <- evCommand{cmd: c, reply: reply}:
	case <-s.exited:
		return
	}
	select {
	case <-reply:
	case <-s.exited:
	}
}

// post delivers ev without waiting for it to be handled.
func (s *Scanner) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.exited:
	}
}

// onDecoderState runs on the decoder's goroutine. A Decoded notification
// stops the preview before the decoder reports the result and turns idle.
func (s *Scanner) onDecoderState(st decode.State) {
	if st != decode.Decoded {
		return
	}
	ack := make(chan struct{})
	select {
	case s.events <- evDecoded{ack: ack}:
	case <-s.exited:
		return
	}
	select {
	case <-ack:
	case <-s.exited:
	}
}

func (s *Scanner) loop() {
	defer close(s.exited)
	for ev := range s.events {
		switch e := ev.(type) {
		case evCommand:
			switch e.cmd {
			case cmdStart:
				s.startPreview()
			case cmdStop:
				s.stopPreview()
			case cmdRelease:
				s.release()
			}
			close(e.reply)
		case evStatus:
			e.reply <- s.status()
		case evLayout:
			if s.State() == Initializing && !s.launched {
				s.launch(e.size)
			}
		case evInitDone:
			s.finishInitialization(e.handle, e.err)
		case evSurface:
			s.handleSurface(e)
		case evDecoded:
			s.decodes++
			s.stopPreview()
			close(e.ack)
		}
		if s.State() == Released && s.cancelInit == nil {
			return
		}
	}
}

func (s *Scanner) transition(next State) {
	prev := s.State()
	if prev == next {
		return
	}
	s.state.Store(int32(next))
	debug.Transition(prev, next)
	if s.light != nil {
		on := next == PreviewActive
		if on != s.light.Enabled() {
			if err := s.light.SetEnabled(on); err != nil {
				debug.Error(fmt.Errorf("light: %w", err))
			}
		}
	}
	if next == Released {
		close(s.released)
	}
}

func (s *Scanner) startPreview() {
	switch s.State() {
	case Uninitialized:
		s.transition(Initializing)
		s.launched = false
		if size, ok := s.view.Size(); ok {
			s.launch(size)
			return
		}
		debug.Live("View not laid out, initialization deferred")
		s.view.OnLayout(func(size image.Point) { s.post(evLayout{size: size}) })
	case Ready, PreviewInactive:
		s.activate()
	}
}

// launch starts the background initialization for viewport.
func (s *Scanner) launch(viewport image.Point) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelInit = cancel
	s.launched = true
	s.initRuns++
	t := Target{
		Viewport: viewport,
		Rotation: s.view.Rotation(),
		CameraID: s.cameraID,
		Square:   s.view.SquareFrame(),
	}
	debug.Info("Initializing camera for %dx%d viewport", viewport.X, viewport.Y)
	go func() {
		h, err := s.run(ctx, t)
		// The loop stays alive while an initialization is in flight.
		s.events <- evInitDone{handle: h, err: err}
	}()
}

func (s *Scanner) finishInitialization(h *Handle, err error) {
	if s.cancelInit != nil {
		s.cancelInit()
		s.cancelInit = nil
	}
	if s.State() == Released {
		if h != nil {
			debug.Info("Initialization finished after release, releasing camera")
			if rerr := h.Device.Release(); rerr != nil {
				debug.Error(fmt.Errorf("release late camera: %w", rerr))
			}
		}
		return
	}
	if err != nil {
		// Fatal: the session stays Initializing and is not retried.
		s.initErr = err
		debug.Error(fmt.Errorf("camera initialization: %w", err))
		return
	}
	s.handle = h
	g := h.Geometry
	s.geometry.Store(&g)
	s.transition(Ready)
	s.view.SetFrameSize(g.FrameSize)
	s.activate()
}

// activate registers frame delivery and the surface binder, then binds and
// starts the preview if a surface already exists.
func (s *Scanner) activate() {
	dev := s.handle.Device
	dev.SetPreviewCallback(s.gate.onFrame)
	s.armed = true
	holder := s.view.Holder()
	holder.AddCallback(s.binder)

	surface := holder.Surface()
	if surface == nil || !surface.Valid() {
		debug.Live("No surface yet, preview starts when it is created")
		s.transition(PreviewInactive)
		return
	}
	s.bind(surface)
}

func (s *Scanner) stopPreview() {
	switch s.State() {
	case PreviewActive:
		s.disarm()
		dev := s.handle.Device
		dev.SetPreviewCallback(nil)
		s.record(stepStopPreview, dev.StopPreview())
		s.bound = nil
		s.transition(PreviewInactive)
	case PreviewInactive:
		// A preview waiting for its surface must not start on its own.
		s.disarm()
	}
}

func (s *Scanner) disarm() {
	if s.armed {
		s.view.Holder().RemoveCallback(s.binder)
		s.armed = false
	}
}

func (s *Scanner) release() {
	if s.State() == Released {
		return
	}
	s.disarm()
	if s.cancelInit != nil {
		debug.Live("Release during initialization, cancelling")
		s.cancelInit()
	}
	if s.handle != nil {
		if err := s.handle.Device.Release(); err != nil {
			debug.Error(fmt.Errorf("release camera: %w", err))
		}
	}
	s.decoder.Shutdown()
	s.transition(Released)
	debug.Info("Scanner released")
}
