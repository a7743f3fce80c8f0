package scanner

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/ScanGo/internal/hw/camera"
	"github.com/cjeanneret/ScanGo/internal/hw/display"
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
)

// fakeCoordinator records requests; its busy flag is set by the test.
type fakeCoordinator struct {
	listener decode.StateListener
	busy     atomic.Bool

	mu        sync.Mutex
	requests  []decode.Request
	formats   [][]decode.Format
	shutdowns int
}

func (f *fakeCoordinator) Decode(req decode.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeCoordinator) IsDecoding() bool { return f.busy.Load() }

func (f *fakeCoordinator) SetFormats(formats []decode.Format) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats = append(f.formats, formats)
}

func (f *fakeCoordinator) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeCoordinator) snapshot() []decode.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]decode.Request(nil), f.requests...)
}

// hookProvider runs hooks around Open.
type hookProvider struct {
	camera.Provider
	beforeOpen func()
	afterOpen  func()
	opening    atomic.Int32
}

func (p *hookProvider) Open(id int) (camera.Device, error) {
	p.opening.Add(1)
	if p.beforeOpen != nil {
		p.beforeOpen()
	}
	d, err := p.Provider.Open(id)
	if p.afterOpen != nil {
		p.afterOpen()
	}
	return d, err
}

// recordingLight remembers every switch.
type recordingLight struct {
	mu       sync.Mutex
	on       bool
	switches []bool
}

func (l *recordingLight) SetEnabled(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
	l.switches = append(l.switches, on)
	return nil
}

func (l *recordingLight) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

type fixture struct {
	scanner  *Scanner
	provider *camera.MockProvider
	view     *display.Headless
	decoder  *fakeCoordinator
}

func newFixture(t *testing.T, provider camera.Provider, view *display.Headless, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{view: view, decoder: &fakeCoordinator{}}
	if mp, ok := provider.(*camera.MockProvider); ok {
		f.provider = mp
	}
	opts = append([]Option{WithDecoder(func(l decode.StateListener) decode.Coordinator {
		f.decoder.listener = l
		return f.decoder
	})}, opts...)
	f.scanner = New(provider, view, opts...)
	t.Cleanup(func() {
		f.scanner.ReleaseResources()
		view.Close()
	})
	return f
}

// newSurfaceFixture is a 1080x1920 portrait view with a square frame and a
// surface, filmed by the default mock camera.
func newSurfaceFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
	view.Surfaces().Create(image.Pt(1080, 1920))
	return newFixture(t, camera.NewMockProvider(0, camera.DefaultMockSpec()), view, opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitState(t *testing.T, s *Scanner, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return s.State() == want })
}

func count(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestStartPreview_InitializesAndBinds(t *testing.T) {
	l := &recordingLight{}
	f := newSurfaceFixture(t, WithLight(l))
	s := f.scanner
	if s.State() != Uninitialized {
		t.Fatalf("initial state = %v", s.State())
	}

	s.StartPreview()
	waitState(t, s, PreviewActive)

	g, ok := s.Geometry()
	if !ok {
		t.Fatal("geometry not published")
	}
	if g.PreviewSize != image.Pt(1920, 1080) || g.FrameSize != image.Pt(1080, 1080) || g.DisplayOrientation != 90 {
		t.Errorf("geometry = %+v", g)
	}
	if f.view.FrameSize() != image.Pt(1080, 1080) {
		t.Errorf("view frame size = %v", f.view.FrameSize())
	}

	dev := f.provider.Device(0)
	calls := dev.Calls()
	for _, op := range []string{"parameters", "set-parameters", "set-display-orientation", "set-preview-callback", "set-preview-display", "start-preview"} {
		if count(calls, op) == 0 {
			t.Errorf("missing %s in %v", op, calls)
		}
	}
	if !dev.Previewing() || !dev.HasCallback() {
		t.Error("device should be previewing with a frame callback")
	}
	if !l.Enabled() {
		t.Error("light should be on while previewing")
	}
}

func TestStartPreview_ConcurrentCallsInitializeOnce(t *testing.T) {
	gate := make(chan struct{})
	view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
	view.Surfaces().Create(image.Pt(1080, 1920))
	mock := camera.NewMockProvider(0, camera.DefaultMockSpec())
	prov := &hookProvider{Provider: mock, beforeOpen: func() { <-gate }}
	f := newFixture(t, prov, view)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.scanner.StartPreview()
		}()
	}
	wg.Wait()
	if got := f.scanner.State(); got != Initializing {
		t.Fatalf("state = %v, want Initializing", got)
	}
	close(gate)
	waitState(t, f.scanner, PreviewActive)

	if n := prov.opening.Load(); n != 1 {
		t.Errorf("Open called %d times, want 1", n)
	}
	if st := f.scanner.Status(); st.InitRuns != 1 {
		t.Errorf("init runs = %d, want 1", st.InitRuns)
	}
}

func TestStopPreview_NoOpOutsidePreviewActive(t *testing.T) {
	gate := make(chan struct{})
	view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
	mock := camera.NewMockProvider(0, camera.DefaultMockSpec())
	prov := &hookProvider{Provider: mock, beforeOpen: func() { <-gate }}
	f := newFixture(t, prov, view)
	s := f.scanner

	s.StopPreview()
	if s.State() != Uninitialized {
		t.Fatalf("StopPreview changed Uninitialized to %v", s.State())
	}

	s.StartPreview()
	s.StopPreview()
	if s.State() != Initializing {
		t.Fatalf("StopPreview changed Initializing to %v", s.State())
	}
	close(gate)

	// No surface: initialization ends PreviewInactive.
	waitState(t, s, PreviewInactive)
	dev := mock.Device(0)
	dev.ResetCalls()
	s.StopPreview()
	s.StopPreview()
	if calls := dev.Calls(); len(calls) != 0 {
		t.Errorf("StopPreview in PreviewInactive touched the device: %v", calls)
	}
	if s.State() != PreviewInactive {
		t.Errorf("state = %v, want PreviewInactive", s.State())
	}

	// The stopped session ignores a surface appearing later.
	view.Surfaces().Create(image.Pt(1080, 1920))
	time.Sleep(30 * time.Millisecond)
	if s.State() != PreviewInactive || dev.Previewing() {
		t.Errorf("surface restarted a stopped preview (state %v)", s.State())
	}
}

func TestStopPreview_StopsActivePreview(t *testing.T) {
	l := &recordingLight{}
	f := newSurfaceFixture(t, WithLight(l))
	s := f.scanner
	s.StartPreview()
	waitState(t, s, PreviewActive)

	s.StopPreview()
	if s.State() != PreviewInactive {
		t.Fatalf("state = %v, want PreviewInactive", s.State())
	}
	dev := f.provider.Device(0)
	if dev.Previewing() || dev.HasCallback() {
		t.Error("preview or frame callback still active after StopPreview")
	}
	if l.Enabled() {
		t.Error("light still on after StopPreview")
	}

	s.StartPreview()
	if s.State() != PreviewActive {
		t.Errorf("restart state = %v, want PreviewActive", s.State())
	}
	if f.provider.Opens() != 1 {
		t.Errorf("restart reopened the camera (%d opens)", f.provider.Opens())
	}
}

func TestReleaseResources_ReleasesOnce(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	s.StartPreview()
	waitState(t, s, PreviewActive)

	s.ReleaseResources()
	s.ReleaseResources()

	if s.State() != Released {
		t.Fatalf("state = %v, want Released", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after release")
	}
	dev := f.provider.Device(0)
	if dev.Releases() != 1 {
		t.Errorf("hardware releases = %d, want 1", dev.Releases())
	}
	if f.decoder.shutdowns != 1 {
		t.Errorf("decoder shutdowns = %d, want 1", f.decoder.shutdowns)
	}

	s.StartPreview()
	s.StopPreview()
	if s.State() != Released || f.provider.Opens() != 1 {
		t.Errorf("commands after release had effect: state %v, opens %d", s.State(), f.provider.Opens())
	}
	if st := s.Status(); st.State != Released {
		t.Errorf("status state = %v", st.State)
	}
}

func TestReleaseResources_BeforeStart(t *testing.T) {
	f := newSurfaceFixture(t)
	f.scanner.ReleaseResources()
	if f.scanner.State() != Released {
		t.Fatalf("state = %v", f.scanner.State())
	}
	if f.provider.Opens() != 0 {
		t.Error("release opened a camera")
	}
}

func TestReleaseResources_DuringInitializationReleasesDevice(t *testing.T) {
	gate := make(chan struct{})
	view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
	mock := camera.NewMockProvider(0, camera.DefaultMockSpec())
	prov := &hookProvider{Provider: mock, beforeOpen: func() { <-gate }}
	f := newFixture(t, prov, view)
	s := f.scanner

	s.StartPreview()
	waitFor(t, "open in progress", func() bool { return prov.opening.Load() == 1 })
	s.ReleaseResources()
	if s.State() != Released {
		t.Fatalf("state = %v, want Released", s.State())
	}
	close(gate)

	waitFor(t, "late device released", func() bool {
		d := mock.Device(0)
		return d != nil && d.Releases() == 1
	})
	if _, ok := s.Geometry(); ok {
		t.Error("geometry published by an initialization finishing after release")
	}
}

func TestReleaseResources_CompletedLateInitializationIsReleased(t *testing.T) {
	view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
	mock := camera.NewMockProvider(0, camera.DefaultMockSpec())
	f := newFixture(t, mock, view)
	s := f.scanner

	// An initialization that ignores cancellation and hands its device over
	// after the session is released.
	gate := make(chan struct{})
	started := make(chan struct{})
	s.run = func(ctx context.Context, tg Target) (*Handle, error) {
		close(started)
		<-gate
		return Initializer{Provider: mock}.Run(context.Background(), tg)
	}

	s.StartPreview()
	<-started
	s.ReleaseResources()
	close(gate)

	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after the late initialization")
	}
	if d := mock.Device(0); d == nil || d.Releases() != 1 {
		t.Fatal("late handle not released")
	}
}

func TestFrameGate_DropsEverythingWhileBusy(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	s.StartPreview()
	waitState(t, s, PreviewActive)
	dev := f.provider.Device(0)

	f.decoder.busy.Store(true)
	for i := 0; i < 100; i++ {
		if !dev.Emit() {
			t.Fatal("frame not delivered to the gate")
		}
	}
	if n := len(f.decoder.snapshot()); n != 0 {
		t.Fatalf("%d frames forwarded while busy", n)
	}
	if st := s.Status(); st.Frames.DroppedBusy != 100 || st.Frames.Forwarded != 0 {
		t.Errorf("frame stats = %+v", st.Frames)
	}

	f.decoder.busy.Store(false)
	dev.Emit()
	reqs := f.decoder.snapshot()
	if len(reqs) != 1 {
		t.Fatalf("forwarded %d frames, want 1", len(reqs))
	}
	g, _ := s.Geometry()
	r := reqs[0]
	if r.PreviewSize != g.PreviewSize || r.FrameSize != g.FrameSize || r.Orientation != g.DisplayOrientation || !r.SquareFrame {
		t.Errorf("request geometry = %+v, want %+v (square)", r, g)
	}
	if len(r.Frame) != camera.NV21Size(g.PreviewSize) {
		t.Errorf("frame length = %d", len(r.Frame))
	}
}

func TestFrameGate_DropsWhenNotReady(t *testing.T) {
	f := newSurfaceFixture(t)
	f.scanner.gate.onFrame(make([]byte, 16))
	if st := f.scanner.Status(); st.Frames.DroppedNotReady != 1 || st.Frames.Forwarded != 0 {
		t.Errorf("frame stats = %+v", st.Frames)
	}
	if len(f.decoder.snapshot()) != 0 {
		t.Error("frame forwarded before initialization")
	}
}

func TestFrameGate_UsesLatestDecodeCallback(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	s.StartPreview()
	waitState(t, s, PreviewActive)
	dev := f.provider.Device(0)

	var got []string
	s.SetDecodeCallback(func(r decode.Result) { got = append(got, r.Text) })
	dev.Emit()
	s.SetDecodeCallback(nil)
	dev.Emit()

	reqs := f.decoder.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Callback == nil {
		t.Fatal("first request lost the callback")
	}
	reqs[0].Callback(decode.Result{Text: "x"})
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("callback results = %v", got)
	}
	if reqs[1].Callback != nil {
		t.Error("second request kept a removed callback")
	}
}

func TestDecoded_StopsPreviewOnce(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	s.StartPreview()
	waitState(t, s, PreviewActive)
	dev := f.provider.Device(0)
	dev.ResetCalls()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.decoder.listener(decode.Decoded)
		}()
	}
	wg.Wait()

	if n := count(dev.Calls(), "stop-preview"); n != 1 {
		t.Errorf("stop-preview called %d times, want 1 (%v)", n, dev.Calls())
	}
	if s.State() != PreviewInactive {
		t.Errorf("state = %v, want PreviewInactive", s.State())
	}
	if st := s.Status(); st.Decodes != 2 {
		t.Errorf("decodes = %d, want 2", st.Decodes)
	}

	// Other decoder states do not touch the session.
	s.StartPreview()
	f.decoder.listener(decode.Decoding)
	f.decoder.listener(decode.Idle)
	if s.State() != PreviewActive {
		t.Errorf("state = %v after Decoding/Idle, want PreviewActive", s.State())
	}
}

func TestSetFormats_EmptyStillInitializes(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	s.SetFormats([]decode.Format{})
	s.StartPreview()
	waitState(t, s, PreviewActive)

	st := s.Status()
	if len(st.Formats) != 0 {
		t.Errorf("formats = %v, want none", st.Formats)
	}
	f.decoder.mu.Lock()
	last := f.decoder.formats[len(f.decoder.formats)-1]
	f.decoder.mu.Unlock()
	if len(last) != 0 {
		t.Errorf("decoder formats = %v, want none", last)
	}
}

func TestFormats_DefaultAndSingle(t *testing.T) {
	f := newSurfaceFixture(t)
	if got := f.scanner.Status().Formats; len(got) != len(decode.AllFormats) {
		t.Errorf("default formats = %v", got)
	}
	f.scanner.SetFormat(decode.QRCode)
	if got := f.scanner.Status().Formats; len(got) != 1 || got[0] != decode.QRCode {
		t.Errorf("formats = %v, want [QR_CODE]", got)
	}

	g := newSurfaceFixture(t, WithFormats(decode.EAN13, decode.EAN8))
	if got := g.scanner.Status().Formats; len(got) != 2 {
		t.Errorf("WithFormats formats = %v", got)
	}
}

func TestLayoutDeferral(t *testing.T) {
	view := display.NewHeadless(image.Point{}, 0, false)
	view.Surfaces().Create(image.Pt(1280, 720))
	f := newFixture(t, camera.NewMockProvider(0, camera.DefaultMockSpec()), view)
	s := f.scanner

	s.StartPreview()
	if s.State() != Initializing {
		t.Fatalf("state = %v, want Initializing", s.State())
	}
	time.Sleep(20 * time.Millisecond)
	if f.provider.Opens() != 0 {
		t.Fatal("camera opened before layout")
	}

	view.Layout(image.Pt(1280, 720))
	waitState(t, s, PreviewActive)
	g, _ := s.Geometry()
	// Landscape 1280x720 on a camera mounted at 90 with rotation 0.
	if g.PreviewSize != image.Pt(1280, 720) {
		t.Errorf("preview = %v, want 1280x720", g.PreviewSize)
	}
	if st := s.Status(); st.InitRuns != 1 {
		t.Errorf("init runs = %d", st.InitRuns)
	}
}

func TestInitializationFailure_IsFatal(t *testing.T) {
	spec := camera.DefaultMockSpec()
	spec.OpenErr = errors.New("camera busy")
	view := display.NewHeadless(image.Pt(640, 480), 0, false)
	f := newFixture(t, camera.NewMockProvider(0, spec), view)
	s := f.scanner

	s.StartPreview()
	waitFor(t, "init error", func() bool { return s.Status().InitError != "" })
	st := s.Status()
	if st.State != Initializing {
		t.Errorf("state = %v, want Initializing", st.State)
	}
	if !strings.Contains(st.InitError, "unavailable") {
		t.Errorf("init error = %q", st.InitError)
	}

	s.StartPreview()
	if st := s.Status(); st.InitRuns != 1 {
		t.Errorf("init retried: %d runs", st.InitRuns)
	}
	s.ReleaseResources()
	if s.State() != Released {
		t.Errorf("state = %v, want Released", s.State())
	}
}

func TestSurfaceBinder_Notifications(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name        string
		surface     bool // surface exists before StartPreview
		fail        string
		act         func(h *display.Holder)
		want        State
		wantFailure string
		previewing  bool // device state afterwards
	}{
		{"created_binds", false, "", func(h *display.Holder) { h.Create(image.Pt(1080, 1920)) }, PreviewActive, "", true},
		{"created_bind_fails", false, "start-preview", func(h *display.Holder) { h.Create(image.Pt(1080, 1920)) }, PreviewInactive, stepStartPreview, false},
		// An invalid surface only changes the session state.
		{"changed_invalid", true, "", func(h *display.Holder) { h.Change(image.Pt(1080, 1920), false) }, PreviewInactive, "", true},
		{"changed_valid_stop_fails", true, "stop-preview", func(h *display.Holder) { h.Change(image.Pt(1920, 1080), true) }, PreviewActive, stepStopPreview, true},
		{"destroyed", true, "", func(h *display.Holder) { h.Destroy() }, PreviewInactive, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view := display.NewHeadless(image.Pt(1080, 1920), 0, true)
			if tc.surface {
				view.Surfaces().Create(image.Pt(1080, 1920))
			}
			f := newFixture(t, camera.NewMockProvider(0, camera.DefaultMockSpec()), view)
			s := f.scanner
			s.StartPreview()
			if tc.surface {
				waitState(t, s, PreviewActive)
			} else {
				waitState(t, s, PreviewInactive)
			}
			dev := f.provider.Device(0)
			if tc.fail != "" {
				dev.FailOn(tc.fail, boom)
			}

			tc.act(view.Surfaces())
			waitFor(t, tc.name, func() bool {
				st := s.Status()
				if st.State != tc.want {
					return false
				}
				_, failed := st.LastFailure()
				return failed == (tc.wantFailure != "")
			})

			st := s.Status()
			if last, ok := st.LastFailure(); tc.wantFailure != "" {
				if !ok || last.Step != tc.wantFailure || !errors.Is(last.Err, boom) {
					t.Errorf("last failure = %+v, want %s: boom", last, tc.wantFailure)
				}
			} else if ok {
				t.Errorf("unexpected failure %+v", last)
			}
			if previewing := dev.Previewing(); previewing != tc.previewing {
				t.Errorf("device previewing = %v, want %v", previewing, tc.previewing)
			}
		})
	}
}

// countingEngine always finds a code.
type countingEngine struct{ calls atomic.Int32 }

func (e *countingEngine) Decode(lum []byte, size image.Point, region image.Rectangle, formats []decode.Format) (decode.Result, error) {
	e.calls.Add(1)
	return decode.Result{Text: "item", Format: decode.QRCode}, nil
}

func TestDecoded_FrameDuringResultIsDropped(t *testing.T) {
	eng := &countingEngine{}
	var dev atomic.Pointer[camera.MockDevice]
	var emitted atomic.Bool
	f := newSurfaceFixture(t, WithDecoder(func(l decode.StateListener) decode.Coordinator {
		return decode.NewDecoder(eng, func(st decode.State) {
			// A frame lands before the session handles Decoded.
			if st == decode.Decoded && emitted.CompareAndSwap(false, true) {
				dev.Load().Emit()
			}
			l(st)
		})
	}))
	s := f.scanner

	var mu sync.Mutex
	var results []decode.Result
	s.SetDecodeCallback(func(r decode.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	s.StartPreview()
	waitState(t, s, PreviewActive)
	dev.Store(f.provider.Device(0))

	dev.Load().Emit()
	waitState(t, s, PreviewInactive)
	time.Sleep(30 * time.Millisecond)

	if n := eng.calls.Load(); n != 1 {
		t.Errorf("engine calls = %d, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
	if st := s.Status(); st.Frames.DroppedBusy != 1 || st.Frames.Forwarded != 1 {
		t.Errorf("frame stats = %+v", st.Frames)
	}
}

func TestInitialization_ContextCancelledWhenDone(t *testing.T) {
	f := newSurfaceFixture(t)
	s := f.scanner
	ctxs := make(chan context.Context, 1)
	s.run = func(ctx context.Context, tg Target) (*Handle, error) {
		ctxs <- ctx
		return Initializer{Provider: f.provider}.Run(ctx, tg)
	}

	s.StartPreview()
	waitState(t, s, PreviewActive)
	ctx := <-ctxs
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("initialization context still live after completion")
	}
}
