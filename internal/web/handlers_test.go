package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/cjeanneret/ScanGo/internal/logic/decode"
	"github.com/cjeanneret/ScanGo/internal/logic/scanner"
)

// fakeSession records the operations applied to it.
type fakeSession struct {
	mu      sync.Mutex
	ops     []string
	state   scanner.State
	formats []decode.Format
}

func (f *fakeSession) do(op string, next scanner.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	if f.state != scanner.Released {
		f.state = next
	}
}

func (f *fakeSession) StartPreview()     { f.do("start", scanner.PreviewActive) }
func (f *fakeSession) StopPreview()      { f.do("stop", scanner.PreviewInactive) }
func (f *fakeSession) ReleaseResources() { f.do("release", scanner.Released) }

func (f *fakeSession) SetFormats(formats []decode.Format) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "formats")
	f.formats = formats
}

func (f *fakeSession) Status() scanner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scanner.Status{State: f.state, Formats: f.formats}
}

func (f *fakeSession) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// ---------- Handler helpers ----------

func newTestHandlers(session Session) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		session,
		ConfigView{
			Camera:      "mock",
			CameraID:    -1,
			Viewport:    "1080x1920",
			Rotation:    90,
			SquareFrame: true,
			Formats:     []string{"QR_CODE"},
		},
		staticFS,
	)
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var st map[string]any
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

// ---------- Preview control ----------

func TestHandleStartStop(t *testing.T) {
	s := &fakeSession{}
	h := newTestHandlers(s)

	w := httptest.NewRecorder()
	h.HandleStartPreview(w, httptest.NewRequest(http.MethodPost, "/preview/start", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d", w.Code)
	}
	if st := decodeStatus(t, w); st["state"] != "PreviewActive" {
		t.Errorf("start: state = %v, want PreviewActive", st["state"])
	}

	w = httptest.NewRecorder()
	h.HandleStopPreview(w, httptest.NewRequest(http.MethodPost, "/preview/stop", nil))
	if st := decodeStatus(t, w); st["state"] != "PreviewInactive" {
		t.Errorf("stop: state = %v, want PreviewInactive", st["state"])
	}

	if ops := s.operations(); strings.Join(ops, ",") != "start,stop" {
		t.Errorf("ops = %v", ops)
	}
}

func TestHandleStart_AfterReleaseConflicts(t *testing.T) {
	s := &fakeSession{}
	h := newTestHandlers(s)

	w := httptest.NewRecorder()
	h.HandleRelease(w, httptest.NewRequest(http.MethodPost, "/release", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("release: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.HandleStartPreview(w, httptest.NewRequest(http.MethodPost, "/preview/start", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("start after release: status = %d, want %d", w.Code, http.StatusConflict)
	}

	// A second release is accepted.
	w = httptest.NewRecorder()
	h.HandleRelease(w, httptest.NewRequest(http.MethodPost, "/release", nil))
	if w.Code != http.StatusOK {
		t.Errorf("second release: status = %d", w.Code)
	}
}

func TestHandlers_NilSession(t *testing.T) {
	h := newTestHandlers(nil)
	for name, fn := range map[string]http.HandlerFunc{
		"start":   h.HandleStartPreview,
		"stop":    h.HandleStopPreview,
		"release": h.HandleRelease,
		"status":  h.HandleStatus,
	} {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodPost, "/", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want %d", name, w.Code, http.StatusServiceUnavailable)
		}
	}
}

// ---------- Formats ----------

func TestHandleFormats(t *testing.T) {
	s := &fakeSession{}
	h := newTestHandlers(s)

	w := httptest.NewRecorder()
	h.HandleFormats(w, httptest.NewRequest(http.MethodPut, "/formats", strings.NewReader(`{"formats":["qr_code","EAN-13"]}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(s.formats) != 2 || s.formats[0] != decode.QRCode || s.formats[1] != decode.EAN13 {
		t.Errorf("formats = %v", s.formats)
	}
}

func TestHandleFormats_EmptyDisablesDecoding(t *testing.T) {
	s := &fakeSession{}
	h := newTestHandlers(s)

	w := httptest.NewRecorder()
	h.HandleFormats(w, httptest.NewRequest(http.MethodPut, "/formats", strings.NewReader(`{"formats":[]}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if s.formats == nil || len(s.formats) != 0 {
		t.Errorf("formats = %#v, want empty non-nil list", s.formats)
	}
}

func TestHandleFormats_BadRequests(t *testing.T) {
	cases := map[string]string{
		"invalid_json":   "not json",
		"unknown_format": `{"formats":["JPEG"]}`,
		"oversized":      `{"formats":["` + strings.Repeat("x", 2<<20) + `"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s := &fakeSession{}
			h := newTestHandlers(s)
			w := httptest.NewRecorder()
			h.HandleFormats(w, httptest.NewRequest(http.MethodPut, "/formats", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if len(s.operations()) != 0 {
				t.Errorf("session touched: %v", s.operations())
			}
		})
	}
}

// ---------- Status / config / index ----------

func TestHandleStatus(t *testing.T) {
	h := newTestHandlers(&fakeSession{state: scanner.Initializing})
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if st := decodeStatus(t, w); st["state"] != "Initializing" {
		t.Errorf("state = %v", st["state"])
	}
}

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()
	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var cv ConfigView
	if err := json.NewDecoder(w.Body).Decode(&cv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cv.Camera != "mock" || cv.Viewport != "1080x1920" || !cv.SquareFrame || cv.Rotation != 90 {
		t.Errorf("config = %+v", cv)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}
