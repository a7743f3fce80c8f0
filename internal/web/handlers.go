package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
	"github.com/cjeanneret/ScanGo/internal/logic/scanner"
)

// Session is the scanner surface driven over HTTP.
type Session interface {
	StartPreview()
	StopPreview()
	ReleaseResources()
	SetFormats(formats []decode.Format)
	Status() scanner.Status
}

// ConfigView is the read-only configuration shown to clients.
type ConfigView struct {
	Camera      string   `json:"camera"`
	CameraID    int      `json:"camera_id"`
	Viewport    string   `json:"viewport,omitempty"`
	Rotation    int      `json:"rotation"`
	SquareFrame bool     `json:"square_frame"`
	Formats     []string `json:"formats"`
	Light       bool     `json:"light"`
}

// FormatsRequest is the body of PUT /formats.
type FormatsRequest struct {
	Formats []string `json:"formats"`
}

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	maxBodyBytes      = 1 << 20
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Session
	Config      ConfigView
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If session is nil, the control routes return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, session Session, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     session,
		Config:      cfg,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface is served on a local port to any page.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the configuration summary as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// session returns the session, or writes 503 and returns nil.
func (h *Handlers) session(w http.ResponseWriter) Session {
	if h.Session == nil {
		http.Error(w, "scanner not configured", http.StatusServiceUnavailable)
		return nil
	}
	return h.Session
}

// control runs op unless the session is released, then replies with the status.
func (h *Handlers) control(w http.ResponseWriter, op func(Session)) {
	s := h.session(w)
	if s == nil {
		return
	}
	if s.Status().State == scanner.Released {
		http.Error(w, "scanner released", http.StatusConflict)
		return
	}
	op(s)
	writeJSON(w, http.StatusOK, s.Status())
}

// HandleStartPreview handles POST /preview/start.
func (h *Handlers) HandleStartPreview(w http.ResponseWriter, r *http.Request) {
	h.control(w, Session.StartPreview)
}

// HandleStopPreview handles POST /preview/stop.
func (h *Handlers) HandleStopPreview(w http.ResponseWriter, r *http.Request) {
	h.control(w, Session.StopPreview)
}

// HandleRelease handles POST /release. Releasing twice is not an error.
func (h *Handlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	s := h.session(w)
	if s == nil {
		return
	}
	s.ReleaseResources()
	writeJSON(w, http.StatusOK, s.Status())
}

// HandleFormats handles PUT /formats. An empty list disables decoding.
func (h *Handlers) HandleFormats(w http.ResponseWriter, r *http.Request) {
	s := h.session(w)
	if s == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req FormatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	formats := make([]decode.Format, 0, len(req.Formats))
	for _, name := range req.Formats {
		f, err := decode.ParseFormat(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		formats = append(formats, f)
	}
	s.SetFormats(formats)
	writeJSON(w, http.StatusOK, s.Status())
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s := h.session(w)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// HandleResultStream handles GET /results/stream for SSE.
func (h *Handlers) HandleResultStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleResultSocket handles GET /results/ws: the same events as the SSE
// stream, one JSON text message each.
func (h *Handlers) HandleResultSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()
	debug.Live("WebSocket client connected: %s", r.RemoteAddr)

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Reads only detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			debug.Live("WebSocket client disconnected: %s", r.RemoteAddr)
			return

		case <-r.Context().Done():
			return
		}
	}
}
