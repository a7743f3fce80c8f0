package scanner

import (
	"sync/atomic"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
)

// frameGate decides per frame whether to forward it to the decoder. It runs
// on the camera's delivery goroutine and never blocks or queues: a frame
// that cannot be decoded right now is dropped.
type frameGate struct {
	scanner *Scanner

	forwarded   atomic.Uint64
	notReady    atomic.Uint64
	busyDropped atomic.Uint64
}

func (g *frameGate) onFrame(frame []byte) {
	s := g.scanner
	if !s.State().forwards() {
		g.notReady.Add(1)
		return
	}
	if s.decoder.IsDecoding() {
		g.busyDropped.Add(1)
		debug.Trace("Frame dropped, decoder busy")
		return
	}
	geo := s.geometry.Load()
	if geo == nil {
		g.notReady.Add(1)
		return
	}
	var cb decode.Callback
	if p := s.callback.Load(); p != nil {
		cb = *p
	}
	s.decoder.Decode(decode.Request{
		Frame:       frame,
		PreviewSize: geo.PreviewSize,
		FrameSize:   geo.FrameSize,
		Orientation: geo.DisplayOrientation,
		SquareFrame: s.view.SquareFrame(),
		Callback:    cb,
	})
	g.forwarded.Add(1)
}

// FrameStats counts frame gate decisions.
type FrameStats struct {
	Forwarded       uint64 `json:"forwarded"`
	DroppedNotReady uint64 `json:"dropped_not_ready"`
	DroppedBusy     uint64 `json:"dropped_busy"`
}

func (g *frameGate) stats() FrameStats {
	return FrameStats{
		Forwarded:       g.forwarded.Load(),
		DroppedNotReady: g.notReady.Load(),
		DroppedBusy:     g.busyDropped.Load(),
	}
}
