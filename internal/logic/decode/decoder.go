package decode

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/logic/geometry"
)

// State is the decoder's processing state.
type State int32

const (
	Idle State = iota
	Decoding
	Decoded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Decoding:
		return "Decoding"
	case Decoded:
		return "Decoded"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StateListener is notified of every state change. It is called on the
// goroutine that caused the change.
type StateListener func(State)

// Result is a decoded payload.
type Result struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Format    Format    `json:"format"`
	DecodedAt time.Time `json:"decoded_at"`
}

// Callback receives a decoded result.
type Callback func(Result)

// Request is one frame handed to the decoder, with the geometry snapshot
// needed to locate the frame of interest.
type Request struct {
	Frame       []byte      // NV21, Y plane first
	PreviewSize image.Point // sensor orientation
	FrameSize   image.Point // display orientation
	Orientation int         // clockwise degrees, multiple of 90
	SquareFrame bool
	Callback    Callback
}

// Coordinator accepts frames for asynchronous decoding.
type Coordinator interface {
	Decode(req Request)
	IsDecoding() bool
	SetFormats(formats []Format)
	Shutdown()
}

// ErrShortFrame means the frame holds fewer bytes than its Y plane needs.
var ErrShortFrame = errors.New("decode: frame shorter than preview size")

// Decoder runs an Engine on a single worker goroutine. At most one request is
// pending; a newer request replaces an unprocessed one.
type Decoder struct {
	engine   Engine
	listener StateListener
	now      func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	pending *Request
	formats []Format
	closed  bool

	state atomic.Int32
	done  chan struct{}
}

// NewDecoder starts the worker. listener may be nil.
func NewDecoder(engine Engine, listener StateListener) *Decoder {
	d := &Decoder{
		engine:   engine,
		listener: listener,
		now:      time.Now,
		formats:  append([]Format(nil), AllFormats...),
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Decode queues req and marks the decoder busy before returning.
func (d *Decoder) Decode(req Request) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if State(d.state.Load()) == Decoded {
		d.mu.Unlock()
		debug.Trace("decoder: frame dropped while reporting a result")
		return
	}
	if d.pending != nil {
		debug.Trace("decoder: pending frame replaced")
	}
	d.pending = &req
	d.state.Store(int32(Decoding))
	d.mu.Unlock()

	d.notify(Decoding)
	d.cond.Signal()
}

// IsDecoding reports whether the decoder is busy: a frame is queued, being
// processed, or its result is being reported.
func (d *Decoder) IsDecoding() bool {
	return State(d.state.Load()) != Idle
}

// State returns the current state.
func (d *Decoder) State() State {
	return State(d.state.Load())
}

// SetFormats replaces the enabled formats. An empty list disables decoding.
func (d *Decoder) SetFormats(formats []Format) {
	d.mu.Lock()
	d.formats = append([]Format(nil), formats...)
	d.mu.Unlock()
}

// Formats returns a copy of the enabled formats.
func (d *Decoder) Formats() []Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Format(nil), d.formats...)
}

// Shutdown stops the worker once the current frame is done. It does not
// wait; use Done for that.
func (d *Decoder) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.pending = nil
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Done is closed when the worker has exited.
func (d *Decoder) Done() <-chan struct{} {
	return d.done
}

func (d *Decoder) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for d.pending == nil && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		req := *d.pending
		d.pending = nil
		formats := d.formats
		d.mu.Unlock()

		d.process(req, formats)
	}
}

func (d *Decoder) process(req Request, formats []Format) {
	res, err := d.decode(req, formats)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			debug.Verbose("decoder: %v", err)
		}
		d.finish()
		return
	}
	res.ID = uuid.NewString()
	res.DecodedAt = d.now()
	debug.Decoded(string(res.Format), res.Text)

	// Frames queued behind a result are stale: the session stops on Decoded.
	d.mu.Lock()
	d.pending = nil
	d.state.Store(int32(Decoded))
	d.mu.Unlock()
	d.notify(Decoded)
	if req.Callback != nil {
		req.Callback(res)
	}
	d.finish()
}

func (d *Decoder) decode(req Request, formats []Format) (Result, error) {
	if len(formats) == 0 {
		return Result{}, ErrNotFound
	}
	lum, size, err := orient(req.Frame, req.PreviewSize, req.Orientation)
	if err != nil {
		return Result{}, err
	}
	frame := req.FrameSize
	if req.SquareFrame {
		s := min(frame.X, frame.Y)
		frame = image.Pt(s, s)
	}
	region := geometry.FrameRect(frame, size)
	if region.Empty() {
		return Result{}, fmt.Errorf("decode: empty frame of interest %v", frame)
	}
	return d.engine.Decode(lum, size, region, formats)
}

// finish returns to Idle unless another request arrived meanwhile.
func (d *Decoder) finish() {
	d.mu.Lock()
	idle := d.pending == nil
	if idle {
		d.state.Store(int32(Idle))
	} else {
		d.state.Store(int32(Decoding))
	}
	d.mu.Unlock()
	if idle {
		d.notify(Idle)
	}
}

func (d *Decoder) notify(s State) {
	if d.listener != nil {
		d.listener(s)
	}
}
