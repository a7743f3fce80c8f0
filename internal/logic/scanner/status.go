package scanner

import (
	"github.com/cjeanneret/ScanGo/internal/logic/decode"
	"github.com/cjeanneret/ScanGo/internal/logic/geometry"
)

// Status is a point-in-time view of a session.
type Status struct {
	State     State              `json:"state"`
	Geometry  *geometry.Geometry `json:"geometry,omitempty"`
	Formats   []decode.Format    `json:"formats"`
	Frames    FrameStats         `json:"frames"`
	InitRuns  int                `json:"init_runs"`
	InitError string             `json:"init_error,omitempty"`
	Decodes   int                `json:"decodes"`
	Light     bool               `json:"light"`
	Outcomes  []BindOutcome      `json:"bind_outcomes,omitempty"`
}

// LastFailure returns the most recent failed bind step, if any.
func (st Status) LastFailure() (BindOutcome, bool) {
	for i := len(st.Outcomes) - 1; i >= 0; i-- {
		if !st.Outcomes[i].OK() {
			return st.Outcomes[i], true
		}
	}
	return BindOutcome{}, false
}

// snapshot reads the published fields only; safe from any goroutine.
func (s *Scanner) snapshot() Status {
	st := Status{
		State:  s.State(),
		Frames: s.gate.stats(),
	}
	if g := s.geometry.Load(); g != nil {
		c := *g
		st.Geometry = &c
	}
	if f := s.formats.Load(); f != nil {
		st.Formats = append([]decode.Format(nil), (*f)...)
	}
	return st
}

// status adds the loop-owned fields; called on the loop.
func (s *Scanner) status() Status {
	st := s.snapshot()
	st.InitRuns = s.initRuns
	st.Decodes = s.decodes
	if s.initErr != nil {
		st.InitError = s.initErr.Error()
	}
	if s.light != nil {
		st.Light = s.light.Enabled()
	}
	st.Outcomes = append([]BindOutcome(nil), s.outcomes...)
	return st
}
