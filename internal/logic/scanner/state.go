package scanner

import "fmt"

// State is the session lifecycle state.
//
//	Uninitialized -> Initializing -> Ready -> PreviewActive <-> PreviewInactive
//	any state -> Released
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	PreviewActive
	PreviewInactive
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case PreviewActive:
		return "PreviewActive"
	case PreviewInactive:
		return "PreviewInactive"
	case Released:
		return "Released"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// hasHandle reports whether the session owns an opened device in s.
func (s State) hasHandle() bool {
	return s == Ready || s == PreviewActive || s == PreviewInactive
}

// forwards reports whether the frame gate may forward frames in s.
func (s State) forwards() bool {
	return s == Ready || s == PreviewActive
}
