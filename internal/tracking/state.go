package tracking

// Phase is the tracker's knowledge of where the subject is
type Phase int

const (
	// Uninitialized means no subject has been detected yet
	Uninitialized Phase = iota
	// Tracking means Center holds the last detected position
	Tracking
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// State carries the last known subject center between ticks
type State struct {
	Phase  Phase
	Center float64
}

// Detection is the outcome of one detector pass
type Detection struct {
	Found   bool
	CenterX float64
}

// Next applies one tick. A hit moves to Tracking at the new center; a miss
// keeps the previous state.
func Next(s State, d Detection) State {
	if d.Found {
		return State{Phase: Tracking, Center: d.CenterX}
	}
	return s
}

// CenterOr returns the tracked center, or fallback before the first hit
func (s State) CenterOr(fallback float64) float64 {
	if s.Phase == Tracking {
		return s.Center
	}
	return fallback
}
