package domain

import "fmt"

// PresenceThreshold is the classifier decision boundary. A probability at or
// above it means a cell is expected at the horizon.
const PresenceThreshold = 0.5

// PresenceKind distinguishes the three classifier outcomes.
type PresenceKind int

const (
	Absent PresenceKind = iota
	Present
	Indeterminate
)

func (k PresenceKind) String() string {
	switch k {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "indeterminate"
	}
}

// Presence is the result of the presence classifier for one horizon.
// Indeterminate carries the reason the classifier could not decide.
type Presence struct {
	Kind        PresenceKind
	Probability float64
	Reason      error
}

// PresenceFromProbability applies the decision boundary.
func PresenceFromProbability(p float64) Presence {
	if p >= PresenceThreshold {
		return Presence{Kind: Present, Probability: p}
	}
	return Presence{Kind: Absent, Probability: p}
}

// IndeterminatePresence wraps a classifier failure.
func IndeterminatePresence(reason error) Presence {
	return Presence{Kind: Indeterminate, Reason: reason}
}

// IsPresent reports whether regressors should run.
func (p Presence) IsPresent() bool { return p.Kind == Present }

func (p Presence) String() string {
	if p.Kind == Indeterminate {
		return fmt.Sprintf("indeterminate(%v)", p.Reason)
	}
	return fmt.Sprintf("%s(%.3f)", p.Kind, p.Probability)
}
