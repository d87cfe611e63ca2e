package domain

// SessionStatus is the explicit session state machine:
//
//	waiting -> active <-> paused -> ended
//
// ended is terminal; no transition leaves it.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

var transitions = map[SessionStatus]map[SessionStatus]bool{
	StatusWaiting: {StatusActive: true, StatusEnded: true},
	StatusActive:  {StatusPaused: true, StatusEnded: true},
	StatusPaused:  {StatusActive: true, StatusEnded: true},
	StatusEnded:   {},
}

// CanTransition reports whether moving from one status to another is a legal
// lifecycle move. Setting a status to itself is allowed for non-terminal
// states: a doubled teacher action is a harmless no-op write.
func CanTransition(from, to SessionStatus) bool {
	if from == StatusEnded {
		return false
	}
	if from == to {
		return true
	}
	return transitions[from][to]
}

// ParseStatus validates a raw status string read back from the store.
func ParseStatus(s string) (SessionStatus, bool) {
	switch st := SessionStatus(s); st {
	case StatusWaiting, StatusActive, StatusPaused, StatusEnded:
		return st, true
	}
	return "", false
}
