package domain

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusActive:  {},
		StatusDeleted: {},
	},
	StatusActive: {
		StatusSuspended: {},
		StatusDeleted:   {},
	},
	StatusSuspended: {
		StatusActive:  {},
		StatusDeleted: {},
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
// Deleted is terminal.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, exists := allowed[to]
	return exists
}
