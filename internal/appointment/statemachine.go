package appointment

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether from -> to is an edge of the appointment
// lifecycle. Terminal statuses have no outgoing edges.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
