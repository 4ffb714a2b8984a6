package status

// transitions is the single source of truth for legal status changes.
// delivered and cancelled keep a refund edge; refunded has no way out.
// A status never appears in its own list, so self-transitions are rejected.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusPaid, StatusCancelled},
	StatusProcessing: {StatusPaid, StatusShipped, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  {StatusRefunded},
	StatusRefunded:   {},
}

// CanTransition checks if a transition from `from` to `to` is valid.
// It is a pure lookup and never touches storage.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns all statuses reachable from `from`.
func AllowedTransitions(from Status) []Status {
	allowed, ok := transitions[from]
	if !ok {
		return nil
	}
	result := make([]Status, len(allowed))
	copy(result, allowed)
	return result
}
