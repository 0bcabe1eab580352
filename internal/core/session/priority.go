package session

// Priority tells query handlers which tier of traffic the current cycle may
// carry. PriorityAny admits everything; PriorityHigh is for latency-sensitive
// cycles where bulky updates should wait.
type Priority uint8

const (
	PriorityAny Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityAny:
		return "any"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Admits reports whether a message gated at tier may be sent this cycle.
func (p Priority) Admits(tier Priority) bool {
	return p == PriorityAny || p == tier
}
