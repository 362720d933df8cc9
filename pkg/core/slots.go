package core

// IntSource is the randomness used to pick a slot count. *rand.Rand satisfies it.
type IntSource interface {
	Intn(n int) int
}

// SlotRange is the half-open range [Min, Max) a single user may find free
// on a shared grid engine.
type SlotRange struct {
	Min int
	Max int
}

// DefaultSlotRange matches a small shared queue.
var DefaultSlotRange = SlotRange{Min: 0, Max: 10}

// Resolve draws a capacity uniformly from the range. An empty or inverted
// range falls back to Min; negative bounds are clamped to zero.
func (r SlotRange) Resolve(src IntSource) int {
	lo := r.Min
	if lo < 0 {
		lo = 0
	}
	if src == nil || r.Max <= lo {
		return lo
	}
	return lo + src.Intn(r.Max-lo)
}
