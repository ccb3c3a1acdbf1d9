// Package display implements the client side of the board: turning merged
// snapshots into render effects exactly once, and turning operator intent
// into patches.
package display

// EventTracker keeps a high-water mark per one-shot key. A firedAt value
// fires at most once per tracker no matter how often it is repeated.
type EventTracker struct {
	marks map[string]int64
}

func NewEventTracker() *EventTracker {
	return &EventTracker{marks: make(map[string]int64)}
}

// Prime records firedAt as already seen. Marks never move backwards.
func (t *EventTracker) Prime(key string, firedAt int64) {
	if mark, ok := t.marks[key]; ok && mark >= firedAt {
		return
	}
	t.marks[key] = firedAt
}

// Observe reports whether firedAt is new for key and, if so, records it.
func (t *EventTracker) Observe(key string, firedAt int64) bool {
	mark, ok := t.marks[key]
	if ok && firedAt <= mark {
		return false
	}
	if !ok && firedAt <= 0 {
		return false
	}
	t.marks[key] = firedAt
	return true
}

func (t *EventTracker) Mark(key string) (int64, bool) {
	mark, ok := t.marks[key]
	return mark, ok
}
