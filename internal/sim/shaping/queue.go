package shaping

import "clayformer.ai/internal/sim/action"

// actionQueue is a FIFO of pending actions. It is only touched from the
// engine's tick, so it carries no lock.
type actionQueue struct {
	items []action.Action
	head  int
}

func (q *actionQueue) Len() int { return len(q.items) - q.head }

// Replace discards anything pending and queues seq.
func (q *actionQueue) Replace(seq []action.Action) {
	q.items = append(q.items[:0], seq...)
	q.head = 0
}

func (q *actionQueue) Pop() (action.Action, bool) {
	if q.head >= len(q.items) {
		return action.Action{}, false
	}
	a := q.items[q.head]
	q.items[q.head] = action.Action{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return a, true
}

func (q *actionQueue) Peek() (action.Action, bool) {
	if q.head >= len(q.items) {
		return action.Action{}, false
	}
	return q.items[q.head], true
}

func (q *actionQueue) Clear() {
	q.items = nil
	q.head = 0
}
