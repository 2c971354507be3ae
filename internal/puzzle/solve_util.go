package puzzle

import (
	"slices"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// NewState prepares a solve session over every authored lock in r, in
// ascending lock order.
func NewState(r room.Room) (State, error) {
	targets := make(map[int]room.Grid, len(r.Patterns))
	order := make([]int, 0, len(r.Patterns))
	for lock, p := range r.Patterns {
		targets[lock] = p.Grid.Clone()
		order = append(order, lock)
	}
	if len(order) == 0 {
		return State{}, ErrNoLocks
	}
	slices.Sort(order)

	return State{
		Order:   order,
		Current: newProgress(order[0]),
		Scores:  map[int]int{},
		targets: targets,
	}, nil
}

// Reset starts the same room over with scores cleared.
func (s State) Reset() State {
	if len(s.Order) == 0 {
		return s
	}
	return State{
		Order:   s.Order,
		Current: newProgress(s.Order[0]),
		Scores:  map[int]int{},
		targets: s.targets,
	}
}

func (s State) Done() bool {
	return s.Cursor >= len(s.Order)
}

func (s State) PointTotal() int {
	total := 0
	for _, score := range s.Scores {
		total += score
	}
	return total
}

// Summary aggregates the solved locks so far against the full lock count.
func (s State) Summary() Summary {
	return Summarize(s.PointTotal(), len(s.Order))
}

func newProgress(lock int) LockProgress {
	return LockProgress{Lock: lock, Working: room.NewGrid(), Revealed: []room.Instrument{}}
}

func (s State) clone() State {
	c := s
	c.Current.Working = s.Current.Working.Clone()
	c.Current.Revealed = slices.Clone(s.Current.Revealed)
	c.Scores = make(map[int]int, len(s.Scores))
	for lock, score := range s.Scores {
		c.Scores[lock] = score
	}
	return c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
