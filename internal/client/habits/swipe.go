package habits

import (
	"context"
	"fmt"
)

// Direction is a swipe gesture direction on a habit card.
type Direction string

const (
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
)

// ParseDirection converts user input into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case SwipeLeft, SwipeRight:
		return d, nil
	}
	return "", fmt.Errorf("unknown swipe direction %q", s)
}

// Operation is what a swipe asks for.
type Operation int

const (
	OpComplete Operation = iota + 1
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpComplete:
		return "complete"
	case OpDelete:
		return "delete"
	}
	return "none"
}

// Action is a decided operation on one habit.
type Action struct {
	Op      Operation
	HabitID string
}

// DecideSwipe maps a swipe on habit id to an action: right completes, left
// deletes. Any other direction yields no action.
func DecideSwipe(id string, dir Direction) (Action, bool) {
	switch dir {
	case SwipeRight:
		return Action{Op: OpComplete, HabitID: id}, true
	case SwipeLeft:
		return Action{Op: OpDelete, HabitID: id}, true
	}
	return Action{}, false
}

// Apply performs a.
func (s *Sync) Apply(ctx context.Context, a Action) error {
	switch a.Op {
	case OpComplete:
		return s.Complete(ctx, a.HabitID)
	case OpDelete:
		return s.DeleteByID(ctx, a.HabitID)
	}
	return fmt.Errorf("habits: unknown operation %d", a.Op)
}
