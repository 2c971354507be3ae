package puzzle

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

var ErrRowLocked = errors.New("row revealed by hint is read-only")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrPlayCompleted = errors.New("all locks already solved")
var ErrNoLocks = errors.New("room has no locks to solve")

type CommandType string

const (
	CmdToggleCell  CommandType = "ToggleCell"
	CmdSubmitGuess CommandType = "SubmitGuess"
	CmdClearGuess  CommandType = "ClearGuess"
)

/*
	CmdToggleCell  -> EvtCellToggled
	CmdSubmitGuess -> EvtGuessWrong (-> EvtHintRevealed once past the threshold)
	               -> EvtLockSolved (-> EvtPlayCompleted on the last lock)
	CmdClearGuess  -> EvtGuessCleared, revealed rows survive
*/

type Command struct {
	Type       CommandType
	Instrument room.Instrument
	Beat       int
}

type EventType string

const (
	EvtCellToggled   EventType = "CellToggled"
	EvtGuessCleared  EventType = "GuessCleared"
	EvtGuessWrong    EventType = "GuessWrong"
	EvtHintRevealed  EventType = "HintRevealed"
	EvtLockSolved    EventType = "LockSolved"
	EvtPlayCompleted EventType = "PlayCompleted"
)

type Event struct {
	Type       EventType
	Lock       int
	Instrument room.Instrument
	Beat       int
	Score      int
}

// LockProgress is the learner's working state on the current lock.
type LockProgress struct {
	Lock          int
	Working       room.Grid
	WrongAttempts int
	Revealed      []room.Instrument
}

type State struct {
	// Order is the ascending list of lock numbers to solve.
	Order   []int
	Cursor  int
	Current LockProgress
	Scores  map[int]int
	targets map[int]room.Grid
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Cursor >= len(s.Order) {
		return nil, s, ErrPlayCompleted
	}

	next := s.clone()
	lock := next.Current.Lock

	switch cmd.Type {
	case CmdToggleCell:
		if slices.Contains(next.Current.Revealed, cmd.Instrument) {
			return nil, s, ErrRowLocked
		}
		if err := next.Current.Working.Toggle(cmd.Instrument, cmd.Beat); err != nil {
			return nil, s, err
		}
		return []Event{{Type: EvtCellToggled, Lock: lock, Instrument: cmd.Instrument, Beat: cmd.Beat}}, next, nil

	case CmdClearGuess:
		target := next.targets[lock]
		working := room.NewGrid()
		for _, inst := range next.Current.Revealed {
			working[inst] = target[inst]
		}
		next.Current.Working = working
		return []Event{{Type: EvtGuessCleared, Lock: lock}}, next, nil

	case CmdSubmitGuess:
		target := next.targets[lock]
		if !PatternsMatch(next.Current.Working, target) {
			next.Current.WrongAttempts++
			events := []Event{{Type: EvtGuessWrong, Lock: lock}}
			if inst, ok := next.revealNext(); ok {
				events = append(events, Event{Type: EvtHintRevealed, Lock: lock, Instrument: inst})
			}
			return events, next, nil
		}

		score := ScoreLock(next.Current.WrongAttempts, len(next.Current.Revealed))
		next.Scores[lock] = score
		events := []Event{{Type: EvtLockSolved, Lock: lock, Score: score}}

		next.Cursor++
		if next.Cursor >= len(next.Order) {
			next.Current = LockProgress{}
			return append(events, Event{Type: EvtPlayCompleted, Score: next.PointTotal()}), next, nil
		}
		next.Current = newProgress(next.Order[next.Cursor])
		return events, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// revealNext copies the next unrevealed row from the target into the working
// grid, in kick, snare, hihat order. Nothing is revealed before the threshold
// or once every row is shown.
func (s *State) revealNext() (room.Instrument, bool) {
	if s.Current.WrongAttempts < HintThreshold {
		return "", false
	}
	target := s.targets[s.Current.Lock]
	for _, inst := range room.Instruments {
		if slices.Contains(s.Current.Revealed, inst) {
			continue
		}
		s.Current.Working[inst] = target[inst]
		s.Current.Revealed = append(s.Current.Revealed, inst)
		return inst, true
	}
	return "", false
}
