package puzzle

import (
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

func scenarioTarget() room.Grid {
	return room.Grid{
		room.Kick:  {true, false, true, false},
		room.Snare: {false, true, false, true},
		room.Hihat: {true, true, true, true},
	}
}

func roomWith(locks map[int]room.Grid) room.Room {
	r := room.New("Q7K3", room.ModeSolo, "", time.Now())
	for lock, g := range locks {
		r.Patterns[lock] = room.Pattern{Grid: g}
	}
	return r
}

func mustState(t *testing.T, r room.Room) State {
	t.Helper()
	s, err := NewState(r)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func apply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("Apply(%s): %v", cmd.Type, err)
	}
	return events, next
}

func TestScoreLock(t *testing.T) {
	cases := []struct {
		wrong, hints, want int
	}{
		{0, 0, 100},
		{3, 1, 35},
		{10, 3, 0},
		{1, 0, 85},
		{0, 3, 40},
	}
	for _, tc := range cases {
		if got := ScoreLock(tc.wrong, tc.hints); got != tc.want {
			t.Fatalf("ScoreLock(%d,%d) = %d, want %d", tc.wrong, tc.hints, got, tc.want)
		}
	}
}

func TestValidatePattern_MatchesCount(t *testing.T) {
	grids := []room.Grid{
		room.NewGrid(),
		{room.Hihat: {true, true, false, false}},
		{room.Hihat: {true, true, true, false}},
		scenarioTarget(),
	}
	for i, g := range grids {
		if ValidatePattern(g, room.MinNotes) != (CountActiveNotes(g) >= room.MinNotes) {
			t.Fatalf("grid %d: ValidatePattern disagrees with CountActiveNotes", i)
		}
	}
	if CountActiveNotes(scenarioTarget()) != 8 {
		t.Fatalf("scenario target should have 8 notes")
	}
}

func TestPatternsMatch_IsPositional(t *testing.T) {
	a := room.Grid{room.Kick: {true, false, false, false}}
	b := room.Grid{room.Kick: {false, false, false, true}}
	if PatternsMatch(a, b) {
		t.Fatalf("transposed kick should not match")
	}
	if !PatternsMatch(scenarioTarget(), scenarioTarget()) {
		t.Fatalf("identical grids should match")
	}
	if !PatternsMatch(room.NewGrid(), room.Grid{}) {
		t.Fatalf("missing rows compare as all-off")
	}
}

func TestSolveScenario_HintAfterThirdWrongScores35(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: scenarioTarget()}))

	// a lone hihat is never the answer
	_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: 0})

	for i := 1; i <= 2; i++ {
		events, next := apply(t, s, Command{Type: CmdSubmitGuess})
		s = next
		if ContainsEvent(events, EvtHintRevealed) {
			t.Fatalf("hint revealed after %d wrong attempts", i)
		}
	}
	if s.Current.WrongAttempts != 2 {
		t.Fatalf("want 2 wrong attempts, got %d", s.Current.WrongAttempts)
	}

	events, s := apply(t, s, Command{Type: CmdSubmitGuess})
	if !ContainsEvent(events, EvtHintRevealed) {
		t.Fatalf("expected hint on third wrong attempt")
	}
	if len(s.Current.Revealed) != 1 || s.Current.Revealed[0] != room.Kick {
		t.Fatalf("expected kick revealed first, got %v", s.Current.Revealed)
	}
	if s.Current.Working[room.Kick] != scenarioTarget()[room.Kick] {
		t.Fatalf("kick row not copied from target")
	}

	if _, _, err := Apply(s, Command{Type: CmdToggleCell, Instrument: room.Kick, Beat: 0}); !errors.Is(err, ErrRowLocked) {
		t.Fatalf("want ErrRowLocked, got %v", err)
	}

	for _, beat := range []int{1, 3} {
		_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Snare, Beat: beat})
	}
	for _, beat := range []int{1, 2, 3} {
		_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: beat})
	}

	events, s = apply(t, s, Command{Type: CmdSubmitGuess})
	if !ContainsEvent(events, EvtLockSolved) || !ContainsEvent(events, EvtPlayCompleted) {
		t.Fatalf("expected solve and completion, got %+v", events)
	}
	if s.Scores[1] != 35 {
		t.Fatalf("want score 35, got %d", s.Scores[1])
	}
	if _, _, err := Apply(s, Command{Type: CmdSubmitGuess}); !errors.Is(err, ErrPlayCompleted) {
		t.Fatalf("want ErrPlayCompleted, got %v", err)
	}
}

func TestSolve_AtMostThreeHints(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: {room.Hihat: {true, true, true, false}}}))
	_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: 3})
	hints := 0
	for i := 0; i < 5; i++ {
		events, next := apply(t, s, Command{Type: CmdSubmitGuess})
		s = next
		if ContainsEvent(events, EvtLockSolved) {
			t.Fatalf("solved on wrong guess %d", i+1)
		}
		if ContainsEvent(events, EvtHintRevealed) {
			hints++
		}
	}
	if hints != 3 || len(s.Current.Revealed) != 3 {
		t.Fatalf("want 3 hints, got %d", hints)
	}

	// every row is now copied from the target
	events, s := apply(t, s, Command{Type: CmdSubmitGuess})
	if !ContainsEvent(events, EvtLockSolved) {
		t.Fatalf("fully revealed guess should solve")
	}
	if s.Scores[1] != 0 {
		t.Fatalf("want floor score 0, got %d", s.Scores[1])
	}
}

func TestSolve_LocksInAscendingOrder(t *testing.T) {
	g := room.Grid{room.Hihat: {true, true, true, false}}
	s := mustState(t, roomWith(map[int]room.Grid{3: g, 1: g, 2: g}))
	for _, want := range []int{1, 2, 3} {
		if s.Current.Lock != want {
			t.Fatalf("want lock %d, got %d", want, s.Current.Lock)
		}
		for beat := 0; beat < 3; beat++ {
			_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: beat})
		}
		_, s = apply(t, s, Command{Type: CmdSubmitGuess})
	}
	if !s.Done() || s.Summary().Percentage != 100 {
		t.Fatalf("want done at 100%%, got %+v", s.Summary())
	}
	if r := s.Reset(); r.Done() || len(r.Scores) != 0 || r.Current.Lock != 1 {
		t.Fatalf("reset did not restart play")
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: scenarioTarget()}))
	_, _ = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: 1})
	if s.Current.Working.ActiveNotes() != 0 {
		t.Fatalf("Apply mutated the input state")
	}
}

func TestApply_RejectsDisallowedBeat(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: scenarioTarget()}))
	_, _, err := Apply(s, Command{Type: CmdToggleCell, Instrument: room.Kick, Beat: 1})
	if !errors.Is(err, room.ErrBeatNotAllowed) {
		t.Fatalf("want ErrBeatNotAllowed, got %v", err)
	}
}

func TestApply_RejectsBeatOutsideGrid(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: scenarioTarget()}))
	_, next, err := Apply(s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: room.Beats})
	if !errors.Is(err, room.ErrInvalidGrid) {
		t.Fatalf("want ErrInvalidGrid, got %v", err)
	}
	if next.Current.Working.ActiveNotes() != 0 {
		t.Fatalf("rejected toggle changed the guess")
	}
}

func TestClearGuess_KeepsRevealedRows(t *testing.T) {
	s := mustState(t, roomWith(map[int]room.Grid{1: scenarioTarget()}))
	for i := 0; i < 3; i++ {
		_, s = apply(t, s, Command{Type: CmdSubmitGuess})
	}
	_, s = apply(t, s, Command{Type: CmdToggleCell, Instrument: room.Hihat, Beat: 0})
	_, s = apply(t, s, Command{Type: CmdClearGuess})
	if s.Current.Working[room.Hihat][0] {
		t.Fatalf("clear left a learner cell on")
	}
	if s.Current.Working[room.Kick] != scenarioTarget()[room.Kick] {
		t.Fatalf("clear dropped a revealed row")
	}
}

func TestNewState_EmptyRoom(t *testing.T) {
	if _, err := NewState(roomWith(nil)); !errors.Is(err, ErrNoLocks) {
		t.Fatalf("want ErrNoLocks, got %v", err)
	}
}
