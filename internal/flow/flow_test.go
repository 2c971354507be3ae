package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

func grid() room.Grid {
	return room.Grid{room.Hihat: {true, true, true, false}}
}

// authored returns a room where the given players have finished their locks
// and marked ready.
func authored(t *testing.T, mode room.Mode, players ...int) *room.Room {
	t.Helper()
	r := room.New("Q7K3", mode, "", time.Now())
	for _, p := range players {
		for _, lock := range room.AssignLocks(mode, p) {
			if err := r.PutPattern(lock, grid(), p, time.Now()); err != nil {
				t.Fatalf("put lock %d: %v", lock, err)
			}
		}
	}
	for _, p := range players {
		if _, err := r.MarkReady(p); err != nil {
			t.Fatalf("ready %d: %v", p, err)
		}
	}
	return &r
}

func run(t *testing.T, m Machine, s State, cmds ...Command) State {
	t.Helper()
	for _, cmd := range cmds {
		var err error
		s, err = m.Apply(s, cmd)
		if err != nil {
			t.Fatalf("%s in %s: %v", cmd.Type, s.Phase, err)
		}
	}
	return s
}

func TestSoloGoesStraightToCreate(t *testing.T) {
	m := NewMachine(DefaultConfig())
	s := run(t, m, Initial(), Command{Type: CmdChooseMode, Mode: room.ModeSolo})

	if s.Phase != PhaseCreate || s.PlayerIndex != CreatorIndex || s.Role != RoleCreator {
		t.Fatalf("solo: got %+v", s)
	}
}

func TestCreatorFlow(t *testing.T) {
	m := NewMachine(DefaultConfig())
	s := run(t, m, Initial(),
		Command{Type: CmdChooseMode, Mode: room.ModePartner},
		Command{Type: CmdGenerateRoom, Code: "Q7K3"},
	)
	if s.Phase != PhaseCodeDisplay || s.RoomCode != "Q7K3" {
		t.Fatalf("after generate: %+v", s)
	}

	s = run(t, m, s, Command{Type: CmdContinue})
	if s.Phase != PhaseCreate || s.PlayerIndex != 0 {
		t.Fatalf("after continue: %+v", s)
	}

	// own locks done and ready, partner not ready yet: stay in create
	s = run(t, m, s, Command{Type: CmdSync, Room: authored(t, room.ModePartner, 0)})
	if s.Phase != PhaseCreate {
		t.Fatalf("no quorum yet: want create, got %s", s.Phase)
	}

	s = run(t, m, s, Command{Type: CmdSync, Room: authored(t, room.ModePartner, 0, 1)})
	if s.Phase != PhaseShare {
		t.Fatalf("after quorum: want share, got %s", s.Phase)
	}

	s = run(t, m, s, Command{Type: CmdStartPlay}, Command{Type: CmdFinishPlay})
	if s.Phase != PhaseResults {
		t.Fatalf("want results, got %s", s.Phase)
	}
	s = run(t, m, s, Command{Type: CmdPlayAgain})
	if s.Phase != PhasePlay || s.RoomCode != "Q7K3" {
		t.Fatalf("play again keeps the room: %+v", s)
	}
}

func TestJoinerFlow(t *testing.T) {
	m := NewMachine(DefaultConfig())
	s := run(t, m, Initial(),
		Command{Type: CmdChooseMode, Mode: room.ModeTrio},
		Command{Type: CmdChooseJoin},
		Command{Type: CmdJoinRoom, Code: "Q7K3", PlayerIndex: 2},
	)
	if s.Phase != PhaseCreate || s.Role != RoleJoiner || s.PlayerIndex != 2 {
		t.Fatalf("joiner: %+v", s)
	}

	if _, err := m.Apply(State{Phase: PhaseJoinPrompt, Mode: room.ModeTrio}, Command{Type: CmdJoinRoom, Code: "Q7K3", PlayerIndex: 0}); !errors.Is(err, room.ErrInvalidPlayer) {
		t.Fatalf("joining as the creator index: want ErrInvalidPlayer, got %v", err)
	}
}

func TestSoloCreateEndsWhenEveryLockIsComplete(t *testing.T) {
	m := NewMachine(DefaultConfig())
	s := run(t, m, Initial(), Command{Type: CmdChooseMode, Mode: room.ModeSolo})

	partial := room.New("", room.ModeSolo, "", time.Now())
	_ = partial.PutPattern(1, grid(), 0, time.Now())
	s = run(t, m, s, Command{Type: CmdSync, Room: &partial})
	if s.Phase != PhaseCreate {
		t.Fatalf("one lock of six: want create, got %s", s.Phase)
	}

	s = run(t, m, s, Command{Type: CmdSync, Room: authored(t, room.ModeSolo, 0)})
	if s.Phase != PhaseShare || s.RoomCode != "Q7K3" {
		t.Fatalf("solo complete: %+v", s)
	}
}

func TestBack(t *testing.T) {
	tests := []struct {
		name string
		in   State
		want Phase
	}{
		{"role select", State{Phase: PhaseRoleSelect, Mode: room.ModePartner}, PhaseSetup},
		{"code display", State{Phase: PhaseCodeDisplay, Mode: room.ModePartner, RoomCode: "Q7K3"}, PhaseRoleSelect},
		{"join prompt", State{Phase: PhaseJoinPrompt, Mode: room.ModeTrio}, PhaseRoleSelect},
		{"create solo", State{Phase: PhaseCreate, Mode: room.ModeSolo, Role: RoleCreator}, PhaseSetup},
		{"create partner creator", State{Phase: PhaseCreate, Mode: room.ModePartner, Role: RoleCreator}, PhaseRoleSelect},
		{"create trio joiner", State{Phase: PhaseCreate, Mode: room.ModeTrio, Role: RoleJoiner, PlayerIndex: 2}, PhaseRoleSelect},
		{"play owner", State{Phase: PhasePlay, Mode: room.ModePartner, Role: RoleCreator, PlayerIndex: 0, RoomCode: "Q7K3"}, PhaseShare},
		{"play joiner", State{Phase: PhasePlay, Mode: room.ModePartner, Role: RoleJoiner, PlayerIndex: 1, RoomCode: "Q7K3"}, PhaseSetup},
		{"play solver", State{Phase: PhasePlay, Mode: room.ModePartner, Role: RoleSolver, PlayerIndex: NoPlayer, RoomCode: "Q7K3"}, PhaseSetup},
		{"share", State{Phase: PhaseShare, RoomCode: "Q7K3"}, PhaseSetup},
		{"results", State{Phase: PhaseResults, RoomCode: "Q7K3"}, PhaseSetup},
	}

	m := NewMachine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Apply(tt.in, Command{Type: CmdBack})
			if err != nil {
				t.Fatalf("back: %v", err)
			}
			if got.Phase != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got.Phase)
			}
		})
	}
}

func TestBackFromSetupIsRejected(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if _, err := m.Apply(Initial(), Command{Type: CmdBack}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestModeFlags(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		mode room.Mode
		want error
	}{
		{"solo off", Config{ClassroomEnabled: true}, room.ModeSolo, ErrModeDisabled},
		{"classroom off partner", Config{SoloEnabled: true}, room.ModePartner, ErrModeDisabled},
		{"classroom off trio", Config{SoloEnabled: true}, room.ModeTrio, ErrModeDisabled},
		{"unknown mode", DefaultConfig(), room.Mode("quartet"), room.ErrInvalidMode},
		{"solo on", Config{SoloEnabled: true}, room.ModeSolo, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMachine(tt.cfg).Apply(Initial(), Command{Type: CmdChooseMode, Mode: tt.mode})
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestJoinToPlayNeedsReadyRoom(t *testing.T) {
	m := NewMachine(DefaultConfig())

	open := room.New("Q7K3", room.ModePartner, "", time.Now())
	if _, err := m.Apply(Initial(), Command{Type: CmdJoinToPlay, Room: &open}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("creating room: want ErrInvalidTransition, got %v", err)
	}

	s := run(t, m, Initial(), Command{Type: CmdJoinToPlay, Room: authored(t, room.ModePartner, 0, 1)})
	if s.Phase != PhasePlay || s.Role != RoleSolver || s.Owner() {
		t.Fatalf("join to play: %+v", s)
	}
}

func TestResume(t *testing.T) {
	m := NewMachine(DefaultConfig())
	inProgress := authored(t, room.ModePartner, 0)
	sealed := authored(t, room.ModePartner, 0, 1)

	tests := []struct {
		name   string
		room   *room.Room
		player int
		phase  Phase
		role   Role
	}{
		{"creator mid authoring", inProgress, 0, PhaseCreate, RoleCreator},
		{"joiner mid authoring", inProgress, 1, PhaseCreate, RoleJoiner},
		{"creator after ready", sealed, 0, PhaseShare, RoleCreator},
		{"outsider after ready", sealed, NoPlayer, PhasePlay, RoleSolver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := run(t, m, Initial(), Command{Type: CmdResume, Room: tt.room, PlayerIndex: tt.player})
			if s.Phase != tt.phase || s.Role != tt.role {
				t.Fatalf("want %s/%s, got %+v", tt.phase, tt.role, s)
			}
		})
	}

	if _, err := m.Apply(Initial(), Command{Type: CmdResume, Room: inProgress, PlayerIndex: 5}); !errors.Is(err, room.ErrInvalidPlayer) {
		t.Fatalf("outsider mid authoring: want ErrInvalidPlayer, got %v", err)
	}
}

func TestUnexpectedCommands(t *testing.T) {
	m := NewMachine(DefaultConfig())
	tests := []struct {
		name string
		in   State
		cmd  Command
		want error
	}{
		{"start play in setup", Initial(), Command{Type: CmdStartPlay}, ErrInvalidTransition},
		{"finish in share", State{Phase: PhaseShare}, Command{Type: CmdFinishPlay}, ErrInvalidTransition},
		{"generate without code", State{Phase: PhaseRoleSelect, Mode: room.ModePartner}, Command{Type: CmdGenerateRoom}, ErrInvalidTransition},
		{"gibberish", Initial(), Command{Type: "Dance"}, ErrUnsupportedCommand},
		{"after exit", State{Phase: PhaseExited}, Command{Type: CmdChooseMode, Mode: room.ModeSolo}, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Apply(tt.in, tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			if got.Phase != tt.in.Phase {
				t.Fatalf("rejected command changed phase to %s", got.Phase)
			}
		})
	}
}

func TestExitFromAnywhere(t *testing.T) {
	m := NewMachine(DefaultConfig())
	for _, p := range []Phase{PhaseSetup, PhaseCreate, PhasePlay, PhaseResults} {
		s, err := m.Apply(State{Phase: p}, Command{Type: CmdExit})
		if err != nil || s.Phase != PhaseExited {
			t.Fatalf("exit from %s: %+v %v", p, s, err)
		}
	}
}
