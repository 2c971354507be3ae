package flow

import (
	"errors"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

var ErrInvalidTransition = errors.New("command not allowed in this phase")
var ErrModeDisabled = errors.New("mode disabled")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseRoleSelect  Phase = "roleSelect"
	PhaseCodeDisplay Phase = "codeDisplay"
	PhaseJoinPrompt  Phase = "joinPrompt"
	PhaseCreate      Phase = "create"
	PhaseShare       Phase = "share"
	PhasePlay        Phase = "play"
	PhaseResults     Phase = "results"
	PhaseExited      Phase = "exited"
)

type Role string

const (
	RoleNone    Role = ""
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
	// RoleSolver joined a finished room only to play it.
	RoleSolver Role = "solver"
)

// CreatorIndex is the player index of whoever registered the room.
const CreatorIndex = 0

// NoPlayer is the player index of a solver, who authors nothing.
const NoPlayer = -1

type CommandType string

const (
	CmdChooseMode   CommandType = "ChooseMode"
	CmdGenerateRoom CommandType = "GenerateRoom"
	CmdChooseJoin   CommandType = "ChooseJoin"
	CmdJoinRoom     CommandType = "JoinRoom"
	CmdContinue     CommandType = "Continue"
	CmdSync         CommandType = "Sync"
	CmdStartPlay    CommandType = "StartPlay"
	CmdJoinToPlay   CommandType = "JoinToPlay"
	CmdResume       CommandType = "Resume"
	CmdFinishPlay   CommandType = "FinishPlay"
	CmdPlayAgain    CommandType = "PlayAgain"
	CmdCreateNew    CommandType = "CreateNew"
	CmdBack         CommandType = "Back"
	CmdExit         CommandType = "Exit"
)

/*
	Setup        --ChooseMode(solo)--------> Create
	Setup        --ChooseMode(partner|trio)-> RoleSelect
	Setup        --JoinToPlay--------------> Play
	Setup        --Resume------------------> Create | Share | Play
	RoleSelect   --GenerateRoom------------> CodeDisplay
	RoleSelect   --ChooseJoin--------------> JoinPrompt
	CodeDisplay  --Continue----------------> Create
	JoinPrompt   --JoinRoom----------------> Create
	Create       --Sync(room done)---------> Share
	Share        --StartPlay---------------> Play
	Play         --FinishPlay--------------> Results
	Results      --PlayAgain---------------> Play
	Results      --CreateNew---------------> Setup
	any          --Exit--------------------> Exited
*/

type Command struct {
	Type        CommandType
	Mode        room.Mode
	Code        string
	PlayerIndex int
	// Room is the latest room view for Sync, Resume and JoinToPlay.
	Room *room.Room
}

type State struct {
	Phase       Phase
	Mode        room.Mode
	Role        Role
	RoomCode    string
	PlayerIndex int
}

// Owner reports whether the caller registered the room and so has a share
// screen to return to.
func (s State) Owner() bool {
	return s.Role != RoleSolver && s.PlayerIndex == CreatorIndex
}

type Config struct {
	SoloEnabled      bool
	ClassroomEnabled bool
}

func DefaultConfig() Config {
	return Config{SoloEnabled: true, ClassroomEnabled: true}
}

type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) Machine { return Machine{cfg: cfg} }

func Initial() State {
	return State{Phase: PhaseSetup, PlayerIndex: NoPlayer}
}

func (m Machine) Apply(s State, cmd Command) (State, error) {
	if cmd.Type == CmdExit {
		return State{Phase: PhaseExited, PlayerIndex: NoPlayer}, nil
	}
	if s.Phase == PhaseExited {
		return s, ErrInvalidTransition
	}
	if cmd.Type == CmdBack {
		return back(s)
	}

	switch s.Phase {
	case PhaseSetup:
		return m.setup(s, cmd)
	case PhaseRoleSelect:
		return roleSelect(s, cmd)
	case PhaseCodeDisplay:
		if cmd.Type != CmdContinue {
			return s, unexpected(cmd)
		}
		s.Phase = PhaseCreate
		return s, nil
	case PhaseJoinPrompt:
		if cmd.Type != CmdJoinRoom {
			return s, unexpected(cmd)
		}
		if cmd.Code == "" || !s.Mode.ValidPlayer(cmd.PlayerIndex) || cmd.PlayerIndex == CreatorIndex {
			return s, room.ErrInvalidPlayer
		}
		s.Phase = PhaseCreate
		s.Role = RoleJoiner
		s.RoomCode = cmd.Code
		s.PlayerIndex = cmd.PlayerIndex
		return s, nil
	case PhaseCreate:
		return create(s, cmd)
	case PhaseShare:
		if cmd.Type != CmdStartPlay {
			return s, unexpected(cmd)
		}
		s.Phase = PhasePlay
		return s, nil
	case PhasePlay:
		if cmd.Type != CmdFinishPlay {
			return s, unexpected(cmd)
		}
		s.Phase = PhaseResults
		return s, nil
	case PhaseResults:
		switch cmd.Type {
		case CmdPlayAgain:
			s.Phase = PhasePlay
			return s, nil
		case CmdCreateNew:
			return Initial(), nil
		}
		return s, unexpected(cmd)
	}
	return s, ErrInvalidTransition
}

func (m Machine) setup(s State, cmd Command) (State, error) {
	switch cmd.Type {
	case CmdChooseMode:
		if err := m.allowed(cmd.Mode); err != nil {
			return s, err
		}
		s.Mode = cmd.Mode
		if cmd.Mode == room.ModeSolo {
			// solo authors locally; the room is registered once authoring ends
			s.Phase = PhaseCreate
			s.Role = RoleCreator
			s.PlayerIndex = CreatorIndex
			return s, nil
		}
		s.Phase = PhaseRoleSelect
		return s, nil

	case CmdJoinToPlay:
		if cmd.Room == nil || !cmd.Room.Sealed() {
			return s, ErrInvalidTransition
		}
		return State{Phase: PhasePlay, Mode: cmd.Room.Mode, Role: RoleSolver, RoomCode: cmd.Room.Code, PlayerIndex: NoPlayer}, nil

	case CmdResume:
		if cmd.Room == nil {
			return s, ErrInvalidTransition
		}
		r := cmd.Room
		next := State{Mode: r.Mode, RoomCode: r.Code, PlayerIndex: cmd.PlayerIndex, Role: RoleJoiner}
		if cmd.PlayerIndex == CreatorIndex {
			next.Role = RoleCreator
		}
		switch {
		case !r.Mode.ValidPlayer(cmd.PlayerIndex):
			next.Role, next.PlayerIndex = RoleSolver, NoPlayer
			if !r.Sealed() {
				return s, room.ErrInvalidPlayer
			}
			next.Phase = PhasePlay
		case !r.Sealed():
			next.Phase = PhaseCreate
		default:
			next.Phase = PhaseShare
		}
		return next, nil
	}
	return s, unexpected(cmd)
}

func roleSelect(s State, cmd Command) (State, error) {
	switch cmd.Type {
	case CmdGenerateRoom:
		if cmd.Code == "" {
			return s, ErrInvalidTransition
		}
		s.Phase = PhaseCodeDisplay
		s.Role = RoleCreator
		s.RoomCode = cmd.Code
		s.PlayerIndex = CreatorIndex
		return s, nil
	case CmdChooseJoin:
		s.Phase = PhaseJoinPrompt
		return s, nil
	}
	return s, unexpected(cmd)
}

// create leaves authoring once the synced room shows the work is done: in
// solo every lock is complete; otherwise the caller's locks are complete,
// the caller is ready and the room has sealed on quorum.
func create(s State, cmd Command) (State, error) {
	if cmd.Type != CmdSync {
		return s, unexpected(cmd)
	}
	if cmd.Room == nil {
		return s, ErrInvalidTransition
	}
	r := *cmd.Room
	if s.RoomCode == "" {
		s.RoomCode = r.Code
	}

	done := false
	if s.Mode == room.ModeSolo {
		done = r.AllLocksComplete()
	} else {
		done = r.Sealed() && r.IsReady(s.PlayerIndex) && r.OwnedLocksComplete(s.PlayerIndex)
	}
	if done {
		s.Phase = PhaseShare
	}
	return s, nil
}

func back(s State) (State, error) {
	switch s.Phase {
	case PhaseRoleSelect:
		return Initial(), nil
	case PhaseCodeDisplay, PhaseJoinPrompt:
		return State{Phase: PhaseRoleSelect, Mode: s.Mode, PlayerIndex: NoPlayer}, nil
	case PhaseCreate:
		if s.Mode == room.ModeSolo {
			return Initial(), nil
		}
		return State{Phase: PhaseRoleSelect, Mode: s.Mode, PlayerIndex: NoPlayer}, nil
	case PhasePlay:
		if s.Owner() {
			s.Phase = PhaseShare
			return s, nil
		}
		return Initial(), nil
	case PhaseShare, PhaseResults:
		return Initial(), nil
	}
	return s, ErrInvalidTransition
}

func (m Machine) allowed(mode room.Mode) error {
	if !mode.Valid() {
		return room.ErrInvalidMode
	}
	if mode == room.ModeSolo && !m.cfg.SoloEnabled {
		return ErrModeDisabled
	}
	if mode != room.ModeSolo && !m.cfg.ClassroomEnabled {
		return ErrModeDisabled
	}
	return nil
}

func unexpected(cmd Command) error {
	switch cmd.Type {
	case CmdChooseMode, CmdGenerateRoom, CmdChooseJoin, CmdJoinRoom, CmdContinue, CmdSync,
		CmdStartPlay, CmdJoinToPlay, CmdResume, CmdFinishPlay, CmdPlayAgain, CmdCreateNew:
		return ErrInvalidTransition
	}
	return ErrUnsupportedCommand
}
