package room

import (
	"errors"
	"slices"
	"time"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrInvalidMode = errors.New("invalid mode")
var ErrInvalidPlayer = errors.New("invalid player index")
var ErrInvalidLock = errors.New("invalid lock number")
var ErrBeatNotAllowed = errors.New("beat not allowed for instrument")
var ErrInvalidGrid = errors.New("invalid grid")
var ErrNotLockOwner = errors.New("lock is owned by another player")
var ErrRoomSealed = errors.New("room is ready and no longer editable")
var ErrRoomFull = errors.New("room has no free player slots")

type Mode string

const (
	ModeSolo    Mode = "solo"
	ModePartner Mode = "partner"
	ModeTrio    Mode = "trio"
)

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", ErrInvalidMode
	}
	return m, nil
}

func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModePartner, ModeTrio:
		return true
	}
	return false
}

// TotalLocks is the number of locks a room of this mode holds. Lock numbers
// run 1..TotalLocks.
func (m Mode) TotalLocks() int {
	switch m {
	case ModeSolo:
		return 6
	case ModePartner:
		return 10
	case ModeTrio:
		return 9
	}
	return 0
}

// RequiredPlayers is the ready quorum for the mode.
func (m Mode) RequiredPlayers() int {
	switch m {
	case ModeSolo:
		return 1
	case ModePartner:
		return 2
	case ModeTrio:
		return 3
	}
	return 0
}

func (m Mode) ValidPlayer(player int) bool {
	return player >= 0 && player < m.RequiredPlayers()
}

func (m Mode) ValidLock(lock int) bool {
	return lock >= 1 && lock <= m.TotalLocks()
}

type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
)

type Pattern struct {
	Grid        Grid      `json:"grid"`
	CreatedBy   int       `json:"createdBy"`
	CompletedAt time.Time `json:"completedAt"`
}

func (p Pattern) Complete() bool {
	return p.Grid.ActiveNotes() >= MinNotes
}

type Room struct {
	Code         string          `json:"code"`
	Mode         Mode            `json:"mode"`
	Theme        string          `json:"theme"`
	Status       Status          `json:"status"`
	Patterns     map[int]Pattern `json:"patterns"`
	ActiveLocks  map[int]int     `json:"activeLocks"`
	ReadyPlayers []int           `json:"readyPlayers"`
	// Slots maps claimed player index to the claiming client. Index 0 is the
	// creator and is never present here.
	Slots     map[int]string `json:"slots,omitempty"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
}

func New(code string, mode Mode, theme string, now time.Time) Room {
	return Room{
		Code:         code,
		Mode:         mode,
		Theme:        theme,
		Status:       StatusCreating,
		Patterns:     map[int]Pattern{},
		ActiveLocks:  map[int]int{},
		ReadyPlayers: []int{},
		Slots:        map[int]string{},
		CreatedAt:    now,
	}
}

// Clone deep-copies r so snapshots can cross goroutines.
func (r Room) Clone() Room {
	c := r
	c.Patterns = make(map[int]Pattern, len(r.Patterns))
	for lock, p := range r.Patterns {
		p.Grid = p.Grid.Clone()
		c.Patterns[lock] = p
	}
	c.ActiveLocks = make(map[int]int, len(r.ActiveLocks))
	for player, lock := range r.ActiveLocks {
		c.ActiveLocks[player] = lock
	}
	c.ReadyPlayers = slices.Clone(r.ReadyPlayers)
	if c.ReadyPlayers == nil {
		c.ReadyPlayers = []int{}
	}
	c.Slots = make(map[int]string, len(r.Slots))
	for idx, client := range r.Slots {
		c.Slots[idx] = client
	}
	return c
}

func (r Room) IsReady(player int) bool {
	return slices.Contains(r.ReadyPlayers, player)
}

func (r Room) Sealed() bool {
	return r.Status == StatusReady
}

// CompletedLocks returns the ascending lock numbers holding a complete pattern.
func (r Room) CompletedLocks() []int {
	locks := make([]int, 0, len(r.Patterns))
	for lock, p := range r.Patterns {
		if p.Complete() {
			locks = append(locks, lock)
		}
	}
	slices.Sort(locks)
	return locks
}

// OwnedLocksComplete reports whether every lock assigned to player holds a
// complete pattern.
func (r Room) OwnedLocksComplete(player int) bool {
	for _, lock := range AssignLocks(r.Mode, player) {
		p, ok := r.Patterns[lock]
		if !ok || !p.Complete() {
			return false
		}
	}
	return true
}

// AllLocksComplete reports whether every lock of the mode is authored.
func (r Room) AllLocksComplete() bool {
	for lock := 1; lock <= r.Mode.TotalLocks(); lock++ {
		p, ok := r.Patterns[lock]
		if !ok || !p.Complete() {
			return false
		}
	}
	return true
}
