package room

import "slices"

var lockTable = map[Mode][][]int{
	ModeSolo: {
		{1, 2, 3, 4, 5, 6},
	},
	ModePartner: {
		{1, 3, 5, 7, 9},
		{2, 4, 6, 8, 10},
	},
	ModeTrio: {
		{1, 4, 7},
		{2, 5, 8},
		{3, 6, 9},
	},
}

// AssignLocks returns the ascending lock numbers player authors in mode.
// Solo ignores the index. An unknown mode or out-of-range index gets nil.
func AssignLocks(mode Mode, player int) []int {
	rows, ok := lockTable[mode]
	if !ok {
		return nil
	}
	if mode == ModeSolo {
		return slices.Clone(rows[0])
	}
	if player < 0 || player >= len(rows) {
		return nil
	}
	return slices.Clone(rows[player])
}

// LockOwner returns the player index that authors lock in mode.
func LockOwner(mode Mode, lock int) (int, bool) {
	if !mode.ValidLock(lock) {
		return 0, false
	}
	if mode == ModeSolo {
		return 0, true
	}
	return (lock - 1) % mode.RequiredPlayers(), true
}

func OwnsLock(mode Mode, player, lock int) bool {
	owner, ok := LockOwner(mode, lock)
	return ok && owner == player
}

// InferJoinerIndex guesses the index a joining participant should take from
// the createdBy values already present in r. It is not authoritative: two
// near-simultaneous trio joiners can both infer index 1. ClaimSlot is the
// adjudicated alternative.
func InferJoinerIndex(r Room) int {
	switch r.Mode {
	case ModePartner:
		return 1
	case ModeTrio:
		contributed := map[int]bool{}
		for _, p := range r.Patterns {
			contributed[p.CreatedBy] = true
		}
		if !contributed[1] {
			return 1
		}
		return 2
	}
	return 0
}
