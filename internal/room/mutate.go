package room

import (
	"slices"
	"time"
)

// PutPattern stores grid as lock's pattern on behalf of player. Ownership and
// the beat rules are enforced here, so a client that skips its own UI checks
// still cannot overwrite another player's lock.
func (r *Room) PutPattern(lock int, grid Grid, player int, now time.Time) error {
	if r.Sealed() {
		return ErrRoomSealed
	}
	if !r.Mode.ValidLock(lock) {
		return ErrInvalidLock
	}
	if !r.Mode.ValidPlayer(player) {
		return ErrInvalidPlayer
	}
	if !OwnsLock(r.Mode, player, lock) {
		return ErrNotLockOwner
	}
	if err := grid.Validate(); err != nil {
		return err
	}
	if r.Patterns == nil {
		r.Patterns = map[int]Pattern{}
	}
	r.Patterns[lock] = Pattern{Grid: grid.Clone(), CreatedBy: player, CompletedAt: now}
	return nil
}

// SetActiveLock records which lock player is editing. Lock 0 clears the hint.
func (r *Room) SetActiveLock(player, lock int) error {
	if !r.Mode.ValidPlayer(player) {
		return ErrInvalidPlayer
	}
	if r.ActiveLocks == nil {
		r.ActiveLocks = map[int]int{}
	}
	if lock == 0 {
		delete(r.ActiveLocks, player)
		return nil
	}
	if !r.Mode.ValidLock(lock) {
		return ErrInvalidLock
	}
	r.ActiveLocks[player] = lock
	return nil
}

// MarkReady adds player to the ready set and seals the room once the quorum
// is reached. It reports whether this call performed the seal. Marking ready
// twice, or after the seal, is a no-op.
func (r *Room) MarkReady(player int) (bool, error) {
	if !r.Mode.ValidPlayer(player) {
		return false, ErrInvalidPlayer
	}
	if r.Sealed() {
		return false, nil
	}
	if !slices.Contains(r.ReadyPlayers, player) {
		r.ReadyPlayers = append(r.ReadyPlayers, player)
		slices.Sort(r.ReadyPlayers)
	}
	if len(r.ReadyPlayers) >= r.Mode.RequiredPlayers() {
		r.Status = StatusReady
		clear(r.ActiveLocks)
		return true, nil
	}
	return false, nil
}

// ClaimSlot hands the lowest free joiner index to clientID. A client that
// already holds a slot gets the same index back.
func (r *Room) ClaimSlot(clientID string) (int, error) {
	if clientID == "" {
		return 0, ErrInvalidPlayer
	}
	if r.Mode == ModeSolo {
		return 0, ErrRoomFull
	}
	for idx, holder := range r.Slots {
		if holder == clientID {
			return idx, nil
		}
	}
	if r.Slots == nil {
		r.Slots = map[int]string{}
	}
	for idx := 1; idx < r.Mode.RequiredPlayers(); idx++ {
		if _, taken := r.Slots[idx]; !taken {
			r.Slots[idx] = clientID
			return idx, nil
		}
	}
	return 0, ErrRoomFull
}

// Overlay writes p over lock without any ownership checks. Clients use it to
// apply their own unacknowledged edits on top of a fetched snapshot.
func (r *Room) Overlay(lock int, p Pattern) {
	if r.Patterns == nil {
		r.Patterns = map[int]Pattern{}
	}
	p.Grid = p.Grid.Clone()
	r.Patterns[lock] = p
}
