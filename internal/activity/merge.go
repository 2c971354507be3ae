package activity

import "github.com/DoyleJ11/beat-escape-backend/internal/room"

// MergeAuthored folds the caller's own patterns into base. Locks another
// player already authored in base are left alone, as are locks the caller
// does not own.
func MergeAuthored(base room.Room, authored map[int]room.Pattern, player int) room.Room {
	out := base.Clone()
	for lock, p := range authored {
		if !room.OwnsLock(out.Mode, player, lock) {
			continue
		}
		if cur, ok := out.Patterns[lock]; ok && cur.CreatedBy != player {
			continue
		}
		p.Grid = p.Grid.Clone()
		out.Patterns[lock] = p
	}
	return out
}
