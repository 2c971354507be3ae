package room

import "context"

type LockPatch struct {
	Grid        Grid `json:"grid"`
	PlayerIndex int  `json:"playerIndex"`
}

type ActivePatch struct {
	PlayerIndex int `json:"playerIndex"`
	LockNumber  int `json:"lockNumber"`
}

// Service is the remote room store as seen by a client. Implementations
// return ErrRoomNotFound for unknown codes and the other sentinels of this
// package for rejected writes; anything else is a transport failure.
type Service interface {
	CreateRoom(ctx context.Context, mode Mode, theme string) (string, error)
	GetRoom(ctx context.Context, code string) (Room, error)
	PatchLock(ctx context.Context, code string, lock int, patch LockPatch) error
	PatchActiveLock(ctx context.Context, code string, patch ActivePatch) error
	PatchReady(ctx context.Context, code string, player int) error
	ClaimSlot(ctx context.Context, code, clientID string) (int, error)
}
