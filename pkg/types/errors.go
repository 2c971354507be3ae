package types

import (
	"errors"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// Error codes carried in ErrorResponse.Code. Both ends of the wire use this
// table so a rejected write surfaces as the same room sentinel on the client.
const (
	CodeRoomNotFound   = "room_not_found"
	CodeNotLockOwner   = "not_lock_owner"
	CodeRoomSealed     = "room_sealed"
	CodeRoomFull       = "room_full"
	CodeInvalidGrid    = "invalid_grid"
	CodeBeatNotAllowed = "beat_not_allowed"
	CodeInvalidMode    = "invalid_mode"
	CodeInvalidPlayer  = "invalid_player"
	CodeInvalidLock    = "invalid_lock"
	CodeWorkNotFound   = "work_not_found"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal"
)

var roomErrors = []struct {
	code string
	err  error
}{
	{CodeRoomNotFound, room.ErrRoomNotFound},
	{CodeNotLockOwner, room.ErrNotLockOwner},
	{CodeRoomSealed, room.ErrRoomSealed},
	{CodeRoomFull, room.ErrRoomFull},
	// beat errors are checked before the broader grid error
	{CodeBeatNotAllowed, room.ErrBeatNotAllowed},
	{CodeInvalidGrid, room.ErrInvalidGrid},
	{CodeInvalidMode, room.ErrInvalidMode},
	{CodeInvalidPlayer, room.ErrInvalidPlayer},
	{CodeInvalidLock, room.ErrInvalidLock},
}

// CodeFor returns the wire code for err, or "" when err is not a room error.
func CodeFor(err error) string {
	for _, e := range roomErrors {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}

// ErrorFor returns the room sentinel for a wire code, or nil.
func ErrorFor(code string) error {
	for _, e := range roomErrors {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
