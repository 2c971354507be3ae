package types

import "github.com/DoyleJ11/beat-escape-backend/internal/room"

// Server -> Client (websocket)
// RoomSnapshot:
//   version: number
//   room: Room
//
// Error:
//   error: string

const (
	MsgRoomSnapshot = "RoomSnapshot"
	MsgError        = "Error"
)

type ServerMessage struct {
	Type    string     `json:"type"`
	Version int        `json:"version,omitempty"`
	Room    *room.Room `json:"room,omitempty"`
	Error   string     `json:"error,omitempty"`
}
