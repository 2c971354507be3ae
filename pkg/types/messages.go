package types

import (
	"encoding/json"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// Client -> Server (HTTP bodies)

type CreateRoomRequest struct {
	Mode  string `json:"mode" validate:"required,oneof=solo partner trio"`
	Theme string `json:"theme" validate:"max=64"`
}

type CreateRoomResponse struct {
	Code string `json:"code"`
}

// PlayerIndex fields are pointers so a missing index is told apart from
// player 0.
type LockPatchRequest struct {
	Grid        room.Grid `json:"grid" validate:"required"`
	PlayerIndex *int      `json:"playerIndex" validate:"required,min=0,max=2"`
}

type ActivePatchRequest struct {
	PlayerIndex *int `json:"playerIndex" validate:"required,min=0,max=2"`
	LockNumber  *int `json:"lockNumber" validate:"required,min=0,max=10"`
}

type ReadyRequest struct {
	PlayerIndex *int `json:"playerIndex" validate:"required,min=0,max=2"`
}

type ClaimSlotRequest struct {
	ClientID string `json:"clientId" validate:"required,max=64"`
}

type ClaimSlotResponse struct {
	PlayerIndex int `json:"playerIndex"`
}

// WorkRecord is one learner's saved activity, as shown on their work page.
type WorkRecord struct {
	Title     string          `json:"title" validate:"required,max=200"`
	ViewRoute string          `json:"viewRoute" validate:"required,max=200"`
	Subtitle  string          `json:"subtitle" validate:"max=200"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type ErrorResponse struct {
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
