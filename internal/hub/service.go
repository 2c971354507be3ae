package hub

import (
	"context"
	"strings"

	"github.com/DoyleJ11/beat-escape-backend/internal/lobby"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// Service serves room.Service from the hub's in-process lobbies. The HTTP
// layer sits on top of it, and tests use it directly as the remote store.
type Service struct {
	hub *Hub
}

var _ room.Service = (*Service)(nil)

func NewService(h *Hub) *Service { return &Service{hub: h} }

// NormalizeCode upper-cases and trims a human-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) CreateRoom(ctx context.Context, mode room.Mode, theme string) (string, error) {
	reply := make(chan LobbyReply, 1)
	if err := s.sendHub(ctx, CreateLobby{Mode: mode, Theme: theme, Reply: reply}); err != nil {
		return "", err
	}
	res, err := await(ctx, s.hub.done, reply)
	if err != nil {
		return "", err
	}
	return res.Code, res.Err
}

// Lobby returns the running lobby for code, loading it if needed.
func (s *Service) Lobby(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan LobbyReply, 1)
	if err := s.sendHub(ctx, GetLobby{Code: NormalizeCode(code), Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, s.hub.done, reply)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Lobby == nil {
		return nil, room.ErrRoomNotFound
	}
	return res.Lobby, nil
}

func (s *Service) GetRoom(ctx context.Context, code string) (room.Room, error) {
	reply := make(chan lobby.View, 1)
	if err := s.sendLobby(ctx, code, lobby.GetState{Reply: reply}); err != nil {
		return room.Room{}, err
	}
	view, err := await(ctx, s.hub.done, reply)
	if err != nil {
		return room.Room{}, err
	}
	return view.Room, nil
}

func (s *Service) PatchLock(ctx context.Context, code string, lock int, patch room.LockPatch) error {
	reply := make(chan error, 1)
	return s.call(ctx, code, lobby.PatchLock{Lock: lock, Patch: patch, Reply: reply}, reply)
}

func (s *Service) PatchActiveLock(ctx context.Context, code string, patch room.ActivePatch) error {
	reply := make(chan error, 1)
	return s.call(ctx, code, lobby.PatchActive{Patch: patch, Reply: reply}, reply)
}

func (s *Service) PatchReady(ctx context.Context, code string, player int) error {
	reply := make(chan error, 1)
	return s.call(ctx, code, lobby.PatchReady{Player: player, Reply: reply}, reply)
}

func (s *Service) ClaimSlot(ctx context.Context, code, clientID string) (int, error) {
	reply := make(chan lobby.SlotReply, 1)
	if err := s.sendLobby(ctx, code, lobby.ClaimSlot{ClientID: clientID, Reply: reply}); err != nil {
		return 0, err
	}
	res, err := await(ctx, s.hub.done, reply)
	if err != nil {
		return 0, err
	}
	return res.Player, res.Err
}

func (s *Service) call(ctx context.Context, code string, msg lobby.Msg, reply chan error) error {
	if err := s.sendLobby(ctx, code, msg); err != nil {
		return err
	}
	err, waitErr := await(ctx, s.hub.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (s *Service) sendHub(ctx context.Context, msg HubMsg) error {
	select {
	case s.hub.inbox <- msg:
		return nil
	case <-s.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) sendLobby(ctx context.Context, code string, msg lobby.Msg) error {
	lb, err := s.Lobby(ctx, code)
	if err != nil {
		return err
	}
	select {
	case lb.Inbox() <- msg:
		return nil
	case <-lb.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a reply unless the caller gives up or the hub stops.
func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
