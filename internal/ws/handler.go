// Package ws streams room snapshots to read-only watchers such as a
// classroom projector. Participants still sync by polling.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/lobby"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

const writeTimeout = 3 * time.Second

type LobbyFinder interface {
	Lobby(ctx context.Context, code string) (*lobby.Lobby, error)
}

type Options struct {
	Logger         *zap.Logger
	OriginPatterns []string
}

func Handler(rooms LobbyFinder, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		lb, err := rooms.Lobby(r.Context(), code)
		if err != nil {
			if errors.Is(err, room.ErrRoomNotFound) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()
		log := log.With(zap.String("room", code), zap.String("client", clientID))

		select {
		case lb.Inbox() <- lobby.Join{ClientID: clientID, Outbox: out}:
		case <-lb.Done():
			return
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: clientID}:
			case <-lb.Done():
			}
		}()
		log.Debug("watcher joined")

		// Watchers never send; CloseRead drains control frames and cancels
		// ctx once the peer goes away.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				log.Debug("watcher left")
				return
			case snap, ok := <-out:
				if !ok {
					// dropped as a slow watcher, or the room shut down
					conn.Close(websocket.StatusTryAgainLater, "snapshot stream ended")
					return
				}
				rm := snap.Room
				payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgRoomSnapshot, Version: snap.Version, Room: &rm})
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
		}
	}
}
