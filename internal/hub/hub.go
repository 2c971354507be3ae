package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/lobby"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

const DefaultCodeLength = 4

// maxCodeAttempts bounds the collision loop so an almost-full code space
// fails instead of spinning.
const maxCodeAttempts = 32

var ErrClosed = errors.New("hub closed")
var ErrNoFreeCode = errors.New("no free room code")

// Repository is where rooms live between server restarts.
type Repository interface {
	Get(ctx context.Context, code string) (room.Room, error)
	Save(ctx context.Context, r room.Room) error
}

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Mode  room.Mode
	Theme string
	Reply chan LobbyReply
}

type GetLobby struct {
	Code  string
	Reply chan LobbyReply
}

// EnsureLobby registers r unless a lobby for its code is already running.
type EnsureLobby struct {
	Room  room.Room
	Reply chan LobbyReply
}

type RemoveLobby struct {
	Code string
}

type ShutdownHub struct{}

type LobbyReply struct {
	Code  string
	Lobby *lobby.Lobby // nil when the code is unknown
	Err   error
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	repo    Repository
	newCode func() (string, error)
	now     func() time.Time
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Hub)

// WithRepository persists every room change and loads unknown codes on demand.
func WithRepository(r Repository) Option { return func(h *Hub) { h.repo = r } }

func WithLogger(log *zap.Logger) Option { return func(h *Hub) { h.log = log } }

func WithCodeLength(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.newCode = func() (string, error) { return GenerateCode(n) }
		}
	}
}

// WithCodeGenerator replaces random code generation. Used by tests that need
// a known code.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(h *Hub) { h.newCode = gen }
}

func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		newCode: func() (string, error) { return GenerateCode(DefaultCodeLength) },
		now:     time.Now,
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// GenerateCode returns a random code of n characters from A-Z and 0-9.
func GenerateCode(n int) (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.create(msg.Mode, msg.Theme)

			case GetLobby:
				msg.Reply <- h.lookup(msg.Code)

			case EnsureLobby:
				if lb := h.lobbies[msg.Room.Code]; lb != nil {
					msg.Reply <- LobbyReply{Code: msg.Room.Code, Lobby: lb}
					break
				}
				msg.Reply <- LobbyReply{Code: msg.Room.Code, Lobby: h.start(msg.Room)}

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					lb.Inbox() <- lobby.Shutdown{}
					delete(h.lobbies, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(mode room.Mode, theme string) LobbyReply {
	if !mode.Valid() {
		return LobbyReply{Err: room.ErrInvalidMode}
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return LobbyReply{Err: ErrNoFreeCode}
		}
		c, err := h.newCode()
		if err != nil {
			return LobbyReply{Err: err}
		}
		taken, err := h.taken(c)
		if err != nil {
			return LobbyReply{Err: err}
		}
		if !taken {
			code = c
			break
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", c))
	}

	r := room.New(code, mode, theme, h.now())
	if h.repo != nil {
		if err := h.repo.Save(h.ctx, r); err != nil {
			h.log.Error("saving new room", zap.String("room", code), zap.Error(err))
			return LobbyReply{Err: err}
		}
	}
	h.log.Info("room created", zap.String("room", code), zap.String("mode", string(mode)))
	return LobbyReply{Code: code, Lobby: h.start(r)}
}

func (h *Hub) taken(code string) (bool, error) {
	if h.lobbies[code] != nil {
		return true, nil
	}
	if h.repo == nil {
		return false, nil
	}
	_, err := h.repo.Get(h.ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, room.ErrRoomNotFound):
		return false, nil
	default:
		return false, err
	}
}

// lookup returns the running lobby for code, starting one from the
// repository when the room was saved by an earlier server run.
func (h *Hub) lookup(code string) LobbyReply {
	if lb := h.lobbies[code]; lb != nil {
		return LobbyReply{Code: code, Lobby: lb}
	}
	if h.repo == nil {
		return LobbyReply{Code: code}
	}
	r, err := h.repo.Get(h.ctx, code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return LobbyReply{Code: code}
		}
		h.log.Error("loading room", zap.String("room", code), zap.Error(err))
		return LobbyReply{Code: code, Err: err}
	}
	h.log.Info("room resumed", zap.String("room", code), zap.Int("version", r.Version))
	return LobbyReply{Code: code, Lobby: h.start(r)}
}

func (h *Hub) start(r room.Room) *lobby.Lobby {
	opts := []lobby.Option{lobby.WithLogger(h.log), lobby.WithClock(h.now)}
	if h.repo != nil {
		opts = append(opts, lobby.WithSaver(h.repo))
	}
	lb := lobby.NewLobby(h.ctx, r, opts...)
	h.lobbies[r.Code] = lb
	return lb
}

func (h *Hub) shutdown() {
	h.cancel()
	for code, lb := range h.lobbies {
		<-lb.Done()
		delete(h.lobbies, code)
	}
}
