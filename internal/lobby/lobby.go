package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

type Msg interface{ isLobbyMsg() }

type PatchLock struct {
	Lock  int
	Patch room.LockPatch
	Reply chan error
}

func (PatchLock) isLobbyMsg() {}

type PatchActive struct {
	Patch room.ActivePatch
	Reply chan error
}

func (PatchActive) isLobbyMsg() {}

type PatchReady struct {
	Player int
	Reply  chan error
}

func (PatchReady) isLobbyMsg() {}

type ClaimSlot struct {
	ClientID string
	Reply    chan SlotReply
}

func (ClaimSlot) isLobbyMsg() {}

type SlotReply struct {
	Player int
	Err    error
}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this watcher wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Snapshot struct {
	Version int
	Room    room.Room
}

type View struct {
	Version    int
	NumClients int
	Room       room.Room
}

// Saver persists the room after every accepted change. A failed save fails
// the change, so the client keeps the edit queued and retries.
type Saver interface {
	Save(ctx context.Context, r room.Room) error
}

type Lobby struct {
	inbox   chan Msg
	room    room.Room
	clients map[string]chan Snapshot
	saver   Saver
	now     func() time.Time
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Lobby)

func WithSaver(s Saver) Option { return func(l *Lobby) { l.saver = s } }

func WithLogger(log *zap.Logger) Option { return func(l *Lobby) { l.log = log } }

func WithClock(now func() time.Time) Option { return func(l *Lobby) { l.now = now } }

func NewLobby(parent context.Context, initial room.Room, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		room:    initial.Clone(),
		clients: make(map[string]chan Snapshot),
		now:     time.Now,
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("room", initial.Code))

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register watcher + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: l.room.Version, Room: l.room.Clone()}

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}

			case PatchLock:
				msg.Reply <- l.mutate(func(r *room.Room) error {
					return r.PutPattern(msg.Lock, msg.Patch.Grid, msg.Patch.PlayerIndex, l.now())
				})

			case PatchActive:
				msg.Reply <- l.mutate(func(r *room.Room) error {
					return r.SetActiveLock(msg.Patch.PlayerIndex, msg.Patch.LockNumber)
				})

			case PatchReady:
				msg.Reply <- l.mutate(func(r *room.Room) error {
					sealed, err := r.MarkReady(msg.Player)
					if sealed {
						l.log.Info("room ready", zap.Ints("readyPlayers", r.ReadyPlayers))
					}
					return err
				})

			case ClaimSlot:
				var player int
				err := l.mutate(func(r *room.Room) error {
					var err error
					player, err = r.ClaimSlot(msg.ClientID)
					return err
				})
				msg.Reply <- SlotReply{Player: player, Err: err}

			case GetState:
				msg.Reply <- View{
					Version:    l.room.Version,
					NumClients: len(l.clients),
					Room:       l.room.Clone(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// mutate applies fn to a copy of the room and commits it only when fn and the
// save both succeed. Committed changes bump the version and are broadcast.
func (l *Lobby) mutate(fn func(r *room.Room) error) error {
	next := l.room.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Version++
	if l.saver != nil {
		if err := l.saver.Save(l.ctx, next); err != nil {
			l.log.Error("saving room", zap.Error(err))
			return err
		}
	}
	l.room = next
	l.broadcast(Snapshot{Version: l.room.Version, Room: l.room})
	return nil
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell watcher no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		select {
		case ch <- Snapshot{Version: snap.Version, Room: snap.Room.Clone()}:
			//ok
		default:
			// Watcher is slow/full - drop them.
			close(ch)
			delete(l.clients, id)
		}
	}
}

// Expose the inbox so tests or the hub can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }
