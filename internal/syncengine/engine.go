// Package syncengine keeps one client's view of a room current against the
// room service. Everything that touches engine state runs on a single loop
// goroutine; remote calls run off-loop and post their results back, so a
// slow or stuck request never blocks local edits.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/pending"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

const DefaultPollInterval = 3000 * time.Millisecond

var ErrStopped = errors.New("sync engine stopped")
var ErrNotStarted = errors.New("sync engine not started")

// TickerFunc returns a tick channel and a stop func. Tests hand the engine a
// channel they drive themselves.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Options struct {
	RoomCode     string
	PlayerIndex  int
	PollInterval time.Duration
	// Offline starts the engine without attempting remote writes until
	// SetOnline(true).
	Offline bool
	// Initial seeds the local view before the first fetch lands.
	Initial room.Room

	Ticker TickerFunc
	Now    func() time.Time
	Logger *zap.Logger

	// OnUpdate runs on the engine loop after every change to the local
	// view. OnComplete runs once, the first time the room is seen ready.
	// Neither may call SaveLock, MarkReady or Flush.
	OnUpdate   func(room.Room)
	OnComplete func(room.Room)
}

type Engine struct {
	svc   room.Service
	queue pending.Queue
	opts  Options
	log   *zap.Logger

	inbox chan msg
	ctx   context.Context
	stop  context.CancelFunc
	done  chan struct{}
	once  sync.Once

	mu        sync.RWMutex
	view      room.Room
	polling   bool
	completed bool

	// loop-owned
	snapshot    room.Room
	online      bool
	tickC       <-chan time.Time
	stopTick    func()
	inFlight    int
	fetchSeq    int
	appliedSeq  int
	flushing    bool
	flushAgain  bool
	flushWait   []chan error
	flushQueued []chan error
	settling    map[int]settlingEdit
}

// settlingEdit is an acknowledged write and the last fetch seq issued before
// the ack.
type settlingEdit struct {
	edit pending.Edit
	seq  int
}

// WriteError is one failed lock write from a flush.
type WriteError struct {
	Edit pending.Edit
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("%s: %v", e.Edit.Key(), e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// RoomFailures keeps the parts of a Flush error that concern code: failed
// writes for that room and failures not tied to any edit. Leftover edits
// from other rooms are dropped from the result.
func RoomFailures(err error, code string) error {
	var kept error
	for _, part := range multierr.Errors(err) {
		var we *WriteError
		if errors.As(part, &we) && we.Edit.RoomCode != code {
			continue
		}
		kept = multierr.Append(kept, part)
	}
	return kept
}

func New(svc room.Service, queue pending.Queue, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Ticker == nil {
		opts.Ticker = RealTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	snap := opts.Initial.Clone()
	if snap.Code == "" {
		snap = room.New(opts.RoomCode, "", "", time.Time{})
	}

	e := &Engine{
		svc:      svc,
		queue:    queue,
		opts:     opts,
		log:      opts.Logger.With(zap.String("room", opts.RoomCode), zap.Int("player", opts.PlayerIndex)),
		inbox:    make(chan msg, 64),
		done:     make(chan struct{}),
		snapshot: snap,
		online:   !opts.Offline,
		settling: map[int]settlingEdit{},
	}
	e.view = snap.Clone()
	return e
}

// Start runs the loop, fetches immediately and begins polling. Pending edits
// left over from a previous run are overlaid on the view and, when online,
// flushed right away. Calling Start again is a no-op.
func (e *Engine) Start(parent context.Context) {
	e.once.Do(func() {
		e.ctx, e.stop = context.WithCancel(parent)
		go e.loop()
	})
}

// Stop halts polling and the loop and waits for the loop to exit. In-flight
// remote calls are cancelled; queued edits stay in the pending queue.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	e.stop()
	<-e.done
}

// SaveLock queues the edit durably and applies it to the local view before
// returning. The remote write happens in the background when online.
func (e *Engine) SaveLock(lock int, grid room.Grid) error {
	reply := make(chan error, 1)
	if err := e.send(saveReq{lock: lock, grid: grid.Clone(), reply: reply}); err != nil {
		return err
	}
	return e.await(reply)
}

// MarkReady adds this player to the ready set and returns once the
// post-write room has been fetched and applied to the local view.
func (e *Engine) MarkReady(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.send(readyReq{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Flush drains the whole pending queue and returns the combined failures,
// one *WriteError per edit. Edits the service rejected for good are dropped
// from the queue; the rest stay queued.
func (e *Engine) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.send(flushReq{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// SetOnline reports a connectivity change. Going from offline to online
// flushes the pending queue without waiting for the next poll.
func (e *Engine) SetOnline(online bool) {
	_ = e.send(connectivity{online: online})
}

// MarkActive publishes a best-effort "editing lock N" hint. Lock 0 clears it.
func (e *Engine) MarkActive(lock int) {
	_ = e.send(activeReq{lock: lock})
}

func (e *Engine) ClearActive() {
	e.MarkActive(0)
}

// Refresh fetches the room now instead of waiting for the next tick.
func (e *Engine) Refresh() {
	_ = e.send(refreshReq{})
}

func (e *Engine) Snapshot() room.Room {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.Clone()
}

func (e *Engine) Polling() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.polling
}

func (e *Engine) Completed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.completed
}

func (e *Engine) send(m msg) error {
	if e.ctx == nil {
		return ErrNotStarted
	}
	select {
	case e.inbox <- m:
		return nil
	case <-e.ctx.Done():
		return ErrStopped
	}
}

func (e *Engine) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}
