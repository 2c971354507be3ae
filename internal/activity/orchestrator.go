// Package activity runs one learner's Beat Escape Room session end to end:
// the creation flow, the sync engine for shared rooms, the solve engine and
// the learner's work record.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/flow"
	"github.com/DoyleJ11/beat-escape-backend/internal/pending"
	"github.com/DoyleJ11/beat-escape-backend/internal/puzzle"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/internal/syncengine"
)

var ErrPatternIncomplete = errors.New("pattern needs more active notes")
var ErrLocksIncomplete = errors.New("assigned locks are not all complete")
var ErrModeMismatch = errors.New("room was created for a different mode")
var ErrNotPlaying = errors.New("no solve session in progress")

type SlotStrategy string

const (
	// SlotClaim asks the room service for a slot, which it adjudicates.
	SlotClaim SlotStrategy = "claim"
	// SlotInfer guesses the slot from existing patterns. Two trio joiners
	// arriving together can pick the same index.
	SlotInfer SlotStrategy = "infer"
)

const DefaultActivityIDPrefix = "beat-escape"

type Config struct {
	SoloEnabled      bool
	ClassroomEnabled bool
	SlotStrategy     SlotStrategy
	PollInterval     time.Duration
	Theme            string
	ActivityIDPrefix string
	// ClientID identifies this device when claiming a slot.
	ClientID string
}

func DefaultConfig() Config {
	return Config{
		SoloEnabled:      true,
		ClassroomEnabled: true,
		SlotStrategy:     SlotClaim,
		PollInterval:     syncengine.DefaultPollInterval,
		ActivityIDPrefix: DefaultActivityIDPrefix,
	}
}

type Option func(*Orchestrator)

func WithWorkSaver(w WorkSaver) Option { return func(o *Orchestrator) { o.work = w } }

func WithQueue(q pending.Queue) Option { return func(o *Orchestrator) { o.queue = q } }

func WithLogger(log *zap.Logger) Option { return func(o *Orchestrator) { o.log = log } }

func WithTicker(t syncengine.TickerFunc) Option { return func(o *Orchestrator) { o.ticker = t } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithOnComplete registers a hook that runs once per room, the first time it
// is seen ready, with the caller's own patterns merged in. For shared rooms it
// runs on the sync loop and must not call the orchestrator's write methods.
func WithOnComplete(fn func(room.Room)) Option { return func(o *Orchestrator) { o.onComplete = fn } }

type Orchestrator struct {
	svc        room.Service
	queue      pending.Queue
	work       WorkSaver
	cfg        Config
	log        *zap.Logger
	ticker     syncengine.TickerFunc
	now        func() time.Time
	onComplete func(room.Room)
	machine    flow.Machine

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       flow.State
	room        room.Room
	engine      *syncengine.Engine
	online      bool
	authored    map[int]room.Pattern
	play        puzzle.State
	playing     bool
	triggers    map[string]bool
	completions int

	// solo rooms are registered in the background once authored
	soloCode    string
	soloPending bool
	soloGen     int
	registering bool
}

func New(parent context.Context, svc room.Service, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.SlotStrategy == "" {
		cfg.SlotStrategy = def.SlotStrategy
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ActivityIDPrefix == "" {
		cfg.ActivityIDPrefix = def.ActivityIDPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(parent)
	o := &Orchestrator{
		svc:      svc,
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
		machine:  flow.NewMachine(flow.Config{SoloEnabled: cfg.SoloEnabled, ClassroomEnabled: cfg.ClassroomEnabled}),
		ctx:      ctx,
		cancel:   cancel,
		state:    flow.Initial(),
		online:   true,
		authored: map[int]room.Pattern{},
		triggers: map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queue == nil {
		o.queue = pending.NewStore(pending.NewMemBackend())
	}
	return o
}

func (o *Orchestrator) State() flow.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Room is the latest known room, including local edits not yet confirmed.
func (o *Orchestrator) Room() room.Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.room.Clone()
}

// Play is the current solve session. ErrNotPlaying outside Play and Results.
func (o *Orchestrator) Play() (puzzle.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.playing {
		return puzzle.State{}, ErrNotPlaying
	}
	return o.play, nil
}

// Completions counts how many times a room was seen complete this session.
func (o *Orchestrator) Completions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completions
}

func (o *Orchestrator) ChooseMode(mode room.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdChooseMode, Mode: mode})
	if err != nil {
		return err
	}
	o.state = next
	o.authored = map[int]room.Pattern{}
	o.room = room.New("", mode, o.cfg.Theme, o.now())
	if mode == room.ModeSolo {
		o.forgetSoloLocked()
	}
	return nil
}

// GenerateRoom registers a new shared room and shows its code.
func (o *Orchestrator) GenerateRoom(ctx context.Context) (string, error) {
	o.mu.Lock()
	s := o.state
	o.mu.Unlock()
	if s.Phase != flow.PhaseRoleSelect {
		return "", flow.ErrInvalidTransition
	}

	code, err := o.svc.CreateRoom(ctx, s.Mode, o.cfg.Theme)
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdGenerateRoom, Code: code})
	if err != nil {
		return "", err
	}
	o.state = next
	o.room = room.New(code, s.Mode, o.cfg.Theme, o.now())
	o.log.Info("room created", zap.String("room", code), zap.String("mode", string(s.Mode)))
	return code, nil
}

// Continue moves the creator from the code display into authoring.
func (o *Orchestrator) Continue() error {
	o.mu.Lock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdContinue})
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = next
	eng := o.attachEngine()
	o.mu.Unlock()

	eng.Start(o.ctx)
	return nil
}

func (o *Orchestrator) ChooseJoin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdChooseJoin})
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// JoinRoom takes a joiner slot in an existing room and starts authoring.
func (o *Orchestrator) JoinRoom(ctx context.Context, code string) (int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	o.mu.Lock()
	s := o.state
	o.mu.Unlock()
	if s.Phase != flow.PhaseJoinPrompt {
		return flow.NoPlayer, flow.ErrInvalidTransition
	}

	r, err := o.svc.GetRoom(ctx, code)
	if err != nil {
		return flow.NoPlayer, err
	}
	if r.Mode != s.Mode {
		return flow.NoPlayer, fmt.Errorf("%w: room %s is %s", ErrModeMismatch, code, r.Mode)
	}
	if r.Sealed() {
		return flow.NoPlayer, room.ErrRoomSealed
	}

	player := room.InferJoinerIndex(r)
	if o.cfg.SlotStrategy == SlotClaim {
		if player, err = o.svc.ClaimSlot(ctx, code, o.cfg.ClientID); err != nil {
			return flow.NoPlayer, err
		}
	}

	o.mu.Lock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdJoinRoom, Code: code, PlayerIndex: player})
	if err != nil {
		o.mu.Unlock()
		return flow.NoPlayer, err
	}
	o.state = next
	o.room = r
	eng := o.attachEngine()
	o.mu.Unlock()

	o.log.Info("joined room", zap.String("room", code), zap.Int("player", player))
	eng.Start(o.ctx)
	return player, nil
}

// JoinToPlay opens a finished room for solving only.
func (o *Orchestrator) JoinToPlay(ctx context.Context, code string) error {
	r, err := o.svc.GetRoom(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdJoinToPlay, Room: &r})
	if err != nil {
		return err
	}
	if err := o.startPlay(r); err != nil {
		return err
	}
	o.state = next
	o.room = r
	return nil
}

// Resume picks a room back up after a restart, landing in authoring, the
// share screen or play depending on the room and the caller's index.
func (o *Orchestrator) Resume(ctx context.Context, code string, player int) error {
	r, err := o.svc.GetRoom(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}

	o.mu.Lock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdResume, Room: &r, PlayerIndex: player})
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if next.Phase == flow.PhasePlay {
		if err := o.startPlay(r); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.state = next
	o.room = r
	o.authored = map[int]room.Pattern{}
	var eng *syncengine.Engine
	if next.Phase == flow.PhaseCreate {
		eng = o.attachEngine()
	}
	o.mu.Unlock()

	if eng != nil {
		eng.Start(o.ctx)
	}
	return nil
}

// SaveLock validates and stores one authored lock. Invalid patterns are
// refused before anything is sent. In solo mode the room lives locally; the
// last lock moves straight to Share and the room is registered with the
// service in the background.
func (o *Orchestrator) SaveLock(ctx context.Context, lock int, grid room.Grid) error {
	o.mu.Lock()
	s := o.state
	if s.Phase != flow.PhaseCreate {
		o.mu.Unlock()
		return flow.ErrInvalidTransition
	}
	if err := validateLock(s, lock, grid); err != nil {
		o.mu.Unlock()
		return err
	}
	now := o.now()
	o.authored[lock] = room.Pattern{Grid: grid.Clone(), CreatedBy: s.PlayerIndex, CompletedAt: now}

	if s.Mode == room.ModeSolo {
		o.room.Overlay(lock, room.Pattern{Grid: grid, CreatedBy: s.PlayerIndex, CompletedAt: now})
		if !o.room.AllLocksComplete() {
			o.mu.Unlock()
			return nil
		}
		o.syncLocked(o.room)
		o.soloPending = true
		o.completions++
		hook, done, online := o.onComplete, o.room.Clone(), o.online
		o.mu.Unlock()

		if online {
			o.registerSoloAsync()
		}
		if hook != nil {
			hook(done)
		}
		return nil
	}

	eng := o.engine
	o.mu.Unlock()
	if eng == nil {
		return flow.ErrInvalidTransition
	}
	return eng.SaveLock(lock, grid)
}

func validateLock(s flow.State, lock int, grid room.Grid) error {
	if !s.Mode.ValidLock(lock) {
		return room.ErrInvalidLock
	}
	if !room.OwnsLock(s.Mode, s.PlayerIndex, lock) {
		return room.ErrNotLockOwner
	}
	if err := grid.Validate(); err != nil {
		return err
	}
	if !puzzle.ValidatePattern(grid, room.MinNotes) {
		return fmt.Errorf("%w: %d of %d", ErrPatternIncomplete, puzzle.CountActiveNotes(grid), room.MinNotes)
	}
	return nil
}

// FinishSolo registers a fully authored solo room: create, write every lock,
// mark ready. A retry after a partial failure reuses the same room code. The
// learner is already on the share screen; this only gives the room a code
// others can play.
func (o *Orchestrator) FinishSolo(ctx context.Context) error {
	o.mu.Lock()
	if !o.soloPending || o.registering {
		o.mu.Unlock()
		return flow.ErrInvalidTransition
	}
	o.registering = true
	gen := o.soloGen
	local := o.room.Clone()
	code := o.soloCode
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.soloGen == gen {
			o.registering = false
		}
		o.mu.Unlock()
	}()

	if code == "" {
		var err error
		if code, err = o.svc.CreateRoom(ctx, room.ModeSolo, o.cfg.Theme); err != nil {
			return fmt.Errorf("registering solo room: %w", err)
		}
		o.mu.Lock()
		if o.soloGen == gen {
			o.soloCode = code
		}
		o.mu.Unlock()
	}

	for _, lock := range local.CompletedLocks() {
		patch := room.LockPatch{Grid: local.Patterns[lock].Grid, PlayerIndex: flow.CreatorIndex}
		if err := o.svc.PatchLock(ctx, code, lock, patch); err != nil && !errors.Is(err, room.ErrRoomSealed) {
			return fmt.Errorf("registering solo room %s lock %d: %w", code, lock, err)
		}
	}
	if err := o.svc.PatchReady(ctx, code, flow.CreatorIndex); err != nil {
		return fmt.Errorf("registering solo room %s: %w", code, err)
	}
	remote, err := o.svc.GetRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("registering solo room %s: %w", code, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.soloGen != gen {
		return nil
	}
	o.soloPending = false
	if o.state.RoomCode == "" {
		o.state.RoomCode = code
	}
	o.room = MergeAuthored(remote, o.authored, flow.CreatorIndex)
	o.log.Info("solo room registered", zap.String("room", code))
	o.saveWorkAsync("share")
	return nil
}

func (o *Orchestrator) registerSoloAsync() {
	go func() {
		err := o.FinishSolo(o.ctx)
		if err != nil && !errors.Is(err, flow.ErrInvalidTransition) {
			o.log.Warn("solo room not registered, will retry on reconnect", zap.Error(err))
		}
	}()
}

// forgetSoloLocked abandons any registration in progress for the previous
// solo room.
func (o *Orchestrator) forgetSoloLocked() {
	o.soloGen++
	o.soloCode = ""
	o.soloPending = false
	o.registering = false
}

// FocusLock publishes that the caller is editing lock. Best effort.
func (o *Orchestrator) FocusLock(lock int) {
	if eng := o.currentEngine(); eng != nil {
		eng.MarkActive(lock)
	}
}

func (o *Orchestrator) BlurLock() {
	if eng := o.currentEngine(); eng != nil {
		eng.ClearActive()
	}
}

// MarkReady flushes the caller's queued edits and then adds them to the
// ready set. The room seals once every required player is ready.
func (o *Orchestrator) MarkReady(ctx context.Context) error {
	o.mu.Lock()
	s := o.state
	eng := o.engine
	o.mu.Unlock()
	if s.Phase != flow.PhaseCreate || s.Mode == room.ModeSolo || eng == nil {
		return flow.ErrInvalidTransition
	}
	if !eng.Snapshot().OwnedLocksComplete(s.PlayerIndex) {
		return ErrLocksIncomplete
	}

	// leftover edits for other rooms do not hold this room back
	if err := syncengine.RoomFailures(eng.Flush(ctx), s.RoomCode); err != nil {
		return fmt.Errorf("flushing before ready: %w", err)
	}
	return eng.MarkReady(ctx)
}

// SetOnline reports a connectivity change. Coming back online flushes queued
// edits, or registers a solo room that was completed offline.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	wasOffline := !o.online
	o.online = online
	eng := o.engine
	register := online && wasOffline && o.soloPending && !o.registering
	o.mu.Unlock()

	if eng != nil {
		eng.SetOnline(online)
	}
	if register {
		o.registerSoloAsync()
	}
}

func (o *Orchestrator) StartPlay() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdStartPlay})
	if err != nil {
		return err
	}
	if err := o.startPlay(o.room); err != nil {
		return err
	}
	o.state = next
	return nil
}

func (o *Orchestrator) startPlay(r room.Room) error {
	ps, err := puzzle.NewState(r)
	if err != nil {
		return err
	}
	o.play = ps
	o.playing = true
	return nil
}

func (o *Orchestrator) Toggle(inst room.Instrument, beat int) error {
	_, err := o.solve(puzzle.Command{Type: puzzle.CmdToggleCell, Instrument: inst, Beat: beat})
	return err
}

func (o *Orchestrator) ClearGuess() error {
	_, err := o.solve(puzzle.Command{Type: puzzle.CmdClearGuess})
	return err
}

// Submit checks the working grid against the current lock. Solving the last
// lock moves to Results and saves the work record.
func (o *Orchestrator) Submit() ([]puzzle.Event, error) {
	return o.solve(puzzle.Command{Type: puzzle.CmdSubmitGuess})
}

func (o *Orchestrator) solve(cmd puzzle.Command) ([]puzzle.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase != flow.PhasePlay || !o.playing {
		return nil, ErrNotPlaying
	}
	events, next, err := puzzle.Apply(o.play, cmd)
	if err != nil {
		return nil, err
	}
	o.play = next

	if puzzle.ContainsEvent(events, puzzle.EvtPlayCompleted) {
		s, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdFinishPlay})
		if err != nil {
			return events, err
		}
		o.state = s
		o.saveWorkAsync("results")
	}
	return events, nil
}

// PlayAgain restarts the same room with scores cleared.
func (o *Orchestrator) PlayAgain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdPlayAgain})
	if err != nil {
		return err
	}
	o.state = next
	o.play = o.play.Reset()
	return nil
}

func (o *Orchestrator) CreateNew() error {
	return o.reset(flow.Command{Type: flow.CmdCreateNew})
}

// Back follows the flow's back rules. Leaving authoring stops syncing;
// queued edits stay in the pending queue.
func (o *Orchestrator) Back() error {
	return o.reset(flow.Command{Type: flow.CmdBack})
}

func (o *Orchestrator) Exit() error {
	return o.reset(flow.Command{Type: flow.CmdExit})
}

func (o *Orchestrator) reset(cmd flow.Command) error {
	o.mu.Lock()
	prev := o.state
	next, err := o.machine.Apply(prev, cmd)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = next

	var eng *syncengine.Engine
	if (prev.Phase == flow.PhaseCreate && next.Phase != flow.PhaseCreate) || next.RoomCode == "" {
		eng = o.detachEngine()
	}
	if next.Phase != flow.PhasePlay && next.Phase != flow.PhaseResults {
		o.playing = false
	}
	// an unregistered solo room has no code but is still on the share screen
	if next.RoomCode == "" && next.Phase != flow.PhaseShare {
		o.room = room.Room{}
		o.authored = map[int]room.Pattern{}
		o.forgetSoloLocked()
	}
	o.mu.Unlock()

	if eng != nil {
		eng.Stop()
	}
	return nil
}

// Close stops syncing. Queued edits survive in the pending queue.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	eng := o.detachEngine()
	o.mu.Unlock()
	if eng != nil {
		eng.Stop()
	}
	o.cancel()
}

// HandleTrigger saves the work record when the host session ends or moves to
// another stage. Each trigger ID is saved once; a failed save can be retried
// by firing the trigger again.
func (o *Orchestrator) HandleTrigger(ctx context.Context, t Trigger) error {
	o.mu.Lock()
	if o.triggers[t.ID] {
		o.mu.Unlock()
		return nil
	}
	o.triggers[t.ID] = true
	eng := o.engine
	o.mu.Unlock()

	if eng != nil {
		if err := eng.Flush(ctx); err != nil {
			o.log.Debug("flush on trigger left edits queued", zap.String("trigger", t.ID), zap.Error(err))
		}
	}
	if o.work == nil {
		return nil
	}

	o.mu.Lock()
	if eng != nil && o.engine == eng {
		o.room = eng.Snapshot()
	}
	id, rec := o.activityID(), o.workRecord(string(t.Kind))
	o.mu.Unlock()

	if err := o.saveWork(id, rec); err != nil {
		o.mu.Lock()
		delete(o.triggers, t.ID)
		o.mu.Unlock()
		return fmt.Errorf("saving work on %s: %w", t.Kind, err)
	}
	return nil
}

func (o *Orchestrator) currentEngine() *syncengine.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine
}

// attachEngine builds the sync engine for the current room and player,
// replacing any previous one. Callers hold o.mu and start the engine after
// releasing it.
func (o *Orchestrator) attachEngine() *syncengine.Engine {
	if o.engine != nil {
		old := o.engine
		go old.Stop()
	}
	var eng *syncengine.Engine
	eng = syncengine.New(o.svc, o.queue, syncengine.Options{
		RoomCode:     o.state.RoomCode,
		PlayerIndex:  o.state.PlayerIndex,
		PollInterval: o.cfg.PollInterval,
		Offline:      !o.online,
		Initial:      o.room,
		Ticker:       o.ticker,
		Now:          o.now,
		Logger:       o.log,
		OnUpdate:     func(r room.Room) { o.onRoomUpdate(eng, r) },
		OnComplete:   func(r room.Room) { o.onRoomComplete(eng, r) },
	})
	o.engine = eng
	return eng
}

func (o *Orchestrator) detachEngine() *syncengine.Engine {
	eng := o.engine
	o.engine = nil
	return eng
}

func (o *Orchestrator) onRoomUpdate(eng *syncengine.Engine, r room.Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.engine != eng {
		return
	}
	o.room = r
	o.syncLocked(r)
}

// syncLocked feeds r to the flow and saves the work record on reaching Share.
func (o *Orchestrator) syncLocked(r room.Room) {
	if o.state.Phase != flow.PhaseCreate {
		return
	}
	next, err := o.machine.Apply(o.state, flow.Command{Type: flow.CmdSync, Room: &r})
	if err != nil {
		o.log.Warn("applying room sync", zap.Error(err))
		return
	}
	o.state = next
	if next.Phase == flow.PhaseShare {
		o.log.Info("room complete", zap.String("room", next.RoomCode), zap.Int("player", next.PlayerIndex))
		// an unregistered solo room saves once it has a code
		if next.RoomCode != "" {
			o.saveWorkAsync("share")
		}
	}
}

func (o *Orchestrator) onRoomComplete(eng *syncengine.Engine, r room.Room) {
	o.mu.Lock()
	if o.engine != eng {
		o.mu.Unlock()
		return
	}
	merged := MergeAuthored(r, o.authored, o.state.PlayerIndex)
	o.room = merged
	o.completions++
	hook := o.onComplete
	o.mu.Unlock()

	if hook != nil {
		hook(merged.Clone())
	}
}
