package syncengine

import (
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/pending"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

type msg interface{ isEngineMsg() }

type saveReq struct {
	lock  int
	grid  room.Grid
	reply chan error
}

type readyReq struct{ reply chan error }

type flushReq struct{ reply chan error }

type connectivity struct{ online bool }

type activeReq struct{ lock int }

type refreshReq struct{}

type fetched struct {
	seq  int
	room room.Room
	err  error

	// reply and replyErr are set for the re-fetch after a ready write.
	reply    chan error
	replyErr error
}

type patchDone struct {
	edit pending.Edit
	err  error
}

type flushDone struct {
	acked    []pending.Edit
	rejected []pending.Edit
	err      error
}

func (saveReq) isEngineMsg()      {}
func (readyReq) isEngineMsg()     {}
func (flushReq) isEngineMsg()     {}
func (connectivity) isEngineMsg() {}
func (activeReq) isEngineMsg()    {}
func (refreshReq) isEngineMsg()   {}
func (fetched) isEngineMsg()      {}
func (patchDone) isEngineMsg()    {}
func (flushDone) isEngineMsg()    {}

func (e *Engine) loop() {
	defer close(e.done)
	defer e.stopPolling()

	e.overlayPending()
	e.publish()
	if !e.snapshot.Sealed() {
		e.startPolling()
	}
	e.fetch(true)
	if e.online {
		e.flush(nil)
	}

	for {
		select {
		case <-e.ctx.Done():
			e.failWaiters(ErrStopped)
			return

		case <-e.tickC:
			if e.online {
				e.fetch(false)
			}

		case m := <-e.inbox:
			switch msg := m.(type) {
			case saveReq:
				msg.reply <- e.save(msg.lock, msg.grid)

			case readyReq:
				e.markReady(msg.reply)

			case flushReq:
				e.flush(msg.reply)

			case connectivity:
				wasOffline := !e.online
				e.online = msg.online
				if msg.online && wasOffline {
					e.log.Debug("back online, flushing pending edits")
					e.flush(nil)
				}

			case activeReq:
				e.markActive(msg.lock)

			case refreshReq:
				e.fetch(true)

			case fetched:
				e.applyFetch(msg)

			case patchDone:
				if msg.err != nil {
					e.writeFailed(msg.edit, msg.err)
					break
				}
				e.ack(msg.edit)

			case flushDone:
				e.finishFlush(msg)
			}
		}
	}
}

func (e *Engine) save(lock int, grid room.Grid) error {
	if e.snapshot.Sealed() {
		return room.ErrRoomSealed
	}
	now := e.opts.Now()
	edit := pending.Edit{
		RoomCode:    e.opts.RoomCode,
		LockNumber:  lock,
		Grid:        grid,
		PlayerIndex: e.opts.PlayerIndex,
		Timestamp:   now,
	}
	if err := e.queue.Put(edit.Key(), edit); err != nil {
		return err
	}

	e.snapshot.Overlay(lock, room.Pattern{Grid: grid, CreatedBy: e.opts.PlayerIndex, CompletedAt: now})
	e.publish()

	if e.online {
		e.patch(edit)
	}
	return nil
}

func (e *Engine) patch(edit pending.Edit) {
	go func() {
		err := e.svc.PatchLock(e.ctx, edit.RoomCode, edit.LockNumber, room.LockPatch{Grid: edit.Grid, PlayerIndex: edit.PlayerIndex})
		e.post(patchDone{edit: edit, err: err})
	}()
}

// ack drops the queued edit once its write is confirmed. Polls sent before
// the ack may predate the write, so the edit keeps overlaying the view until
// a later fetch lands.
func (e *Engine) ack(edit pending.Edit) {
	if !e.dropQueued(edit) {
		return
	}
	if edit.RoomCode == e.opts.RoomCode {
		e.settling[edit.LockNumber] = settlingEdit{edit: edit, seq: e.fetchSeq}
	}
}

// dropQueued deletes edit from the queue unless a newer edit for the same
// lock replaced it in the meantime.
func (e *Engine) dropQueued(edit pending.Edit) bool {
	cur, err := e.queue.Get(edit.Key())
	if err != nil {
		return false
	}
	if !cur.Timestamp.Equal(edit.Timestamp) || !cur.Grid.Equal(edit.Grid) {
		return false
	}
	if err := e.queue.Delete(edit.Key()); err != nil {
		e.log.Warn("dropping edit", zap.String("key", edit.Key()), zap.Error(err))
		return false
	}
	return true
}

// Rejected reports whether the service refused a lock write for good. Those
// edits are dropped; anything else stays queued for the next flush.
func Rejected(err error) bool {
	return errors.Is(err, room.ErrNotLockOwner) ||
		errors.Is(err, room.ErrRoomSealed) ||
		errors.Is(err, room.ErrRoomNotFound) ||
		errors.Is(err, room.ErrInvalidLock) ||
		errors.Is(err, room.ErrInvalidGrid)
}

func (e *Engine) writeFailed(edit pending.Edit, err error) {
	fields := []zap.Field{zap.String("key", edit.Key()), zap.Error(err)}
	if !Rejected(err) {
		e.log.Debug("lock write failed, will sync later", fields...)
		return
	}
	e.log.Warn("lock write rejected, dropping edit", fields...)
	if e.dropQueued(edit) && edit.RoomCode == e.opts.RoomCode {
		e.fetch(true)
	}
}

func (e *Engine) flush(reply chan error) {
	if e.flushing {
		e.flushAgain = true
		if reply != nil {
			e.flushQueued = append(e.flushQueued, reply)
		}
		return
	}
	if reply != nil {
		e.flushWait = append(e.flushWait, reply)
	}

	all, err := e.queue.ListAll()
	if err != nil {
		e.log.Warn("reading pending queue", zap.Error(err))
		e.replyFlush(err)
		return
	}
	if len(all) == 0 {
		e.replyFlush(nil)
		return
	}

	e.flushing = true
	go func() {
		var done flushDone
		for _, edit := range all {
			err := e.svc.PatchLock(e.ctx, edit.RoomCode, edit.LockNumber, room.LockPatch{Grid: edit.Grid, PlayerIndex: edit.PlayerIndex})
			if err != nil {
				done.err = multierr.Append(done.err, &WriteError{Edit: edit, Err: err})
				if Rejected(err) {
					done.rejected = append(done.rejected, edit)
				}
				continue
			}
			done.acked = append(done.acked, edit)
		}
		e.post(done)
	}()
}

func (e *Engine) finishFlush(done flushDone) {
	e.flushing = false
	for _, edit := range done.acked {
		e.ack(edit)
	}
	refetch := false
	for _, edit := range done.rejected {
		e.log.Warn("lock write rejected, dropping edit", zap.String("key", edit.Key()))
		if e.dropQueued(edit) && edit.RoomCode == e.opts.RoomCode {
			refetch = true
		}
	}
	if refetch {
		e.fetch(true)
	}
	if done.err != nil {
		e.log.Debug("flush had failed writes",
			zap.Int("failed", len(multierr.Errors(done.err))), zap.Int("flushed", len(done.acked)), zap.Error(done.err))
	}
	e.replyFlush(done.err)

	if e.flushAgain {
		e.flushAgain = false
		queued := e.flushQueued
		e.flushQueued = nil
		e.flushWait = append(e.flushWait, queued...)
		e.flush(nil)
	}
}

func (e *Engine) replyFlush(err error) {
	for _, ch := range e.flushWait {
		ch <- err
	}
	e.flushWait = nil
}

func (e *Engine) failWaiters(err error) {
	e.replyFlush(err)
	for _, ch := range e.flushQueued {
		ch <- err
	}
	e.flushQueued = nil
}

func (e *Engine) markActive(lock int) {
	if err := e.snapshot.SetActiveLock(e.opts.PlayerIndex, lock); err == nil {
		e.publish()
	}
	if !e.online {
		return
	}
	patch := room.ActivePatch{PlayerIndex: e.opts.PlayerIndex, LockNumber: lock}
	go func() {
		if err := e.svc.PatchActiveLock(e.ctx, e.opts.RoomCode, patch); err != nil {
			e.log.Debug("active lock hint failed", zap.Int("lock", lock), zap.Error(err))
		}
	}()
}

func (e *Engine) markReady(reply chan error) {
	seq := e.nextSeq()
	go func() {
		if err := e.svc.PatchReady(e.ctx, e.opts.RoomCode, e.opts.PlayerIndex); err != nil {
			e.post(fetched{seq: seq, err: err, reply: reply, replyErr: err})
			return
		}
		r, err := e.svc.GetRoom(e.ctx, e.opts.RoomCode)
		e.post(fetched{seq: seq, room: r, err: err, reply: reply})
	}()
}

// fetch pulls the full room. A tick skips when a fetch is already
// outstanding; a forced fetch always goes out.
func (e *Engine) fetch(force bool) {
	if !force && e.inFlight > 0 {
		return
	}
	seq := e.nextSeq()
	go func() {
		r, err := e.svc.GetRoom(e.ctx, e.opts.RoomCode)
		e.post(fetched{seq: seq, room: r, err: err})
	}()
}

func (e *Engine) nextSeq() int {
	e.fetchSeq++
	e.inFlight++
	return e.fetchSeq
}

func (e *Engine) applyFetch(f fetched) {
	e.inFlight--
	defer func() {
		if f.reply != nil {
			f.reply <- f.replyErr
		}
	}()

	if f.err != nil {
		if errors.Is(f.err, room.ErrRoomNotFound) {
			e.log.Warn("room not found on poll", zap.Error(f.err))
		} else {
			e.log.Debug("poll failed", zap.Error(f.err))
		}
		return
	}
	if f.seq < e.appliedSeq {
		return
	}
	e.appliedSeq = f.seq

	e.snapshot = f.room.Clone()
	e.overlaySettling(f.seq)
	e.overlayPending()
	e.publish()

	if e.snapshot.Sealed() {
		e.stopPolling()
		e.complete()
	}
}

// overlayPending re-applies this room's unacknowledged edits so a wholesale
// replace never hides local work.
func (e *Engine) overlayPending() {
	if e.snapshot.Sealed() {
		return
	}
	all, err := e.queue.ListAll()
	if err != nil {
		e.log.Warn("reading pending queue", zap.Error(err))
		return
	}
	for _, edit := range all {
		if edit.RoomCode != e.opts.RoomCode {
			continue
		}
		e.snapshot.Overlay(edit.LockNumber, room.Pattern{Grid: edit.Grid, CreatedBy: edit.PlayerIndex, CompletedAt: edit.Timestamp})
	}
}

// overlaySettling keeps acknowledged edits visible until a fetch sent after
// their ack has been applied.
func (e *Engine) overlaySettling(seq int) {
	for lock, s := range e.settling {
		if seq > s.seq || e.snapshot.Sealed() {
			delete(e.settling, lock)
			continue
		}
		e.snapshot.Overlay(lock, room.Pattern{Grid: s.edit.Grid, CreatedBy: s.edit.PlayerIndex, CompletedAt: s.edit.Timestamp})
	}
}

func (e *Engine) complete() {
	e.mu.Lock()
	already := e.completed
	e.completed = true
	e.mu.Unlock()
	if already {
		return
	}
	e.log.Info("room ready", zap.Int("patterns", len(e.snapshot.Patterns)))
	if e.opts.OnComplete != nil {
		e.opts.OnComplete(e.snapshot.Clone())
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	e.view = e.snapshot.Clone()
	e.mu.Unlock()
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(e.snapshot.Clone())
	}
}

func (e *Engine) startPolling() {
	e.tickC, e.stopTick = e.opts.Ticker(e.opts.PollInterval)
	e.mu.Lock()
	e.polling = true
	e.mu.Unlock()
}

func (e *Engine) stopPolling() {
	if e.stopTick != nil {
		e.stopTick()
		e.stopTick = nil
	}
	e.tickC = nil
	e.mu.Lock()
	e.polling = false
	e.mu.Unlock()
}

// post hands a result from a background call back to the loop.
func (e *Engine) post(m msg) {
	select {
	case e.inbox <- m:
	case <-e.ctx.Done():
	}
}
