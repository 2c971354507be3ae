package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("watcher outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func patchLock(t *testing.T, l *Lobby, lock, player int, grid room.Grid) error {
	t.Helper()
	reply := make(chan error, 1)
	l.Inbox() <- PatchLock{Lock: lock, Patch: room.LockPatch{Grid: grid, PlayerIndex: player}, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for patch reply")
		return nil
	}
}

func patchReady(t *testing.T, l *Lobby, player int) error {
	t.Helper()
	reply := make(chan error, 1)
	l.Inbox() <- PatchReady{Player: player, Reply: reply}
	return <-reply
}

func grid() room.Grid {
	return room.Grid{room.Hihat: {true, true, true, false}}
}

type failingSaver struct{ err error }

func (f failingSaver) Save(context.Context, room.Room) error { return f.err }

func TestLobby_PatchLock_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, room.New("Q7K3", room.ModePartner, "", time.Now()))

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "w1", Outbox: out}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	if first.Version != 0 || len(first.Room.Patterns) != 0 {
		t.Fatalf("after join: want empty version 0, got %+v", first)
	}

	if err := patchLock(t, l, 2, 1, grid()); err != nil {
		t.Fatalf("patch: %v", err)
	}

	next := recvSnapshot(t, out, 100*time.Millisecond)
	if next.Version != 1 {
		t.Fatalf("after patch: want version=1, got %d", next.Version)
	}
	if p, ok := next.Room.Patterns[2]; !ok || p.CreatedBy != 1 {
		t.Fatalf("after patch: lock 2 missing or wrong owner: %+v", next.Room.Patterns)
	}

	l.Inbox() <- Shutdown{}
}

func TestLobby_RejectsForeignLockWithoutBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, room.New("Q7K3", room.ModePartner, "", time.Now()))
	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "w1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	err := patchLock(t, l, 2, 0, grid())
	if !errors.Is(err, room.ErrNotLockOwner) {
		t.Fatalf("want ErrNotLockOwner, got %v", err)
	}
	recvNoSnapshot(t, out, 100*time.Millisecond)
}

func TestLobby_ReadyQuorumSealsRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, room.New("Q7K3", room.ModePartner, "", time.Now()))

	if err := patchReady(t, l, 0); err != nil {
		t.Fatalf("ready 0: %v", err)
	}
	if err := patchReady(t, l, 1); err != nil {
		t.Fatalf("ready 1: %v", err)
	}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	if view.Room.Status != room.StatusReady {
		t.Fatalf("want ready, got %s", view.Room.Status)
	}

	if err := patchLock(t, l, 1, 0, grid()); !errors.Is(err, room.ErrRoomSealed) {
		t.Fatalf("want ErrRoomSealed, got %v", err)
	}
}

func TestLobby_ClaimSlotIsSerialized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, room.New("T", room.ModeTrio, "", time.Now()))

	replies := make(chan SlotReply, 2)
	l.Inbox() <- ClaimSlot{ClientID: "a", Reply: replies}
	l.Inbox() <- ClaimSlot{ClientID: "b", Reply: replies}

	got := map[int]bool{}
	for i := 0; i < 2; i++ {
		r := <-replies
		if r.Err != nil {
			t.Fatalf("claim: %v", r.Err)
		}
		got[r.Player] = true
	}
	if !got[1] || !got[2] {
		t.Fatalf("two joiners should get 1 and 2, got %v", got)
	}
}

func TestLobby_FailedSaveDoesNotCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	saveErr := errors.New("disk full")
	l := NewLobby(ctx, room.New("Q7K3", room.ModeSolo, "", time.Now()), WithSaver(failingSaver{saveErr}))

	if err := patchLock(t, l, 1, 0, grid()); !errors.Is(err, saveErr) {
		t.Fatalf("want save error, got %v", err)
	}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	if view.Version != 0 || len(view.Room.Patterns) != 0 {
		t.Fatalf("failed save leaked into state: %+v", view)
	}
}

func TestLobby_DropSlowWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, room.New("Q7K3", room.ModeSolo, "", time.Now()))

	out := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "w1", Outbox: out}

	if err := patchLock(t, l, 1, 0, grid()); err != nil {
		t.Fatalf("patch: %v", err)
	}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow watcher to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_Shutdown_ClosesWatchers(t *testing.T) {
	l := NewLobby(context.Background(), room.New("Q7K3", room.ModeSolo, "", time.Now()))

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "w1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	l.Inbox() <- Shutdown{}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not exit")
	}
	recvNoSnapshot(t, out, 50*time.Millisecond)
}
