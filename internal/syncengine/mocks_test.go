package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

var errNetwork = errors.New("network unreachable")

// --- room.Service (testify) ---

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateRoom(ctx context.Context, mode room.Mode, theme string) (string, error) {
	args := m.Called(ctx, mode, theme)
	return args.String(0), args.Error(1)
}

func (m *MockService) GetRoom(ctx context.Context, code string) (room.Room, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(room.Room), args.Error(1)
}

func (m *MockService) PatchLock(ctx context.Context, code string, lock int, patch room.LockPatch) error {
	args := m.Called(ctx, code, lock, patch)
	return args.Error(0)
}

func (m *MockService) PatchActiveLock(ctx context.Context, code string, patch room.ActivePatch) error {
	args := m.Called(ctx, code, patch)
	return args.Error(0)
}

func (m *MockService) PatchReady(ctx context.Context, code string, player int) error {
	args := m.Called(ctx, code, player)
	return args.Error(0)
}

func (m *MockService) ClaimSlot(ctx context.Context, code, clientID string) (int, error) {
	args := m.Called(ctx, code, clientID)
	return args.Int(0), args.Error(1)
}

// --- room.Service (stateful fake) ---

type fakeService struct {
	mu          sync.Mutex
	rooms       map[string]*room.Room
	failPatches bool
	patchCalls  int
	getCalls    int
}

func newFakeService(rooms ...room.Room) *fakeService {
	f := &fakeService{rooms: map[string]*room.Room{}}
	for _, r := range rooms {
		r := r.Clone()
		f.rooms[r.Code] = &r
	}
	return f
}

func (f *fakeService) CreateRoom(_ context.Context, mode room.Mode, theme string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := room.New("NEW1", mode, theme, time.Now())
	f.rooms[r.Code] = &r
	return r.Code, nil
}

func (f *fakeService) GetRoom(_ context.Context, code string) (room.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	r, ok := f.rooms[code]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (f *fakeService) PatchLock(_ context.Context, code string, lock int, patch room.LockPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	if f.failPatches {
		return errNetwork
	}
	r, ok := f.rooms[code]
	if !ok {
		return room.ErrRoomNotFound
	}
	return r.PutPattern(lock, patch.Grid, patch.PlayerIndex, time.Now())
}

func (f *fakeService) PatchActiveLock(_ context.Context, code string, patch room.ActivePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	if !ok {
		return room.ErrRoomNotFound
	}
	return r.SetActiveLock(patch.PlayerIndex, patch.LockNumber)
}

func (f *fakeService) PatchReady(_ context.Context, code string, player int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	if !ok {
		return room.ErrRoomNotFound
	}
	_, err := r.MarkReady(player)
	return err
}

func (f *fakeService) ClaimSlot(_ context.Context, code, clientID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	if !ok {
		return 0, room.ErrRoomNotFound
	}
	return r.ClaimSlot(clientID)
}

func (f *fakeService) setFailPatches(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPatches = fail
}

func (f *fakeService) pattern(code string, lock int) (room.Pattern, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rooms[code].Patterns[lock]
	return p, ok
}

func (f *fakeService) patches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patchCalls
}

func (f *fakeService) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeService) seal(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rooms[code]
	for p := 0; p < r.Mode.RequiredPlayers(); p++ {
		_, _ = r.MarkReady(p)
	}
}
