package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

// MemRoomRepo keeps rooms in process memory. Rooms are cloned on the way in
// and out so callers never share maps with the store.
type MemRoomRepo struct {
	mu    sync.RWMutex
	rooms map[string]room.Room
}

func NewMemRoomRepo() *MemRoomRepo {
	return &MemRoomRepo{rooms: make(map[string]room.Room)}
}

func (m *MemRoomRepo) Get(_ context.Context, code string) (room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (m *MemRoomRepo) Save(_ context.Context, r room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.Code] = r.Clone()
	return nil
}

func (m *MemRoomRepo) Codes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]string, 0, len(m.rooms))
	for c := range m.rooms {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

type MemWorkRepo struct {
	mu      sync.RWMutex
	records map[string]types.WorkRecord
}

func NewMemWorkRepo() *MemWorkRepo {
	return &MemWorkRepo{records: make(map[string]types.WorkRecord)}
}

func (m *MemWorkRepo) SaveWork(_ context.Context, activityID string, rec types.WorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Data = slices.Clone(rec.Data)
	m.records[activityID] = rec
	return nil
}

func (m *MemWorkRepo) GetWork(_ context.Context, activityID string) (types.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[activityID]
	if !ok {
		return types.WorkRecord{}, ErrWorkNotFound
	}
	rec.Data = slices.Clone(rec.Data)
	return rec, nil
}
