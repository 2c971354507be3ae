// Package pending is the client-local queue of lock edits not yet
// acknowledged by the room service. The whole queue lives under one namespace
// key of a Backend and is rewritten on every mutation, so it survives a
// restart of the client.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// Namespace is the reserved backend key holding the serialized queue.
const Namespace = "beat-escape-pending"

var ErrNotFound = errors.New("pending edit not found")

type Edit struct {
	RoomCode    string    `json:"roomCode"`
	LockNumber  int       `json:"lockNumber"`
	Grid        room.Grid `json:"grid"`
	PlayerIndex int       `json:"playerIndex"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e Edit) Key() string {
	return Key(e.RoomCode, e.LockNumber)
}

func Key(roomCode string, lock int) string {
	return fmt.Sprintf("%s-%d", roomCode, lock)
}

type Queue interface {
	Put(key string, edit Edit) error
	Get(key string) (Edit, error)
	Delete(key string) error
	ListAll() (map[string]Edit, error)
}

// Backend is the durable primitive under a Queue: one opaque blob per key.
// Load returns nil data and no error for a key never stored.
type Backend interface {
	Load(key string) ([]byte, error)
	Store(key string, data []byte) error
}

// Store is the Queue implementation over a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Put(key string, edit Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	edit.Grid = edit.Grid.Clone()
	all[key] = edit
	return s.writeAll(all)
}

func (s *Store) Get(key string) (Edit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return Edit{}, err
	}
	edit, ok := all[key]
	if !ok {
		return Edit{}, ErrNotFound
	}
	return edit, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return s.writeAll(all)
}

func (s *Store) ListAll() (map[string]Edit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *Store) readAll() (map[string]Edit, error) {
	data, err := s.backend.Load(Namespace)
	if err != nil {
		return nil, fmt.Errorf("reading pending queue: %w", err)
	}
	all := map[string]Edit{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decoding pending queue: %w", err)
	}
	return all, nil
}

func (s *Store) writeAll(all map[string]Edit) error {
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encoding pending queue: %w", err)
	}
	if err := s.backend.Store(Namespace, data); err != nil {
		return fmt.Errorf("writing pending queue: %w", err)
	}
	return nil
}
