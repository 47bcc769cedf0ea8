package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"sudokuduel/models"
)

// fakeStore is an in-memory MatchStore so room tests run without postgres.
type fakeStore struct {
	mu            sync.Mutex
	matches       map[uint]*models.Match
	statusWrites  []string
	gridSaves     int
	getCalls      int
	failStatus    error
	failGrid      error
}

func newFakeStore(matches ...*models.Match) *fakeStore {
	s := &fakeStore{matches: make(map[uint]*models.Match)}
	for _, m := range matches {
		s.matches[m.ID] = m
	}
	return s
}

func (f *fakeStore) GetMatch(_ context.Context, id uint) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	match, ok := f.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *match
	return &copied, nil
}

func (f *fakeStore) UpdateMatchStatus(_ context.Context, id uint, status string, startedAt, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStatus != nil {
		return f.failStatus
	}
	match, ok := f.matches[id]
	if !ok {
		return ErrNotFound
	}
	match.Status = status
	if startedAt != nil {
		match.StartedAt = startedAt
	}
	if endedAt != nil {
		match.EndedAt = endedAt
	}
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

func (f *fakeStore) SaveMatchGrid(_ context.Context, id uint, grid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGrid != nil {
		return f.failGrid
	}
	match, ok := f.matches[id]
	if !ok {
		return ErrNotFound
	}
	match.SudokuGrid = grid
	f.gridSaves++
	return nil
}

func (f *fakeStore) statusHistory() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusWrites...)
}

func (f *fakeStore) countStatus(status string) int {
	n := 0
	for _, s := range f.statusHistory() {
		if s == status {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store down")

// fakeBroadcaster records emissions so tests can assert event order.
type sentEvent struct {
	roomID  string // empty for unicasts
	connID  string // empty for broadcasts
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeBroadcaster) EmitTo(connectionID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{connID: connectionID, event: event, payload: payload})
}

func (f *fakeBroadcaster) Broadcast(roomID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{roomID: roomID, event: event, payload: payload})
}

func (f *fakeBroadcaster) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.event
	}
	return names
}

func (f *fakeBroadcaster) has(event string) bool {
	for _, name := range f.eventNames() {
		if name == event {
			return true
		}
	}
	return false
}

// testMatch builds a persisted match record around a deterministic puzzle.
func testMatch(id uint, gameMode string) *models.Match {
	puzzle, solution := GeneratePuzzle("easy", rand.New(rand.NewSource(int64(id))))
	deal := MarshalGrid(puzzle)

	return &models.Match{
		ID:           id,
		Status:       string(StatusWaiting),
		Player1ID:    1,
		Player1:      models.User{ID: 1, Name: "Alice"},
		SudokuGrid:   deal,
		InitialGrid:  deal,
		Solution:     MarshalGrid(solution),
		GameMode:     gameMode,
		Difficulty:   "easy",
		TimeLimit:    1800,
		HintsAllowed: 3,
		CreatedAt:    time.Now(),
	}
}

func newTestRoomService(matches ...*models.Match) (*RoomService, *fakeStore, *fakeBroadcaster) {
	store := newFakeStore(matches...)
	registry := NewRoomRegistry(store)
	service := NewRoomService(registry, store, nil)
	return service, store, &fakeBroadcaster{}
}
