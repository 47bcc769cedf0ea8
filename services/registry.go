package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RoomID derives the room identifier from the backing match id.
func RoomID(matchID uint) string {
	return fmt.Sprintf("room_%d", matchID)
}

type roomEntry struct {
	once sync.Once
	room *Room
	err  error
}

// RoomRegistry is the single authoritative map from room id to live Room. It
// guarantees at most one Room per match id process-wide: a second caller that
// races GetOrCreate for an unseen id blocks until the first caller's
// hydration finishes and then receives the same instance.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
	store MatchStore
}

func NewRoomRegistry(store MatchStore) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*roomEntry),
		store: store,
	}
}

// GetOrCreate returns the live Room for the match, hydrating it lazily from
// the persisted match record. Returns ErrNotFound when no record exists; a
// failed hydration is not cached, so a later call retries.
func (r *RoomRegistry) GetOrCreate(ctx context.Context, matchID uint) (*Room, error) {
	id := RoomID(matchID)

	r.mu.Lock()
	entry, ok := r.rooms[id]
	if !ok {
		entry = &roomEntry{}
		r.rooms[id] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.room, entry.err = r.hydrate(ctx, matchID)
	})

	if entry.err != nil {
		r.mu.Lock()
		if r.rooms[id] == entry {
			delete(r.rooms, id)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.room, nil
}

// Get looks up a room without creating one. Returns nil when absent.
func (r *RoomRegistry) Get(roomID string) *Room {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	// Wait for an in-flight hydration so the read of entry.room is ordered
	// after the write.
	entry.once.Do(func() {})
	return entry.room
}

// Remove evicts a room from memory. The persisted match record is untouched
// and unknown ids are a no-op.
func (r *RoomRegistry) Remove(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
}

// Rooms snapshots the currently live rooms, for the expiry sweep.
func (r *RoomRegistry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*Room, 0, len(r.rooms))
	for _, entry := range r.rooms {
		if entry.room != nil {
			rooms = append(rooms, entry.room)
		}
	}
	return rooms
}

// hydrate builds a Room from its match record: grids, given-cell mask and the
// admitted players, all seeded from the persisted state.
func (r *RoomRegistry) hydrate(ctx context.Context, matchID uint) (*Room, error) {
	match, err := r.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	grid, err := ParseGrid(match.SudokuGrid)
	if err != nil {
		return nil, err
	}
	initial, err := ParseGrid(match.InitialGrid)
	if err != nil {
		return nil, err
	}
	solution, err := ParseGrid(match.Solution)
	if err != nil {
		return nil, err
	}

	var given [9][9]bool
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			given[row][col] = initial[row][col] != 0
		}
	}

	room := &Room{
		ID:       RoomID(match.ID),
		MatchID:  match.ID,
		Status:   RoomStatus(match.Status),
		Grid:     grid,
		Solution: solution,
		Given:    given,
		Settings: RoomSettings{
			TimeLimit:     match.TimeLimit,
			HintsAllowed:  match.HintsAllowed,
			SpectatorMode: match.SpectatorMode,
			Capacity:      capacityFor(match.GameMode),
		},
		GameMode:   match.GameMode,
		Difficulty: match.Difficulty,
		Spectators: make(map[string]bool),
		CreatedAt:  match.CreatedAt,
		StartedAt:  match.StartedAt,
		EndedAt:    match.EndedAt,
	}

	room.Players = append(room.Players, &Player{
		UserID: match.Player1ID,
		Name:   playerName(match.Player1.Name, "Player 1"),
	})
	if match.Player2ID != nil {
		name := "Player 2"
		if match.Player2 != nil {
			name = playerName(match.Player2.Name, name)
		}
		room.Players = append(room.Players, &Player{
			UserID: *match.Player2ID,
			Name:   name,
		})
	}

	now := time.Now()
	room.EmptySince = &now
	return room, nil
}

// capacityFor maps a game mode to the maximum player count.
func capacityFor(gameMode string) int {
	if gameMode == "SOLO" {
		return 1
	}
	return 2
}

func playerName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
