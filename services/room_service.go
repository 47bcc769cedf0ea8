package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Broadcaster is what the room core needs from the connection layer. The
// websocket hub implements it; tests use a recording fake.
type Broadcaster interface {
	EmitTo(connectionID, event string, payload interface{})
	Broadcast(roomID, event string, payload interface{})
}

// RoomService owns every mutation of live rooms. Each operation locks the
// target room for its full duration, persistence sub-calls included, so
// operations on one room serialize while different rooms proceed
// concurrently. Broadcasts are sent while the lock is held, which keeps them
// in the same order as the mutations that produced them.
type RoomService struct {
	registry *RoomRegistry
	store    MatchStore
	cache    *redis.Client

	gracePeriod   time.Duration
	sweepInterval time.Duration
}

func NewRoomService(registry *RoomRegistry, store MatchStore, cache *redis.Client) *RoomService {
	return &RoomService{
		registry:      registry,
		store:         store,
		cache:         cache,
		gracePeriod:   60 * time.Second,
		sweepInterval: 15 * time.Second,
	}
}

// JoinRoom admits a connection to a room, creating the room lazily from its
// match record. A returning user is reattached with progress intact; a new
// user takes a free seat in WAITING, or a spectator slot when seats are gone
// and spectator mode is on. The caller emits the returned view to the sender.
func (s *RoomService) JoinRoom(ctx context.Context, matchID, userID uint, name, connectionID string, b Broadcaster) (*RoomStateView, bool, error) {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return nil, false, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.checkDeadlineLocked(ctx, room, b); err != nil {
		return nil, false, err
	}

	now := time.Now()

	if p := room.player(userID); p != nil {
		// Idempotent re-entry: reattach the connection, keep score and moves.
		p.ConnectionID = connectionID
		p.IsConnected = true
		room.EmptySince = nil
		s.storeSnapshot(ctx, room, now)
		return room.view(now), false, nil
	}

	if room.Status == StatusWaiting && len(room.Players) < room.Settings.Capacity {
		if name == "" {
			name = "Player"
		}
		room.Players = append(room.Players, &Player{
			UserID:       userID,
			Name:         name,
			ConnectionID: connectionID,
			IsConnected:  true,
		})
		room.EmptySince = nil
		s.storeSnapshot(ctx, room, now)
		return room.view(now), false, nil
	}

	if room.terminal() {
		return nil, false, ErrInvalidState
	}

	if room.Settings.SpectatorMode {
		room.Spectators[connectionID] = true
		return room.view(now), true, nil
	}

	return nil, false, ErrRoomFull
}

// SetPlayerReady flips a player's readiness. When every seat is taken and
// ready, the room starts: the transition is persisted first and the in-memory
// status only advances once the write is confirmed.
func (s *RoomService) SetPlayerReady(ctx context.Context, matchID, userID uint, ready bool, b Broadcaster) error {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.Status != StatusWaiting {
		return ErrInvalidState
	}
	p := room.player(userID)
	if p == nil {
		return ErrPlayerNotFound
	}

	p.IsReady = ready

	started := false
	if ready && room.Settings.Capacity > 0 &&
		len(room.Players) == room.Settings.Capacity &&
		room.readyCount() == room.Settings.Capacity {
		now := time.Now()
		if err := s.store.UpdateMatchStatus(ctx, room.MatchID, string(StatusInProgress), &now, nil); err != nil {
			return err
		}
		room.Status = StatusInProgress
		room.StartedAt = &now
		started = true
	}

	now := time.Now()
	if b != nil {
		b.Broadcast(room.ID, "player-ready", gin.H{
			"userId":     userID,
			"playerName": p.Name,
			"isReady":    ready,
		})
		if started {
			view := room.view(now)
			b.Broadcast(room.ID, "game-started", gin.H{
				"roomState": view,
				"countdown": 3,
			})
			b.Broadcast(room.ID, "game-state", view)
		}
	}

	s.storeSnapshot(ctx, room, now)
	return nil
}

// MakeMove validates and applies one cell write. Incorrect in-range values
// are stored anyway; correctness is reported, not enforced. Writing 0 clears
// the cell. Cells from the original deal are immutable.
func (s *RoomService) MakeMove(ctx context.Context, matchID, userID uint, row, col, value int, b Broadcaster) (*MoveResult, error) {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.checkDeadlineLocked(ctx, room, b); err != nil {
		return nil, err
	}
	if room.Status != StatusInProgress {
		return nil, ErrInvalidState
	}
	p := room.player(userID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	if row < 0 || row > 8 || col < 0 || col > 8 || value < 0 || value > 9 {
		return nil, ErrIllegalCell
	}
	if room.Given[row][col] {
		return nil, ErrIllegalCell
	}

	room.Grid[row][col] = value
	p.MovesMade++

	correct := value != 0 && value == room.Solution[row][col]
	if correct {
		p.Score += 10
	}

	result := &MoveResult{Row: row, Col: col, Value: value, Correct: correct}
	result.Completed = s.finishIfCompleteLocked(ctx, room)

	s.persistGridLocked(ctx, room)
	now := time.Now()
	s.storeSnapshot(ctx, room, now)

	if b != nil {
		b.Broadcast(room.ID, "move-made", gin.H{
			"userId":     userID,
			"playerName": p.Name,
			"row":        row,
			"col":        col,
			"value":      value,
			"correct":    correct,
		})
		if result.Completed {
			b.Broadcast(room.ID, "game-ended", gin.H{"reason": "completed"})
		}
		b.Broadcast(room.ID, "game-state", room.view(now))
	}

	return result, nil
}

// UseHint reveals the first empty or incorrect cell in row-major order and
// applies it to the grid as a move, so hints share the completion-check path.
// The revealed cell also goes back to the requester as hint-provided.
func (s *RoomService) UseHint(ctx context.Context, matchID, userID uint, b Broadcaster) (*Hint, error) {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.checkDeadlineLocked(ctx, room, b); err != nil {
		return nil, err
	}
	if room.Status != StatusInProgress {
		return nil, ErrInvalidState
	}
	p := room.player(userID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	if p.HintsUsed >= room.Settings.HintsAllowed {
		return nil, ErrNoHints
	}

	row, col, ok := room.firstHintCell()
	if !ok {
		return nil, ErrNoHints
	}

	p.HintsUsed++
	value := room.Solution[row][col]
	room.Grid[row][col] = value

	hint := &Hint{Row: row, Col: col, Value: value}
	completed := s.finishIfCompleteLocked(ctx, room)

	s.persistGridLocked(ctx, room)
	now := time.Now()
	s.storeSnapshot(ctx, room, now)

	if b != nil {
		if p.ConnectionID != "" {
			b.EmitTo(p.ConnectionID, "hint-provided", hint)
		}
		b.Broadcast(room.ID, "move-made", gin.H{
			"userId":     userID,
			"playerName": p.Name,
			"row":        row,
			"col":        col,
			"value":      value,
			"correct":    true,
		})
		if completed {
			b.Broadcast(room.ID, "game-ended", gin.H{"reason": "completed"})
		}
		b.Broadcast(room.ID, "game-state", room.view(now))
	}

	return hint, nil
}

// Surrender concedes the match for one player. When at most one player is
// left standing the room completes in favor of the remaining player.
func (s *RoomService) Surrender(ctx context.Context, matchID, userID uint, b Broadcaster) error {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := s.checkDeadlineLocked(ctx, room, b); err != nil {
		return err
	}
	if room.Status != StatusInProgress {
		return ErrInvalidState
	}
	p := room.player(userID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.Surrendered {
		return nil
	}

	// Count who would still be standing. The completing transition is
	// persisted before the flag is set or anything is broadcast, so a failed
	// write leaves the surrender fully retryable.
	var remaining *Player
	standing := 0
	for _, other := range room.Players {
		if other != p && !other.Surrendered {
			remaining = other
			standing++
		}
	}

	now := time.Now()
	completing := standing <= 1
	if completing {
		if err := s.store.UpdateMatchStatus(ctx, room.MatchID, string(StatusCompleted), nil, &now); err != nil {
			return err
		}
	}

	p.Surrendered = true

	if b != nil {
		b.Broadcast(room.ID, "player-surrendered", gin.H{
			"playerId":  userID,
			"timestamp": now.UTC().Format(time.RFC3339),
		})
	}

	if completing {
		room.Status = StatusCompleted
		room.EndedAt = &now

		if b != nil {
			payload := gin.H{"reason": "surrender"}
			if remaining != nil {
				payload["winnerId"] = remaining.UserID
			}
			b.Broadcast(room.ID, "game-ended", payload)
			b.Broadcast(room.ID, "game-state", room.view(now))
		}
	}

	s.storeSnapshot(ctx, room, now)
	return nil
}

// SendMessage relays a chat message to the whole room. Emitted under both
// event names the original clients listen on.
func (s *RoomService) SendMessage(matchID, userID uint, message string, b Broadcaster) error {
	room := s.registry.Get(RoomID(matchID))
	if room == nil {
		return ErrNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.player(userID)
	if p == nil {
		return ErrPlayerNotFound
	}

	payload := gin.H{
		"playerId":   userID,
		"playerName": p.Name,
		"message":    message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if b != nil {
		b.Broadcast(room.ID, "message-received", payload)
		b.Broadcast(room.ID, "game-message", payload)
	}
	return nil
}

// LeaveRoom marks the player disconnected. The player record stays so score
// and progress survive a reconnect; only connection liveness toggles.
func (s *RoomService) LeaveRoom(ctx context.Context, matchID, userID uint, connectionID string, b Broadcaster) {
	room := s.registry.Get(RoomID(matchID))
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	delete(room.Spectators, connectionID)

	p := room.player(userID)
	if p == nil || p.ConnectionID != connectionID {
		return
	}

	p.ConnectionID = ""
	p.IsConnected = false
	if room.connectedCount() == 0 {
		now := time.Now()
		room.EmptySince = &now
	}

	if b != nil {
		b.Broadcast(room.ID, "player-disconnected", gin.H{"userId": userID})
	}

	now := time.Now()
	s.storeSnapshot(ctx, room, now)
}

// GetRoomState returns the current outward view, for state resync requests.
func (s *RoomService) GetRoomState(ctx context.Context, matchID uint) (*RoomStateView, error) {
	room, err := s.registry.GetOrCreate(ctx, matchID)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.view(time.Now()), nil
}

// Run drives the periodic sweep: deadline expiry for live rooms and eviction
// of rooms that have been drained of connections past the grace period.
func (s *RoomService) Run(b Broadcaster) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.sweep(context.Background(), time.Now(), b)
	}
}

func (s *RoomService) sweep(ctx context.Context, now time.Time, b Broadcaster) {
	for _, room := range s.registry.Rooms() {
		room.mu.Lock()

		if err := s.checkDeadlineLocked(ctx, room, b); err != nil {
			log.Printf("Sweep: deadline check failed for %s: %v", room.ID, err)
		}

		evict := false
		drained := room.connectedCount() == 0 && len(room.Spectators) == 0
		switch {
		case room.terminal():
			evict = drained
		case drained && room.EmptySince != nil && now.Sub(*room.EmptySince) >= s.gracePeriod:
			if room.Status == StatusInProgress {
				if err := s.store.UpdateMatchStatus(ctx, room.MatchID, string(StatusAbandoned), nil, &now); err != nil {
					log.Printf("Sweep: failed to abandon %s: %v", room.ID, err)
				} else {
					room.Status = StatusAbandoned
					room.EndedAt = &now
					s.persistGridLocked(ctx, room)
					s.storeSnapshot(ctx, room, now)
					evict = true
				}
			} else {
				// A WAITING room that everyone left just drops out of memory.
				evict = true
			}
		}

		room.mu.Unlock()
		if evict {
			s.registry.Remove(room.ID)
		}
	}
}

// checkDeadlineLocked applies time-limit expiry exactly once. The transition
// is persisted before the in-memory status advances; concurrent callers that
// observe the expired deadline after the first see a terminal status and do
// nothing. Caller holds room.mu.
func (s *RoomService) checkDeadlineLocked(ctx context.Context, room *Room, b Broadcaster) error {
	d := room.deadline()
	if d.IsZero() || time.Now().Before(d) {
		return nil
	}

	if err := s.store.UpdateMatchStatus(ctx, room.MatchID, string(StatusCompleted), nil, &d); err != nil {
		return err
	}
	room.Status = StatusCompleted
	room.EndedAt = &d

	s.persistGridLocked(ctx, room)
	s.storeSnapshot(ctx, room, d)

	if b != nil {
		b.Broadcast(room.ID, "game-ended", gin.H{"reason": "timeout"})
		b.Broadcast(room.ID, "game-state", room.view(time.Now()))
	}
	return nil
}

// finishIfCompleteLocked runs the shared completion check used by moves and
// hints. A persistence failure leaves the room IN_PROGRESS; the next mutation
// re-detects the completed grid. Caller holds room.mu.
func (s *RoomService) finishIfCompleteLocked(ctx context.Context, room *Room) bool {
	if room.Status != StatusInProgress || !GridComplete(room.Grid, room.Solution) {
		return false
	}

	now := time.Now()
	if err := s.store.UpdateMatchStatus(ctx, room.MatchID, string(StatusCompleted), nil, &now); err != nil {
		log.Printf("Failed to persist completion for %s: %v", room.ID, err)
		return false
	}
	room.Status = StatusCompleted
	room.EndedAt = &now
	return true
}

// persistGridLocked writes the current grid snapshot. Non-critical: a failure
// is logged and gameplay carries on. Caller holds room.mu.
func (s *RoomService) persistGridLocked(ctx context.Context, room *Room) {
	if err := s.store.SaveMatchGrid(ctx, room.MatchID, MarshalGrid(room.Grid)); err != nil {
		log.Printf("Failed to save grid for %s: %v", room.ID, err)
	}
}

// storeSnapshot caches the outward room view in Redis so the last known state
// survives an eviction. Best-effort. Caller holds room.mu.
func (s *RoomService) storeSnapshot(ctx context.Context, room *Room, now time.Time) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(room.view(now))
	if err != nil {
		log.Printf("Failed to marshal snapshot for %s: %v", room.ID, err)
		return
	}
	if err := s.cache.Set(ctx, "roomstate:"+room.ID, data, 2*time.Hour).Err(); err != nil {
		log.Printf("Failed to cache snapshot for %s: %v", room.ID, err)
	}
}
