package services

import (
	"sync"
	"time"
)

type RoomStatus string

const (
	StatusWaiting    RoomStatus = "WAITING"
	StatusInProgress RoomStatus = "IN_PROGRESS"
	StatusCompleted  RoomStatus = "COMPLETED"
	StatusAbandoned  RoomStatus = "ABANDONED"
)

// RoomSettings are fixed at room creation from the backing match record.
type RoomSettings struct {
	TimeLimit     int  `json:"timeLimit"` // seconds, 0 disables the deadline
	HintsAllowed  int  `json:"hintsAllowed"`
	SpectatorMode bool `json:"spectatorMode"`
	Capacity      int  `json:"-"`
}

// Player is one admitted member of a room. Players are never removed once
// admitted; disconnects only toggle connection liveness so score and progress
// survive a reconnect.
type Player struct {
	UserID       uint
	Name         string
	ConnectionID string // empty while disconnected
	IsReady      bool
	IsConnected  bool
	Surrendered  bool
	Score        int
	MovesMade    int
	HintsUsed    int
}

// Room is the live, in-memory representation of one match. All mutations must
// happen while holding mu, including the persistence calls that accompany
// status transitions, so concurrent operations on the same room serialize.
type Room struct {
	mu sync.Mutex

	ID       string
	MatchID  uint
	Status   RoomStatus
	Players  []*Player
	Grid     Grid
	Solution Grid
	Given    [9][9]bool // cells from the original deal, immutable during play
	Settings RoomSettings

	GameMode   string
	Difficulty string

	Spectators map[string]bool // connection ids without mutation rights

	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	EmptySince *time.Time // set when the last connected player drops
}

// MoveResult reports the outcome of an accepted move. Incorrect in-range
// moves are stored anyway; correctness is informational.
type MoveResult struct {
	Row       int  `json:"row"`
	Col       int  `json:"col"`
	Value     int  `json:"value"`
	Correct   bool `json:"correct"`
	Completed bool `json:"completed"`
}

// Hint reveals one cell of the solution.
type Hint struct {
	Row   int `json:"row"`
	Col   int `json:"col"`
	Value int `json:"value"`
}

func (r *Room) player(userID uint) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) connectedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

func (r *Room) readyCount() int {
	n := 0
	for _, p := range r.Players {
		if p.IsReady {
			n++
		}
	}
	return n
}

func (r *Room) terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusAbandoned
}

// deadline returns the wall-clock time at which the match expires, or zero
// when no deadline applies.
func (r *Room) deadline() time.Time {
	if r.Status != StatusInProgress || r.StartedAt == nil || r.Settings.TimeLimit <= 0 {
		return time.Time{}
	}
	return r.StartedAt.Add(time.Duration(r.Settings.TimeLimit) * time.Second)
}

// firstHintCell picks the hint target: the first cell in row-major order that
// is empty or holds a wrong value. Deterministic for a given grid state.
func (r *Room) firstHintCell() (row, col int, ok bool) {
	for row = 0; row < 9; row++ {
		for col = 0; col < 9; col++ {
			if r.Grid[row][col] != r.Solution[row][col] {
				return row, col, true
			}
		}
	}
	return 0, 0, false
}

// PlayerView is the outward projection of a Player.
type PlayerView struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	IsReady        bool   `json:"isReady"`
	IsConnected    bool   `json:"isConnected"`
	Score          int    `json:"score"`
	Moves          int    `json:"moves"`
	HintsUsed      int    `json:"hintsUsed"`
	HintsRemaining int    `json:"hintsRemaining"`
}

// GameStateView is the grid-level slice of the room state payload.
type GameStateView struct {
	Grid          Grid       `json:"grid"`
	Solution      *Grid      `json:"solution,omitempty"` // only after the room ends
	TimeRemaining int        `json:"timeRemaining"`
	GameMode      string     `json:"gameMode"`
	Difficulty    string     `json:"difficulty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
}

// RoomStateView is the full outward-facing room state broadcast to clients.
type RoomStateView struct {
	ID             string        `json:"id"`
	Status         RoomStatus    `json:"status"`
	Players        []PlayerView  `json:"players"`
	SpectatorCount int           `json:"spectatorCount"`
	GameState      GameStateView `json:"gameState"`
	Settings       RoomSettings  `json:"settings"`
}

// view projects the room into its broadcastable form. The solution is
// redacted until the room reaches a terminal state. Caller holds r.mu.
func (r *Room) view(now time.Time) *RoomStateView {
	players := make([]PlayerView, len(r.Players))
	for i, p := range r.Players {
		players[i] = PlayerView{
			ID:             p.UserID,
			Name:           p.Name,
			IsReady:        p.IsReady,
			IsConnected:    p.IsConnected,
			Score:          p.Score,
			Moves:          p.MovesMade,
			HintsUsed:      p.HintsUsed,
			HintsRemaining: r.Settings.HintsAllowed - p.HintsUsed,
		}
	}

	timeRemaining := r.Settings.TimeLimit
	if d := r.deadline(); !d.IsZero() {
		timeRemaining = int(d.Sub(now).Seconds())
		if timeRemaining < 0 {
			timeRemaining = 0
		}
	}
	if r.terminal() {
		timeRemaining = 0
	}

	view := &RoomStateView{
		ID:             r.ID,
		Status:         r.Status,
		Players:        players,
		SpectatorCount: len(r.Spectators),
		GameState: GameStateView{
			Grid:          r.Grid,
			TimeRemaining: timeRemaining,
			GameMode:      r.GameMode,
			Difficulty:    r.Difficulty,
			StartTime:     r.StartedAt,
		},
		Settings: r.Settings,
	}
	if r.terminal() {
		solution := r.Solution
		view.GameState.Solution = &solution
	}
	return view
}
