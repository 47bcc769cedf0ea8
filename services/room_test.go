package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareRoom(status RoomStatus) *Room {
	return &Room{
		ID:     "room_1",
		Status: status,
		Players: []*Player{
			{UserID: 1, Name: "Alice", IsConnected: true},
		},
		Solution:   Grid{{5}},
		Settings:   RoomSettings{TimeLimit: 1800, HintsAllowed: 3, Capacity: 1},
		Spectators: map[string]bool{},
	}
}

func TestViewRedactsSolutionUntilTerminal(t *testing.T) {
	now := time.Now()

	for _, status := range []RoomStatus{StatusWaiting, StatusInProgress} {
		room := newBareRoom(status)
		view := room.view(now)
		assert.Nil(t, view.GameState.Solution, "solution must be hidden while %s", status)
	}

	for _, status := range []RoomStatus{StatusCompleted, StatusAbandoned} {
		room := newBareRoom(status)
		view := room.view(now)
		require.NotNil(t, view.GameState.Solution, "solution revealed once %s", status)
		assert.Equal(t, room.Solution, *view.GameState.Solution)
	}
}

func TestViewPlayerProjection(t *testing.T) {
	room := newBareRoom(StatusInProgress)
	room.Players[0].Score = 30
	room.Players[0].MovesMade = 4
	room.Players[0].HintsUsed = 1

	view := room.view(time.Now())
	require.Len(t, view.Players, 1)
	p := view.Players[0]
	assert.Equal(t, uint(1), p.ID)
	assert.Equal(t, 30, p.Score)
	assert.Equal(t, 4, p.Moves)
	assert.Equal(t, 1, p.HintsUsed)
	assert.Equal(t, 2, p.HintsRemaining)
}

func TestViewTimeRemaining(t *testing.T) {
	room := newBareRoom(StatusInProgress)
	started := time.Now().Add(-100 * time.Second)
	room.StartedAt = &started

	view := room.view(time.Now())
	assert.InDelta(t, 1700, view.GameState.TimeRemaining, 2)

	// past the deadline the counter clamps at zero
	started = time.Now().Add(-2000 * time.Second)
	room.StartedAt = &started
	view = room.view(time.Now())
	assert.Equal(t, 0, view.GameState.TimeRemaining)
}

func TestDeadlineOnlyWhileInProgress(t *testing.T) {
	room := newBareRoom(StatusWaiting)
	assert.True(t, room.deadline().IsZero())

	started := time.Now()
	room.Status = StatusInProgress
	room.StartedAt = &started
	assert.Equal(t, started.Add(1800*time.Second), room.deadline())

	room.Settings.TimeLimit = 0
	assert.True(t, room.deadline().IsZero(), "no deadline without a time limit")
}

func TestFirstHintCellRowMajor(t *testing.T) {
	room := newBareRoom(StatusInProgress)
	room.Solution = Grid{}
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			room.Solution[row][col] = (row*3+row/3+col)%9 + 1
		}
	}
	room.Grid = room.Solution

	// a wrong cell beats a later empty one in row-major order
	room.Grid[2][4] = 0
	room.Grid[1][7] = room.Solution[1][7]%9 + 1

	row, col, ok := room.firstHintCell()
	require.True(t, ok)
	assert.Equal(t, 1, row)
	assert.Equal(t, 7, col)

	room.Grid[1][7] = room.Solution[1][7]
	row, col, ok = room.firstHintCell()
	require.True(t, ok)
	assert.Equal(t, 2, row)
	assert.Equal(t, 4, col)

	room.Grid[2][4] = room.Solution[2][4]
	_, _, ok = room.firstHintCell()
	assert.False(t, ok, "a solved grid has no hint target")
}
