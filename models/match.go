package models

import (
	"time"

	"gorm.io/gorm"
)

// Match is the durable record of one puzzle match. The live in-memory room is
// always seeded from this row and status transitions are written back to it.
type Match struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Status    string `json:"status" gorm:"not null;default:'WAITING'"` // WAITING, IN_PROGRESS, COMPLETED, ABANDONED
	Player1ID uint   `json:"player1_id" gorm:"not null"`
	Player2ID *uint  `json:"player2_id"`

	// Grids are stored as JSON-encoded 9x9 arrays. InitialGrid keeps the
	// original deal so given cells stay identifiable after moves are saved
	// into SudokuGrid. Solution is never serialized to API clients.
	SudokuGrid  string `json:"sudoku_grid" gorm:"type:text;not null"`
	InitialGrid string `json:"initial_grid" gorm:"type:text;not null"`
	Solution    string `json:"-" gorm:"type:text;not null"`

	GameMode      string `json:"game_mode" gorm:"not null;default:'SIMULTANEOUS'"` // SOLO, SIMULTANEOUS
	Difficulty    string `json:"difficulty" gorm:"not null;default:'medium'"`
	TimeLimit     int    `json:"time_limit" gorm:"not null;default:1800"` // seconds
	HintsAllowed  int    `json:"hints_allowed" gorm:"not null;default:3"`
	SpectatorMode bool   `json:"spectator_mode" gorm:"not null;default:false"`

	StartedAt *time.Time     `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Player1 User  `json:"player1,omitempty" gorm:"foreignKey:Player1ID"`
	Player2 *User `json:"player2,omitempty" gorm:"foreignKey:Player2ID"`
}
