package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"sudokuduel/models"

	"gorm.io/gorm"
)

// MatchStore is the narrow persistence gateway the room core talks to. The
// room code never reaches the database directly, so tests can supply an
// in-memory implementation.
type MatchStore interface {
	GetMatch(ctx context.Context, id uint) (*models.Match, error)
	UpdateMatchStatus(ctx context.Context, id uint, status string, startedAt, endedAt *time.Time) error
	SaveMatchGrid(ctx context.Context, id uint, grid string) error
}

type MatchService struct {
	db *gorm.DB
}

func NewMatchService(db *gorm.DB) *MatchService {
	return &MatchService{db: db}
}

type CreateMatchRequest struct {
	GameMode   string `json:"game_mode"`
	Difficulty string `json:"difficulty"`
}

// CreateMatch generates a fresh puzzle and persists the match record. The
// initial grid is stored separately from the playable grid so given cells
// stay identifiable after move snapshots overwrite SudokuGrid.
func (s *MatchService) CreateMatch(userID uint, req *CreateMatchRequest) (*models.Match, error) {
	gameMode := req.GameMode
	if gameMode == "" {
		gameMode = "SIMULTANEOUS"
	}
	if gameMode != "SOLO" && gameMode != "SIMULTANEOUS" {
		return nil, fmt.Errorf("unsupported game mode %q", gameMode)
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	puzzle, solution := GeneratePuzzle(difficulty, rng)
	deal := MarshalGrid(puzzle)

	match := models.Match{
		Status:       string(StatusWaiting),
		Player1ID:    userID,
		SudokuGrid:   deal,
		InitialGrid:  deal,
		Solution:     MarshalGrid(solution),
		GameMode:     gameMode,
		Difficulty:   difficulty,
		TimeLimit:    1800,
		HintsAllowed: 3,
	}

	if err := s.db.Create(&match).Error; err != nil {
		return nil, err
	}

	return &match, nil
}

// GetMatch loads a match with both player records preloaded. Implements the
// MatchStore read used for room hydration.
func (s *MatchService) GetMatch(ctx context.Context, id uint) (*models.Match, error) {
	var match models.Match
	err := s.db.WithContext(ctx).
		Preload("Player1").
		Preload("Player2").
		First(&match, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &match, nil
}

// UpdateMatchStatus persists a status transition. Callers treat a failure
// here as critical: the in-memory room is not advanced until this succeeds.
func (s *MatchService) UpdateMatchStatus(ctx context.Context, id uint, status string, startedAt, endedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if endedAt != nil {
		updates["ended_at"] = endedAt
	}

	result := s.db.WithContext(ctx).Model(&models.Match{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to persist status transition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMatchGrid writes the current grid snapshot. Non-critical: callers log
// and carry on when it fails.
func (s *MatchService) SaveMatchGrid(ctx context.Context, id uint, grid string) error {
	err := s.db.WithContext(ctx).Model(&models.Match{}).Where("id = ?", id).
		Update("sudoku_grid", grid).Error
	if err != nil {
		return fmt.Errorf("failed to save grid snapshot: %w", err)
	}
	return nil
}

// ListOpenMatches returns multiplayer matches still waiting for an opponent.
func (s *MatchService) ListOpenMatches() ([]models.Match, error) {
	var matches []models.Match
	err := s.db.
		Where("status = ? AND game_mode <> ? AND player2_id IS NULL", string(StatusWaiting), "SOLO").
		Preload("Player1").
		Order("created_at DESC").
		Find(&matches).Error
	return matches, err
}

// JoinMatch claims the second seat of an open match. Idempotent for the user
// already seated.
func (s *MatchService) JoinMatch(id, userID uint) (*models.Match, error) {
	var match models.Match
	if err := s.db.First(&match, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if match.Player1ID == userID || (match.Player2ID != nil && *match.Player2ID == userID) {
		return s.GetMatch(context.Background(), id)
	}
	if match.GameMode == "SOLO" {
		return nil, errors.New("cannot join a solo match")
	}
	if match.Status != string(StatusWaiting) {
		return nil, ErrInvalidState
	}

	// Guard against two users grabbing the seat at once.
	result := s.db.Model(&models.Match{}).
		Where("id = ? AND player2_id IS NULL", id).
		Update("player2_id", userID)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRoomFull
	}

	return s.GetMatch(context.Background(), id)
}
