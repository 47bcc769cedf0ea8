package services

import "errors"

// Validation errors are terminal for the single requesting call: they are
// reported to the originating connection only and never broadcast.
var (
	ErrNotFound       = errors.New("match not found")
	ErrPlayerNotFound = errors.New("player is not a member of this room")
	ErrRoomFull       = errors.New("room is full")
	ErrInvalidState   = errors.New("operation not allowed in the current game state")
	ErrIllegalCell    = errors.New("cell is fixed or out of range")
	ErrNoHints        = errors.New("no hints available")
)
