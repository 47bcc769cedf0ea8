package services

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// Grid is a 9x9 sudoku board. 0 means an empty cell.
type Grid [9][9]int

// targetGivens maps a difficulty to the number of clues left in the deal.
func targetGivens(difficulty string) int {
	switch difficulty {
	case "easy":
		return 40
	case "medium":
		return 34
	case "hard":
		return 28
	case "expert":
		return 24
	default:
		return 34
	}
}

// GeneratePuzzle produces a puzzle and its solution for the requested
// difficulty. The output is deterministic for a given rng, which the tests
// rely on. Clues are carved from a full random solution; a removal is kept
// only while the puzzle still has a unique solution.
func GeneratePuzzle(difficulty string, rng *rand.Rand) (puzzle, solution Grid) {
	fillGrid(&solution, 0, rng)
	puzzle = solution

	positions := rng.Perm(81)
	target := targetGivens(difficulty)
	givens := 81

	for _, pos := range positions {
		if givens <= target {
			break
		}
		row, col := pos/9, pos%9
		removed := puzzle[row][col]
		puzzle[row][col] = 0
		if countSolutions(puzzle, 2) != 1 {
			puzzle[row][col] = removed
			continue
		}
		givens--
	}

	return puzzle, solution
}

// fillGrid completes the grid from the given cell index with backtracking,
// trying candidates in random order so every deal differs.
func fillGrid(g *Grid, pos int, rng *rand.Rand) bool {
	if pos == 81 {
		return true
	}
	row, col := pos/9, pos%9
	if g[row][col] != 0 {
		return fillGrid(g, pos+1, rng)
	}

	candidates := rng.Perm(9)
	for _, c := range candidates {
		value := c + 1
		if canPlace(g, row, col, value) {
			g[row][col] = value
			if fillGrid(g, pos+1, rng) {
				return true
			}
			g[row][col] = 0
		}
	}
	return false
}

// countSolutions counts solutions of the puzzle up to the given limit.
func countSolutions(g Grid, limit int) int {
	count := 0
	var solve func(pos int) bool
	solve = func(pos int) bool {
		for ; pos < 81; pos++ {
			if g[pos/9][pos%9] == 0 {
				break
			}
		}
		if pos == 81 {
			count++
			return count >= limit
		}
		row, col := pos/9, pos%9
		for value := 1; value <= 9; value++ {
			if canPlace(&g, row, col, value) {
				g[row][col] = value
				if solve(pos + 1) {
					g[row][col] = 0
					return true
				}
				g[row][col] = 0
			}
		}
		return false
	}
	solve(0)
	return count
}

func canPlace(g *Grid, row, col, value int) bool {
	for i := 0; i < 9; i++ {
		if g[row][i] == value || g[i][col] == value {
			return false
		}
	}
	boxRow, boxCol := row/3*3, col/3*3
	for r := boxRow; r < boxRow+3; r++ {
		for c := boxCol; c < boxCol+3; c++ {
			if g[r][c] == value {
				return false
			}
		}
	}
	return true
}

// GridLegal reports whether the grid violates any sudoku constraint. Empty
// cells are ignored, so a partially filled grid can still be legal.
func GridLegal(g Grid) bool {
	for unit := 0; unit < 9; unit++ {
		var row, col, box [10]bool
		for i := 0; i < 9; i++ {
			if v := g[unit][i]; v != 0 {
				if row[v] {
					return false
				}
				row[v] = true
			}
			if v := g[i][unit]; v != 0 {
				if col[v] {
					return false
				}
				col[v] = true
			}
			r, c := unit/3*3+i/3, unit%3*3+i%3
			if v := g[r][c]; v != 0 {
				if box[v] {
					return false
				}
				box[v] = true
			}
		}
	}
	return true
}

// GridComplete reports whether every cell is filled and matches the solution.
func GridComplete(g, solution Grid) bool {
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			if g[row][col] == 0 || g[row][col] != solution[row][col] {
				return false
			}
		}
	}
	return true
}

// MarshalGrid serializes a grid to the JSON string stored on the match record.
func MarshalGrid(g Grid) string {
	data, _ := json.Marshal(g)
	return string(data)
}

// ParseGrid decodes a grid from its stored JSON form.
func ParseGrid(data string) (Grid, error) {
	var g Grid
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return Grid{}, fmt.Errorf("failed to parse grid: %w", err)
	}
	return g, nil
}
