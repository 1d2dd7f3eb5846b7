package valueobjects

import (
	"math"

	pkgerrors "graphsync/pkg/errors"
)

// Position is a layout coordinate reported by the renderer. It is transient:
// never part of identity or of a snapshot fingerprint.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition validates that both coordinates are finite.
func NewPosition(x, y float64) (Position, error) {
	if !isFinite(x) || !isFinite(y) {
		return Position{}, pkgerrors.NewValidationError("invalid coordinates: must be finite numbers")
	}
	return Position{X: x, Y: y}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
