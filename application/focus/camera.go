package focus

import (
	"math"
	"time"

	"graphsync/domain/core/valueobjects"
)

// Viewport describes the rendering surface the camera frames.
type Viewport struct {
	Width   float64
	Height  float64
	Padding float64
	MaxZoom float64
}

// CameraAction centres the view on the visible entities.
type CameraAction struct {
	Center   valueobjects.Position `json:"center"`
	Scale    float64               `json:"scale"`
	FocusIDs []string              `json:"focusIds"`
	At       time.Time             `json:"at"`
}

// Frame computes the bounding-box centre and scale for ids. It reports false
// when none of the ids has a known position.
func Frame(ids []string, positions map[string]valueobjects.Position, vp Viewport) (CameraAction, bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false
	for _, id := range ids {
		p, ok := positions[id]
		if !ok {
			continue
		}
		found = true
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	if !found {
		return CameraAction{}, false
	}

	scale := vp.MaxZoom
	if w := maxX - minX; w > 0 {
		scale = math.Min(scale, (vp.Width-vp.Padding)/w)
	}
	if h := maxY - minY; h > 0 {
		scale = math.Min(scale, (vp.Height-vp.Padding)/h)
	}

	return CameraAction{
		Center:   valueobjects.Position{X: (minX + maxX) / 2, Y: (minY + maxY) / 2},
		Scale:    scale,
		FocusIDs: ids,
	}, true
}
