// Package grid implements the world-anchored sliding grids used by the
// terrain mapping pipeline: a generic recenterable 2D grid, an elevation
// grid aggregating laser height samples, and a traversability grid derived
// from it.
package grid

import (
	"math"

	"github.com/golang/geo/r3"
)

// SlidingGrid is a finite 2D grid anchored to a world coordinate. The grid
// can be recentered while preserving the contents of every cell whose world
// position remains inside the footprint.
type SlidingGrid[T any] struct {
	width      int
	height     int
	resolution float64
	origin     r3.Vector
	cells      []T
	empty      func() T
}

// NewSlidingGrid returns a grid of width x height cells at the given
// resolution in meters per cell, centered on the world origin. The empty
// function produces the content of an unobserved cell.
func NewSlidingGrid[T any](width, height int, resolution float64, empty func() T) *SlidingGrid[T] {
	g := &SlidingGrid[T]{
		width:      width,
		height:     height,
		resolution: resolution,
		cells:      make([]T, width*height),
		empty:      empty,
	}
	for i := range g.cells {
		g.cells[i] = empty()
	}
	return g
}

// Width returns the number of cells along the x axis.
func (g *SlidingGrid[T]) Width() int { return g.width }

// Height returns the number of cells along the y axis.
func (g *SlidingGrid[T]) Height() int { return g.height }

// Resolution returns the cell edge length in meters.
func (g *SlidingGrid[T]) Resolution() float64 { return g.resolution }

// Origin returns the world coordinate of the grid center.
func (g *SlidingGrid[T]) Origin() r3.Vector { return g.origin }

// SetOrigin moves the grid anchor without touching cell contents. Used when
// deriving one grid from another that already slid.
func (g *SlidingGrid[T]) SetOrigin(origin r3.Vector) { g.origin = origin }

// InGrid reports whether the cell index is inside the grid.
func (g *SlidingGrid[T]) InGrid(ix, iy int) bool {
	return ix >= 0 && ix < g.width && iy >= 0 && iy < g.height
}

// Entry returns a pointer to the cell at the given index. The index must be
// inside the grid.
func (g *SlidingGrid[T]) Entry(ix, iy int) *T {
	if !g.InGrid(ix, iy) {
		panic("grid: entry index out of grid")
	}
	return &g.cells[iy*g.width+ix]
}

// GridPoint maps a world point to a cell index. The boolean is false when
// the point lies outside the grid footprint.
func (g *SlidingGrid[T]) GridPoint(p r3.Vector) (int, int, bool) {
	ix := int(math.Floor((p.X-g.origin.X)/g.resolution)) + g.width/2
	iy := int(math.Floor((p.Y-g.origin.Y)/g.resolution)) + g.height/2
	return ix, iy, g.InGrid(ix, iy)
}

// EntryAtPoint returns a pointer to the cell containing the world point, or
// false when the point is outside the grid.
func (g *SlidingGrid[T]) EntryAtPoint(p r3.Vector) (*T, bool) {
	ix, iy, ok := g.GridPoint(p)
	if !ok {
		return nil, false
	}
	return g.Entry(ix, iy), true
}

// WorldPoint returns the world coordinate of the center of the cell at the
// given index.
func (g *SlidingGrid[T]) WorldPoint(ix, iy int) r3.Vector {
	return r3.Vector{
		X: g.origin.X + (float64(ix-g.width/2)+0.5)*g.resolution,
		Y: g.origin.Y + (float64(iy-g.height/2)+0.5)*g.resolution,
	}
}

// MoveTo recenters the grid onto a new world coordinate. The actual shift is
// quantized to whole cells so that overlapping cells keep their contents;
// cells sliding in from outside the old footprint are reset to empty.
func (g *SlidingGrid[T]) MoveTo(newCenter r3.Vector) {
	dx := int(math.Round((newCenter.X - g.origin.X) / g.resolution))
	dy := int(math.Round((newCenter.Y - g.origin.Y) / g.resolution))
	if dx == 0 && dy == 0 {
		return
	}

	moved := make([]T, len(g.cells))
	for iy := 0; iy < g.height; iy++ {
		for ix := 0; ix < g.width; ix++ {
			ox, oy := ix+dx, iy+dy
			if g.InGrid(ox, oy) {
				moved[iy*g.width+ix] = g.cells[oy*g.width+ox]
			} else {
				moved[iy*g.width+ix] = g.empty()
			}
		}
	}
	g.cells = moved
	g.origin = g.origin.Add(r3.Vector{X: float64(dx) * g.resolution, Y: float64(dy) * g.resolution})
}

// Clear resets every cell to the empty value.
func (g *SlidingGrid[T]) Clear() {
	for i := range g.cells {
		g.cells[i] = g.empty()
	}
}
