package grid

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// ElevationCell aggregates laser height samples falling into one grid cell
// into a robust summary. The median rather than the mean is used as the cell
// height so single stray beams do not shift the estimate.
type ElevationCell struct {
	heights      []float64 // kept sorted
	minimum      float64
	maximum      float64
	median       float64
	interpolated bool
}

// NewElevationCell returns a cell with no measurements. An empty cell is
// identified by a zero measurement count together with a maximum of -Inf.
func NewElevationCell() ElevationCell {
	return ElevationCell{
		minimum: math.Inf(1),
		maximum: math.Inf(-1),
	}
}

// MeasurementCount returns the number of height samples added to the cell.
func (c *ElevationCell) MeasurementCount() int { return len(c.heights) }

// Minimum returns the lowest height sample seen, or +Inf for an empty cell.
func (c *ElevationCell) Minimum() float64 { return c.minimum }

// Maximum returns the highest height sample seen, or -Inf for an empty cell.
func (c *ElevationCell) Maximum() float64 { return c.maximum }

// Median returns the 50th-percentile estimate over the added samples.
func (c *ElevationCell) Median() float64 { return c.median }

// Interpolated reports whether the median was produced by the smoothing pass
// rather than by real measurements.
func (c *ElevationCell) Interpolated() bool { return c.interpolated }

// AddMeasurement inserts a height sample, updating minimum, maximum and the
// running median. Any interpolated state is discarded.
func (c *ElevationCell) AddMeasurement(height float64) {
	i := sort.SearchFloat64s(c.heights, height)
	c.heights = append(c.heights, 0)
	copy(c.heights[i+1:], c.heights[i:])
	c.heights[i] = height

	if height < c.minimum {
		c.minimum = height
	}
	if height > c.maximum {
		c.maximum = height
	}
	c.median = stat.Quantile(0.5, stat.Empirical, c.heights, nil)
	c.interpolated = false
}

// SetMinimum lowers the cell's minimum bound without counting as a
// measurement, e.g. from a beam passing over the cell.
func (c *ElevationCell) SetMinimum(height float64) {
	if height < c.minimum {
		c.minimum = height
	}
}

// SetMaximum raises the cell's maximum bound without counting as a
// measurement. A cell with only bounds and no samples classifies as an
// unknown obstacle.
func (c *ElevationCell) SetMaximum(height float64) {
	if height > c.maximum {
		c.maximum = height
	}
}

// SetInterpolated overwrites the median with an interpolated height and
// flags the cell. The measurement count is left untouched.
func (c *ElevationCell) SetInterpolated(height float64) {
	c.median = height
	c.interpolated = true
}

// ElevationGrid is a sliding grid of elevation cells fed by laser scans in
// the world frame.
type ElevationGrid struct {
	*SlidingGrid[ElevationCell]
}

// NewElevationGrid returns an elevation grid of the given dimensions.
func NewElevationGrid(width, height int, resolution float64) *ElevationGrid {
	return &ElevationGrid{NewSlidingGrid(width, height, resolution, NewElevationCell)}
}

// AddScan adds the height of every point that falls inside the grid to the
// corresponding cell. Points outside the footprint are dropped.
func (g *ElevationGrid) AddScan(points []r3.Vector) {
	for _, p := range points {
		if cell, ok := g.EntryAtPoint(p); ok {
			cell.AddMeasurement(p.Z)
		}
	}
}

// SmoothInto writes a conservatively interpolated copy of the grid into
// target. Measured cells are copied through unchanged. An unmeasured cell is
// filled only when bracketed by measurements on two opposite sides, either
// in the rows above and below or in the columns left and right. Its height
// becomes the median of the measured 8-neighbor medians and the cell is
// flagged interpolated. The bracketing requirement keeps open map boundaries
// from growing invented terrain.
func (g *ElevationGrid) SmoothInto(target *ElevationGrid) {
	target.SetOrigin(g.Origin())
	for iy := 0; iy < g.Height(); iy++ {
		for ix := 0; ix < g.Width(); ix++ {
			g.interpolateInto(target, ix, iy)
		}
	}
}

func (g *ElevationGrid) measuredAt(ix, iy int) bool {
	return g.InGrid(ix, iy) && g.Entry(ix, iy).MeasurementCount() > 0
}

func (g *ElevationGrid) interpolateInto(target *ElevationGrid, ix, iy int) {
	src := g.Entry(ix, iy)
	*target.Entry(ix, iy) = cloneCell(src)

	if src.MeasurementCount() > 0 {
		return
	}

	rowBracketed := false
	{
		above, below := false, false
		for dx := -1; dx <= 1; dx++ {
			above = above || g.measuredAt(ix+dx, iy-1)
			below = below || g.measuredAt(ix+dx, iy+1)
		}
		rowBracketed = above && below
	}
	if !rowBracketed {
		left, right := false, false
		for dy := -1; dy <= 1; dy++ {
			left = left || g.measuredAt(ix-1, iy+dy)
			right = right || g.measuredAt(ix+1, iy+dy)
		}
		if !left || !right {
			return
		}
	}

	dst := target.Entry(ix, iy)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if g.measuredAt(ix+dx, iy+dy) {
				dst.AddMeasurement(g.Entry(ix+dx, iy+dy).Median())
			}
		}
	}
	dst.SetInterpolated(dst.Median())
}

func cloneCell(c *ElevationCell) ElevationCell {
	clone := *c
	clone.heights = append([]float64(nil), c.heights...)
	return clone
}
