package mapping

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/viam-modules/terrain-navigation/grid"
)

// GridDump is a flat snapshot of the current map for consumers such as
// visualizers. All arrays are row-major with index y*Width + x.
type GridDump struct {
	Width  int
	Height int
	// Resolution is the cell edge length in meters.
	Resolution float64
	// Heights holds the smoothed cell median, or +Inf for cells without any
	// measurement.
	Heights []float64
	// Maxes holds the highest sample per cell, or -Inf for empty cells.
	Maxes []float64
	// Interpolated flags cells whose height came from interpolation.
	Interpolated []bool
	// Traversability holds the per-cell classification.
	Traversability []grid.Traversability
	// GridPosition is the world coordinate of the grid center.
	GridPosition r3.Vector
}

// Dump assembles a snapshot from the smoothed elevation grid and the
// traversability grid.
func (m *MapPipeline) Dump() GridDump {
	width, height := m.interpolatedGrid.Width(), m.interpolatedGrid.Height()
	dump := GridDump{
		Width:          width,
		Height:         height,
		Resolution:     m.interpolatedGrid.Resolution(),
		Heights:        make([]float64, width*height),
		Maxes:          make([]float64, width*height),
		Interpolated:   make([]bool, width*height),
		Traversability: make([]grid.Traversability, width*height),
		GridPosition:   m.travGrid.Origin(),
	}

	for iy := 0; iy < height; iy++ {
		for ix := 0; ix < width; ix++ {
			i := iy*width + ix
			cell := m.interpolatedGrid.Entry(ix, iy)
			if cell.MeasurementCount() > 0 {
				dump.Heights[i] = cell.Median()
			} else {
				dump.Heights[i] = math.Inf(1)
			}
			dump.Maxes[i] = cell.Maximum()
			dump.Interpolated[i] = cell.Interpolated()
			dump.Traversability[i] = *m.travGrid.Entry(ix, iy)
		}
	}
	return dump
}
