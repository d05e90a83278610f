// Package dataprocess manages code related to saving map snapshots to disk.
package dataprocess

import (
	"bufio"
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	pc "go.viam.com/rdk/pointcloud"

	"github.com/viam-modules/terrain-navigation/grid"
	"github.com/viam-modules/terrain-navigation/mapping"
)

const (
	// MapTimeFormat is the timestamp format used in snapshot filenames.
	MapTimeFormat = "2006-01-02T15:04:05.0000Z"
)

// Cell classifications are encoded in the pointcloud colors so viewers can
// tell terrain from obstacles.
var classColors = map[grid.Traversability]color.NRGBA{
	grid.Traversable:     {G: 255},
	grid.Obstacle:        {R: 255},
	grid.UnknownObstacle: {R: 255, G: 165},
}

// CreateTimestampFilename creates an absolute filename with a map name and
// timestamp written into the filename.
func CreateTimestampFilename(dataDirectory, mapName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, mapName+"_map_"+timeStamp.UTC().Format(MapTimeFormat)+fileType)
}

// PointCloudFromDump converts a map snapshot into a pointcloud with one
// point per classified cell. Cell heights come from the smoothed elevation;
// cells known only through their maximum use that instead. Unclassified
// cells carry no information and are skipped.
func PointCloudFromDump(dump mapping.GridDump) (pc.PointCloud, error) {
	cloud := pc.NewWithPrealloc(dump.Width * dump.Height)

	for iy := 0; iy < dump.Height; iy++ {
		for ix := 0; ix < dump.Width; ix++ {
			i := iy*dump.Width + ix
			cl := dump.Traversability[i]
			if cl == grid.Unclassified {
				continue
			}

			height := dump.Heights[i]
			if math.IsInf(height, 1) {
				height = dump.Maxes[i]
			}
			if math.IsInf(height, 0) {
				continue
			}

			point := r3.Vector{
				X: dump.GridPosition.X + (float64(ix-dump.Width/2)+0.5)*dump.Resolution,
				Y: dump.GridPosition.Y + (float64(iy-dump.Height/2)+0.5)*dump.Resolution,
				Z: height,
			}
			if err := cloud.Set(point, pc.NewColoredData(classColors[cl])); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}

// WriteDumpToFile encodes the map snapshot as a PCD and saves it to the
// passed filename.
func WriteDumpToFile(dump mapping.GridDump, filename string) error {
	cloud, err := PointCloudFromDump(dump)
	if err != nil {
		return err
	}
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(cloud, buf, pc.PCDBinary); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
