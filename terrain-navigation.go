// Package terrainnav couples the traversability map pipeline with the
// kinodynamic tree search into a navigation session for a ground robot with
// a planar laser scanner.
package terrainnav

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils/perf"

	"github.com/viam-modules/terrain-navigation/config"
	"github.com/viam-modules/terrain-navigation/mapping"
	"github.com/viam-modules/terrain-navigation/planner"
	"github.com/viam-modules/terrain-navigation/sensors"
	"github.com/viam-modules/terrain-navigation/telemetry"
)

// ErrClosed denotes that a session method was called on a closed session.
var ErrClosed = errors.New("navigation session is closed")

const defaultTelemetryReportingInterval = time.Second

// NavigationSession owns the two process-wide state objects, the map
// pipeline and the most recent search tree. Scan ingest, planning and dumps
// are serialized by the session's lock, so these never mutate the map while a
// search runs against it. The pipeline returned by Pipeline is not guarded by
// that lock.
type NavigationSession struct {
	mu       sync.Mutex
	closed   bool
	pipeline *mapping.MapPipeline
	lastTree *planner.Tree

	searchConf planner.TreeSearchConf
	logger     logging.Logger

	cancelCtx     context.Context
	cancelFunc    func()
	ingestWorkers sync.WaitGroup

	exporter perf.Exporter
}

// New returns a navigation session for the given configuration.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*NavigationSession, error) {
	_, span := trace.StartSpan(ctx, "terrainnav::NavigationSession::New")
	defer span.End()

	if _, err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "error validating terrain navigation config")
	}

	gridWidth, gridHeight, gridResolution, boundarySize, maxStepSize, angularSampling, discountFactor :=
		config.GetOptionalParameters(cfg, logger)

	maskedAreas := make([]mapping.AlignedBox, 0, len(cfg.MaskedBoxes))
	for _, box := range cfg.MaskedBoxes {
		maskedAreas = append(maskedAreas, mapping.AlignedBox{
			Min: r3.Vector{X: box.MinX, Y: box.MinY, Z: box.MinZ},
			Max: r3.Vector{X: box.MaxX, Y: box.MaxY, Z: box.MaxZ},
		})
	}

	pipeline := mapping.NewMapPipeline(mapping.Config{
		GridWidth:      gridWidth,
		GridHeight:     gridHeight,
		GridResolution: gridResolution,
		BoundarySize:   boundarySize,
		MaxStepSize:    maxStepSize,
		MaskedAreas:    maskedAreas,
	}, logger)

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &NavigationSession{
		pipeline: pipeline,
		searchConf: planner.TreeSearchConf{
			MaxTreeSize:            cfg.MaxTreeSize,
			StepDistance:           cfg.StepDistance,
			AngularSampling:        angularSampling,
			DiscountFactor:         discountFactor,
			ObstacleSafetyDistance: cfg.ObstacleSafetyDistance,
			RobotWidth:             cfg.RobotWidth,
		},
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// EnableTelemetry starts the perf exporter so session stats get reported.
func (s *NavigationSession) EnableTelemetry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exporter != nil {
		return nil
	}
	exporter, err := telemetry.SetupTelemetry(defaultTelemetryReportingInterval)
	if err != nil {
		return errors.Wrap(err, "error setting up telemetry")
	}
	s.exporter = exporter
	return nil
}

// StartScanIngest runs a background worker feeding scans from the source
// into the map pipeline until the source is exhausted or the session closes.
func (s *NavigationSession) StartScanIngest(source sensors.ScanSource) {
	s.ingestWorkers.Add(1)
	go func() {
		defer s.ingestWorkers.Done()
		for {
			select {
			case <-s.cancelCtx.Done():
				return
			default:
			}

			reading, err := source.NextScan(s.cancelCtx)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					s.logger.Debug("scan source exhausted, stopping ingest")
					return
				}
				s.logger.Warnw("error getting scan from source", "error", err)
				continue
			}

			if _, err := s.IngestScan(s.cancelCtx, reading); err != nil {
				s.logger.Warnw("error ingesting scan", "error", err)
			}
		}
	}()
}

// IngestScan adds a single scan to the map, recomputing the traversability
// classification when the robot moved far enough. It returns whether the map
// was recomputed.
func (s *NavigationSession) IngestScan(ctx context.Context, reading sensors.ScanReading) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	updated := s.pipeline.Ingest(ctx, reading)
	if updated {
		s.pipeline.ComputeNewMap()
	}
	return updated, nil
}

// Plan runs a tree search from the start pose against the current map
// snapshot and returns the waypoint sequence. An empty sequence means no
// feasible expansion existed. The tree of the run is retained and available
// through LastTree.
func (s *NavigationSession) Plan(ctx context.Context, start spatialmath.Pose, domain planner.Domain) ([]planner.Waypoint, error) {
	ctx, span := trace.StartSpan(ctx, "terrainnav::NavigationSession::Plan")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	search := planner.NewTreeSearch(s.searchConf, domain, s.logger)
	waypoints := search.Waypoints(ctx, start)
	s.lastTree = search.Tree()
	return waypoints, nil
}

// LastTree returns the search tree generated by the most recent Plan call,
// nil before the first.
func (s *NavigationSession) LastTree() *planner.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTree
}

// Pipeline exposes the map pipeline for region stamping and direct grid
// access.
func (s *NavigationSession) Pipeline() *mapping.MapPipeline {
	return s.pipeline
}

// Dump returns a flat snapshot of the current map.
func (s *NavigationSession) Dump() (mapping.GridDump, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mapping.GridDump{}, ErrClosed
	}
	return s.pipeline.Dump(), nil
}

// Close stops the ingest worker and telemetry. Further session calls return
// ErrClosed.
func (s *NavigationSession) Close(ctx context.Context) error {
	_, span := trace.StartSpan(ctx, "terrainnav::NavigationSession::Close")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelFunc()
	s.ingestWorkers.Wait()

	if s.exporter != nil {
		s.exporter.Stop()
		s.exporter = nil
	}
	return nil
}
