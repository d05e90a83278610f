package planner

import (
	"container/heap"
	"context"
	"math"

	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
)

// interiorSamplingStep is the angular spacing used when drawing interior
// samples from a direction interval. At most AngularSampling-2 of them are
// taken per interval.
const interiorSamplingStep = math.Pi / 60

// AngleInterval is an arc of locally admissible travel directions in the
// world frame, in radians.
type AngleInterval struct {
	Low  float64
	High float64
}

// Domain supplies the navigation-specific queries the search needs: goal
// detection, cost and heuristic estimates, locally admissible headings and
// the kinematic pose projection. Implementations must answer against a fixed
// snapshot of the map for the duration of one search run.
type Domain interface {
	// IsTerminal reports whether the node reached the goal.
	IsTerminal(node *Node) bool
	// Heuristic estimates the remaining cost from the node to the goal. The
	// estimate must never overestimate the true remaining cost.
	Heuristic(node *Node) float64
	// CostForNode returns the cost of travelling from the node's parent to
	// the node itself. It may include a cost of being at the node as well.
	CostForNode(node *Node) float64
	// NextPossibleDirections returns the angle intervals the robot can
	// drive towards from the given pose.
	NextPossibleDirections(pose spatialmath.Pose, obstacleSafetyDist, robotWidth float64) []AngleInterval
	// ProjectPose returns the pose the robot would reach by driving towards
	// the given heading for the given distance, honoring the robot's
	// driving constraints. The boolean is false when no feasible motion
	// exists.
	ProjectPose(pose spatialmath.Pose, heading, distance float64) (spatialmath.Pose, bool)
}

// TreeSearchConf configures one search run.
type TreeSearchConf struct {
	// MaxTreeSize is the node budget: no further node is expanded once the
	// tree holds this many nodes. The children of the last expansion may
	// take the tree above it.
	MaxTreeSize int
	// StepDistance is the distance in meters between two steps in the
	// search.
	StepDistance float64
	// AngularSampling is the maximum number of headings sampled per
	// direction interval.
	AngularSampling int
	// DiscountFactor is the multiplier applied to the cost of nodes at
	// depth D+1 with respect to nodes at depth D. The heuristic is not
	// rescaled; with a factor below one, admissibility is the caller's
	// responsibility.
	DiscountFactor float64
	// ObstacleSafetyDistance is the clearance margin between the robot and
	// obstacles, passed through to the direction oracle.
	ObstacleSafetyDistance float64
	// RobotWidth is the radius of the circle used to model the robot,
	// passed through to the direction oracle.
	RobotWidth float64
}

// TreeSearch expands a kinodynamic search tree best-first until the queue is
// empty or the node budget runs out. Goal nodes are recorded and not
// expanded; the search goes on after the first one. The tree generated by
// the last run is kept for inspection.
type TreeSearch struct {
	conf   TreeSearchConf
	domain Domain
	tree   *Tree
	logger logging.Logger
}

// NewTreeSearch returns a search over the given domain.
func NewTreeSearch(conf TreeSearchConf, domain Domain, logger logging.Logger) *TreeSearch {
	return &TreeSearch{
		conf:   conf,
		domain: domain,
		tree:   NewTree(),
		logger: logger,
	}
}

// Conf returns the search configuration.
func (ts *TreeSearch) Conf() TreeSearchConf { return ts.conf }

// Tree returns the tree generated by the last call to Waypoints.
func (ts *TreeSearch) Tree() *Tree { return ts.tree }

// Waypoints computes a trajectory from the start pose as a sequence of
// waypoints. Among the goal nodes reached it picks the one with the lowest
// accumulated cost; if the budget runs out before any goal is reached it
// degrades to the leaf with the lowest heuristic cost. An empty sequence
// means no feasible expansion existed from the start.
func (ts *TreeSearch) Waypoints(ctx context.Context, start spatialmath.Pose) []Waypoint {
	_, span := trace.StartSpan(ctx, "planner::TreeSearch::Waypoints")
	defer span.End()

	root := NewNode(start, headingOf(start))
	root.SetHeuristic(ts.domain.Heuristic(root))
	ts.tree.SetRoot(root)

	queue := &nodeQueue{}
	heap.Init(queue)
	queue.add(root)

	var bestGoal *Node
	expanded := 0
	for queue.Len() > 0 && ts.tree.Size() < ts.conf.MaxTreeSize {
		node := queue.pop()

		if ts.domain.IsTerminal(node) {
			if bestGoal == nil || node.Cost() < bestGoal.Cost() {
				bestGoal = node
			}
			continue
		}

		intervals := ts.domain.NextPossibleDirections(node.Pose(), ts.conf.ObstacleSafetyDistance, ts.conf.RobotWidth)
		for _, heading := range ts.directionsFromIntervals(intervals) {
			pose, feasible := ts.domain.ProjectPose(node.Pose(), heading, ts.conf.StepDistance)
			if !feasible {
				continue
			}
			child := NewNode(pose, heading)
			ts.tree.AddChild(node, child)
			child.SetCost(node.Cost() + math.Pow(ts.conf.DiscountFactor, float64(node.Depth()))*ts.domain.CostForNode(child))
			child.SetHeuristic(ts.domain.Heuristic(child))
			queue.add(child)
		}
		expanded++
	}

	if bestGoal != nil {
		ts.logger.Debugf("tree search reached goal after expanding %d nodes, tree size %d, cost %f",
			expanded, ts.tree.Size(), bestGoal.Cost())
		return ts.tree.BuildTrajectoryTo(bestGoal)
	}

	best := ts.bestLeaf()
	if best == nil || best == root {
		ts.logger.Warn("tree search found no feasible expansion from the start pose")
		return nil
	}
	ts.logger.Debugf("tree search exhausted budget after expanding %d nodes, tree size %d, best heuristic cost %f",
		expanded, ts.tree.Size(), best.HeuristicCost())
	return ts.tree.BuildTrajectoryTo(best)
}

// bestLeaf returns the leaf with the lowest heuristic cost, preferring
// earlier nodes on ties.
func (ts *TreeSearch) bestLeaf() *Node {
	var best *Node
	for _, n := range ts.tree.Nodes() {
		if !n.IsLeaf() {
			continue
		}
		if best == nil || n.HeuristicCost() < best.HeuristicCost() {
			best = n
		}
	}
	return best
}

// directionsFromIntervals samples concrete headings from the admissible
// angle intervals. Both interval endpoints are always emitted; up to
// AngularSampling-2 interior samples are spread uniformly across the span.
// Duplicate headings are dropped.
func (ts *TreeSearch) directionsFromIntervals(intervals []AngleInterval) []float64 {
	var directions []float64
	seen := make(map[float64]struct{})
	add := func(angle float64) {
		if _, ok := seen[angle]; ok {
			return
		}
		seen[angle] = struct{}{}
		directions = append(directions, angle)
	}

	for _, interval := range intervals {
		span := interval.High - interval.Low
		add(interval.Low)
		if span <= 0 {
			continue
		}
		add(interval.High)

		interior := int(math.Floor(span / interiorSamplingStep))
		if maxInterior := ts.conf.AngularSampling - 2; interior > maxInterior {
			interior = maxInterior
		}
		for k := 1; k <= interior; k++ {
			add(interval.Low + span*float64(k)/float64(interior+1))
		}
	}
	return directions
}

// nodeQueue is a priority queue of leaves keyed by heuristic cost ascending.
// Ties break by insertion order so runs are deterministic.
type nodeQueue struct {
	entries []queuedNode
	counter int
}

type queuedNode struct {
	node *Node
	seq  int
}

func (q *nodeQueue) Len() int { return len(q.entries) }

func (q *nodeQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if a.node.HeuristicCost() != b.node.HeuristicCost() {
		return a.node.HeuristicCost() < b.node.HeuristicCost()
	}
	return a.seq < b.seq
}

func (q *nodeQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }

func (q *nodeQueue) Push(x interface{}) {
	q.entries = append(q.entries, x.(queuedNode))
}

func (q *nodeQueue) Pop() interface{} {
	old := q.entries
	n := len(old)
	x := old[n-1]
	q.entries = old[:n-1]
	return x
}

func (q *nodeQueue) add(node *Node) {
	heap.Push(q, queuedNode{node: node, seq: q.counter})
	q.counter++
}

func (q *nodeQueue) pop() *Node {
	return heap.Pop(q).(queuedNode).node
}
