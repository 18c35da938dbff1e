// Package nav implements path planning, boundary enforcement and obstacle
// avoidance for the tractor.
//
// The navigator runs one periodic tick (10 Hz reference). Each tick pulls the
// fused pose, refreshes the obstacle map, checks the field boundary, tests the
// active corridor for blocking obstacles, advances or locally replans the
// waypoint path, and publishes a full status snapshot.
package nav

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/geo"
	"github.com/banshee-data/tractor.core/internal/monitoring"
)

// Mode is the navigator's operating state.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeManual     Mode = "manual"
	ModeAutonomous Mode = "autonomous"
)

// PoseProvider supplies read-only pose snapshots. This is the single direct
// cross-component handle permitted outside the bus.
type PoseProvider interface {
	Snapshot() fusion.PoseSnapshot
}

// Status is the full navigation snapshot published every tick.
type Status struct {
	Mode               Mode
	IsNavigating       bool
	PathValid          bool
	Position           geo.Point
	WithinBoundaries   bool
	AvoidingObstacle   bool
	CurrentWaypoint    int
	CompletedWaypoints int
	TotalWaypoints     int
	TotalDistance      float64
	RemainingDistance  float64
	Progress           float64
	ObstacleCount      int
	HasObstacles       bool
	NearestObstacleM   float64
	HasHumanCandidate  bool
	NearestHumanM      float64
	Timestamp          time.Time
}

// BoundaryViolationEvent is published on the inside→outside transition.
type BoundaryViolationEvent struct {
	Position  geo.Point
	Timestamp time.Time
}

// WaypointReachedEvent is published when a mission waypoint is reached.
type WaypointReachedEvent struct {
	Index     int
	Position  geo.Point
	Timestamp time.Time
}

// PathCompleteEvent is published when the final waypoint is reached.
type PathCompleteEvent struct {
	CompletedWaypoints int
	Timestamp          time.Time
}

// AvoidanceEvent is published when obstacle avoidance starts or stops.
type AvoidanceEvent struct {
	BlockingObstacles []string
	InsertedWaypoint  *geo.Point
	Timestamp         time.Time
}

// Navigator drives the tractor along waypoints inside the field boundary.
type Navigator struct {
	mu sync.Mutex

	bus       *bus.Bus
	cfg       *config.TuningConfig
	pose      PoseProvider
	obstacles *ObstacleMap

	mode         Mode
	waypoints    []geo.Point
	current      int
	completed    int
	total        float64
	remaining    float64
	progress     float64
	isNavigating bool
	pathValid    bool

	boundary    []geo.Point
	insideKnown bool
	wasInside   bool

	avoiding  bool
	avoidance *geo.Point
}

type event struct {
	topic   string
	payload interface{}
}

// New creates a Navigator wired to the bus. It subscribes to navigation
// commands and the obstacle sensor topics, and registers the navigation
// status request handler.
func New(b *bus.Bus, cfg *config.TuningConfig, pose PoseProvider) (*Navigator, error) {
	n := &Navigator{
		bus:       b,
		cfg:       cfg,
		pose:      pose,
		obstacles: NewObstacleMap(cfg.GetObstacleMergeDistanceM(), cfg.GetObstacleEviction()),
		mode:      ModeIdle,
		pathValid: true,
	}

	b.Subscribe(bus.TopicCommandSetWaypoints, func(payload interface{}) {
		if c, ok := payload.(bus.SetWaypointsCommand); ok {
			n.SetWaypoints(toPoints(c.Points))
		}
	})
	b.Subscribe(bus.TopicCommandSetBoundaries, func(payload interface{}) {
		if c, ok := payload.(bus.SetBoundariesCommand); ok {
			if err := n.SetFieldBoundaries(toPoints(c.Points)); err != nil {
				monitoring.Logf("nav: setBoundaries rejected: %v", err)
			}
		}
	})
	b.Subscribe(bus.TopicCommandStartNavigation, func(interface{}) {
		if err := n.StartNavigation(); err != nil {
			monitoring.Logf("nav: startNavigation rejected: %v", err)
		}
	})
	b.Subscribe(bus.TopicCommandStopNavigation, func(interface{}) {
		n.StopNavigation()
	})
	b.Subscribe(bus.TopicCommandMove, func(interface{}) {
		n.mu.Lock()
		if !n.isNavigating {
			n.mode = ModeManual
		}
		n.mu.Unlock()
	})
	b.Subscribe(bus.TopicCommandStop, func(interface{}) {
		n.mu.Lock()
		if n.mode == ModeManual {
			n.mode = ModeIdle
		}
		n.mu.Unlock()
	})

	b.Subscribe(bus.TopicSensorLidar, func(payload interface{}) {
		if s, ok := payload.(bus.LidarScan); ok {
			n.ingestLidar(s)
		}
	})
	b.Subscribe(bus.TopicSensorUltrasonic, func(payload interface{}) {
		if r, ok := payload.(bus.UltrasonicReading); ok {
			n.ingestUltrasonic(r)
		}
	})

	if err := b.RegisterRequestHandler(bus.TopicRequestNavStatus, func(interface{}) (interface{}, error) {
		return n.Status(), nil
	}); err != nil {
		return nil, err
	}
	return n, nil
}

// Obstacles exposes the obstacle map for tests and the simulation feed.
func (n *Navigator) Obstacles() *ObstacleMap { return n.obstacles }

// Mode returns the current operating state.
func (n *Navigator) Mode() Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// SetWaypoints replaces the mission path. Navigation stops and must be
// restarted explicitly; counters reset and the path is marked valid.
func (n *Navigator) SetWaypoints(points []geo.Point) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waypoints = append([]geo.Point(nil), points...)
	n.current = 0
	n.completed = 0
	n.total = geo.PathLength(points)
	n.remaining = n.total
	n.progress = 0
	n.isNavigating = false
	n.pathValid = true
	n.avoiding = false
	n.avoidance = nil
	monitoring.Logf("nav: waypoint path set (%d points, %.1f m)", len(points), n.total)
}

// SetFieldBoundaries replaces the boundary polygon. At least three points are
// required.
func (n *Navigator) SetFieldBoundaries(points []geo.Point) error {
	if len(points) < 3 {
		return fmt.Errorf("boundary polygon needs at least 3 points, got %d", len(points))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boundary = append([]geo.Point(nil), points...)
	n.insideKnown = false
	monitoring.Logf("nav: field boundary set (%d points)", len(points))
	return nil
}

// StartNavigation begins autonomous waypoint following. It fails if the path
// is empty, already complete, or marked invalid.
func (n *Navigator) StartNavigation() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.waypoints) == 0 {
		return fmt.Errorf("cannot start navigation: no waypoints set")
	}
	if !n.pathValid {
		return fmt.Errorf("cannot start navigation: path is marked invalid")
	}
	if n.current >= len(n.waypoints) {
		return fmt.Errorf("cannot start navigation: path already complete")
	}
	n.isNavigating = true
	n.mode = ModeAutonomous
	monitoring.Logf("nav: autonomous navigation started at waypoint %d/%d", n.current, len(n.waypoints))
	return nil
}

// StopNavigation halts autonomous progress. Idempotent.
func (n *Navigator) StopNavigation() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.isNavigating && n.mode != ModeAutonomous {
		return
	}
	n.isNavigating = false
	n.mode = ModeIdle
	n.avoiding = false
	n.avoidance = nil
	monitoring.Logf("nav: navigation stopped")
}

// Tick runs one navigation cycle at time now and publishes the resulting
// events and status snapshot.
func (n *Navigator) Tick(now time.Time) {
	pose := n.pose.Snapshot()
	n.obstacles.Evict(now)
	obstacles := n.obstacles.Snapshot()

	n.mu.Lock()
	var events []event

	// Boundary containment, edge-triggered on inside→outside.
	inside := true
	if len(n.boundary) >= 3 {
		inside = geo.PointInPolygon(pose.Position, n.boundary)
		if n.insideKnown && n.wasInside && !inside {
			events = append(events, event{bus.TopicNavBoundaryViolation, BoundaryViolationEvent{
				Position:  pose.Position,
				Timestamp: now,
			}})
			monitoring.Logf("nav: boundary violation at (%.1f, %.1f)", pose.Position.X, pose.Position.Y)
		}
		n.wasInside = inside
		n.insideKnown = true
	}

	// Corridor test and local replanning, edge-triggered.
	if n.isNavigating && n.pathValid && n.current < len(n.waypoints) {
		target := n.waypoints[n.current]
		blocking := blockingObstacles(pose.Position, target, obstacles, n.cfg.GetAvoidanceMarginM())

		switch {
		case len(blocking) > 0 && !n.avoiding:
			n.avoiding = true
			wp, err := n.replan(pose.Position, target, blocking)
			if err != nil {
				n.pathValid = false
				monitoring.Logf("nav: replan failed, path marked invalid: %v", err)
			} else {
				n.avoidance = wp
			}
			events = append(events, event{bus.TopicNavAvoidanceStarted, AvoidanceEvent{
				BlockingObstacles: obstacleIDs(blocking),
				InsertedWaypoint:  n.avoidance,
				Timestamp:         now,
			}})
		case len(blocking) == 0 && n.avoiding:
			n.avoiding = false
			n.avoidance = nil
			events = append(events, event{bus.TopicNavAvoidanceStopped, AvoidanceEvent{Timestamp: now}})
			monitoring.Logf("nav: obstacle cleared, resuming original path")
		}
	}

	// Waypoint advancement.
	if n.isNavigating && n.pathValid && n.current < len(n.waypoints) {
		target := n.waypoints[n.current]
		if n.avoidance != nil {
			target = *n.avoidance
		}
		if geo.Dist2D(pose.Position, target) < n.cfg.GetWaypointReachedThresholdM() {
			if n.avoidance != nil {
				// Detour point reached; continue to the mission waypoint.
				n.avoidance = nil
			} else {
				events = append(events, event{bus.TopicNavWaypointReached, WaypointReachedEvent{
					Index:     n.current,
					Position:  target,
					Timestamp: now,
				}})
				n.current++
				n.completed++
				if n.current >= len(n.waypoints) {
					n.isNavigating = false
					n.mode = ModeIdle
					n.avoiding = false
					events = append(events, event{bus.TopicNavPathComplete, PathCompleteEvent{
						CompletedWaypoints: n.completed,
						Timestamp:          now,
					}})
					monitoring.Logf("nav: path complete (%d waypoints)", n.completed)
				}
			}
		}
	}

	// Distance bookkeeping.
	if n.current >= len(n.waypoints) || len(n.waypoints) == 0 {
		n.remaining = 0
		if n.total > 0 {
			n.progress = 1
		}
	} else {
		rem := geo.Dist2D(pose.Position, n.waypoints[n.current])
		rem += geo.PathLength(n.waypoints[n.current:])
		n.remaining = rem
		if n.total > 0 {
			n.progress = clamp01(1 - rem/n.total)
		}
	}

	status := n.statusLocked(pose, obstacles, inside, now)
	n.mu.Unlock()

	for _, e := range events {
		n.bus.Publish(e.topic, e.payload)
	}
	n.bus.Publish(bus.TopicNavStatus, status)
}

// Status returns the current navigation snapshot without ticking.
func (n *Navigator) Status() Status {
	pose := n.pose.Snapshot()
	obstacles := n.obstacles.Snapshot()
	n.mu.Lock()
	defer n.mu.Unlock()
	inside := true
	if len(n.boundary) >= 3 {
		inside = geo.PointInPolygon(pose.Position, n.boundary)
	}
	return n.statusLocked(pose, obstacles, inside, pose.Timestamp)
}

func (n *Navigator) statusLocked(pose fusion.PoseSnapshot, obstacles []Obstacle, inside bool, now time.Time) Status {
	s := Status{
		Mode:               n.mode,
		IsNavigating:       n.isNavigating,
		PathValid:          n.pathValid,
		Position:           pose.Position,
		WithinBoundaries:   inside,
		AvoidingObstacle:   n.avoiding,
		CurrentWaypoint:    n.current,
		CompletedWaypoints: n.completed,
		TotalWaypoints:     len(n.waypoints),
		TotalDistance:      n.total,
		RemainingDistance:  n.remaining,
		Progress:           n.progress,
		ObstacleCount:      len(obstacles),
		Timestamp:          now,
	}
	nearest, nearestHuman := math.Inf(1), math.Inf(1)
	for _, o := range obstacles {
		d := geo.Dist2D(pose.Position, o.Position) - o.Radius()
		if d < 0 {
			d = 0
		}
		if d < nearest {
			nearest = d
		}
		if o.IsHumanCandidate() && d < nearestHuman {
			nearestHuman = d
		}
	}
	if !math.IsInf(nearest, 1) {
		s.HasObstacles = true
		s.NearestObstacleM = nearest
	}
	if !math.IsInf(nearestHuman, 1) {
		s.HasHumanCandidate = true
		s.NearestHumanM = nearestHuman
	}
	return s
}

// replan inserts one intermediate waypoint around the blocking obstacles,
// offset to the side opposite their centroid. It fails when the active
// segment is degenerate or the detour would leave the field boundary.
func (n *Navigator) replan(pos, target geo.Point, blocking []Obstacle) (*geo.Point, error) {
	if geo.Dist2D(pos, target) == 0 {
		return nil, fmt.Errorf("active segment is degenerate")
	}

	centers := make([]geo.Point, len(blocking))
	for i, o := range blocking {
		centers[i] = o.Position
	}
	centroid := geo.Centroid(centers)
	cl := geo.SegmentClearance(centroid, pos, target)

	side := cl.Side
	if side == 0 {
		side = 1
	}
	margin := n.cfg.GetAvoidanceMarginM()
	offset := -(side) * (cl.Distance + 2*margin)

	t := clamp01(cl.T)
	wp := geo.OffsetPerpendicular(pos, target, t, offset)

	if len(n.boundary) >= 3 && !geo.PointInPolygon(wp, n.boundary) {
		return nil, fmt.Errorf("detour waypoint (%.1f, %.1f) outside field boundary", wp.X, wp.Y)
	}
	monitoring.Logf("nav: replanned around %d obstacle(s), detour at (%.1f, %.1f)", len(blocking), wp.X, wp.Y)
	return &wp, nil
}

func (n *Navigator) ingestLidar(scan bus.LidarScan) {
	pose := n.pose.Snapshot()
	detections := ExtractFromScan(scan, pose,
		n.cfg.GetLidarSectorCount(),
		n.cfg.GetLidarMinSectorPoints(),
		n.cfg.GetLidarNearThresholdM())
	n.obstacles.ReplaceLidar(detections, scan.Timestamp)
}

func (n *Navigator) ingestUltrasonic(r bus.UltrasonicReading) {
	if r.Range <= 0 || math.IsNaN(r.Range) {
		return
	}
	pose := n.pose.Snapshot()
	yaw := pose.Orientation.Yaw
	a := yaw + r.Angle
	det := Obstacle{
		Position: geo.Point{
			X: pose.Position.X + r.Range*math.Cos(a),
			Y: pose.Position.Y + r.Range*math.Sin(a),
			Z: pose.Position.Z,
		},
		Width:      0.5,
		Depth:      0.5,
		Height:     defaultObstacleHeight,
		Confidence: 0.6,
		Source:     SourceUltrasonic,
	}
	n.obstacles.MergeUltrasonic(det, r.Timestamp)
}

// blockingObstacles returns the obstacles whose projection falls on the
// segment and whose perpendicular distance is under margin plus obstacle
// radius.
func blockingObstacles(pos, target geo.Point, obstacles []Obstacle, margin float64) []Obstacle {
	var out []Obstacle
	for _, o := range obstacles {
		cl := geo.SegmentClearance(o.Position, pos, target)
		if cl.T < 0 || cl.T > 1 {
			continue
		}
		if cl.Distance < margin+o.Radius() {
			out = append(out, o)
		}
	}
	return out
}

func obstacleIDs(obstacles []Obstacle) []string {
	ids := make([]string, len(obstacles))
	for i, o := range obstacles {
		ids[i] = o.ID
	}
	return ids
}

func toPoints(raw [][3]float64) []geo.Point {
	pts := make([]geo.Point, len(raw))
	for i, p := range raw {
		pts[i] = geo.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	return pts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
