package nav

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/geo"
)

// Obstacle source labels.
const (
	SourceLidar      = "lidar"
	SourceUltrasonic = "ultrasonic"
)

// MaxObstacleConfidence caps merged detection confidence.
const MaxObstacleConfidence = 0.95

// defaultObstacleHeight is assigned to lidar detections; the planar scan
// carries no vertical extent.
const defaultObstacleHeight = 1.0

// Human-candidate size envelope (metres of horizontal extent). Grounded in
// the pedestrian bounding-box envelope used for track classification.
const (
	humanMinExtent = 0.2
	humanMaxExtent = 0.9
)

// Obstacle is one detected object in the local field frame.
type Obstacle struct {
	ID         string
	Position   geo.Point
	Width      float64
	Height     float64
	Depth      float64
	Confidence float64
	Source     string
	LastSeen   time.Time
}

// Radius is half the larger horizontal extent, used by the corridor test.
func (o Obstacle) Radius() float64 {
	return math.Max(o.Width, o.Depth) / 2
}

// IsHumanCandidate reports whether the obstacle's horizontal extent fits the
// pedestrian envelope. The safety monitor applies the stricter human-proximity
// distance to candidates.
func (o Obstacle) IsHumanCandidate() bool {
	extent := math.Max(o.Width, o.Depth)
	return extent >= humanMinExtent && extent <= humanMaxExtent
}

// ObstacleMap maintains the detected obstacle set. Lidar scans wholesale-
// replace the lidar-sourced obstacles; ultrasonic detections merge into any
// existing obstacle within the merge distance. Obstacles unseen past the
// eviction age are dropped regardless of source.
type ObstacleMap struct {
	mu        sync.Mutex
	obstacles []Obstacle
	mergeDist float64
	eviction  time.Duration
}

// NewObstacleMap creates an empty map with the given merge radius and
// eviction age.
func NewObstacleMap(mergeDist float64, eviction time.Duration) *ObstacleMap {
	return &ObstacleMap{mergeDist: mergeDist, eviction: eviction}
}

// ReplaceLidar swaps the lidar-sourced obstacle set for the detections of a
// complete scan. Ultrasonic obstacles are untouched.
func (m *ObstacleMap) ReplaceLidar(detections []Obstacle, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.obstacles[:0]
	for _, o := range m.obstacles {
		if o.Source != SourceLidar {
			kept = append(kept, o)
		}
	}
	m.obstacles = kept

	for _, d := range detections {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.Source = SourceLidar
		d.LastSeen = now
		if d.Confidence > MaxObstacleConfidence {
			d.Confidence = MaxObstacleConfidence
		}
		m.obstacles = append(m.obstacles, d)
	}
}

// MergeUltrasonic merges a single ultrasonic detection into the map. An
// existing obstacle within the merge distance is updated by confidence-
// weighted position averaging and its confidence incremented (capped);
// otherwise the detection is appended as a new obstacle.
func (m *ObstacleMap) MergeUltrasonic(det Obstacle, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.obstacles {
		o := &m.obstacles[i]
		if geo.Dist2D(o.Position, det.Position) > m.mergeDist {
			continue
		}
		total := o.Confidence + det.Confidence
		if total > 0 {
			wOld := o.Confidence / total
			wNew := det.Confidence / total
			o.Position = geo.Point{
				X: o.Position.X*wOld + det.Position.X*wNew,
				Y: o.Position.Y*wOld + det.Position.Y*wNew,
				Z: o.Position.Z*wOld + det.Position.Z*wNew,
			}
		}
		o.Confidence = math.Min(o.Confidence+0.1, MaxObstacleConfidence)
		o.LastSeen = now
		return
	}

	if det.ID == "" {
		det.ID = uuid.NewString()
	}
	det.Source = SourceUltrasonic
	det.LastSeen = now
	if det.Confidence > MaxObstacleConfidence {
		det.Confidence = MaxObstacleConfidence
	}
	m.obstacles = append(m.obstacles, det)
}

// Evict drops obstacles not refreshed within the eviction age.
func (m *ObstacleMap) Evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.obstacles[:0]
	for _, o := range m.obstacles {
		if now.Sub(o.LastSeen) <= m.eviction {
			kept = append(kept, o)
		}
	}
	m.obstacles = kept
}

// Snapshot returns a copy of the current obstacle set.
func (m *ObstacleMap) Snapshot() []Obstacle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Obstacle, len(m.obstacles))
	copy(out, m.obstacles)
	return out
}

// Nearest returns the obstacle closest to p in the XY plane, measured to the
// obstacle's edge, and whether any obstacle exists.
func (m *ObstacleMap) Nearest(p geo.Point) (Obstacle, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best     Obstacle
		bestDist = math.Inf(1)
		found    bool
	)
	for _, o := range m.obstacles {
		d := geo.Dist2D(p, o.Position) - o.Radius()
		if d < bestDist {
			best, bestDist, found = o, d, true
		}
	}
	if bestDist < 0 {
		bestDist = 0
	}
	return best, bestDist, found
}

// ExtractFromScan converts a complete lidar sweep into obstacle detections.
// Points are bucketed into angular sectors; a sector whose mean range falls
// below the near threshold becomes one obstacle with position at the mean
// Cartesian of its points (world frame) and size from their bounding box.
func ExtractFromScan(scan bus.LidarScan, pose fusion.PoseSnapshot, sectors, minPoints int, nearThreshold float64) []Obstacle {
	if sectors <= 0 || len(scan.Points) == 0 {
		return nil
	}

	type sector struct {
		count    int
		sumRange float64
		points   []geo.Point
	}
	buckets := make([]sector, sectors)
	sectorWidth := 2 * math.Pi / float64(sectors)

	yaw := pose.Orientation.Yaw
	sinYaw, cosYaw := math.Sin(yaw), math.Cos(yaw)

	for _, p := range scan.Points {
		if p.Range <= 0 || math.IsNaN(p.Range) || math.IsInf(p.Range, 0) {
			continue
		}
		a := math.Mod(p.Angle, 2*math.Pi)
		if a < 0 {
			a += 2 * math.Pi
		}
		idx := int(a / sectorWidth)
		if idx >= sectors {
			idx = sectors - 1
		}

		// Sensor polar to world Cartesian via vehicle pose.
		bx := p.Range * math.Cos(p.Angle)
		by := p.Range * math.Sin(p.Angle)
		world := geo.Point{
			X: pose.Position.X + bx*cosYaw - by*sinYaw,
			Y: pose.Position.Y + bx*sinYaw + by*cosYaw,
			Z: pose.Position.Z,
		}

		b := &buckets[idx]
		b.count++
		b.sumRange += p.Range
		b.points = append(b.points, world)
	}

	var out []Obstacle
	for _, b := range buckets {
		if b.count < minPoints {
			continue
		}
		if b.sumRange/float64(b.count) >= nearThreshold {
			continue
		}

		minX, maxX := math.Inf(1), math.Inf(-1)
		minY, maxY := math.Inf(1), math.Inf(-1)
		for _, p := range b.points {
			minX = math.Min(minX, p.X)
			maxX = math.Max(maxX, p.X)
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}

		out = append(out, Obstacle{
			Position:   geo.Centroid(b.points),
			Width:      maxX - minX,
			Depth:      maxY - minY,
			Height:     defaultObstacleHeight,
			Confidence: math.Min(0.5+0.05*float64(b.count), MaxObstacleConfidence),
			Source:     SourceLidar,
		})
	}
	return out
}
