// Package fusion owns the authoritative pose/motion estimate of the vehicle.
//
// Independent per-sensor filters (GPS position, IMU attitude) blend
// asynchronously-arriving readings into one estimate. Other components read
// the estimate only through Snapshot, which returns an immutable copy.
//
// The blending is deliberately heuristic: scalar uncertainties stand in for a
// full covariance matrix, and the contract is only that the estimate moves
// toward a measurement in proportion to relative confidence.
package fusion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/geo"
	"github.com/banshee-data/tractor.core/internal/monitoring"
)

const (
	// earthRadiusM is the spherical radius used by the equirectangular
	// geodetic-to-local projection. Fields are small enough that the
	// projection error is far below GPS accuracy.
	earthRadiusM = 6371000.0

	// positionProcessNoise grows position uncertainty per second of
	// dead-reckoning between GPS fixes (metres/second).
	positionProcessNoise = 0.5

	// initialOrientationUncertainty is assigned to the first IMU reading.
	initialOrientationUncertainty = 0.1

	// degradedAccuracyInflation inflates a reading's reported accuracy per
	// consecutive processing error on its source, so a flaky sensor pulls
	// the estimate less.
	degradedAccuracyInflation = 1.0
)

// Orientation is a roll/pitch/yaw attitude in radians.
type Orientation struct {
	Roll, Pitch, Yaw float64
}

// PoseSnapshot is an immutable copy of the fused vehicle state.
type PoseSnapshot struct {
	Position               geo.Point
	PositionUncertainty    float64
	Orientation            Orientation
	OrientationUncertainty float64
	Velocity               geo.Point
	AngularVelocity        geo.Point
	Timestamp              time.Time
}

// SensorState describes the health of one sensor source.
type SensorState struct {
	Connected         bool
	ConsecutiveErrors int
	LastSeen          time.Time
}

// SensorStatus is the request/response payload for sensor health pulls.
type SensorStatus struct {
	Sensors   map[string]SensorState
	Timestamp time.Time
}

type sensorHealth struct {
	connected bool
	errors    int
	lastSeen  time.Time
}

// Engine fuses sensor streams into the pose estimate.
type Engine struct {
	mu sync.Mutex

	cfg *config.TuningConfig
	bus *bus.Bus

	pose PoseSnapshot

	// Geodetic origin, fixed by the first accepted GPS reading.
	originSet        bool
	originLat        float64 // radians
	originLon        float64 // radians
	originCosLat     float64
	lastGPSTimestamp time.Time
	lastIMUTimestamp time.Time
	haveGPS          bool
	haveIMU          bool
	sensors          map[string]*sensorHealth
	errorThreshold   int
	orientationBlend float64
}

// New creates an Engine wired to the given bus. It subscribes to the raw
// sensor topics and registers the sensor-status request handler.
func New(b *bus.Bus, cfg *config.TuningConfig) (*Engine, error) {
	e := &Engine{
		cfg:              cfg,
		bus:              b,
		sensors:          make(map[string]*sensorHealth),
		errorThreshold:   cfg.GetSensorErrorThreshold(),
		orientationBlend: cfg.GetIMUOrientationBlend(),
	}
	for _, name := range []string{"gps", "imu", "lidar", "ultrasonic"} {
		e.sensors[name] = &sensorHealth{connected: true}
	}

	b.Subscribe(bus.TopicSensorGPS, func(payload interface{}) {
		if r, ok := payload.(bus.GPSReading); ok {
			e.UpdateGPS(r)
		}
	})
	b.Subscribe(bus.TopicSensorIMU, func(payload interface{}) {
		if r, ok := payload.(bus.IMUReading); ok {
			e.UpdateIMU(r)
		}
	})
	b.Subscribe(bus.TopicSensorLidar, func(payload interface{}) {
		if s, ok := payload.(bus.LidarScan); ok {
			e.UpdateLidar(s)
		}
	})
	b.Subscribe(bus.TopicSensorUltrasonic, func(payload interface{}) {
		if r, ok := payload.(bus.UltrasonicReading); ok {
			e.UpdateUltrasonic(r)
		}
	})

	if err := b.RegisterRequestHandler(bus.TopicRequestSensorStatus, func(interface{}) (interface{}, error) {
		return e.Status(), nil
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateGPS blends a GPS fix into the position estimate. Readings not newer
// than the last accepted fix are discarded. Processing errors are counted
// against the source and never returned to the publisher.
func (e *Engine) UpdateGPS(r bus.GPSReading) {
	e.mu.Lock()
	accepted := e.applyGPS(r)
	snap := e.pose
	e.mu.Unlock()

	// Publish outside the lock so subscribers may call Snapshot.
	if accepted && e.bus != nil {
		e.bus.Publish(bus.TopicSensorFused, snap)
	}
}

// applyGPS does the blend under e.mu and reports whether the reading was
// accepted.
func (e *Engine) applyGPS(r bus.GPSReading) bool {
	if !r.Timestamp.After(e.lastGPSTimestamp) {
		return false // stale
	}
	if err := validateGPS(r); err != nil {
		e.recordError("gps", err)
		return false
	}

	accuracy := r.Accuracy * (1 + degradedAccuracyInflation*float64(e.sensors["gps"].errors))

	if !e.originSet {
		e.originLat = r.Latitude * math.Pi / 180
		e.originLon = r.Longitude * math.Pi / 180
		e.originCosLat = math.Cos(e.originLat)
		e.originSet = true
	}
	measured := e.toLocal(r)

	if !e.haveGPS {
		e.pose.Position = measured
		e.pose.PositionUncertainty = accuracy
		e.haveGPS = true
	} else {
		dt := r.Timestamp.Sub(e.lastGPSTimestamp).Seconds()

		// Dead-reckon from the stored velocity, growing uncertainty.
		predicted := geo.Point{
			X: e.pose.Position.X + e.pose.Velocity.X*dt,
			Y: e.pose.Position.Y + e.pose.Velocity.Y*dt,
			Z: e.pose.Position.Z + e.pose.Velocity.Z*dt,
		}
		predictedUnc := e.pose.PositionUncertainty + positionProcessNoise*dt

		// The lower-uncertainty source dominates the blend.
		w := predictedUnc / (predictedUnc + accuracy)
		prev := e.pose.Position
		e.pose.Position = geo.Point{
			X: predicted.X*(1-w) + measured.X*w,
			Y: predicted.Y*(1-w) + measured.Y*w,
			Z: predicted.Z*(1-w) + measured.Z*w,
		}

		// Re-estimate velocity from the position delta.
		if dt > 0 {
			e.pose.Velocity = geo.Point{
				X: (e.pose.Position.X - prev.X) / dt,
				Y: (e.pose.Position.Y - prev.Y) / dt,
				Z: (e.pose.Position.Z - prev.Z) / dt,
			}
		}

		// Uncertainty shrinks toward the measurement accuracy, never below it.
		combined := predictedUnc * accuracy / (predictedUnc + accuracy)
		e.pose.PositionUncertainty = math.Max(combined, r.Accuracy)
	}

	e.lastGPSTimestamp = r.Timestamp
	e.pose.Timestamp = r.Timestamp
	e.markHealthy("gps", r.Timestamp)
	return true
}

// UpdateIMU blends an IMU reading into the attitude estimate. Readings not
// newer than the last accepted IMU reading are discarded.
func (e *Engine) UpdateIMU(r bus.IMUReading) {
	e.mu.Lock()
	accepted := e.applyIMU(r)
	snap := e.pose
	e.mu.Unlock()

	if accepted && e.bus != nil {
		e.bus.Publish(bus.TopicSensorFused, snap)
	}
}

func (e *Engine) applyIMU(r bus.IMUReading) bool {
	if !r.Timestamp.After(e.lastIMUTimestamp) {
		return false // stale
	}
	if err := validateIMU(r); err != nil {
		e.recordError("imu", err)
		return false
	}

	if !e.haveIMU {
		e.pose.Orientation = Orientation{Roll: r.Roll, Pitch: r.Pitch, Yaw: r.Yaw}
		e.pose.OrientationUncertainty = initialOrientationUncertainty
		e.haveIMU = true
	} else {
		dt := r.Timestamp.Sub(e.lastIMUTimestamp).Seconds()
		w := e.orientationBlend
		e.pose.Orientation = Orientation{
			Roll:  blendAngle(e.pose.Orientation.Roll, r.Roll, w),
			Pitch: blendAngle(e.pose.Orientation.Pitch, r.Pitch, w),
			Yaw:   blendAngle(e.pose.Orientation.Yaw, r.Yaw, w),
		}

		// Linear velocity integrates the reported acceleration.
		e.pose.Velocity = geo.Point{
			X: e.pose.Velocity.X + r.AccelX*dt,
			Y: e.pose.Velocity.Y + r.AccelY*dt,
			Z: e.pose.Velocity.Z + r.AccelZ*dt,
		}
	}

	// Angular velocity is taken directly from the gyro, not blended.
	e.pose.AngularVelocity = geo.Point{X: r.GyroX, Y: r.GyroY, Z: r.GyroZ}

	e.lastIMUTimestamp = r.Timestamp
	e.pose.Timestamp = r.Timestamp
	e.markHealthy("imu", r.Timestamp)
	return true
}

// UpdateLidar records lidar liveness. Obstacle extraction from the scan is
// the navigator's job, not fusion's.
func (e *Engine) UpdateLidar(s bus.LidarScan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markHealthy("lidar", s.Timestamp)
}

// UpdateUltrasonic records ultrasonic liveness.
func (e *Engine) UpdateUltrasonic(r bus.UltrasonicReading) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markHealthy("ultrasonic", r.Timestamp)
}

// Snapshot returns an immutable copy of the current pose estimate. Safe to
// call from any goroutine.
func (e *Engine) Snapshot() PoseSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// Status returns the current per-sensor health.
func (e *Engine) Status() SensorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := SensorStatus{
		Sensors:   make(map[string]SensorState, len(e.sensors)),
		Timestamp: e.pose.Timestamp,
	}
	for name, h := range e.sensors {
		out.Sensors[name] = SensorState{
			Connected:         h.connected,
			ConsecutiveErrors: h.errors,
			LastSeen:          h.lastSeen,
		}
	}
	return out
}

// toLocal projects a geodetic reading into the local field frame using an
// equirectangular approximation around the origin fix.
func (e *Engine) toLocal(r bus.GPSReading) geo.Point {
	lat := r.Latitude * math.Pi / 180
	lon := r.Longitude * math.Pi / 180
	return geo.Point{
		X: (lon - e.originLon) * e.originCosLat * earthRadiusM,
		Y: (lat - e.originLat) * earthRadiusM,
		Z: r.Altitude,
	}
}

func (e *Engine) markHealthy(name string, seen time.Time) {
	h := e.sensors[name]
	if !h.connected {
		monitoring.Logf("fusion: sensor %s reconnected", name)
	}
	h.connected = true
	h.errors = 0
	if seen.After(h.lastSeen) {
		h.lastSeen = seen
	}
}

func (e *Engine) recordError(name string, err error) {
	h := e.sensors[name]
	h.errors++
	monitoring.Logf("fusion: sensor %s error (%d consecutive): %v", name, h.errors, err)
	if h.connected && h.errors >= e.errorThreshold {
		h.connected = false
		monitoring.Logf("fusion: sensor %s marked disconnected after %d consecutive errors", name, h.errors)
	}
}

func validateGPS(r bus.GPSReading) error {
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) || math.IsNaN(r.Altitude) {
		return fmt.Errorf("gps reading contains NaN")
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("gps fix out of range: lat=%f lon=%f", r.Latitude, r.Longitude)
	}
	if r.Accuracy <= 0 {
		return fmt.Errorf("gps accuracy must be positive, got %f", r.Accuracy)
	}
	return nil
}

func validateIMU(r bus.IMUReading) error {
	for _, v := range []float64{r.Roll, r.Pitch, r.Yaw, r.GyroX, r.GyroY, r.GyroZ, r.AccelX, r.AccelY, r.AccelZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("imu reading contains NaN or Inf")
		}
	}
	return nil
}

// blendAngle moves current toward measured by weight w along the shortest
// angular path, keeping the result in (-π, π].
func blendAngle(current, measured, w float64) float64 {
	diff := math.Mod(measured-current+3*math.Pi, 2*math.Pi) - math.Pi
	return normalizeAngle(current + diff*w)
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
