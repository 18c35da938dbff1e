package bus

import "time"

// Inbound payload types. Commands and sensor readings cross the core boundary
// as these structs; handlers type-assert on the concrete type rather than
// trusting untyped shapes. Outbound status payloads are owned by the package
// that publishes them.

// MoveCommand requests manual motion at a speed (m/s) and steering direction
// (radians, positive left).
type MoveCommand struct {
	Speed     float64
	Direction float64
	Timestamp time.Time
}

// StopCommand requests a normal, rate-limited stop.
type StopCommand struct {
	Timestamp time.Time
}

// EmergencyStopCommand requests an immediate emergency stop.
type EmergencyStopCommand struct {
	Reason    string
	Source    string
	Timestamp time.Time
}

// EmergencyResetCommand requests clearing of the emergency-stop latch. The
// safety monitor rejects it while any critical violation is still active.
type EmergencyResetCommand struct {
	Timestamp time.Time
}

// SetWaypointsCommand replaces the navigation path.
type SetWaypointsCommand struct {
	Points    [][3]float64
	Timestamp time.Time
}

// SetBoundariesCommand replaces the field boundary polygon.
type SetBoundariesCommand struct {
	Points    [][3]float64
	Timestamp time.Time
}

// StartNavigationCommand begins autonomous waypoint following.
type StartNavigationCommand struct {
	Timestamp time.Time
}

// StopNavigationCommand halts autonomous waypoint following. Idempotent.
type StopNavigationCommand struct {
	Timestamp time.Time
}

// WatchdogResetCommand is the liveness signal from the transport layer.
type WatchdogResetCommand struct {
	Timestamp time.Time
}

// EmergencyStopTriggered announces the safety monitor's emergency-stop
// decision. The motor controller actuates on it.
type EmergencyStopTriggered struct {
	Reason    string
	Source    string
	Timestamp time.Time
}

// EmergencyStopReset announces a successful emergency-stop reset.
type EmergencyStopReset struct {
	Timestamp time.Time
}

// GPSReading is a geodetic fix from the GPS receiver.
type GPSReading struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Altitude  float64 // metres above reference
	Accuracy  float64 // metres, 1-sigma horizontal
	Timestamp time.Time
}

// IMUReading carries fused attitude, gyro rates and linear acceleration from
// the inertial unit. Angles are radians, rates rad/s, acceleration m/s².
type IMUReading struct {
	Roll, Pitch, Yaw       float64
	GyroX, GyroY, GyroZ    float64
	AccelX, AccelY, AccelZ float64
	Timestamp              time.Time
}

// LidarPoint is a single polar return in the sensor frame.
type LidarPoint struct {
	Angle float64 // radians, 0 = vehicle forward, positive counter-clockwise
	Range float64 // metres
}

// LidarScan is one complete sweep. Each scan wholesale-replaces the static
// obstacle set derived from lidar.
type LidarScan struct {
	Points    []LidarPoint
	Timestamp time.Time
}

// UltrasonicReading is a single range measurement from one ultrasonic sensor.
type UltrasonicReading struct {
	SensorID  string
	Angle     float64 // mounting direction, radians in the vehicle frame
	Range     float64 // metres
	Timestamp time.Time
}

// PowerReading reports battery and supply state.
type PowerReading struct {
	BatteryLevel float64 // percent, 0-100
	Voltage      float64
	Current      float64
	Timestamp    time.Time
}

// WheelTemperatures reports per-wheel motor temperatures in °C, keyed by
// wheel name (frontLeft, frontRight, rearLeft, rearRight).
type WheelTemperatures struct {
	Temps     map[string]float64
	Timestamp time.Time
}

// WheelCurrents reports per-wheel motor current draw in amps.
type WheelCurrents struct {
	Currents  map[string]float64
	Timestamp time.Time
}
