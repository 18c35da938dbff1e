// Package config holds the tunable parameters for the control core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for control-core tuning.
// All fields are optional pointers; the Get* accessors supply defaults for
// anything a partial JSON file omits, so partial configs are safe.
type TuningConfig struct {
	// Loop rates
	NavRateHz    *int `json:"nav_rate_hz,omitempty"`
	SafetyRateHz *int `json:"safety_rate_hz,omitempty"`
	MotorRateHz  *int `json:"motor_rate_hz,omitempty"`

	// Safety monitor
	WatchdogTimeout        *string  `json:"watchdog_timeout,omitempty"` // duration string like "5s"
	ObstacleSafeDistanceM  *float64 `json:"obstacle_safe_distance_m,omitempty"`
	HumanSafeDistanceM     *float64 `json:"human_safe_distance_m,omitempty"`
	BatteryLowPercent      *float64 `json:"battery_low_percent,omitempty"`
	BatteryCriticalPercent *float64 `json:"battery_critical_percent,omitempty"`
	MaxSlopeAngleRad       *float64 `json:"max_slope_angle_rad,omitempty"`
	FailSafeMode           *string  `json:"fail_safe_mode,omitempty"`

	// Navigation
	WaypointReachedThresholdM *float64 `json:"waypoint_reached_threshold_m,omitempty"`
	AvoidanceMarginM          *float64 `json:"avoidance_margin_m,omitempty"`
	ObstacleMergeDistanceM    *float64 `json:"obstacle_merge_distance_m,omitempty"`
	ObstacleEviction          *string  `json:"obstacle_eviction,omitempty"` // duration string like "5s"
	LidarNearThresholdM       *float64 `json:"lidar_near_threshold_m,omitempty"`
	LidarSectorCount          *int     `json:"lidar_sector_count,omitempty"`
	LidarMinSectorPoints      *int     `json:"lidar_min_sector_points,omitempty"`

	// Motors
	MaxSpeedMps             *float64 `json:"max_speed_mps,omitempty"`
	MaxAccelerationMps2     *float64 `json:"max_acceleration_mps2,omitempty"`
	MaxDecelerationMps2     *float64 `json:"max_deceleration_mps2,omitempty"`
	MaxSteeringAngleRad     *float64 `json:"max_steering_angle_rad,omitempty"`
	MotorTempCriticalC      *float64 `json:"motor_temp_critical_c,omitempty"`
	MotorCurrentMaxA        *float64 `json:"motor_current_max_a,omitempty"`
	ThermalThrottleFraction *float64 `json:"thermal_throttle_fraction,omitempty"`
	CurrentThrottleFraction *float64 `json:"current_throttle_fraction,omitempty"`

	// Sensor fusion
	SensorErrorThreshold *int     `json:"sensor_error_threshold,omitempty"`
	IMUOrientationBlend  *float64 `json:"imu_orientation_blend,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and be under the maximum size. Fields omitted from the
// file fall back to package defaults via the Get* accessors.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are coherent.
func (c *TuningConfig) Validate() error {
	for name, rate := range map[string]*int{
		"nav_rate_hz":    c.NavRateHz,
		"safety_rate_hz": c.SafetyRateHz,
		"motor_rate_hz":  c.MotorRateHz,
	} {
		if rate != nil && *rate <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *rate)
		}
	}

	for name, d := range map[string]*string{
		"watchdog_timeout":  c.WatchdogTimeout,
		"obstacle_eviction": c.ObstacleEviction,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
		}
	}

	if c.BatteryLowPercent != nil && c.BatteryCriticalPercent != nil {
		if *c.BatteryCriticalPercent >= *c.BatteryLowPercent {
			return fmt.Errorf("battery_critical_percent (%f) must be below battery_low_percent (%f)",
				*c.BatteryCriticalPercent, *c.BatteryLowPercent)
		}
	}

	for name, v := range map[string]*float64{
		"max_speed_mps":          c.MaxSpeedMps,
		"max_acceleration_mps2":  c.MaxAccelerationMps2,
		"max_deceleration_mps2":  c.MaxDecelerationMps2,
		"max_steering_angle_rad": c.MaxSteeringAngleRad,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	for name, f := range map[string]*float64{
		"thermal_throttle_fraction": c.ThermalThrottleFraction,
		"current_throttle_fraction": c.CurrentThrottleFraction,
		"imu_orientation_blend":     c.IMUOrientationBlend,
	} {
		if f != nil && (*f <= 0 || *f >= 1) {
			return fmt.Errorf("%s must be between 0 and 1 exclusive, got %f", name, *f)
		}
	}

	if c.FailSafeMode != nil {
		switch *c.FailSafeMode {
		case "stop", "returnHome":
		default:
			return fmt.Errorf("fail_safe_mode must be 'stop' or 'returnHome', got %q", *c.FailSafeMode)
		}
	}

	return nil
}

// GetNavRateHz returns the navigation tick rate or the default.
func (c *TuningConfig) GetNavRateHz() int {
	if c.NavRateHz == nil {
		return 10
	}
	return *c.NavRateHz
}

// GetSafetyRateHz returns the safety check rate or the default.
func (c *TuningConfig) GetSafetyRateHz() int {
	if c.SafetyRateHz == nil {
		return 5
	}
	return *c.SafetyRateHz
}

// GetMotorRateHz returns the motor control loop rate or the default.
func (c *TuningConfig) GetMotorRateHz() int {
	if c.MotorRateHz == nil {
		return 50
	}
	return *c.MotorRateHz
}

// GetWatchdogTimeout parses and returns the watchdog timeout as a Duration.
func (c *TuningConfig) GetWatchdogTimeout() time.Duration {
	if c.WatchdogTimeout == nil || *c.WatchdogTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.WatchdogTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetObstacleSafeDistanceM returns the obstacle proximity threshold or the default.
func (c *TuningConfig) GetObstacleSafeDistanceM() float64 {
	if c.ObstacleSafeDistanceM == nil {
		return 2.0
	}
	return *c.ObstacleSafeDistanceM
}

// GetHumanSafeDistanceM returns the human proximity threshold or the default.
func (c *TuningConfig) GetHumanSafeDistanceM() float64 {
	if c.HumanSafeDistanceM == nil {
		return 5.0
	}
	return *c.HumanSafeDistanceM
}

// GetBatteryLowPercent returns the low-battery warning threshold or the default.
func (c *TuningConfig) GetBatteryLowPercent() float64 {
	if c.BatteryLowPercent == nil {
		return 20.0
	}
	return *c.BatteryLowPercent
}

// GetBatteryCriticalPercent returns the critical battery threshold or the default.
func (c *TuningConfig) GetBatteryCriticalPercent() float64 {
	if c.BatteryCriticalPercent == nil {
		return 10.0
	}
	return *c.BatteryCriticalPercent
}

// GetMaxSlopeAngleRad returns the tilt limit or the default.
func (c *TuningConfig) GetMaxSlopeAngleRad() float64 {
	if c.MaxSlopeAngleRad == nil {
		return 0.35 // ~20 degrees
	}
	return *c.MaxSlopeAngleRad
}

// GetFailSafeMode returns the configured fail-safe reaction or the default.
func (c *TuningConfig) GetFailSafeMode() string {
	if c.FailSafeMode == nil {
		return "stop"
	}
	return *c.FailSafeMode
}

// GetWaypointReachedThresholdM returns the waypoint arrival radius or the default.
func (c *TuningConfig) GetWaypointReachedThresholdM() float64 {
	if c.WaypointReachedThresholdM == nil {
		return 0.5
	}
	return *c.WaypointReachedThresholdM
}

// GetAvoidanceMarginM returns the obstacle corridor margin or the default.
func (c *TuningConfig) GetAvoidanceMarginM() float64 {
	if c.AvoidanceMarginM == nil {
		return 1.0
	}
	return *c.AvoidanceMarginM
}

// GetObstacleMergeDistanceM returns the same-obstacle merge radius or the default.
func (c *TuningConfig) GetObstacleMergeDistanceM() float64 {
	if c.ObstacleMergeDistanceM == nil {
		return 1.0
	}
	return *c.ObstacleMergeDistanceM
}

// GetObstacleEviction returns the unseen-obstacle eviction age or the default.
func (c *TuningConfig) GetObstacleEviction() time.Duration {
	if c.ObstacleEviction == nil || *c.ObstacleEviction == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.ObstacleEviction)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetLidarNearThresholdM returns the sector "near" range or the default.
func (c *TuningConfig) GetLidarNearThresholdM() float64 {
	if c.LidarNearThresholdM == nil {
		return 8.0
	}
	return *c.LidarNearThresholdM
}

// GetLidarSectorCount returns the angular sector count or the default.
func (c *TuningConfig) GetLidarSectorCount() int {
	if c.LidarSectorCount == nil {
		return 36
	}
	return *c.LidarSectorCount
}

// GetLidarMinSectorPoints returns the minimum points per sector or the default.
func (c *TuningConfig) GetLidarMinSectorPoints() int {
	if c.LidarMinSectorPoints == nil {
		return 3
	}
	return *c.LidarMinSectorPoints
}

// GetMaxSpeedMps returns the motor speed limit or the default.
func (c *TuningConfig) GetMaxSpeedMps() float64 {
	if c.MaxSpeedMps == nil {
		return 3.0
	}
	return *c.MaxSpeedMps
}

// GetMaxAccelerationMps2 returns the acceleration limit or the default.
func (c *TuningConfig) GetMaxAccelerationMps2() float64 {
	if c.MaxAccelerationMps2 == nil {
		return 1.0
	}
	return *c.MaxAccelerationMps2
}

// GetMaxDecelerationMps2 returns the deceleration limit or the default.
func (c *TuningConfig) GetMaxDecelerationMps2() float64 {
	if c.MaxDecelerationMps2 == nil {
		return 2.0
	}
	return *c.MaxDecelerationMps2
}

// GetMaxSteeringAngleRad returns the steering clamp or the default.
func (c *TuningConfig) GetMaxSteeringAngleRad() float64 {
	if c.MaxSteeringAngleRad == nil {
		return 0.6
	}
	return *c.MaxSteeringAngleRad
}

// GetMotorTempCriticalC returns the motor temperature limit or the default.
func (c *TuningConfig) GetMotorTempCriticalC() float64 {
	if c.MotorTempCriticalC == nil {
		return 80.0
	}
	return *c.MotorTempCriticalC
}

// GetMotorCurrentMaxA returns the motor current limit or the default.
func (c *TuningConfig) GetMotorCurrentMaxA() float64 {
	if c.MotorCurrentMaxA == nil {
		return 20.0
	}
	return *c.MotorCurrentMaxA
}

// GetThermalThrottleFraction returns the per-event maxSpeed reduction factor.
func (c *TuningConfig) GetThermalThrottleFraction() float64 {
	if c.ThermalThrottleFraction == nil {
		return 0.8
	}
	return *c.ThermalThrottleFraction
}

// GetCurrentThrottleFraction returns the per-event maxAcceleration reduction factor.
func (c *TuningConfig) GetCurrentThrottleFraction() float64 {
	if c.CurrentThrottleFraction == nil {
		return 0.8
	}
	return *c.CurrentThrottleFraction
}

// GetSensorErrorThreshold returns the consecutive-error disconnect threshold.
func (c *TuningConfig) GetSensorErrorThreshold() int {
	if c.SensorErrorThreshold == nil {
		return 5
	}
	return *c.SensorErrorThreshold
}

// GetIMUOrientationBlend returns the fixed orientation blend weight.
func (c *TuningConfig) GetIMUOrientationBlend() float64 {
	if c.IMUOrientationBlend == nil {
		return 0.3
	}
	return *c.IMUOrientationBlend
}
