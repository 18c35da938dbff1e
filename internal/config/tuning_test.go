package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := EmptyTuningConfig()

	assert.Equal(t, 10, cfg.GetNavRateHz())
	assert.Equal(t, 5, cfg.GetSafetyRateHz())
	assert.Equal(t, 50, cfg.GetMotorRateHz())
	assert.Equal(t, 5*time.Second, cfg.GetWatchdogTimeout())
	assert.Equal(t, 2.0, cfg.GetObstacleSafeDistanceM())
	assert.Equal(t, 5.0, cfg.GetHumanSafeDistanceM())
	assert.Equal(t, 20.0, cfg.GetBatteryLowPercent())
	assert.Equal(t, 10.0, cfg.GetBatteryCriticalPercent())
	assert.Equal(t, "stop", cfg.GetFailSafeMode())
	assert.Equal(t, 0.5, cfg.GetWaypointReachedThresholdM())
	assert.Equal(t, 1.0, cfg.GetAvoidanceMarginM())
	assert.Equal(t, 5*time.Second, cfg.GetObstacleEviction())
	assert.Equal(t, 3.0, cfg.GetMaxSpeedMps())
	assert.Equal(t, 1.0, cfg.GetMaxAccelerationMps2())
	assert.Equal(t, 2.0, cfg.GetMaxDecelerationMps2())
	assert.Equal(t, 0.6, cfg.GetMaxSteeringAngleRad())
	assert.Equal(t, 80.0, cfg.GetMotorTempCriticalC())
	assert.Equal(t, 0.8, cfg.GetThermalThrottleFraction())
	assert.Equal(t, 5, cfg.GetSensorErrorThreshold())
	assert.Equal(t, 0.3, cfg.GetIMUOrientationBlend())
}

func TestLoadTuningConfigPartial(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "tuning.json", `{
		"nav_rate_hz": 20,
		"watchdog_timeout": "2s",
		"max_speed_mps": 1.5
	}`)

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.GetNavRateHz())
	assert.Equal(t, 2*time.Second, cfg.GetWatchdogTimeout())
	assert.Equal(t, 1.5, cfg.GetMaxSpeedMps())
	// Omitted fields keep their defaults.
	assert.Equal(t, 5, cfg.GetSafetyRateHz())
	assert.Equal(t, 2.0, cfg.GetMaxDecelerationMps2())
}

func TestLoadTuningConfigRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "tuning.yaml", `{}`)
	_, err := LoadTuningConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadTuningConfigBadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "tuning.json", `{"nav_rate_hz": `)
	_, err := LoadTuningConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config JSON")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	intPtr := func(v int) *int { return &v }
	f64Ptr := func(v float64) *float64 { return &v }
	strPtr := func(v string) *string { return &v }

	tests := []struct {
		name    string
		cfg     TuningConfig
		wantErr string
	}{
		{"empty is valid", TuningConfig{}, ""},
		{"zero rate", TuningConfig{NavRateHz: intPtr(0)}, "nav_rate_hz must be positive"},
		{"negative rate", TuningConfig{MotorRateHz: intPtr(-5)}, "motor_rate_hz must be positive"},
		{"bad watchdog duration", TuningConfig{WatchdogTimeout: strPtr("fast")}, "invalid watchdog_timeout"},
		{"bad eviction duration", TuningConfig{ObstacleEviction: strPtr("soon")}, "invalid obstacle_eviction"},
		{
			"critical above low",
			TuningConfig{BatteryLowPercent: f64Ptr(15), BatteryCriticalPercent: f64Ptr(25)},
			"must be below battery_low_percent",
		},
		{
			"critical below low is fine",
			TuningConfig{BatteryLowPercent: f64Ptr(30), BatteryCriticalPercent: f64Ptr(15)},
			"",
		},
		{"zero max speed", TuningConfig{MaxSpeedMps: f64Ptr(0)}, "max_speed_mps must be positive"},
		{"throttle fraction of one", TuningConfig{ThermalThrottleFraction: f64Ptr(1)}, "between 0 and 1"},
		{"blend out of range", TuningConfig{IMUOrientationBlend: f64Ptr(1.5)}, "between 0 and 1"},
		{"unknown fail-safe mode", TuningConfig{FailSafeMode: strPtr("panic")}, "fail_safe_mode"},
		{"returnHome accepted", TuningConfig{FailSafeMode: strPtr("returnHome")}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadTuningConfigRejectsInvalidValues(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "tuning.json", `{"safety_rate_hz": -1}`)
	_, err := LoadTuningConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
