// Package testutil provides shared test fixtures for the control core.
//
// This package centralises common builders for sensor readings, boundaries
// and poses to reduce duplication across package tests.
package testutil

import (
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/geo"
)

// BaseTime is a fixed reference instant for deterministic tests.
var BaseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// GPSReading builds a valid fix at the given offset from BaseTime.
func GPSReading(offset time.Duration, lat, lon, accuracy float64) bus.GPSReading {
	return bus.GPSReading{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  100,
		Accuracy:  accuracy,
		Timestamp: BaseTime.Add(offset),
	}
}

// IMUReading builds a level attitude reading at the given offset from BaseTime.
func IMUReading(offset time.Duration, roll, pitch, yaw float64) bus.IMUReading {
	return bus.IMUReading{
		Roll:      roll,
		Pitch:     pitch,
		Yaw:       yaw,
		Timestamp: BaseTime.Add(offset),
	}
}

// SquareBoundary returns an axis-aligned square boundary of the given
// half-width centred on the origin.
func SquareBoundary(half float64) []geo.Point {
	return []geo.Point{
		{X: -half, Y: -half},
		{X: half, Y: -half},
		{X: half, Y: half},
		{X: -half, Y: half},
	}
}

// StaticPose is a PoseProvider stub returning a settable snapshot.
type StaticPose struct {
	Pose fusion.PoseSnapshot
}

// Snapshot returns the configured pose.
func (s *StaticPose) Snapshot() fusion.PoseSnapshot { return s.Pose }

// MoveTo repositions the stub pose.
func (s *StaticPose) MoveTo(x, y float64) {
	s.Pose.Position = geo.Point{X: x, Y: y, Z: s.Pose.Position.Z}
}
