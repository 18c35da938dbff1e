package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/geo"
	"github.com/banshee-data/tractor.core/internal/testutil"
)

func newNavigator(t *testing.T) (*Navigator, *bus.Bus, *testutil.StaticPose) {
	t.Helper()
	b := bus.New()
	pose := &testutil.StaticPose{}
	n, err := New(b, config.EmptyTuningConfig(), pose)
	require.NoError(t, err)
	return n, b, pose
}

// collect records every payload published on topic.
func collect(b *bus.Bus, topic string) *[]interface{} {
	var got []interface{}
	b.Subscribe(topic, func(payload interface{}) { got = append(got, payload) })
	return &got
}

func TestStartNavigationRequiresWaypoints(t *testing.T) {
	t.Parallel()
	n, _, _ := newNavigator(t)

	err := n.StartNavigation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no waypoints")
	assert.Equal(t, ModeIdle, n.Mode())
}

func TestStartAndStopNavigation(t *testing.T) {
	t.Parallel()
	n, _, _ := newNavigator(t)

	n.SetWaypoints([]geo.Point{{X: 10}, {X: 20}})
	require.NoError(t, n.StartNavigation())
	assert.Equal(t, ModeAutonomous, n.Mode())
	assert.True(t, n.Status().IsNavigating)

	n.StopNavigation()
	assert.Equal(t, ModeIdle, n.Mode())
	assert.False(t, n.Status().IsNavigating)

	// Stopping again is harmless.
	n.StopNavigation()
	assert.Equal(t, ModeIdle, n.Mode())
}

func TestSetWaypointsResetsProgressAndStopsNavigation(t *testing.T) {
	t.Parallel()
	n, _, pose := newNavigator(t)

	n.SetWaypoints([]geo.Point{{X: 1}, {X: 10}})
	require.NoError(t, n.StartNavigation())
	pose.MoveTo(1, 0)
	n.Tick(testutil.BaseTime)
	require.Equal(t, 1, n.Status().CompletedWaypoints)

	n.SetWaypoints([]geo.Point{{X: 5}, {X: 15}})
	s := n.Status()
	assert.False(t, s.IsNavigating, "a new path needs an explicit start")
	assert.Zero(t, s.CurrentWaypoint)
	assert.Zero(t, s.CompletedWaypoints)
	assert.Zero(t, s.Progress)
	assert.True(t, s.PathValid)
}

func TestWaypointAdvancement(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)

	reached := collect(b, bus.TopicNavWaypointReached)
	complete := collect(b, bus.TopicNavPathComplete)

	n.SetWaypoints([]geo.Point{{X: 10}, {X: 10, Y: 10}})
	require.NoError(t, n.StartNavigation())

	// Far from the first waypoint: no advancement.
	n.Tick(testutil.BaseTime)
	assert.Empty(t, *reached)
	assert.Equal(t, 0, n.Status().CurrentWaypoint)

	// Within the arrival radius of the first waypoint.
	pose.MoveTo(10, 0.2)
	n.Tick(testutil.BaseTime.Add(100 * time.Millisecond))
	require.Len(t, *reached, 1)
	assert.Equal(t, 0, (*reached)[0].(WaypointReachedEvent).Index)
	assert.Equal(t, 1, n.Status().CurrentWaypoint)
	assert.True(t, n.Status().IsNavigating)

	// Reaching the final waypoint completes the path and idles the navigator.
	pose.MoveTo(10, 9.8)
	n.Tick(testutil.BaseTime.Add(200 * time.Millisecond))
	require.Len(t, *reached, 2)
	require.Len(t, *complete, 1)
	assert.Equal(t, 2, (*complete)[0].(PathCompleteEvent).CompletedWaypoints)

	s := n.Status()
	assert.False(t, s.IsNavigating)
	assert.Equal(t, ModeIdle, s.Mode)
	assert.Equal(t, 1.0, s.Progress)
	assert.Zero(t, s.RemainingDistance)

	// A completed path cannot be restarted without new waypoints.
	err := n.StartNavigation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already complete")
}

func TestProgressGrowsMonotonically(t *testing.T) {
	t.Parallel()
	n, _, pose := newNavigator(t)

	n.SetWaypoints([]geo.Point{{X: 10}, {X: 20}})
	require.NoError(t, n.StartNavigation())

	prev := -1.0
	for i, x := range []float64{0, 3, 6, 9.8, 14, 19.8} {
		pose.MoveTo(x, 0)
		n.Tick(testutil.BaseTime.Add(time.Duration(i) * 100 * time.Millisecond))
		s := n.Status()
		assert.GreaterOrEqual(t, s.Progress, prev, "x=%v", x)
		assert.LessOrEqual(t, s.Progress, 1.0)
		prev = s.Progress
	}
	assert.Equal(t, 1.0, prev)
}

func TestBoundaryViolationIsEdgeTriggered(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)

	violations := collect(b, bus.TopicNavBoundaryViolation)
	require.NoError(t, n.SetFieldBoundaries(testutil.SquareBoundary(50)))

	// Inside.
	pose.MoveTo(0, 0)
	n.Tick(testutil.BaseTime)
	assert.Empty(t, *violations)
	assert.True(t, n.Status().WithinBoundaries)

	// Crossing out publishes exactly one event.
	pose.MoveTo(60, 0)
	n.Tick(testutil.BaseTime.Add(100 * time.Millisecond))
	require.Len(t, *violations, 1)
	ev := (*violations)[0].(BoundaryViolationEvent)
	assert.Equal(t, 60.0, ev.Position.X)
	assert.False(t, n.Status().WithinBoundaries)

	// Staying outside stays quiet.
	pose.MoveTo(70, 0)
	n.Tick(testutil.BaseTime.Add(200 * time.Millisecond))
	assert.Len(t, *violations, 1)

	// Re-entering then leaving again triggers a second event.
	pose.MoveTo(0, 0)
	n.Tick(testutil.BaseTime.Add(300 * time.Millisecond))
	pose.MoveTo(0, -60)
	n.Tick(testutil.BaseTime.Add(400 * time.Millisecond))
	assert.Len(t, *violations, 2)
}

func TestFirstTickOutsideBoundaryDoesNotFire(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)

	violations := collect(b, bus.TopicNavBoundaryViolation)
	require.NoError(t, n.SetFieldBoundaries(testutil.SquareBoundary(50)))

	// No inside state has ever been observed, so there is no edge to trigger.
	pose.MoveTo(100, 100)
	n.Tick(testutil.BaseTime)
	assert.Empty(t, *violations)
}

func TestSetFieldBoundariesRejectsDegeneratePolygon(t *testing.T) {
	t.Parallel()
	n, _, _ := newNavigator(t)

	err := n.SetFieldBoundaries([]geo.Point{{X: 0}, {X: 10}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3 points")
}

func TestObstacleAvoidanceStartsAndStops(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)

	started := collect(b, bus.TopicNavAvoidanceStarted)
	stopped := collect(b, bus.TopicNavAvoidanceStopped)

	n.SetWaypoints([]geo.Point{{X: 20}})
	require.NoError(t, n.StartNavigation())
	pose.MoveTo(0, 0)

	// Obstacle just left of the corridor centreline at x=10.
	n.Obstacles().ReplaceLidar([]Obstacle{
		{Position: geo.Point{X: 10, Y: 0.5}, Width: 1, Depth: 1, Confidence: 0.8},
	}, testutil.BaseTime)

	n.Tick(testutil.BaseTime)
	require.Len(t, *started, 1)
	ev := (*started)[0].(AvoidanceEvent)
	require.Len(t, ev.BlockingObstacles, 1)
	require.NotNil(t, ev.InsertedWaypoint)

	// The detour swings right, away from the obstacle, by its clearance
	// plus twice the margin.
	assert.InDelta(t, 10.0, ev.InsertedWaypoint.X, 1e-9)
	assert.InDelta(t, -2.5, ev.InsertedWaypoint.Y, 1e-9)
	assert.True(t, n.Status().AvoidingObstacle)
	assert.True(t, n.Status().PathValid)

	// Repeat ticks while still blocked publish no duplicate start.
	n.Tick(testutil.BaseTime.Add(100 * time.Millisecond))
	assert.Len(t, *started, 1)

	// Obstacle gone: a fresh empty scan clears it and avoidance ends once.
	n.Obstacles().ReplaceLidar(nil, testutil.BaseTime.Add(200*time.Millisecond))
	n.Tick(testutil.BaseTime.Add(200 * time.Millisecond))
	require.Len(t, *stopped, 1)
	assert.False(t, n.Status().AvoidingObstacle)

	n.Tick(testutil.BaseTime.Add(300 * time.Millisecond))
	assert.Len(t, *stopped, 1)
}

func TestObstacleOffCorridorDoesNotTriggerAvoidance(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)

	started := collect(b, bus.TopicNavAvoidanceStarted)

	n.SetWaypoints([]geo.Point{{X: 20}})
	require.NoError(t, n.StartNavigation())
	pose.MoveTo(0, 0)

	n.Obstacles().ReplaceLidar([]Obstacle{
		// Far to the side of the corridor.
		{Position: geo.Point{X: 10, Y: 8}, Width: 1, Depth: 1, Confidence: 0.8},
		// Beyond the active segment.
		{Position: geo.Point{X: 30, Y: 0}, Width: 1, Depth: 1, Confidence: 0.8},
	}, testutil.BaseTime)

	n.Tick(testutil.BaseTime)
	assert.Empty(t, *started)
	assert.False(t, n.Status().AvoidingObstacle)

	s := n.Status()
	assert.True(t, s.HasObstacles)
	assert.Equal(t, 2, s.ObstacleCount)
}

func TestReplanFailureMarksPathInvalid(t *testing.T) {
	t.Parallel()
	n, _, pose := newNavigator(t)

	// A tight boundary leaves no room for the detour.
	require.NoError(t, n.SetFieldBoundaries([]geo.Point{
		{X: -1, Y: -1}, {X: 21, Y: -1}, {X: 21, Y: 1}, {X: -1, Y: 1},
	}))
	n.SetWaypoints([]geo.Point{{X: 20}})
	require.NoError(t, n.StartNavigation())
	pose.MoveTo(0, 0)

	n.Obstacles().ReplaceLidar([]Obstacle{
		{Position: geo.Point{X: 10, Y: 0.2}, Width: 1, Depth: 1, Confidence: 0.8},
	}, testutil.BaseTime)

	n.Tick(testutil.BaseTime)
	s := n.Status()
	assert.False(t, s.PathValid)

	n.StopNavigation()
	err := n.StartNavigation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestStatusReportsNearestObstacleAndHumanCandidate(t *testing.T) {
	t.Parallel()
	n, _, pose := newNavigator(t)
	pose.MoveTo(0, 0)

	n.Obstacles().ReplaceLidar([]Obstacle{
		// Pedestrian-sized at 6 m, vehicle-sized at 3 m.
		{Position: geo.Point{X: 6, Y: 0}, Width: 0.5, Depth: 0.4, Confidence: 0.8},
		{Position: geo.Point{X: 3, Y: 0}, Width: 2.0, Depth: 1.5, Confidence: 0.8},
	}, testutil.BaseTime)

	s := n.Status()
	require.True(t, s.HasObstacles)
	assert.InDelta(t, 2.0, s.NearestObstacleM, 1e-9, "3 m minus the 1 m radius")
	require.True(t, s.HasHumanCandidate)
	assert.InDelta(t, 5.75, s.NearestHumanM, 1e-9)
}

func TestLidarScanOverBusFeedsObstacleMap(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)
	pose.MoveTo(0, 0)

	scan := bus.LidarScan{Timestamp: testutil.BaseTime}
	for _, a := range []float64{0.01, 0.03, 0.05} {
		scan.Points = append(scan.Points, bus.LidarPoint{Angle: a, Range: 4.0})
	}
	b.Publish(bus.TopicSensorLidar, scan)

	snap := n.Obstacles().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, SourceLidar, snap[0].Source)
	assert.InDelta(t, 4.0, snap[0].Position.X, 0.1)
}

func TestUltrasonicOverBusFeedsObstacleMap(t *testing.T) {
	t.Parallel()
	n, b, pose := newNavigator(t)
	pose.MoveTo(5, 5)

	b.Publish(bus.TopicSensorUltrasonic, bus.UltrasonicReading{
		SensorID:  "front",
		Angle:     0,
		Range:     0.8,
		Timestamp: testutil.BaseTime,
	})

	snap := n.Obstacles().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, SourceUltrasonic, snap[0].Source)
	assert.InDelta(t, 5.8, snap[0].Position.X, 1e-9)
	assert.InDelta(t, 5.0, snap[0].Position.Y, 1e-9)

	// Invalid ranges are dropped.
	b.Publish(bus.TopicSensorUltrasonic, bus.UltrasonicReading{Range: -1, Timestamp: testutil.BaseTime})
	assert.Len(t, n.Obstacles().Snapshot(), 1)
}

func TestObstaclesExpireDuringTick(t *testing.T) {
	t.Parallel()
	n, _, _ := newNavigator(t)

	n.Obstacles().MergeUltrasonic(Obstacle{Position: geo.Point{X: 5}, Confidence: 0.6}, testutil.BaseTime)
	require.Len(t, n.Obstacles().Snapshot(), 1)

	// Default eviction age is 5 s.
	n.Tick(testutil.BaseTime.Add(6 * time.Second))
	assert.Empty(t, n.Obstacles().Snapshot())
}

func TestCommandTopics(t *testing.T) {
	t.Parallel()
	n, b, _ := newNavigator(t)

	b.Publish(bus.TopicCommandSetBoundaries, bus.SetBoundariesCommand{
		Points: [][3]float64{{-50, -50, 0}, {50, -50, 0}, {50, 50, 0}, {-50, 50, 0}},
	})
	b.Publish(bus.TopicCommandSetWaypoints, bus.SetWaypointsCommand{
		Points: [][3]float64{{10, 0, 0}, {20, 0, 0}},
	})

	s := n.Status()
	assert.Equal(t, 2, s.TotalWaypoints)
	assert.Equal(t, 10.0, s.TotalDistance)

	b.Publish(bus.TopicCommandStartNavigation, bus.StartNavigationCommand{})
	assert.Equal(t, ModeAutonomous, n.Mode())

	b.Publish(bus.TopicCommandStopNavigation, bus.StopNavigationCommand{})
	assert.Equal(t, ModeIdle, n.Mode())
}

func TestManualModeFollowsMoveAndStop(t *testing.T) {
	t.Parallel()
	n, b, _ := newNavigator(t)

	b.Publish(bus.TopicCommandMove, bus.MoveCommand{Speed: 1.0})
	assert.Equal(t, ModeManual, n.Mode())

	b.Publish(bus.TopicCommandStop, bus.StopCommand{})
	assert.Equal(t, ModeIdle, n.Mode())
}

func TestManualMoveDoesNotPreemptAutonomous(t *testing.T) {
	t.Parallel()
	n, b, _ := newNavigator(t)

	n.SetWaypoints([]geo.Point{{X: 10}})
	require.NoError(t, n.StartNavigation())

	b.Publish(bus.TopicCommandMove, bus.MoveCommand{Speed: 1.0})
	assert.Equal(t, ModeAutonomous, n.Mode())
}

func TestNavStatusRequest(t *testing.T) {
	t.Parallel()
	n, b, _ := newNavigator(t)
	n.SetWaypoints([]geo.Point{{X: 10}})

	resp, err := b.Request(bus.TopicRequestNavStatus, nil)
	require.NoError(t, err)
	s, ok := resp.(Status)
	require.True(t, ok)
	assert.Equal(t, 1, s.TotalWaypoints)
}

func TestTickPublishesStatus(t *testing.T) {
	t.Parallel()
	n, b, _ := newNavigator(t)

	statuses := collect(b, bus.TopicNavStatus)
	n.Tick(testutil.BaseTime)

	require.Len(t, *statuses, 1)
	s := (*statuses)[0].(Status)
	assert.Equal(t, testutil.BaseTime, s.Timestamp)
	assert.Equal(t, ModeIdle, s.Mode)
}
