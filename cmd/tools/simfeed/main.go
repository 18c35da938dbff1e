// Command simfeed runs the control core against a synthetic sensor feed: a
// GPS track along the mission path, a level IMU, a slowly draining battery
// and periodic watchdog resets. Useful for bench-checking the core without
// hardware or the transport layer.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/motor"
	"github.com/banshee-data/tractor.core/internal/nav"
	"github.com/banshee-data/tractor.core/internal/safety"
	"github.com/banshee-data/tractor.core/internal/sched"
	"github.com/banshee-data/tractor.core/internal/timeutil"
)

var (
	duration = flag.Duration("duration", 30*time.Second, "How long to run the feed")
	speed    = flag.Float64("speed", 1.5, "Simulated ground speed in m/s")
)

// Origin of the simulated field.
const (
	originLat = 51.5000
	originLon = -0.1200
)

func main() {
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	clock := timeutil.RealClock{}
	b := bus.New()

	fus, err := fusion.New(b, cfg)
	if err != nil {
		log.Fatalf("failed to init sensor fusion: %v", err)
	}
	navigator, err := nav.New(b, cfg, fus)
	if err != nil {
		log.Fatalf("failed to init navigation: %v", err)
	}
	controller, err := motor.New(b, cfg)
	if err != nil {
		log.Fatalf("failed to init motor controller: %v", err)
	}
	monitor, err := safety.New(b, cfg, clock)
	if err != nil {
		log.Fatalf("failed to init safety monitor: %v", err)
	}

	// A 60 m square mission inside a 100 m square boundary.
	b.Publish(bus.TopicCommandSetBoundaries, bus.SetBoundariesCommand{
		Points: [][3]float64{
			{-50, -50, 0}, {50, -50, 0}, {50, 50, 0}, {-50, 50, 0},
		},
		Timestamp: clock.Now(),
	})
	b.Publish(bus.TopicCommandSetWaypoints, bus.SetWaypointsCommand{
		Points: [][3]float64{
			{0, 0, 100}, {30, 0, 100}, {30, 30, 100}, {0, 30, 100}, {0, 0, 100},
		},
		Timestamp: clock.Now(),
	})
	b.Publish(bus.TopicCommandStartNavigation, bus.StartNavigationCommand{Timestamp: clock.Now()})

	feed := &feeder{bus: b, speed: *speed, battery: 100}

	s := sched.New(clock)
	add(s, "navigation", time.Second/10, navigator.Tick)
	add(s, "safety", time.Second/5, monitor.Tick)
	add(s, "motor", time.Second/50, controller.Tick)
	add(s, "sim-gps", time.Second, feed.tickGPS)
	add(s, "sim-imu", time.Second/10, feed.tickIMU)
	add(s, "sim-power", 5*time.Second, feed.tickPower)
	add(s, "sim-watchdog", time.Second, func(now time.Time) {
		b.Publish(bus.TopicCommandWatchdogReset, bus.WatchdogResetCommand{Timestamp: now})
	})
	add(s, "report", 2*time.Second, func(time.Time) {
		st := navigator.Status()
		log.Printf("nav: mode=%s wp=%d/%d progress=%.0f%% obstacles=%d safe=%v",
			st.Mode, st.CurrentWaypoint, st.TotalWaypoints, st.Progress*100,
			st.ObstacleCount, monitor.IsSafeToOperate())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeout := context.WithTimeout(ctx, *duration)
	defer timeout()

	log.Printf("simfeed: running for %v at %.1f m/s", *duration, *speed)
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("scheduler stopped: %v", err)
	}
}

type feeder struct {
	bus     *bus.Bus
	speed   float64
	battery float64
	t       float64 // seconds of simulated travel
}

// tickGPS publishes a fix walking east then wandering the square mission.
func (f *feeder) tickGPS(now time.Time) {
	f.t++
	dist := f.speed * f.t
	// Walk the perimeter of the 30 m mission square.
	leg := math.Mod(dist, 120)
	var x, y float64
	switch {
	case leg < 30:
		x, y = leg, 0
	case leg < 60:
		x, y = 30, leg-30
	case leg < 90:
		x, y = 30-(leg-60), 30
	default:
		x, y = 0, 30-(leg-90)
	}
	f.bus.Publish(bus.TopicSensorGPS, bus.GPSReading{
		Latitude:  originLat + y/111320.0,
		Longitude: originLon + x/(111320.0*math.Cos(originLat*math.Pi/180)),
		Altitude:  100,
		Accuracy:  1.5,
		Timestamp: now,
	})
}

func (f *feeder) tickIMU(now time.Time) {
	f.bus.Publish(bus.TopicSensorIMU, bus.IMUReading{
		Roll:      0.01,
		Pitch:     0.02,
		Yaw:       0,
		Timestamp: now,
	})
}

func (f *feeder) tickPower(now time.Time) {
	f.battery -= 0.1
	f.bus.Publish(bus.TopicSensorPowerMonitors, bus.PowerReading{
		BatteryLevel: f.battery,
		Voltage:      48.1,
		Current:      6.5,
		Timestamp:    now,
	})
}

func add(s *sched.Scheduler, name string, period time.Duration, fn sched.TickFunc) {
	if err := s.Add(name, period, fn); err != nil {
		log.Fatalf("failed to register %s task: %v", name, err)
	}
}
