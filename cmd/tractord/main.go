// Command tractord runs the onboard control core: sensor fusion, navigation,
// safety monitoring and motor control, wired together over the in-process
// event bus. The transport layer that feeds commands and sensor readings onto
// the bus runs as a separate process and is out of scope here.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/monitoring"
	"github.com/banshee-data/tractor.core/internal/motor"
	"github.com/banshee-data/tractor.core/internal/nav"
	"github.com/banshee-data/tractor.core/internal/safety"
	"github.com/banshee-data/tractor.core/internal/sched"
	"github.com/banshee-data/tractor.core/internal/telemetry"
	"github.com/banshee-data/tractor.core/internal/timeutil"
)

var (
	configPath = flag.String("config", "", "Path to tuning config JSON (optional)")
	dbPath     = flag.String("db", "", "Path to telemetry sqlite database (empty disables recording)")
	debug      = flag.Bool("debug", false, "Enable per-tick debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
		log.Printf("loaded tuning config from %s", *configPath)
	}

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
	s := sched.New(clock)
	mustAdd(s, "navigation", rate(cfg.GetNavRateHz()), navigator.Tick)
	mustAdd(s, "safety", rate(cfg.GetSafetyRateHz()), monitor.Tick)
	mustAdd(s, "motor", rate(cfg.GetMotorRateHz()), controller.Tick)

	if *dbPath != "" {
		rec, err := telemetry.Open(*dbPath, clock.Now())
		if err != nil {
			log.Fatalf("failed to open telemetry recorder: %v", err)
		}
		defer rec.Close()
		rec.Attach(b)
		mustAdd(s, "telemetry-flush", time.Second, rec.Flush)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("tractord: control core running (nav %d Hz, safety %d Hz, motor %d Hz)",
		cfg.GetNavRateHz(), cfg.GetSafetyRateHz(), cfg.GetMotorRateHz())
	if err := s.Run(ctx); err != nil {
		log.Fatalf("scheduler stopped: %v", err)
	}
	log.Printf("tractord: shut down")
}

func rate(hz int) time.Duration {
	return time.Second / time.Duration(hz)
}

func mustAdd(s *sched.Scheduler, name string, period time.Duration, fn sched.TickFunc) {
	if err := s.Add(name, period, fn); err != nil {
		log.Fatalf("failed to register %s task: %v", name, err)
	}
}
