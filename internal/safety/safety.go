// Package safety implements the watchdog, the safety-violation catalog and
// the emergency-stop state machine.
//
// The monitor owns its violation map and the emergency-stop latch; both are
// mutated only inside its own tick or its event handlers. Critical violations
// force an emergency stop, which only an explicit reset can lift, and only
// after every critical violation has cleared.
package safety

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/fusion"
	"github.com/banshee-data/tractor.core/internal/monitoring"
	"github.com/banshee-data/tractor.core/internal/motor"
	"github.com/banshee-data/tractor.core/internal/nav"
	"github.com/banshee-data/tractor.core/internal/timeutil"
)

// Severity classes. Only critical violations can force emergency stop.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ViolationType identifies one safety check.
type ViolationType string

const (
	ViolationObstacleProximity ViolationType = "obstacleProximity"
	ViolationHumanProximity    ViolationType = "humanProximity"
	ViolationBoundary          ViolationType = "boundaryViolation"
	ViolationMotorOverheat     ViolationType = "motorOverheat"
	ViolationMotorOvercurrent  ViolationType = "motorOvercurrent"
	ViolationBatteryLow        ViolationType = "batteryLow"
	ViolationBatteryCritical   ViolationType = "batteryCritical"
	ViolationTiltExceeded      ViolationType = "tiltExceeded"
	ViolationCommunicationLoss ViolationType = "communicationLoss"
	ViolationWatchdogTimeout   ViolationType = "watchdogTimeout"
)

// Violation is one active or recently-evaluated safety check result.
type Violation struct {
	Type      ViolationType
	Severity  Severity
	Message   string
	Timestamp time.Time
	Active    bool
}

// EmergencyStopState is the fail-safe latch.
type EmergencyStopState struct {
	Active    bool
	Reason    string
	Source    string
	Timestamp time.Time
}

// Status is the periodic safety snapshot.
type Status struct {
	Violations    []Violation
	EmergencyStop EmergencyStopState
	FailSafeMode  string
	SafeToOperate bool
	Timestamp     time.Time
}

// Monitor evaluates the violation catalog and owns the emergency-stop latch.
type Monitor struct {
	mu sync.Mutex

	bus   *bus.Bus
	cfg   *config.TuningConfig
	clock timeutil.Clock

	violations map[ViolationType]*Violation
	estop      EmergencyStopState

	watchdogTimeout   time.Duration
	lastWatchdogReset time.Time

	// Latest observed inputs, written by event handlers.
	navStatus    nav.Status
	haveNav      bool
	battery      float64
	haveBattery  bool
	orientation  fusion.Orientation
	haveAttitude bool
	motorStatus  motor.Status
	haveMotor    bool
}

type pending struct {
	topic   string
	payload interface{}
}

// New creates a Monitor wired to the bus. The watchdog deadline starts at
// construction time.
func New(b *bus.Bus, cfg *config.TuningConfig, clock timeutil.Clock) (*Monitor, error) {
	m := &Monitor{
		bus:               b,
		cfg:               cfg,
		clock:             clock,
		violations:        make(map[ViolationType]*Violation),
		watchdogTimeout:   cfg.GetWatchdogTimeout(),
		lastWatchdogReset: clock.Now(),
	}

	b.Subscribe(bus.TopicNavStatus, func(payload interface{}) {
		if s, ok := payload.(nav.Status); ok {
			m.mu.Lock()
			m.navStatus = s
			m.haveNav = true
			m.mu.Unlock()
		}
	})
	b.Subscribe(bus.TopicSensorPowerMonitors, func(payload interface{}) {
		if r, ok := payload.(bus.PowerReading); ok {
			m.mu.Lock()
			m.battery = r.BatteryLevel
			m.haveBattery = true
			m.mu.Unlock()
		}
	})
	b.Subscribe(bus.TopicSensorFused, func(payload interface{}) {
		if p, ok := payload.(fusion.PoseSnapshot); ok {
			m.mu.Lock()
			m.orientation = p.Orientation
			m.haveAttitude = true
			m.mu.Unlock()
		}
	})
	b.Subscribe(bus.TopicMotorStatus, func(payload interface{}) {
		if s, ok := payload.(motor.Status); ok {
			m.mu.Lock()
			m.motorStatus = s
			m.haveMotor = true
			m.mu.Unlock()
		}
	})
	b.Subscribe(bus.TopicCommandWatchdogReset, func(interface{}) {
		m.ResetWatchdog()
	})
	b.Subscribe(bus.TopicCommandEmergencyStop, func(payload interface{}) {
		reason, source := "operator emergency stop", "command"
		if c, ok := payload.(bus.EmergencyStopCommand); ok {
			if c.Reason != "" {
				reason = c.Reason
			}
			if c.Source != "" {
				source = c.Source
			}
		}
		m.TriggerEmergencyStop(reason, source)
	})
	b.Subscribe(bus.TopicCommandEmergencyReset, func(interface{}) {
		if err := m.ResetEmergencyStop(); err != nil {
			monitoring.Logf("safety: emergency reset rejected: %v", err)
		}
	})

	if err := b.RegisterRequestHandler(bus.TopicRequestSafetyStatus, func(interface{}) (interface{}, error) {
		return m.Status(), nil
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// ResetWatchdog records a liveness signal, deferring the hard deadline.
func (m *Monitor) ResetWatchdog() {
	m.mu.Lock()
	m.lastWatchdogReset = m.clock.Now()
	m.mu.Unlock()
}

// TriggerEmergencyStop latches the emergency stop. A no-op when already
// active.
func (m *Monitor) TriggerEmergencyStop(reason, source string) {
	m.mu.Lock()
	if m.estop.Active {
		m.mu.Unlock()
		return
	}
	m.estop = EmergencyStopState{
		Active:    true,
		Reason:    reason,
		Source:    source,
		Timestamp: m.clock.Now(),
	}
	state := m.estop
	m.mu.Unlock()

	monitoring.Logf("safety: EMERGENCY STOP triggered: %s (source: %s)", reason, source)
	m.bus.Publish(bus.TopicSafetyEmergencyTriggered, bus.EmergencyStopTriggered{
		Reason:    state.Reason,
		Source:    state.Source,
		Timestamp: state.Timestamp,
	})
}

// ResetEmergencyStop clears the latch. It fails while any critical violation
// is still active.
func (m *Monitor) ResetEmergencyStop() error {
	m.mu.Lock()
	if !m.estop.Active {
		m.mu.Unlock()
		return nil
	}
	for _, v := range m.violations {
		if v.Active && v.Severity == SeverityCritical {
			t := v.Type
			m.mu.Unlock()
			return fmt.Errorf("cannot reset emergency stop: critical violation %s still active", t)
		}
	}
	now := m.clock.Now()
	m.estop = EmergencyStopState{Timestamp: now}
	m.mu.Unlock()

	monitoring.Logf("safety: emergency stop reset")
	m.bus.Publish(bus.TopicSafetyEmergencyReset, bus.EmergencyStopReset{Timestamp: now})
	return nil
}

// EmergencyStopActive reports the latch state.
func (m *Monitor) EmergencyStopActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estop.Active
}

// IsSafeToOperate reports whether the vehicle may accept movement commands.
func (m *Monitor) IsSafeToOperate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.estop.Active {
		return false
	}
	for _, v := range m.violations {
		if v.Active && v.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// Status returns the current safety snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(m.clock.Now())
}

func (m *Monitor) statusLocked(now time.Time) Status {
	s := Status{
		EmergencyStop: m.estop,
		FailSafeMode:  m.cfg.GetFailSafeMode(),
		Timestamp:     now,
	}
	safe := !m.estop.Active
	for _, v := range m.violations {
		if v.Active {
			s.Violations = append(s.Violations, *v)
			if v.Severity == SeverityCritical {
				safe = false
			}
		}
	}
	sort.Slice(s.Violations, func(i, j int) bool {
		return s.Violations[i].Type < s.Violations[j].Type
	})
	s.SafeToOperate = safe
	return s
}

// Tick evaluates every safety check at time now and publishes the status
// snapshot. Reference rate 5 Hz.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	var out []pending
	var estops []bus.EmergencyStopTriggered

	raise := func(t ViolationType, sev Severity, msg string) {
		v, ok := m.violations[t]
		if ok && v.Active {
			return
		}
		v = &Violation{Type: t, Severity: sev, Message: msg, Timestamp: now, Active: true}
		m.violations[t] = v
		out = append(out, pending{bus.TopicSafetyViolation, *v})
		monitoring.Logf("safety: violation %s (%s): %s", t, sev, msg)
		if sev == SeverityCritical && !m.estop.Active {
			m.estop = EmergencyStopState{
				Active:    true,
				Reason:    msg,
				Source:    string(t),
				Timestamp: now,
			}
			estops = append(estops, bus.EmergencyStopTriggered{
				Reason:    msg,
				Source:    string(t),
				Timestamp: now,
			})
			monitoring.Logf("safety: EMERGENCY STOP triggered: %s (source: %s)", msg, t)
		}
	}
	resolve := func(t ViolationType) {
		v, ok := m.violations[t]
		if !ok || !v.Active {
			return
		}
		v.Active = false
		v.Timestamp = now
		out = append(out, pending{bus.TopicSafetyViolationCleared, *v})
		monitoring.Logf("safety: violation %s cleared", t)
	}

	// Watchdog: hard deadline is critical, 80% elapsed is an early warning.
	elapsed := now.Sub(m.lastWatchdogReset)
	if elapsed >= m.watchdogTimeout {
		raise(ViolationWatchdogTimeout, SeverityCritical,
			fmt.Sprintf("watchdog deadline exceeded (%v since last reset)", elapsed))
	} else {
		resolve(ViolationWatchdogTimeout)
		if elapsed >= time.Duration(float64(m.watchdogTimeout)*0.8) {
			raise(ViolationCommunicationLoss, SeverityWarning,
				fmt.Sprintf("no watchdog reset for %v", elapsed))
		} else {
			resolve(ViolationCommunicationLoss)
		}
	}

	if m.haveNav {
		if m.navStatus.HasObstacles && m.navStatus.NearestObstacleM < m.cfg.GetObstacleSafeDistanceM() {
			raise(ViolationObstacleProximity, SeverityWarning,
				fmt.Sprintf("obstacle within %.1f m", m.navStatus.NearestObstacleM))
		} else {
			resolve(ViolationObstacleProximity)
		}

		if m.navStatus.HasHumanCandidate && m.navStatus.NearestHumanM < m.cfg.GetHumanSafeDistanceM() {
			raise(ViolationHumanProximity, SeverityCritical,
				fmt.Sprintf("human candidate within %.1f m", m.navStatus.NearestHumanM))
		} else {
			resolve(ViolationHumanProximity)
		}

		if !m.navStatus.WithinBoundaries {
			raise(ViolationBoundary, SeverityWarning, "position outside field boundary")
		} else {
			resolve(ViolationBoundary)
		}
	}

	if m.haveMotor {
		overheat, overcurrent := false, false
		var maxTemp, maxCurrent float64
		for _, w := range m.motorStatus.Wheels {
			if w.Temperature >= m.cfg.GetMotorTempCriticalC() {
				overheat = true
			}
			if w.Current >= m.cfg.GetMotorCurrentMaxA() {
				overcurrent = true
			}
			maxTemp = math.Max(maxTemp, w.Temperature)
			maxCurrent = math.Max(maxCurrent, w.Current)
		}
		if overheat {
			raise(ViolationMotorOverheat, SeverityWarning,
				fmt.Sprintf("motor temperature %.1f °C at or above limit", maxTemp))
		} else {
			resolve(ViolationMotorOverheat)
		}
		if overcurrent {
			raise(ViolationMotorOvercurrent, SeverityWarning,
				fmt.Sprintf("motor current %.1f A at or above limit", maxCurrent))
		} else {
			resolve(ViolationMotorOvercurrent)
		}
	}

	if m.haveBattery {
		if m.battery < m.cfg.GetBatteryCriticalPercent() {
			raise(ViolationBatteryCritical, SeverityCritical,
				fmt.Sprintf("battery critically low: %.1f%%", m.battery))
		} else {
			resolve(ViolationBatteryCritical)
		}
		if m.battery < m.cfg.GetBatteryLowPercent() {
			raise(ViolationBatteryLow, SeverityWarning,
				fmt.Sprintf("battery low: %.1f%%", m.battery))
		} else {
			resolve(ViolationBatteryLow)
		}
	}

	if m.haveAttitude {
		tilt := math.Abs(m.orientation.Roll) + math.Abs(m.orientation.Pitch)
		if tilt > m.cfg.GetMaxSlopeAngleRad() {
			raise(ViolationTiltExceeded, SeverityCritical,
				fmt.Sprintf("tilt %.2f rad exceeds max slope angle", tilt))
		} else {
			resolve(ViolationTiltExceeded)
		}
	}

	status := m.statusLocked(now)
	m.mu.Unlock()

	for _, e := range estops {
		m.bus.Publish(bus.TopicSafetyEmergencyTriggered, e)
	}
	for _, p := range out {
		m.bus.Publish(p.topic, p.payload)
	}
	m.bus.Publish(bus.TopicSafetyStatus, status)
}
