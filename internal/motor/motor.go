// Package motor implements closed-loop speed and differential-steering
// control of the four independently driven wheels.
//
// The control loop (50 Hz reference) moves each wheel's speed toward its
// target by at most maxAcceleration·dt when speeding up or maxDeceleration·dt
// when slowing down, which converges smoothly without overshoot. Emergency
// stop bypasses the rate limit entirely.
package motor

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/config"
	"github.com/banshee-data/tractor.core/internal/monitoring"
)

// Wheel names.
const (
	WheelFrontLeft  = "frontLeft"
	WheelFrontRight = "frontRight"
	WheelRearLeft   = "rearLeft"
	WheelRearRight  = "rearRight"
)

// WheelNames lists the wheels in a fixed order.
var WheelNames = []string{WheelFrontLeft, WheelFrontRight, WheelRearLeft, WheelRearRight}

// Wheel health states.
const (
	HealthNormal   = "normal"
	HealthCritical = "critical"
)

// WheelState is the per-wheel actuator status.
type WheelState struct {
	Speed       float64
	TargetSpeed float64
	Temperature float64
	Current     float64
	Health      string
}

// Status is the motor snapshot published every control tick.
type Status struct {
	Wheels              map[string]WheelState
	TargetSpeed         float64
	TargetDirection     float64
	MaxSpeed            float64
	MaxAcceleration     float64
	EmergencyStopActive bool
	Timestamp           time.Time
}

// EmergencyStopEvent is published when the controller actuates an emergency
// stop.
type EmergencyStopEvent struct {
	Reason    string
	Timestamp time.Time
}

// Controller drives the four wheel actuators.
type Controller struct {
	mu sync.Mutex

	bus *bus.Bus
	cfg *config.TuningConfig

	wheels map[string]*WheelState

	targetSpeed     float64
	targetDirection float64

	// Session limits. Thermal and overcurrent events only ever shrink
	// these; they restore to the configured values solely through
	// ResetLimits, which runs on a successful emergency-stop reset.
	maxSpeed        float64
	maxAcceleration float64
	maxDeceleration float64
	maxSteering     float64

	// Per-wheel threshold-crossing latches so each thermal/overcurrent
	// excursion throttles once, not once per reading.
	overTemp    map[string]bool
	overCurrent map[string]bool

	estopActive bool
	lastTick    time.Time
}

// New creates a Controller wired to the bus. It subscribes to movement
// commands, emergency-stop events and the wheel sensor feeds, and registers
// the motor status request handler.
func New(b *bus.Bus, cfg *config.TuningConfig) (*Controller, error) {
	c := &Controller{
		bus:             b,
		cfg:             cfg,
		wheels:          make(map[string]*WheelState, len(WheelNames)),
		maxSpeed:        cfg.GetMaxSpeedMps(),
		maxAcceleration: cfg.GetMaxAccelerationMps2(),
		maxDeceleration: cfg.GetMaxDecelerationMps2(),
		maxSteering:     cfg.GetMaxSteeringAngleRad(),
		overTemp:        make(map[string]bool),
		overCurrent:     make(map[string]bool),
	}
	for _, name := range WheelNames {
		c.wheels[name] = &WheelState{Health: HealthNormal}
	}

	b.Subscribe(bus.TopicCommandMove, func(payload interface{}) {
		if cmd, ok := payload.(bus.MoveCommand); ok {
			c.SetTargetSpeed(cmd.Speed)
			c.SetTargetDirection(cmd.Direction)
		}
	})
	b.Subscribe(bus.TopicCommandStop, func(interface{}) {
		c.SetTargetSpeed(0)
	})
	b.Subscribe(bus.TopicSafetyEmergencyTriggered, func(payload interface{}) {
		reason := "safety monitor"
		if e, ok := payload.(bus.EmergencyStopTriggered); ok && e.Reason != "" {
			reason = e.Reason
		}
		c.EmergencyStop(reason)
	})
	b.Subscribe(bus.TopicSafetyEmergencyReset, func(interface{}) {
		c.ClearEmergencyStop()
	})
	b.Subscribe(bus.TopicSensorMotorTemps, func(payload interface{}) {
		if r, ok := payload.(bus.WheelTemperatures); ok {
			c.UpdateTemperatures(r.Temps)
		}
	})
	b.Subscribe(bus.TopicSensorMotorCurrents, func(payload interface{}) {
		if r, ok := payload.(bus.WheelCurrents); ok {
			c.UpdateCurrents(r.Currents)
		}
	})

	if err := b.RegisterRequestHandler(bus.TopicRequestMotorStatus, func(interface{}) (interface{}, error) {
		return c.Status(), nil
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// SetTargetSpeed sets the common target speed, clamped to [0, maxSpeed].
// Ignored while emergency stop is active.
func (c *Controller) SetTargetSpeed(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.estopActive {
		return
	}
	c.targetSpeed = clamp(v, 0, c.maxSpeed)
	c.applyTargetsLocked()
}

// SetTargetDirection sets the steering angle, clamped to ±maxSteeringAngle.
// Positive angles steer left. Ignored while emergency stop is active.
func (c *Controller) SetTargetDirection(angle float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.estopActive {
		return
	}
	c.targetDirection = clamp(angle, -c.maxSteering, c.maxSteering)
	c.applyTargetsLocked()
}

// applyTargetsLocked recomputes each wheel's target from the common target
// speed and steering angle. More steering angle produces a greater
// left/right differential; positive angle makes the left side lead.
func (c *Controller) applyTargetsLocked() {
	ratio := 0.0
	if c.maxSteering > 0 {
		ratio = c.targetDirection / c.maxSteering
	}
	left := clamp(c.targetSpeed*(1+0.5*ratio), 0, c.maxSpeed)
	right := clamp(c.targetSpeed*(1-0.5*ratio), 0, c.maxSpeed)

	c.wheels[WheelFrontLeft].TargetSpeed = left
	c.wheels[WheelRearLeft].TargetSpeed = left
	c.wheels[WheelFrontRight].TargetSpeed = right
	c.wheels[WheelRearRight].TargetSpeed = right
}

// Tick runs one control-loop iteration at time now and publishes the motor
// status snapshot.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	var dt float64
	if !c.lastTick.IsZero() {
		dt = now.Sub(c.lastTick).Seconds()
	}
	c.lastTick = now

	if dt > 0 && !c.estopActive {
		for _, w := range c.wheels {
			diff := w.TargetSpeed - w.Speed
			switch {
			case diff > 0:
				w.Speed += math.Min(diff, c.maxAcceleration*dt)
			case diff < 0:
				w.Speed -= math.Min(-diff, c.maxDeceleration*dt)
			}
		}
	}
	status := c.statusLocked(now)
	c.mu.Unlock()

	c.bus.Publish(bus.TopicMotorStatus, status)
}

// EmergencyStop immediately zeroes all wheel speeds and targets, latches the
// controller's own flag and publishes the actuation event. A second call
// while already active is a no-op.
func (c *Controller) EmergencyStop(reason string) {
	c.mu.Lock()
	if c.estopActive {
		c.mu.Unlock()
		return
	}
	c.estopActive = true
	c.targetSpeed = 0
	c.targetDirection = 0
	for _, w := range c.wheels {
		w.Speed = 0
		w.TargetSpeed = 0
	}
	now := c.lastTick
	c.mu.Unlock()

	monitoring.Logf("motor: emergency stop actuated: %s", reason)
	c.bus.Publish(bus.TopicSafetyEmergencyActivated, EmergencyStopEvent{
		Reason:    reason,
		Timestamp: now,
	})
}

// ClearEmergencyStop lifts the controller latch after the safety monitor has
// accepted a reset, and restores the session limits to their configured
// values. This is the only path that grows the limits back.
func (c *Controller) ClearEmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.estopActive {
		return
	}
	c.estopActive = false
	c.ResetLimitsLocked()
	monitoring.Logf("motor: emergency stop cleared, limits restored")
}

// ResetLimitsLocked restores maxSpeed and maxAcceleration to configuration.
// Caller must hold c.mu.
func (c *Controller) ResetLimitsLocked() {
	c.maxSpeed = c.cfg.GetMaxSpeedMps()
	c.maxAcceleration = c.cfg.GetMaxAccelerationMps2()
	for name := range c.overTemp {
		delete(c.overTemp, name)
	}
	for name := range c.overCurrent {
		delete(c.overCurrent, name)
	}
}

// UpdateTemperatures writes measured wheel temperatures. A wheel crossing the
// critical threshold is flagged critical and throttles maxSpeed once per
// excursion.
func (c *Controller) UpdateTemperatures(temps map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	limit := c.cfg.GetMotorTempCriticalC()
	for name, temp := range temps {
		w, ok := c.wheels[name]
		if !ok {
			continue
		}
		w.Temperature = temp
		if temp >= limit {
			w.Health = HealthCritical
			if !c.overTemp[name] {
				c.overTemp[name] = true
				c.handleSafetyEventLocked("overTemperature", name)
			}
		} else {
			w.Health = HealthNormal
			delete(c.overTemp, name)
		}
	}
}

// UpdateCurrents writes measured wheel currents. A wheel crossing the current
// limit throttles maxAcceleration once per excursion.
func (c *Controller) UpdateCurrents(currents map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	limit := c.cfg.GetMotorCurrentMaxA()
	for name, cur := range currents {
		w, ok := c.wheels[name]
		if !ok {
			continue
		}
		w.Current = cur
		if cur >= limit {
			if !c.overCurrent[name] {
				c.overCurrent[name] = true
				c.handleSafetyEventLocked("overCurrent", name)
			}
		} else {
			delete(c.overCurrent, name)
		}
	}
}

// handleSafetyEventLocked applies the self-protection throttles. The limits
// only ever shrink here; restoration happens solely in ResetLimitsLocked.
func (c *Controller) handleSafetyEventLocked(kind, wheel string) {
	switch kind {
	case "overTemperature":
		c.maxSpeed *= c.cfg.GetThermalThrottleFraction()
		if c.targetSpeed > c.maxSpeed {
			c.targetSpeed = c.maxSpeed
			c.applyTargetsLocked()
		}
		monitoring.Logf("motor: %s over temperature, maxSpeed throttled to %.2f m/s", wheel, c.maxSpeed)
	case "overCurrent":
		c.maxAcceleration *= c.cfg.GetCurrentThrottleFraction()
		monitoring.Logf("motor: %s over current, maxAcceleration throttled to %.2f m/s²", wheel, c.maxAcceleration)
	}
}

// EmergencyStopActive reports the controller latch.
func (c *Controller) EmergencyStopActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estopActive
}

// Limits returns the current session maxSpeed and maxAcceleration.
func (c *Controller) Limits() (maxSpeed, maxAcceleration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSpeed, c.maxAcceleration
}

// Status returns the current motor snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(c.lastTick)
}

func (c *Controller) statusLocked(now time.Time) Status {
	s := Status{
		Wheels:              make(map[string]WheelState, len(c.wheels)),
		TargetSpeed:         c.targetSpeed,
		TargetDirection:     c.targetDirection,
		MaxSpeed:            c.maxSpeed,
		MaxAcceleration:     c.maxAcceleration,
		EmergencyStopActive: c.estopActive,
		Timestamp:           now,
	}
	for name, w := range c.wheels {
		s.Wheels[name] = *w
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
