package bus

// Topic names for the control core. Inbound commands and sensor readings are
// published by the external transport and sensor adapters; outbound status and
// event topics are consumed by the transport and monitoring layers.
const (
	// Inbound commands.
	TopicCommandMove            = "command.move"
	TopicCommandStop            = "command.stop"
	TopicCommandEmergencyStop   = "command.emergencyStop"
	TopicCommandEmergencyReset  = "command.emergencyReset"
	TopicCommandSetWaypoints    = "command.setWaypoints"
	TopicCommandStartNavigation = "command.startNavigation"
	TopicCommandStopNavigation  = "command.stopNavigation"
	TopicCommandSetBoundaries   = "command.setBoundaries"
	TopicCommandWatchdogReset   = "command.watchdogReset"

	// Inbound sensor readings.
	TopicSensorGPS           = "sensor.gps.updated"
	TopicSensorIMU           = "sensor.imu.updated"
	TopicSensorLidar         = "sensor.lidar.updated"
	TopicSensorUltrasonic    = "sensor.ultrasonic.updated"
	TopicSensorPowerMonitors = "sensor.powerMonitors.updated"
	TopicSensorMotorTemps    = "sensor.motorTemps.updated"
	TopicSensorMotorCurrents = "sensor.motorCurrents.updated"

	// Outbound status and events.
	TopicSensorFused              = "sensor.fused.updated"
	TopicNavStatus                = "navigation.status.updated"
	TopicNavWaypointReached       = "navigation.waypoint.reached"
	TopicNavPathComplete          = "navigation.path.complete"
	TopicNavBoundaryViolation     = "navigation.boundaryViolation"
	TopicNavAvoidanceStarted      = "navigation.obstacleAvoidance.started"
	TopicNavAvoidanceStopped      = "navigation.obstacleAvoidance.stopped"
	TopicMotorStatus              = "motor.status.updated"
	TopicSafetyStatus             = "safety.status.updated"
	TopicSafetyViolation          = "safety.violation"
	TopicSafetyViolationCleared   = "safety.violation.cleared"
	TopicSafetyEmergencyTriggered = "safety.emergencyStop.triggered"
	TopicSafetyEmergencyActivated = "safety.emergencyStop.activated"
	TopicSafetyEmergencyReset     = "safety.emergencyStop.reset"

	// Request/response status pulls.
	TopicRequestNavStatus    = "request.navigation.status"
	TopicRequestMotorStatus  = "request.motor.status"
	TopicRequestSensorStatus = "request.sensor.status"
	TopicRequestSafetyStatus = "request.safety.status"
)
