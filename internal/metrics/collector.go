package metrics

import (
	"sync"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Conversion factors. The API reports distances in miles and speeds in mph;
// everything exported is metric.
const (
	milesToKm = 1.609344
	mphToKmh  = 1.609344
)

// chargingStates are the charging states reported by the API.
var chargingStates = []string{"Charging", "Complete", "Disconnected", "Stopped", "NoPower"}

// shiftStates are the gear positions reported by the API.
var shiftStates = []string{"P", "D", "R", "N"}

var (
	upDesc = prometheus.NewDesc("tesla_exporter_up",
		"Whether the exporter can reach the Tesla API", []string{"vehicle_name"}, nil)
	reachableDesc = prometheus.NewDesc("tesla_exporter_vehicle_reachable",
		"Whether the vehicle is online", []string{"vehicle_name"}, nil)
	lastPollDesc = prometheus.NewDesc("tesla_exporter_last_successful_poll_timestamp_seconds",
		"Unix timestamp of last successful vehicle_data fetch", []string{"vehicle_name"}, nil)
	pollErrorsDesc = prometheus.NewDesc("tesla_exporter_poll_errors_total",
		"Count of polling errors by type", []string{"vehicle_name", "error_type"}, nil)

	batteryLevelDesc = prometheus.NewDesc("tesla_battery_level_percent",
		"Battery level 0-100", []string{"vehicle_name"}, nil)
	batteryUsableDesc = prometheus.NewDesc("tesla_battery_usable_level_percent",
		"Usable battery level 0-100", []string{"vehicle_name"}, nil)
	batteryRangeDesc = prometheus.NewDesc("tesla_battery_range_km",
		"Rated range in km", []string{"vehicle_name"}, nil)
	batteryIdealRangeDesc = prometheus.NewDesc("tesla_battery_ideal_range_km",
		"Ideal range in km", []string{"vehicle_name"}, nil)
	batteryEstRangeDesc = prometheus.NewDesc("tesla_battery_estimated_range_km",
		"Estimated range in km", []string{"vehicle_name"}, nil)
	chargeLimitDesc = prometheus.NewDesc("tesla_charge_limit_percent",
		"Charge limit SOC", []string{"vehicle_name"}, nil)
	chargeEnergyAddedDesc = prometheus.NewDesc("tesla_charge_energy_added_kwh",
		"Energy added in session (kWh)", []string{"vehicle_name"}, nil)
	chargeRateDesc = prometheus.NewDesc("tesla_charge_rate_kmh",
		"Charge rate (km/h)", []string{"vehicle_name"}, nil)
	chargerPowerDesc = prometheus.NewDesc("tesla_charger_power_kw",
		"Charger power (kW)", []string{"vehicle_name"}, nil)
	chargerVoltageDesc = prometheus.NewDesc("tesla_charger_voltage_volts",
		"Charger voltage", []string{"vehicle_name"}, nil)
	chargerCurrentDesc = prometheus.NewDesc("tesla_charger_actual_current_amps",
		"Charger current (amps)", []string{"vehicle_name"}, nil)
	chargeTimeRemainingDesc = prometheus.NewDesc("tesla_charge_time_remaining_hours",
		"Time to full charge (hours)", []string{"vehicle_name"}, nil)
	chargePortDoorDesc = prometheus.NewDesc("tesla_charge_port_door_open",
		"Charge port door open", []string{"vehicle_name"}, nil)
	batteryHeaterDesc = prometheus.NewDesc("tesla_battery_heater_on",
		"Battery heater active", []string{"vehicle_name"}, nil)
	scheduledChargingDesc = prometheus.NewDesc("tesla_scheduled_charging_pending",
		"Scheduled charge pending", []string{"vehicle_name"}, nil)
	chargingStateDesc = prometheus.NewDesc("tesla_charging_state",
		"Charging state (1 for active state)", []string{"vehicle_name", "state"}, nil)

	insideTempDesc = prometheus.NewDesc("tesla_inside_temperature_celsius",
		"Interior temperature", []string{"vehicle_name"}, nil)
	outsideTempDesc = prometheus.NewDesc("tesla_outside_temperature_celsius",
		"Exterior temperature", []string{"vehicle_name"}, nil)
	driverTempDesc = prometheus.NewDesc("tesla_driver_temperature_setting_celsius",
		"Driver temp setting", []string{"vehicle_name"}, nil)
	passengerTempDesc = prometheus.NewDesc("tesla_passenger_temperature_setting_celsius",
		"Passenger temp setting", []string{"vehicle_name"}, nil)
	climateOnDesc = prometheus.NewDesc("tesla_climate_on",
		"HVAC on", []string{"vehicle_name"}, nil)
	preconditioningDesc = prometheus.NewDesc("tesla_preconditioning",
		"Preconditioning active", []string{"vehicle_name"}, nil)
	fanStatusDesc = prometheus.NewDesc("tesla_fan_status",
		"Fan speed level", []string{"vehicle_name"}, nil)
	defrostModeDesc = prometheus.NewDesc("tesla_defrost_mode",
		"Defrost mode", []string{"vehicle_name"}, nil)
	seatHeaterDesc = prometheus.NewDesc("tesla_seat_heater_level",
		"Seat heater level", []string{"vehicle_name", "seat"}, nil)

	latitudeDesc = prometheus.NewDesc("tesla_latitude",
		"GPS latitude", []string{"vehicle_name"}, nil)
	longitudeDesc = prometheus.NewDesc("tesla_longitude",
		"GPS longitude", []string{"vehicle_name"}, nil)
	headingDesc = prometheus.NewDesc("tesla_heading_degrees",
		"Heading 0-360", []string{"vehicle_name"}, nil)
	speedDesc = prometheus.NewDesc("tesla_speed_kmh",
		"Speed in km/h", []string{"vehicle_name"}, nil)
	powerDesc = prometheus.NewDesc("tesla_power_watts",
		"Drive power draw", []string{"vehicle_name"}, nil)
	shiftStateDesc = prometheus.NewDesc("tesla_shift_state",
		"Shift state (1 for active state)", []string{"vehicle_name", "state"}, nil)

	odometerDesc = prometheus.NewDesc("tesla_odometer_km",
		"Odometer reading in km", []string{"vehicle_name"}, nil)
	lockedDesc = prometheus.NewDesc("tesla_locked",
		"Vehicle locked", []string{"vehicle_name"}, nil)
	sentryModeDesc = prometheus.NewDesc("tesla_sentry_mode",
		"Sentry mode active", []string{"vehicle_name"}, nil)
	valetModeDesc = prometheus.NewDesc("tesla_valet_mode",
		"Valet mode active", []string{"vehicle_name"}, nil)
	userPresentDesc = prometheus.NewDesc("tesla_user_present",
		"User present in vehicle", []string{"vehicle_name"}, nil)
	remoteStartDesc = prometheus.NewDesc("tesla_remote_start",
		"Remote start active", []string{"vehicle_name"}, nil)
	centerDisplayDesc = prometheus.NewDesc("tesla_center_display_state",
		"Center display state", []string{"vehicle_name"}, nil)
	doorOpenDesc = prometheus.NewDesc("tesla_door_open",
		"Door open (1=open, 0=closed)", []string{"vehicle_name", "door"}, nil)
	trunkOpenDesc = prometheus.NewDesc("tesla_trunk_open",
		"Trunk open (1=open, 0=closed)", []string{"vehicle_name", "trunk"}, nil)
	tpmsPressureDesc = prometheus.NewDesc("tesla_tpms_pressure_bar",
		"Tire pressure in bar", []string{"vehicle_name", "tire"}, nil)
	softwareVersionDesc = prometheus.NewDesc("tesla_software_version_info",
		"Software version (always 1, version in label)", []string{"vehicle_name", "version"}, nil)
)

// VehicleCollector is a custom prometheus collector serving the most recent
// vehicle telemetry. The poll loop is the single writer; the scrape handler
// reads concurrently, so the whole snapshot sits behind one lock and readers
// always see a consistent copy.
type VehicleCollector struct {
	mu                 sync.RWMutex
	vehicleData        *models.VehicleData
	vehicleState       models.VehicleState
	vehicleName        string
	lastSuccessfulPoll time.Time
	apiReachable       bool
	pollErrors         map[string]uint64
}

// NewVehicleCollector initializes a new VehicleCollector.
func NewVehicleCollector() *VehicleCollector {
	return &VehicleCollector{
		vehicleState: models.VehicleStateUnknown,
		vehicleName:  "unknown",
		pollErrors:   make(map[string]uint64),
	}
}

// Update publishes the outcome of a poll cycle. A nil payload refreshes only
// the state and name; previously fetched telemetry stays exposed.
func (c *VehicleCollector) Update(data *models.VehicleData, state models.VehicleState, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vehicleState = state
	c.vehicleName = name
	c.apiReachable = true

	if data != nil {
		c.vehicleData = data
		c.lastSuccessfulPoll = time.Now()
	}
}

// RecordError increments the error counter for the given kind.
func (c *VehicleCollector) RecordError(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErrors[kind]++
}

// MarkAPIUnreachable flags that the API itself could not be reached.
func (c *VehicleCollector) MarkAPIUnreachable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiReachable = false
}

// Describe implements prometheus.Collector.
func (c *VehicleCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector. It runs concurrently with the
// poll loop and only ever reads under the lock.
func (c *VehicleCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := c.vehicleName

	ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, boolToFloat(c.apiReachable), name)
	ch <- prometheus.MustNewConstMetric(reachableDesc, prometheus.GaugeValue,
		boolToFloat(c.vehicleState == models.VehicleStateOnline), name)

	if !c.lastSuccessfulPoll.IsZero() {
		ch <- prometheus.MustNewConstMetric(lastPollDesc, prometheus.GaugeValue,
			float64(c.lastSuccessfulPoll.Unix()), name)
	}

	for kind, count := range c.pollErrors {
		ch <- prometheus.MustNewConstMetric(pollErrorsDesc, prometheus.CounterValue,
			float64(count), name, kind)
	}

	if c.vehicleData == nil {
		return
	}

	c.collectChargeState(ch, name)
	c.collectClimateState(ch, name)
	c.collectDriveState(ch, name)
	c.collectVehicleStatus(ch, name)
}

func (c *VehicleCollector) collectChargeState(ch chan<- prometheus.Metric, name string) {
	charge := c.vehicleData.ChargeState
	if charge == nil {
		return
	}

	emitGauge(ch, batteryLevelDesc, charge.BatteryLevel, name)
	emitGauge(ch, batteryUsableDesc, charge.UsableBatteryLevel, name)
	emitGauge(ch, batteryRangeDesc, milesToKmValue(charge.BatteryRange), name)
	emitGauge(ch, batteryIdealRangeDesc, milesToKmValue(charge.IdealBatteryRange), name)
	emitGauge(ch, batteryEstRangeDesc, milesToKmValue(charge.EstBatteryRange), name)
	emitGauge(ch, chargeLimitDesc, charge.ChargeLimitSoc, name)
	emitGauge(ch, chargeEnergyAddedDesc, charge.ChargeEnergyAdded, name)
	emitGauge(ch, chargeRateDesc, milesToKmValue(charge.ChargeRate), name)
	emitGauge(ch, chargerPowerDesc, charge.ChargerPower, name)
	emitGauge(ch, chargerVoltageDesc, charge.ChargerVoltage, name)
	emitGauge(ch, chargerCurrentDesc, charge.ChargerActualCurrent, name)
	emitGauge(ch, chargeTimeRemainingDesc, charge.TimeToFullCharge, name)
	emitGauge(ch, chargePortDoorDesc, boolValue(charge.ChargePortDoorOpen), name)
	emitGauge(ch, batteryHeaterDesc, boolValue(charge.BatteryHeaterOn), name)
	emitGauge(ch, scheduledChargingDesc, boolValue(charge.ScheduledChargingPending), name)

	for _, s := range chargingStates {
		ch <- prometheus.MustNewConstMetric(chargingStateDesc, prometheus.GaugeValue,
			boolToFloat(s == charge.ChargingState), name, s)
	}
}

func (c *VehicleCollector) collectClimateState(ch chan<- prometheus.Metric, name string) {
	climate := c.vehicleData.ClimateState
	if climate == nil {
		return
	}

	emitGauge(ch, insideTempDesc, climate.InsideTemp, name)
	emitGauge(ch, outsideTempDesc, climate.OutsideTemp, name)
	emitGauge(ch, driverTempDesc, climate.DriverTempSetting, name)
	emitGauge(ch, passengerTempDesc, climate.PassengerTempSetting, name)
	emitGauge(ch, climateOnDesc, boolValue(climate.IsClimateOn), name)
	emitGauge(ch, preconditioningDesc, boolValue(climate.IsPreconditioning), name)
	emitGauge(ch, fanStatusDesc, climate.FanStatus, name)
	emitGauge(ch, defrostModeDesc, climate.DefrostMode, name)
	emitGauge(ch, seatHeaterDesc, climate.SeatHeaterLeft, name, "front_left")
	emitGauge(ch, seatHeaterDesc, climate.SeatHeaterRight, name, "front_right")
}

func (c *VehicleCollector) collectDriveState(ch chan<- prometheus.Metric, name string) {
	drive := c.vehicleData.DriveState
	if drive == nil {
		return
	}

	// The API intermittently reports position only under active_route_*.
	// Known workaround, not designed behavior.
	lat := drive.Latitude
	if lat == nil {
		lat = drive.ActiveRouteLatitude
	}
	lon := drive.Longitude
	if lon == nil {
		lon = drive.ActiveRouteLongitude
	}
	emitGauge(ch, latitudeDesc, lat, name)
	emitGauge(ch, longitudeDesc, lon, name)
	emitGauge(ch, headingDesc, drive.Heading, name)

	// Speed is mph, or absent when parked.
	speedKmh := 0.0
	if drive.Speed != nil {
		speedKmh = *drive.Speed * mphToKmh
	}
	ch <- prometheus.MustNewConstMetric(speedDesc, prometheus.GaugeValue, speedKmh, name)
	emitGauge(ch, powerDesc, drive.Power, name)

	currentShift := drive.ShiftState
	if currentShift == "" {
		currentShift = "P"
	}
	for _, s := range shiftStates {
		ch <- prometheus.MustNewConstMetric(shiftStateDesc, prometheus.GaugeValue,
			boolToFloat(s == currentShift), name, s)
	}
}

func (c *VehicleCollector) collectVehicleStatus(ch chan<- prometheus.Metric, name string) {
	vs := c.vehicleData.VehicleState
	if vs == nil {
		return
	}

	emitGauge(ch, odometerDesc, milesToKmValue(vs.Odometer), name)
	emitGauge(ch, lockedDesc, boolValue(vs.Locked), name)
	emitGauge(ch, sentryModeDesc, boolValue(vs.SentryMode), name)
	emitGauge(ch, valetModeDesc, boolValue(vs.ValetMode), name)
	emitGauge(ch, userPresentDesc, boolValue(vs.IsUserPresent), name)
	emitGauge(ch, remoteStartDesc, boolValue(vs.RemoteStart), name)
	emitGauge(ch, centerDisplayDesc, vs.CenterDisplayState, name)

	emitGauge(ch, doorOpenDesc, vs.DriverFrontDoor, name, "driver_front")
	emitGauge(ch, doorOpenDesc, vs.DriverRearDoor, name, "driver_rear")
	emitGauge(ch, doorOpenDesc, vs.PassengerFrontDoor, name, "passenger_front")
	emitGauge(ch, doorOpenDesc, vs.PassengerRearDoor, name, "passenger_rear")

	emitGauge(ch, trunkOpenDesc, vs.FrontTrunk, name, "front")
	emitGauge(ch, trunkOpenDesc, vs.RearTrunk, name, "rear")

	// Already in bar, no conversion needed.
	emitGauge(ch, tpmsPressureDesc, vs.TPMSPressureFL, name, "front_left")
	emitGauge(ch, tpmsPressureDesc, vs.TPMSPressureFR, name, "front_right")
	emitGauge(ch, tpmsPressureDesc, vs.TPMSPressureRL, name, "rear_left")
	emitGauge(ch, tpmsPressureDesc, vs.TPMSPressureRR, name, "rear_right")

	version := vs.CarVersion
	if version == "" {
		version = "unknown"
	}
	ch <- prometheus.MustNewConstMetric(softwareVersionDesc, prometheus.GaugeValue, 1.0, name, version)
}

// emitGauge sends one gauge sample, skipping absent values.
func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, value *float64, labels ...string) {
	if value == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, *value, labels...)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func boolValue(b *bool) *float64 {
	if b == nil {
		return nil
	}
	v := boolToFloat(*b)
	return &v
}

func milesToKmValue(miles *float64) *float64 {
	if miles == nil {
		return nil
	}
	v := *miles * milesToKm
	return &v
}
