package models

import "encoding/json"

// VehicleState is the closed set of states a vehicle reports through the
// lightweight list call. Anything the API returns outside this set is mapped
// to VehicleStateUnknown so downstream transition tables stay exhaustive.
type VehicleState string

const (
	VehicleStateOnline  VehicleState = "online"
	VehicleStateAsleep  VehicleState = "asleep"
	VehicleStateOffline VehicleState = "offline"
	VehicleStateUnknown VehicleState = "unknown"
)

// ParseVehicleState maps a raw API state string onto the closed VehicleState set.
func ParseVehicleState(s string) VehicleState {
	switch VehicleState(s) {
	case VehicleStateOnline, VehicleStateAsleep, VehicleStateOffline:
		return VehicleState(s)
	default:
		return VehicleStateUnknown
	}
}

// Vehicle is one entry from the vehicle list endpoint. It is ephemeral,
// derived fresh on every poll and never persisted.
type Vehicle struct {
	ID          int64  `json:"id"`
	VIN         string `json:"vin,omitempty"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
}

// ReportedState returns the vehicle's state as a closed variant.
func (v Vehicle) ReportedState() VehicleState {
	return ParseVehicleState(v.State)
}

// VehicleData is the full telemetry payload from the vehicle_data endpoint.
// Numeric fields are pointers so an absent field is distinguishable from zero.
type VehicleData struct {
	ID            int64          `json:"id"`
	DisplayName   string         `json:"display_name"`
	State         string         `json:"state"`
	ChargeState   *ChargeState   `json:"charge_state,omitempty"`
	ClimateState  *ClimateState  `json:"climate_state,omitempty"`
	DriveState    *DriveState    `json:"drive_state,omitempty"`
	VehicleState  *VehicleStatus `json:"vehicle_state,omitempty"`
	VehicleConfig *VehicleConfig `json:"vehicle_config,omitempty"`
}

// ChargeState carries battery and charging telemetry.
type ChargeState struct {
	BatteryLevel             *float64 `json:"battery_level,omitempty"`
	UsableBatteryLevel       *float64 `json:"usable_battery_level,omitempty"`
	BatteryRange             *float64 `json:"battery_range,omitempty"`
	IdealBatteryRange        *float64 `json:"ideal_battery_range,omitempty"`
	EstBatteryRange          *float64 `json:"est_battery_range,omitempty"`
	ChargeLimitSoc           *float64 `json:"charge_limit_soc,omitempty"`
	ChargeEnergyAdded        *float64 `json:"charge_energy_added,omitempty"`
	ChargeRate               *float64 `json:"charge_rate,omitempty"`
	ChargerPower             *float64 `json:"charger_power,omitempty"`
	ChargerVoltage           *float64 `json:"charger_voltage,omitempty"`
	ChargerActualCurrent     *float64 `json:"charger_actual_current,omitempty"`
	TimeToFullCharge         *float64 `json:"time_to_full_charge,omitempty"`
	ChargePortDoorOpen       *bool    `json:"charge_port_door_open,omitempty"`
	BatteryHeaterOn          *bool    `json:"battery_heater_on,omitempty"`
	ScheduledChargingPending *bool    `json:"scheduled_charging_pending,omitempty"`
	ChargingState            string   `json:"charging_state,omitempty"`
}

// ClimateState carries HVAC telemetry.
type ClimateState struct {
	InsideTemp           *float64 `json:"inside_temp,omitempty"`
	OutsideTemp          *float64 `json:"outside_temp,omitempty"`
	DriverTempSetting    *float64 `json:"driver_temp_setting,omitempty"`
	PassengerTempSetting *float64 `json:"passenger_temp_setting,omitempty"`
	IsClimateOn          *bool    `json:"is_climate_on,omitempty"`
	IsPreconditioning    *bool    `json:"is_preconditioning,omitempty"`
	FanStatus            *float64 `json:"fan_status,omitempty"`
	DefrostMode          *float64 `json:"defrost_mode,omitempty"`
	SeatHeaterLeft       *float64 `json:"seat_heater_left,omitempty"`
	SeatHeaterRight      *float64 `json:"seat_heater_right,omitempty"`
}

// DriveState carries position and motion telemetry. The API sometimes omits
// latitude/longitude and reports the position under the active_route_* keys
// instead; consumers fall back to those.
type DriveState struct {
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
	ActiveRouteLatitude  *float64 `json:"active_route_latitude,omitempty"`
	ActiveRouteLongitude *float64 `json:"active_route_longitude,omitempty"`
	Heading              *float64 `json:"heading,omitempty"`
	Speed                *float64 `json:"speed,omitempty"`
	Power                *float64 `json:"power,omitempty"`
	ShiftState           string   `json:"shift_state,omitempty"`
}

// VehicleStatus carries body state telemetry. Named VehicleStatus to avoid
// clashing with the VehicleState variant type; the wire name is vehicle_state.
type VehicleStatus struct {
	Odometer           *float64 `json:"odometer,omitempty"`
	Locked             *bool    `json:"locked,omitempty"`
	SentryMode         *bool    `json:"sentry_mode,omitempty"`
	ValetMode          *bool    `json:"valet_mode,omitempty"`
	IsUserPresent      *bool    `json:"is_user_present,omitempty"`
	RemoteStart        *bool    `json:"remote_start,omitempty"`
	CenterDisplayState *float64 `json:"center_display_state,omitempty"`
	DriverFrontDoor    *float64 `json:"df,omitempty"`
	DriverRearDoor     *float64 `json:"dr,omitempty"`
	PassengerFrontDoor *float64 `json:"pf,omitempty"`
	PassengerRearDoor  *float64 `json:"pr,omitempty"`
	FrontTrunk         *float64 `json:"ft,omitempty"`
	RearTrunk          *float64 `json:"rt,omitempty"`
	TPMSPressureFL     *float64 `json:"tpms_pressure_fl,omitempty"`
	TPMSPressureFR     *float64 `json:"tpms_pressure_fr,omitempty"`
	TPMSPressureRL     *float64 `json:"tpms_pressure_rl,omitempty"`
	TPMSPressureRR     *float64 `json:"tpms_pressure_rr,omitempty"`
	CarVersion         string   `json:"car_version,omitempty"`
}

// VehicleConfig carries static configuration reported by the vehicle.
type VehicleConfig struct {
	CarType       string `json:"car_type,omitempty"`
	TrimBadging   string `json:"trim_badging,omitempty"`
	ExteriorColor string `json:"exterior_color,omitempty"`
}

// ListVehiclesResponse is the envelope of the vehicle list endpoint.
type ListVehiclesResponse struct {
	Response []Vehicle `json:"response"`
	Count    int       `json:"count,omitempty"`
}

// VehicleDataResponse is the envelope of the vehicle_data endpoint.
type VehicleDataResponse struct {
	Response *VehicleData `json:"response"`
}

// GenericResponse is the envelope of endpoints whose body we do not inspect.
type GenericResponse struct {
	Response json.RawMessage `json:"response"`
}
