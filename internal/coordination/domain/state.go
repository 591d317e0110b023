package coordination

import (
	"fmt"
	"time"
)

// DeviceState is a fixed-length feature snapshot of one device.
type DeviceState struct {
	Timestamp            time.Time
	OutdoorTemp          float64
	Setpoint             float64
	RoomTempTrajectory   []float64
	ModulationTrajectory []float64
	RoomTemp             float64
}

// NewDeviceState copies the trajectories and checks both are exactly trajectoryLength long.
func NewDeviceState(trajectoryLength int, ts time.Time, outdoorTemp, setpoint float64, roomTemps, modulation []float64, roomTemp float64) (DeviceState, error) {
	if trajectoryLength <= 0 {
		return DeviceState{}, fmt.Errorf("%w: trajectory length must be positive", ErrTrajectoryLength)
	}
	if len(roomTemps) != trajectoryLength {
		return DeviceState{}, fmt.Errorf("%w: room temperature has %d entries, expected %d", ErrTrajectoryLength, len(roomTemps), trajectoryLength)
	}
	if len(modulation) != trajectoryLength {
		return DeviceState{}, fmt.Errorf("%w: modulation has %d entries, expected %d", ErrTrajectoryLength, len(modulation), trajectoryLength)
	}
	return DeviceState{
		Timestamp:            ts,
		OutdoorTemp:          outdoorTemp,
		Setpoint:             setpoint,
		RoomTempTrajectory:   append([]float64(nil), roomTemps...),
		ModulationTrajectory: append([]float64(nil), modulation...),
		RoomTemp:             roomTemp,
	}, nil
}

// LatestModulation returns the newest modulation sample.
func (s DeviceState) LatestModulation() float64 {
	if len(s.ModulationTrajectory) == 0 {
		return 0
	}
	return s.ModulationTrajectory[len(s.ModulationTrajectory)-1]
}

// Features flattens the state in the order the value models are trained on:
// minutes since midnight, outdoor temp, setpoint, room temps, modulation, room temp.
func (s DeviceState) Features() []float64 {
	out := make([]float64, 0, 4+len(s.RoomTempTrajectory)+len(s.ModulationTrajectory))
	ts := s.Timestamp
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	out = append(out, float64(int(ts.Sub(midnight).Minutes())))
	out = append(out, s.OutdoorTemp, s.Setpoint)
	out = append(out, s.RoomTempTrajectory...)
	out = append(out, s.ModulationTrajectory...)
	out = append(out, s.RoomTemp)
	return out
}
