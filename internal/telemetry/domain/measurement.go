package telemetry

import (
	"context"
	"time"
)

// Point keys reported by heating devices.
const (
	PointRoomTemp     = "t_r"
	PointRoomSetpoint = "t_r_set"
	PointOutdoorTemp  = "t_out"
	PointModulation   = "blr_mod_lvl"
	PointSetpoint     = "t_set"
)

// Measurement is a raw telemetry value written to storage.
type Measurement struct {
	DeviceID string
	PointKey string
	TS       time.Time
	Value    float64
	Quality  string
}

// Sample is one timestamped reading of all points of a device.
type Sample struct {
	DeviceID     string
	Timestamp    time.Time
	RoomTemp     float64
	RoomSetpoint float64
	OutdoorTemp  float64
	Modulation   float64
	Setpoint     float64
}

// SampleFromValues maps point values onto a Sample. Missing points stay zero.
func SampleFromValues(deviceID string, ts time.Time, values map[string]float64) Sample {
	return Sample{
		DeviceID:     deviceID,
		Timestamp:    ts.UTC(),
		RoomTemp:     values[PointRoomTemp],
		RoomSetpoint: values[PointRoomSetpoint],
		OutdoorTemp:  values[PointOutdoorTemp],
		Modulation:   values[PointModulation],
		Setpoint:     values[PointSetpoint],
	}
}

// Snapshot is the latest reading across a set of devices.
type Snapshot struct {
	Timestamp time.Time
	Devices   map[string]Sample
	// AggregatePower is the sum of positive modulation levels.
	AggregatePower float64
}

// NewSnapshot builds a snapshot from per-device samples.
func NewSnapshot(samples []Sample) Snapshot {
	snap := Snapshot{Devices: make(map[string]Sample, len(samples))}
	for _, sample := range samples {
		snap.Devices[sample.DeviceID] = sample
		if sample.Modulation > 0 {
			snap.AggregatePower += sample.Modulation
		}
		if sample.Timestamp.After(snap.Timestamp) {
			snap.Timestamp = sample.Timestamp
		}
	}
	return snap
}

// TelemetryRepository persists telemetry measurements.
type TelemetryRepository interface {
	InsertMeasurements(ctx context.Context, measurements []Measurement) error
}
