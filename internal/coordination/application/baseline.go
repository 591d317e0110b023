package application

import (
	"context"
	"fmt"
	"math"

	coordination "dr-coordinator/internal/coordination/domain"
	telemetry "dr-coordinator/internal/telemetry/domain"
)

type baseline struct {
	states  map[string]coordination.DeviceState
	actions map[string]coordination.Action
	power   float64
}

func (c *Coordinator) loadBaseline(ctx context.Context) (baseline, error) {
	size := c.cfg.TrajectoryLength + c.cfg.WindowMargin
	windows, err := c.deps.Telemetry.RecentWindow(ctx, c.cfg.Participants, size)
	if err != nil {
		return baseline{}, fmt.Errorf("%w: %v", coordination.ErrMeasurementsUnavailable, err)
	}

	b := baseline{
		states:  make(map[string]coordination.DeviceState, len(c.cfg.Participants)),
		actions: make(map[string]coordination.Action, len(c.cfg.Participants)),
	}
	n := c.cfg.TrajectoryLength
	for _, deviceID := range c.cfg.Participants {
		window := windows[deviceID]
		if len(window) < n {
			return baseline{}, fmt.Errorf("%w: device %s has %d samples, need %d", coordination.ErrTrajectoryLength, deviceID, len(window), n)
		}
		window = window[len(window)-n:]
		c.checkSampling(deviceID, window)

		roomTemps := make([]float64, n)
		modulation := make([]float64, n)
		for i, sample := range window {
			roomTemps[i] = sample.RoomTemp
			modulation[i] = sample.Modulation
		}
		last := window[n-1]
		state, err := coordination.NewDeviceState(n, last.Timestamp, last.OutdoorTemp, last.Setpoint, roomTemps, modulation, last.RoomTemp)
		if err != nil {
			return baseline{}, fmt.Errorf("device %s: %w", deviceID, err)
		}
		b.states[deviceID] = state
		b.power += math.Max(0, state.LatestModulation())
		b.actions[deviceID] = c.baselineAction(deviceID, last.Setpoint)
	}
	return b, nil
}

// checkSampling logs, never fails, when a device reports at an irregular or
// unexpected interval.
func (c *Coordinator) checkSampling(deviceID string, window []telemetry.Sample) {
	if len(window) < 2 {
		return
	}
	level := "ERROR"
	if c.cfg.Simulated[deviceID] {
		level = "WARN"
	}
	interval := window[1].Timestamp.Sub(window[0].Timestamp)
	for i := 2; i < len(window); i++ {
		if step := window[i].Timestamp.Sub(window[i-1].Timestamp); step != interval {
			c.logger.Printf("coordinator: %s inconsistent sampling interval: device=%s got=%s and %s", level, deviceID, interval, step)
			return
		}
	}
	if c.cfg.TrajectoryInterval > 0 && interval != c.cfg.TrajectoryInterval {
		c.logger.Printf("coordinator: %s sampling interval mismatch: device=%s got=%s want=%s", level, deviceID, interval, c.cfg.TrajectoryInterval)
	}
}

// baselineAction thresholds the device setpoint for binary action spaces and
// otherwise picks the action whose mapped setpoint is nearest.
func (c *Coordinator) baselineAction(deviceID string, setpoint float64) coordination.Action {
	space := c.cfg.ActionSpace
	if space.IsBinary() {
		if setpoint > c.cfg.BaselineSetpointThreshold {
			return space.Max()
		}
		return space.Min()
	}
	best := space[0]
	bestDist := math.Inf(1)
	for _, action := range space {
		mapped, ok := c.deps.Dispatcher.SetpointFor(deviceID, action)
		if !ok {
			continue
		}
		if d := math.Abs(mapped - setpoint); d < bestDist {
			best, bestDist = action, d
		}
	}
	return best
}
