package oracle

import (
	"errors"
	"fmt"

	coordination "dr-coordinator/internal/coordination/domain"
)

var (
	// ErrModelNotFound indicates no model folder for a device.
	ErrModelNotFound = errors.New("oracle: model not found")
	// ErrInvalidModel indicates a malformed model file.
	ErrInvalidModel = errors.New("oracle: invalid model")
)

// LinearModel is a per-action linear value model over DeviceState features:
// q[a] = Bias[a] + Σ Weights[a][i]·x[i].
type LinearModel struct {
	DeviceID string      `json:"device_id"`
	Actions  []int       `json:"actions"`
	Bias     []float64   `json:"bias"`
	Weights  [][]float64 `json:"weights"`
}

// Validate checks the model shape.
func (m *LinearModel) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalidModel)
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("%w: no actions", ErrInvalidModel)
	}
	if len(m.Bias) != len(m.Actions) || len(m.Weights) != len(m.Actions) {
		return fmt.Errorf("%w: %d actions, %d biases, %d weight rows", ErrInvalidModel, len(m.Actions), len(m.Bias), len(m.Weights))
	}
	width := len(m.Weights[0])
	for i, row := range m.Weights {
		if len(row) != width {
			return fmt.Errorf("%w: weight row %d has %d entries, expected %d", ErrInvalidModel, i, len(row), width)
		}
	}
	return nil
}

// Q evaluates the model for a feature vector.
func (m *LinearModel) Q(features []float64) ([]float64, error) {
	if len(m.Weights) == 0 || len(features) != len(m.Weights[0]) {
		return nil, fmt.Errorf("%w: got %d features", ErrInvalidModel, len(features))
	}
	out := make([]float64, len(m.Actions))
	for a, row := range m.Weights {
		q := m.Bias[a]
		for i, w := range row {
			q += w * features[i]
		}
		out[a] = q
	}
	return out, nil
}

// Order maps every action of space to its model position. The model must
// cover exactly the actions of space, in any order.
func (m *LinearModel) Order(space coordination.ActionSpace) ([]int, error) {
	if len(m.Actions) != len(space) {
		return nil, fmt.Errorf("%w: model actions %v, action space %v", coordination.ErrActionSpaceMismatch, m.Actions, space)
	}
	order := make([]int, len(space))
	for i, action := range space {
		idx, ok := m.ActionIndex(action)
		if !ok {
			return nil, fmt.Errorf("%w: model actions %v miss action %d", coordination.ErrActionSpaceMismatch, m.Actions, action)
		}
		order[i] = idx
	}
	return order, nil
}

// ActionIndex returns the model position of an action.
func (m *LinearModel) ActionIndex(action coordination.Action) (int, bool) {
	for i, a := range m.Actions {
		if coordination.Action(a) == action {
			return i, true
		}
	}
	return -1, false
}
