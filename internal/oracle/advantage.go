package oracle

import (
	"context"
	"errors"
	"fmt"

	coordination "dr-coordinator/internal/coordination/domain"
)

// AdvantageFunction scores actions relative to the value of the baseline
// action in the baseline state.
type AdvantageFunction struct {
	model *LinearModel
	// order[i] is the model position of the i-th action of the action space.
	order         []int
	baselineValue float64
}

// NewAdvantageFunction anchors model on the baseline state and action. The
// model must cover exactly the actions of space.
func NewAdvantageFunction(model *LinearModel, space coordination.ActionSpace, baseline coordination.DeviceState, baselineAction coordination.Action) (*AdvantageFunction, error) {
	if model == nil {
		return nil, errors.New("oracle: nil model")
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if !space.Contains(baselineAction) {
		return nil, fmt.Errorf("%w: baseline action %d not in %v", coordination.ErrUnknownAction, baselineAction, space)
	}
	order, err := model.Order(space)
	if err != nil {
		return nil, err
	}
	idx, _ := model.ActionIndex(baselineAction)
	q, err := model.Q(baseline.Features())
	if err != nil {
		return nil, err
	}
	return &AdvantageFunction{model: model, order: order, baselineValue: q[idx]}, nil
}

// Score returns q(state) minus the baseline value in action space order.
func (f *AdvantageFunction) Score(_ context.Context, state coordination.DeviceState) ([]float64, error) {
	q, err := f.model.Q(state.Features())
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(f.order))
	for i, idx := range f.order {
		scores[i] = q[idx] - f.baselineValue
	}
	return scores, nil
}

// Resolver builds one advantage oracle per device from the model store.
type Resolver struct {
	store *Store
	space coordination.ActionSpace
}

// NewResolver constructs a Resolver scoring actions in space order.
func NewResolver(store *Store, space coordination.ActionSpace) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("oracle resolver: nil store")
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{store: store, space: space}, nil
}

// Resolve loads the newest model of deviceID and anchors it on the baseline.
func (r *Resolver) Resolve(_ context.Context, deviceID string, baseline coordination.DeviceState, baselineAction coordination.Action) (coordination.Oracle, error) {
	model, err := r.store.Latest(deviceID)
	if err != nil {
		return nil, err
	}
	fn, err := NewAdvantageFunction(model, r.space, baseline, baselineAction)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	return fn, nil
}
