package notify

import (
	"context"
	"errors"

	coordination "dr-coordinator/internal/coordination/domain"
)

// OutcomeNotifier receives the final state of an event.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, run coordination.Run) error
}

// MultiNotifier fans an outcome out to several notifiers.
type MultiNotifier struct {
	notifiers []OutcomeNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...OutcomeNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// NotifyOutcome forwards the run to every notifier and joins their errors.
func (m *MultiNotifier) NotifyOutcome(ctx context.Context, run coordination.Run) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.NotifyOutcome(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
