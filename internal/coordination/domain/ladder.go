package coordination

import "fmt"

// Ladder maps every response level to a full per-device action assignment.
// Level 0 is the baseline; positive levels consume Ranking.Up, negative levels Ranking.Down.
type Ladder struct {
	levels map[int]map[string]Action
	min    int
	max    int
}

// BuildLadder derives the ladder from the baseline assignment and a ranking.
func BuildLadder(baseline map[string]Action, ranking Ranking) *Ladder {
	l := &Ladder{
		levels: make(map[int]map[string]Action, len(ranking.Up)+len(ranking.Down)+1),
		min:    -len(ranking.Down),
		max:    len(ranking.Up),
	}
	for level := l.min; level <= l.max; level++ {
		actions := copyActions(baseline)
		bucket := ranking.Up
		n := level
		if level < 0 {
			bucket = ranking.Down
			n = -level
		}
		for i := 0; i < n; i++ {
			actions[bucket[i].DeviceID] = bucket[i].Action
		}
		l.levels[level] = actions
	}
	return l
}

// Range returns the lowest and highest valid levels.
func (l *Ladder) Range() (int, int) { return l.min, l.max }

// Clamp bounds level to the ladder range and reports whether it saturated.
func (l *Ladder) Clamp(level int) (int, bool) {
	if level > l.max {
		return l.max, true
	}
	if level < l.min {
		return l.min, true
	}
	return level, false
}

// Actions returns a copy of the assignment for level.
func (l *Ladder) Actions(level int) (map[string]Action, error) {
	actions, ok := l.levels[level]
	if !ok {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrLevelOutOfRange, level, l.min, l.max)
	}
	return copyActions(actions), nil
}

func copyActions(in map[string]Action) map[string]Action {
	out := make(map[string]Action, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
