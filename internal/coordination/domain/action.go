package coordination

import "fmt"

// Action is a discrete control action; larger actions draw more power.
type Action int

// ActionSpace is the ordered set of actions available to every device.
type ActionSpace []Action

// Validate checks the action space is non-empty with distinct values.
func (s ActionSpace) Validate() error {
	if len(s) == 0 {
		return ErrEmptyActionSpace
	}
	seen := make(map[Action]struct{}, len(s))
	for _, a := range s {
		if _, ok := seen[a]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateAction, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// Index returns the position of a in the action space.
func (s ActionSpace) Index(a Action) (int, bool) {
	for i, candidate := range s {
		if candidate == a {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether a is part of the action space.
func (s ActionSpace) Contains(a Action) bool {
	_, ok := s.Index(a)
	return ok
}

// Min returns the most power-reducing action.
func (s ActionSpace) Min() Action {
	m := s[0]
	for _, a := range s[1:] {
		if a < m {
			m = a
		}
	}
	return m
}

// Max returns the most power-increasing action.
func (s ActionSpace) Max() Action {
	m := s[0]
	for _, a := range s[1:] {
		if a > m {
			m = a
		}
	}
	return m
}

// IsBinary reports whether the action space holds exactly two actions.
func (s ActionSpace) IsBinary() bool { return len(s) == 2 }
