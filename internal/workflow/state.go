package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
)

// State is the data passed between nodes. Values must survive a JSON round
// trip since every step is checkpointed.
type State map[string]any

// String returns the string stored at key, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Decode converts the value at key into v through its JSON form.
func (s State) Decode(key string, v any) error {
	raw, ok := s[key]
	if !ok {
		return fmt.Errorf("state has no %q", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode state %q: %w", key, err)
	}
	return nil
}

func (s State) clone() (State, error) {
	if s == nil {
		return State{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	out := State{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}

type MergePolicy int

const (
	// Overwrite replaces the previous value. It is the default.
	Overwrite MergePolicy = iota
	// Append concatenates list values, so several nodes can contribute to
	// the same field.
	Append
)

// Policies declares how each state field merges. Fields not listed are
// overwritten.
type Policies map[string]MergePolicy

// Merge applies delta on top of base and returns a new state. base is not
// modified.
func (p Policies) Merge(base, delta State) (State, error) {
	out := make(State, len(base)+len(delta))
	maps.Copy(out, base)

	for key, value := range delta {
		if p[key] != Append {
			out[key] = value
			continue
		}

		existing, err := asList(out[key])
		if err != nil {
			return nil, fmt.Errorf("merge %q: %w", key, err)
		}
		added, err := asList(value)
		if err != nil {
			return nil, fmt.Errorf("merge %q: %w", key, err)
		}
		out[key] = append(existing, added...)
	}
	return out, nil
}

func asList(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var list []any
	if err := json.Unmarshal(data, &list); err != nil {
		var single any
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		return []any{single}, nil
	}
	return list, nil
}
