package agentgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
)

// resolveResume maps a checkpoint's node path onto the strategy tree and
// decodes the stored input into the type the target node consumes.
//
// The returned segments exclude the root strategy name: for
// "root/sub/node" they are ["sub", "node"], where "sub" must be a
// subgraph node of root and "node" a node of its child strategy.
func (s *Strategy) resolveResume(cp *persistence.Checkpoint) ([]string, any, error) {
	fail := func(err error) ([]string, any, error) {
		return nil, nil, &ResumeError{CheckpointID: cp.ID, NodeID: cp.NodeID, Err: err}
	}
	if cp.Tombstone {
		return fail(ErrTombstone)
	}

	segments := strings.Split(cp.NodeID, pathSeparator)
	if len(segments) < 2 || segments[0] != s.name {
		return fail(fmt.Errorf("%w: %q is not a path of strategy %s", ErrInvalidResumeNode, cp.NodeID, s.name))
	}
	segments = segments[1:]

	cur := s
	var target *node
	for i, seg := range segments {
		idx, ok := cur.index[seg]
		if !ok {
			return fail(fmt.Errorf("%w: no node %q in strategy %s", ErrInvalidResumeNode, seg, cur.name))
		}
		target = &cur.nodes[idx]
		if i < len(segments)-1 {
			if target.kind != kindSubgraph {
				return fail(fmt.Errorf("%w: %q is not a subgraph", ErrInvalidResumeNode, seg))
			}
			cur = target.child
		}
	}

	input, err := decodeInput(target.in, cp.LastInput)
	if err != nil {
		return fail(fmt.Errorf("decode input for %s: %w", target.name, err))
	}
	return segments, input, nil
}

// decodeInput unmarshals raw into a fresh value of type t.
func decodeInput(t reflect.Type, raw json.RawMessage) (any, error) {
	ptr := reflect.New(t)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, err
		}
	}
	return ptr.Elem().Interface(), nil
}

// decodeFinal converts a finish tool's payload for the finish node. Raw
// JSON is decoded unless the finish node takes raw JSON or an interface
// the raw message already satisfies. A string finish node receives
// non-string JSON as its text.
func decodeFinal(t reflect.Type, v any) (any, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if reflect.TypeOf(raw).AssignableTo(t) {
			return raw, nil
		}
		if t.Kind() == reflect.String && (len(raw) == 0 || raw[0] != '"') {
			return reflect.ValueOf(string(raw)).Convert(t).Interface(), nil
		}
		return decodeInput(t, raw)
	}
	if v == nil {
		return reflect.Zero(t).Interface(), nil
	}
	if rv := reflect.ValueOf(v); !rv.Type().AssignableTo(t) {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, t, rv.Type())
	}
	return v, nil
}
