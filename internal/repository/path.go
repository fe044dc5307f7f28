package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// storePath is a parsed path. Key and Field are empty for shallower paths.
type storePath struct {
	Node  string
	Key   string
	Field string
}

func (p storePath) depth() int {
	switch {
	case p.Field != "":
		return 3
	case p.Key != "":
		return 2
	default:
		return 1
	}
}

func parsePath(raw string) (storePath, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return storePath{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 3 {
		return storePath{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	for _, part := range parts {
		if part == "" {
			return storePath{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
		}
	}

	p := storePath{Node: parts[0]}
	if len(parts) > 1 {
		p.Key = parts[1]
	}
	if len(parts) > 2 {
		p.Field = parts[2]
	}
	return p, nil
}

type opKind int

const (
	opReplaceNode opKind = iota
	opPutChild
	opDeleteChild
	opPatchField
)

// op is one primitive write. Body nil on opPatchField deletes the field.
type op struct {
	kind     opKind
	node     string
	key      string
	field    string
	body     json.RawMessage
	children map[string]json.RawMessage
}

var jsonNull = []byte("null")

func encodeValue(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	if bytes.Equal(data, jsonNull) {
		return nil, nil
	}
	return data, nil
}

// planWrite compiles a single path write into ops.
func planWrite(raw string, value any) ([]op, error) {
	p, err := parsePath(raw)
	if err != nil {
		return nil, err
	}

	body, err := encodeValue(value)
	if err != nil {
		return nil, err
	}

	switch p.depth() {
	case 1:
		var children map[string]json.RawMessage
		if body != nil {
			if err := json.Unmarshal(body, &children); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidValue, raw)
			}
		}
		return []op{{kind: opReplaceNode, node: p.Node, children: children}}, nil
	case 2:
		if body == nil {
			return []op{{kind: opDeleteChild, node: p.Node, key: p.Key}}, nil
		}
		return []op{{kind: opPutChild, node: p.Node, key: p.Key, body: body}}, nil
	default:
		return []op{{kind: opPatchField, node: p.Node, key: p.Key, field: p.Field, body: body}}, nil
	}
}

// planUpdate compiles a multi-path patch. Paths are applied in lexical order.
func planUpdate(updates map[string]any) ([]op, error) {
	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var ops []op
	for _, path := range paths {
		planned, err := planWrite(path, updates[path])
		if err != nil {
			return nil, err
		}
		ops = append(ops, planned...)
	}
	return ops, nil
}

// childStore is the primitive storage a backend exposes inside one write transaction.
type childStore interface {
	loadChild(node, key string) (json.RawMessage, bool, error)
	putChild(node, key string, body json.RawMessage) error
	deleteChild(node, key string) error
	clearNode(node string) error
}

// applyOps runs ops against cs and returns the touched nodes in first-touch order.
// Reads observe earlier writes of the same batch even when cs queues its writes.
func applyOps(cs childStore, ops []op) ([]string, error) {
	overlay := make(map[string]map[string]json.RawMessage)
	cleared := make(map[string]bool)
	var touched []string
	seen := make(map[string]bool)

	touch := func(node string) {
		if !seen[node] {
			seen[node] = true
			touched = append(touched, node)
		}
	}
	remember := func(node, key string, body json.RawMessage) {
		if overlay[node] == nil {
			overlay[node] = make(map[string]json.RawMessage)
		}
		overlay[node][key] = body
	}
	load := func(node, key string) (json.RawMessage, bool, error) {
		if children, ok := overlay[node]; ok {
			if body, ok := children[key]; ok {
				return body, body != nil, nil
			}
		}
		if cleared[node] {
			return nil, false, nil
		}
		return cs.loadChild(node, key)
	}

	for _, o := range ops {
		switch o.kind {
		case opReplaceNode:
			if err := cs.clearNode(o.node); err != nil {
				return nil, err
			}
			cleared[o.node] = true
			delete(overlay, o.node)
			keys := make([]string, 0, len(o.children))
			for key := range o.children {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				body := o.children[key]
				if bytes.Equal(body, jsonNull) {
					continue
				}
				if err := cs.putChild(o.node, key, body); err != nil {
					return nil, err
				}
				remember(o.node, key, body)
			}
			touch(o.node)

		case opPutChild:
			if err := cs.putChild(o.node, o.key, o.body); err != nil {
				return nil, err
			}
			remember(o.node, o.key, o.body)
			touch(o.node)

		case opDeleteChild:
			if err := cs.deleteChild(o.node, o.key); err != nil {
				return nil, err
			}
			remember(o.node, o.key, nil)
			touch(o.node)

		case opPatchField:
			current, ok, err := load(o.node, o.key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			patched, err := patchField(current, o.field, o.body)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", o.node, o.key, err)
			}
			if err := cs.putChild(o.node, o.key, patched); err != nil {
				return nil, err
			}
			remember(o.node, o.key, patched)
			touch(o.node)
		}
	}

	return touched, nil
}

// patchField sets or, for a nil body, deletes one field of an encoded object.
func patchField(record json.RawMessage, field string, body json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, ErrInvalidValue
	}
	if body == nil {
		delete(fields, field)
	} else {
		fields[field] = body
	}
	return json.Marshal(fields)
}

func cloneSnapshot(children map[string]json.RawMessage) Snapshot {
	snap := make(Snapshot, len(children))
	for key, body := range children {
		snap[key] = append(json.RawMessage(nil), body...)
	}
	return snap
}

func snapshotsEqual(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for key, body := range a {
		other, ok := b[key]
		if !ok || !bytes.Equal(body, other) {
			return false
		}
	}
	return true
}
