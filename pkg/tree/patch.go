package tree

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/k2bd/firebasil.go/pkg/path"
)

// ApplyPut returns a new root with the subtree at the given path replaced by
// data. A null (or nil) data deletes the subtree; a mapping left empty by a
// deletion is pruned, so absence and null stay indistinguishable. Missing
// intermediate locations are created as mappings when writing a non-null
// value.
//
// The input root is not modified; the result shares unchanged subtrees with
// it.
func ApplyPut(root *Value, at path.Path, data *Value) *Value {
	if data.IsNull() {
		data = nil
	}
	return putAt(root, at.Segments(), data)
}

func putAt(node *Value, segs []string, data *Value) *Value {
	if len(segs) == 0 {
		return data
	}
	key := segs[0]

	var existing *Value
	isMap := node != nil && node.kind == KindMap
	if isMap {
		existing = node.kids[key]
	}

	newChild := putAt(existing, segs[1:], data)

	if newChild == nil {
		if !isMap {
			// Nothing at this location to delete under.
			return node
		}
		if _, ok := node.kids[key]; !ok {
			return node
		}
		if len(node.kids) == 1 {
			return nil
		}
		keys := make([]string, 0, len(node.keys)-1)
		for _, k := range node.keys {
			if k != key {
				keys = append(keys, k)
			}
		}
		kids := make(map[string]*Value, len(node.kids)-1)
		for k, v := range node.kids {
			if k != key {
				kids[k] = v
			}
		}
		return &Value{kind: KindMap, keys: keys, kids: kids}
	}

	if !isMap {
		// Replace whatever was here (scalar or nothing) with a fresh mapping.
		return &Value{
			kind: KindMap,
			keys: []string{key},
			kids: map[string]*Value{key: newChild},
		}
	}

	keys := make([]string, len(node.keys))
	copy(keys, node.keys)
	if _, ok := node.kids[key]; !ok {
		keys = append(keys, key)
	}
	kids := make(map[string]*Value, len(node.kids)+1)
	for k, v := range node.kids {
		kids[k] = v
	}
	kids[key] = newChild

	return &Value{kind: KindMap, keys: keys, kids: kids}
}

// DecodePatch parses the JSON payload of a patch delta. Unlike Decode, null
// members are kept at the top level, because in a patch a null value is an
// instruction to delete that key rather than data to store.
func DecodePatch(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decoding patch: data must be an object, got %v", tok)
	}

	v := &Value{kind: KindMap, kids: map[string]*Value{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding patch: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decoding patch: unexpected object key %v", keyTok)
		}
		child, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("decoding patch: %w", err)
		}
		if child == nil {
			child = &Value{kind: KindNull}
		}
		if _, exists := v.kids[key]; !exists {
			v.keys = append(v.keys, key)
		}
		v.kids[key] = child
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	return v, nil
}

// ApplyPatch shallow-merges a mapping of updates into the subtree at the
// given path: each top-level key of patch is applied as a put at that key's
// location, and keys not mentioned are left alone. Keys may themselves be
// multi-segment relative paths ("a/b"), which is how the database delivers
// multi-location updates.
//
// It fails if patch is not a mapping or if a key does not parse as a
// relative path.
func ApplyPatch(root *Value, at path.Path, patch *Value) (*Value, error) {
	if patch.Kind() != KindMap {
		return nil, fmt.Errorf("patch data must be a mapping, got %v", patch.Kind())
	}
	out := root
	for _, key := range patch.keys {
		rel, err := path.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("patch key %q: %w", key, err)
		}
		out = ApplyPut(out, at.Join(rel), patch.kids[key])
	}
	return out, nil
}

// ReadAt returns the value at the given path, or false if any intermediate
// location is absent or not a mapping.
func ReadAt(root *Value, at path.Path) (*Value, bool) {
	node := root
	for _, seg := range at.Segments() {
		if node == nil || node.kind != KindMap {
			return nil, false
		}
		child, ok := node.kids[seg]
		if !ok {
			return nil, false
		}
		node = child
	}
	if node == nil {
		return nil, false
	}
	return node, true
}
